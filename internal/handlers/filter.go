package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"

	"github.com/matrixkeep/homeserver/internal/merror"
	"github.com/matrixkeep/homeserver/internal/mxid"
	"github.com/matrixkeep/homeserver/internal/objstore"
	"github.com/matrixkeep/homeserver/internal/schema"
)

func newFilterID() (string, error) {
	buf := make([]byte, 9)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HandleFilterCreate implements POST
// /_matrix/client/v3/user/{userId}/filter: validate and store a filter;
// return its id.
func (d *Deps) HandleFilterCreate(w http.ResponseWriter, r *http.Request, matches []string) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	a, ok := d.authenticate(w, r)
	if !ok {
		return
	}
	defer func() { _ = d.Auth.Release(a) }()

	if len(matches) < 1 {
		writeError(w, merror.New(merror.Unrecognized).WithStatus(http.StatusBadRequest))
		return
	}
	if !requestedUserIsSelf(matches[0], a.User.Localpart, d.serverName()) {
		writeError(w, merror.New(merror.Forbidden, "cannot set filters for another user"))
		return
	}

	var raw map[string]any
	if merr := decodeJSON(r, &raw); merr != nil {
		writeError(w, merr)
		return
	}
	filter, err := schema.FilterFromJSON(raw)
	if err != nil {
		writeError(w, merror.New(merror.BadJSON, err.Error()))
		return
	}

	id, err := newFilterID()
	if err != nil {
		writeError(w, merror.New(merror.Unknown))
		return
	}

	ref, err := d.Store.Create(objstore.Path{"filters", a.User.Localpart, id})
	if err != nil {
		writeError(w, merror.New(merror.Unknown))
		return
	}
	ref.SetJSON(filter.ToJSON())
	if err := d.Store.Unlock(ref); err != nil {
		writeError(w, merror.New(merror.Unknown))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"filter_id": id})
}

// HandleFilterGet implements GET
// /_matrix/client/v3/user/{userId}/filter/{filterId}.
func (d *Deps) HandleFilterGet(w http.ResponseWriter, r *http.Request, matches []string) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	a, ok := d.authenticate(w, r)
	if !ok {
		return
	}
	defer func() { _ = d.Auth.Release(a) }()

	if len(matches) < 2 {
		writeError(w, merror.New(merror.Unrecognized).WithStatus(http.StatusBadRequest))
		return
	}
	if !requestedUserIsSelf(matches[0], a.User.Localpart, d.serverName()) {
		writeError(w, merror.New(merror.Forbidden, "cannot read filters for another user"))
		return
	}

	ref, err := d.Store.Lock(objstore.Path{"filters", a.User.Localpart, matches[1]})
	if err != nil {
		writeError(w, merror.New(merror.NotFound, "unknown filter"))
		return
	}
	defer func() { _ = d.Store.Unlock(ref) }()

	filter, err := schema.FilterFromJSON(ref.JSON())
	if err != nil {
		writeError(w, merror.New(merror.Unknown))
		return
	}
	writeJSON(w, http.StatusOK, filter.ToJSON())
}

func requestedUserIsSelf(pathUserID, localpart, serverName string) bool {
	id, err := mxid.Parse(pathUserID, true)
	if err != nil {
		return false
	}
	if id.Sigil == mxid.SigilNone {
		return id.Local == localpart
	}
	if id.Sigil != mxid.SigilUser {
		return false
	}
	return id.Local == localpart && mxid.ServerPartEquals(id.Server, serverName, 443)
}
