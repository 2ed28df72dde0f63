package handlers

import (
	"crypto/rand"
	"encoding/base32"
	"strings"

	"net/http"

	"github.com/matrixkeep/homeserver/internal/merror"
	"github.com/matrixkeep/homeserver/internal/mxid"
	"github.com/matrixkeep/homeserver/internal/objstore"
	"github.com/matrixkeep/homeserver/internal/schema"
)

func newRoomID() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)), nil
}

// HandleCreateRoom implements POST /_matrix/client/v3/createRoom:
// validates the request, allocates a room id, writes a placeholder state
// document, and registers any requested alias. Real state resolution
// belongs to the room layer.
func (d *Deps) HandleCreateRoom(w http.ResponseWriter, r *http.Request, matches []string) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	a, ok := d.authenticate(w, r)
	if !ok {
		return
	}
	defer func() { _ = d.Auth.Release(a) }()

	var raw map[string]any
	if merr := decodeJSON(r, &raw); merr != nil {
		writeError(w, merr)
		return
	}
	rc, err := schema.RoomCreateFromJSON(raw)
	if err != nil {
		writeError(w, merror.New(merror.BadJSON, err.Error()))
		return
	}

	idPart, err := newRoomID()
	if err != nil {
		writeError(w, merror.New(merror.Unknown))
		return
	}
	serverName := d.serverName()
	roomID := mxid.Format(mxid.SigilRoom, idPart, serverName)

	ref, err := d.Store.Create(objstore.Path{"rooms", idPart, "state"})
	if err != nil {
		writeError(w, merror.New(merror.Unknown))
		return
	}
	ref.SetJSON(map[string]any{
		"creator":    a.User.Localpart,
		"name":       rc.Name,
		"topic":      rc.Topic,
		"visibility": rc.Visibility,
		"preset":     rc.Preset,
	})
	if err := d.Store.Unlock(ref); err != nil {
		writeError(w, merror.New(merror.Unknown))
		return
	}

	if rc.RoomAlias != "" {
		aliasRef, err := d.Store.Create(objstore.Path{"aliases", rc.RoomAlias})
		if err == nil {
			aliasRef.SetJSON(map[string]any{"room_id": roomID})
			_ = d.Store.Unlock(aliasRef)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"room_id": roomID})
}

// HandleRoomAlias implements
// GET/PUT/DELETE /_matrix/client/v3/directory/room/{roomAlias}:
// bookkeeping over the per-alias documents under `aliases` only; joining or creating the
// aliased room is not handled here.
func (d *Deps) HandleRoomAlias(w http.ResponseWriter, r *http.Request, matches []string) {
	if !requireMethod(w, r, http.MethodGet, http.MethodPut, http.MethodDelete) {
		return
	}
	if len(matches) < 1 || matches[0] == "" {
		writeError(w, merror.New(merror.Unrecognized).WithStatus(http.StatusBadRequest))
		return
	}
	alias := matches[0]

	switch r.Method {
	case http.MethodGet:
		ref, err := d.Store.Lock(objstore.Path{"aliases", alias})
		if err != nil {
			writeError(w, merror.New(merror.NotFound, "room alias not found"))
			return
		}
		defer func() { _ = d.Store.Unlock(ref) }()
		writeJSON(w, http.StatusOK, ref.JSON())

	case http.MethodPut:
		a, ok := d.authenticate(w, r)
		if !ok {
			return
		}
		defer func() { _ = d.Auth.Release(a) }()

		var raw map[string]any
		if merr := decodeJSON(r, &raw); merr != nil {
			writeError(w, merr)
			return
		}
		roomID, _ := raw["room_id"].(string)
		if roomID == "" {
			writeError(w, merror.New(merror.MissingParam, "room_id is required").WithStatus(http.StatusBadRequest))
			return
		}
		ref, err := d.Store.Create(objstore.Path{"aliases", alias})
		if err != nil {
			if err == objstore.ErrExists {
				writeError(w, merror.New(merror.RoomInUse, "room alias already in use"))
				return
			}
			writeError(w, merror.New(merror.Unknown))
			return
		}
		ref.SetJSON(map[string]any{"room_id": roomID})
		if err := d.Store.Unlock(ref); err != nil {
			writeError(w, merror.New(merror.Unknown))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{})

	case http.MethodDelete:
		a, ok := d.authenticate(w, r)
		if !ok {
			return
		}
		defer func() { _ = d.Auth.Release(a) }()

		if !schema.HasPrivilege(a.User.Privileges, schema.PrivAlias) {
			writeError(w, merror.New(merror.Forbidden, "requires alias privilege"))
			return
		}
		if _, err := d.Store.Delete(objstore.Path{"aliases", alias}); err != nil {
			writeError(w, merror.New(merror.NotFound, "room alias not found"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{})
	}
}

// HandleUserDirectorySearch implements POST
// /_matrix/client/v3/user_directory/search: validates shape and returns
// an empty result set.
func (d *Deps) HandleUserDirectorySearch(w http.ResponseWriter, r *http.Request, matches []string) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	a, ok := d.authenticate(w, r)
	if !ok {
		return
	}
	defer func() { _ = d.Auth.Release(a) }()

	var raw map[string]any
	if merr := decodeJSON(r, &raw); merr != nil {
		writeError(w, merr)
		return
	}
	if _, err := schema.UserDirectoryRequestFromJSON(raw); err != nil {
		writeError(w, merror.New(merror.BadJSON, err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results":        []any{},
		"limited":        false,
		"limit_exceeded": false,
	})
}
