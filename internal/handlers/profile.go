package handlers

import (
	"net/http"

	"github.com/matrixkeep/homeserver/internal/merror"
	"github.com/matrixkeep/homeserver/internal/mxid"
	"github.com/matrixkeep/homeserver/internal/user"
)

// profileFields are the profile keys clients may read and write through
// the profile endpoints.
var profileFields = map[string]bool{
	"displayname": true,
	"avatar_url":  true,
}

// HandleProfile implements GET /_matrix/client/v3/profile/{userId}: the
// whole profile of any local user. Reading a profile needs no
// authentication.
func (d *Deps) HandleProfile(w http.ResponseWriter, r *http.Request, matches []string) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if len(matches) < 1 {
		writeError(w, merror.New(merror.Unrecognized).WithStatus(http.StatusBadRequest))
		return
	}
	localpart, ok := d.localUser(matches[0])
	if !ok {
		writeError(w, merror.New(merror.NotFound, "unknown user"))
		return
	}

	u, ref, err := d.Users.Lock(localpart)
	if err != nil {
		writeError(w, merror.New(merror.NotFound, "unknown user"))
		return
	}
	defer func() { _ = d.Users.Unlock(u, ref) }()
	if u.Deactivated {
		writeError(w, merror.New(merror.NotFound, "unknown user"))
		return
	}

	out := map[string]any{}
	for field := range profileFields {
		if v, ok := user.GetProfile(u)[field]; ok {
			out[field] = v
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleProfileField implements GET/PUT
// /_matrix/client/v3/profile/{userId}/{field} for displayname and
// avatar_url. PUT requires the caller to be the profile's owner.
func (d *Deps) HandleProfileField(w http.ResponseWriter, r *http.Request, matches []string) {
	if !requireMethod(w, r, http.MethodGet, http.MethodPut) {
		return
	}
	if len(matches) < 2 {
		writeError(w, merror.New(merror.Unrecognized).WithStatus(http.StatusBadRequest))
		return
	}
	field := matches[1]
	if !profileFields[field] {
		writeError(w, merror.New(merror.Unrecognized, "unknown profile field").WithStatus(http.StatusBadRequest))
		return
	}
	localpart, ok := d.localUser(matches[0])
	if !ok {
		writeError(w, merror.New(merror.NotFound, "unknown user"))
		return
	}

	if r.Method == http.MethodGet {
		u, ref, err := d.Users.Lock(localpart)
		if err != nil {
			writeError(w, merror.New(merror.NotFound, "unknown user"))
			return
		}
		defer func() { _ = d.Users.Unlock(u, ref) }()
		v, ok := user.GetProfile(u)[field]
		if !ok {
			writeError(w, merror.New(merror.NotFound, "profile field not set"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{field: v})
		return
	}

	a, ok := d.authenticate(w, r)
	if !ok {
		return
	}
	defer func() { _ = d.Auth.Release(a) }()

	if a.User.Localpart != localpart {
		writeError(w, merror.New(merror.Forbidden, "cannot set another user's profile"))
		return
	}

	var raw map[string]any
	if merr := decodeJSON(r, &raw); merr != nil {
		writeError(w, merr)
		return
	}
	value, ok := raw[field].(string)
	if !ok {
		writeError(w, merror.New(merror.BadJSON, field+" must be a string"))
		return
	}
	user.SetProfile(a.User, field, value)
	writeJSON(w, http.StatusOK, map[string]any{})
}

// localUser resolves a path userId (full @user:server or bare localpart)
// to a localpart on this server.
func (d *Deps) localUser(pathUserID string) (string, bool) {
	id, err := mxid.Parse(pathUserID, true)
	if err != nil {
		return "", false
	}
	if id.Sigil == mxid.SigilNone {
		return id.Local, true
	}
	if id.Sigil != mxid.SigilUser {
		return "", false
	}
	if !mxid.ServerPartEquals(id.Server, d.serverName(), 443) {
		return "", false
	}
	return id.Local, true
}
