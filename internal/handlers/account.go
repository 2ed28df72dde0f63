package handlers

import (
	"net/http"

	"github.com/matrixkeep/homeserver/internal/merror"
	"github.com/matrixkeep/homeserver/internal/mxid"
	"github.com/matrixkeep/homeserver/internal/uia"
	"github.com/matrixkeep/homeserver/internal/user"
)

// accountFlows advertises m.login.password as the single UIA flow
// gating sensitive account endpoints (password change, deactivation).
func accountFlows() []uia.Flow {
	return []uia.Flow{{uia.StagePassword}}
}

// HandleAccountPassword implements POST
// /_matrix/client/v3/account/password: UIA-gated password change;
// logout_devices (default true) revokes all other tokens.
//
// The caller's user lock is released before UIA runs: the m.login.password
// stage locks the very same user record to verify the password, and the
// store allows only one live ref per path.
func (d *Deps) HandleAccountPassword(w http.ResponseWriter, r *http.Request, matches []string) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	a, ok := d.authenticate(w, r)
	if !ok {
		return
	}
	localpart := a.User.Localpart
	currentToken := a.AccessToken
	if err := d.Auth.Release(a); err != nil {
		writeError(w, merror.New(merror.Unknown))
		return
	}

	var raw map[string]any
	if merr := decodeJSON(r, &raw); merr != nil {
		writeError(w, merr)
		return
	}
	newPassword, _ := raw["new_password"].(string)
	logoutDevices := true
	if v, ok := raw["logout_devices"].(bool); ok {
		logoutDevices = v
	}

	authReq := parseAuthBlock(raw)
	result, err := d.UIA.Complete(accountFlows(), authReq)
	if err != nil {
		writeError(w, merror.New(merror.Unknown))
		return
	}
	if !result.Done {
		writeJSON(w, result.Status, result.Body)
		return
	}

	u, ref, err := d.Users.Lock(localpart)
	if err != nil {
		writeError(w, merror.New(merror.Unknown))
		return
	}
	defer func() { _ = d.Users.Unlock(u, ref) }()

	if err := user.SetPassword(u, newPassword); err != nil {
		writeError(w, merror.New(merror.Unknown))
		return
	}
	if logoutDevices {
		if err := user.DeleteTokens(d.Tokens, u, currentToken); err != nil {
			writeError(w, merror.New(merror.Unknown))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

// HandleAccountDeactivate implements POST
// /_matrix/client/v3/account/deactivate: UIA-gated; wipes tokens and sets
// deactivated.
func (d *Deps) HandleAccountDeactivate(w http.ResponseWriter, r *http.Request, matches []string) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	a, ok := d.authenticate(w, r)
	if !ok {
		return
	}
	localpart := a.User.Localpart
	if err := d.Auth.Release(a); err != nil {
		writeError(w, merror.New(merror.Unknown))
		return
	}

	var raw map[string]any
	if merr := decodeJSON(r, &raw); merr != nil {
		writeError(w, merr)
		return
	}

	authReq := parseAuthBlock(raw)
	result, err := d.UIA.Complete(accountFlows(), authReq)
	if err != nil {
		writeError(w, merror.New(merror.Unknown))
		return
	}
	if !result.Done {
		writeJSON(w, result.Status, result.Body)
		return
	}

	u, ref, err := d.Users.Lock(localpart)
	if err != nil {
		writeError(w, merror.New(merror.Unknown))
		return
	}
	defer func() { _ = d.Users.Unlock(u, ref) }()

	if err := user.DeleteTokens(d.Tokens, u, ""); err != nil {
		writeError(w, merror.New(merror.Unknown))
		return
	}
	user.Deactivate(u, u.Localpart, "user requested")
	writeJSON(w, http.StatusOK, map[string]any{})
}

// HandleWhoami implements GET /_matrix/client/v3/account/whoami:
// {user_id, device_id}.
func (d *Deps) HandleWhoami(w http.ResponseWriter, r *http.Request, matches []string) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	a, ok := d.authenticate(w, r)
	if !ok {
		return
	}
	defer func() { _ = d.Auth.Release(a) }()

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":   mxid.Format(mxid.SigilUser, a.User.Localpart, d.serverName()),
		"device_id": a.Device,
	})
}
