package handlers

import (
	"net/http"
	"time"

	"github.com/matrixkeep/homeserver/internal/merror"
	"github.com/matrixkeep/homeserver/internal/mxid"
	"github.com/matrixkeep/homeserver/internal/schema"
	"github.com/matrixkeep/homeserver/internal/uia"
	"github.com/matrixkeep/homeserver/internal/user"
)

// registerFlows advertises m.login.dummy and m.login.registration_token as
// independent single-stage flows: satisfying either completes UIA for
// registration.
func registerFlows() []uia.Flow {
	return []uia.Flow{
		{uia.StageDummy},
		{uia.StageRegistrationToken},
	}
}

// HandleRegister implements POST /_matrix/client/v3/register: UIA-gated
// user creation, minting tokens on completion.
func (d *Deps) HandleRegister(w http.ResponseWriter, r *http.Request, matches []string) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	h, err := d.Config.Lock()
	if err == nil && h.Err == "" {
		reg := h.Config.Registration
		_ = d.Config.Unlock(h)
		if !reg {
			writeError(w, merror.New(merror.Forbidden, "registration is disabled").WithStatus(http.StatusForbidden))
			return
		}
	} else if h != nil {
		_ = d.Config.Unlock(h)
	}

	var raw map[string]any
	if merr := decodeJSON(r, &raw); merr != nil {
		writeError(w, merr)
		return
	}

	username, _ := raw["username"].(string)
	password, _ := raw["password"].(string)
	deviceID, _ := raw["device_id"].(string)
	initialDeviceName, _ := raw["initial_device_display_name"].(string)

	authReq := parseAuthBlock(raw)

	result, err := d.UIA.Complete(registerFlows(), authReq)
	if err != nil {
		writeError(w, merror.New(merror.Unknown))
		return
	}
	if !result.Done {
		writeJSON(w, result.Status, result.Body)
		return
	}

	if !mxid.ValidLocalpart(username) {
		writeError(w, merror.New(merror.InvalidUsername))
		return
	}

	grants := schema.PrivNone
	if names, ok := result.Session.Params["registration_token_grants"].([]string); ok {
		grants, _ = schema.DecodePrivileges(names)
	} else if raw, ok := result.Session.Params["registration_token_grants"].([]any); ok {
		names := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok {
				names = append(names, s)
			}
		}
		grants, _ = schema.DecodePrivileges(names)
	}

	_, err = d.Users.Create(username, password, grants)
	if err != nil {
		if err == user.ErrInUse {
			writeError(w, merror.New(merror.UserInUse))
			return
		}
		if err == user.ErrInvalidUsername {
			writeError(w, merror.New(merror.InvalidUsername))
			return
		}
		writeError(w, merror.New(merror.Unknown))
		return
	}

	if deviceID == "" {
		deviceID = "REG" + result.Session.SessionID[:8]
	}
	minted, err := d.Tokens.Mint(username, deviceID, AccessTokenLifetime, true)
	if err != nil {
		writeError(w, merror.New(merror.Unknown))
		return
	}

	lockedU, ref, err := d.Users.Lock(username)
	if err == nil {
		user.SetDevice(lockedU, deviceID, schema.Device{
			AccessToken:  minted.AccessToken,
			RefreshToken: minted.RefreshToken,
			DisplayName:  initialDeviceName,
			LastSeen:     minted.IssuedAt,
		})
		_ = d.Users.Unlock(lockedU, ref)
	}

	serverName := d.serverName()
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":       mxid.Format(mxid.SigilUser, username, serverName),
		"access_token":  minted.AccessToken,
		"refresh_token": minted.RefreshToken,
		"device_id":     deviceID,
		"home_server":   serverName,
		"expires_in_ms": minted.Lifetime,
	})
}

func parseAuthBlock(raw map[string]any) uia.AuthRequest {
	am, ok := raw["auth"].(map[string]any)
	if !ok {
		return uia.AuthRequest{Present: false}
	}
	req := uia.AuthRequest{
		Present: true,
		Fields:  am,
	}
	if t, ok := am["type"].(string); ok {
		req.Type = uia.StageType(t)
	}
	if s, ok := am["session"].(string); ok {
		req.Session = s
	}
	return req
}

// HandleRegistrationTokenValidity implements POST
// /_matrix/client/v1/register/m.login.registration_token/validity: a
// read-only validity probe that does NOT consume a use, unlike the UIA
// stage verifier. GET with a ?token= query parameter is accepted as the
// legacy form.
func (d *Deps) HandleRegistrationTokenValidity(w http.ResponseWriter, r *http.Request, matches []string) {
	if !requireMethod(w, r, http.MethodPost, http.MethodGet) {
		return
	}
	var name string
	if r.Method == http.MethodPost {
		var raw map[string]any
		if merr := decodeJSON(r, &raw); merr != nil {
			writeError(w, merr)
			return
		}
		name, _ = raw["token"].(string)
	} else {
		name = r.URL.Query().Get("token")
	}
	if name == "" {
		writeError(w, merror.New(merror.MissingParam, "token is required").WithStatus(http.StatusBadRequest))
		return
	}

	rt, ref, err := d.Tokens.LockRegistrationToken(name)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false})
		return
	}
	valid := rt.Valid(uint64(time.Now().UnixMilli()))
	_ = d.Tokens.Release(ref)
	writeJSON(w, http.StatusOK, map[string]any{"valid": valid})
}
