package handlers

import (
	"net/http"

	"github.com/matrixkeep/homeserver/internal/merror"
	"github.com/matrixkeep/homeserver/internal/mxid"
	"github.com/matrixkeep/homeserver/internal/schema"
	"github.com/matrixkeep/homeserver/internal/token"
	"github.com/matrixkeep/homeserver/internal/user"
)

type loginRequest struct {
	Type       string `json:"type"`
	Identifier struct {
		Type string `json:"type"`
		User string `json:"user"`
	} `json:"identifier"`
	User               string `json:"user"` // legacy top-level field
	Password           string `json:"password"`
	DeviceID           string `json:"device_id"`
	InitialDeviceName  string `json:"initial_device_display_name"`
	RefreshTokenWanted bool   `json:"refresh_token"`
}

func (req *loginRequest) localpart() string {
	if req.Identifier.User != "" {
		return req.Identifier.User
	}
	return req.User
}

// HandleLogin implements POST /_matrix/client/v3/login: password login,
// minting access and (on request) refresh tokens.
func (d *Deps) HandleLogin(w http.ResponseWriter, r *http.Request, matches []string) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req loginRequest
	if merr := decodeJSON(r, &req); merr != nil {
		writeError(w, merr)
		return
	}
	if req.Type != "" && req.Type != "m.login.password" {
		writeError(w, merror.New(merror.Unrecognized, "unsupported login type").WithStatus(http.StatusBadRequest))
		return
	}

	localpart := req.localpart()
	id, err := mxid.Parse(localpart, true)
	if err != nil {
		writeError(w, merror.New(merror.Forbidden, "invalid user identifier").WithStatus(http.StatusForbidden))
		return
	}
	localpart = id.Local

	u, ref, err := d.Users.Lock(localpart)
	if err != nil {
		writeError(w, merror.New(merror.Forbidden, "invalid username or password").WithStatus(http.StatusForbidden))
		return
	}
	defer func() { _ = d.Users.Unlock(u, ref) }()

	if u.Deactivated || !user.CheckPassword(u, req.Password) {
		writeError(w, merror.New(merror.Forbidden, "invalid username or password").WithStatus(http.StatusForbidden))
		return
	}

	deviceID := req.DeviceID
	if deviceID == "" {
		gen, genErr := token.GenerateString()
		if genErr != nil {
			writeError(w, merror.New(merror.Unknown))
			return
		}
		deviceID = gen[:10]
	}

	lifetime := uint64(0)
	if req.RefreshTokenWanted {
		lifetime = AccessTokenLifetime
	}
	minted, err := d.Tokens.Mint(localpart, deviceID, lifetime, req.RefreshTokenWanted)
	if err != nil {
		writeError(w, merror.New(merror.Unknown))
		return
	}

	user.SetDevice(u, deviceID, schema.Device{
		AccessToken:  minted.AccessToken,
		RefreshToken: minted.RefreshToken,
		DisplayName:  req.InitialDeviceName,
		LastSeen:     minted.IssuedAt,
	})

	serverName := d.serverName()
	body := map[string]any{
		"user_id":      mxid.Format(mxid.SigilUser, localpart, serverName),
		"access_token": minted.AccessToken,
		"device_id":    deviceID,
		"home_server":  serverName,
	}
	if minted.RefreshToken != "" {
		body["refresh_token"] = minted.RefreshToken
		body["expires_in_ms"] = minted.Lifetime
	}
	writeJSON(w, http.StatusOK, body)
}

func (d *Deps) serverName() string {
	h, err := d.Config.Lock()
	if err != nil || h.Err != "" {
		return "localhost"
	}
	defer func() { _ = d.Config.Unlock(h) }()
	return h.Config.ServerName
}

// HandleLogout implements POST /_matrix/client/v3/logout: revoke only the
// current device's access and refresh tokens.
func (d *Deps) HandleLogout(w http.ResponseWriter, r *http.Request, matches []string) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	a, ok := d.authenticate(w, r)
	if !ok {
		return
	}
	defer func() { _ = d.Auth.Release(a) }()

	for deviceID, dev := range a.User.Devices {
		if dev.AccessToken != a.AccessToken {
			continue
		}
		if dev.RefreshToken != "" {
			_ = d.Tokens.RevokeRefresh(dev.RefreshToken)
		}
		_ = d.Tokens.Revoke(dev.AccessToken)
		delete(a.User.Devices, deviceID)
		break
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

// HandleLogoutAll implements POST /_matrix/client/v3/logout/all: revoke
// every device's tokens.
func (d *Deps) HandleLogoutAll(w http.ResponseWriter, r *http.Request, matches []string) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	a, ok := d.authenticate(w, r)
	if !ok {
		return
	}
	defer func() { _ = d.Auth.Release(a) }()

	if err := user.DeleteTokens(d.Tokens, a.User, ""); err != nil {
		writeError(w, merror.New(merror.Unknown))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}
