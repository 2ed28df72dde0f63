package handlers

import (
	"net/http"

	"github.com/matrixkeep/homeserver/internal/merror"
	"github.com/matrixkeep/homeserver/internal/schema"
	"github.com/matrixkeep/homeserver/internal/token"
	"github.com/matrixkeep/homeserver/internal/user"
)

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// HandleRefresh implements POST /_matrix/client/v3/refresh: refresh-token
// rotation. The handler updates the owning user's device entry to the
// newly minted access token after token.Subsystem.Refresh has completed
// the atomic store-level rotation.
func (d *Deps) HandleRefresh(w http.ResponseWriter, r *http.Request, matches []string) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req refreshRequest
	if merr := decodeJSON(r, &req); merr != nil {
		writeError(w, merr)
		return
	}
	if req.RefreshToken == "" {
		writeError(w, merror.New(merror.MissingParam, "refresh_token is required").WithStatus(http.StatusBadRequest))
		return
	}

	result, err := d.Tokens.Refresh(req.RefreshToken, AccessTokenLifetime)
	if err != nil {
		if err == token.ErrUnknown {
			writeError(w, merror.New(merror.UnknownToken))
			return
		}
		writeError(w, merror.New(merror.Unknown))
		return
	}

	u, ref, err := d.Users.Lock(result.User)
	if err == nil {
		if dev, ok := u.Devices[result.Device]; ok {
			dev.AccessToken = result.NewAccessToken
			user.SetDevice(u, result.Device, schema.Device{
				AccessToken:  result.NewAccessToken,
				RefreshToken: req.RefreshToken,
				DisplayName:  dev.DisplayName,
				LastSeen:     dev.LastSeen,
			})
		}
		_ = d.Users.Unlock(u, ref)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  result.NewAccessToken,
		"expires_in_ms": result.Lifetime,
	})
}
