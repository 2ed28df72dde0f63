// Package auth composes the token and user subsystems into the bearer
// authentication step every protected handler performs: lock the token,
// resolve the user, verify not-deactivated and not-expired, return the
// locked user.
package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/matrixkeep/homeserver/internal/merror"
	"github.com/matrixkeep/homeserver/internal/objstore"
	"github.com/matrixkeep/homeserver/internal/schema"
	"github.com/matrixkeep/homeserver/internal/token"
	"github.com/matrixkeep/homeserver/internal/user"
)

// Authenticator resolves bearer tokens to locked user records.
type Authenticator struct {
	tokens *token.Subsystem
	users  *user.Subsystem
}

// New returns an Authenticator backed by tokens and users.
func New(tokens *token.Subsystem, users *user.Subsystem) *Authenticator {
	return &Authenticator{tokens: tokens, users: users}
}

// Authenticated is the outcome of a successful Authenticate call: the
// locked user record, its ref (to be released via Release), the device id
// the token names, and the access token string itself (so handlers that
// need to exclude "this device" from a bulk revoke, e.g. logout_devices,
// can do so).
type Authenticated struct {
	User        *schema.User
	Ref         *objstore.Ref
	Device      string
	AccessToken string
}

// ExtractToken pulls the bearer token from the Authorization header or
// the access_token query parameter. The header takes precedence when both
// are present.
func ExtractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimPrefix(h, "Bearer ")
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// Authenticate resolves tokenStr to a locked user, failing with a
// *merror.Error carrying M_MISSING_TOKEN, M_UNKNOWN_TOKEN or
// M_USER_DEACTIVATED. The caller must call Release on success.
func (a *Authenticator) Authenticate(tokenStr string) (*Authenticated, error) {
	if tokenStr == "" {
		return nil, merror.New(merror.MissingToken)
	}

	at, tref, err := a.tokens.Lookup(tokenStr)
	if err != nil {
		return nil, merror.New(merror.UnknownToken)
	}
	if at.Expired(uint64(time.Now().UnixMilli())) {
		_ = a.tokens.Release(tref)
		return nil, merror.New(merror.UnknownToken)
	}

	u, uref, err := a.users.Lock(at.User)
	if err != nil {
		_ = a.tokens.Release(tref)
		return nil, merror.New(merror.UnknownToken)
	}
	if u.Deactivated {
		_ = a.users.Unlock(u, uref)
		_ = a.tokens.Release(tref)
		return nil, merror.New(merror.UserDeactivated)
	}
	if err := a.tokens.Release(tref); err != nil {
		_ = a.users.Unlock(u, uref)
		return nil, err
	}

	return &Authenticated{User: u, Ref: uref, Device: at.Device, AccessToken: tokenStr}, nil
}

// Release persists and unlocks the user record obtained from Authenticate.
func (a *Authenticator) Release(auth *Authenticated) error {
	return a.users.Unlock(auth.User, auth.Ref)
}
