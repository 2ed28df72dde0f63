// Package handlers implements the Matrix Client-Server API route handlers,
// composing the object store, token, user, UIA, mxid, and merror
// components into the request surface. A single Deps struct is injected at
// startup and shared by every handler method.
package handlers

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/matrixkeep/homeserver/internal/auth"
	"github.com/matrixkeep/homeserver/internal/merror"
	"github.com/matrixkeep/homeserver/internal/mxconfig"
	"github.com/matrixkeep/homeserver/internal/objstore"
	"github.com/matrixkeep/homeserver/internal/obslog"
	"github.com/matrixkeep/homeserver/internal/token"
	"github.com/matrixkeep/homeserver/internal/uia"
	"github.com/matrixkeep/homeserver/internal/user"
)

// maxBodyBytes caps request bodies read by decodeJSON; anything larger is
// rejected with 413 M_TOO_LARGE.
const maxBodyBytes = 1 << 20 // 1 MiB

// Deps bundles every component the route handlers compose, injected once
// at startup by cmd/homeserver.
type Deps struct {
	Store  *objstore.Store
	Config *mxconfig.Facade
	Users  *user.Subsystem
	Tokens *token.Subsystem
	UIA    *uia.Engine
	Auth   *auth.Authenticator
	Log    *obslog.Logger
	Proc   ProcController
}

// ProcController exposes the process-control operations behind
// /admin/proc/{restart|shutdown|stats}, implemented by cmd/homeserver
// against the running server and scheduler.
type ProcController interface {
	Restart() error
	Shutdown() error
	Stats() map[string]any
}

// AccessTokenLifetime is the default lifetime (ms) minted for refreshable
// access tokens; 0 (no lifetime) is used for non-refreshable logins, e.g.
// the legacy m.login.password flow without refresh_token support.
const AccessTokenLifetime = uint64(60 * 60 * 1000) // 1 hour, matching common Matrix homeserver practice

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err *merror.Error) {
	err.Write(w)
}

// decodeJSON reads and parses r's body into v. Malformed JSON is
// M_NOT_JSON; schema-level failures are the caller's M_BAD_JSON; oversized
// bodies are 413 M_TOO_LARGE.
func decodeJSON(r *http.Request, v any) *merror.Error {
	if r.Body == nil {
		return merror.New(merror.NotJSON, "missing request body")
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return merror.New(merror.Unknown)
	}
	if len(data) > maxBodyBytes {
		return merror.New(merror.TooLarge).WithStatus(http.StatusRequestEntityTooLarge)
	}
	if len(data) == 0 {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return merror.New(merror.NotJSON)
	}
	return nil
}

// requireMethod responds 400 M_UNRECOGNIZED and returns false if r's
// method is not in methods.
func requireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	writeError(w, merror.New(merror.Unrecognized, fmt.Sprintf("method %s not supported on this endpoint", r.Method)).WithStatus(http.StatusBadRequest))
	return false
}

// authenticate extracts and validates the bearer token from r, writing the
// appropriate 401 response and returning ok=false on failure. Callers must
// call deps.Auth.Release(a) when done with the returned Authenticated.
func (d *Deps) authenticate(w http.ResponseWriter, r *http.Request) (a *auth.Authenticated, ok bool) {
	tok := auth.ExtractToken(r)
	a, err := d.Auth.Authenticate(tok)
	if err != nil {
		if merr, isM := err.(*merror.Error); isM {
			writeError(w, merr)
			return nil, false
		}
		writeError(w, merror.New(merror.Unknown))
		return nil, false
	}
	return a, true
}

//go:embed static
var staticFS embed.FS
