package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixkeep/homeserver/internal/auth"
	"github.com/matrixkeep/homeserver/internal/merror"
	"github.com/matrixkeep/homeserver/internal/mxconfig"
	"github.com/matrixkeep/homeserver/internal/objstore"
	"github.com/matrixkeep/homeserver/internal/obslog"
	"github.com/matrixkeep/homeserver/internal/router"
	"github.com/matrixkeep/homeserver/internal/schema"
	"github.com/matrixkeep/homeserver/internal/token"
	"github.com/matrixkeep/homeserver/internal/uia"
	"github.com/matrixkeep/homeserver/internal/user"
)

type fakeProc struct {
	restarted bool
	shutdown  bool
}

func (p *fakeProc) Restart() error  { p.restarted = true; return nil }
func (p *fakeProc) Shutdown() error { p.shutdown = true; return nil }
func (p *fakeProc) Stats() map[string]any {
	return map[string]any{"uptime_ms": 1}
}

func newTestDeps(t *testing.T) (*Deps, *fakeProc) {
	t.Helper()
	store, err := objstore.Open(t.TempDir())
	require.NoError(t, err)

	ref, err := store.Create(objstore.Path{"config"})
	require.NoError(t, err)
	cfg := &schema.Config{
		ServerName:   "example.test",
		BaseURL:      "https://example.test/",
		Listen:       []schema.Listener{{Port: 8008, Threads: 4, MaxConnections: 32}},
		Log:          schema.LogConfig{Output: "stdout", Level: "error", TimestampFormat: "default"},
		Registration: true,
		Federation:   true,
	}
	ref.SetJSON(cfg.ToJSON())
	require.NoError(t, store.Unlock(ref))

	log, err := obslog.New(obslog.Config{Output: "stdout", Level: "error"})
	require.NoError(t, err)

	users := user.New(store)
	tokens := token.New(store)
	proc := &fakeProc{}
	return &Deps{
		Store:  store,
		Config: mxconfig.New(store),
		Users:  users,
		Tokens: tokens,
		UIA:    uia.New(store, users, tokens),
		Auth:   auth.New(tokens, users),
		Log:    log,
		Proc:   proc,
	}, proc
}

func doRequest(t *testing.T, tree *router.Tree, method, path, bearer string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	if !tree.Route(rec, req, req.URL.Path) {
		merror.New(merror.NotFound).Write(rec)
	}
	out := map[string]any{}
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec.Code, out
}

// primeUIA issues the first, auth-less request against path and returns
// the session id from the 401 response.
func primeUIA(t *testing.T, tree *router.Tree, path, bearer string) string {
	t.Helper()
	code, body := doRequest(t, tree, http.MethodPost, path, bearer, map[string]any{})
	require.Equal(t, 401, code)
	session, ok := body["session"].(string)
	require.True(t, ok, "401 body should carry a session id: %v", body)
	return session
}

func registerUser(t *testing.T, tree *router.Tree, username, password string) map[string]any {
	t.Helper()
	session := primeUIA(t, tree, "/_matrix/client/v3/register", "")
	code, body := doRequest(t, tree, http.MethodPost, "/_matrix/client/v3/register", "", map[string]any{
		"username": username,
		"password": password,
		"auth":     map[string]any{"type": "m.login.dummy", "session": session},
	})
	require.Equal(t, 200, code, "register should succeed: %v", body)
	return body
}

func TestRegisterThenWhoami(t *testing.T) {
	deps, _ := newTestDeps(t)
	tree := deps.Routes()

	body := registerUser(t, tree, "alice", "pw")
	require.Equal(t, "@alice:example.test", body["user_id"])
	accessToken, _ := body["access_token"].(string)
	deviceID, _ := body["device_id"].(string)
	require.NotEmpty(t, accessToken)
	require.NotEmpty(t, deviceID)

	code, who := doRequest(t, tree, http.MethodGet, "/_matrix/client/v3/account/whoami", accessToken, nil)
	require.Equal(t, 200, code)
	require.Equal(t, "@alice:example.test", who["user_id"])
	require.Equal(t, deviceID, who["device_id"])
}

func TestWhoamiRejectsMissingAndUnknownTokens(t *testing.T) {
	deps, _ := newTestDeps(t)
	tree := deps.Routes()

	code, body := doRequest(t, tree, http.MethodGet, "/_matrix/client/v3/account/whoami", "", nil)
	require.Equal(t, 401, code)
	require.Equal(t, "M_MISSING_TOKEN", body["errcode"])

	code, body = doRequest(t, tree, http.MethodGet, "/_matrix/client/v3/account/whoami", "not-a-token", nil)
	require.Equal(t, 401, code)
	require.Equal(t, "M_UNKNOWN_TOKEN", body["errcode"])
}

func TestRefreshRotation(t *testing.T) {
	deps, _ := newTestDeps(t)
	tree := deps.Routes()

	body := registerUser(t, tree, "alice", "pw")
	oldAccess, _ := body["access_token"].(string)
	refresh, _ := body["refresh_token"].(string)
	require.NotEmpty(t, refresh)

	code, rot := doRequest(t, tree, http.MethodPost, "/_matrix/client/v3/refresh", "", map[string]any{
		"refresh_token": refresh,
	})
	require.Equal(t, 200, code)
	newAccess, _ := rot["access_token"].(string)
	require.NotEmpty(t, newAccess)
	require.NotEqual(t, oldAccess, newAccess)
	require.Contains(t, rot, "expires_in_ms")

	code, body = doRequest(t, tree, http.MethodGet, "/_matrix/client/v3/account/whoami", oldAccess, nil)
	require.Equal(t, 401, code)
	require.Equal(t, "M_UNKNOWN_TOKEN", body["errcode"])

	code, _ = doRequest(t, tree, http.MethodGet, "/_matrix/client/v3/account/whoami", newAccess, nil)
	require.Equal(t, 200, code)

	// The same refresh token keeps working, pointing at the rotated token.
	code, rot2 := doRequest(t, tree, http.MethodPost, "/_matrix/client/v3/refresh", "", map[string]any{
		"refresh_token": refresh,
	})
	require.Equal(t, 200, code)
	require.NotEqual(t, newAccess, rot2["access_token"])
}

func login(t *testing.T, tree *router.Tree, username, password string) (int, map[string]any) {
	t.Helper()
	return doRequest(t, tree, http.MethodPost, "/_matrix/client/v3/login", "", map[string]any{
		"type":          "m.login.password",
		"identifier":    map[string]any{"type": "m.id.user", "user": username},
		"password":      password,
		"refresh_token": true,
	})
}

func TestPasswordChangeLogsOutOtherDevices(t *testing.T) {
	deps, _ := newTestDeps(t)
	tree := deps.Routes()

	body := registerUser(t, tree, "alice", "pw")
	t1, _ := body["access_token"].(string)

	code, loginBody := login(t, tree, "alice", "pw")
	require.Equal(t, 200, code)
	t2, _ := loginBody["access_token"].(string)
	require.NotEmpty(t, t2)

	session := primeUIA(t, tree, "/_matrix/client/v3/account/password", t1)
	code, resp := doRequest(t, tree, http.MethodPost, "/_matrix/client/v3/account/password", t1, map[string]any{
		"new_password":   "pw2",
		"logout_devices": true,
		"auth": map[string]any{
			"type":       "m.login.password",
			"session":    session,
			"identifier": map[string]any{"type": "m.id.user", "user": "alice"},
			"password":   "pw",
		},
	})
	require.Equal(t, 200, code, "password change should succeed: %v", resp)

	code, _ = doRequest(t, tree, http.MethodGet, "/_matrix/client/v3/account/whoami", t1, nil)
	require.Equal(t, 200, code)

	code, resp = doRequest(t, tree, http.MethodGet, "/_matrix/client/v3/account/whoami", t2, nil)
	require.Equal(t, 401, code)
	require.Equal(t, "M_UNKNOWN_TOKEN", resp["errcode"])

	code, _ = login(t, tree, "alice", "pw")
	require.Equal(t, 403, code)

	code, _ = login(t, tree, "alice", "pw2")
	require.Equal(t, 200, code)
}

func TestRegistrationTokenExhaustion(t *testing.T) {
	deps, _ := newTestDeps(t)
	tree := deps.Routes()

	_, err := deps.Tokens.CreateRegistrationToken("tk", "admin", 0, 2, schema.PrivNone)
	require.NoError(t, err)

	registerWithToken := func(username string) (int, map[string]any) {
		session := primeUIA(t, tree, "/_matrix/client/v3/register", "")
		return doRequest(t, tree, http.MethodPost, "/_matrix/client/v3/register", "", map[string]any{
			"username": username,
			"password": "pw",
			"auth": map[string]any{
				"type":    "m.login.registration_token",
				"session": session,
				"token":   "tk",
			},
		})
	}

	code, _ := registerWithToken("bob")
	require.Equal(t, 200, code)
	code, _ = registerWithToken("carol")
	require.Equal(t, 200, code)

	code, body := registerWithToken("dave")
	require.Equal(t, 401, code)
	require.Equal(t, "M_FORBIDDEN", body["errcode"])

	rt, ref, err := deps.Tokens.LockRegistrationToken("tk")
	require.NoError(t, err)
	require.EqualValues(t, 2, rt.Used)
	require.NoError(t, deps.Tokens.Release(ref))
}

func TestAdminProcPrivilegeGate(t *testing.T) {
	deps, proc := newTestDeps(t)
	tree := deps.Routes()

	bobBody := registerUser(t, tree, "bob", "pw")
	bobToken, _ := bobBody["access_token"].(string)

	code, body := doRequest(t, tree, http.MethodPost, "/_matrix/client/v3/admin/proc/restart", bobToken, map[string]any{})
	require.Equal(t, 403, code)
	require.Equal(t, "M_FORBIDDEN", body["errcode"])
	require.False(t, proc.restarted)

	adminBody := registerUser(t, tree, "admin", "pw")
	adminToken, _ := adminBody["access_token"].(string)

	u, ref, err := deps.Users.Lock("admin")
	require.NoError(t, err)
	u.Privileges = schema.PrivProcControl
	require.NoError(t, deps.Users.Unlock(u, ref))

	code, _ = doRequest(t, tree, http.MethodPost, "/_matrix/client/v3/admin/proc/restart", adminToken, map[string]any{})
	require.Equal(t, 200, code)
	require.True(t, proc.restarted)
}

func TestDeactivateBlocksAuthentication(t *testing.T) {
	deps, _ := newTestDeps(t)
	tree := deps.Routes()

	body := registerUser(t, tree, "mallory", "pw")
	tok, _ := body["access_token"].(string)

	session := primeUIA(t, tree, "/_matrix/client/v3/account/deactivate", tok)
	code, resp := doRequest(t, tree, http.MethodPost, "/_matrix/client/v3/account/deactivate", tok, map[string]any{
		"auth": map[string]any{
			"type":       "m.login.password",
			"session":    session,
			"identifier": map[string]any{"type": "m.id.user", "user": "mallory"},
			"password":   "pw",
		},
	})
	require.Equal(t, 200, code, "deactivate should succeed: %v", resp)

	code, _ = doRequest(t, tree, http.MethodGet, "/_matrix/client/v3/account/whoami", tok, nil)
	require.Equal(t, 401, code)

	code, _ = login(t, tree, "mallory", "pw")
	require.Equal(t, 403, code)
}

func TestVersionsAndWellKnown(t *testing.T) {
	deps, _ := newTestDeps(t)
	tree := deps.Routes()

	code, body := doRequest(t, tree, http.MethodGet, "/_matrix/client/versions", "", nil)
	require.Equal(t, 200, code)
	require.NotEmpty(t, body["versions"])

	code, body = doRequest(t, tree, http.MethodGet, "/.well-known/matrix/client", "", nil)
	require.Equal(t, 200, code)
	hs, ok := body["m.homeserver"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "https://example.test/", hs["base_url"])
}

func TestFilterRoundTrip(t *testing.T) {
	deps, _ := newTestDeps(t)
	tree := deps.Routes()

	body := registerUser(t, tree, "alice", "pw")
	tok, _ := body["access_token"].(string)

	code, created := doRequest(t, tree, http.MethodPost, "/_matrix/client/v3/user/@alice:example.test/filter", tok, map[string]any{
		"event_fields": []string{"type", "content"},
		"room":         map[string]any{"timeline": map[string]any{"limit": 10}},
	})
	require.Equal(t, 200, code, "filter create: %v", created)
	filterID, _ := created["filter_id"].(string)
	require.NotEmpty(t, filterID)

	code, got := doRequest(t, tree, http.MethodGet, "/_matrix/client/v3/user/@alice:example.test/filter/"+filterID, tok, nil)
	require.Equal(t, 200, code)
	require.Contains(t, got, "event_fields")
}

func TestProfileSetAndGet(t *testing.T) {
	deps, _ := newTestDeps(t)
	tree := deps.Routes()

	body := registerUser(t, tree, "alice", "pw")
	tok, _ := body["access_token"].(string)

	code, _ := doRequest(t, tree, http.MethodPut, "/_matrix/client/v3/profile/@alice:example.test/displayname", tok, map[string]any{
		"displayname": "Alice A.",
	})
	require.Equal(t, 200, code)

	// Reads need no authentication.
	code, got := doRequest(t, tree, http.MethodGet, "/_matrix/client/v3/profile/@alice:example.test/displayname", "", nil)
	require.Equal(t, 200, code)
	require.Equal(t, "Alice A.", got["displayname"])

	code, got = doRequest(t, tree, http.MethodGet, "/_matrix/client/v3/profile/@alice:example.test", "", nil)
	require.Equal(t, 200, code)
	require.Equal(t, "Alice A.", got["displayname"])

	bobBody := registerUser(t, tree, "bob", "pw")
	bobToken, _ := bobBody["access_token"].(string)
	code, _ = doRequest(t, tree, http.MethodPut, "/_matrix/client/v3/profile/@alice:example.test/displayname", bobToken, map[string]any{
		"displayname": "Not Alice",
	})
	require.Equal(t, 403, code)
}

func TestMethodMismatchIsUnrecognized(t *testing.T) {
	deps, _ := newTestDeps(t)
	tree := deps.Routes()

	code, body := doRequest(t, tree, http.MethodGet, "/_matrix/client/v3/login", "", nil)
	require.Equal(t, 400, code)
	require.Equal(t, "M_UNRECOGNIZED", body["errcode"])
}

func TestRegistrationDisabledRejectsRegister(t *testing.T) {
	deps, _ := newTestDeps(t)
	tree := deps.Routes()

	h, err := deps.Config.Lock()
	require.NoError(t, err)
	require.Empty(t, h.Err)
	h.Config.Registration = false
	require.NoError(t, deps.Config.Unlock(h))

	code, body := doRequest(t, tree, http.MethodPost, "/_matrix/client/v3/register", "", map[string]any{})
	require.Equal(t, 403, code)
	require.Equal(t, "M_FORBIDDEN", body["errcode"])
}

func TestRegistrationTokenValidityProbe(t *testing.T) {
	deps, _ := newTestDeps(t)
	tree := deps.Routes()

	_, err := deps.Tokens.CreateRegistrationToken("probe-me", "admin", 0, -1, schema.PrivNone)
	require.NoError(t, err)

	code, body := doRequest(t, tree, http.MethodPost,
		"/_matrix/client/v1/register/m.login.registration_token/validity", "",
		map[string]any{"token": "probe-me"})
	require.Equal(t, 200, code)
	require.Equal(t, true, body["valid"])

	code, body = doRequest(t, tree, http.MethodPost,
		"/_matrix/client/v1/register/m.login.registration_token/validity", "",
		map[string]any{"token": "never-created"})
	require.Equal(t, 200, code)
	require.Equal(t, false, body["valid"])

	// The probe must not consume a use.
	rt, ref, err := deps.Tokens.LockRegistrationToken("probe-me")
	require.NoError(t, err)
	require.EqualValues(t, 0, rt.Used)
	require.NoError(t, deps.Tokens.Release(ref))
}
