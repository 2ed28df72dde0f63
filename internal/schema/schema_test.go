package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, in map[string]any, parse func(map[string]any) (map[string]any, error)) {
	t.Helper()
	out, err := parse(in)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestConfigRoundTrip(t *testing.T) {
	in := map[string]any{
		"serverName":   "example.com",
		"baseUrl":      "https://example.com/",
		"listen":       []any{map[string]any{"port": float64(8008), "threads": float64(4), "maxConnections": float64(32)}},
		"registration": true,
		"federation":   true,
		"maxCache":     float64(0),
		"log":          map[string]any{"output": "stdout", "level": "notice", "timestampFormat": "default"},
		"runAs":        map[string]any{"uid": "matrix", "gid": "matrix"},
	}
	cfg, err := ConfigFromJSON(in)
	require.NoError(t, err)
	require.Equal(t, in, cfg.ToJSON())
}

func TestConfigMissingServerName(t *testing.T) {
	_, err := ConfigFromJSON(map[string]any{})
	require.Error(t, err)
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, "serverName", fe.Field)
}

func TestUserRoundTrip(t *testing.T) {
	in := map[string]any{
		"localpart":    "alice",
		"passwordHash": "argon2id:salt:hash",
		"devices": map[string]any{
			"DEV1": map[string]any{"accessToken": "tok1", "lastSeen": float64(100)},
		},
		"profile":     map[string]any{"displayname": "Alice"},
		"privileges":  []any{"deactivate"},
		"deactivated": false,
	}
	u, err := UserFromJSON(in)
	require.NoError(t, err)
	require.Equal(t, in, u.ToJSON())
}

func TestPrivilegeAllImplication(t *testing.T) {
	all, err := DecodePrivileges([]string{"all"})
	require.NoError(t, err)
	require.True(t, HasPrivilege(all, PrivProcControl))
	require.Equal(t, []string{"all"}, EncodePrivileges(all))
}

func TestRegistrationTokenValidity(t *testing.T) {
	tok := &RegistrationToken{Uses: 2, Used: 1, ExpiresOn: 0}
	require.True(t, tok.Valid(1000))
	tok.Used = 2
	require.False(t, tok.Valid(1000))

	tok2 := &RegistrationToken{Uses: -1, ExpiresOn: 500}
	require.True(t, tok2.Valid(100))
	require.False(t, tok2.Valid(1000))
}

func TestFilterUnknownFieldsIgnored(t *testing.T) {
	raw := []byte(`{"event_format":"client","unexpected_field":123}`)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	f, err := FilterFromJSON(m)
	require.NoError(t, err)
	require.Equal(t, "client", f.EventFormat)
}

func TestRoomCreateDefaultsVisibilityPrivate(t *testing.T) {
	rc, err := RoomCreateFromJSON(map[string]any{"name": "Test Room"})
	require.NoError(t, err)
	require.Equal(t, "private", rc.Visibility)
}
