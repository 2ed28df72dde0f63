package mxconfig

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixkeep/homeserver/internal/objstore"
)

func newFacade(t *testing.T) *Facade {
	t.Helper()
	store, err := objstore.Open(t.TempDir())
	require.NoError(t, err)
	f := New(store)
	f.hostname = func() (string, error) { return "example.test", nil }
	f.effectiveUser = func() (string, string, error) { return "1000", "1000", nil }
	return f
}

func TestCreateDefaultSeedsConfig(t *testing.T) {
	f := newFacade(t)

	exists, err := f.Exists()
	require.NoError(t, err)
	require.False(t, exists)

	cfg, err := f.CreateDefault()
	require.NoError(t, err)
	require.Equal(t, "example.test", cfg.ServerName)
	require.Equal(t, "https://example.test/", cfg.BaseURL)
	require.Len(t, cfg.Listen, 1)
	require.EqualValues(t, 8008, cfg.Listen[0].Port)
	require.False(t, cfg.Registration)
	require.True(t, cfg.Federation)
	require.Equal(t, "1000", cfg.RunAs.UID)

	exists, err = f.Exists()
	require.NoError(t, err)
	require.True(t, exists)
}

func TestLockRoundTripsMutation(t *testing.T) {
	f := newFacade(t)
	_, err := f.CreateDefault()
	require.NoError(t, err)

	h, err := f.Lock()
	require.NoError(t, err)
	require.Empty(t, h.Err)
	h.Config.Registration = true
	require.NoError(t, f.Unlock(h))

	h2, err := f.Lock()
	require.NoError(t, err)
	require.Empty(t, h2.Err)
	require.True(t, h2.Config.Registration)
	require.NoError(t, f.Unlock(h2))
}

func TestLockReportsCorruptConfigViaErr(t *testing.T) {
	f := newFacade(t)

	ref, err := f.store.Create(configPath)
	require.NoError(t, err)
	ref.SetJSON(map[string]any{"listen": []any{}}) // missing serverName
	require.NoError(t, f.store.Unlock(ref))

	h, err := f.Lock()
	require.NoError(t, err)
	require.NotEmpty(t, h.Err)
	require.Nil(t, h.Config)
}
