package bootcfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadExplicitMissingFileErrors(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.Error(t, err)
	require.Nil(t, cfg)
}

func TestLoadNoPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotEmpty(t, cfg.StorePath)
}

func TestLoadParsesToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "homeserver.toml")
	require.NoError(t, os.WriteFile(path, []byte("store_path = \"/var/lib/hs\"\nlog_level = \"debug\"\n"), 0o640))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/hs", cfg.StorePath)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestEnvOverridesStorePath(t *testing.T) {
	t.Setenv("HOMESERVER_STORE_PATH", "/tmp/override")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "/tmp/override", cfg.StorePath)
}

func TestValidateRejectsEmptyStorePath(t *testing.T) {
	c := &Config{}
	require.Error(t, c.Validate())
}
