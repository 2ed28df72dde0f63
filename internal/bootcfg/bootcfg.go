// Package bootcfg implements the bootstrap-tier configuration: where the
// object store root lives, which TOML file to read, and process-owner
// defaults, read once before the store exists. This is distinct from
// internal/mxconfig's object-store Config, which is the live,
// authoritative server configuration living inside the store itself.
package bootcfg

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the bootstrap configuration: enough to find and open the
// object store, before anything in it can be read.
type Config struct {
	StorePath string `toml:"store_path"`
	LogOutput string `toml:"log_output"`
	LogLevel  string `toml:"log_level"`
}

// DefaultConfig returns bootstrap defaults matching mxconfig.Facade's
// object-store defaults.
func DefaultConfig() *Config {
	return &Config{
		StorePath: "./homeserver-data",
		LogOutput: "stdout",
		LogLevel:  "notice",
	}
}

// ConfigPaths lists the default locations searched when no explicit path
// is given, in priority order.
func ConfigPaths() []string {
	paths := []string{"./homeserver.toml", "/etc/homeserver/homeserver.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "homeserver", "homeserver.toml"))
	}
	return paths
}

// Load reads bootstrap config from path, or from the first default
// location that exists if path is empty. If no file is found anywhere,
// returns defaults without error -- the store is auto-seeded on first
// boot.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		for _, p := range ConfigPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path == "" {
		applyEnvOverrides(cfg)
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bootcfg: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("bootcfg: parse %s: %w", path, err)
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("bootcfg: invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HOMESERVER_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("HOMESERVER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Validate reports whether cfg is usable.
func (c *Config) Validate() error {
	if c.StorePath == "" {
		return fmt.Errorf("bootcfg: store_path must not be empty")
	}
	return nil
}
