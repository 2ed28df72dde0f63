// Package mxconfig loads, validates, and locks the single `config` object
// store document, seeding defaults on first boot.
package mxconfig

import (
	"fmt"
	"os"
	"os/user"

	"github.com/matrixkeep/homeserver/internal/objstore"
	"github.com/matrixkeep/homeserver/internal/schema"
)

var configPath = objstore.Path{"config"}

// Facade exposes Exists/CreateDefault/Lock/Unlock over the `config`
// document.
type Facade struct {
	store         *objstore.Store
	hostname      func() (string, error)
	effectiveUser func() (uid, gid string, err error)
}

// New returns a Facade backed by store.
func New(store *objstore.Store) *Facade {
	return &Facade{
		store:         store,
		hostname:      defaultHostname,
		effectiveUser: defaultEffectiveUser,
	}
}

// Exists reports whether the config document has been seeded yet.
func (f *Facade) Exists() (bool, error) {
	return f.store.Exists(configPath)
}

// CreateDefault assembles and persists a default Config: serverName from
// the machine hostname, one plaintext listener on port 8008, runAs set to
// the effective process owner.
func (f *Facade) CreateDefault() (*schema.Config, error) {
	hostname, err := f.hostname()
	if err != nil {
		return nil, fmt.Errorf("mxconfig: hostname: %w", err)
	}
	uid, gid, err := f.effectiveUser()
	if err != nil {
		return nil, fmt.Errorf("mxconfig: effective user: %w", err)
	}

	cfg := &schema.Config{
		ServerName:   hostname,
		BaseURL:      "https://" + hostname + "/",
		Listen:       []schema.Listener{{Port: 8008, Threads: 4, MaxConnections: 32}},
		Log:          schema.LogConfig{Output: "stdout", Level: "notice", TimestampFormat: "default"},
		RunAs:        schema.RunAs{UID: uid, GID: gid},
		Registration: false,
		Federation:   true,
		MaxCache:     0,
	}

	ref, err := f.store.Create(configPath)
	if err != nil {
		return nil, fmt.Errorf("mxconfig: create default: %w", err)
	}
	ref.SetJSON(cfg.ToJSON())
	if err := f.store.Unlock(ref); err != nil {
		return nil, fmt.Errorf("mxconfig: persist default: %w", err)
	}
	return cfg, nil
}

// Handle is a locked snapshot of the config document. Its fields are valid
// until Unlock is called; there is no partial-success return, so callers
// check Err before reading Config.
type Handle struct {
	ref    *objstore.Ref
	Config *schema.Config
	Err    string
}

// Lock locks and parses the config document.
func (f *Facade) Lock() (*Handle, error) {
	ref, err := f.store.Lock(configPath)
	if err != nil {
		return nil, fmt.Errorf("mxconfig: lock: %w", err)
	}
	cfg, err := schema.ConfigFromJSON(ref.JSON())
	if err != nil {
		_ = f.store.Unlock(ref)
		return &Handle{Err: err.Error()}, nil
	}
	return &Handle{ref: ref, Config: cfg}, nil
}

// Unlock persists any mutation made to h.Config and releases the lock.
func (f *Facade) Unlock(h *Handle) error {
	if h.ref == nil {
		return nil
	}
	h.ref.SetJSON(h.Config.ToJSON())
	return f.store.Unlock(h.ref)
}

func defaultHostname() (string, error) {
	return os.Hostname()
}

func defaultEffectiveUser() (uid, gid string, err error) {
	u, err := user.Current()
	if err != nil {
		return "", "", err
	}
	return u.Uid, u.Gid, nil
}
