// Package user implements the account-record subsystem: creation, password
// hashing/verification, devices, profile, privileges, and
// deactivation/reactivation.
//
// Passwords are hashed with Argon2id (golang.org/x/crypto/argon2) and
// stored as a scheme-tagged "scheme:salt:hash" string, so the scheme can
// be migrated later without changing the record shape.
package user

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/matrixkeep/homeserver/internal/mxid"
	"github.com/matrixkeep/homeserver/internal/objstore"
	"github.com/matrixkeep/homeserver/internal/schema"
	"golang.org/x/crypto/argon2"
)

const (
	argon2Scheme  = "argon2id"
	argon2Time    = 1
	argon2Memory  = 64 * 1024 // KiB
	argon2Threads = 4
	argon2KeyLen  = 32
	saltBytes     = 16
)

var (
	ErrInUse           = fmt.Errorf("user: localpart already in use")
	ErrInvalidUsername = fmt.Errorf("user: invalid localpart")
	ErrUnknown         = fmt.Errorf("user: unknown localpart")
	ErrDeactivated     = fmt.Errorf("user: account is deactivated")
)

// Subsystem provides account operations against an object store.
type Subsystem struct {
	store *objstore.Store
}

// New returns a user Subsystem backed by store.
func New(store *objstore.Store) *Subsystem {
	return &Subsystem{store: store}
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("user: read salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return fmt.Sprintf("%s:%s:%s", argon2Scheme,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

func verifyPassword(stored, candidate string) bool {
	parts := strings.SplitN(stored, ":", 3)
	if len(parts) != 3 || parts[0] != argon2Scheme {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(candidate), salt, argon2Time, argon2Memory, argon2Threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

func path(localpart string) objstore.Path { return objstore.Path{"users", localpart} }

// Create makes a new account with the given password and initial
// privileges. The localpart grammar admits "=" and "/", but the
// file-backed store cannot represent them in a path component, so those
// two are rejected here as well.
func (s *Subsystem) Create(localpart, password string, privileges schema.Privilege) (*schema.User, error) {
	if !mxid.ValidLocalpart(localpart) || strings.ContainsAny(localpart, "=/") {
		return nil, ErrInvalidUsername
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &schema.User{
		Localpart:    localpart,
		PasswordHash: hash,
		Devices:      map[string]schema.Device{},
		Profile:      map[string]any{},
		Privileges:   privileges,
	}

	ref, err := s.store.Create(path(localpart))
	if err != nil {
		if err == objstore.ErrExists {
			return nil, ErrInUse
		}
		return nil, fmt.Errorf("user: create: %w", err)
	}
	ref.SetJSON(u.ToJSON())
	if err := s.store.Unlock(ref); err != nil {
		return nil, fmt.Errorf("user: persist: %w", err)
	}
	return u, nil
}

// Lock locks and parses the account record at localpart.
func (s *Subsystem) Lock(localpart string) (*schema.User, *objstore.Ref, error) {
	ref, err := s.store.Lock(path(localpart))
	if err != nil {
		if err == objstore.ErrNotFound {
			return nil, nil, ErrUnknown
		}
		return nil, nil, err
	}
	u, err := schema.UserFromJSON(ref.JSON())
	if err != nil {
		_ = s.store.Unlock(ref)
		return nil, nil, fmt.Errorf("user: corrupt record: %w", err)
	}
	return u, ref, nil
}

// Unlock persists u and releases ref's lock.
func (s *Subsystem) Unlock(u *schema.User, ref *objstore.Ref) error {
	ref.SetJSON(u.ToJSON())
	return s.store.Unlock(ref)
}

// Exists reports whether localpart has an account record, without locking.
func (s *Subsystem) Exists(localpart string) (bool, error) {
	return s.store.Exists(path(localpart))
}

// SetPassword hashes newPassword with a fresh random salt and sets it on u.
// The caller is responsible for calling Unlock to persist.
func SetPassword(u *schema.User, newPassword string) error {
	hash, err := hashPassword(newPassword)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

// CheckPassword reports whether candidate matches u's stored hash.
func CheckPassword(u *schema.User, candidate string) bool {
	return verifyPassword(u.PasswordHash, candidate)
}

// Deactivate marks u deactivated. This alone is enough to fail all future
// authentication even if tokens survive; callers still revoke tokens
// separately via DeleteTokens.
func Deactivate(u *schema.User, byLocalpart, reason string) {
	u.Deactivated = true
	u.DeactivatedBy = byLocalpart
	u.DeactivationReason = reason
}

// Reactivate clears u's deactivated flag. It does not resurrect revoked
// tokens.
func Reactivate(u *schema.User) {
	u.Deactivated = false
	u.DeactivatedBy = ""
	u.DeactivationReason = ""
}

// GetDevices returns u's device map.
func GetDevices(u *schema.User) map[string]schema.Device { return u.Devices }

// SetDevice upserts a single device entry.
func SetDevice(u *schema.User, deviceID string, d schema.Device) {
	if u.Devices == nil {
		u.Devices = map[string]schema.Device{}
	}
	u.Devices[deviceID] = d
}

// RemoveDevice deletes a device entry.
func RemoveDevice(u *schema.User, deviceID string) {
	delete(u.Devices, deviceID)
}

// GetProfile returns u's profile map.
func GetProfile(u *schema.User) map[string]any { return u.Profile }

// SetProfile sets a single profile field.
func SetProfile(u *schema.User, field string, value any) {
	if u.Profile == nil {
		u.Profile = map[string]any{}
	}
	u.Profile[field] = value
}
