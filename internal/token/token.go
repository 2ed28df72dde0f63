// Package token implements the access/refresh/registration token
// subsystem: opaque high-entropy strings, atomic refresh rotation, and
// registration-token validity tracking.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/matrixkeep/homeserver/internal/objstore"
	"github.com/matrixkeep/homeserver/internal/schema"
)

// entropyBytes gives 192 bits of entropy per token, comfortably above the
// 128-bit floor bearer credentials need.
const entropyBytes = 24

// GenerateString returns a CSPRNG, URL-safe opaque token string.
func GenerateString() (string, error) {
	buf := make([]byte, entropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token: read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func nowMs() uint64 { return uint64(time.Now().UnixMilli()) }

// Subsystem provides access/refresh/registration token operations against
// an object store.
type Subsystem struct {
	store *objstore.Store
}

// New returns a token Subsystem backed by store.
func New(store *objstore.Store) *Subsystem {
	return &Subsystem{store: store}
}

// Minted is the pair of token strings produced for a new device login.
type Minted struct {
	AccessToken  string
	RefreshToken string // empty if not refreshable
	Lifetime     uint64 // ms, 0 = none
	IssuedAt     uint64
}

// Mint creates and persists a new access token (and, if refreshable, its
// paired refresh token) for user/device.
func (s *Subsystem) Mint(user, device string, lifetimeMs uint64, refreshable bool) (*Minted, error) {
	accessStr, err := GenerateString()
	if err != nil {
		return nil, err
	}
	issued := nowMs()
	at := &schema.AccessToken{
		User:        user,
		Device:      device,
		Lifetime:    lifetimeMs,
		IssuedAt:    issued,
		Refreshable: refreshable,
	}
	if err := s.create(objstore.Path{"tokens", "access", accessStr}, at.ToJSON()); err != nil {
		return nil, fmt.Errorf("token: mint access token: %w", err)
	}

	m := &Minted{AccessToken: accessStr, Lifetime: lifetimeMs, IssuedAt: issued}
	if refreshable {
		refreshStr, err := GenerateString()
		if err != nil {
			return nil, err
		}
		rt := &schema.RefreshToken{Refreshes: accessStr}
		if err := s.create(objstore.Path{"tokens", "refresh", refreshStr}, rt.ToJSON()); err != nil {
			return nil, fmt.Errorf("token: mint refresh token: %w", err)
		}
		m.RefreshToken = refreshStr
	}
	return m, nil
}

func (s *Subsystem) create(p objstore.Path, body map[string]any) error {
	ref, err := s.store.Create(p)
	if err != nil {
		return err
	}
	ref.SetJSON(body)
	return s.store.Unlock(ref)
}

// ErrUnknown is returned when a token string does not resolve to a
// document.
var ErrUnknown = fmt.Errorf("token: unknown token")

// ErrExpired is returned when an access token's lifetime has elapsed.
var ErrExpired = fmt.Errorf("token: access token expired")

// Lookup locks and returns the AccessToken for accessStr, without checking
// expiry; callers such as auth.Authenticate check AccessToken.Expired
// themselves.
func (s *Subsystem) Lookup(accessStr string) (*schema.AccessToken, *objstore.Ref, error) {
	ref, err := s.store.Lock(objstore.Path{"tokens", "access", accessStr})
	if err != nil {
		if err == objstore.ErrNotFound {
			return nil, nil, ErrUnknown
		}
		return nil, nil, err
	}
	at, err := schema.AccessTokenFromJSON(ref.JSON())
	if err != nil {
		_ = s.store.Unlock(ref)
		return nil, nil, fmt.Errorf("token: corrupt access token: %w", err)
	}
	return at, ref, nil
}

// Release unlocks a Ref obtained from Lookup without modification.
func (s *Subsystem) Release(ref *objstore.Ref) error {
	return s.store.Unlock(ref)
}

// Revoke deletes an access token. Its paired refresh token, if any, is
// left in place for the caller to delete with RevokeRefresh (refresh
// tokens are looked up by value, not indexed by access token string).
func (s *Subsystem) Revoke(accessStr string) error {
	_, err := s.store.Delete(objstore.Path{"tokens", "access", accessStr})
	return err
}

// RevokeRefresh deletes a refresh token by its string.
func (s *Subsystem) RevokeRefresh(refreshStr string) error {
	_, err := s.store.Delete(objstore.Path{"tokens", "refresh", refreshStr})
	return err
}

// RotationResult is the outcome of a successful Refresh call.
type RotationResult struct {
	NewAccessToken string
	Lifetime       uint64
	User           string
	Device         string
}

// Refresh atomically rotates refreshStr: lock refresh token -> lock old
// access token -> mint new access token -> overwrite the refresh token's
// pointer -> delete the old access token. Any failure midway aborts and
// releases all locks, leaving the prior access token valid.
func (s *Subsystem) Refresh(refreshStr string, lifetimeMs uint64) (*RotationResult, error) {
	refRef, err := s.store.Lock(objstore.Path{"tokens", "refresh", refreshStr})
	if err != nil {
		if err == objstore.ErrNotFound {
			return nil, ErrUnknown
		}
		return nil, err
	}
	rt, err := schema.RefreshTokenFromJSON(refRef.JSON())
	if err != nil {
		_ = s.store.Unlock(refRef)
		return nil, fmt.Errorf("token: corrupt refresh token: %w", err)
	}

	accessRef, err := s.store.Lock(objstore.Path{"tokens", "access", rt.Refreshes})
	if err != nil {
		_ = s.store.Unlock(refRef)
		if err == objstore.ErrNotFound {
			return nil, ErrUnknown
		}
		return nil, err
	}
	at, err := schema.AccessTokenFromJSON(accessRef.JSON())
	if err != nil {
		_ = s.store.Unlock(accessRef)
		_ = s.store.Unlock(refRef)
		return nil, fmt.Errorf("token: corrupt access token: %w", err)
	}

	newAccessStr, err := GenerateString()
	if err != nil {
		_ = s.store.Unlock(accessRef)
		_ = s.store.Unlock(refRef)
		return nil, err
	}
	newAT := &schema.AccessToken{
		User:        at.User,
		Device:      at.Device,
		Lifetime:    lifetimeMs,
		IssuedAt:    nowMs(),
		Refreshable: true,
	}
	if err := s.create(objstore.Path{"tokens", "access", newAccessStr}, newAT.ToJSON()); err != nil {
		_ = s.store.Unlock(accessRef)
		_ = s.store.Unlock(refRef)
		return nil, fmt.Errorf("token: mint rotated access token: %w", err)
	}

	rt.Refreshes = newAccessStr
	refRef.SetJSON(rt.ToJSON())
	if err := s.store.Unlock(refRef); err != nil {
		return nil, fmt.Errorf("token: persist rotated refresh token: %w", err)
	}

	if err := s.store.Unlock(accessRef); err != nil {
		return nil, fmt.Errorf("token: release old access token: %w", err)
	}
	if _, err := s.store.Delete(accessRef.Path()); err != nil {
		return nil, fmt.Errorf("token: delete old access token: %w", err)
	}

	return &RotationResult{NewAccessToken: newAccessStr, Lifetime: lifetimeMs, User: at.User, Device: at.Device}, nil
}
