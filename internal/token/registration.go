package token

import (
	"fmt"
	"regexp"

	"github.com/matrixkeep/homeserver/internal/objstore"
	"github.com/matrixkeep/homeserver/internal/schema"
)

var registrationNamePattern = regexp.MustCompile(`^[A-Za-z0-9._~-]+$`)

// ErrInvalidRegistrationToken is returned when a registration token's
// name, uses, or expiry is out of range.
var ErrInvalidRegistrationToken = fmt.Errorf("token: invalid registration token")

func validateRegistrationShape(name string, uses int64, expiresOn uint64, nowMs uint64) error {
	if name == "" || len(name) > 64 || !registrationNamePattern.MatchString(name) {
		return ErrInvalidRegistrationToken
	}
	if uses < -1 {
		return ErrInvalidRegistrationToken
	}
	if expiresOn != 0 && expiresOn < nowMs {
		return ErrInvalidRegistrationToken
	}
	return nil
}

// CreateRegistrationToken creates and persists a new RegistrationToken,
// rejecting uses < -1 and an already-past expiresOn.
func (s *Subsystem) CreateRegistrationToken(name, createdBy string, expiresOn uint64, uses int64, grants schema.Privilege) (*schema.RegistrationToken, error) {
	now := nowMs()
	if err := validateRegistrationShape(name, uses, expiresOn, now); err != nil {
		return nil, err
	}

	rt := &schema.RegistrationToken{
		Name:      name,
		CreatedBy: createdBy,
		CreatedOn: now,
		ExpiresOn: expiresOn,
		Uses:      uses,
		Used:      0,
		Grants:    grants,
	}
	if err := s.create(objstore.Path{"tokens", "registration", name}, rt.ToJSON()); err != nil {
		return nil, fmt.Errorf("token: create registration token: %w", err)
	}
	return rt, nil
}

// LockRegistrationToken locks and parses the registration token named
// name.
func (s *Subsystem) LockRegistrationToken(name string) (*schema.RegistrationToken, *objstore.Ref, error) {
	ref, err := s.store.Lock(objstore.Path{"tokens", "registration", name})
	if err != nil {
		if err == objstore.ErrNotFound {
			return nil, nil, ErrUnknown
		}
		return nil, nil, err
	}
	rt, err := schema.RegistrationTokenFromJSON(ref.JSON())
	if err != nil {
		_ = s.store.Unlock(ref)
		return nil, nil, fmt.Errorf("token: corrupt registration token: %w", err)
	}
	return rt, ref, nil
}

// UseRegistrationToken increments rt.Used and persists it. The caller is
// expected to have already checked rt.Valid().
func (s *Subsystem) UseRegistrationToken(rt *schema.RegistrationToken, ref *objstore.Ref) error {
	rt.Used++
	ref.SetJSON(rt.ToJSON())
	return s.store.Unlock(ref)
}

// DeleteRegistrationToken removes a registration token by name.
func (s *Subsystem) DeleteRegistrationToken(name string) (bool, error) {
	return s.store.Delete(objstore.Path{"tokens", "registration", name})
}

// CheckValid locks, validates, and consumes one use of the registration
// token named name, satisfying uia.RegistrationTokenChecker. It reports
// whether the token was valid (per schema.RegistrationToken.Valid) and,
// if so, the privilege set it grants; an already-exhausted or expired
// token is reported as invalid without modification.
func (s *Subsystem) CheckValid(name string) (valid bool, grants schema.Privilege, err error) {
	rt, ref, err := s.LockRegistrationToken(name)
	if err != nil {
		if err == ErrUnknown {
			return false, 0, nil
		}
		return false, 0, err
	}
	if !rt.Valid(nowMs()) {
		_ = s.store.Unlock(ref)
		return false, 0, nil
	}
	if err := s.UseRegistrationToken(rt, ref); err != nil {
		return false, 0, err
	}
	return true, rt.Grants, nil
}
