package token

import (
	"testing"

	"github.com/matrixkeep/homeserver/internal/objstore"
	"github.com/stretchr/testify/require"
)

func newSubsystem(t *testing.T) *Subsystem {
	t.Helper()
	store, err := objstore.Open(t.TempDir())
	require.NoError(t, err)
	return New(store)
}

func TestMintAndLookup(t *testing.T) {
	s := newSubsystem(t)
	m, err := s.Mint("alice", "DEV1", 0, true)
	require.NoError(t, err)
	require.NotEmpty(t, m.AccessToken)
	require.NotEmpty(t, m.RefreshToken)

	at, ref, err := s.Lookup(m.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "alice", at.User)
	require.NoError(t, s.Release(ref))
}

func TestLookupUnknown(t *testing.T) {
	s := newSubsystem(t)
	_, _, err := s.Lookup("nope")
	require.ErrorIs(t, err, ErrUnknown)
}

func TestRefreshRotation(t *testing.T) {
	s := newSubsystem(t)
	m, err := s.Mint("alice", "DEV1", 3_600_000, true)
	require.NoError(t, err)

	result, err := s.Refresh(m.RefreshToken, 3_600_000)
	require.NoError(t, err)
	require.NotEqual(t, m.AccessToken, result.NewAccessToken)

	// old access token is gone
	_, _, err = s.Lookup(m.AccessToken)
	require.ErrorIs(t, err, ErrUnknown)

	// new access token resolves
	at, ref, err := s.Lookup(result.NewAccessToken)
	require.NoError(t, err)
	require.Equal(t, "alice", at.User)
	require.NoError(t, s.Release(ref))

	// refresh token can be used again, pointing at a further-new token
	result2, err := s.Refresh(m.RefreshToken, 3_600_000)
	require.NoError(t, err)
	require.NotEqual(t, result.NewAccessToken, result2.NewAccessToken)
}

func TestRegistrationTokenExhaustion(t *testing.T) {
	s := newSubsystem(t)
	_, err := s.CreateRegistrationToken("tk", "admin", 0, 2, 0)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		rt, ref, err := s.LockRegistrationToken("tk")
		require.NoError(t, err)
		require.True(t, rt.Valid(0))
		require.NoError(t, s.UseRegistrationToken(rt, ref))
	}

	rt, ref, err := s.LockRegistrationToken("tk")
	require.NoError(t, err)
	require.False(t, rt.Valid(0))
	require.Equal(t, int64(2), rt.Used)
	require.NoError(t, s.Release(ref))
}

func TestRegistrationTokenRejectsInvalidUses(t *testing.T) {
	s := newSubsystem(t)
	_, err := s.CreateRegistrationToken("tk", "admin", 0, -2, 0)
	require.ErrorIs(t, err, ErrInvalidRegistrationToken)
}

func TestRegistrationTokenRejectsPastExpiry(t *testing.T) {
	s := newSubsystem(t)
	_, err := s.CreateRegistrationToken("tk", "admin", 1, -1, 0)
	require.ErrorIs(t, err, ErrInvalidRegistrationToken)
}
