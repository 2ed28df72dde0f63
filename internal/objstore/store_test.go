package objstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCreateLockUnlock(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	ref, err := s.Create(Path{"users", "alice"})
	require.NoError(t, err)
	ref.JSON()["localpart"] = "alice"
	require.NoError(t, s.Unlock(ref))

	ref2, err := s.Lock(Path{"users", "alice"})
	require.NoError(t, err)
	require.Equal(t, "alice", ref2.JSON()["localpart"])
	require.NoError(t, s.Unlock(ref2))
}

func TestCreateExistsFails(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	ref, err := s.Create(Path{"config"})
	require.NoError(t, err)
	require.NoError(t, s.Unlock(ref))

	_, err = s.Create(Path{"config"})
	require.ErrorIs(t, err, ErrExists)
}

func TestLockNotFound(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = s.Lock(Path{"nope"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLockedExcludesSecondHolder(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	s.lockWait = 10 * time.Millisecond

	ref, err := s.Create(Path{"tokens", "access", "tok1"})
	require.NoError(t, err)

	_, err = s.Lock(Path{"tokens", "access", "tok1"})
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, s.Unlock(ref))

	ref2, err := s.Lock(Path{"tokens", "access", "tok1"})
	require.NoError(t, err)
	require.NoError(t, s.Unlock(ref2))
}

func TestDeleteAndExists(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	ok, err := s.Exists(Path{"users", "bob"})
	require.NoError(t, err)
	require.False(t, ok)

	ref, err := s.Create(Path{"users", "bob"})
	require.NoError(t, err)
	require.NoError(t, s.Unlock(ref))

	ok, err = s.Exists(Path{"users", "bob"})
	require.NoError(t, err)
	require.True(t, ok)

	existed, err := s.Delete(Path{"users", "bob"})
	require.NoError(t, err)
	require.True(t, existed)

	existed, err = s.Delete(Path{"users", "bob"})
	require.NoError(t, err)
	require.False(t, existed)
}

func TestListChildren(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	for _, lp := range []string{"alice", "bob", "carol"} {
		ref, err := s.Create(Path{"users", lp})
		require.NoError(t, err)
		require.NoError(t, s.Unlock(ref))
	}

	children, err := s.List(Path{"users"})
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob", "carol"}, children)
}

func TestInvalidPathComponentRejected(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = s.Create(Path{"..", "etc", "passwd"})
	require.Error(t, err)
}

func TestDeleteTreeTruncatesCollection(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"s1", "s2"} {
		ref, err := s.Create(Path{"user_interactive", id})
		require.NoError(t, err)
		require.NoError(t, s.Unlock(ref))
	}

	require.NoError(t, s.DeleteTree(Path{"user_interactive"}))

	children, err := s.List(Path{"user_interactive"})
	require.NoError(t, err)
	require.Empty(t, children)
}
