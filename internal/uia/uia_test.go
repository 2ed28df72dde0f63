package uia

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixkeep/homeserver/internal/objstore"
	"github.com/matrixkeep/homeserver/internal/schema"
	"github.com/matrixkeep/homeserver/internal/token"
	"github.com/matrixkeep/homeserver/internal/user"
)

func newTestEngine(t *testing.T) (*Engine, *user.Subsystem, *token.Subsystem, *objstore.Store) {
	t.Helper()
	store, err := objstore.Open(t.TempDir())
	require.NoError(t, err)
	users := user.New(store)
	tokens := token.New(store)
	return New(store, users, tokens), users, tokens, store
}

func TestMissingAuthPrimesSession(t *testing.T) {
	e, _, _, store := newTestEngine(t)
	flows := []Flow{{StageDummy}}

	res, err := e.Complete(flows, AuthRequest{Present: false})
	require.NoError(t, err)
	require.False(t, res.Done)
	require.Equal(t, 401, res.Status)

	sessionID, ok := res.Body["session"].(string)
	require.True(t, ok)
	require.NotEmpty(t, sessionID)
	require.Contains(t, res.Body, "flows")

	exists, err := store.Exists(objstore.Path{"user_interactive", sessionID})
	require.NoError(t, err)
	require.True(t, exists)
}

func TestUnknownSessionRePrompts(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	flows := []Flow{{StageDummy}}

	res, err := e.Complete(flows, AuthRequest{Present: true, Type: StageDummy, Session: "no-such-session"})
	require.NoError(t, err)
	require.False(t, res.Done)
	require.Equal(t, 401, res.Status)
	require.Contains(t, res.Body, "flows")
}

func primeSession(t *testing.T, e *Engine, flows []Flow) string {
	t.Helper()
	res, err := e.Complete(flows, AuthRequest{Present: false})
	require.NoError(t, err)
	return res.Body["session"].(string)
}

func TestDummyStageSatisfiesFlow(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	flows := []Flow{{StageDummy}}
	session := primeSession(t, e, flows)

	res, err := e.Complete(flows, AuthRequest{
		Present: true,
		Type:    StageDummy,
		Session: session,
		Fields:  map[string]any{},
	})
	require.NoError(t, err)
	require.True(t, res.Done)
	require.NotNil(t, res.Session)
	require.True(t, res.Session.Completed[StageDummy])
}

func TestWrongStageTypeRejected(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	flows := []Flow{{StageDummy}}
	session := primeSession(t, e, flows)

	res, err := e.Complete(flows, AuthRequest{
		Present: true,
		Type:    StagePassword,
		Session: session,
		Fields:  map[string]any{},
	})
	require.NoError(t, err)
	require.False(t, res.Done)
	require.Equal(t, 401, res.Status)
	require.Equal(t, "M_FORBIDDEN", res.Body["errcode"])
}

func TestPasswordStage(t *testing.T) {
	e, users, _, _ := newTestEngine(t)
	_, err := users.Create("alice", "correct-horse", schema.PrivNone)
	require.NoError(t, err)

	flows := []Flow{{StagePassword}}
	session := primeSession(t, e, flows)

	res, err := e.Complete(flows, AuthRequest{
		Present: true,
		Type:    StagePassword,
		Session: session,
		Fields: map[string]any{
			"identifier": map[string]any{"type": "m.id.user", "user": "alice"},
			"password":   "wrong",
		},
	})
	require.NoError(t, err)
	require.False(t, res.Done)
	require.Equal(t, "M_FORBIDDEN", res.Body["errcode"])

	res, err = e.Complete(flows, AuthRequest{
		Present: true,
		Type:    StagePassword,
		Session: session,
		Fields: map[string]any{
			"identifier": map[string]any{"type": "m.id.user", "user": "alice"},
			"password":   "correct-horse",
		},
	})
	require.NoError(t, err)
	require.True(t, res.Done)
	require.Equal(t, "alice", res.Session.User)
}

func TestRegistrationTokenStageConsumesUses(t *testing.T) {
	e, _, tokens, _ := newTestEngine(t)
	_, err := tokens.CreateRegistrationToken("invite-2025", "admin", 0, 2, schema.PrivNone)
	require.NoError(t, err)

	flows := []Flow{{StageRegistrationToken}}
	auth := func(session string) AuthRequest {
		return AuthRequest{
			Present: true,
			Type:    StageRegistrationToken,
			Session: session,
			Fields:  map[string]any{"token": "invite-2025"},
		}
	}

	for i := 0; i < 2; i++ {
		res, err := e.Complete(flows, auth(primeSession(t, e, flows)))
		require.NoError(t, err)
		require.True(t, res.Done, "attempt %d should succeed", i+1)
	}

	res, err := e.Complete(flows, auth(primeSession(t, e, flows)))
	require.NoError(t, err)
	require.False(t, res.Done)
	require.Equal(t, "M_FORBIDDEN", res.Body["errcode"])

	rt, ref, err := tokens.LockRegistrationToken("invite-2025")
	require.NoError(t, err)
	require.EqualValues(t, 2, rt.Used)
	require.NoError(t, tokens.Release(ref))
}

func TestCleanupTruncatesSessions(t *testing.T) {
	e, _, _, store := newTestEngine(t)
	flows := []Flow{{StageDummy}}
	id := primeSession(t, e, flows)

	require.NoError(t, e.Cleanup())

	exists, err := store.Exists(objstore.Path{"user_interactive", id})
	require.NoError(t, err)
	require.False(t, exists)
}
