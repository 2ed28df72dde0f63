// Package uia implements the User-Interactive Authentication engine:
// multi-stage flows, session persistence, and completion tracking.
package uia

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/matrixkeep/homeserver/internal/merror"
	"github.com/matrixkeep/homeserver/internal/objstore"
	"github.com/matrixkeep/homeserver/internal/schema"
	"github.com/matrixkeep/homeserver/internal/user"
)

// StageType names a UIA stage, e.g. "m.login.dummy".
type StageType string

const (
	StageDummy             StageType = "m.login.dummy"
	StagePassword          StageType = "m.login.password"
	StageRegistrationToken StageType = "m.login.registration_token"
)

// Flow is an ordered list of stages; completing any one flow's stages
// satisfies UIA.
type Flow []StageType

// Session is the persisted record at user_interactive/{sessionId}.
type Session struct {
	SessionID string
	Completed map[StageType]bool
	User      string
	Params    map[string]any
}

func sessionPath(id string) objstore.Path { return objstore.Path{"user_interactive", id} }

func newSessionID() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("uia: generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Engine drives UIA flows against an object store and user subsystem.
type Engine struct {
	store *objstore.Store
	users *user.Subsystem
	toks  RegistrationTokenChecker
}

// RegistrationTokenChecker is the subset of token.Subsystem the
// m.login.registration_token stage needs; the engine depends only on this
// one method, and *token.Subsystem satisfies it.
type RegistrationTokenChecker interface {
	CheckValid(name string) (valid bool, grants schema.Privilege, err error)
}

// New returns an Engine.
func New(store *objstore.Store, users *user.Subsystem, toks RegistrationTokenChecker) *Engine {
	return &Engine{store: store, users: users, toks: toks}
}

func sessionToJSON(s *Session) map[string]any {
	completed := make([]any, 0, len(s.Completed))
	for stage, ok := range s.Completed {
		if ok {
			completed = append(completed, string(stage))
		}
	}
	m := map[string]any{
		"sessionId": s.SessionID,
		"completed": completed,
		"params":    s.Params,
	}
	if s.User != "" {
		m["user"] = s.User
	}
	return m
}

func sessionFromJSON(m map[string]any) *Session {
	s := &Session{Completed: map[StageType]bool{}, Params: map[string]any{}}
	if v, ok := m["sessionId"].(string); ok {
		s.SessionID = v
	}
	if v, ok := m["user"].(string); ok {
		s.User = v
	}
	if v, ok := m["params"].(map[string]any); ok {
		s.Params = v
	}
	if v, ok := m["completed"].([]any); ok {
		for _, e := range v {
			if str, ok := e.(string); ok {
				s.Completed[StageType(str)] = true
			}
		}
	}
	return s
}

func flowsJSON(flows []Flow) []any {
	out := make([]any, 0, len(flows))
	for _, f := range flows {
		stages := make([]any, len(f))
		for i, st := range f {
			stages[i] = string(st)
		}
		out = append(out, map[string]any{"stages": stages})
	}
	return out
}

// unauthorizedBody builds the standard UIA 401 body: flows, params,
// session.
func unauthorizedBody(flows []Flow, sessionID string, params map[string]any, extra map[string]any) map[string]any {
	if params == nil {
		params = map[string]any{}
	}
	body := map[string]any{
		"flows":   flowsJSON(flows),
		"params":  params,
		"session": sessionID,
	}
	for k, v := range extra {
		body[k] = v
	}
	return body
}

// AuthRequest is the "auth" block of an incoming request body, if present.
type AuthRequest struct {
	Present bool
	Type    StageType
	Session string
	Fields  map[string]any // e.g. identifier/password, or token
}

// Result is the outcome of Complete.
type Result struct {
	Done    bool
	Status  int
	Body    map[string]any
	Session *Session // non-nil only when Done
}

// Complete drives one UIA round trip: prime a session when no auth block
// is present, validate the claimed stage against the flows, run the
// stage verifier, and report whether any flow is now fully satisfied.
func (e *Engine) Complete(flows []Flow, auth AuthRequest) (*Result, error) {
	if !auth.Present {
		id, err := newSessionID()
		if err != nil {
			return nil, err
		}
		if err := e.persist(&Session{SessionID: id, Completed: map[StageType]bool{}, Params: map[string]any{}}); err != nil {
			return nil, err
		}
		return &Result{
			Done:   false,
			Status: 401,
			Body:   unauthorizedBody(flows, id, nil, nil),
		}, nil
	}

	sess, err := e.load(auth.Session)
	if err != nil {
		id, genErr := newSessionID()
		if genErr != nil {
			return nil, genErr
		}
		return &Result{Done: false, Status: 401, Body: unauthorizedBody(flows, id, nil, nil)}, nil
	}

	if !nextStageMatches(flows, sess, auth.Type) {
		merr := merror.New(merror.Forbidden)
		extra := map[string]any{"errcode": merr.Code, "error": merr.Msg}
		return &Result{Done: false, Status: 401, Body: unauthorizedBody(flows, sess.SessionID, nil, extra)}, nil
	}

	ok, err := e.verifyStage(auth, sess)
	if err != nil {
		return nil, err
	}
	if !ok {
		merr := merror.New(merror.Forbidden)
		extra := map[string]any{"errcode": merr.Code, "error": merr.Msg}
		return &Result{Done: false, Status: 401, Body: unauthorizedBody(flows, sess.SessionID, nil, extra)}, nil
	}

	sess.Completed[auth.Type] = true
	if err := e.persist(sess); err != nil {
		return nil, err
	}

	if flowSatisfied(flows, sess) {
		return &Result{Done: true, Session: sess}, nil
	}
	return &Result{Done: false, Status: 401, Body: unauthorizedBody(flows, sess.SessionID, nil, nil)}, nil
}

// nextStageMatches reports whether stageType is the next required stage of
// at least one flow. A flow whose next stage differs does not veto the
// others.
func nextStageMatches(flows []Flow, sess *Session, stageType StageType) bool {
	for _, f := range flows {
		for _, st := range f {
			if sess.Completed[st] {
				continue
			}
			if st == stageType {
				return true
			}
			break
		}
	}
	return false
}

func flowSatisfied(flows []Flow, sess *Session) bool {
	for _, f := range flows {
		all := true
		for _, st := range f {
			if !sess.Completed[st] {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

func (e *Engine) verifyStage(auth AuthRequest, sess *Session) (bool, error) {
	switch auth.Type {
	case StageDummy:
		return true, nil
	case StagePassword:
		identifier, _ := auth.Fields["identifier"].(map[string]any)
		localpart, _ := identifier["user"].(string)
		password, _ := auth.Fields["password"].(string)
		if localpart == "" {
			localpart, _ = auth.Fields["user"].(string)
		}
		u, ref, err := e.users.Lock(localpart)
		if err != nil {
			return false, nil
		}
		defer func() { _ = e.users.Unlock(u, ref) }()
		if u.Deactivated {
			return false, nil
		}
		if !user.CheckPassword(u, password) {
			return false, nil
		}
		sess.User = localpart
		return true, nil
	case StageRegistrationToken:
		name, _ := auth.Fields["token"].(string)
		if name == "" || e.toks == nil {
			return false, nil
		}
		valid, grants, err := e.toks.CheckValid(name)
		if err != nil || !valid {
			return false, nil
		}
		sess.Params["registration_token_grants"] = schema.EncodePrivileges(grants)
		return true, nil
	default:
		return false, nil
	}
}

func (e *Engine) persist(sess *Session) error {
	p := sessionPath(sess.SessionID)
	ref, err := e.store.Lock(p)
	if err == objstore.ErrNotFound {
		ref, err = e.store.Create(p)
	}
	if err != nil {
		return fmt.Errorf("uia: persist session: %w", err)
	}
	ref.SetJSON(sessionToJSON(sess))
	return e.store.Unlock(ref)
}

func (e *Engine) load(id string) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("uia: empty session id")
	}
	ref, err := e.store.Lock(sessionPath(id))
	if err != nil {
		return nil, err
	}
	sess := sessionFromJSON(ref.JSON())
	if err := e.store.Unlock(ref); err != nil {
		return nil, err
	}
	if sess.SessionID == "" {
		sess.SessionID = id
	}
	return sess, nil
}

// Cleanup truncates the whole user_interactive collection, bounding
// session lifetime; the scheduler runs it on an interval.
func (e *Engine) Cleanup() error {
	return e.store.DeleteTree(objstore.Path{"user_interactive"})
}
