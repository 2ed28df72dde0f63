package handlers

import (
	"net/http"

	"github.com/matrixkeep/homeserver/internal/merror"
	"github.com/matrixkeep/homeserver/internal/schema"
	"github.com/matrixkeep/homeserver/internal/user"
)

// HandleAdminDeactivate implements DELETE|PUT
// /_matrix/client/v3/admin/deactivate/{localpart}: privilege-gated
// deactivation of another account.
func (d *Deps) HandleAdminDeactivate(w http.ResponseWriter, r *http.Request, matches []string) {
	if !requireMethod(w, r, http.MethodDelete, http.MethodPut) {
		return
	}
	a, ok := d.authenticate(w, r)
	if !ok {
		return
	}
	defer func() { _ = d.Auth.Release(a) }()

	if !schema.HasPrivilege(a.User.Privileges, schema.PrivDeactivate) {
		writeError(w, merror.New(merror.Forbidden, "requires deactivate privilege"))
		return
	}
	if len(matches) < 1 || matches[0] == "" {
		writeError(w, merror.New(merror.Unrecognized).WithStatus(http.StatusBadRequest))
		return
	}
	target := matches[0]

	var raw map[string]any
	_ = decodeJSON(r, &raw)
	reason, _ := raw["reason"].(string)

	u, ref, err := d.Users.Lock(target)
	if err != nil {
		writeError(w, merror.New(merror.NotFound, "unknown user"))
		return
	}
	defer func() { _ = d.Users.Unlock(u, ref) }()

	if err := user.DeleteTokens(d.Tokens, u, ""); err != nil {
		writeError(w, merror.New(merror.Unknown))
		return
	}
	user.Deactivate(u, a.User.Localpart, reason)
	writeJSON(w, http.StatusOK, map[string]any{})
}

// HandleAdminPrivilegesSelf implements GET/POST/PUT/DELETE
// /_matrix/client/v3/admin/privileges: read or mutate the caller's own
// privilege set. Mutating one's own set still requires GRANT_PRIVILEGES;
// self-service is a convenience path, not a bypass.
func (d *Deps) HandleAdminPrivilegesSelf(w http.ResponseWriter, r *http.Request, matches []string) {
	d.handlePrivileges(w, r, "")
}

// HandleAdminPrivilegesOther implements the same verbs against
// /_matrix/client/v3/admin/privileges/{localpart}.
func (d *Deps) HandleAdminPrivilegesOther(w http.ResponseWriter, r *http.Request, matches []string) {
	if len(matches) < 1 || matches[0] == "" {
		writeError(w, merror.New(merror.Unrecognized).WithStatus(http.StatusBadRequest))
		return
	}
	d.handlePrivileges(w, r, matches[0])
}

func (d *Deps) handlePrivileges(w http.ResponseWriter, r *http.Request, target string) {
	if !requireMethod(w, r, http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete) {
		return
	}
	a, ok := d.authenticate(w, r)
	if !ok {
		return
	}
	defer func() { _ = d.Auth.Release(a) }()

	self := target == "" || target == a.User.Localpart
	if !self && !schema.HasPrivilege(a.User.Privileges, schema.PrivGrantPrivileges) {
		writeError(w, merror.New(merror.Forbidden, "requires grant_privileges to target another user"))
		return
	}
	if r.Method != http.MethodGet && !schema.HasPrivilege(a.User.Privileges, schema.PrivGrantPrivileges) {
		writeError(w, merror.New(merror.Forbidden, "requires grant_privileges"))
		return
	}

	localpart := target
	if self {
		localpart = a.User.Localpart
	}

	if r.Method == http.MethodGet && self {
		writeJSON(w, http.StatusOK, map[string]any{"privileges": schema.EncodePrivileges(a.User.Privileges)})
		return
	}

	u, ref, err := d.Users.Lock(localpart)
	if err != nil {
		writeError(w, merror.New(merror.NotFound, "unknown user"))
		return
	}
	defer func() { _ = d.Users.Unlock(u, ref) }()

	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]any{"privileges": schema.EncodePrivileges(u.Privileges)})
		return
	}

	var raw map[string]any
	if merr := decodeJSON(r, &raw); merr != nil {
		writeError(w, merr)
		return
	}
	names, _ := raw["privileges"].([]any)
	strNames := make([]string, 0, len(names))
	for _, v := range names {
		if s, ok := v.(string); ok {
			strNames = append(strNames, s)
		}
	}
	set, err := schema.DecodePrivileges(strNames)
	if err != nil {
		writeError(w, merror.New(merror.BadJSON, err.Error()))
		return
	}

	switch r.Method {
	case http.MethodPost:
		u.Privileges |= set
	case http.MethodPut:
		u.Privileges = set
	case http.MethodDelete:
		u.Privileges &^= set
	}

	writeJSON(w, http.StatusOK, map[string]any{"privileges": schema.EncodePrivileges(u.Privileges)})
}

// HandleAdminProc implements POST /_matrix/client/v3/admin/proc/{action}:
// PROC_CONTROL-gated restart/shutdown/stats.
func (d *Deps) HandleAdminProc(w http.ResponseWriter, r *http.Request, matches []string) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	a, ok := d.authenticate(w, r)
	if !ok {
		return
	}
	defer func() { _ = d.Auth.Release(a) }()

	if !schema.HasPrivilege(a.User.Privileges, schema.PrivProcControl) {
		writeError(w, merror.New(merror.Forbidden, "requires proc_control privilege"))
		return
	}
	if len(matches) < 1 {
		writeError(w, merror.New(merror.Unrecognized).WithStatus(http.StatusBadRequest))
		return
	}
	if d.Proc == nil {
		writeError(w, merror.New(merror.Unknown, "process control is not wired up"))
		return
	}

	switch matches[0] {
	case "restart":
		if err := d.Proc.Restart(); err != nil {
			writeError(w, merror.New(merror.Unknown, err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{})
	case "shutdown":
		if err := d.Proc.Shutdown(); err != nil {
			writeError(w, merror.New(merror.Unknown, err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{})
	case "stats":
		writeJSON(w, http.StatusOK, d.Proc.Stats())
	default:
		writeError(w, merror.New(merror.Unrecognized).WithStatus(http.StatusBadRequest))
	}
}
