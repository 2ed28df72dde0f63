package handlers

import "net/http"

// supportedVersions is the set of Client-Server API versions this
// homeserver advertises at GET /versions.
var supportedVersions = []string{"r0.6.1", "v1.1", "v1.2", "v1.3"}

// HandleVersions implements GET /_matrix/client/versions.
func (d *Deps) HandleVersions(w http.ResponseWriter, r *http.Request, matches []string) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"versions": supportedVersions,
		"unstable_features": map[string]bool{
			"org.matrix.msc2283": false,
		},
	})
}

// HandleCapabilities implements GET /_matrix/client/v3/capabilities: a
// static capability document reflecting what this implementation
// supports.
func (d *Deps) HandleCapabilities(w http.ResponseWriter, r *http.Request, matches []string) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	a, ok := d.authenticate(w, r)
	if !ok {
		return
	}
	defer func() { _ = d.Auth.Release(a) }()

	writeJSON(w, http.StatusOK, map[string]any{
		"capabilities": map[string]any{
			"m.change_password":    map[string]any{"enabled": true},
			"m.set_displayname":    map[string]any{"enabled": true},
			"m.set_avatar_url":     map[string]any{"enabled": true},
			"m.3pid_changes":       map[string]any{"enabled": false},
			"m.room_versions": map[string]any{
				"default": "9",
				"available": map[string]string{
					"9": "stable",
				},
			},
		},
	})
}

// HandleWellKnownClient implements GET /.well-known/matrix/client,
// pointing clients at this homeserver's base URL.
func (d *Deps) HandleWellKnownClient(w http.ResponseWriter, r *http.Request, matches []string) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	h, err := d.Config.Lock()
	if err != nil || h.Err != "" {
		if h != nil {
			_ = d.Config.Unlock(h)
		}
		writeJSON(w, http.StatusNotFound, map[string]any{})
		return
	}
	baseURL := h.Config.BaseURL
	_ = d.Config.Unlock(h)

	writeJSON(w, http.StatusOK, map[string]any{
		"m.homeserver": map[string]string{"base_url": baseURL},
	})
}

// HandleWellKnownServer implements GET /.well-known/matrix/server, used
// by federating servers to discover this server's actual host:port.
func (d *Deps) HandleWellKnownServer(w http.ResponseWriter, r *http.Request, matches []string) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	serverName := d.serverName()
	writeJSON(w, http.StatusOK, map[string]any{
		"m.server": serverName,
	})
}
