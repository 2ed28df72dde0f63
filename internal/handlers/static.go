package handlers

import (
	"io/fs"
	"net/http"
	"strings"
)

// HandleStatic implements GET /_matrix/static/*: serves the embedded
// static asset tree.
func (d *Deps) HandleStatic(w http.ResponseWriter, r *http.Request, matches []string) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	name := ""
	if len(matches) > 0 {
		name = matches[0]
	}
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		name = "index.html"
	}

	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeFileFS(w, r, sub, name)
}
