//go:build !embed_static

package api

import (
	"net/http"
	"os"
	"path/filepath"
)

// StaticHandler serves the map page from the source tree in dev, if present.
func (s *Server) StaticHandler(w http.ResponseWriter, r *http.Request) {
	base := filepath.Join("internal", "api", "embedded")
	if r.URL.Path == "/" || r.URL.Path == "/map" || r.URL.Path == "/map/" {
		p := filepath.Join(base, "map.html")
		if _, err := os.Stat(p); err != nil {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, p)
		return
	}
	switch name := filepath.Base(r.URL.Path); name {
	case "map.js", "map.css":
		p := filepath.Join(base, name)
		if _, err := os.Stat(p); err != nil {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, p)
	default:
		http.NotFound(w, r)
	}
}
