//go:build embed_static

package api

import (
	_ "embed"
	"net/http"
)

//go:embed embedded/map.html
var mapHTML []byte

//go:embed embedded/map.js
var mapJS []byte

//go:embed embedded/map.css
var mapCSS []byte

// StaticHandler serves the embedded map page.
func (s *Server) StaticHandler(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/static/map.js":
		w.Header().Set("Content-Type", "application/javascript")
		w.WriteHeader(200)
		_, _ = w.Write(mapJS)
	case "/static/map.css":
		w.Header().Set("Content-Type", "text/css")
		w.WriteHeader(200)
		_, _ = w.Write(mapCSS)
	case "/", "/map", "/map/":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(200)
		_, _ = w.Write(mapHTML)
	default:
		http.NotFound(w, r)
	}
}
