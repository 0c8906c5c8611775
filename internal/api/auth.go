package api

import (
	"net/http"
	"strings"
)

// isAdmin reports whether the request carries the configured admin token.
// With no token configured, every request is admin (dev mode).
func (s *Server) isAdmin(r *http.Request) bool {
	if s.Cfg.AdminToken == "" {
		return true
	}
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return false
	}
	return strings.TrimSpace(authz[len("Bearer "):]) == s.Cfg.AdminToken
}
