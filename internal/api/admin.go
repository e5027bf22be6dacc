package api

import (
	"crypto/subtle"
	"net/http"

	"donorchat/internal/ws"

	"golang.org/x/crypto/bcrypt"
)

type AdminHandler struct {
	hub *ws.Hub
}

func NewAdminHandler(hub *ws.Hub) *AdminHandler {
	return &AdminHandler{hub: hub}
}

func (h *AdminHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.hub.Stats())
}

// RequireBasicAuth protects next with HTTP basic auth against a bcrypt
// password hash.
func RequireBasicAuth(user, passwordHash string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(u), []byte(user)) == 1
		if !ok || !userOK || bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(p)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="donorchat admin"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
