package ws

import (
	"context"
	"log/slog"
	"net/http"
	"slices"

	"donorchat/internal/auth"

	"github.com/gorilla/websocket"
)

const maxMessageSize = 64 << 10

type Server struct {
	ctx        context.Context
	auth       *auth.AuthService
	hub        *Hub
	upgrader   *websocket.Upgrader
	sendBuffer int
}

// NewServer returns the websocket endpoint. Connections live until the
// client goes away or ctx is cancelled. Without allowedOrigins only
// same-origin upgrades are accepted.
func NewServer(ctx context.Context, auth *auth.AuthService, hub *Hub, allowedOrigins []string, sendBuffer int) *Server {
	upgrader := &websocket.Upgrader{}
	if len(allowedOrigins) > 0 {
		upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
		}
	}

	return &Server{
		ctx:        ctx,
		auth:       auth,
		hub:        hub,
		sendBuffer: sendBuffer,
		upgrader:   upgrader,
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	claims, err := s.auth.Authenticate(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("error upgrading to websocket", "error", err)
		return
	}
	ws.SetReadLimit(maxMessageSize)

	conn := NewConnection(s.hub, ws, claims.UserID, s.sendBuffer)
	slog.Debug("websocket connected", "conn_id", conn.ID(), "user_id", claims.UserID)

	if err := conn.Handle(s.ctx); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		slog.Debug("websocket closed", "conn_id", conn.ID(), "user_id", claims.UserID, "error", err)
	}
}
