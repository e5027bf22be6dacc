package http

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"donorchat/internal/api"
	"donorchat/internal/auth"
	"donorchat/internal/ws"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

type APIConfig struct {
	Addr           string
	AllowedOrigins []string
	SendBuffer     int
}

// NewRouter builds the public handler: REST under /api/v1, the websocket
// endpoint and a liveness check. Websocket connections are bound to ctx.
func NewRouter(ctx context.Context, authService *auth.AuthService, hub *ws.Hub, cfg APIConfig) http.Handler {
	server := ws.NewServer(ctx, authService, hub, cfg.AllowedOrigins, cfg.SendBuffer)
	apiHandlers := api.New(hub)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Without CORS_ORIGINS the API is same-origin only.
	if origins := cfg.AllowedOrigins; len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: !slices.Contains(origins, "*"),
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(authService.Middleware)
		apiHandlers.Routes(r)
	})

	// WebSocket endpoint
	r.Get("/ws", server.HandleConnections)

	return r
}

func NewAPIServer(ctx context.Context, authService *auth.AuthService, hub *ws.Hub, cfg APIConfig) *APIServer {
	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(ctx, authService, hub, cfg),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *APIServer) Start() error {
	slog.Info("server started", "addr", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
