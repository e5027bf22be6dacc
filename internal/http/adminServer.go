package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"donorchat/internal/api"
	"donorchat/internal/ws"

	"github.com/go-chi/chi/v5"
)

type AdminServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAdminServer(hub *ws.Hub, addr, user, passwordHash string) *AdminServer {
	adminHandler := api.NewAdminHandler(hub)
	r := chi.NewRouter()
	r.Get("/admin/stats", api.RequireBasicAuth(user, passwordHash, adminHandler.StatsHandler))

	if addr == "" {
		addr = "localhost:8081"
	}

	return &AdminServer{
		server: &http.Server{
			Addr:    addr,
			Handler: r,
		},
	}
}

func (s *AdminServer) Start() error {
	slog.Info("admin API started", "addr", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
