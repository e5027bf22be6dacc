package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"donorchat/internal/auth"
	"donorchat/internal/commands"
	"donorchat/internal/config"
	"donorchat/internal/http"
	"donorchat/internal/storage"
	"donorchat/internal/ws"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("donorchat", flag.ContinueOnError)
	stats := fs.Bool("stats", false, "Print live connection stats from the running server's admin API")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*stats)
	if err != nil {
		return err
	}

	if *stats {
		return commands.PrintStats(cfg, os.Stdout)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	authService, err := auth.NewAuthService(ctx, auth.Config{
		Secret:   cfg.JWTSecret,
		CacheTTL: cfg.TokenCacheTTL,
	})
	if err != nil {
		return err
	}

	hub := ws.NewHub(bbStorage, ws.HubConfig{MaxMessageLength: cfg.MaxMessageLength})

	apiServer := http.NewAPIServer(ctx, authService, hub, http.APIConfig{
		Addr:           cfg.APIAddr,
		AllowedOrigins: cfg.CORSOrigins,
		SendBuffer:     cfg.SendBuffer,
	})

	var adminServer *http.AdminServer
	if cfg.AdminEnabled() {
		adminServer = http.NewAdminServer(hub, cfg.AdminAddr, cfg.AdminUser, cfg.AdminPasswordHash)
	} else {
		slog.Warn("ADMIN_PASSWORD_HASH not set, admin API disabled")
	}

	g, gCtx := errgroup.WithContext(ctx)

	if adminServer != nil {
		g.Go(func() error {
			err := adminServer.Start()
			if err != nil && err != oshttp.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if adminServer != nil {
			if err := adminServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("admin server shutdown", "error", err)
			}
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("API server shutdown", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
