package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "secret")
		t.Setenv("CORS_ORIGINS", " https://a.example , ,https://b.example")

		cfg, err := Load(false)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.APIAddr != ":8080" || cfg.DBFile != "donorchat.db" {
			t.Errorf("unexpected defaults: %+v", cfg)
		}
		if cfg.TokenCacheTTL != 10*time.Minute || cfg.SendBuffer != 256 || cfg.MaxMessageLength != 5000 {
			t.Errorf("unexpected numeric defaults: %+v", cfg)
		}
		if cfg.LogLevel != slog.LevelInfo {
			t.Errorf("LogLevel = %v", cfg.LogLevel)
		}
		if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
			t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
		}
		if cfg.AdminEnabled() {
			t.Error("admin should be disabled without a password hash")
		}
	})

	t.Run("SecretRequired", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")
		if _, err := Load(false); err == nil {
			t.Error("expected error without JWT_SECRET")
		}
		if _, err := Load(true); err != nil {
			t.Errorf("CLI mode should not need JWT_SECRET: %v", err)
		}
	})

	t.Run("InvalidValues", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "secret")
		for key, value := range map[string]string{
			"SEND_BUFFER":        "0",
			"MAX_MESSAGE_LENGTH": "abc",
			"TOKEN_CACHE_TTL":    "forever",
			"LOG_LEVEL":          "loud",
		} {
			t.Run(key, func(t *testing.T) {
				t.Setenv(key, value)
				if _, err := Load(false); err == nil {
					t.Errorf("expected error for %s=%s", key, value)
				}
			})
		}
	})
}
