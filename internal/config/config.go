package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DBFile            string
	APIAddr           string
	AdminAddr         string
	JWTSecret         string
	TokenCacheTTL     time.Duration
	CORSOrigins       []string
	AdminUser         string
	AdminPasswordHash string
	// AdminPassword is only used by the CLI to call the admin API.
	AdminPassword    string
	SendBuffer       int
	MaxMessageLength int
	LogLevel         slog.Level
}

func Load(cliMode bool) (*Config, error) {
	cacheTTL, err := time.ParseDuration(getEnv("TOKEN_CACHE_TTL", "10m"))
	if err != nil {
		return nil, fmt.Errorf("TOKEN_CACHE_TTL: %w", err)
	}
	sendBuffer, err := strconv.Atoi(getEnv("SEND_BUFFER", "256"))
	if err != nil {
		return nil, fmt.Errorf("SEND_BUFFER: %w", err)
	}
	maxLen, err := strconv.Atoi(getEnv("MAX_MESSAGE_LENGTH", "5000"))
	if err != nil {
		return nil, fmt.Errorf("MAX_MESSAGE_LENGTH: %w", err)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	cfg := &Config{
		DBFile:            getEnv("DONORCHAT_DB", "donorchat.db"),
		APIAddr:           getEnv("API_ADDR", ":8080"),
		AdminAddr:         getEnv("ADMIN_ADDR", "localhost:8081"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		TokenCacheTTL:     cacheTTL,
		CORSOrigins:       splitList(os.Getenv("CORS_ORIGINS")),
		AdminUser:         getEnv("ADMIN_USER", "admin"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		AdminPassword:     os.Getenv("ADMIN_PASSWORD"),
		SendBuffer:        sendBuffer,
		MaxMessageLength:  maxLen,
		LogLevel:          level,
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(cliMode bool) error {
	if c.JWTSecret == "" && !cliMode {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.TokenCacheTTL <= 0 {
		return fmt.Errorf("TOKEN_CACHE_TTL must be greater than 0")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("SEND_BUFFER must be greater than 0")
	}
	if c.MaxMessageLength <= 0 {
		return fmt.Errorf("MAX_MESSAGE_LENGTH must be greater than 0")
	}

	return nil
}

// AdminEnabled reports whether the admin listener should run.
func (c *Config) AdminEnabled() bool {
	return c.AdminPasswordHash != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
