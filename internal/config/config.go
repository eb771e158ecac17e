package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	ListenAddr     string
	RedisURL       string
	AllowedOrigins []string

	MaxBudgetMinutes     int
	DefaultBudgetMinutes int

	ResultWebhookURL   string
	ResultWebhookToken string
	MessagesDir        string

	LobbyTTL    time.Duration
	SnapshotTTL time.Duration
}

// Load reads the environment, after merging an optional .env file from the
// working directory. Existing variables win over .env entries.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the configuration from the process environment only.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:           ":3000",
		AllowedOrigins:       []string{"localhost:5173"},
		MaxBudgetMinutes:     59,
		DefaultBudgetMinutes: 5,
		LobbyTTL:             time.Hour,
		SnapshotTTL:          24 * time.Hour,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.ResultWebhookURL = strings.TrimSpace(os.Getenv("RESULT_WEBHOOK_URL"))
	cfg.ResultWebhookToken = strings.TrimSpace(os.Getenv("RESULT_WEBHOOK_TOKEN"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		var origins []string
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				origins = append(origins, s)
			}
		}
		if len(origins) > 0 {
			cfg.AllowedOrigins = origins
		}
	}

	if v := strings.TrimSpace(os.Getenv("MAX_BUDGET_MINUTES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 59 {
			cfg.MaxBudgetMinutes = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DEFAULT_BUDGET_MINUTES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DefaultBudgetMinutes = n
		}
	}
	if cfg.DefaultBudgetMinutes > cfg.MaxBudgetMinutes {
		cfg.DefaultBudgetMinutes = cfg.MaxBudgetMinutes
	}
	if v := strings.TrimSpace(os.Getenv("LOBBY_TTL_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LobbyTTL = time.Duration(n) * time.Second
		}
	}
	if v := strings.TrimSpace(os.Getenv("SNAPSHOT_TTL_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SnapshotTTL = time.Duration(n) * time.Second
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	return cfg, nil
}
