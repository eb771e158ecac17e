package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appcfg "github.com/park285/checkers-match/internal/config"
	"github.com/park285/checkers-match/internal/lobby"
	"github.com/park285/checkers-match/internal/match"
	"github.com/park285/checkers-match/internal/msgcat"
	"github.com/park285/checkers-match/internal/notify"
	"github.com/park285/checkers-match/internal/obslog"
	"github.com/park285/checkers-match/internal/wsserver"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	rdb, err := openRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis init error: %v", err)
	}
	defer func() { _ = rdb.Close() }()

	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		log.Fatalf("messages init error: %v", err)
	}

	opts := []match.ManagerOption{
		match.WithStore(match.NewRedisStore(rdb, cfg.SnapshotTTL)),
		match.WithCatalog(catalog),
		match.WithSessionOptions(
			match.WithMaxBudget(cfg.MaxBudgetMinutes),
			match.WithDefaultBudget(cfg.DefaultBudgetMinutes),
		),
	}
	if hook := notify.NewClient(cfg.ResultWebhookURL, notify.WithHeader("Authorization", bearer(cfg.ResultWebhookToken))); hook != nil {
		opts = append(opts, match.WithEndHook(hook.Hook()))
	}
	matches := match.NewManager(opts...)
	lb := lobby.NewManager(rdb, cfg.LobbyTTL, lobby.WithBudgets(cfg.DefaultBudgetMinutes, cfg.MaxBudgetMinutes))
	srv := wsserver.New(wsserver.Config{AllowedOrigins: cfg.AllowedOrigins}, lb, matches, wsserver.WithCatalog(catalog))

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("server_start", zap.String("addr", cfg.ListenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	// Wait for termination signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Warn("server_shutdown_error", zap.Error(err))
	}
	logger.Info("server_stop", zap.Int("live_matches", matches.Len()))
}

func openRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func bearer(token string) string {
	if token == "" {
		return ""
	}
	return "Bearer " + token
}
