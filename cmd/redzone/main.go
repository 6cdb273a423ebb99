// Command redzone runs the channel-hopping service: it polls league
// telemetry, recommends the most watchable mapped contest, and tunes the
// TV through the provider's web remote.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/redzone/config"
	"github.com/hazyhaar/redzone/eventlog"
	"github.com/hazyhaar/redzone/httpapi"
	"github.com/hazyhaar/redzone/mapping"
	"github.com/hazyhaar/redzone/recommend"
	"github.com/hazyhaar/redzone/session"
	"github.com/hazyhaar/redzone/telemetry"
	_ "modernc.org/sqlite"
)

func main() {
	cfgPath := env("REDZONE_CONFIG", "redzone.yaml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	if addr := os.Getenv("LISTEN"); addr != "" {
		cfg.Listen = addr
	}
	if db := os.Getenv("DB_PATH"); db != "" {
		cfg.DBPath = db
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = lvl
	}

	// Logging.
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Persistence.
	store, err := mapping.Open(ctx, cfg.DBPath)
	if err != nil {
		logger.Error("open mappings db", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer store.DB().Close()

	events := eventlog.New(0)

	// Telemetry.
	var srcOpts []telemetry.ClientOption
	srcOpts = append(srcOpts, telemetry.WithLogger(logger))
	source := telemetry.NewScoreboardClient(cfg.ScoreboardURL, srcOpts...)

	// Session orchestration.
	orch := session.New(cfg.Providers, store, cfg.Session, events, logger)
	defer orch.Close()
	if err := orch.Restore(ctx); err != nil {
		logger.Warn("restore provider", "error", err)
	}

	// Recommendation loop.
	monitor := recommend.NewMonitor(source, store, orch, cfg.Monitor, events, logger)
	defer monitor.Stop()

	// HTTP API.
	svc := httpapi.New(ctx, source, store, monitor, orch, events, logger)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           svc.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
