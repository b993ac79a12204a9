// cmd/service/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github-star-sync/internal/api"
	"github-star-sync/internal/auth"
	"github-star-sync/internal/config"
	"github-star-sync/internal/database"
	"github-star-sync/internal/database/backend"
	"github-star-sync/internal/github"
	"github-star-sync/internal/lock"
	"github-star-sync/internal/metrics"
	"github-star-sync/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Application startup error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Initialize structured logger
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded successfully")

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Initialize application components
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// 5. Start the background syncer when enabled
	if a.syncer != nil {
		go a.syncer.Start(ctx)
	}

	// 6. Serve HTTP until shutdown
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Streams end when ctx is canceled, which lets Shutdown finish.
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received. Exiting.")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

// app holds the wired service.
type app struct {
	store    database.Store
	pipeline *syncer.Pipeline
	syncer   *syncer.Syncer
	sessions *auth.Sessions
	handler  http.Handler
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.store, err = backend.Open(ctx, cfg.DBURL, logger, backend.Options{})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	ghClient, err := github.NewClient(github.Options{
		BaseURL:           cfg.GithubAPIURL,
		Timeout:           cfg.UpstreamTimeout,
		RequestsPerSecond: cfg.UpstreamRPS,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create github client: %w", err)
	}

	locker, err := newLocker(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if c, ok := locker.(*lock.RedisLocker); ok {
		a.closers = append(a.closers, func() { _ = c.Close() })
	}

	a.pipeline, err = syncer.NewPipeline(a.store, ghClient, locker, m, logger, syncer.Options{
		PerPage:       cfg.GithubPerPage,
		ProbePages:    cfg.ProbePages,
		Concurrency:   cfg.FetchConcurrency,
		MaxPages:      cfg.MaxPages,
		BatchSize:     cfg.BatchSize,
		BatchWindow:   cfg.BatchWindow,
		CachePageSize: cfg.CachePageSize,
		StaleWindow:   cfg.StaleWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	if cfg.SyncInterval > 0 {
		a.syncer, err = syncer.NewSyncer(a.store, a.pipeline, logger, cfg.SyncInterval)
		if err != nil {
			return nil, fmt.Errorf("failed to create syncer: %w", err)
		}
	}

	a.sessions = auth.NewSessions(cfg.SessionSecret, cfg.SessionTTL, a.store)
	a.handler = api.NewRouter(a.store, a.pipeline, a.sessions, logger, api.Options{
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Heartbeat: cfg.HeartbeatInterval,
	})
	return a, nil
}

// newLocker returns a Redis-backed lock when REDIS_URL is set so that several
// replicas serialise syncs of the same user.
func newLocker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (lock.Locker, error) {
	if cfg.RedisURL == "" {
		return lock.NewMemoryLocker(), nil
	}
	l, err := lock.NewRedisLocker(cfg.RedisURL, cfg.LockTTL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis locker: %w", err)
	}
	if err := l.Ping(ctx); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	logger.Info("Using redis for per-user sync locks")
	return l, nil
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
