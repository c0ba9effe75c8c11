package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kalambet/fluxmcp/internal/bfl"
	"github.com/kalambet/fluxmcp/internal/config"
	"github.com/kalambet/fluxmcp/internal/metrics"
	"github.com/kalambet/fluxmcp/internal/orchestrator"
	"github.com/kalambet/fluxmcp/internal/poll"
	"github.com/kalambet/fluxmcp/internal/registry"
	"github.com/kalambet/fluxmcp/internal/storage"
)

// app is the wired set of components shared by serve and the one-shot commands.
type app struct {
	cfg     config.Config
	orch    *orchestrator.Orchestrator
	store   *storage.Store // nil unless the registry is SQLite-backed
	metrics *prometheus.Registry
	closers []func() error
}

// loadConfig loads configuration and fails early without an API key.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if err := config.RequireAPIKey(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// newApp builds the orchestrator and its registry backend. One-shot commands
// record into the SQLite history when the configured backend is in-memory,
// since that state would not outlive the process.
func newApp(ctx context.Context, cfg config.Config, oneShot bool) (*app, error) {
	a := &app{cfg: cfg, metrics: prometheus.NewRegistry()}
	a.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	backend := strings.ToLower(cfg.Registry.Backend)
	if oneShot && backend == "memory" {
		backend = "sqlite"
	}
	reg, err := a.openRegistry(ctx, backend)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []bfl.Option{
		bfl.WithBaseURL(cfg.Provider.BaseURL),
		bfl.WithTimeout(cfg.Provider.Timeout),
	}
	if cfg.Provider.RateLimit > 0 {
		opts = append(opts, bfl.WithRateLimit(cfg.Provider.RateLimit, cfg.Provider.RateBurst))
	}

	a.orch = orchestrator.New(orchestrator.Deps{
		Provider:         bfl.New(cfg.Provider.APIKey, opts...),
		Registry:         reg,
		Poller:           newPoller(cfg.Poll),
		Metrics:          metrics.NewCollector("fluxmcp", a.metrics),
		Logger:           slog.Default(),
		MaxArtifactBytes: int64(cfg.Artifact.MaxBytes),
		DownloadDir:      cfg.Artifact.DownloadDir,
	})
	return a, nil
}

func (a *app) openRegistry(ctx context.Context, backend string) (orchestrator.Registry, error) {
	switch backend {
	case "memory":
		return registry.NewMemory(a.cfg.Registry.Capacity, a.cfg.Registry.TTL), nil
	case "sqlite":
		store, err := storage.Open(ctx, a.cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		a.store = store
		a.closers = append(a.closers, store.Close)
		return storage.NewRegistry(store, a.cfg.Registry.Capacity), nil
	case "redis":
		r, err := registry.OpenRedis(ctx, a.cfg.Registry.RedisURL, a.cfg.Registry.TTL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, r.Close)
		return r, nil
	default:
		return nil, fmt.Errorf("unknown registry backend %q (want memory, sqlite or redis)", backend)
	}
}

func newPoller(pc config.PollConfig) *poll.Poller {
	return &poll.Poller{
		MaxAttempts:    pc.MaxAttempts,
		Interval:       pc.Interval,
		MaxInterval:    pc.MaxInterval,
		Multiplier:     pc.Multiplier,
		Jitter:         pc.Jitter,
		RetryTransient: pc.RetryTransient,
		Transient:      bfl.IsTransient,
		Logger:         slog.Default(),
	}
}

// Close releases registry connections in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closing resource", "error", err)
		}
	}
	a.closers = nil
}
