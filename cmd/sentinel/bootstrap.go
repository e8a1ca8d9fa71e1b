package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/gyaneshwarpardhi/sentinel/internal/alert"
	"github.com/gyaneshwarpardhi/sentinel/internal/audit"
	"github.com/gyaneshwarpardhi/sentinel/internal/config"
	"github.com/gyaneshwarpardhi/sentinel/internal/correlation"
	"github.com/gyaneshwarpardhi/sentinel/internal/engine"
	"github.com/gyaneshwarpardhi/sentinel/internal/ingest"
	"github.com/gyaneshwarpardhi/sentinel/internal/routing"
	"github.com/gyaneshwarpardhi/sentinel/internal/store/sqlite"
	"github.com/gyaneshwarpardhi/sentinel/internal/suppression"
)

// app is the wired service shared by serve, ingest and sweep.
type app struct {
	settings *config.Settings
	logger   *slog.Logger
	loader   *config.Loader
	engine   *engine.Engine
	closers  []func() error
}

// loadSettings reads settings and applies the --rules override.
func loadSettings() (*config.Settings, error) {
	s, err := config.LoadSettings(settingsPath)
	if err != nil {
		return nil, err
	}
	if rulesPath != "" {
		s.RulesPath = rulesPath
	}
	return s, nil
}

// newLogger builds the process logger. Logs go to stderr so command output
// on stdout stays machine-readable.
func newLogger(ls config.LogSettings, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(ls.Level)); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(ls.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// newApp opens every store named in the settings and builds the engine.
// A catalog that fails to load is fatal.
func newApp(ctx context.Context) (_ *app, err error) {
	s, err := loadSettings()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(s.Log, os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	a := &app{settings: s, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := os.MkdirAll(s.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	// ── Audit trail ───────────────────────────────────────────────────────────
	auditLog, sink, err := audit.OpenFile(s.AuditPath, nil)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, sink.Close)

	// ── Validation gate and routing policy ────────────────────────────────────
	tripwires, err := ingest.LoadTripwires(s.TripwirePath, ingest.DefaultMatchTimeout)
	if err != nil {
		return nil, err
	}
	gate, err := ingest.NewGate(ingest.Options{Tripwires: tripwires, Audit: auditLog, Logger: logger})
	if err != nil {
		return nil, err
	}
	policy, err := routing.Load(s.RoutingPath)
	if err != nil {
		return nil, err
	}

	// ── Alert stream ──────────────────────────────────────────────────────────
	alerts, err := alert.OpenFileStore(s.AlertsPath, auditLog, nil)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, alerts.Close)

	// ── State backends ────────────────────────────────────────────────────────
	var (
		corrRepo  correlation.Repository
		processed engine.ProcessedRepository
		suppBack  suppression.Backend
		writer    *sqlite.Worker
	)
	if s.State.Backend == "sqlite" {
		sqlDB, err := sqlite.Open(ctx, s.State.SQLitePath)
		if err != nil {
			return nil, err
		}
		writer = sqlite.NewWorker(sqlDB)
		a.closers = append(a.closers, sqlDB.Close, func() error { writer.Close(); return nil })
		corrRepo = sqlite.NewCorrelationRepository(sqlDB, writer)
		processed = sqlite.NewProcessedRepository(sqlDB, writer)
		if s.Suppression.Backend == "sqlite" {
			suppBack = sqlite.NewSuppressionBackend(sqlDB, writer)
		}
	} else {
		corrRepo = correlation.NewMemoryRepository()
		processed = engine.NewMemoryProcessed()
	}
	switch s.Suppression.Backend {
	case "memory":
		suppBack = suppression.NewMemoryBackend()
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     s.Redis.Addr,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping %s: %w", s.Redis.Addr, err)
		}
		suppBack = suppression.NewRedisBackend(client, s.Redis.Prefix)
	}

	corr := correlation.NewStore(corrRepo, auditLog, correlation.Options{
		Retention: s.Correlation.Retention,
		Logger:    logger,
	})
	if err := corr.Load(ctx); err != nil {
		return nil, err
	}

	// ── Rule catalog and engine ───────────────────────────────────────────────
	a.loader, err = config.NewLoader(s.RulesPath)
	if err != nil {
		return nil, err
	}
	a.engine, err = engine.New(ctx, a.loader.Config(), engine.Options{
		Gate:             gate,
		Audit:            auditLog,
		Alerts:           alerts,
		Correlations:     corr,
		Suppression:      suppression.NewStore(suppBack, suppression.Options{Retention: s.Suppression.Retention}),
		Processed:        processed,
		Routing:          policy,
		Conf:             s.Engine,
		SweepMaxDuration: s.Sweep.MaxDuration,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}
	// Pool workers are drained before any store is closed.
	a.closers = append(a.closers, func() error { a.engine.Shutdown(); return nil })

	a.loader.OnChange(func(cfg *config.RuleConfig) error {
		if err := a.engine.LoadRules(ctx, cfg); err != nil {
			logger.Warn("hot-reload skipped: catalog rejected", "err", err)
			return err
		}
		return nil
	})

	logger.Info("sentinel ready",
		"ruleset", a.engine.Catalog().Name(),
		"version", a.engine.Catalog().Version(),
		"state", s.State.Backend,
		"suppression", s.Suppression.Backend,
		"open_correlations", corr.CountOpen(),
	)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
