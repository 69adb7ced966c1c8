// Package app wires configuration into a store, an engine and the metrics
// registry shared by the CLI and the server.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"castline/internal/config"
	"castline/internal/db"
	"castline/internal/engine"
	"castline/internal/metrics"
	"castline/internal/migrate"
	"castline/internal/report"
	"castline/internal/store"
	"castline/internal/store/memory"
	"castline/internal/store/mongostore"
	"castline/internal/store/sqlstore"
)

// Runtime holds everything a command or server needs for one workspace.
type Runtime struct {
	Config   *config.Config
	Store    store.Store
	Engine   engine.Engine
	Registry *prometheus.Registry
	Logger   *slog.Logger
	closers  []func(context.Context) error
}

// Open builds a runtime from cfg. SQL backends are migrated on open.
func Open(ctx context.Context, workspace string, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	st, closer, err := OpenStore(ctx, workspace, cfg.Store)
	if err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	eng := engine.New(st, cfg)
	eng.Logger = logger
	eng.Metrics = metrics.New(reg)
	rt := &Runtime{Config: cfg, Store: st, Engine: eng, Registry: reg, Logger: logger}
	if closer != nil {
		rt.closers = append(rt.closers, closer)
	}
	logger.Debug("runtime opened", "driver", cfg.Store.Driver, "batch_limit", st.BatchLimit())
	return rt, nil
}

// Close releases store connections.
func (r *Runtime) Close(ctx context.Context) error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	r.closers = nil
	return first
}

// OpenStore opens the configured document store backend.
func OpenStore(ctx context.Context, workspace string, cfg config.StoreConfig) (store.Store, func(context.Context) error, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.New(cfg.BatchLimit), nil, nil
	case "", config.DriverSQLite, config.DriverPostgres:
		dialect := db.DialectSQLite
		if cfg.Driver == config.DriverPostgres {
			dialect = db.DialectPostgres
		}
		conn, err := db.Open(db.Config{Dialect: dialect, DSN: cfg.DSN, Workspace: workspace})
		if err != nil {
			return nil, nil, err
		}
		if err := conn.PingContext(ctx); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("connect %s: %w", dialect, err)
		}
		if err := migrate.Migrate(conn, dialect); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return sqlstore.New(conn, dialect, cfg.BatchLimit), func(context.Context) error { return conn.Close() }, nil
	case config.DriverMongo:
		database := cfg.Database
		if database == "" {
			database = "castline"
		}
		st, err := mongostore.Connect(ctx, cfg.DSN, database, cfg.BatchLimit)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
}

// NewLogger builds the slog handler selected by the log section.
func NewLogger(w io.Writer, cfg config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// OpenReports builds the report sink. Relative fs directories resolve
// against the workspace.
func OpenReports(ctx context.Context, workspace string, cfg config.ReportsConfig) (report.Sink, error) {
	if (cfg.Sink == "" || cfg.Sink == config.SinkFS) && cfg.Dir != "" && !filepath.IsAbs(cfg.Dir) {
		cfg.Dir = filepath.Join(workspace, cfg.Dir)
	}
	return report.Open(ctx, cfg)
}
