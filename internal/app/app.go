// Package app builds the configured runtime shared by the rackscan CLI and
// the analysis worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/efebarandurmaz/rackscan/internal/config"
	"github.com/efebarandurmaz/rackscan/internal/discovery"
	"github.com/efebarandurmaz/rackscan/internal/graph"
	"github.com/efebarandurmaz/rackscan/internal/graph/neo4j"
	"github.com/efebarandurmaz/rackscan/internal/observability"
	"github.com/efebarandurmaz/rackscan/internal/reportcache"
	"github.com/efebarandurmaz/rackscan/internal/server"
	"github.com/efebarandurmaz/rackscan/internal/service"
	"github.com/efebarandurmaz/rackscan/internal/store"
	"github.com/efebarandurmaz/rackscan/internal/store/badgerstore"
	"github.com/efebarandurmaz/rackscan/internal/vector"
	"github.com/efebarandurmaz/rackscan/internal/vector/qdrant"
)

// Version is reported by health checks and traces.
const Version = "1.0.0"

// App holds every long-lived dependency.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    store.Store
	Graph    graph.Repository
	Vector   vector.Repository
	Metrics  *observability.Metrics
	Tracing  *observability.TracerProvider
	Audit    *observability.AuditLogger
	Analyzer *service.Analyzer
}

// NewLogger builds the slog logger described by cfg.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// New opens the store and optional mirrors and wires the analyzer. Mirrors
// that cannot be reached are logged and left disabled.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Metrics: observability.DefaultMetrics()}

	tp, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    "rackscan",
		ServiceVersion: Version,
		Environment:    "production",
		OTLPEndpoint:   cfg.Observability.OTLPEndpoint,
		SampleRate:     1.0,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	a.Tracing = tp

	if cfg.Observability.AuditLog != "" {
		if err := observability.InitGlobalAuditLogger(&observability.AuditConfig{
			Enabled:    true,
			OutputPath: cfg.Observability.AuditLog,
			SessionID:  uuid.NewString(),
		}); err != nil {
			return nil, fmt.Errorf("audit log: %w", err)
		}
	}
	a.Audit = observability.Audit()

	if a.Store, err = openStore(cfg.Store, logger); err != nil {
		return nil, err
	}

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithMetrics(a.Metrics),
		service.WithAudit(a.Audit),
		service.WithMaxAge(cfg.Reanalysis.MaxAge()),
		service.WithWorkers(cfg.Workers),
		service.WithEngine(discovery.NewEngine(discovery.WithLogger(logger), discovery.WithMetrics(a.Metrics))),
		service.WithCache(reportcache.New(cfg.Cache.TTL,
			reportcache.WithMetrics(a.Metrics), reportcache.WithLogger(logger))),
	}

	if cfg.Graph.URI != "" {
		repo, err := neo4j.New(ctx, cfg.Graph.URI, cfg.Graph.Username, cfg.Graph.Password)
		if err != nil {
			logger.Warn("graph mirror disabled", "uri", cfg.Graph.URI, "error", err)
		} else {
			a.Graph = repo
			opts = append(opts, service.WithGraph(repo))
		}
	}
	if cfg.Vector.Host != "" {
		repo, err := qdrant.New(ctx, cfg.Vector.Host, cfg.Vector.Port, cfg.Vector.Collection)
		if err != nil {
			logger.Warn("similarity index disabled", "host", cfg.Vector.Host, "error", err)
		} else {
			a.Vector = repo
			opts = append(opts, service.WithIndex(repo))
		}
	}

	a.Analyzer = service.New(a.Store, opts...)
	return a, nil
}

func openStore(cfg config.StoreConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Backend {
	case "badger":
		bc := badgerstore.DefaultConfig(cfg.Path)
		bc.Logger = logger
		st, err := badgerstore.Open(bc)
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		return st, nil
	default:
		return store.NewMemory(), nil
	}
}

// RegisterChecks adds a health check per configured dependency.
func (a *App) RegisterChecks(h *server.HealthServer) {
	h.RegisterCheck("store", server.StoreChecker(a.Store.CountRacks))
	var graphPing, vectorPing func(context.Context) error
	if a.Graph != nil {
		graphPing = func(ctx context.Context) error {
			_, err := a.Graph.Descendants(ctx, "", "")
			return err
		}
	}
	if a.Vector != nil {
		vectorPing = func(ctx context.Context) error {
			_, err := a.Vector.Search(ctx, make([]float32, vector.Dimensions), 1)
			return err
		}
	}
	h.RegisterCheck("graph", server.OptionalChecker("neo4j", graphPing))
	h.RegisterCheck("vector", server.OptionalChecker("qdrant", vectorPing))
}

// RegisterHooks closes backends on shutdown in dependency order.
func (a *App) RegisterHooks(s *server.ShutdownHandler) {
	if a.Graph != nil {
		s.Add(server.MirrorShutdownHook("neo4j", a.Graph.Close))
	}
	if a.Vector != nil {
		s.Add(server.MirrorShutdownHook("qdrant", func(context.Context) error { return a.Vector.Close() }))
	}
	s.Add(server.TracingShutdownHook(a.Tracing.Shutdown))
	s.Add(server.StoreShutdownHook(a.Store.Close))
	s.Add(server.AuditLoggerShutdownHook(a.Audit.Close))
}

// Close releases everything New opened. It is used by one-shot commands.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Graph != nil {
		errs = append(errs, a.Graph.Close(ctx))
	}
	if a.Vector != nil {
		errs = append(errs, a.Vector.Close())
	}
	if a.Tracing != nil {
		errs = append(errs, a.Tracing.Shutdown(ctx))
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	errs = append(errs, a.Audit.Close())
	return errors.Join(errs...)
}
