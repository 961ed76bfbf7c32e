// Package app wires the chatlink client runtime: config, logging, the sync
// engine, the realtime transport, the optional local archive, and metrics.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "chatlink/contracts/chat/v1"
	"chatlink/internal/api"
	"chatlink/internal/engine"
	"chatlink/internal/metrics"
	"chatlink/internal/store"
	"chatlink/internal/transport"
)

// Runtime is the chatlink client runtime: it owns the engine, the websocket
// transport, and the lifecycle of DB-backed resources.
type Runtime struct {
	cfg Config
	log Logger

	engine    *engine.Engine
	transport *transport.Client
	met       *metrics.Metrics
	registry  *prometheus.Registry

	pool      *pgxpool.Pool
	dbEnabled bool
}

// deferredEmitter breaks the engine/transport construction cycle: the engine
// is built first with this emitter, the transport is bound afterwards.
type deferredEmitter struct {
	c *transport.Client
}

func (d *deferredEmitter) Emit(env v1.Envelope) bool {
	if d.c == nil {
		return false
	}
	return d.c.Emit(env)
}

// New constructs a fully wired Runtime from config and logger.
func New(ctx context.Context, cfg Config, log Logger, listener engine.Listener) (*Runtime, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogPretty)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	met := metrics.New(registry)

	backend, err := api.New(log, cfg.ServerURL)
	if err != nil {
		return nil, err
	}

	archive, pool, dbEnabled, err := newArchive(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	emitter := &deferredEmitter{}

	eng := engine.New(engine.Options{
		Log:              log,
		Emitter:          emitter,
		Backend:          backend,
		Archive:          archive,
		Listener:         listener,
		Metrics:          met,
		TypingInactivity: cfg.TypingInactivity,
		UndoWindow:       cfg.UndoWindow,
	})

	tc, err := transport.New(log, transport.Options{
		URL:               cfg.WSURL,
		SendQueueSize:     cfg.SendQueueSize,
		WriteTimeout:      cfg.WriteTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		ReconnectMin:      cfg.ReconnectMin,
		ReconnectMax:      cfg.ReconnectMax,
	}, eng, met)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}
	emitter.c = tc

	return &Runtime{
		cfg:       cfg,
		log:       log,
		engine:    eng,
		transport: tc,
		met:       met,
		registry:  registry,
		pool:      pool,
		dbEnabled: dbEnabled,
	}, nil
}

// Engine exposes the sync engine for UI adapters.
func (r *Runtime) Engine() *engine.Engine { return r.engine }

// Run serves the transport (and the metrics endpoint if configured) until
// context cancellation, then releases DB resources.
func (r *Runtime) Run(ctx context.Context) error {
	r.log.Info("client.start", "ws_url", r.cfg.WSURL, "db_enabled", r.dbEnabled)

	var metricsSrv *http.Server
	metricsErr := make(chan error, 1)
	if r.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))

		metricsSrv = &http.Server{
			Addr:              r.cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				metricsErr <- err
			}
		}()
		r.log.Info("metrics.listen", "addr", r.cfg.MetricsAddr)
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- r.transport.Run(ctx)
	}()

	var err error
	select {
	case <-ctx.Done():
		r.log.Info("client.stop", "reason", "context_done")
		err = <-runErr
	case err = <-runErr:
		if err != nil {
			r.log.Error("transport.fail", "err", err)
		}
	case err = <-metricsErr:
		r.log.Error("metrics.fail", "err", err)
	}

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}

	if r.pool != nil {
		r.pool.Close()
	}

	r.log.Info("client.stopped")
	return err
}

// newArchive decides between a Postgres-backed local archive and the no-op
// archive.
func newArchive(ctx context.Context, cfg Config, log Logger) (store.Archive, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("archive.disabled")
		return store.NopArchive{}, nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, err
	}

	arch, err := store.NewPostgresArchive(ctx, pool, store.WithArchiveSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, err
	}

	log.Info("archive.enabled.postgres")
	return arch, pool, true, nil
}
