// Package app wires the engine's components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"shift-engine/internal/assignment"
	"shift-engine/internal/audit"
	"shift-engine/internal/config"
	"shift-engine/internal/db"
	"shift-engine/internal/dispatch"
	"shift-engine/internal/metrics"
	"shift-engine/internal/notify"
	"shift-engine/internal/roster"
	"shift-engine/internal/scheduler"
	"shift-engine/internal/store"
	"shift-engine/internal/transfer"
)

// App holds the wired services. Close releases every connection it opened.
type App struct {
	Config    *config.Config
	Log       *zap.Logger
	Store     store.Store
	Engine    *assignment.Engine
	Transfers *transfer.Service
	Roster    *roster.Service
	Dispatch  *dispatch.Service
	Scheduler *scheduler.Scheduler
	Metrics   metrics.Collector
	Registry  *prometheus.Registry
	// Recent keeps the latest audit events for the API.
	Recent *audit.Recorder

	closers []func() error
}

// New connects the configured backends and registers the scheduler jobs. It
// does not start the scheduler.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	pm, err := metrics.NewPrometheus(a.Registry, "")
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	a.Metrics = pm

	if a.Store, err = a.openStore(ctx); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Store.Close)

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		a.closers = append(a.closers, rdb.Close)
	}

	sink, err := a.notifier(rdb)
	if err != nil {
		return nil, err
	}
	auditSink, err := a.auditSink(ctx)
	if err != nil {
		return nil, err
	}

	loc := cfg.Location()
	scorer := assignment.NewScorer(cfg.Scoring,
		assignment.WithGeography(assignment.ZoneGeography{Neutral: cfg.Scoring.NeutralScore}))
	a.Engine = assignment.NewEngine(a.Store, cfg.Scoring,
		assignment.WithScorer(scorer),
		assignment.WithNotifier(sink),
		assignment.WithAudit(auditSink),
		assignment.WithMetrics(a.Metrics),
		assignment.WithLogger(log.Named("assignment")))
	a.Transfers = transfer.NewService(a.Store, a.Engine, cfg.Transfers,
		transfer.WithNotifier(sink),
		transfer.WithAudit(auditSink),
		transfer.WithMetrics(a.Metrics),
		transfer.WithLogger(log.Named("transfer")))
	a.Roster = roster.NewService(a.Store, loc, cfg.Scheduler.LookaheadDays,
		roster.WithNotifier(sink),
		roster.WithAudit(auditSink),
		roster.WithLogger(log.Named("roster")))
	a.Dispatch = dispatch.NewService(a.Store,
		dispatch.WithNotifier(sink),
		dispatch.WithAudit(auditSink),
		dispatch.WithLogger(log.Named("dispatch")))

	var locker scheduler.Locker = scheduler.NewLocalLocker()
	if cfg.Scheduler.JobLock == "redis" {
		if rdb == nil {
			return nil, errors.New("redis job lock needs redis.addr")
		}
		locker = scheduler.NewRedisLocker(rdb, "")
	}
	a.Scheduler = scheduler.New(
		scheduler.WithLocker(locker),
		scheduler.WithMetrics(a.Metrics),
		scheduler.WithLogger(log.Named("scheduler")),
		scheduler.WithDefaultTimeout(cfg.Scheduler.JobTimeout))
	if err := a.registerJobs(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context) (store.Store, error) {
	switch a.Config.Database.Driver {
	case "postgres":
		d := a.Config.Database
		conn, err := db.Open(ctx, d.DSN(), d.MaxConns, d.MaxIdle)
		if err != nil {
			return nil, err
		}
		a.Log.Info("connected to postgres", zap.String("host", d.Host), zap.String("database", d.Name))
		return store.NewPostgresStore(conn), nil
	default:
		a.Log.Warn("using in-memory store; state is lost on restart")
		return store.NewMemoryStore(), nil
	}
}

func (a *App) notifier(rdb *redis.Client) (notify.Sink, error) {
	cfg := a.Config
	m := notify.NewMulti(cfg.Notify.CallTimeout, a.Metrics)
	if cfg.Notify.Log {
		m.Add("log", notify.NewLogSink(a.Log.Named("notify")))
	}
	if rdb != nil && cfg.Redis.Stream != "" {
		m.Add("redis", notify.NewRedisStreamSink(rdb, cfg.Redis.Stream, cfg.Redis.StreamMaxLen))
	}
	if cfg.Notify.NATSURL != "" {
		nc, err := notify.ConnectNATS(cfg.Notify.NATSURL, cfg.Service)
		if err != nil {
			return nil, fmt.Errorf("nats %s: %w", cfg.Notify.NATSURL, err)
		}
		a.closers = append(a.closers, func() error { nc.Close(); return nil })
		m.Add("nats", notify.NewNATSSink(nc, ""))
	}
	if cfg.Notify.MQTTBroker != "" {
		host, _ := os.Hostname()
		client, err := notify.ConnectMQTT(cfg.Notify.MQTTBroker, cfg.Service+"-"+host, "", "")
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { client.Disconnect(250); return nil })
		m.Add("mqtt", notify.NewMQTTSink(client, "", 1))
	}
	if m.Len() == 0 {
		return notify.Nop(), nil
	}
	return m, nil
}

func (a *App) auditSink(ctx context.Context) (audit.Sink, error) {
	cfg := a.Config.Audit
	a.Recent = audit.NewRecorder(cfg.Recent)
	sinks := []audit.Sink{audit.NewLogSink(a.Log.Named("audit")), a.Recent}
	if cfg.MongoURI != "" {
		client, err := audit.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, fmt.Errorf("mongo: %w", err)
		}
		a.closers = append(a.closers, func() error { return client.Disconnect(context.Background()) })
		ms := audit.NewMongoStore(client.Database(cfg.MongoDB))
		if err := ms.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		sinks = append(sinks, ms)
	}
	return audit.Multi(sinks...), nil
}

// Close stops the scheduler and closes connections in reverse order.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
