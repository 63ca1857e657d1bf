package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mapvision/authority"
	"github.com/mapvision/authority/httpapi"
	promexport "github.com/mapvision/authority/metrics/export/prometheus"
	"github.com/mapvision/authority/notify"
	"github.com/mapvision/authority/store"
)

type runtime struct {
	cfg        serverConfig
	logger     *slog.Logger
	engine     *authority.Engine
	httpServer *http.Server
	closers    []func() error
}

func newRuntime(ctx context.Context, cfg serverConfig, engineCfg authority.Config, out io.Writer) (_ *runtime, err error) {
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	logger.Info("bootstrapping authority service", "addr", cfg.Addr, "store", cfg.Store.Driver)

	rt := &runtime{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			rt.close()
		}
	}()

	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	rt.closers = append(rt.closers, db.Close)
	if err := db.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	b := authority.New().
		WithConfig(engineCfg).
		WithStore(db).
		WithLogger(logger)

	if cfg.Redis.Addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.closers = append(rt.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		b.WithRedis(client)
	}

	if cfg.SMTP.Host != "" {
		sender, err := notify.NewSMTPSender(cfg.SMTP)
		if err != nil {
			return nil, fmt.Errorf("smtp sender: %w", err)
		}
		b.WithSender(sender)
	}

	if engineCfg.Audit.Enabled {
		sink, closeSink, err := auditSink(cfg, logger)
		if err != nil {
			return nil, err
		}
		if closeSink != nil {
			rt.closers = append(rt.closers, closeSink)
		}
		b.WithAuditSink(sink)
	}

	engine, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	rt.engine = engine

	if cfg.AdminEmail != "" {
		created, err := engine.EnsureAdministrator(ctx, cfg.AdminEmail, cfg.AdminPassword)
		if err != nil {
			return nil, fmt.Errorf("bootstrap administrator: %w", err)
		}
		logger.Info("administrator bootstrap", "email", cfg.AdminEmail, "created", created)
	}

	var metrics http.Handler
	if engineCfg.Metrics.Enabled {
		var opts []promexport.Option
		if cfg.Instance != "" {
			opts = append(opts, promexport.WithLabels("instance", cfg.Instance))
		}
		metrics = promexport.NewPrometheusExporter(engine, opts...).Handler()
	}
	handler := httpapi.NewHandler(engine, cfg.HTTP, logger)
	rt.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Router(metrics),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return rt, nil
}

// auditSink picks Kafka when brokers are configured, otherwise JSON lines on
// stderr.
func auditSink(cfg serverConfig, logger *slog.Logger) (authority.AuditSink, func() error, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return authority.NewJSONWriterSink(os.Stderr), nil, nil
	}
	sink, err := authority.NewKafkaAuditSink(cfg.Kafka, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka audit sink: %w", err)
	}
	return sink, sink.Close, nil
}

func (r *runtime) run(ctx context.Context) error {
	if err := r.engine.StartMaintenance(ctx, 0); err != nil {
		return fmt.Errorf("start maintenance: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		r.logger.Error("server failure", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.cfg.ShutdownTimeout)
	defer cancel()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Warn("http shutdown incomplete", "error", err)
	}
	r.close()
	r.logger.Info("authority service stopped")
	return runErr
}

// close releases resources in reverse acquisition order. The engine closes
// first so pending notifications and audit events drain before their sinks.
func (r *runtime) close() {
	if r.engine != nil {
		r.engine.Close()
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.logger.Warn("release resource", "error", err)
		}
	}
	r.closers = nil
}
