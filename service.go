package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/open-workshop/workshop-cache/internal/archive"
	"github.com/open-workshop/workshop-cache/internal/cache"
	"github.com/open-workshop/workshop-cache/internal/config"
	"github.com/open-workshop/workshop-cache/internal/coordinator"
	"github.com/open-workshop/workshop-cache/internal/index"
	"github.com/open-workshop/workshop-cache/internal/invalidate"
	"github.com/open-workshop/workshop-cache/internal/metrics"
	"github.com/open-workshop/workshop-cache/internal/query"
	"github.com/open-workshop/workshop-cache/internal/server"
	"github.com/open-workshop/workshop-cache/internal/server/routes"
	"github.com/open-workshop/workshop-cache/internal/stats"
	"github.com/open-workshop/workshop-cache/internal/storage/sqlite"
	"github.com/open-workshop/workshop-cache/internal/telemetry"
	"github.com/open-workshop/workshop-cache/internal/upstream"
	"github.com/open-workshop/workshop-cache/internal/worker"
)

const shutdownTimeout = 30 * time.Second

// service 持有进程内全部长生命周期组件，由 buildService 组装。
type service struct {
	cfg    *config.Config
	logger *logrus.Logger

	db          *sqlite.Store
	app         *fiber.App
	pool        *worker.Pool
	stats       *stats.Aggregator
	coordinator *coordinator.Coordinator
	invalidator *invalidate.Manager

	shutdownTracing func(context.Context) error
}

func buildService(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*service, error) {
	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	store, err := cache.NewStore(cfg.Global.StoragePath)
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, fmt.Errorf("init storage: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Global.DatabasePath), 0o755); err != nil {
		_ = shutdownTracing(ctx)
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	db, err := sqlite.Open(cfg.Global.DatabasePath)
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, fmt.Errorf("open database: %w", err)
	}
	svc := &service{cfg: cfg, logger: logger, db: db, shutdownTracing: shutdownTracing}

	fetcher, err := upstream.New(cfg.Global.Source, upstream.OptionsFromConfig(cfg, upstream.NewHTTPClient(cfg)))
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("init upstream: %w", err)
	}

	m := metrics.New()
	ix := index.New(db, index.Options{Source: cfg.Global.Source})
	svc.stats = stats.New(db, stats.Options{
		FlushInterval: cfg.Global.StatsFlushInterval.DurationValue(),
		MaxHourRange:  cfg.Global.MaxHourRange.DurationValue(),
		Logger:        logger,
	})

	svc.pool = worker.New(worker.Deps{
		Index:    ix,
		Fetcher:  fetcher,
		Archiver: archive.NewZipArchiver(),
		Store:    store,
		Games:    db,
		Stats:    svc.stats,
		Metrics:  m,
		Tracer:   telemetry.Tracer(),
		Logger:   logger,
	}, worker.OptionsFromConfig(cfg.Global))

	svc.invalidator = invalidate.New(ix, svc.pool, svc.stats, invalidate.Options{
		Interval: cfg.Global.InvalidationInterval.DurationValue(),
		Logger:   logger,
	})

	svc.coordinator = coordinator.New(coordinator.Deps{
		Index:   ix,
		Store:   store,
		Queue:   svc.pool,
		Checker: svc.invalidator,
		Stats:   svc.stats,
		Metrics: m,
		Logger:  logger,
	})

	app, err := server.NewApp(server.AppOptions{Logger: logger, AccessLog: true})
	if err != nil {
		svc.Close()
		return nil, err
	}
	routes.Register(app, routes.Deps{
		Coordinator:  svc.coordinator,
		Query:        query.New(db),
		Stats:        svc.stats,
		Metrics:      m,
		Logger:       logger,
		PollInterval: cfg.Global.StatusPollInterval.DurationValue(),
	})
	svc.app = app
	return svc, nil
}

// Serve 启动 worker、统计刷新与 HTTP 监听，ctx 结束后依次优雅退出。
func (s *service) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.pool.Run(ctx) })
	g.Go(func() error { return s.stats.Run(ctx) })

	queued, err := s.coordinator.Warmup(ctx)
	if err != nil {
		cancel()
		_ = g.Wait()
		return fmt.Errorf("warmup: %w", err)
	}
	s.stats.Increment(stats.EventStart)
	s.logger.WithFields(logrus.Fields{"action": "warmup", "requeued": queued}).Info("warmup_complete")

	g.Go(func() error {
		port := s.cfg.Global.ListenPort
		s.logger.WithFields(logrus.Fields{"action": "listen", "port": port}).Info("Fiber 服务启动")
		return s.app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	})
	g.Go(func() error {
		<-ctx.Done()
		s.invalidator.Close()
		return s.app.ShutdownWithTimeout(shutdownTimeout)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close 释放数据库与链路追踪资源，可重复调用。
func (s *service) Close() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.WithError(err).Warn("database_close_failed")
		}
		s.db = nil
	}
	if s.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.shutdownTracing(ctx); err != nil {
			s.logger.WithError(err).Warn("tracing_shutdown_failed")
		}
		s.shutdownTracing = nil
	}
}
