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

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	rt, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("open ledger", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("close ledger", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	var locker *redislock.Client
	if rt.Redis != nil {
		locker = redislock.New(rt.Redis)
	} else {
		logger.Warn("period close lock disabled; redis unavailable to the ledger runtime")
	}

	closeJob := jobs.NewPeriodCloseJob(rt.Engine.Periods, locker, logger.With(slog.String("job", jobs.TaskPeriodClose)), rt.Metrics.Jobs())
	integrityJob := jobs.NewGLIntegrityJob(rt.Engine.Poster, logger.With(slog.String("job", jobs.TaskGLIntegrity)), rt.Metrics.Jobs())

	closeTask, err := jobs.NewPeriodCloseTask(jobs.PeriodClosePayload{})
	if err != nil {
		logger.Error("build period close task", slog.Any("error", err))
		os.Exit(1)
	}
	integrityTask, err := jobs.NewGLIntegrityTask(jobs.GLIntegrityPayload{})
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPeriodClose, Handler: closeJob.Handle},
			{Type: jobs.TaskGLIntegrity, Handler: integrityJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.PeriodCloseCron, Task: closeTask},
			{Spec: cfg.GLIntegrityCron, Task: integrityTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(redisOpts)
	defer inspector.Close()
	checks := map[string]app.HealthCheck{"queue": jobs.QueueHealth(inspector)}
	if rt.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return rt.Redis.Ping(ctx).Err() }
	}
	if rt.Pool != nil {
		checks["postgres"] = rt.Pool.Ping
	}

	server := &http.Server{
		Addr:              cfg.WorkerAddr,
		Handler:           app.NewRouter(app.RouterParams{Logger: logger, Config: cfg, Metrics: rt.Metrics, Checks: checks}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.WorkerTimeout,
		WriteTimeout:      cfg.WorkerTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := worker.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		logger.Info("ops server listening", slog.String("addr", cfg.WorkerAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if cfg.KafkaEnabled() {
		hooks := integration.NewHooks(rt.Engine, rt.Engine.Mappings, logger.With(slog.String("component", "integration")))
		reader := integration.NewReader(cfg.KafkaBrokers, cfg.KafkaInbound, cfg.KafkaGroupID)
		g.Go(func() error {
			defer reader.Close()
			return hooks.Consume(gctx, reader)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
