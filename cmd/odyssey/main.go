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

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-receivables/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-receivables/internal/app"
	"github.com/odyssey-erp/odyssey-receivables/internal/ar"
	"github.com/odyssey-erp/odyssey-receivables/internal/observability"
	"github.com/odyssey-erp/odyssey-receivables/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-receivables/internal/platform/db"
	"github.com/odyssey-erp/odyssey-receivables/internal/shared"
	"github.com/odyssey-erp/odyssey-receivables/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
	redisOpts := cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	queueOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := runJobsCLI(ctx, queueOpts, os.Args[2:]); err != nil {
			logger.Error("jobs command", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if err := serve(ctx, cfg, logger, redisOpts, queueOpts); err != nil {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func runJobsCLI(ctx context.Context, opts asynq.RedisClientOpt, args []string) error {
	jobsCLI, err := cli.NewJobsCLI(opts)
	if err != nil {
		return err
	}
	defer jobsCLI.Close()
	return jobsCLI.Run(ctx, args, os.Stdout)
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger, redisOpts cache.Options, queueOpts asynq.RedisClientOpt) error {
	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{ApplicationName: "odyssey-receivables"})
	if err != nil {
		return err
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, redisOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	arService := ar.NewService(ar.NewRepository(dbpool), logger)
	arService.SetLocker(shared.NewRedisLocker(redisClient, cfg.ApplyLockTTL))
	arService.SetAgingCache(ar.NewAgingCache(redisClient, cfg.AgingCacheTTL))
	arService.SetMetrics(ar.NewMetrics(metrics.Registerer()))

	arHandler := ar.NewHandler(logger, arService)
	arHandler.SetIdempotency(shared.NewIdempotencyStore(dbpool))

	inspector := asynq.NewInspector(queueOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	queueClient, err := jobs.NewClient(queueOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)
	jobHandler.SetEnqueuer(queueClient)

	router := app.NewRouter(app.RouterParams{
		Logger:     logger,
		Config:     cfg,
		ARHandler:  arHandler,
		JobHandler: jobHandler,
		Metrics:    metrics,
		Readiness: map[string]app.Pinger{
			"postgres": dbpool,
			"redis": app.PingFunc(func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}),
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
