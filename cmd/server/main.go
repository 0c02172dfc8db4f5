package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go-flowgate/internal/api/handler"
	"go-flowgate/internal/config"
	"go-flowgate/internal/coordinator"
	"go-flowgate/internal/core/memory"
	"go-flowgate/internal/core/ports"
	"go-flowgate/internal/core/postgres/repository"
	"go-flowgate/internal/domain"
	"go-flowgate/internal/engine"
	redisinfra "go-flowgate/internal/infrastructure/redis"
	"go-flowgate/internal/logging"
	"go-flowgate/internal/notify"
	"go-flowgate/internal/service"
	"go-flowgate/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Set up the store
	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}

	// 3. Optional redis: due queue, event bus, HITL pub/sub
	sinks := notify.MultiSink{notify.NewLogSink(logger)}
	opts := []engine.Option{engine.WithLogger(logger)}
	storeSource := coordinator.NewStoreSource(store)
	var source ports.DueSource = storeSource
	var events <-chan domain.WorkflowEvent

	if cfg.Redis.Enabled {
		client, err := redisinfra.NewRedisClient(ctx, cfg.Redis.Addr)
		if err != nil {
			logger.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}
		defer client.Close()

		queue := redisinfra.NewRedisQueue(client)
		bus := redisinfra.NewRedisEventBus(client)
		source = queue
		opts = append(opts, engine.WithDueQueue(queue), engine.WithEventBus(bus))
		sinks = append(sinks, redisinfra.NewNotificationPublisher(client))

		events, err = bus.Subscribe(ctx)
		if err != nil {
			logger.Error("failed to subscribe to workflow events", "error", err)
			os.Exit(1)
		}
		logger.Info("redis enabled", "addr", cfg.Redis.Addr)
	}

	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(notify.WebhookConfig{
			URL:        cfg.Notify.WebhookURL,
			MaxRetries: cfg.Notify.WebhookMaxRetries,
		}, logger))
	}

	// 4. Action runner: built-in handlers, remote service for the rest
	var fallback ports.ActionRunner
	if cfg.ActionRunner.URL != "" {
		fallback = worker.NewHTTPRunner(worker.HTTPRunnerConfig{
			Endpoint: cfg.ActionRunner.URL,
			Timeout:  cfg.ActionRunner.Timeout,
		}, logger)
	}
	runner := worker.InitRegistry(logger, fallback)

	// 5. Engine
	policy, err := engine.ParseFailurePolicy(cfg.Engine.FailurePolicy)
	if err != nil {
		logger.Error("invalid failure policy", "error", err)
		os.Exit(1)
	}
	opts = append(opts,
		engine.WithNotificationSink(sinks),
		engine.WithMetrics(engine.NewMetrics(prometheus.DefaultRegisterer)),
		engine.WithFailurePolicy(policy),
		engine.WithDeferRetry(cfg.Engine.DeferRetry),
		engine.WithNotifyTimeout(cfg.Engine.NotifyTimeout),
	)
	eng := engine.New(store, runner, opts...)

	// 6. Coordinator
	coordCfg := coordinator.Config{
		Interval:      cfg.Coordinator.Interval,
		BatchSize:     cfg.Coordinator.BatchSize,
		Concurrency:   cfg.Coordinator.Concurrency,
		RatePerSecond: cfg.Coordinator.RatePerSecond,
		RetryDelay:    cfg.Coordinator.RetryDelay,
	}
	coord := coordinator.NewCoordinator(source, eng, coordCfg, logger)
	var coordWG sync.WaitGroup
	coordWG.Go(func() { coord.Start(ctx, events) })

	// A queue entry lost to a crash is still PENDING in the store, so a slow
	// store sweep picks it up.
	if cfg.Redis.Enabled {
		reconcileCfg := coordCfg
		reconcileCfg.Interval = cfg.Coordinator.ReconcileInterval
		reconcile := coordinator.NewCoordinator(storeSource, eng, reconcileCfg, logger.With("source", "store"))
		coordWG.Go(func() { reconcile.Start(ctx, nil) })
	}

	// 7. HTTP
	workflowSvc := service.NewWorkflowService(store, eng, nil)
	workflowHandler := handler.NewWorkflowHandler(workflowSvc, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	workflowHandler.Register(router.Group("/api/v1"))

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: router}
	go func() {
		logger.Info("server starting", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	coordWG.Wait()
}

func openStore(cfg *config.Config, logger *slog.Logger) (ports.Store, error) {
	if cfg.Database.DSN == "" {
		logger.Warn("no database configured, using in-memory store")
		return memory.NewStore(), nil
	}

	db, err := repository.Open(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := repository.Migrate(db); err != nil {
			return nil, err
		}
	}
	return repository.NewStore(db), nil
}
