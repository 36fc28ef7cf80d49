package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"golang.org/x/sync/errgroup"

	"claims-orchestrator/internal/config"
	"claims-orchestrator/internal/events"
	"claims-orchestrator/internal/logging"
	"claims-orchestrator/internal/observability"
	"claims-orchestrator/internal/openai"
	"claims-orchestrator/internal/review"
	"claims-orchestrator/internal/stages"
	"claims-orchestrator/internal/state"
	"claims-orchestrator/internal/storage"
	appTemporal "claims-orchestrator/internal/temporal"
	pipeline "claims-orchestrator/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.LoggingConfig("worker"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewPostgresStore(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatalf("apply schema: %v", err)
	}

	blob, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL, cfg.MinioBucket)
	if err != nil {
		log.Fatalf("connect minio: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("connect redis: %v", err)
	}

	bus := events.NewBus()
	states := state.New(store, bus, logger, cfg.StateConfig(state.CacheActive))

	llm := openai.NewHTTPClient(openai.ClientConfig{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
		Timeout: time.Duration(cfg.OpenAITimeoutSec) * time.Second,
	})

	orch, err := pipeline.New(pipeline.Deps{
		States:    states,
		Queue:     review.NewRedisQueue(rdb),
		Documents: blob,
		Log:       logger,
		Tracer:    observability.NewTracer(),
	}, stages.New(stages.Options{
		LLM:      llm,
		Model:    cfg.OpenAIModel,
		Timeout:  time.Duration(cfg.OpenAITimeoutSec) * time.Second,
		MaxRetry: cfg.OpenAIMaxRetry,
		Index:    blob,
		Log:      logger,
	}))
	if err != nil {
		log.Fatalf("build orchestrator: %v", err)
	}

	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		log.Fatalf("connect temporal: %v", err)
	}
	defer temporalClient.Close()

	activities := &appTemporal.Activities{Processor: orch}

	w := worker.New(temporalClient, cfg.TemporalTaskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(appTemporal.ClaimWorkflow, workflow.RegisterOptions{Name: appTemporal.ClaimWorkflowName})
	w.RegisterActivity(activities.IntakeActivity)
	w.RegisterActivity(activities.ProcessClaimActivity)
	w.RegisterActivity(activities.ResubmitActivity)
	w.RegisterActivity(activities.SubmitReviewActivity)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return observability.NewCollector(observability.DefaultClaimMetrics()).Run(gctx, bus)
	})
	g.Go(func() error {
		return events.NewRedisBridge(rdb, logger).Run(gctx, bus)
	})
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if err := w.Start(); err != nil {
			return err
		}
		logger.Info("worker running", logging.F("task_queue", cfg.TemporalTaskQueue), logging.F("metrics_port", cfg.MetricsPort))
		<-gctx.Done()
		w.Stop()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("worker stopped with error: %v", err)
	}
}
