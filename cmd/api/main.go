package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"

	"claims-orchestrator/internal/api"
	"claims-orchestrator/internal/config"
	"claims-orchestrator/internal/logging"
	"claims-orchestrator/internal/review"
	"claims-orchestrator/internal/state"
	"claims-orchestrator/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.LoggingConfig("api"))

	store, err := storage.NewPostgresStore(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer store.Close()

	blob, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL, cfg.MinioBucket)
	if err != nil {
		log.Fatalf("connect minio: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		log.Fatalf("postgres ping: %v", err)
	}

	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		log.Fatalf("connect temporal: %v", err)
	}
	defer temporalClient.Close()

	// The worker owns claim state; the API reads through to Postgres.
	states := state.New(store, nil, logger, cfg.StateConfig(state.CacheNone))

	h := api.NewHandler(api.Options{
		TaskQueue:          cfg.TemporalTaskQueue,
		WorkflowIDPrefix:   cfg.WorkflowIDPrefix,
		AllowedUploadBytes: cfg.AllowedUploadBytes,
		Log:                logger,
		Ready: func(ctx context.Context) error {
			return errors.Join(store.Ping(ctx), rdb.Ping(ctx).Err())
		},
	}, states, review.NewRedisQueue(rdb), blob, temporalClient)
	router := api.NewRouter(h)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api listening", logging.F("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", logging.Err(err))
	}
}
