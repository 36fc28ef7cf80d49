// Command claimctl inspects and operates on claims outside the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"

	"claims-orchestrator/internal/config"
	"claims-orchestrator/internal/logging"
	"claims-orchestrator/internal/review"
	"claims-orchestrator/internal/state"
	"claims-orchestrator/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(connect)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// connect dials Postgres, Redis and Temporal from the service environment.
func connect(ctx context.Context) (*Deps, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.LoggingConfig("claimctl"))

	store, err := storage.NewPostgresStore(cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("postgres ping: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})

	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		rdb.Close()
		store.Close()
		return nil, nil, fmt.Errorf("connect temporal: %w", err)
	}

	deps := &Deps{
		Claims:           state.New(store, nil, logger, cfg.StateConfig(state.CacheNone)),
		Reviews:          review.NewRedisQueue(rdb),
		Workflows:        temporalClient,
		TaskQueue:        cfg.TemporalTaskQueue,
		WorkflowIDPrefix: cfg.WorkflowIDPrefix,
	}
	closeAll := func() {
		temporalClient.Close()
		rdb.Close()
		store.Close()
	}
	return deps, closeAll, nil
}
