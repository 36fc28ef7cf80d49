package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"claims-orchestrator/internal/config"
	"claims-orchestrator/internal/domain"
	"claims-orchestrator/internal/events"
	"claims-orchestrator/internal/logging"
	"claims-orchestrator/internal/storage"
	appTemporal "claims-orchestrator/internal/temporal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.LoggingConfig("event-handler"))

	blob, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL, cfg.MinioBucket)
	if err != nil {
		log.Fatalf("connect minio: %v", err)
	}

	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		log.Fatalf("connect temporal: %v", err)
	}
	defer temporalClient.Close()

	source := events.NewMinioIntakeEventSource(blob.Client(), cfg.MinioBucket, "")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("listening for object-created events", logging.F("bucket", cfg.MinioBucket))
	err = source.Run(ctx, func(parent context.Context, event events.IntakeEvent) error {
		claimID := appTemporal.ClaimIDForDocument(event.DocumentID)
		workflowID := appTemporal.WorkflowID(cfg.WorkflowIDPrefix, claimID)
		execCtx, cancel := context.WithTimeout(parent, 15*time.Second)
		defer cancel()

		_, startErr := temporalClient.ExecuteWorkflow(execCtx, appTemporal.IntakeStartOptions(workflowID, cfg.TemporalTaskQueue), appTemporal.ClaimWorkflowName, appTemporal.ClaimWorkflowInput{
			DocumentID: event.DocumentID,
			ClaimID:    claimID,
			Filename:   event.Filename,
			ObjectKey:  event.ObjectKey,
			Priority:   domain.PriorityNormal,
			Metadata:   map[string]string{"source_event": event.EventName},
		})
		if startErr != nil {
			var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
			if errors.As(startErr, &alreadyStarted) {
				logger.Debug("workflow already started",
					logging.F("object_key", event.ObjectKey),
					logging.F("workflow_id", workflowID),
				)
				return nil
			}
			return fmt.Errorf("start workflow for object %s: %w", event.ObjectKey, startErr)
		}

		logger.Info("started claim workflow",
			logging.F("workflow_id", workflowID),
			logging.F("object_key", event.ObjectKey),
		)
		return nil
	})
	if err != nil {
		log.Fatalf("event-handler stopped with error: %v", err)
	}
}
