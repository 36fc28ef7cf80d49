package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claims-orchestrator/internal/domain"
	"claims-orchestrator/internal/events"
)

func TestCollectorObservesEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewClaimMetrics(reg)
	c := NewCollector(m)

	c.ObserveState(events.StateEvent{Type: events.StateCreated, Priority: domain.PriorityUrgent})
	c.ObserveState(events.StateEvent{Type: events.StateTransition, FromStatus: domain.StatusReceived, ToStatus: domain.StatusParsing})
	c.ObserveState(events.StateEvent{Type: events.StateUpdated, Field: "extractedClaim"})
	c.ObserveWorkflow(events.WorkflowEvent{Type: events.WorkflowStageCompleted, Stage: "validation", DurationMs: 120})
	c.ObserveWorkflow(events.WorkflowEvent{Type: events.WorkflowReviewRequired, Reason: "max correction attempts reached", ProcessingTimeMs: 900})
	c.ObserveWorkflow(events.WorkflowEvent{Type: events.WorkflowCompleted, ProcessingTimeMs: 1500})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClaimsCreatedTotal.WithLabelValues("urgent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("received", "parsing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PayloadUpdatesTotal.WithLabelValues("extractedClaim")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReviewEscalationsTotal.WithLabelValues("max correction attempts reached")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkflowRunsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkflowRunsTotal.WithLabelValues("review_required")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageSeconds))
}

func TestCollectorRunStopsOnCancel(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewClaimMetrics(reg)
	bus := events.NewBus()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- NewCollector(m).Run(ctx, bus) }()

	require.Eventually(t, func() bool { return bus.State.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	bus.State.Publish(events.StateEvent{Type: events.StateCreated, Priority: domain.PriorityHigh})
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ClaimsCreatedTotal.WithLabelValues("high")) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("collector did not stop")
	}
	assert.Equal(t, 0, bus.State.Subscribers())
}

func TestStageSpanWithoutProvider(t *testing.T) {
	tr := NewTracer()
	ctx, span := tr.StartStageSpan(context.Background(), "CLM-1", "validation")
	require.NotNil(t, ctx)
	EndSpan(span, errors.New("boom"))

	_, root := tr.StartClaimSpan(context.Background(), "CLM-1")
	EndSpan(root, nil)
}
