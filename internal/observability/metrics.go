// Package observability turns bus events into Prometheus metrics and wraps
// OpenTelemetry spans around pipeline stages.
package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"claims-orchestrator/internal/events"
)

type ClaimMetrics struct {
	ClaimsCreatedTotal     *prometheus.CounterVec
	TransitionsTotal       *prometheus.CounterVec
	PayloadUpdatesTotal    *prometheus.CounterVec
	WorkflowRunsTotal      *prometheus.CounterVec
	StageSeconds           *prometheus.HistogramVec
	WorkflowSeconds        *prometheus.HistogramVec
	ReviewEscalationsTotal *prometheus.CounterVec
	DroppedEvents          *prometheus.GaugeVec
}

func DefaultClaimMetrics() *ClaimMetrics {
	return NewClaimMetrics(prometheus.DefaultRegisterer)
}

func NewClaimMetrics(reg prometheus.Registerer) *ClaimMetrics {
	factory := promauto.With(reg)

	return &ClaimMetrics{
		ClaimsCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claims_created_total",
				Help: "Claims created, by priority",
			},
			[]string{"priority"},
		),
		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claims_transitions_total",
				Help: "Status transitions applied",
			},
			[]string{"from", "to"},
		),
		PayloadUpdatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claims_payload_updates_total",
				Help: "Stage results attached to claims",
			},
			[]string{"field"},
		),
		WorkflowRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claims_workflow_runs_total",
				Help: "Workflow runs by outcome",
			},
			[]string{"outcome"},
		),
		StageSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "claims_stage_seconds",
				Help:    "Stage latency",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),
		WorkflowSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "claims_workflow_seconds",
				Help:    "End-to-end processing time of a workflow run",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		ReviewEscalationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claims_review_escalations_total",
				Help: "Claims escalated to human review, by reason",
			},
			[]string{"reason"},
		),
		DroppedEvents: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "claims_bus_dropped_events",
				Help: "Events dropped because a subscriber was slow",
			},
			[]string{"topic"},
		),
	}
}

// Collector feeds ClaimMetrics from the event bus.
type Collector struct {
	metrics *ClaimMetrics
	buffer  int
}

func NewCollector(metrics *ClaimMetrics) *Collector {
	return &Collector{metrics: metrics, buffer: 1024}
}

// Run consumes bus events until ctx is done.
func (c *Collector) Run(ctx context.Context, bus *events.Bus) error {
	stateSub := bus.State.Subscribe(c.buffer)
	defer stateSub.Close()
	workflowSub := bus.Workflow.Subscribe(c.buffer)
	defer workflowSub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-stateSub.C():
			if !ok {
				return nil
			}
			c.ObserveState(ev)
		case ev, ok := <-workflowSub.C():
			if !ok {
				return nil
			}
			c.ObserveWorkflow(ev)
		}
		c.metrics.DroppedEvents.WithLabelValues("state").Set(float64(bus.State.Dropped()))
		c.metrics.DroppedEvents.WithLabelValues("workflow").Set(float64(bus.Workflow.Dropped()))
	}
}

func (c *Collector) ObserveState(ev events.StateEvent) {
	switch ev.Type {
	case events.StateCreated:
		c.metrics.ClaimsCreatedTotal.WithLabelValues(string(ev.Priority)).Inc()
	case events.StateTransition:
		c.metrics.TransitionsTotal.WithLabelValues(string(ev.FromStatus), string(ev.ToStatus)).Inc()
	case events.StateUpdated:
		c.metrics.PayloadUpdatesTotal.WithLabelValues(ev.Field).Inc()
	}
}

func (c *Collector) ObserveWorkflow(ev events.WorkflowEvent) {
	switch ev.Type {
	case events.WorkflowStageCompleted:
		c.metrics.StageSeconds.WithLabelValues(ev.Stage).Observe(float64(ev.DurationMs) / 1000)
	case events.WorkflowCompleted:
		c.finish("completed", ev)
	case events.WorkflowFailed:
		c.finish("failed", ev)
	case events.WorkflowReviewRequired:
		c.metrics.ReviewEscalationsTotal.WithLabelValues(ev.Reason).Inc()
		c.finish("review_required", ev)
	}
}

func (c *Collector) finish(outcome string, ev events.WorkflowEvent) {
	c.metrics.WorkflowRunsTotal.WithLabelValues(outcome).Inc()
	c.metrics.WorkflowSeconds.WithLabelValues(outcome).Observe(float64(ev.ProcessingTimeMs) / 1000)
}
