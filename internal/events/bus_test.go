package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"claims-orchestrator/internal/domain"
)

func TestTopicFanOut(t *testing.T) {
	bus := NewBus()
	a := bus.State.Subscribe(4)
	b := bus.State.Subscribe(4)
	defer a.Close()
	defer b.Close()

	ev := StateEventFromTransition(domain.StateTransition{
		ClaimID:    "CLM-1",
		FromStatus: domain.StatusReceived,
		ToStatus:   domain.StatusParsing,
		Timestamp:  time.Now(),
	})
	bus.State.Publish(ev)

	for _, sub := range []*Subscription[StateEvent]{a, b} {
		got := <-sub.C()
		require.Equal(t, StateTransition, got.Type)
		require.Equal(t, domain.StatusParsing, got.ToStatus)
	}
}

func TestTopicDropsWhenSubscriberFull(t *testing.T) {
	topic := NewTopic[WorkflowEvent]()
	sub := topic.Subscribe(1)
	defer sub.Close()

	topic.Publish(WorkflowEvent{Type: WorkflowStarted, ClaimID: "CLM-1"})
	topic.Publish(WorkflowEvent{Type: WorkflowCompleted, ClaimID: "CLM-1"})

	require.Equal(t, uint64(1), topic.Dropped())
	require.Equal(t, WorkflowStarted, (<-sub.C()).Type)
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	topic := NewTopic[StateEvent]()
	sub := topic.Subscribe(1)
	require.Equal(t, 1, topic.Subscribers())

	sub.Close()
	sub.Close()
	require.Equal(t, 0, topic.Subscribers())

	_, ok := <-sub.C()
	require.False(t, ok)

	topic.Publish(StateEvent{Type: StateCreated})
}
