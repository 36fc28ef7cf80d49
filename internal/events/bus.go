package events

import (
	"sync"
	"sync/atomic"
	"time"

	"claims-orchestrator/internal/domain"
)

type EventType string

const (
	StateCreated        EventType = "state:created"
	StateTransition     EventType = "state:transition"
	StateUpdated        EventType = "state:updated"
	StateCompleted      EventType = "state:completed"
	StateFailed         EventType = "state:failed"
	StateReviewRequired EventType = "state:review_required"

	WorkflowStarted        EventType = "workflow:started"
	WorkflowStageStarted   EventType = "workflow:stage_started"
	WorkflowStageCompleted EventType = "workflow:stage_completed"
	WorkflowCompleted      EventType = "workflow:completed"
	WorkflowFailed         EventType = "workflow:failed"
	WorkflowReviewRequired EventType = "workflow:review_required"
)

// StateEvent is published by the state manager. FromStatus and ToStatus are
// set for transitions, Field for state:updated.
type StateEvent struct {
	Type       EventType          `json:"type"`
	ClaimID    string             `json:"claim_id"`
	Timestamp  time.Time          `json:"timestamp"`
	FromStatus domain.ClaimStatus `json:"from_status,omitempty"`
	ToStatus   domain.ClaimStatus `json:"to_status,omitempty"`
	Priority   domain.Priority    `json:"priority,omitempty"`
	Message    string             `json:"message,omitempty"`
	Field      string             `json:"field,omitempty"`
	Metadata   map[string]string  `json:"metadata,omitempty"`
}

// StateEventFromTransition builds the state:transition event for t.
func StateEventFromTransition(t domain.StateTransition) StateEvent {
	return StateEvent{
		Type:       StateTransition,
		ClaimID:    t.ClaimID,
		Timestamp:  t.Timestamp,
		FromStatus: t.FromStatus,
		ToStatus:   t.ToStatus,
		Message:    t.Message,
		Metadata:   t.Metadata,
	}
}

type WorkflowEvent struct {
	Type             EventType          `json:"type"`
	ClaimID          string             `json:"claim_id"`
	Timestamp        time.Time          `json:"timestamp"`
	Stage            string             `json:"stage,omitempty"`
	Status           domain.ClaimStatus `json:"status,omitempty"`
	Reason           string             `json:"reason,omitempty"`
	Error            string             `json:"error,omitempty"`
	DurationMs       int64              `json:"duration_ms,omitempty"`
	ProcessingTimeMs int64              `json:"processing_time_ms,omitempty"`
}

// Topic is a typed fan-out channel. Publish never blocks: a subscriber whose
// buffer is full misses the event and the topic counts the drop.
type Topic[T any] struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription[T]
	next    uint64
	dropped atomic.Uint64
}

func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{subs: make(map[uint64]*Subscription[T])}
}

type Subscription[T any] struct {
	id    uint64
	topic *Topic[T]
	ch    chan T
	once  sync.Once
}

// C returns the receive side of the subscription. It is closed by Close.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		s.topic.mu.Lock()
		delete(s.topic.subs, s.id)
		s.topic.mu.Unlock()
		close(s.ch)
	})
}

func (t *Topic[T]) Subscribe(buffer int) *Subscription[T] {
	if buffer < 0 {
		buffer = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	sub := &Subscription[T]{id: t.next, topic: t, ch: make(chan T, buffer)}
	t.subs[sub.id] = sub
	return sub
}

func (t *Topic[T]) Publish(ev T) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, sub := range t.subs {
		select {
		case sub.ch <- ev:
		default:
			t.dropped.Add(1)
		}
	}
}

func (t *Topic[T]) Dropped() uint64 {
	return t.dropped.Load()
}

func (t *Topic[T]) Subscribers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Bus groups the two event categories. Consumers subscribe per category so a
// payload is always the concrete type they expect.
type Bus struct {
	State    *Topic[StateEvent]
	Workflow *Topic[WorkflowEvent]
}

func NewBus() *Bus {
	return &Bus{
		State:    NewTopic[StateEvent](),
		Workflow: NewTopic[WorkflowEvent](),
	}
}
