// Package review holds claims that are waiting on a human decision.
package review

import (
	"context"
	"sort"
	"sync"
	"time"

	"claims-orchestrator/internal/domain"
)

type Item struct {
	ClaimID             string          `json:"claim_id"`
	Reason              string          `json:"reason"`
	Priority            domain.Priority `json:"priority"`
	LowConfidenceFields []string        `json:"low_confidence_fields,omitempty"`
	EnqueuedAt          time.Time       `json:"enqueued_at"`
}

type Filter struct {
	Priority domain.Priority
}

// Queue orders items urgent first, then high, then normal, and FIFO within a
// priority. Enqueueing a claim that is already queued replaces its item.
type Queue interface {
	Enqueue(ctx context.Context, item Item) error
	Dequeue(ctx context.Context, claimID string) (bool, error)
	List(ctx context.Context, f Filter) ([]Item, error)
}

func less(a, b Item) bool {
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() < b.Priority.Rank()
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.ClaimID < b.ClaimID
}

func normalize(item Item, now time.Time) Item {
	if item.Priority == "" {
		item.Priority = domain.PriorityNormal
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = now
	}
	item.LowConfidenceFields = append([]string(nil), item.LowConfidenceFields...)
	return item
}

type MemoryQueue struct {
	mu    sync.Mutex
	items map[string]Item
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{items: make(map[string]Item)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, item Item) error {
	item = normalize(item, time.Now().UTC())
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items[item.ClaimID] = item
	return nil
}

func (q *MemoryQueue) Dequeue(_ context.Context, claimID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.items[claimID]
	delete(q.items, claimID)
	return ok, nil
}

func (q *MemoryQueue) List(_ context.Context, f Filter) ([]Item, error) {
	q.mu.Lock()
	out := make([]Item, 0, len(q.items))
	for _, item := range q.items {
		if f.Priority != "" && item.Priority != f.Priority {
			continue
		}
		item.LowConfidenceFields = append([]string(nil), item.LowConfidenceFields...)
		out = append(out, item)
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}
