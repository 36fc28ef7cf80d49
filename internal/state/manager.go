// Package state owns the lifecycle of every claim. All status and payload
// changes go through Manager, which enforces the transition graph, persists
// each change and publishes state events.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"claims-orchestrator/internal/domain"
	"claims-orchestrator/internal/events"
	"claims-orchestrator/internal/logging"
)

type ClaimStore interface {
	Put(ctx context.Context, st domain.ClaimState) error
	Get(ctx context.Context, claimID string) (domain.ClaimState, bool, error)
	Delete(ctx context.Context, claimID string) (bool, error)
	List(ctx context.Context) ([]domain.ClaimState, error)
}

// statusLister is implemented by stores that can filter by status natively.
type statusLister interface {
	ListByStatus(ctx context.Context, statuses []domain.ClaimStatus) ([]domain.ClaimState, error)
}

type CacheMode string

const (
	// CacheAll keeps every claim the manager has seen.
	CacheAll CacheMode = "all"
	// CacheActive drops a claim once it settles (completed, failed or
	// pending_review), so changes made by other processes to idle claims are
	// picked up on the next load.
	CacheActive CacheMode = "active"
	// CacheNone reads through to the store every time.
	CacheNone CacheMode = "none"
)

type Config struct {
	MaxCorrectionAttempts int
	Routing               domain.RoutingPolicy
	Cache                 CacheMode
}

func DefaultConfig() Config {
	return Config{
		MaxCorrectionAttempts: domain.DefaultMaxCorrectionAttempts,
		Routing:               domain.DefaultRoutingPolicy(),
		Cache:                 CacheAll,
	}
}

type NewClaim struct {
	ID           string
	DocumentID   string
	DocumentHash string
	Priority     domain.Priority
	Metadata     map[string]string
}

const maxListAttempts = 3

// Filter narrows ListStates. Zero values match everything; From and To bound
// the creation time inclusively.
type Filter struct {
	Status   domain.ClaimStatus
	Priority domain.Priority
	From     time.Time
	To       time.Time
}

func (f Filter) matches(st domain.ClaimState) bool {
	if f.Status != "" && st.Record.Status != f.Status {
		return false
	}
	if f.Priority != "" && st.Record.Priority != f.Priority {
		return false
	}
	if !f.From.IsZero() && st.Record.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && st.Record.CreatedAt.After(f.To) {
		return false
	}
	return true
}

type Statistics struct {
	Total                     int                        `json:"total"`
	ByStatus                  map[domain.ClaimStatus]int `json:"by_status"`
	AverageCorrectionAttempts float64                    `json:"average_correction_attempts"`
}

type Manager struct {
	store ClaimStore
	bus   *events.Bus
	log   logging.Logger
	cfg   Config
	now   func() time.Time

	locks *keyLocks
	loads singleflight.Group
	// deletions counts completed deletes so listings can detect one that
	// raced their store read.
	deletions atomic.Uint64

	mu    sync.RWMutex
	cache map[string]domain.ClaimState
}

func New(store ClaimStore, bus *events.Bus, log logging.Logger, cfg Config) *Manager {
	if bus == nil {
		bus = events.NewBus()
	}
	if log == nil {
		log = logging.Nop()
	}
	if cfg.MaxCorrectionAttempts < 0 {
		cfg.MaxCorrectionAttempts = 0
	}
	if cfg.Routing == (domain.RoutingPolicy{}) {
		cfg.Routing = domain.DefaultRoutingPolicy()
	}
	if cfg.Cache == "" {
		cfg.Cache = CacheAll
	}
	return &Manager{
		store: store,
		bus:   bus,
		log:   log.With(logging.F("component", "state_manager")),
		cfg:   cfg,
		now:   time.Now,
		locks: newKeyLocks(),
		cache: make(map[string]domain.ClaimState),
	}
}

func (m *Manager) Bus() *events.Bus {
	return m.bus
}

func (m *Manager) RoutingPolicy() domain.RoutingPolicy {
	return m.cfg.Routing
}

func (m *Manager) MaxCorrectionAttempts() int {
	return m.cfg.MaxCorrectionAttempts
}

func (m *Manager) CreateState(ctx context.Context, in NewClaim) (domain.ClaimState, error) {
	if in.ID == "" {
		return domain.ClaimState{}, fmt.Errorf("claim id is required")
	}
	priority, ok := domain.ParsePriority(string(in.Priority))
	if !ok {
		return domain.ClaimState{}, fmt.Errorf("claim %s: unknown priority %q", in.ID, in.Priority)
	}

	unlock := m.locks.lock(in.ID)
	defer unlock()

	if _, ok := m.cached(in.ID); ok {
		return domain.ClaimState{}, &domain.DuplicateClaimError{ClaimID: in.ID}
	}
	_, exists, err := m.store.Get(ctx, in.ID)
	if err != nil {
		return domain.ClaimState{}, fmt.Errorf("check claim %s: %w", in.ID, err)
	}
	if exists {
		return domain.ClaimState{}, &domain.DuplicateClaimError{ClaimID: in.ID}
	}

	now := m.now().UTC()
	st := domain.ClaimState{
		Record: domain.ClaimRecord{
			ID:           in.ID,
			Status:       domain.StatusReceived,
			Priority:     priority,
			DocumentID:   in.DocumentID,
			DocumentHash: in.DocumentHash,
			CreatedAt:    now,
			UpdatedAt:    now,
			ProcessingHistory: []domain.HistoryEntry{
				{Status: domain.StatusReceived, Timestamp: now, Message: "claim received"},
			},
			Metadata: copyMetadata(in.Metadata),
		},
	}
	if err := m.store.Put(ctx, st); err != nil {
		return domain.ClaimState{}, fmt.Errorf("persist claim %s: %w", in.ID, err)
	}
	m.remember(st)

	m.bus.State.Publish(events.StateEvent{
		Type:      events.StateCreated,
		ClaimID:   in.ID,
		Timestamp: now,
		ToStatus:  domain.StatusReceived,
		Priority:  priority,
		Metadata:  copyMetadata(in.Metadata),
	})
	m.log.Info("claim created", logging.F("claim_id", in.ID), logging.F("priority", string(priority)))
	return st.Clone(), nil
}

// GetState serves cached claims without locking. Concurrent misses for the
// same id share one store load, which outlives any single caller's context;
// each caller still returns as soon as its own context is done.
func (m *Manager) GetState(ctx context.Context, claimID string) (domain.ClaimState, error) {
	if st, ok := m.cached(claimID); ok {
		return st.Clone(), nil
	}
	loadCtx := context.WithoutCancel(ctx)
	ch := m.loads.DoChan(claimID, func() (any, error) {
		unlock := m.locks.lock(claimID)
		defer unlock()
		return m.load(loadCtx, claimID)
	})
	select {
	case <-ctx.Done():
		return domain.ClaimState{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.ClaimState{}, res.Err
		}
		return res.Val.(domain.ClaimState).Clone(), nil
	}
}

func (m *Manager) TransitionTo(ctx context.Context, claimID string, to domain.ClaimStatus, message string, metadata map[string]string) (domain.ClaimState, error) {
	var transition domain.StateTransition
	return m.mutate(ctx, claimID, func(st *domain.ClaimState) error {
		from := st.Record.Status
		if !domain.CanTransition(from, to) {
			return &domain.InvalidTransitionError{ClaimID: claimID, From: from, To: to}
		}
		ts := m.nextTimestamp(*st)
		st.Record.Status = to
		st.Record.UpdatedAt = ts
		st.Record.ProcessingHistory = append(st.Record.ProcessingHistory, domain.HistoryEntry{
			Status:    to,
			Timestamp: ts,
			Message:   message,
		})
		switch to {
		case domain.StatusFailed:
			st.LastError = message
			if st.LastError == "" {
				st.LastError = "claim failed"
			}
		case domain.StatusReceived:
			st.LastError = ""
		}
		transition = domain.StateTransition{
			ClaimID:    claimID,
			FromStatus: from,
			ToStatus:   to,
			Timestamp:  ts,
			Message:    message,
			Metadata:   copyMetadata(metadata),
		}
		return nil
	}, func(_, next domain.ClaimState) {
		m.bus.State.Publish(events.StateEventFromTransition(transition))

		side := events.EventType("")
		switch to {
		case domain.StatusCompleted:
			side = events.StateCompleted
		case domain.StatusFailed:
			side = events.StateFailed
		case domain.StatusPendingReview:
			side = events.StateReviewRequired
		}
		if side != "" {
			m.bus.State.Publish(events.StateEvent{
				Type:       side,
				ClaimID:    claimID,
				Timestamp:  transition.Timestamp,
				FromStatus: transition.FromStatus,
				ToStatus:   to,
				Priority:   next.Record.Priority,
				Message:    message,
			})
		}
		m.log.Debug("claim transitioned",
			logging.F("claim_id", claimID),
			logging.F("from", string(transition.FromStatus)),
			logging.F("to", string(to)),
		)
	})
}

func (m *Manager) SetExtractedClaim(ctx context.Context, claimID string, payload json.RawMessage) (domain.ClaimState, error) {
	return m.setPayload(ctx, claimID, "extractedClaim", func(st *domain.ClaimState, p json.RawMessage) { st.ExtractedClaim = p }, payload)
}

func (m *Manager) SetValidationResult(ctx context.Context, claimID string, payload json.RawMessage) (domain.ClaimState, error) {
	return m.setPayload(ctx, claimID, "validationResult", func(st *domain.ClaimState, p json.RawMessage) { st.ValidationResult = p }, payload)
}

func (m *Manager) SetAdjudicationResult(ctx context.Context, claimID string, payload json.RawMessage) (domain.ClaimState, error) {
	return m.setPayload(ctx, claimID, "adjudicationResult", func(st *domain.ClaimState, p json.RawMessage) { st.AdjudicationResult = p }, payload)
}

func (m *Manager) SetQualityResult(ctx context.Context, claimID string, payload json.RawMessage) (domain.ClaimState, error) {
	return m.setPayload(ctx, claimID, "qualityResult", func(st *domain.ClaimState, p json.RawMessage) { st.QualityResult = p }, payload)
}

func (m *Manager) setPayload(ctx context.Context, claimID, field string, set func(*domain.ClaimState, json.RawMessage), payload json.RawMessage) (domain.ClaimState, error) {
	return m.mutate(ctx, claimID, func(st *domain.ClaimState) error {
		set(st, append(json.RawMessage(nil), payload...))
		st.Record.UpdatedAt = m.now().UTC()
		return nil
	}, func(_, next domain.ClaimState) {
		m.bus.State.Publish(events.StateEvent{
			Type:      events.StateUpdated,
			ClaimID:   claimID,
			Timestamp: next.Record.UpdatedAt,
			ToStatus:  next.Record.Status,
			Field:     field,
		})
	})
}

// IncrementCorrectionAttempts bumps the counter and returns the new value.
// The counter never passes the configured maximum.
func (m *Manager) IncrementCorrectionAttempts(ctx context.Context, claimID string) (int, error) {
	count := 0
	_, err := m.mutate(ctx, claimID, func(st *domain.ClaimState) error {
		if st.CorrectionAttempts >= m.cfg.MaxCorrectionAttempts {
			return &domain.MaxCorrectionAttemptsExceededError{
				ClaimID:  claimID,
				Attempts: st.CorrectionAttempts,
				Max:      m.cfg.MaxCorrectionAttempts,
			}
		}
		st.CorrectionAttempts++
		st.Record.UpdatedAt = m.now().UTC()
		count = st.CorrectionAttempts
		return nil
	}, func(_, next domain.ClaimState) {
		m.bus.State.Publish(events.StateEvent{
			Type:      events.StateUpdated,
			ClaimID:   claimID,
			Timestamp: next.Record.UpdatedAt,
			ToStatus:  next.Record.Status,
			Field:     "correctionAttempts",
		})
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (m *Manager) CanAttemptCorrection(st domain.ClaimState) bool {
	return st.CorrectionAttempts < m.cfg.MaxCorrectionAttempts
}

func (m *Manager) DetermineNextAction(confidence float64) domain.RoutingAction {
	return m.cfg.Routing.Decide(confidence)
}

// ListStates returns a point-in-time snapshot. It never takes per-claim
// locks, so it does not block writers.
func (m *Manager) ListStates(ctx context.Context, f Filter) ([]domain.ClaimState, error) {
	var (
		stored []domain.ClaimState
		cached map[string]domain.ClaimState
	)
	for attempt := 0; ; attempt++ {
		gen := m.deletions.Load()
		var err error
		stored, err = m.listStore(ctx, f)
		if err != nil {
			return nil, err
		}
		// Taken after the store read so cached entries are never older than it.
		cached = m.snapshot()
		if m.deletions.Load() == gen || attempt == maxListAttempts-1 {
			break
		}
	}

	merged := make(map[string]domain.ClaimState, len(stored)+len(cached))
	for _, st := range stored {
		merged[st.ID()] = st
	}
	for id, st := range cached {
		merged[id] = st
	}

	out := make([]domain.ClaimState, 0, len(merged))
	for _, st := range merged {
		if f.matches(st) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Record, out[j].Record
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return out, nil
}

func (m *Manager) GetStatistics(ctx context.Context) (Statistics, error) {
	states, err := m.ListStates(ctx, Filter{})
	if err != nil {
		return Statistics{}, err
	}
	stats := Statistics{
		Total:    len(states),
		ByStatus: make(map[domain.ClaimStatus]int, len(domain.AllStatuses())),
	}
	for _, s := range domain.AllStatuses() {
		stats.ByStatus[s] = 0
	}
	attempts := 0
	for _, st := range states {
		stats.ByStatus[st.Record.Status]++
		attempts += st.CorrectionAttempts
	}
	if len(states) > 0 {
		stats.AverageCorrectionAttempts = float64(attempts) / float64(len(states))
	}
	return stats, nil
}

func (m *Manager) DeleteState(ctx context.Context, claimID string) (bool, error) {
	unlock := m.locks.lock(claimID)
	defer unlock()

	_, wasCached := m.cached(claimID)
	existed, err := m.store.Delete(ctx, claimID)
	if err != nil {
		return false, fmt.Errorf("delete claim %s: %w", claimID, err)
	}
	m.forget(claimID)
	m.deletions.Add(1)
	if existed || wasCached {
		m.log.Info("claim deleted", logging.F("claim_id", claimID))
	}
	return existed || wasCached, nil
}

// mutate applies one change to a claim under its lock. The store is written
// before the cache, and events are published before the lock is released so
// subscribers see a claim's changes in order. On any error the claim is left
// as it was.
func (m *Manager) mutate(ctx context.Context, claimID string, apply func(*domain.ClaimState) error, emit func(prev, next domain.ClaimState)) (domain.ClaimState, error) {
	unlock := m.locks.lock(claimID)
	defer unlock()

	current, err := m.load(ctx, claimID)
	if err != nil {
		return domain.ClaimState{}, err
	}
	next := current.Clone()
	if err := apply(&next); err != nil {
		return domain.ClaimState{}, err
	}
	if err := m.store.Put(ctx, next); err != nil {
		return domain.ClaimState{}, fmt.Errorf("persist claim %s: %w", claimID, err)
	}
	m.remember(next)
	if emit != nil {
		emit(current, next)
	}
	return next.Clone(), nil
}

// load must be called with the claim's lock held.
func (m *Manager) load(ctx context.Context, claimID string) (domain.ClaimState, error) {
	if st, ok := m.cached(claimID); ok {
		return st, nil
	}
	st, ok, err := m.store.Get(ctx, claimID)
	if err != nil {
		return domain.ClaimState{}, fmt.Errorf("load claim %s: %w", claimID, err)
	}
	if !ok {
		return domain.ClaimState{}, &domain.NotFoundError{ClaimID: claimID}
	}
	m.remember(st)
	return st, nil
}

func (m *Manager) listStore(ctx context.Context, f Filter) ([]domain.ClaimState, error) {
	if lister, ok := m.store.(statusLister); ok && f.Status != "" {
		return lister.ListByStatus(ctx, []domain.ClaimStatus{f.Status})
	}
	states, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	return states, nil
}

// nextTimestamp keeps processing history strictly increasing even when the
// clock returns the same instant twice.
func (m *Manager) nextTimestamp(st domain.ClaimState) time.Time {
	now := m.now().UTC()
	history := st.Record.ProcessingHistory
	if len(history) > 0 {
		last := history[len(history)-1].Timestamp
		if !now.After(last) {
			now = last.Add(time.Microsecond)
		}
	}
	return now
}

func (m *Manager) cached(claimID string) (domain.ClaimState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.cache[claimID]
	return st, ok
}

func (m *Manager) remember(st domain.ClaimState) {
	switch m.cfg.Cache {
	case CacheNone:
		return
	case CacheActive:
		if st.Record.Status.Settled() {
			m.forget(st.ID())
			return
		}
	}
	m.mu.Lock()
	m.cache[st.ID()] = st
	m.mu.Unlock()
}

func (m *Manager) forget(claimID string) {
	m.mu.Lock()
	delete(m.cache, claimID)
	m.mu.Unlock()
}

func (m *Manager) snapshot() map[string]domain.ClaimState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.ClaimState, len(m.cache))
	for id, st := range m.cache {
		out[id] = st.Clone()
	}
	return out
}

func copyMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
