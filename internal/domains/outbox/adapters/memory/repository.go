package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Apurer/go-commerce-orders/internal/domains/outbox/domain"
	"github.com/Apurer/go-commerce-orders/internal/domains/outbox/ports"
)

var _ ports.Repository = (*Repository)(nil)

// Repository is an in-memory outbox table for development and tests. The
// orders memory store appends into it as part of its commit.
type Repository struct {
	mu     sync.RWMutex
	events map[uuid.UUID]*domain.Event
	now    func() time.Time
}

// NewRepository constructs an empty in-memory outbox.
func NewRepository() *Repository {
	return &Repository{
		events: map[uuid.UUID]*domain.Event{},
		now:    time.Now,
	}
}

// WithClock overrides the time source for deterministic testing.
func (r *Repository) WithClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// Append stores pending events. Called by the orders store inside its commit.
func (r *Repository) Append(events ...*domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, event := range events {
		copy := *event
		r.events[event.ID] = &copy
	}
}

// ListPending returns pending events oldest-first.
func (r *Repository) ListPending(_ context.Context, limit int) ([]*domain.Event, error) {
	return r.listByStatus(domain.StatusPending, limit), nil
}

// ListDead returns dead-lettered events oldest-first for operator inspection.
func (r *Repository) ListDead(_ context.Context, limit int) ([]*domain.Event, error) {
	return r.listByStatus(domain.StatusDead, limit), nil
}

func (r *Repository) listByStatus(status domain.Status, limit int) []*domain.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []*domain.Event
	for _, event := range r.events {
		if event.Status == status {
			copy := *event
			matched = append(matched, &copy)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// Get returns the stored event by id.
func (r *Repository) Get(_ context.Context, id uuid.UUID) (*domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	event, ok := r.events[id]
	if !ok {
		return nil, ports.ErrEventNotFound
	}
	copy := *event
	return &copy, nil
}

// MarkRelayed transitions pending -> relayed.
func (r *Repository) MarkRelayed(_ context.Context, id uuid.UUID) error {
	return r.transition(id, domain.StatusRelayed, "")
}

// MarkDelivered transitions relayed -> delivered. Idempotent for events that
// already reached delivered, so replays collapse harmlessly.
func (r *Repository) MarkDelivered(_ context.Context, id uuid.UUID) error {
	return r.transition(id, domain.StatusDelivered, "")
}

// MarkDead moves the event to its terminal failure state.
func (r *Repository) MarkDead(_ context.Context, id uuid.UUID, reason string) error {
	return r.transition(id, domain.StatusDead, reason)
}

// RecordFailure bumps the attempt counter and last error without changing status.
func (r *Repository) RecordFailure(_ context.Context, id uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[id]
	if !ok {
		return ports.ErrEventNotFound
	}
	event.Attempts++
	event.LastError = reason
	event.UpdatedAt = r.now().UTC()
	return nil
}

func (r *Repository) transition(id uuid.UUID, next domain.Status, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[id]
	if !ok {
		return ports.ErrEventNotFound
	}
	if event.Status == next {
		return nil
	}
	if !event.Status.CanTransitionTo(next) {
		return ports.ErrInvalidTransition
	}
	event.Status = next
	if reason != "" {
		event.LastError = reason
	}
	event.UpdatedAt = r.now().UTC()
	return nil
}
