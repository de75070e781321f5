package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/Apurer/go-commerce-orders/internal/domains/delivery/domain"
	"github.com/Apurer/go-commerce-orders/internal/domains/delivery/ports"
)

var (
	_ ports.EndpointStateStore = (*EndpointStateStore)(nil)
	_ ports.AttemptLog         = (*AttemptLog)(nil)
	_ ports.VendorDirectory    = (*VendorDirectory)(nil)
)

// EndpointStateStore keeps per-vendor circuit rows in memory with the same
// compare-and-swap contract as the Postgres adapter.
type EndpointStateStore struct {
	mu     sync.Mutex
	states map[uuid.UUID]domain.EndpointState
}

// NewEndpointStateStore constructs an empty store.
func NewEndpointStateStore() *EndpointStateStore {
	return &EndpointStateStore{states: map[uuid.UUID]domain.EndpointState{}}
}

// Get returns the vendor's state, initializing a closed circuit on first use.
func (s *EndpointStateStore) Get(_ context.Context, vendorID uuid.UUID) (*domain.EndpointState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[vendorID]
	if !ok {
		state = *domain.NewEndpointState(vendorID)
		s.states[vendorID] = state
	}
	copy := state
	return &copy, nil
}

// Update persists the state when the version still matches.
func (s *EndpointStateStore) Update(_ context.Context, state *domain.EndpointState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.states[state.VendorID]
	if ok && current.Version != state.Version {
		return ports.ErrVersionConflict
	}
	next := *state
	next.Version++
	s.states[state.VendorID] = next
	state.Version = next.Version
	return nil
}

// AttemptLog is the in-memory append-only delivery audit trail.
type AttemptLog struct {
	mu       sync.Mutex
	attempts map[uuid.UUID][]domain.Attempt
}

// NewAttemptLog constructs an empty log.
func NewAttemptLog() *AttemptLog {
	return &AttemptLog{attempts: map[uuid.UUID][]domain.Attempt{}}
}

// Append records one attempt.
func (l *AttemptLog) Append(_ context.Context, attempt domain.Attempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts[attempt.EventID] = append(l.attempts[attempt.EventID], attempt)
	return nil
}

// ListByEvent returns attempts for an event in append order.
func (l *AttemptLog) ListByEvent(_ context.Context, eventID uuid.UUID) ([]domain.Attempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Attempt(nil), l.attempts[eventID]...), nil
}

// VendorDirectory is a static registry of vendor endpoints.
type VendorDirectory struct {
	mu        sync.RWMutex
	endpoints map[uuid.UUID]ports.Endpoint
}

// NewVendorDirectory constructs an empty directory.
func NewVendorDirectory() *VendorDirectory {
	return &VendorDirectory{endpoints: map[uuid.UUID]ports.Endpoint{}}
}

// Register adds or replaces a vendor's endpoint.
func (d *VendorDirectory) Register(vendorID uuid.UUID, endpoint ports.Endpoint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.endpoints[vendorID] = endpoint
}

// Endpoint resolves the vendor's registered endpoint.
func (d *VendorDirectory) Endpoint(_ context.Context, vendorID uuid.UUID) (*ports.Endpoint, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	endpoint, ok := d.endpoints[vendorID]
	if !ok {
		return nil, ports.ErrVendorUnknown
	}
	copy := endpoint
	return &copy, nil
}
