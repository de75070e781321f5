package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Apurer/go-commerce-orders/internal/domains/outbox/domain"
	"github.com/Apurer/go-commerce-orders/internal/domains/outbox/ports"
)

const fetchPollInterval = 5 * time.Millisecond

var (
	_ ports.Publisher = (*Broker)(nil)
	_ ports.Consumer  = (*Queue)(nil)
)

// Broker routes messages to one in-memory queue per event kind. It backs
// tests and local development; production uses the Kafka adapter.
type Broker struct {
	mu     sync.Mutex
	queues map[domain.Kind]*Queue
}

// NewBroker constructs an empty broker.
func NewBroker() *Broker {
	return &Broker{queues: map[domain.Kind]*Queue{}}
}

// Publish enqueues the message on its kind's queue.
func (b *Broker) Publish(_ context.Context, msg ports.Message) error {
	b.queue(msg.Kind).push(msg)
	return nil
}

// Queue returns the consumer for one kind, creating it on first use.
func (b *Broker) Queue(kind domain.Kind) *Queue {
	return b.queue(kind)
}

func (b *Broker) queue(kind domain.Kind) *Queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[kind]
	if !ok {
		q = NewQueue()
		b.queues[kind] = q
	}
	return q
}

// Queue is a single in-memory topic honoring NotBefore for delayed
// redelivery. Fetched messages stay in flight until committed.
type Queue struct {
	mu       sync.Mutex
	pending  []ports.Message
	inflight map[string]ports.Message
	now      func() time.Time
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{
		inflight: map[string]ports.Message{},
		now:      time.Now,
	}
}

// WithClock overrides the time source for deterministic testing.
func (q *Queue) WithClock(now func() time.Time) {
	if now != nil {
		q.now = now
	}
}

func (q *Queue) push(msg ports.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, msg)
}

// Fetch blocks until an eligible message is available or ctx is done.
func (q *Queue) Fetch(ctx context.Context) (*ports.Message, error) {
	for {
		if msg := q.tryFetch(); msg != nil {
			return msg, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(fetchPollInterval):
		}
	}
}

// TryFetch returns the next eligible message without blocking, or nil.
// Exposed for tests that drive the queue step by step.
func (q *Queue) TryFetch() *ports.Message {
	return q.tryFetch()
}

func (q *Queue) tryFetch() *ports.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for i, msg := range q.pending {
		if msg.NotBefore.After(now) {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		q.inflight[messageKey(msg)] = msg
		copy := msg
		return &copy
	}
	return nil
}

// Commit acknowledges a fetched message.
func (q *Queue) Commit(_ context.Context, msg *ports.Message) error {
	if msg == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, messageKey(*msg))
	return nil
}

// Depth reports how many messages are waiting (eligible or deferred).
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func messageKey(msg ports.Message) string {
	return fmt.Sprintf("%s|%d", msg.EventID, msg.Attempt)
}
