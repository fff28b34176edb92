package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/weft/pkg/domain"
)

// Queue implements ports.EventQueue in memory.
// Safe for concurrent use.
type Queue struct {
	data map[string][]domain.ArtifactEvent
	mu   sync.RWMutex
}

// NewQueue creates a new in-memory event queue.
func NewQueue() *Queue {
	return &Queue{
		data: make(map[string][]domain.ArtifactEvent),
	}
}

// Append adds events to the session's queue.
func (q *Queue) Append(ctx context.Context, sessionID string, events ...domain.ArtifactEvent) error {
	copied := make([]domain.ArtifactEvent, len(events))
	for i, e := range events {
		copied[i] = cloneEvent(e)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.data[sessionID] = append(q.data[sessionID], copied...)
	return nil
}

// List returns a copy of the session's queued events.
func (q *Queue) List(ctx context.Context, sessionID string) ([]domain.ArtifactEvent, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return cloneEvents(q.data[sessionID]), nil
}

// Drain returns the queued events and empties the queue.
func (q *Queue) Drain(ctx context.Context, sessionID string) ([]domain.ArtifactEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := q.data[sessionID]
	if _, ok := q.data[sessionID]; ok {
		q.data[sessionID] = nil
	}
	return cloneEvents(events), nil
}

// Delete removes the session's queue.
func (q *Queue) Delete(ctx context.Context, sessionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.data, sessionID)
	return nil
}

// Sessions returns the sessions holding a queue, sorted.
func (q *Queue) Sessions(ctx context.Context) ([]string, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	sessions := make([]string, 0, len(q.data))
	for id := range q.data {
		sessions = append(sessions, id)
	}
	sort.Strings(sessions)
	return sessions, nil
}

func cloneEvent(e domain.ArtifactEvent) domain.ArtifactEvent {
	e.Extra = domain.CloneMap(e.Extra)
	return e
}

func cloneEvents(events []domain.ArtifactEvent) []domain.ArtifactEvent {
	out := make([]domain.ArtifactEvent, len(events))
	for i, e := range events {
		out[i] = cloneEvent(e)
	}
	return out
}
