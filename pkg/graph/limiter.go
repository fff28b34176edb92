package graph

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds concurrent invocations of nodes that share a resource key.
// One semaphore exists per key; its size is fixed by the first acquisition.
type Limiter struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// NewLimiter returns an empty limiter.
func NewLimiter() *Limiter {
	return &Limiter{sems: make(map[string]*semaphore.Weighted)}
}

// Acquire blocks until a slot for key is free or ctx is done.
// An empty key or a non-positive limit is unbounded.
func (l *Limiter) Acquire(ctx context.Context, key string, limit int) (func(), error) {
	if key == "" || limit <= 0 {
		return func() {}, nil
	}
	sem := l.semaphore(key, limit)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { sem.Release(1) }) }, nil
}

func (l *Limiter) semaphore(key string, limit int) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.sems[key]
	if !ok {
		sem = semaphore.NewWeighted(int64(limit))
		l.sems[key] = sem
	}
	return sem
}
