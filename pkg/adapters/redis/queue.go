// Package redis provides Redis-backed implementations of the session ports:
// an artifact EventQueue and a DistributedLocker.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/aretw0/weft/pkg/domain"
)

// DefaultPrefix namespaces every key written by this package.
const DefaultPrefix = "weft:"

// farFuture scores index entries of queues without a TTL (2100-01-01).
const farFuture = 4102444800

// Queue implements ports.EventQueue using one Redis list per session and a
// sorted set indexing the live sessions.
type Queue struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// Option configures a Queue.
type Option func(*Queue)

// WithTTL expires a session's queue ttl after its last append.
func WithTTL(ttl time.Duration) Option {
	return func(q *Queue) {
		q.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(q *Queue) {
		q.prefix = prefix
	}
}

// New creates a Redis queue connected to address.
func New(address, password string, db int, opts ...Option) *Queue {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a Redis queue from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Queue {
	q := &Queue{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Client returns the underlying client so a Locker can share the connection.
func (q *Queue) Client() *backend.Client {
	return q.client
}

func (q *Queue) key(sessionID string) string {
	return q.prefix + "events:" + sessionID
}

func (q *Queue) indexKey() string {
	return q.prefix + "events:index"
}

// Append pushes events onto the session's list and refreshes its expiry.
func (q *Queue) Append(ctx context.Context, sessionID string, events ...domain.ArtifactEvent) error {
	if len(events) == 0 {
		return nil
	}
	values := make([]any, len(events))
	for i, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		values[i] = data
	}

	score := float64(farFuture)
	if q.ttl > 0 {
		score = float64(time.Now().Add(q.ttl).Unix())
	}

	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, q.key(sessionID), values...)
	if q.ttl > 0 {
		pipe.Expire(ctx, q.key(sessionID), q.ttl)
	}
	pipe.ZAdd(ctx, q.indexKey(), backend.Z{Score: score, Member: sessionID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append to redis: %w", err)
	}
	return nil
}

// List returns the session's events in append order.
func (q *Queue) List(ctx context.Context, sessionID string) ([]domain.ArtifactEvent, error) {
	raw, err := q.client.LRange(ctx, q.key(sessionID), 0, -1).Result()
	if err != nil && !errors.Is(err, backend.Nil) {
		return nil, fmt.Errorf("failed to read from redis: %w", err)
	}
	return decodeEvents(raw)
}

// Drain reads and clears the session's list atomically.
func (q *Queue) Drain(ctx context.Context, sessionID string) ([]domain.ArtifactEvent, error) {
	var lrange *backend.StringSliceCmd
	_, err := q.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		lrange = pipe.LRange(ctx, q.key(sessionID), 0, -1)
		pipe.Del(ctx, q.key(sessionID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to drain redis queue: %w", err)
	}
	return decodeEvents(lrange.Val())
}

// Delete removes the session's list and index entry.
func (q *Queue) Delete(ctx context.Context, sessionID string) error {
	pipe := q.client.Pipeline()
	pipe.Del(ctx, q.key(sessionID))
	pipe.ZRem(ctx, q.indexKey(), sessionID)
	_, err := pipe.Exec(ctx)
	return err
}

// Sessions lists live sessions, pruning expired index entries first.
func (q *Queue) Sessions(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	if err := q.client.ZRemRangeByScore(ctx, q.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err(); err != nil {
		return nil, fmt.Errorf("failed to prune expired sessions: %w", err)
	}
	sessions, err := q.client.ZRange(ctx, q.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// Close closes the redis client.
func (q *Queue) Close() error {
	return q.client.Close()
}

func decodeEvents(raw []string) ([]domain.ArtifactEvent, error) {
	events := make([]domain.ArtifactEvent, 0, len(raw))
	for _, r := range raw {
		var e domain.ArtifactEvent
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		events = append(events, e)
	}
	return events, nil
}
