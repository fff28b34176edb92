package ports

import (
	"context"

	"github.com/aretw0/weft/pkg/domain"
)

// EventQueue persists artifact events per session so late subscribers can catch up.
type EventQueue interface {
	// Append adds events to the end of the session's queue.
	Append(ctx context.Context, sessionID string, events ...domain.ArtifactEvent) error

	// List returns the queued events in append order without removing them.
	// An unknown session yields an empty slice.
	List(ctx context.Context, sessionID string) ([]domain.ArtifactEvent, error)

	// Drain returns the queued events and empties the queue.
	Drain(ctx context.Context, sessionID string) ([]domain.ArtifactEvent, error)

	// Delete removes the session's queue. Deleting an unknown session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// Sessions lists the ids of sessions with a queue.
	Sessions(ctx context.Context) ([]string, error)
}

// Broadcaster mirrors session events to external subscribers.
type Broadcaster interface {
	// SendSync delivers payload to every subscriber of sessionID before returning.
	SendSync(sessionID string, payload map[string]any) error
}
