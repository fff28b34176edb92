// Package dispatch turns workspace artifacts into session events. Events are
// appended to the session's queue and, when a broadcaster is configured,
// mirrored to live subscribers.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/ports"
)

// EventArtifactCreated is the payload type sent to broadcasters.
const EventArtifactCreated = "artifact_created"

// Dispatcher delivers artifact events for one session.
type Dispatcher struct {
	sessionID   string
	queue       ports.EventQueue
	broadcaster ports.Broadcaster
	logger      *slog.Logger
	observe     func([]domain.ArtifactEvent)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBroadcaster mirrors emitted events to b.
func WithBroadcaster(b ports.Broadcaster) Option {
	return func(d *Dispatcher) {
		d.broadcaster = b
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithObserver registers fn to be called with every emitted batch, after it
// was queued. Metrics use it to count events.
func WithObserver(fn func([]domain.ArtifactEvent)) Option {
	return func(d *Dispatcher) {
		d.observe = fn
	}
}

// New returns a dispatcher for sessionID backed by queue.
func New(sessionID string, queue ports.EventQueue, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sessionID: sessionID,
		queue:     queue,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SessionID returns the session the dispatcher emits for.
func (d *Dispatcher) SessionID() string {
	return d.sessionID
}

// EmitWorkspaceArtifacts converts artifacts into events and emits them.
func (d *Dispatcher) EmitWorkspaceArtifacts(ctx context.Context, artifacts []domain.WorkspaceArtifact) error {
	if len(artifacts) == 0 {
		return nil
	}
	events := make([]domain.ArtifactEvent, len(artifacts))
	for i, a := range artifacts {
		events[i] = a.Event()
	}
	return d.Emit(ctx, events)
}

// Emit appends events to the session queue and mirrors them to the
// broadcaster. Broadcast failures are logged and never returned.
func (d *Dispatcher) Emit(ctx context.Context, events []domain.ArtifactEvent) error {
	if len(events) == 0 {
		return nil
	}
	if d.queue != nil {
		if err := d.queue.Append(ctx, d.sessionID, events...); err != nil {
			return fmt.Errorf("queue artifact events: %w", err)
		}
	}
	if d.observe != nil {
		d.observe(events)
	}
	if d.broadcaster == nil {
		return nil
	}
	if err := d.broadcaster.SendSync(d.sessionID, Payload(d.sessionID, events)); err != nil {
		d.logger.Warn("artifact broadcast failed", "session_id", d.sessionID, "events", len(events), "err", err)
	}
	return nil
}

// Payload builds the artifact_created message sent to subscribers.
func Payload(sessionID string, events []domain.ArtifactEvent) map[string]any {
	items := make([]map[string]any, len(events))
	for i, e := range events {
		items[i] = e.ToMap()
	}
	return map[string]any{
		"type": EventArtifactCreated,
		"data": map[string]any{
			"session_id": sessionID,
			"events":     items,
		},
	}
}

// Handle matches workspace.EmitFunc. Queue failures are logged because the
// watcher has nowhere to return them.
func (d *Dispatcher) Handle(ctx context.Context, artifacts []domain.WorkspaceArtifact) {
	if err := d.EmitWorkspaceArtifacts(ctx, artifacts); err != nil {
		d.logger.Error("artifact dispatch failed", "session_id", d.sessionID, "err", err)
	}
}
