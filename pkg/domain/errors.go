package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrWorkflowCancelled is returned by executors and the scheduler once the run's cancel signal fires.
var ErrWorkflowCancelled = errors.New("workflow cancelled")

// ErrSessionNotFound is returned when a session ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrAttachmentNotFound is returned when an attachment id is unknown to a store.
var ErrAttachmentNotFound = errors.New("attachment not found")

// ErrSourceMissing is returned when a file handed to the attachment store does not exist.
var ErrSourceMissing = errors.New("attachment source missing")

// ErrUnknownNodeType is returned when a node references a type with no registered executor.
var ErrUnknownNodeType = errors.New("unknown node type")

// ErrMissingSubgraph is returned when a subgraph node has no child graph attached.
var ErrMissingSubgraph = errors.New("missing subgraph")

// ErrPromptTimeout is returned when a human prompt is not answered in time.
var ErrPromptTimeout = errors.New("human prompt timed out")

// ErrSchedulerStalled is returned when inputs are queued but no node can ever fire.
var ErrSchedulerStalled = errors.New("scheduler stalled: pending input cannot progress")

// ErrInvalidGraph is returned when a graph fails structural validation.
var ErrInvalidGraph = errors.New("invalid graph")

// ErrInvalidMessage is returned when a serialized message cannot be decoded.
var ErrInvalidMessage = errors.New("invalid message")

// Cancelled returns the error an executor reports when ctx is done. The result
// always matches ErrWorkflowCancelled and keeps the cancel cause when there is one.
func Cancelled(ctx context.Context) error {
	cause := context.Cause(ctx)
	switch {
	case cause == nil:
		return ErrWorkflowCancelled
	case errors.Is(cause, ErrWorkflowCancelled):
		return cause
	}
	return fmt.Errorf("%w: %w", ErrWorkflowCancelled, cause)
}
