package ports

import (
	"context"
	"time"
)

// ReleaseFunc gives a session lock back. It is called with a context that
// outlives the run, so a cancelled session still releases its key.
type ReleaseFunc func(ctx context.Context) error

// DistributedLocker serializes work on one session across weft processes
// that share a backend. session.Manager takes it around starting a run,
// answering a prompt, cancelling and deleting, after its in-process mutex.
type DistributedLocker interface {
	// Lock waits until sessionID is free or ctx ends. The hold lapses after
	// ttl, so a crashed server cannot wedge the session.
	Lock(ctx context.Context, sessionID string, ttl time.Duration) (ReleaseFunc, error)
}
