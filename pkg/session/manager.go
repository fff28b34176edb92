package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/weft/internal/logging"
	"github.com/aretw0/weft/pkg/dispatch"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/human"
	"github.com/aretw0/weft/pkg/ports"
)

// ErrSessionBusy is returned when a run is started on a session that is already running.
var ErrSessionBusy = errors.New("session already has a run in progress")

// DefaultLockTTL bounds how long a distributed session lock lives if never released.
const DefaultLockTTL = 30 * time.Second

// RunFunc is the body of a session run.
type RunFunc func(ctx context.Context, s *Session) error

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orchestrates session access, ensuring safe concurrent operations.
// It uses reference counting to garbage collect unused locks.
type Manager struct {
	queue ports.EventQueue

	mu       sync.Mutex            // Global lock for the maps
	locks    map[string]*lockEntry // Map of active locks
	sessions map[string]*Session

	locker       ports.DistributedLocker // Optional distributed locker
	lockTTL      time.Duration
	broadcaster  ports.Broadcaster
	channelOpts  []human.WebOption
	dispatchOpts []dispatch.Option
	logger       *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the distributed lock expiry. Defaults to DefaultLockTTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithBroadcaster mirrors prompts and artifacts to live subscribers.
func WithBroadcaster(b ports.Broadcaster) Option {
	return func(m *Manager) {
		m.broadcaster = b
	}
}

// WithChannelOptions adds options for every session's WebChannel.
func WithChannelOptions(opts ...human.WebOption) Option {
	return func(m *Manager) {
		m.channelOpts = append(m.channelOpts, opts...)
	}
}

// WithDispatchOptions adds options for every session's Dispatcher.
func WithDispatchOptions(opts ...dispatch.Option) Option {
	return func(m *Manager) {
		m.dispatchOpts = append(m.dispatchOpts, opts...)
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager whose sessions queue artifact events in queue.
func NewManager(queue ports.EventQueue, opts ...Option) *Manager {
	m := &Manager{
		queue:    queue,
		locks:    make(map[string]*lockEntry),
		sessions: make(map[string]*Session),
		lockTTL:  DefaultLockTTL,
		logger:   logging.NewNop(), // Default to no-op
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(sessionID) after unlocking.
func (m *Manager) acquire(sessionID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		entry = &lockEntry{}
		m.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, sessionID)
	}
}

// WithLock executes a function while holding the lock for the session.
func (m *Manager) WithLock(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	entry := m.acquire(sessionID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(sessionID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, sessionID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"session_id", sessionID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// Open returns the session with id, creating it on first use.
func (m *Manager) Open(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	var s *Session
	err := m.WithLock(ctx, sessionID, func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if existing, ok := m.sessions[sessionID]; ok {
			s = existing
			return nil
		}
		s = m.newSession(sessionID)
		m.sessions[sessionID] = s
		return nil
	})
	return s, err
}

func (m *Manager) newSession(id string) *Session {
	dopts := append([]dispatch.Option{dispatch.WithLogger(m.logger)}, m.dispatchOpts...)
	if m.broadcaster != nil {
		dopts = append(dopts, dispatch.WithBroadcaster(m.broadcaster))
	}
	s := &Session{
		ID:         id,
		Dispatcher: dispatch.New(id, m.queue, dopts...),
		status:     StatusIdle,
		created:    time.Now().UTC(),
	}
	s.channel = m.newChannel(id)
	return s
}

func (m *Manager) newChannel(id string) *human.WebChannel {
	copts := append([]human.WebOption{human.WithWebLogger(m.logger)}, m.channelOpts...)
	if m.broadcaster != nil {
		copts = append(copts, human.WithBroadcaster(m.broadcaster))
	}
	return human.NewWebChannel(id, copts...)
}

// Get returns an existing session.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

// List returns the known session ids, sorted.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Start launches run in the background on session id. base is the parent
// context of the run; it should outlive the request that started it.
func (m *Manager) Start(ctx, base context.Context, sessionID string, run RunFunc) (*Session, error) {
	s, err := m.Open(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	err = m.WithLock(ctx, sessionID, func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.status == StatusRunning {
			return ErrSessionBusy
		}
		if s.channelClosed {
			s.channel = m.newChannel(sessionID)
			s.channelClosed = false
		}
		runCtx, cancel := context.WithCancel(base)
		s.status = StatusRunning
		s.err = nil
		s.started = time.Now().UTC()
		s.finished = time.Time{}
		s.cancel = cancel
		s.done = make(chan struct{})
		go m.execute(runCtx, s, s.done, run)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) execute(ctx context.Context, s *Session, done chan struct{}, run RunFunc) {
	defer close(done)
	err := run(ctx, s)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel()
	s.finished = time.Now().UTC()
	s.err = err
	switch {
	case err == nil:
		s.status = StatusCompleted
	case errors.Is(err, domain.ErrWorkflowCancelled):
		s.status = StatusCancelled
	default:
		s.status = StatusFailed
	}
	m.logger.Info("session run finished", "session_id", s.ID, "status", s.status, "err", err)
}

// Cancel stops the session's run and unblocks any pending prompt.
func (m *Manager) Cancel(ctx context.Context, sessionID string) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	return m.WithLock(ctx, sessionID, func(context.Context) error {
		s.stop()
		return nil
	})
}

// Reply answers the prompt the session is waiting on.
func (m *Manager) Reply(ctx context.Context, sessionID string, reply human.Reply) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	return m.WithLock(ctx, sessionID, func(context.Context) error {
		return s.Channel().Reply(reply)
	})
}

// Events returns the artifact events queued for the session.
func (m *Manager) Events(ctx context.Context, sessionID string) ([]domain.ArtifactEvent, error) {
	if _, err := m.Get(sessionID); err != nil {
		return nil, err
	}
	return m.queue.List(ctx, sessionID)
}

// Delete stops the session, drops its queued events and forgets it.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	return m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		m.mu.Lock()
		s, ok := m.sessions[sessionID]
		delete(m.sessions, sessionID)
		m.mu.Unlock()
		if ok {
			s.stop()
		}
		return m.queue.Delete(ctx, sessionID)
	})
}

// Queue returns the underlying event queue.
func (m *Manager) Queue() ports.EventQueue {
	return m.queue
}
