package session_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/weft/pkg/adapters/memory"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/human"
	"github.com/aretw0/weft/pkg/ports"
	"github.com/aretw0/weft/pkg/session"
)

func wait(t *testing.T, s *session.Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
}

func TestManager_RunLifecycle(t *testing.T) {
	mgr := session.NewManager(memory.NewQueue())
	ctx := context.Background()

	s, err := mgr.Start(ctx, ctx, "s1", func(ctx context.Context, s *session.Session) error {
		s.SetResult("ok")
		return s.Dispatcher.Emit(ctx, []domain.ArtifactEvent{{FileName: "a.txt"}})
	})
	require.NoError(t, err)
	wait(t, s)

	info := s.Info()
	assert.Equal(t, session.StatusCompleted, info.Status)
	assert.NotNil(t, info.FinishedAt)
	assert.Equal(t, "ok", s.Result())

	events, err := mgr.Events(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"s1"}, mgr.List())

	_, err = mgr.Get("ghost")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestManager_RejectsConcurrentRuns(t *testing.T) {
	mgr := session.NewManager(memory.NewQueue())
	ctx := context.Background()
	release := make(chan struct{})

	s, err := mgr.Start(ctx, ctx, "busy", func(ctx context.Context, _ *session.Session) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	_, err = mgr.Start(ctx, ctx, "busy", func(context.Context, *session.Session) error { return nil })
	assert.ErrorIs(t, err, session.ErrSessionBusy)

	close(release)
	wait(t, s)

	_, err = mgr.Start(ctx, ctx, "busy", func(context.Context, *session.Session) error { return errors.New("nope") })
	require.NoError(t, err)
	wait(t, s)
	assert.Equal(t, session.StatusFailed, s.Info().Status)
	assert.Equal(t, "nope", s.Info().Error)
}

func TestManager_CancelUnblocksPrompt(t *testing.T) {
	mgr := session.NewManager(memory.NewQueue())
	ctx := context.Background()
	asked := make(chan struct{})

	s, err := mgr.Start(ctx, ctx, "h", func(ctx context.Context, s *session.Session) error {
		go func() {
			for {
				if _, ok := s.Channel().Pending(); ok {
					close(asked)
					return
				}
				time.Sleep(5 * time.Millisecond)
			}
		}()
		_, err := s.Channel().Request(ctx, human.PromptRequest{NodeID: "h1", Task: "approve?"})
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrWorkflowCancelled, err)
		}
		return nil
	})
	require.NoError(t, err)
	<-asked
	assert.True(t, s.Info().Waiting)

	require.NoError(t, mgr.Cancel(ctx, "h"))
	wait(t, s)
	assert.Equal(t, session.StatusCancelled, s.Info().Status)

	// A later run gets a fresh channel.
	old := s.Channel()
	_, err = mgr.Start(ctx, ctx, "h", func(context.Context, *session.Session) error { return nil })
	require.NoError(t, err)
	wait(t, s)
	assert.NotSame(t, old, s.Channel())
}

func TestManager_ReplyReachesChannel(t *testing.T) {
	mgr := session.NewManager(memory.NewQueue())
	ctx := context.Background()
	got := make(chan human.PromptResult, 1)

	s, err := mgr.Start(ctx, ctx, "r", func(ctx context.Context, s *session.Session) error {
		res, err := s.Channel().Request(ctx, human.PromptRequest{NodeID: "h1"})
		got <- res
		return err
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := s.Channel().Pending()
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, mgr.Reply(ctx, "r", human.Reply{Text: "approve"}))
	assert.Equal(t, "approve", (<-got).Text)
	wait(t, s)

	assert.ErrorIs(t, mgr.Reply(ctx, "r", human.Reply{Text: "late"}), human.ErrNoPendingPrompt)
	assert.ErrorIs(t, mgr.Reply(ctx, "ghost", human.Reply{}), domain.ErrSessionNotFound)
}

func TestManager_DeleteDropsEvents(t *testing.T) {
	q := memory.NewQueue()
	mgr := session.NewManager(q)
	ctx := context.Background()
	s, err := mgr.Open(ctx, "d")
	require.NoError(t, err)
	require.NoError(t, s.Dispatcher.Emit(ctx, []domain.ArtifactEvent{{FileName: "x"}}))

	require.NoError(t, mgr.Delete(ctx, "d"))
	events, err := q.List(ctx, "d")
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Empty(t, mgr.List())
}

// countingLocker records how often the distributed lock is taken.
type countingLocker struct {
	mu    sync.Mutex
	locks int
	held  map[string]bool
}

func (c *countingLocker) Lock(_ context.Context, key string, _ time.Duration) (ports.ReleaseFunc, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held == nil {
		c.held = make(map[string]bool)
	}
	if c.held[key] {
		return nil, errors.New("lock taken twice")
	}
	c.held[key] = true
	c.locks++
	return func(context.Context) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.held, key)
		return nil
	}, nil
}

func TestManager_SerializesWithLock(t *testing.T) {
	locker := &countingLocker{}
	mgr := session.NewManager(memory.NewQueue(), session.WithLocker(locker))
	ctx := context.Background()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := mgr.WithLock(ctx, "shared", func(context.Context) error {
				v := counter
				time.Sleep(time.Millisecond)
				counter = v + 1
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Equal(t, 50, locker.locks)
}

type lockerFunc func(ctx context.Context, sessionID string, ttl time.Duration) (ports.ReleaseFunc, error)

func (f lockerFunc) Lock(ctx context.Context, sessionID string, ttl time.Duration) (ports.ReleaseFunc, error) {
	return f(ctx, sessionID, ttl)
}

func TestManager_WithLock_DistributedLockFailure(t *testing.T) {
	busy := errors.New("held by another server")
	mgr := session.NewManager(memory.NewQueue(), session.WithLocker(lockerFunc(
		func(context.Context, string, time.Duration) (ports.ReleaseFunc, error) {
			return nil, busy
		})))

	called := false
	err := mgr.WithLock(context.Background(), "s1", func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, busy)
	assert.False(t, called)
}

func TestManager_WithLock_ReleasesAfterCancel(t *testing.T) {
	var released bool
	mgr := session.NewManager(memory.NewQueue(), session.WithLocker(lockerFunc(
		func(context.Context, string, time.Duration) (ports.ReleaseFunc, error) {
			return func(ctx context.Context) error {
				released = ctx.Err() == nil
				return nil
			}, nil
		})))

	ctx, cancel := context.WithCancel(context.Background())
	err := mgr.WithLock(ctx, "s1", func(context.Context) error {
		cancel()
		return nil
	})
	require.NoError(t, err)
	assert.True(t, released, "release runs on a context detached from the cancelled run")
}
