package session

import (
	"context"
	"sync"
	"time"

	"github.com/aretw0/weft/pkg/dispatch"
	"github.com/aretw0/weft/pkg/human"
)

// Status is the lifecycle state of a session's latest run.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Session is one conversation with the server.
type Session struct {
	ID         string
	Dispatcher *dispatch.Dispatcher

	mu            sync.Mutex
	channel       *human.WebChannel
	channelClosed bool
	status        Status
	err           error
	created       time.Time
	started       time.Time
	finished      time.Time
	cancel        context.CancelFunc
	done          chan struct{}
	result        any
}

// Info is a point-in-time view of a session.
type Info struct {
	ID         string     `json:"id"`
	Status     Status     `json:"status"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Waiting    bool       `json:"waiting_for_human"`
}

// Channel returns the WebChannel serving the current run.
func (s *Session) Channel() *human.WebChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// SetResult stores the outcome of the current run.
func (s *Session) SetResult(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = v
}

// Result returns the value stored by SetResult.
func (s *Session) Result() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Done is closed when the latest run finishes. It is nil before the first run.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Info snapshots the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{ID: s.ID, Status: s.status, CreatedAt: s.created}
	if s.err != nil {
		info.Error = s.err.Error()
	}
	if !s.started.IsZero() {
		t := s.started
		info.StartedAt = &t
	}
	if !s.finished.IsZero() {
		t := s.finished
		info.FinishedAt = &t
	}
	_, info.Waiting = s.channel.Pending()
	return info
}

// stop cancels a running run and closes the channel so pending prompts return.
func (s *Session) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.status == StatusRunning {
		s.channel.Cancel()
		s.channelClosed = true
	}
}
