// Package human routes operator prompts from human nodes and tools to a pluggable channel.
package human

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/runlog"
)

// PromptRequest is what a channel shows the operator.
type PromptRequest struct {
	NodeID   string
	Task     string
	Inputs   string
	Metadata map[string]any
}

// PromptResult is the operator's answer.
type PromptResult struct {
	Text     string
	Blocks   []domain.Block
	Metadata map[string]any
}

// PromptChannel delivers a prompt to an operator and waits for the answer.
// Implementations return domain.ErrPromptTimeout when the operator did not answer in time.
type PromptChannel interface {
	Request(ctx context.Context, req PromptRequest) (PromptResult, error)
}

// Recorder receives the human log entry of each interaction.
type Recorder interface {
	Human(nodeID string, payload map[string]any, timings map[string]float64)
}

// Service serializes prompts so at most one is active at a time.
type Service struct {
	channel  PromptChannel
	recorder Recorder
	logger   *slog.Logger
	timeout  time.Duration

	mu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithRecorder sets where interactions are logged.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithTimeout bounds each prompt. Zero means no limit beyond the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// NewService wraps channel.
func NewService(channel PromptChannel, opts ...Option) *Service {
	s := &Service{
		channel: channel,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Channel returns the underlying channel.
func (s *Service) Channel() PromptChannel {
	return s.channel
}

// WithRecorder returns a service sharing this one's channel that logs to r.
// The copy has its own lock; it is meant for one run at a time.
func (s *Service) WithRecorder(r Recorder) *Service {
	return &Service{
		channel:  s.channel,
		recorder: r,
		logger:   s.logger,
		timeout:  s.timeout,
	}
}

// Request asks the operator for input on behalf of nodeID.
func (s *Service) Request(ctx context.Context, nodeID, task, inputs string, metadata map[string]any) (PromptResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	timer := runlog.StartTimer("human_wait")
	res, err := s.channel.Request(ctx, PromptRequest{
		NodeID:   nodeID,
		Task:     task,
		Inputs:   inputs,
		Metadata: domain.CloneMap(metadata),
	})
	timings := timer.Stop()
	if err != nil {
		err = classify(ctx, err)
		s.logger.Warn("human prompt failed", "node", nodeID, "err", err)
		if s.recorder != nil {
			s.recorder.Human(nodeID, map[string]any{"task": task, "error": err.Error()}, timings)
		}
		return PromptResult{}, err
	}

	res = normalize(res)
	if s.recorder != nil {
		s.recorder.Human(nodeID, map[string]any{
			"task":        task,
			"text":        Sanitize(res.Text),
			"block_count": len(res.Blocks),
		}, timings)
	}
	return res, nil
}

func classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrPromptTimeout), errors.Is(err, domain.ErrWorkflowCancelled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", domain.ErrPromptTimeout, err)
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		return fmt.Errorf("%w: %w", domain.ErrWorkflowCancelled, err)
	}
	return err
}

func normalize(res PromptResult) PromptResult {
	if len(res.Blocks) == 0 {
		res.Blocks = []domain.Block{domain.TextBlock(res.Text)}
	}
	if res.Metadata == nil {
		res.Metadata = map[string]any{}
	}
	return res
}
