package human

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/aretw0/weft/pkg/attachment"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/ports"
)

// ErrNoPendingPrompt is returned by Reply when nothing is waiting for input.
var ErrNoPendingPrompt = errors.New("no prompt is waiting for input")

// EventHumanInputRequired is the broadcast type announcing a pending prompt.
const EventHumanInputRequired = "human_input_required"

// Reply is an operator answer posted from outside the run.
type Reply struct {
	Text        string   `json:"text"`
	Attachments []string `json:"attachments,omitempty"`
}

// PendingPrompt describes the prompt a session is waiting on.
type PendingPrompt struct {
	NodeID  string    `json:"node_id"`
	Task    string    `json:"task_description"`
	Input   string    `json:"input"`
	AskedAt time.Time `json:"asked_at"`
}

// WebChannel parks prompts for one session until Reply is called.
//
// Attachment ids in a reply are looked up in the session store. When the run
// store lives under a different root the records are ingested into it.
type WebChannel struct {
	sessionID   string
	broadcaster ports.Broadcaster
	session     *attachment.Store
	run         *attachment.Store
	timeout     time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	pending  *pendingPrompt
	cancelCh chan struct{}
}

type pendingPrompt struct {
	PendingPrompt
	replies chan PromptResult
}

// WebOption configures a WebChannel.
type WebOption func(*WebChannel)

// WithBroadcaster sets who is told a prompt is waiting.
func WithBroadcaster(b ports.Broadcaster) WebOption {
	return func(w *WebChannel) { w.broadcaster = b }
}

// WithSessionStore sets the store reply attachment ids are resolved against.
func WithSessionStore(s *attachment.Store) WebOption {
	return func(w *WebChannel) { w.session = s }
}

// WithRunStore sets the store the current run writes to.
func WithRunStore(s *attachment.Store) WebOption {
	return func(w *WebChannel) { w.run = s }
}

// WithWaitTimeout bounds how long a prompt waits. Defaults to 30 minutes.
func WithWaitTimeout(d time.Duration) WebOption {
	return func(w *WebChannel) { w.timeout = d }
}

// WithWebLogger sets the logger.
func WithWebLogger(logger *slog.Logger) WebOption {
	return func(w *WebChannel) { w.logger = logger }
}

// NewWebChannel creates the channel for sessionID.
func NewWebChannel(sessionID string, opts ...WebOption) *WebChannel {
	w := &WebChannel{
		sessionID: sessionID,
		timeout:   30 * time.Minute,
		logger:    slog.Default(),
		cancelCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SessionID returns the session this channel serves.
func (w *WebChannel) SessionID() string {
	return w.sessionID
}

// SetRunStore points attachment ingestion at the store of the run now in progress.
func (w *WebChannel) SetRunStore(s *attachment.Store) {
	w.mu.Lock()
	w.run = s
	w.mu.Unlock()
}

// Request announces the prompt and blocks until a reply, the timeout, Cancel or ctx.
func (w *WebChannel) Request(ctx context.Context, req PromptRequest) (PromptResult, error) {
	p := &pendingPrompt{
		PendingPrompt: PendingPrompt{
			NodeID:  req.NodeID,
			Task:    req.Task,
			Input:   req.Inputs,
			AskedAt: time.Now().UTC(),
		},
		replies: make(chan PromptResult, 1),
	}

	w.mu.Lock()
	if w.pending != nil {
		w.mu.Unlock()
		return PromptResult{}, fmt.Errorf("session %s already has a pending prompt", w.sessionID)
	}
	w.pending = p
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		if w.pending == p {
			w.pending = nil
		}
		w.mu.Unlock()
	}()

	if w.broadcaster != nil {
		err := w.broadcaster.SendSync(w.sessionID, map[string]any{
			"type": EventHumanInputRequired,
			"data": map[string]any{
				"node_id":          req.NodeID,
				"input":            req.Inputs,
				"task_description": req.Task,
			},
		})
		if err != nil {
			w.logger.Warn("failed to broadcast human prompt", "session", w.sessionID, "node", req.NodeID, "err", err)
		}
	}

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	select {
	case res := <-p.replies:
		return res, nil
	case <-timer.C:
		return PromptResult{}, fmt.Errorf("%w: node %s waited %s", domain.ErrPromptTimeout, req.NodeID, w.timeout)
	case <-w.cancelCh:
		return PromptResult{}, fmt.Errorf("%w: prompt for node %s cancelled", domain.ErrWorkflowCancelled, req.NodeID)
	case <-ctx.Done():
		return PromptResult{}, ctx.Err()
	}
}

// Pending returns the prompt the session waits on, if any.
func (w *WebChannel) Pending() (PendingPrompt, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		return PendingPrompt{}, false
	}
	return w.pending.PendingPrompt, true
}

// Reply answers the pending prompt. Attachment ids are resolved before delivery,
// so an unknown id fails here and leaves the prompt waiting.
func (w *WebChannel) Reply(r Reply) error {
	w.mu.Lock()
	p := w.pending
	run := w.run
	w.mu.Unlock()
	if p == nil {
		return ErrNoPendingPrompt
	}

	blocks, err := w.resolve(r, run)
	if err != nil {
		return err
	}
	res := PromptResult{
		Text:   Sanitize(r.Text),
		Blocks: blocks,
		Metadata: map[string]any{
			"channel":     "web",
			"session_id":  w.sessionID,
			"attachments": append([]string(nil), r.Attachments...),
		},
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != p {
		return ErrNoPendingPrompt
	}
	select {
	case p.replies <- res:
		w.pending = nil
		return nil
	default:
		return ErrNoPendingPrompt
	}
}

// Cancel unblocks every waiting Request. Safe to call more than once.
func (w *WebChannel) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.cancelCh:
	default:
		close(w.cancelCh)
	}
}

func (w *WebChannel) resolve(r Reply, run *attachment.Store) ([]domain.Block, error) {
	var blocks []domain.Block
	text := Sanitize(r.Text)
	if text != "" {
		blocks = append(blocks, domain.TextBlock(text))
	}
	for _, id := range r.Attachments {
		rec, ok := w.lookup(id, run)
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrAttachmentNotFound, id)
		}
		if run != nil && w.session != nil && !sameRoot(run.Root(), w.session.Root()) {
			if _, inRun := run.Get(id); !inRun {
				ingested, err := run.IngestRecord(rec, true, true)
				if err != nil {
					return nil, fmt.Errorf("failed to ingest attachment %s: %w", id, err)
				}
				rec = ingested
			}
		}
		blocks = append(blocks, rec.Block())
	}
	if len(blocks) == 0 {
		blocks = []domain.Block{domain.TextBlock("")}
	}
	return blocks, nil
}

func (w *WebChannel) lookup(id string, run *attachment.Store) (domain.AttachmentRecord, bool) {
	if w.session != nil {
		if rec, ok := w.session.Get(id); ok {
			return rec, true
		}
	}
	if run != nil {
		return run.Get(id)
	}
	return domain.AttachmentRecord{}, false
}

func sameRoot(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}
