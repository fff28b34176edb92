package human_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/weft/internal/logging"
	"github.com/aretw0/weft/pkg/attachment"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/human"
	"github.com/aretw0/weft/pkg/runlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChannel struct {
	mu      sync.Mutex
	active  int
	maxSeen int
	delay   time.Duration
	result  human.PromptResult
	err     error
}

func (s *stubChannel) Request(ctx context.Context, req human.PromptRequest) (human.PromptResult, error) {
	s.mu.Lock()
	s.active++
	if s.active > s.maxSeen {
		s.maxSeen = s.active
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return human.PromptResult{}, ctx.Err()
		}
	}
	return s.result, s.err
}

func TestService_SerializesAndLogs(t *testing.T) {
	ch := &stubChannel{delay: 5 * time.Millisecond, result: human.PromptResult{Text: "ok\x1b[31m"}}
	log := runlog.New()
	svc := human.NewService(ch, human.WithRecorder(log), human.WithLogger(logging.NewNop()))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Request(context.Background(), "h", "approve?", "", nil)
			assert.NoError(t, err)
			require.Len(t, res.Blocks, 1, "text-only answers get a single text block")
			assert.NotNil(t, res.Metadata)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ch.maxSeen, "at most one prompt may be active")
	entries := log.Filter(domain.KindHuman)
	require.Len(t, entries, 4)
	assert.Equal(t, "ok[31m", entries[0].Payload["text"], "control characters are stripped")
	assert.Contains(t, entries[0].Timings, "human_wait")
}

func TestService_Timeout(t *testing.T) {
	ch := &stubChannel{delay: time.Second}
	svc := human.NewService(ch, human.WithTimeout(10*time.Millisecond), human.WithLogger(logging.NewNop()))
	_, err := svc.Request(context.Background(), "h", "", "", nil)
	assert.ErrorIs(t, err, domain.ErrPromptTimeout)
}

func TestService_PropagatesChannelErrors(t *testing.T) {
	boom := errors.New("boom")
	svc := human.NewService(&stubChannel{err: boom}, human.WithLogger(logging.NewNop()))
	_, err := svc.Request(context.Background(), "h", "", "", nil)
	assert.ErrorIs(t, err, boom)
}

func TestService_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := human.NewService(&stubChannel{delay: time.Second}, human.WithLogger(logging.NewNop()))
	_, err := svc.Request(ctx, "h", "", "", nil)
	assert.ErrorIs(t, err, domain.ErrWorkflowCancelled)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "ab", human.Sanitize("a\xffb"))
	assert.Equal(t, "line1\nline2\tx", human.Sanitize("line1\nline2\tx\x00\x07"))

	old := human.MaxLoggedText
	human.MaxLoggedText = 3
	defer func() { human.MaxLoggedText = old }()
	assert.Equal(t, "aé", human.Sanitize("aé€"), "never cut inside a rune")
}

func TestCLIChannel_ReadsOneLine(t *testing.T) {
	var out bytes.Buffer
	ch := human.NewCLIChannel(strings.NewReader("looks good\nsecond\n"), &out, human.WithMarkdown(false))

	res, err := ch.Request(context.Background(), human.PromptRequest{NodeID: "review", Task: "Check the draft", Inputs: "draft text"})
	require.NoError(t, err)
	assert.Equal(t, "looks good", res.Text)
	require.Len(t, res.Blocks, 1)
	assert.Equal(t, "looks good", res.Blocks[0].Text)

	printed := out.String()
	assert.Contains(t, printed, "Check the draft")
	assert.Contains(t, printed, "`review`")
	assert.Contains(t, printed, "> draft text")

	res, err = ch.Request(context.Background(), human.PromptRequest{NodeID: "review"})
	require.NoError(t, err)
	assert.Equal(t, "second", res.Text)

	_, err = ch.Request(context.Background(), human.PromptRequest{NodeID: "review"})
	assert.ErrorIs(t, err, io.EOF)
}

func TestCLIChannel_Timeout(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	ch := human.NewCLIChannel(pr, io.Discard, human.WithMarkdown(false))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := ch.Request(ctx, human.PromptRequest{NodeID: "x"})
	assert.ErrorIs(t, err, domain.ErrPromptTimeout)
}

type recordingBroadcaster struct {
	mu       sync.Mutex
	payloads []map[string]any
	sent     chan struct{}
}

func (b *recordingBroadcaster) SendSync(sessionID string, payload map[string]any) error {
	b.mu.Lock()
	b.payloads = append(b.payloads, payload)
	b.mu.Unlock()
	if b.sent != nil {
		b.sent <- struct{}{}
	}
	return nil
}

func TestWebChannel_ReplyWithAttachments(t *testing.T) {
	dir := t.TempDir()
	sessionStore, err := attachment.New(filepath.Join(dir, "session"), attachment.WithLogger(logging.NewNop()))
	require.NoError(t, err)
	runStore, err := attachment.New(filepath.Join(dir, "run"), attachment.WithLogger(logging.NewNop()))
	require.NoError(t, err)

	src := filepath.Join(dir, "photo.png")
	require.NoError(t, os.WriteFile(src, []byte("png-bytes"), 0o644))
	rec, err := sessionStore.RegisterFile(src, attachment.WithKind(domain.BlockImage))
	require.NoError(t, err)

	bc := &recordingBroadcaster{sent: make(chan struct{}, 1)}
	web := human.NewWebChannel("s1", human.WithBroadcaster(bc), human.WithSessionStore(sessionStore), human.WithRunStore(runStore), human.WithWebLogger(logging.NewNop()))

	type outcome struct {
		res human.PromptResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := web.Request(context.Background(), human.PromptRequest{NodeID: "h", Task: "Upload a photo", Inputs: "prev"})
		done <- outcome{res, err}
	}()

	<-bc.sent
	pending, ok := web.Pending()
	require.True(t, ok)
	assert.Equal(t, "h", pending.NodeID)

	payload := bc.payloads[0]
	assert.Equal(t, human.EventHumanInputRequired, payload["type"])
	data := payload["data"].(map[string]any)
	assert.Equal(t, "Upload a photo", data["task_description"])
	assert.Equal(t, "prev", data["input"])

	assert.ErrorIs(t, web.Reply(human.Reply{Attachments: []string{"missing"}}), domain.ErrAttachmentNotFound)
	require.NoError(t, web.Reply(human.Reply{Text: "here", Attachments: []string{rec.Ref.AttachmentID}}))

	got := <-done
	require.NoError(t, got.err)
	require.Len(t, got.res.Blocks, 2)
	assert.Equal(t, "here", got.res.Blocks[0].Text)
	img := got.res.Blocks[1]
	assert.Equal(t, domain.BlockImage, img.Type)
	assert.NotEqual(t, rec.Ref.AttachmentID, img.Attachment.AttachmentID, "records from another root are ingested under a fresh id")
	_, inRun := runStore.Get(img.Attachment.AttachmentID)
	assert.True(t, inRun)

	_, ok = web.Pending()
	assert.False(t, ok)
	assert.ErrorIs(t, web.Reply(human.Reply{Text: "late"}), human.ErrNoPendingPrompt)
}

func TestWebChannel_EmptyReplyFallsBackToEmptyText(t *testing.T) {
	bc := &recordingBroadcaster{sent: make(chan struct{}, 1)}
	web := human.NewWebChannel("s1", human.WithBroadcaster(bc), human.WithWebLogger(logging.NewNop()))
	done := make(chan human.PromptResult, 1)
	go func() {
		res, _ := web.Request(context.Background(), human.PromptRequest{NodeID: "h"})
		done <- res
	}()
	<-bc.sent
	require.NoError(t, web.Reply(human.Reply{}))
	res := <-done
	require.Len(t, res.Blocks, 1)
	assert.Equal(t, domain.BlockText, res.Blocks[0].Type)
	assert.Equal(t, "", res.Blocks[0].Text)
}

func TestWebChannel_TimeoutAndCancel(t *testing.T) {
	web := human.NewWebChannel("s1", human.WithWaitTimeout(10*time.Millisecond), human.WithWebLogger(logging.NewNop()))
	_, err := web.Request(context.Background(), human.PromptRequest{NodeID: "h"})
	assert.ErrorIs(t, err, domain.ErrPromptTimeout)

	web = human.NewWebChannel("s2", human.WithWebLogger(logging.NewNop()))
	web.Cancel()
	web.Cancel()
	_, err = web.Request(context.Background(), human.PromptRequest{NodeID: "h"})
	assert.ErrorIs(t, err, domain.ErrWorkflowCancelled)
}
