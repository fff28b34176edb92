package workspace_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/weft/internal/logging"
	"github.com/aretw0/weft/pkg/attachment"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	ws      string
	store   *attachment.Store
	watcher *workspace.Watcher
	emitted [][]domain.WorkspaceArtifact
}

func newFixture(t *testing.T, opts ...workspace.Option) *fixture {
	t.Helper()
	f := &fixture{ws: t.TempDir()}
	store, err := attachment.New(filepath.Join(f.ws, "attachments"), attachment.WithLogger(logging.NewNop()))
	require.NoError(t, err)
	f.store = store
	base := []workspace.Option{
		workspace.WithLogger(logging.NewNop()),
		workspace.WithClock(func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }),
		workspace.WithEmitter(func(_ context.Context, a []domain.WorkspaceArtifact) {
			f.emitted = append(f.emitted, a)
		}),
	}
	f.watcher = workspace.NewWatcher(store, append(base, opts...)...)
	return f
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	p := filepath.Join(f.ws, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func (f *fixture) run(t *testing.T, node domain.Node, body func()) []domain.WorkspaceArtifact {
	t.Helper()
	ctx := context.Background()
	token := f.watcher.BeforeNode(ctx, node, f.ws)
	body()
	return f.watcher.AfterNode(ctx, node, f.ws, token, true)
}

var pyNode = domain.Node{ID: "coder", Type: domain.NodeTypePython}

func TestWatcher_CreatedUpdatedDeleted(t *testing.T) {
	f := newFixture(t)

	created := f.run(t, pyNode, func() { f.write(t, "out/result.csv", "a,b\n") })
	require.Len(t, created, 1)
	c := created[0]
	assert.Equal(t, domain.ChangeCreated, c.ChangeType)
	assert.Equal(t, "out/result.csv", c.RelativePath)
	assert.Equal(t, "result.csv", c.FileName)
	assert.Equal(t, "coder", c.NodeID)
	assert.Equal(t, "text/csv", c.MimeType)
	assert.Equal(t, int64(4), c.Size)
	assert.Contains(t, c.AttachmentID, "ws-")

	rec, ok := f.store.Get(c.AttachmentID)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(f.ws, "out", "result.csv"), rec.Ref.LocalPath)
	assert.Equal(t, "workspace_scan", rec.Extra["hook"])

	updated := f.run(t, pyNode, func() { f.write(t, "out/result.csv", "a,b\n1,2\n") })
	require.Len(t, updated, 1)
	assert.Equal(t, domain.ChangeUpdated, updated[0].ChangeType)
	assert.Equal(t, c.AttachmentID, updated[0].AttachmentID, "updates reuse the attachment id")

	unchanged := f.run(t, pyNode, func() {})
	assert.Empty(t, unchanged)

	deleted := f.run(t, pyNode, func() { require.NoError(t, os.Remove(filepath.Join(f.ws, "out", "result.csv"))) })
	require.Len(t, deleted, 1)
	assert.Equal(t, domain.ChangeDeleted, deleted[0].ChangeType)
	assert.Equal(t, c.AttachmentID, deleted[0].AttachmentID)

	assert.Len(t, f.emitted, 3, "emitter is only called when something changed")
}

func TestWatcher_DeterministicIDs(t *testing.T) {
	a := newFixture(t)
	first := a.run(t, pyNode, func() { a.write(t, "x.txt", "same") })
	second := a.run(t, pyNode, func() {
		require.NoError(t, os.Remove(filepath.Join(a.ws, "x.txt")))
	})
	require.Len(t, second, 1)
	third := a.run(t, pyNode, func() { a.write(t, "x.txt", "same") })
	require.Len(t, third, 1)
	assert.Equal(t, domain.ChangeCreated, third[0].ChangeType)
	assert.Equal(t, first[0].AttachmentID, third[0].AttachmentID)
}

func TestWatcher_TruncatedSnapshotSuppressesDeletes(t *testing.T) {
	f := newFixture(t, workspace.WithLimits(workspace.Limits{MaxFiles: 2}))

	created := f.run(t, pyNode, func() {
		f.write(t, "a.txt", "a")
		f.write(t, "b.txt", "b")
	})
	require.Len(t, created, 2)

	// Third file pushes the scan over the cap; a removed file must not be reported.
	out := f.run(t, pyNode, func() {
		require.NoError(t, os.Remove(filepath.Join(f.ws, "a.txt")))
		f.write(t, "c.txt", "c")
		f.write(t, "d.txt", "d")
	})
	for _, a := range out {
		assert.NotEqual(t, domain.ChangeDeleted, a.ChangeType)
	}
}

func TestWatcher_SkipsExcludedDirs(t *testing.T) {
	f := newFixture(t)
	out := f.run(t, pyNode, func() {
		f.write(t, "__pycache__/mod.cpython-312.pyc", "bytecode")
		f.write(t, "attachments/upload/file.bin", "upload")
		f.write(t, "pkg/__pycache__/x.pyc", "bytecode")
		f.write(t, "script.py", "print(1)")
	})
	require.Len(t, out, 1)
	assert.Equal(t, "script.py", out[0].RelativePath)
}

func TestWatcher_IgnoresUnwatchedAndFailedNodes(t *testing.T) {
	f := newFixture(t)
	human := domain.Node{ID: "h", Type: domain.NodeTypeHuman}
	assert.Empty(t, f.run(t, human, func() { f.write(t, "a.txt", "a") }))

	ctx := context.Background()
	token := f.watcher.BeforeNode(ctx, pyNode, f.ws)
	f.write(t, "b.txt", "b")
	assert.Empty(t, f.watcher.AfterNode(ctx, pyNode, f.ws, token, false))
	assert.Empty(t, f.emitted)
}

func TestWatcher_OverlappingInvocationsOfSameNode(t *testing.T) {
	f := newFixture(t)
	f.write(t, "data.csv", "a,b\n")
	ctx := context.Background()

	first := f.watcher.BeforeNode(ctx, pyNode, f.ws)
	second := f.watcher.BeforeNode(ctx, pyNode, f.ws)
	require.NotEqual(t, first, second)
	f.write(t, "coder.py", "print(1)")

	a := f.watcher.AfterNode(ctx, pyNode, f.ws, first, true)
	require.Len(t, a, 1)
	assert.Equal(t, "coder.py", a[0].RelativePath)
	assert.Equal(t, domain.ChangeCreated, a[0].ChangeType)

	b := f.watcher.AfterNode(ctx, pyNode, f.ws, second, true)
	assert.Empty(t, b, "data.csv is untouched and coder.py was already reported with this content")

	third := f.watcher.BeforeNode(ctx, pyNode, f.ws)
	fourth := f.watcher.BeforeNode(ctx, pyNode, f.ws)
	f.write(t, "coder.py", "print(2)")
	c := f.watcher.AfterNode(ctx, pyNode, f.ws, fourth, true)
	require.Len(t, c, 1)
	assert.Equal(t, domain.ChangeUpdated, c[0].ChangeType)
	assert.Equal(t, a[0].AttachmentID, c[0].AttachmentID)
	assert.Empty(t, f.watcher.AfterNode(ctx, pyNode, f.ws, third, true))
}

func TestTakeSnapshot_MissingRoot(t *testing.T) {
	snap, err := workspace.TakeSnapshot(filepath.Join(t.TempDir(), "absent"), nil, workspace.Limits{})
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Len())
	assert.False(t, snap.Truncated)
}

func TestTakeSnapshot_ByteCap(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.bin"), make([]byte, 64), 0o644))
	snap, err := workspace.TakeSnapshot(dir, nil, workspace.Limits{MaxBytes: 10})
	require.NoError(t, err)
	assert.True(t, snap.Truncated)
	assert.Equal(t, 0, snap.Len())
}
