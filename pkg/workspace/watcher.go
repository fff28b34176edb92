package workspace

import (
	"context"
	"encoding/hex"
	"log/slog"
	"path"
	"strconv"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/weft/pkg/attachment"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/zeebo/blake3"
)

// Registrar is the subset of the attachment store the watcher writes to.
type Registrar interface {
	RegisterFile(path string, opts ...attachment.RegisterOption) (domain.AttachmentRecord, error)
}

// EmitFunc receives the artifacts found after a node ran.
type EmitFunc func(ctx context.Context, artifacts []domain.WorkspaceArtifact)

type emitted struct {
	AttachmentID string
	Hash         string
}

// Watcher diffs a node's workspace before and after it runs and reports new,
// updated and deleted files.
//
// The last-emitted map lives for the whole run, so a file written by one node
// and removed by a later one is reported as deleted by the later node.
type Watcher struct {
	store    Registrar
	watched  map[string]bool
	excludes []string
	limits   Limits
	emit     EmitFunc
	logger   *slog.Logger
	now      func() time.Time

	mu          sync.Mutex
	seq         uint64
	before      map[string]Snapshot // invocation token -> snapshot
	lastEmitted map[string]map[string]emitted // workspace -> rel path -> emission
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithWatchedTypes replaces the node types that are scanned (default python and agent).
func WithWatchedTypes(types ...string) Option {
	return func(w *Watcher) {
		w.watched = make(map[string]bool, len(types))
		for _, t := range types {
			w.watched[t] = true
		}
	}
}

// WithExcludes replaces the excluded directory patterns (doublestar syntax).
func WithExcludes(patterns ...string) Option {
	return func(w *Watcher) {
		w.excludes = append([]string(nil), patterns...)
	}
}

// WithLimits sets the scan caps.
func WithLimits(l Limits) Option {
	return func(w *Watcher) {
		w.limits = l.normalized()
	}
}

// WithEmitter sets the callback that receives artifacts.
func WithEmitter(fn EmitFunc) Option {
	return func(w *Watcher) {
		w.emit = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) {
		w.now = now
	}
}

// NewWatcher creates a watcher that registers changed files in store.
func NewWatcher(store Registrar, opts ...Option) *Watcher {
	w := &Watcher{
		store:       store,
		watched:     map[string]bool{domain.NodeTypePython: true, domain.NodeTypeAgent: true},
		excludes:    append([]string(nil), DefaultExcludes...),
		limits:      DefaultLimits,
		logger:      slog.Default(),
		now:         time.Now,
		before:      make(map[string]Snapshot),
		lastEmitted: make(map[string]map[string]emitted),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watches reports whether nodes of this type are scanned.
func (w *Watcher) Watches(nodeType string) bool {
	return w.watched[nodeType]
}

// BeforeNode records the pre-execution snapshot for one invocation of node
// and returns the token AfterNode needs to find it. Parallel copies of the
// same node (sibling subgraph runs) each get their own token.
func (w *Watcher) BeforeNode(ctx context.Context, node domain.Node, workspace string) string {
	if !w.Watches(node.Type) || workspace == "" {
		return ""
	}
	snap, err := TakeSnapshot(workspace, w.excludes, w.limits)
	if err != nil {
		w.logger.Warn("workspace snapshot failed", "node", node.ID, "workspace", workspace, "err", err)
	}
	w.mu.Lock()
	w.seq++
	token := node.ID + "#" + strconv.FormatUint(w.seq, 10)
	w.before[token] = snap
	w.mu.Unlock()
	return token
}

// AfterNode diffs the workspace against the snapshot BeforeNode stored under
// token and emits the resulting artifacts. Nothing is emitted when success is
// false.
func (w *Watcher) AfterNode(ctx context.Context, node domain.Node, workspace, token string, success bool) []domain.WorkspaceArtifact {
	if !w.Watches(node.Type) || workspace == "" {
		return nil
	}
	w.mu.Lock()
	before, ok := w.before[token]
	delete(w.before, token)
	w.mu.Unlock()
	if !success {
		return nil
	}
	if !ok {
		before = Snapshot{Files: map[string]fileState{}}
	}

	after, err := TakeSnapshot(workspace, w.excludes, w.limits)
	if err != nil {
		w.logger.Warn("workspace snapshot failed", "node", node.ID, "workspace", workspace, "err", err)
		return nil
	}

	artifacts := w.diff(node.ID, workspace, before, after)
	if len(artifacts) > 0 && w.emit != nil {
		w.emit(ctx, artifacts)
	}
	return artifacts
}

func (w *Watcher) diff(nodeID, workspace string, before, after Snapshot) []domain.WorkspaceArtifact {
	w.mu.Lock()
	defer w.mu.Unlock()

	last := w.lastEmitted[workspace]
	if last == nil {
		last = make(map[string]emitted)
		w.lastEmitted[workspace] = last
	}

	changed := make([]string, 0)
	for rel, a := range after.Files {
		b, existed := before.Files[rel]
		if !existed || b.Hash != a.Hash {
			changed = append(changed, rel)
		}
	}
	sort.Strings(changed)

	now := w.now().UTC()
	var out []domain.WorkspaceArtifact
	for _, rel := range changed {
		state := after.Files[rel]
		prev, seen := last[rel]
		if seen && prev.Hash == state.Hash {
			// An overlapping invocation already reported this content.
			continue
		}
		change := domain.ChangeCreated
		id := artifactID(workspace, rel, state.Hash)
		if seen {
			change = domain.ChangeUpdated
			id = prev.AttachmentID
		}
		abs := filepath.Join(workspace, filepath.FromSlash(rel))
		rec, err := w.store.RegisterFile(abs,
			attachment.WithID(id),
			attachment.WithCopy(false),
			attachment.WithDeduplicate(false),
			attachment.WithPersist(true),
			attachment.WithExtra(map[string]any{
				"hook":          domain.ArtifactHookName,
				"relative_path": rel,
				"node_id":       nodeID,
			}),
		)
		if err != nil {
			w.logger.Warn("failed to register workspace artifact", "node", nodeID, "path", rel, "err", err)
			continue
		}
		last[rel] = emitted{AttachmentID: rec.Ref.AttachmentID, Hash: state.Hash}
		out = append(out, domain.WorkspaceArtifact{
			NodeID:        nodeID,
			AttachmentID:  rec.Ref.AttachmentID,
			FileName:      path.Base(rel),
			RelativePath:  rel,
			AbsolutePath:  abs,
			MimeType:      rec.Ref.MimeType,
			Size:          state.Size,
			SHA256:        state.Hash,
			CreatedAt:     now,
			ChangeType:    change,
			WorkspaceRoot: workspace,
		})
	}

	// A truncated scan cannot tell a missing file from an unscanned one.
	if after.Truncated {
		return out
	}
	var gone []string
	for rel := range last {
		if _, ok := after.Files[rel]; !ok {
			gone = append(gone, rel)
		}
	}
	sort.Strings(gone)
	for _, rel := range gone {
		prev := last[rel]
		delete(last, rel)
		out = append(out, domain.WorkspaceArtifact{
			NodeID:        nodeID,
			AttachmentID:  prev.AttachmentID,
			FileName:      path.Base(rel),
			RelativePath:  rel,
			AbsolutePath:  filepath.Join(workspace, filepath.FromSlash(rel)),
			SHA256:        prev.Hash,
			CreatedAt:     now,
			ChangeType:    domain.ChangeDeleted,
			WorkspaceRoot: workspace,
		})
	}
	return out
}

// artifactID derives a stable id from the file's location and content.
func artifactID(workspace, rel, hash string) string {
	sum := blake3.Sum256([]byte(workspace + "\x00" + rel + "\x00" + hash))
	return "ws-" + hex.EncodeToString(sum[:8])
}
