package attachment

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/aretw0/weft/internal/adapters/file"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/google/uuid"
)

// ManifestName is the file, under the store root, listing persistent records.
const ManifestName = "attachments_manifest.json"

// Store manages content-addressed attachment files for one run under a root directory.
//
// Every mutation holds the store mutex across the file copy, the index update and
// the manifest rewrite, so Get and ListRecords never observe a partial write.
type Store struct {
	root         string
	manifestPath string
	logger       *slog.Logger
	newID        func() string

	mu         sync.Mutex
	records    map[string]domain.AttachmentRecord
	bySHA      map[string][]string
	persistent map[string]bool
}

// New opens (or creates) a store rooted at root and loads its manifest.
// A corrupt manifest is logged and ignored; the store starts empty.
func New(root string, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve attachment root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create attachment root: %w", err)
	}
	s := &Store{
		root:         abs,
		manifestPath: filepath.Join(abs, ManifestName),
		logger:       slog.Default(),
		newID:        uuid.NewString,
		records:      make(map[string]domain.AttachmentRecord),
		bySHA:        make(map[string][]string),
		persistent:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.loadManifest()
	return s, nil
}

// Root returns the absolute storage root.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) loadManifest() {
	data, err := os.ReadFile(s.manifestPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("attachment manifest unreadable, starting empty", "path", s.manifestPath, "err", err)
		}
		return
	}
	var entries map[string]domain.AttachmentRecord
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn("attachment manifest corrupt, starting empty", "path", s.manifestPath, "err", err)
		return
	}
	for id, rec := range entries {
		if rec.Ref.AttachmentID == "" {
			rec.Ref.AttachmentID = id
		}
		s.put(rec)
		s.persistent[id] = true
	}
}

// writeManifest rewrites the manifest from the persistent set. Caller holds mu.
func (s *Store) writeManifest() error {
	if err := file.WriteJSON(s.manifestPath, s.exportLocked()); err != nil {
		return fmt.Errorf("failed to write attachment manifest: %w", err)
	}
	return nil
}

func (s *Store) exportLocked() map[string]domain.AttachmentRecord {
	out := make(map[string]domain.AttachmentRecord, len(s.persistent))
	for id := range s.persistent {
		if rec, ok := s.records[id]; ok {
			out[id] = rec.Clone()
		}
	}
	return out
}

// put inserts or replaces a record and keeps the sha index consistent. Caller holds mu.
func (s *Store) put(rec domain.AttachmentRecord) {
	id := rec.Ref.AttachmentID
	if old, ok := s.records[id]; ok {
		s.unindex(old.Ref.SHA256, id)
	}
	s.records[id] = rec
	if rec.Ref.SHA256 != "" {
		s.bySHA[rec.Ref.SHA256] = append(s.bySHA[rec.Ref.SHA256], id)
	}
}

func (s *Store) unindex(sha, id string) {
	if sha == "" {
		return
	}
	ids := s.bySHA[sha]
	for i, v := range ids {
		if v == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(s.bySHA, sha)
	} else {
		s.bySHA[sha] = ids
	}
}

// commit stores rec and updates the persistent set and manifest. Caller holds mu.
func (s *Store) commit(rec domain.AttachmentRecord, persist bool) error {
	id := rec.Ref.AttachmentID
	s.put(rec)
	switch {
	case persist:
		s.persistent[id] = true
		return s.writeManifest()
	case s.persistent[id]:
		delete(s.persistent, id)
		return s.writeManifest()
	}
	return nil
}

// RegisterFile registers the file at path.
//
// With deduplication enabled (the default) a prior record with the same sha256
// is returned unchanged; when the file is not copied, the prior record must also
// point at the same resolved path.
func (s *Store) RegisterFile(path string, opts ...RegisterOption) (domain.AttachmentRecord, error) {
	cfg := newRegisterConfig(opts)

	abs, err := filepath.Abs(path)
	if err != nil {
		return domain.AttachmentRecord{}, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.AttachmentRecord{}, fmt.Errorf("%w: %s", domain.ErrSourceMissing, path)
		}
		return domain.AttachmentRecord{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return domain.AttachmentRecord{}, fmt.Errorf("%w: %s is a directory", domain.ErrSourceMissing, path)
	}
	sum, err := hashFile(abs)
	if err != nil {
		return domain.AttachmentRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.deduplicate {
		if rec, ok := s.duplicateLocked(sum, abs, cfg.copyFile); ok {
			return rec.Clone(), nil
		}
	}

	id := cfg.attachmentID
	if id == "" {
		id = s.newID()
	}
	name := cfg.displayName
	if name == "" {
		name = filepath.Base(abs)
	}
	mimeType := cfg.mimeType
	if mimeType == "" {
		mimeType = GuessMIME(name)
	}
	kind := cfg.kind
	if kind == "" {
		kind = domain.BlockTypeForMIME(mimeType)
	}

	localPath := abs
	if cfg.copyFile {
		dest := filepath.Join(s.root, id, filepath.Base(name))
		if dest != abs {
			if err := copyFile(abs, dest); err != nil {
				return domain.AttachmentRecord{}, err
			}
		}
		localPath = dest
	}

	rec := domain.AttachmentRecord{
		Ref: domain.AttachmentRef{
			AttachmentID: id,
			MimeType:     mimeType,
			Name:         name,
			Size:         info.Size(),
			SHA256:       sum,
			LocalPath:    localPath,
		},
		Kind:        kind,
		Description: cfg.description,
		Extra:       cfg.extra,
	}
	if err := s.commit(rec, cfg.persist); err != nil {
		return domain.AttachmentRecord{}, err
	}
	return rec.Clone(), nil
}

func (s *Store) duplicateLocked(sum, abs string, copied bool) (domain.AttachmentRecord, bool) {
	for _, id := range s.bySHA[sum] {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		if !copied && rec.Ref.LocalPath != abs {
			continue
		}
		return rec, true
	}
	return domain.AttachmentRecord{}, false
}

// RegisterBytes writes data under a fresh attachment directory and registers it
// in place. The file name is derived from the MIME type when no name is given.
func (s *Store) RegisterBytes(data []byte, opts ...RegisterOption) (domain.AttachmentRecord, error) {
	cfg := newRegisterConfig(opts)
	id := cfg.attachmentID
	if id == "" {
		id = s.newID()
	}
	name := cfg.displayName
	if name == "" {
		name = "attachment" + ExtensionForMIME(cfg.mimeType)
	}
	dir := filepath.Join(s.root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.AttachmentRecord{}, fmt.Errorf("failed to create attachment dir: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return domain.AttachmentRecord{}, fmt.Errorf("failed to write attachment bytes: %w", err)
	}

	rec, err := s.RegisterFile(path, append(opts, WithID(id), WithName(name), WithCopy(false))...)
	if err != nil {
		_ = os.RemoveAll(dir)
		return domain.AttachmentRecord{}, err
	}
	if rec.Ref.AttachmentID != id {
		// Deduplicated against an earlier record; the fresh copy is not referenced.
		_ = os.RemoveAll(dir)
	}
	return rec, nil
}

// RegisterRemoteFile records a provider-hosted file with no local payload.
func (s *Store) RegisterRemoteFile(remoteFileID, name string, opts ...RegisterOption) (domain.AttachmentRecord, error) {
	if remoteFileID == "" {
		return domain.AttachmentRecord{}, errors.New("remote file id cannot be empty")
	}
	cfg := newRegisterConfig(opts)
	id := cfg.attachmentID
	if id == "" {
		id = s.newID()
	}
	mimeType := cfg.mimeType
	if mimeType == "" {
		mimeType = GuessMIME(name)
	}
	kind := cfg.kind
	if kind == "" {
		kind = domain.BlockTypeForMIME(mimeType)
	}
	rec := domain.AttachmentRecord{
		Ref: domain.AttachmentRef{
			AttachmentID: id,
			MimeType:     mimeType,
			Name:         name,
			Size:         cfg.size,
			RemoteFileID: remoteFileID,
		},
		Kind:        kind,
		Description: cfg.description,
		Extra:       cfg.extra,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commit(rec, cfg.persist); err != nil {
		return domain.AttachmentRecord{}, err
	}
	return rec.Clone(), nil
}

// UpdateRemoteFileID attaches a provider-assigned id to an existing record.
func (s *Store) UpdateRemoteFileID(attachmentID, remoteFileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[attachmentID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrAttachmentNotFound, attachmentID)
	}
	rec.Ref.RemoteFileID = remoteFileID
	s.records[attachmentID] = rec
	if s.persistent[attachmentID] {
		return s.writeManifest()
	}
	return nil
}

// IngestRecord imports a record from another store under a fresh attachment id.
// When copyPayload is set the payload is copied under this store's root.
func (s *Store) IngestRecord(rec domain.AttachmentRecord, copyPayload, persist bool) (domain.AttachmentRecord, error) {
	out := rec.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	out.Ref.AttachmentID = id
	if copyPayload && rec.Ref.LocalPath != "" {
		if _, err := os.Stat(rec.Ref.LocalPath); err != nil {
			return domain.AttachmentRecord{}, fmt.Errorf("%w: %s", domain.ErrSourceMissing, rec.Ref.LocalPath)
		}
		name := rec.Ref.Name
		if name == "" {
			name = filepath.Base(rec.Ref.LocalPath)
		}
		dest := filepath.Join(s.root, id, filepath.Base(name))
		if err := copyFile(rec.Ref.LocalPath, dest); err != nil {
			return domain.AttachmentRecord{}, err
		}
		out.Ref.LocalPath = dest
	}
	if err := s.commit(out, persist); err != nil {
		return domain.AttachmentRecord{}, err
	}
	return out.Clone(), nil
}

// Get returns the record for id.
func (s *Store) Get(attachmentID string) (domain.AttachmentRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[attachmentID]
	if !ok {
		return domain.AttachmentRecord{}, false
	}
	return rec.Clone(), true
}

// ToMessageBlock renders the record for id as a message block.
func (s *Store) ToMessageBlock(attachmentID string) (domain.Block, error) {
	rec, ok := s.Get(attachmentID)
	if !ok {
		return domain.Block{}, fmt.Errorf("%w: %s", domain.ErrAttachmentNotFound, attachmentID)
	}
	return rec.Block(), nil
}

// ListRecords returns every record ordered by attachment id.
func (s *Store) ListRecords() []domain.AttachmentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AttachmentRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Ref.AttachmentID < out[j].Ref.AttachmentID
	})
	return out
}

// ExportManifest returns the persistent records keyed by id, exactly as written to disk.
func (s *Store) ExportManifest() map[string]domain.AttachmentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exportLocked()
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create attachment dir: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
