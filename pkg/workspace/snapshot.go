package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultExcludes are directory names never scanned.
var DefaultExcludes = []string{"attachments", "__pycache__"}

// Limits caps a single scan. Zero fields fall back to the defaults.
type Limits struct {
	MaxFiles int
	MaxBytes int64
}

// DefaultLimits caps scans at 500 files and 500 MiB.
var DefaultLimits = Limits{MaxFiles: 500, MaxBytes: 500 << 20}

func (l Limits) normalized() Limits {
	if l.MaxFiles <= 0 {
		l.MaxFiles = DefaultLimits.MaxFiles
	}
	if l.MaxBytes <= 0 {
		l.MaxBytes = DefaultLimits.MaxBytes
	}
	return l
}

type fileState struct {
	Size int64
	Hash string
}

// Snapshot maps slash-separated relative paths to their size and sha256.
// Truncated is set when a cap stopped the walk early.
type Snapshot struct {
	Files     map[string]fileState
	Truncated bool
}

// Len is the number of files captured.
func (s Snapshot) Len() int { return len(s.Files) }

func excluded(patterns []string, rel, name string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// TakeSnapshot walks root and hashes every regular file outside excluded directories.
// A missing root yields an empty, non-truncated snapshot.
func TakeSnapshot(root string, excludes []string, limits Limits) (Snapshot, error) {
	limits = limits.normalized()
	snap := Snapshot{Files: map[string]fileState{}}
	var total int64

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipAll
			}
			// Files can vanish while a node is still writing.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if excluded(excludes, rel, d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if len(snap.Files) >= limits.MaxFiles || total+info.Size() > limits.MaxBytes {
			snap.Truncated = true
			return filepath.SkipAll
		}
		sum, err := hashPath(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		total += info.Size()
		snap.Files[rel] = fileState{Size: info.Size(), Hash: sum}
		return nil
	})
	return snap, err
}

func hashPath(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
