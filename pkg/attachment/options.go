package attachment

import (
	"log/slog"

	"github.com/aretw0/weft/pkg/domain"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for recoverable problems (e.g. a corrupt manifest).
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithIDGenerator overrides how fresh attachment ids are minted.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		s.newID = gen
	}
}

// RegisterOption configures a single registration.
type RegisterOption func(*registerConfig)

type registerConfig struct {
	kind         domain.BlockType
	displayName  string
	mimeType     string
	attachmentID string
	copyFile     bool
	description  string
	extra        map[string]any
	persist      bool
	deduplicate  bool
	size         int64
}

func newRegisterConfig(opts []RegisterOption) registerConfig {
	cfg := registerConfig{
		copyFile:    true,
		persist:     true,
		deduplicate: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithKind forces the block type of the record. By default it is derived from the MIME type.
func WithKind(kind domain.BlockType) RegisterOption {
	return func(c *registerConfig) { c.kind = kind }
}

// WithName sets the display name (and the file name of copies).
func WithName(name string) RegisterOption {
	return func(c *registerConfig) { c.displayName = name }
}

// WithMimeType sets the MIME type instead of guessing it from the extension.
func WithMimeType(mimeType string) RegisterOption {
	return func(c *registerConfig) { c.mimeType = mimeType }
}

// WithID registers under a caller-chosen attachment id. An existing record with
// that id is replaced.
func WithID(id string) RegisterOption {
	return func(c *registerConfig) { c.attachmentID = id }
}

// WithCopy controls whether the file is copied under the store root (default true).
func WithCopy(copyFile bool) RegisterOption {
	return func(c *registerConfig) { c.copyFile = copyFile }
}

// WithDescription attaches a human readable description.
func WithDescription(desc string) RegisterOption {
	return func(c *registerConfig) { c.description = desc }
}

// WithExtra attaches free-form metadata to the record.
func WithExtra(extra map[string]any) RegisterOption {
	return func(c *registerConfig) { c.extra = domain.CloneMap(extra) }
}

// WithPersist controls whether the record is written to the manifest (default true).
func WithPersist(persist bool) RegisterOption {
	return func(c *registerConfig) { c.persist = persist }
}

// WithDeduplicate controls sha256 deduplication (default true).
func WithDeduplicate(dedup bool) RegisterOption {
	return func(c *registerConfig) { c.deduplicate = dedup }
}

// WithSize records a size for remote files that have no local payload.
func WithSize(size int64) RegisterOption {
	return func(c *registerConfig) { c.size = size }
}
