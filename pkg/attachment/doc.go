// Package attachment implements the run-scoped, content-addressed attachment store.
//
// Files are identified by attachment id and deduplicated by sha256. Persistent
// records are mirrored to a JSON manifest that is rewritten atomically on every
// mutation, so a reader never sees a partial document.
package attachment
