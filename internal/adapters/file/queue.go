package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aretw0/weft/pkg/domain"
)

// Queue implements ports.EventQueue using the local filesystem.
// Each session's events live in one JSON file in BasePath.
type Queue struct {
	BasePath string

	mu sync.Mutex
}

// NewQueue creates a new Queue with the given base path.
// If basePath is empty, it defaults to ".weft/events".
func NewQueue(basePath string) *Queue {
	if basePath == "" {
		basePath = filepath.Join(".weft", "events")
	}
	return &Queue{BasePath: basePath}
}

func (q *Queue) path(sessionID string) string {
	return filepath.Join(q.BasePath, sessionID+".json")
}

func (q *Queue) read(sessionID string) ([]domain.ArtifactEvent, error) {
	data, err := os.ReadFile(q.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.ArtifactEvent{}, nil
		}
		return nil, fmt.Errorf("failed to read event file: %w", err)
	}
	var events []domain.ArtifactEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("failed to unmarshal events: %w", err)
	}
	return events, nil
}

// Append adds events to the session file atomically.
func (q *Queue) Append(ctx context.Context, sessionID string, events ...domain.ArtifactEvent) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID cannot be empty")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.read(sessionID)
	if err != nil {
		return err
	}
	return WriteJSON(q.path(sessionID), append(current, events...))
}

// List returns the queued events.
func (q *Queue) List(ctx context.Context, sessionID string) ([]domain.ArtifactEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.read(sessionID)
}

// Drain returns the queued events and truncates the session file.
func (q *Queue) Drain(ctx context.Context, sessionID string) ([]domain.ArtifactEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	events, err := q.read(sessionID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return events, nil
	}
	if err := WriteJSON(q.path(sessionID), []domain.ArtifactEvent{}); err != nil {
		return nil, err
	}
	return events, nil
}

// Delete removes the session file.
func (q *Queue) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID cannot be empty")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	err := os.Remove(q.path(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete event file: %w", err)
	}
	return nil
}

// Sessions returns the ids of all session files.
func (q *Queue) Sessions(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(q.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var sessions []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, "tmp-") {
			continue
		}
		sessions = append(sessions, strings.TrimSuffix(name, ".json"))
	}
	return sessions, nil
}
