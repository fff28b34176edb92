// Package runlog keeps the structured, in-memory log of a single workflow run.
package runlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/weft/internal/adapters/file"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/oklog/ulid/v2"
)

// Manager is an append-only structured log. Appends are serialized; readers get copies.
type Manager struct {
	logID  string
	level  domain.LogLevel
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries []domain.LogEntry
}

// Option configures a Manager.
type Option func(*Manager)

// WithLevel drops entries below level.
func WithLevel(level domain.LogLevel) Option {
	return func(m *Manager) { m.level = level }
}

// WithLogger mirrors every accepted entry to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithLogID fixes the log id instead of minting a ULID.
func WithLogID(id string) Option {
	return func(m *Manager) { m.logID = id }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates an empty log.
func New(opts ...Option) *Manager {
	m := &Manager{
		level: domain.LevelInfo,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logID == "" {
		m.logID = ulid.Make().String()
	}
	return m
}

// LogID identifies this run log.
func (m *Manager) LogID() string {
	return m.logID
}

// Record appends e if its level passes the threshold. The timestamp is filled when zero.
func (m *Manager) Record(e domain.LogEntry) {
	if m == nil || e.Level < m.level {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = m.now()
	}
	e.LevelName = e.Level.String()

	m.mu.Lock()
	m.entries = append(m.entries, e.Clone())
	m.mu.Unlock()

	if m.logger != nil {
		m.mirror(e)
	}
}

func (m *Manager) mirror(e domain.LogEntry) {
	level := slog.LevelInfo
	switch e.Level {
	case domain.LevelDebug:
		level = slog.LevelDebug
	case domain.LevelWarning:
		level = slog.LevelWarn
	case domain.LevelError:
		level = slog.LevelError
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	attrs := []any{"kind", string(e.Kind), "log_id", m.logID}
	if e.NodeID != "" {
		attrs = append(attrs, "node", e.NodeID)
	}
	if e.Stage != domain.StageNone {
		attrs = append(attrs, "stage", string(e.Stage))
	}
	for k, v := range e.Timings {
		attrs = append(attrs, k+"_ms", v)
	}
	m.logger.Log(context.Background(), level, msg, attrs...)
}

func (m *Manager) add(kind domain.EventKind, level domain.LogLevel, nodeID string, stage domain.Stage, msg string, payload map[string]any, timings map[string]float64) {
	m.Record(domain.LogEntry{
		Level:   level,
		Kind:    kind,
		NodeID:  nodeID,
		Stage:   stage,
		Message: msg,
		Payload: payload,
		Timings: timings,
	})
}

// ModelCall records a provider invocation.
func (m *Manager) ModelCall(nodeID string, stage domain.Stage, payload map[string]any, timings map[string]float64) {
	m.add(domain.KindModelCall, domain.LevelInfo, nodeID, stage, "model call", payload, timings)
}

// ToolCall records a tool invocation.
func (m *Manager) ToolCall(nodeID string, stage domain.Stage, payload map[string]any, timings map[string]float64) {
	m.add(domain.KindToolCall, domain.LevelInfo, nodeID, stage, "tool call", payload, timings)
}

// MemoryOp records a memory retrieval or update.
func (m *Manager) MemoryOp(nodeID string, stage domain.Stage, payload map[string]any, timings map[string]float64) {
	m.add(domain.KindMemoryOp, domain.LevelInfo, nodeID, stage, "memory", payload, timings)
}

// Thinking records a thinking pass.
func (m *Manager) Thinking(nodeID string, stage domain.Stage, payload map[string]any, timings map[string]float64) {
	m.add(domain.KindThinking, domain.LevelInfo, nodeID, stage, "thinking", payload, timings)
}

// Human records an operator interaction.
func (m *Manager) Human(nodeID string, payload map[string]any, timings map[string]float64) {
	m.add(domain.KindHuman, domain.LevelInfo, nodeID, domain.StageAfter, "human input", payload, timings)
}

// NodeBegin records the start of a node invocation.
func (m *Manager) NodeBegin(nodeID string, payload map[string]any) {
	m.add(domain.KindNodeBegin, domain.LevelInfo, nodeID, domain.StageBefore, "node begin", payload, nil)
}

// NodeEnd records the end of a node invocation.
func (m *Manager) NodeEnd(nodeID string, payload map[string]any, elapsed time.Duration) {
	m.add(domain.KindNodeEnd, domain.LevelInfo, nodeID, domain.StageAfter, "node end", payload, map[string]float64{"duration": Millis(elapsed)})
}

// Debug records a debug entry.
func (m *Manager) Debug(nodeID, msg string, payload map[string]any) {
	m.add(domain.KindInfo, domain.LevelDebug, nodeID, domain.StageNone, msg, payload, nil)
}

// Info records an informational entry.
func (m *Manager) Info(nodeID, msg string, payload map[string]any) {
	m.add(domain.KindInfo, domain.LevelInfo, nodeID, domain.StageNone, msg, payload, nil)
}

// Warn records a warning.
func (m *Manager) Warn(nodeID, msg string, payload map[string]any) {
	m.add(domain.KindWarning, domain.LevelWarning, nodeID, domain.StageNone, msg, payload, nil)
}

// Error records an error.
func (m *Manager) Error(nodeID, msg string, payload map[string]any) {
	m.add(domain.KindError, domain.LevelError, nodeID, domain.StageNone, msg, payload, nil)
}

// Entries returns a copy of the log in append order.
func (m *Manager) Entries() []domain.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.LogEntry, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Clone()
	}
	return out
}

// Filter returns the entries of one kind.
func (m *Manager) Filter(kind domain.EventKind) []domain.LogEntry {
	var out []domain.LogEntry
	for _, e := range m.Entries() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Flush writes the log to path as JSON lines, replacing any previous file.
func (m *Manager) Flush(path string) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range m.Entries() {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("failed to encode log entry: %w", err)
		}
	}
	return file.WriteAtomic(path, buf.Bytes())
}

// Timer measures one named phase of an operation.
type Timer struct {
	name  string
	start time.Time
}

// StartTimer starts a timer.
func StartTimer(name string) *Timer {
	return &Timer{name: name, start: time.Now()}
}

// Stop returns the elapsed time keyed by the timer name, in milliseconds.
func (t *Timer) Stop() map[string]float64 {
	return map[string]float64{t.name: Millis(time.Since(t.start))}
}

// Millis converts a duration to fractional milliseconds.
func Millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
