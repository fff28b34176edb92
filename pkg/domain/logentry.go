package domain

import (
	"strings"
	"time"
)

// EventKind is the stable tag of a structured log entry.
type EventKind string

const (
	KindModelCall EventKind = "model_call"
	KindToolCall  EventKind = "tool_call"
	KindMemoryOp  EventKind = "memory_op"
	KindThinking  EventKind = "thinking"
	KindHuman     EventKind = "human"
	KindNodeBegin EventKind = "node_begin"
	KindNodeEnd   EventKind = "node_end"
	KindInfo      EventKind = "info"
	KindWarning   EventKind = "warning"
	KindError     EventKind = "error"
)

// Stage marks whether an entry was written before or after the operation it describes.
type Stage string

const (
	StageNone   Stage = ""
	StageBefore Stage = "before"
	StageAfter  Stage = "after"
)

// LogLevel orders log entries by severity.
type LogLevel int

const (
	LevelDebug LogLevel = iota - 1
	LevelInfo
	LevelWarning
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// ParseLogLevel parses a graph log_level value; unknown values mean LevelInfo.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarning
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// LogEntry is one record in a run's structured log.
type LogEntry struct {
	Timestamp time.Time          `json:"timestamp"`
	Level     LogLevel           `json:"-"`
	LevelName string             `json:"level"`
	Kind      EventKind          `json:"event_kind"`
	NodeID    string             `json:"node_id,omitempty"`
	Stage     Stage              `json:"stage,omitempty"`
	Message   string             `json:"message,omitempty"`
	Payload   map[string]any     `json:"payload,omitempty"`
	Timings   map[string]float64 `json:"timings,omitempty"`
}

// Clone returns a deep copy of the entry.
func (e LogEntry) Clone() LogEntry {
	e.Payload = CloneMap(e.Payload)
	if e.Timings != nil {
		t := make(map[string]float64, len(e.Timings))
		for k, v := range e.Timings {
			t[k] = v
		}
		e.Timings = t
	}
	return e
}
