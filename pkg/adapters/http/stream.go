package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/weft/pkg/ports"
)

// Event is one server-sent event.
type Event struct {
	Type string
	Data []byte
}

// StreamManager fans session payloads out to SSE subscribers. It implements
// ports.Broadcaster.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{} // SessionID -> Set of Channels
	buffer      int
	logger      *slog.Logger
}

var _ ports.Broadcaster = (*StreamManager)(nil)

// NewStreamManager creates a manager whose subscribers buffer up to buffer
// events before messages are dropped.
func NewStreamManager(buffer int, logger *slog.Logger) *StreamManager {
	if buffer <= 0 {
		buffer = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamManager{
		subscribers: make(map[string]map[chan Event]struct{}),
		buffer:      buffer,
		logger:      logger,
	}
}

// Subscribe registers a subscriber for sessionID. The returned func
// unsubscribes and closes the channel.
func (sm *StreamManager) Subscribe(sessionID string) (<-chan Event, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan Event, sm.buffer)
	if _, ok := sm.subscribers[sessionID]; !ok {
		sm.subscribers[sessionID] = make(map[chan Event]struct{})
	}
	sm.subscribers[sessionID][ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			if subs, ok := sm.subscribers[sessionID]; ok {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(sm.subscribers, sessionID)
				}
			}
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscribers of sessionID.
func (sm *StreamManager) Subscribers(sessionID string) int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.subscribers[sessionID])
}

// SendSync encodes payload and hands it to every subscriber of sessionID.
// Slow subscribers whose buffer is full miss the event and are reported in
// the returned error.
func (sm *StreamManager) SendSync(sessionID string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	kind, _ := payload["type"].(string)
	if kind == "" {
		kind = "message"
	}
	return sm.Broadcast(sessionID, Event{Type: kind, Data: data})
}

// Broadcast delivers ev without blocking.
func (sm *StreamManager) Broadcast(sessionID string, ev Event) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	subs := sm.subscribers[sessionID]
	sm.logger.Debug("StreamManager: Broadcasting", "session_id", sessionID, "type", ev.Type, "subscribers", len(subs))

	dropped := 0
	for ch := range subs {
		select {
		case ch <- ev:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		sm.logger.Warn("SSE: Client buffer full, dropping message", "session_id", sessionID, "dropped", dropped)
		return fmt.Errorf("%d of %d subscribers dropped %s event", dropped, len(subs), ev.Type)
	}
	return nil
}
