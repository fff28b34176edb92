package provider

import (
	"sort"
	"sync"
)

// TokenTracker accumulates usage per node across a run.
type TokenTracker struct {
	mu     sync.Mutex
	byNode map[string]Usage
	calls  map[string]int
}

// NewTokenTracker returns an empty tracker.
func NewTokenTracker() *TokenTracker {
	return &TokenTracker{
		byNode: make(map[string]Usage),
		calls:  make(map[string]int),
	}
}

// Record adds the usage of one call made by nodeID.
func (t *TokenTracker) Record(nodeID string, u Usage) {
	if t == nil {
		return
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byNode[nodeID] = t.byNode[nodeID].Add(u)
	t.calls[nodeID]++
}

// Total sums all nodes.
func (t *TokenTracker) Total() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total Usage
	for _, u := range t.byNode {
		total = total.Add(u)
	}
	return total
}

// Summary renders the usage as a plain map for run metadata.
func (t *TokenTracker) Summary() map[string]any {
	t.mu.Lock()
	ids := make([]string, 0, len(t.byNode))
	for id := range t.byNode {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	nodes := make(map[string]any, len(ids))
	var total Usage
	calls := 0
	for _, id := range ids {
		u := t.byNode[id]
		total = total.Add(u)
		calls += t.calls[id]
		nodes[id] = map[string]any{
			"input_tokens":  u.InputTokens,
			"output_tokens": u.OutputTokens,
			"total_tokens":  u.TotalTokens,
			"calls":         t.calls[id],
		}
	}
	t.mu.Unlock()
	return map[string]any{
		"input_tokens":  total.InputTokens,
		"output_tokens": total.OutputTokens,
		"total_tokens":  total.TotalTokens,
		"calls":         calls,
		"nodes":         nodes,
	}
}
