package runlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aretw0/weft/pkg/domain"
)

// Read loads a log written by Flush.
func Read(path string) ([]domain.LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []domain.LogEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e domain.LogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		e.Level = domain.ParseLogLevel(e.LevelName)
		out = append(out, e)
	}
	return out, sc.Err()
}

// VisitedNodes returns the ids of nodes that finished, in first-seen order.
func VisitedNodes(entries []domain.LogEntry) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range entries {
		if e.Kind != domain.KindNodeEnd || e.NodeID == "" || seen[e.NodeID] {
			continue
		}
		seen[e.NodeID] = true
		out = append(out, e.NodeID)
	}
	return out
}
