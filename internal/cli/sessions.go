package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aretw0/weft"
	"github.com/aretw0/weft/internal/config"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/runlog"
)

// SessionSummary describes a run directory in the warehouse.
type SessionSummary struct {
	Name     string                   `json:"name"`
	Graph    string                   `json:"graph,omitempty"`
	LogID    string                   `json:"log_id,omitempty"`
	Modified time.Time                `json:"modified"`
	Visited  []string                 `json:"visited,omitempty"`
	Events   map[domain.EventKind]int `json:"events,omitempty"`
	Errors   []string                 `json:"errors,omitempty"`
}

// LastNode is the node that finished last in the run, if any.
func (s SessionSummary) LastNode() string {
	if len(s.Visited) == 0 {
		return ""
	}
	return s.Visited[len(s.Visited)-1]
}

// ListSessions returns the sessions below warehouse, newest first. Only
// directories holding a graph snapshot count as sessions.
func ListSessions(warehouse string) ([]SessionSummary, error) {
	entries, err := os.ReadDir(warehouse)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []SessionSummary
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		s, err := InspectSession(warehouse, e.Name())
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Modified.After(out[j].Modified) })
	return out, nil
}

// InspectSession summarizes one session from its graph snapshot and latest run log.
func InspectSession(warehouse, name string) (SessionSummary, error) {
	dir := filepath.Join(warehouse, name)
	snapshot := filepath.Join(dir, weft.GraphDir, weft.GraphSnapshot)
	info, err := os.Stat(snapshot)
	if err != nil {
		return SessionSummary{}, fmt.Errorf("session %s not found: %w", name, err)
	}
	s := SessionSummary{Name: name, Modified: info.ModTime()}
	if g, err := config.LoadGraph(snapshot); err == nil {
		s.Graph = g.Name
	}

	logPath, err := latestLog(filepath.Join(dir, weft.LogsDir))
	if err != nil || logPath == "" {
		return s, nil
	}
	entries, err := runlog.Read(logPath)
	if err != nil {
		return s, err
	}
	s.LogID = strings.TrimSuffix(filepath.Base(logPath), ".jsonl")
	s.Visited = runlog.VisitedNodes(entries)
	s.Events = make(map[domain.EventKind]int)
	for _, e := range entries {
		s.Events[e.Kind]++
		if e.Kind == domain.KindError {
			s.Errors = append(s.Errors, e.Message)
		}
	}
	if st, err := os.Stat(logPath); err == nil && st.ModTime().After(s.Modified) {
		s.Modified = st.ModTime()
	}
	return s, nil
}

// RemoveSession deletes a session directory.
func RemoveSession(warehouse, name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid session name %q", name)
	}
	dir := filepath.Join(warehouse, name)
	if _, err := os.Stat(filepath.Join(dir, weft.GraphDir)); err != nil {
		return fmt.Errorf("session %s not found", name)
	}
	return os.RemoveAll(dir)
}

func latestLog(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil || len(matches) == 0 {
		return "", err
	}
	// ULID log ids sort by creation time.
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}
