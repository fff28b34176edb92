// Package http exposes weft sessions over HTTP: runs are launched in the
// background, progress is streamed as server-sent events and human prompts
// are answered with a POST.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/aretw0/weft/pkg/dispatch"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/human"
	"github.com/aretw0/weft/pkg/session"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// RunRequest is the body of POST /sessions.
type RunRequest struct {
	SessionID   string         `json:"session_id,omitempty"`
	Graph       string         `json:"graph"`
	Task        string         `json:"task"`
	Attachments []string       `json:"attachments,omitempty"`
	Vars        map[string]any `json:"vars,omitempty"`
}

// Launcher runs a workflow for a session. Launch blocks until the run ends;
// the server calls it on a background goroutine owned by the session manager.
type Launcher interface {
	Launch(ctx context.Context, s *session.Session, req RunRequest) error
}

// LaunchFunc adapts a function to Launcher.
type LaunchFunc func(ctx context.Context, s *session.Session, req RunRequest) error

func (f LaunchFunc) Launch(ctx context.Context, s *session.Session, req RunRequest) error {
	return f(ctx, s, req)
}

// Server serves the session API.
type Server struct {
	Sessions *session.Manager
	Streams  *StreamManager
	Launcher Launcher
	Metrics  http.Handler
	Version  string

	base   context.Context
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.Metrics = h }
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) { s.Version = v }
}

// WithBaseContext sets the parent of every run context. Runs outlive the
// request that launched them, so this is usually the server's lifetime.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) { s.base = ctx }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer wires the API. streams should be the broadcaster the session
// manager was built with, so prompts and artifacts reach SSE subscribers.
func NewServer(sessions *session.Manager, streams *StreamManager, launcher Launcher, opts ...Option) *Server {
	s := &Server{
		Sessions: sessions,
		Streams:  streams,
		Launcher: launcher,
		base:     context.Background(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(enableCORS)

	r.Get("/health", s.GetHealth)
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.ListSessions)
		r.Post("/", s.StartRun)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.GetSession)
			r.Delete("/", s.DeleteSession)
			r.Get("/events", s.SubscribeEvents)
			r.Get("/artifacts", s.ListArtifacts)
			r.Post("/human", s.PostHumanReply)
			r.Post("/cancel", s.CancelRun)
		})
	})
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ok"}
	if s.Version != "" {
		resp["version"] = strings.TrimSpace(s.Version)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// StartRun handles POST /sessions.
func (s *Server) StartRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := decode(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.Warn("StartRun: Invalid request body", "err", err)
		return
	}
	if strings.TrimSpace(req.Graph) == "" {
		http.Error(w, "graph is required", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		req.SessionID = ulid.Make().String()
	}
	req.Task = human.Sanitize(req.Task)

	sess, err := s.Sessions.Start(r.Context(), s.base, req.SessionID, func(ctx context.Context, sess *session.Session) error {
		return s.Launcher.Launch(ctx, sess, req)
	})
	switch {
	case errors.Is(err, session.ErrSessionBusy):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, fmt.Sprintf("Start error: %v", err), http.StatusInternalServerError)
		s.logger.Error("StartRun failed", "session_id", req.SessionID, "err", err)
		return
	}
	s.logger.Info("Run started", "session_id", sess.ID, "graph", req.Graph)
	s.writeJSON(w, http.StatusAccepted, sess.Info())
}

// ListSessions handles GET /sessions.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	infos := []session.Info{}
	for _, id := range s.Sessions.List() {
		if sess, err := s.Sessions.Get(id); err == nil {
			infos = append(infos, sess.Info())
		}
	}
	s.writeJSON(w, http.StatusOK, infos)
}

// GetSession handles GET /sessions/{id}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	info := sess.Info()
	resp := map[string]any{"session": info}
	if p, waiting := sess.Channel().Pending(); waiting {
		resp["pending_prompt"] = p
	}
	if res := sess.Result(); res != nil {
		resp["result"] = res
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// DeleteSession handles DELETE /sessions/{id}.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Sessions.Delete(r.Context(), id); err != nil {
		http.Error(w, fmt.Sprintf("Delete error: %v", err), http.StatusInternalServerError)
		s.logger.Error("DeleteSession failed", "session_id", id, "err", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListArtifacts handles GET /sessions/{id}/artifacts.
func (s *Server) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	events, err := s.Sessions.Events(r.Context(), id)
	if err != nil {
		s.writeError(w, id, err)
		return
	}
	if events == nil {
		events = []domain.ArtifactEvent{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "events": events})
}

// PostHumanReply handles POST /sessions/{id}/human.
func (s *Server) PostHumanReply(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var reply human.Reply
	if err := decode(w, r, &reply); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.Warn("PostHumanReply: Invalid request body", "err", err)
		return
	}
	if err := s.Sessions.Reply(r.Context(), id, reply); err != nil {
		s.writeError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// CancelRun handles POST /sessions/{id}/cancel.
func (s *Server) CancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Sessions.Cancel(r.Context(), id); err != nil {
		s.writeError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// SubscribeEvents handles GET /sessions/{id}/events (SSE). Queued artifact
// events and a pending prompt are replayed before live events.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: Streaming not supported")
		return
	}

	ch, unsubscribe := s.Streams.Subscribe(sess.ID)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")

	if queued, err := s.Sessions.Events(r.Context(), sess.ID); err == nil && len(queued) > 0 {
		if data, err := json.Marshal(dispatch.Payload(sess.ID, queued)); err == nil {
			writeEvent(w, Event{Type: dispatch.EventArtifactCreated, Data: data})
		}
	}
	if p, waiting := sess.Channel().Pending(); waiting {
		payload := map[string]any{"type": human.EventHumanInputRequired, "data": p}
		if data, err := json.Marshal(payload); err == nil {
			writeEvent(w, Event{Type: human.EventHumanInputRequired, Data: data})
		}
	}
	flusher.Flush()
	s.logger.Info("SSE: Subscribing to Session Updates", "session_id", sess.ID)

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE Client Disconnected", "session_id", sess.ID)
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, ev)
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev Event) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, ev.Data)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "id")
	sess, err := s.Sessions.Get(id)
	if err != nil {
		s.writeError(w, id, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) writeError(w http.ResponseWriter, sessionID string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, human.ErrNoPendingPrompt), errors.Is(err, session.ErrSessionBusy):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrAttachmentNotFound):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "session_id", sessionID, "err", err)
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "err", err)
	}
}

// decode reads exactly one JSON object into v. Unknown fields and trailing
// data are rejected so a misspelled key fails loudly instead of being dropped.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after request body")
	}
	return nil
}
