// Package http exposes a running protocol over HTTP: snapshots, operator
// messages, an SSE event stream and stored runs.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aretw0/labrun"
	"github.com/aretw0/labrun/internal/logging"
	"github.com/aretw0/labrun/pkg/domain"
	"github.com/aretw0/labrun/pkg/ports"
)

// Runtime is the part of a run the server drives.
type Runtime interface {
	RunID() string
	Snapshot() *domain.Snapshot
	Receive(path []int, msg domain.Message) error
}

// Server serves one Runtime.
type Server struct {
	Runtime Runtime
	Streams *StreamManager
	Store   ports.SnapshotStore
	Metrics http.Handler
	logger  *slog.Logger
}

type Option func(*Server)

// WithStore enables the /runs routes.
func WithStore(store ports.SnapshotStore) Option {
	return func(s *Server) { s.Store = store }
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.Metrics = h }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a server for rt. Route events into it with Publish.
func NewServer(rt Runtime, opts ...Option) *Server {
	s := &Server{Runtime: rt, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.Streams = NewStreamManager(s.logger)
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/snapshot", s.GetSnapshot)
	r.Post("/messages", s.PostMessage)
	r.Get("/events", s.SubscribeEvents)
	if s.Store != nil {
		r.Get("/runs", s.ListRuns)
		r.Get("/runs/{runID}", s.GetRun)
	}
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}
	return r
}

// Publish broadcasts a root event to the run's SSE subscribers.
func (s *Server) Publish(ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("event encode failed", "err", err)
		return
	}
	s.Streams.Broadcast(s.Runtime.RunID(), data)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// MessageRequest is the body of POST /messages. Path addresses the program by
// child ids from the root; an empty path targets the root.
type MessageRequest struct {
	Path  []int              `json:"path"`
	Type  domain.MessageType `json:"type"`
	Point any                `json:"point,omitempty"`
	Value bool               `json:"value,omitempty"`
}

// ParsePath parses "0.1.2" (or "") into child ids.
func ParsePath(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []int{}, nil
	}
	parts := strings.Split(raw, ".")
	path := make([]int, len(parts))
	for i, p := range parts {
		id, err := strconv.Atoi(p)
		if err != nil || id < 0 {
			return nil, fmt.Errorf("invalid path segment %q", p)
		}
		path[i] = id
	}
	return path, nil
}

func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":     "labrun-http",
		"version": strings.TrimSpace(labrun.Version),
		"run":     s.Runtime.RunID(),
	})
}

func (s *Server) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Runtime.Snapshot())
}

// PostMessage handles POST /messages.
func (s *Server) PostMessage(w http.ResponseWriter, r *http.Request) {
	var body MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.Warn("PostMessage: invalid request body", "err", err)
		return
	}
	if body.Path == nil {
		body.Path = []int{}
	}

	msg := domain.Message{Type: body.Type, Point: body.Point, Value: body.Value}
	if err := s.Runtime.Receive(body.Path, msg); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("message failed", "path", body.Path, "type", body.Type, "err", err)
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrHandleNotFound), errors.Is(err, domain.ErrSnapshotNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrUnknownMessage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// SubscribeEvents handles GET /events (SSE). Each root event is sent as one
// JSON data frame.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	runID := s.Runtime.RunID()
	ch, cancel := s.Streams.Subscribe(runID)
	defer cancel()
	s.logger.Info("SSE: client subscribed", "run", runID)

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE: client disconnected", "run", runID)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

func (s *Server) ListRuns(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Store.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) GetRun(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Store.Load(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "err", err)
	}
}
