package webmonitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"

	"github.com/dj-oyu/traffic-sign-alert/internal/detect"
	"github.com/dj-oyu/traffic-sign-alert/internal/logger"
	"github.com/dj-oyu/traffic-sign-alert/internal/metrics"
	"github.com/dj-oyu/traffic-sign-alert/internal/pipeline"
	"github.com/dj-oyu/traffic-sign-alert/internal/source"
	"github.com/dj-oyu/traffic-sign-alert/pkg/types"
)

// Controller is the session control surface the server drives
type Controller interface {
	Start(ctx context.Context, spec source.Spec) error
	Stop()
	Status() pipeline.Status
}

// Server serves the web monitor endpoints.
type Server struct {
	cfg        Config
	monitor    *Monitor
	controller Controller
	metrics    *metrics.Metrics
	startTime  time.Time
}

// NewServer returns a configured monitor server.
func NewServer(cfg Config, monitor *Monitor, controller Controller, m *metrics.Metrics) *Server {
	if m == nil {
		m = metrics.New()
	}
	return &Server{
		cfg:        cfg.withDefaults(),
		monitor:    monitor,
		controller: controller,
		metrics:    m,
		startTime:  time.Now(),
	}
}

type startRequest struct {
	Source string `json:"source"`
	Path   string `json:"path"`
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Get("/stream", s.handleStream)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/status/stream", s.handleStatusStream)
		r.Get("/detections/stream", s.handleDetectionsStream)
		r.Post("/session/start", s.handleSessionStart)
		r.Post("/session/stop", s.handleSessionStop)
	})

	return r
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.monitor.Frames().Subscribe()
	defer s.monitor.Frames().Unsubscribe(id)

	s.metrics.StreamClients.Add(1)
	defer s.metrics.StreamClients.Add(-1)

	streamMJPEGFromChannel(w, r, frameCh, s.cfg.KeepAlive)
}

func (s *Server) statusPayload() map[string]any {
	stats, labelText, latest, history := s.monitor.Snapshot()
	return map[string]any{
		"session":           s.controller.Status(),
		"monitor":           stats,
		"label_text":        labelText,
		"latest_detection":  latest,
		"detection_history": history,
		"timestamp":         float64(time.Now().Unix()),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.statusPayload())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		if err := writeSSE(w, s.statusPayload()); err != nil {
			return
		}
		flusher.Flush()
		select {
		case <-ticker.C:
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleDetectionsStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.monitor.Detections().Subscribe()
	defer s.monitor.Detections().Unsubscribe(id)

	s.metrics.StreamClients.Add(1)
	defer s.metrics.StreamClients.Add(-1)

	// Content negotiation based on Accept header
	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	streamEventsFromChannel(w, r, eventCh, useProtobuf, s.cfg.KeepAlive*6)
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid request body"}, http.StatusBadRequest)
		return
	}

	kind, err := types.ParseSourceKind(req.Source)
	if err != nil && req.Source == "" && req.Path != "" {
		kind, err = source.KindForPath(req.Path), nil
	}
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	if kind != types.SourceCamera && req.Path == "" {
		writeJSONWithStatus(w, map[string]any{"error": "path is required for " + kind.String() + " sources"}, http.StatusBadRequest)
		return
	}

	spec := source.Spec{Kind: kind, Path: req.Path}
	if err := s.controller.Start(r.Context(), spec); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, startErrorStatus(err))
		return
	}

	writeJSON(w, map[string]any{
		"status":  "started",
		"session": s.controller.Status(),
	})
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	s.controller.Stop()
	writeJSON(w, map[string]any{
		"status":  "stopped",
		"session": s.controller.Status(),
	})
}

func startErrorStatus(err error) int {
	switch {
	case errors.Is(err, source.ErrSourceUnreadable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, detect.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debug("HTTP", "%s %s -> %d (%s)", r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Millisecond))
	})
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
