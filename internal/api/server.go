// Package api exposes the service over HTTP: health, latest snapshot,
// on-demand polls, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/powermon/internal/core/domain"
	"github.com/vietddude/powermon/internal/poll"
)

// Service is the scheduler surface the API consumes.
type Service interface {
	HealthReport() domain.HealthReport
	LatestOutcome() *domain.PollOutcome
	PollOnce(ctx context.Context, opts poll.Options) (*domain.PollOutcome, error)
	Running() bool
	Interval() time.Duration
}

// Server provides the HTTP endpoints.
type Server struct {
	svc    Service
	config map[string]any
	log    *slog.Logger
	server *http.Server
}

// NewServer creates a new API server. config is the redacted configuration
// view served on /config.
func NewServer(svc Service, config map[string]any, port int, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()
	s := &Server{
		svc:    svc,
		config: config,
		log:    log,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /config", s.handleConfig)
	mux.HandleFunc("GET /snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /snapshot/live", s.handleSnapshotLive)
	mux.HandleFunc("POST /poll", s.handlePoll)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info("API server listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// outcomeView is the wire form of a poll outcome, with the duration in
// seconds instead of nanoseconds.
type outcomeView struct {
	ID              string           `json:"id"`
	Timestamp       time.Time        `json:"timestamp"`
	DurationSeconds float64          `json:"duration_seconds"`
	Success         bool             `json:"success"`
	Snapshot        *domain.Snapshot `json:"snapshot,omitempty"`
	DeviceError     string           `json:"device_error,omitempty"`
	StoreError      string           `json:"store_error,omitempty"`
	BusError        string           `json:"bus_error,omitempty"`
	PushedStore     bool             `json:"pushed_store"`
	PublishedBus    bool             `json:"published_bus"`
}

func toOutcomeView(o *domain.PollOutcome) outcomeView {
	return outcomeView{
		ID:              o.ID,
		Timestamp:       o.Timestamp,
		DurationSeconds: o.Duration.Seconds(),
		Success:         o.Success(),
		Snapshot:        o.Snapshot,
		DeviceError:     o.DeviceError,
		StoreError:      o.StoreError,
		BusError:        o.BusError,
		PushedStore:     o.PushedStore,
		PublishedBus:    o.PublishedBus,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.svc.HealthReport()
	if report.Overall {
		writeJSON(w, http.StatusOK, report)
	} else {
		writeJSON(w, http.StatusServiceUnavailable, report)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report := s.svc.HealthReport()
	resp := map[string]any{
		"running":               s.svc.Running(),
		"poll_interval_seconds": s.svc.Interval().Seconds(),
		"health":                report,
	}
	if o := s.svc.LatestOutcome(); o != nil {
		resp["last_outcome"] = toOutcomeView(o)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.config)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	o := s.svc.LatestOutcome()
	if o == nil || o.Snapshot == nil {
		writeError(w, http.StatusNotFound, "no snapshot available yet")
		return
	}
	writeJSON(w, http.StatusOK, o.Snapshot)
}

// handleSnapshotLive fetches a fresh snapshot without committing the result
// as service state, so a browser refresh cannot flip the health report.
func (s *Server) handleSnapshotLive(w http.ResponseWriter, r *http.Request) {
	opts := poll.Options{StoreResult: false}
	if r.URL.Query().Get("push") == "true" {
		opts.PushToStore = true
	}
	o, err := s.svc.PollOnce(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusBadGateway, o.DeviceError)
		return
	}
	writeJSON(w, http.StatusOK, o.Snapshot)
}

type pollRequest struct {
	PushToStore *bool `json:"push_to_store"`
	Publish     *bool `json:"publish"`
	StoreResult *bool `json:"store_result"`
}

// handlePoll triggers one full poll cycle on demand. Absent body fields fall
// back to the background loop's defaults.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	opts := poll.DefaultOptions()
	if r.Body != nil && r.ContentLength != 0 {
		var req pollRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if req.PushToStore != nil {
			opts.PushToStore = *req.PushToStore
		}
		if req.Publish != nil {
			opts.Publish = req.Publish
		}
		if req.StoreResult != nil {
			opts.StoreResult = *req.StoreResult
		}
	}

	o, err := s.svc.PollOnce(r.Context(), opts)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, toOutcomeView(o))
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeView(o))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
