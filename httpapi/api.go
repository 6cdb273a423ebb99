// Package httpapi serves the control API: status, contest telemetry,
// mapping CRUD, provider selection, surface lifecycle, and monitoring
// start/stop.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/redzone/eventlog"
	"github.com/hazyhaar/redzone/mapping"
	"github.com/hazyhaar/redzone/session"
	"github.com/hazyhaar/redzone/telemetry"
)

// Monitor is the slice of the recommendation monitor the API drives.
type Monitor interface {
	Start(ctx context.Context) error
	Stop()
	Running() bool
	Tuned() int
	Recommended() int
	LastSnapshots() []telemetry.Snapshot
}

// Session is the slice of the session orchestrator the API drives.
type Session interface {
	Providers() []session.Provider
	Current() session.Provider
	SelectProvider(ctx context.Context, id string) error
	Open(ctx context.Context) error
	CheckAuth(ctx context.Context) (bool, error)
	ChangeChannel(ctx context.Context, channel int) error
	Status() session.Status
}

// Service wires the API handlers to the application components.
type Service struct {
	source  telemetry.Source
	store   *mapping.Store
	monitor Monitor
	session Session
	events  *eventlog.Log
	logger  *slog.Logger

	// baseCtx outlives requests: the monitor loop started from a POST must
	// not stop when that request's context is cancelled.
	baseCtx context.Context
}

// New creates a Service. baseCtx bounds background work started by handlers.
func New(baseCtx context.Context, source telemetry.Source, store *mapping.Store, monitor Monitor, sess Session, events *eventlog.Log, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = eventlog.New(0)
	}
	return &Service{
		source:  source,
		store:   store,
		monitor: monitor,
		session: sess,
		events:  events,
		logger:  logger,
		baseCtx: baseCtx,
	}
}

// Router builds the chi router for the service.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/status", s.handleStatus)
	r.Get("/api/contests", s.handleContests)
	r.Get("/api/events", s.handleEvents)

	r.Get("/api/mappings", s.handleListMappings)
	r.Post("/api/mappings", s.handleUpsertMapping)
	r.Delete("/api/mappings", s.handleClearMappings)
	r.Delete("/api/mappings/{contestID}", s.handleRemoveMapping)

	r.Get("/api/providers", s.handleProviders)
	r.Post("/api/provider", s.handleSelectProvider)

	r.Post("/api/remote/open", s.handleOpenRemote)
	r.Get("/api/remote/auth", s.handleCheckAuth)
	r.Post("/api/remote/test", s.handleTestChannel)

	r.Post("/api/monitor/start", s.handleStartMonitor)
	r.Post("/api/monitor/stop", s.handleStopMonitor)

	return r
}

// contestStatus is one contest row in the status payload: telemetry joined
// with its mapping, when one exists.
type contestStatus struct {
	telemetry.Snapshot
	Channel  int `json:"channel,omitempty"`
	Priority int `json:"priority,omitempty"`
}

type statusResponse struct {
	Monitoring         bool             `json:"monitoring"`
	TunedChannel       int              `json:"tuned_channel"`
	RecommendedChannel int              `json:"recommended_channel"`
	Surface            session.Status   `json:"surface"`
	Contests           []contestStatus  `json:"contests"`
	Events             []eventlog.Entry `json:"events"`
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	byContest, err := s.store.ByContest(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	snaps := s.monitor.LastSnapshots()
	contests := make([]contestStatus, 0, len(snaps))
	for _, snap := range snaps {
		cs := contestStatus{Snapshot: snap}
		if m, ok := byContest[snap.ContestID]; ok {
			cs.Channel = m.Channel
			cs.Priority = m.Priority
		}
		contests = append(contests, cs)
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Monitoring:         s.monitor.Running(),
		TunedChannel:       s.monitor.Tuned(),
		RecommendedChannel: s.monitor.Recommended(),
		Surface:            s.session.Status(),
		Contests:           contests,
		Events:             s.events.Recent(20),
	})
}

func (s *Service) handleContests(w http.ResponseWriter, r *http.Request) {
	contests, err := s.source.Contests(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, contests)
}

func (s *Service) handleEvents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.events.Recent(0))
}

func (s *Service) handleListMappings(w http.ResponseWriter, r *http.Request) {
	ms, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if ms == nil {
		ms = []mapping.Mapping{}
	}
	writeJSON(w, http.StatusOK, ms)
}

func (s *Service) handleUpsertMapping(w http.ResponseWriter, r *http.Request) {
	var m mapping.Mapping
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if m.ContestID == "" {
		writeError(w, http.StatusBadRequest, errors.New("contest_id is required"))
		return
	}
	if m.Channel <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("channel must be positive"))
		return
	}
	if m.Priority <= 0 {
		m.Priority = 1
	}
	if err := s.store.Upsert(r.Context(), m); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Service) handleRemoveMapping(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "contestID")
	if err := s.store.Remove(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleClearMappings(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": s.session.Providers(),
		"selected":  s.session.Current().ID,
	})
}

func (s *Service) handleSelectProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.session.SelectProvider(r.Context(), req.ID); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "provider": req.ID})
}

func (s *Service) handleOpenRemote(w http.ResponseWriter, _ *http.Request) {
	// The open sequence keeps running after this request returns.
	if err := s.session.Open(s.baseCtx); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Status())
}

func (s *Service) handleCheckAuth(w http.ResponseWriter, r *http.Request) {
	ok, err := s.session.CheckAuth(r.Context())
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"authenticated": ok})
}

// handleTestChannel drives a channel change through the exact production
// path, so a failing setup is diagnosed with the real timings and errors.
func (s *Service) handleTestChannel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Channel int `json:"channel"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Channel <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("channel must be positive"))
		return
	}
	if err := s.session.ChangeChannel(r.Context(), req.Channel); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "channel": req.Channel})
}

func (s *Service) handleStartMonitor(w http.ResponseWriter, _ *http.Request) {
	if err := s.monitor.Start(s.baseCtx); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"monitoring": true})
}

func (s *Service) handleStopMonitor(w http.ResponseWriter, _ *http.Request) {
	s.monitor.Stop()
	writeJSON(w, http.StatusOK, map[string]bool{"monitoring": false})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders the error and, when it carries one, the operator
// recovery action.
func writeError(w http.ResponseWriter, code int, err error) {
	body := map[string]string{"error": err.Error()}
	var rec interface{ Recovery() string }
	if errors.As(err, &rec) {
		body["recovery"] = rec.Recovery()
	}
	writeJSON(w, code, body)
}
