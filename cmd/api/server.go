package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"shift-engine/internal/app"
	"shift-engine/internal/middleware"
	"shift-engine/internal/models"
	"shift-engine/internal/scheduler"
)

type server struct {
	app *app.App
	log *zap.Logger
	// streamEvery is the scheduler status push interval.
	streamEvery time.Duration
}

func newServer(a *app.App) *server {
	return &server{app: a, log: a.Log.Named("api"), streamEvery: 2 * time.Second}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.AccessLog(s.log), middleware.Recover(s.log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.app.Registry, promhttp.HandlerOpts{}))

	r.Route("/assignments", func(r chi.Router) {
		r.Post("/batch", s.handleAssignBatch)
		r.Post("/balance", s.handleBalance)
		r.Post("/absence", s.handleAbsence)
		r.Get("/candidates/{shiftID}", s.handleCandidates)
	})
	r.Route("/shifts", func(r chi.Router) {
		r.Get("/", s.handleListShifts)
		r.Post("/", s.handleCreateShift)
		r.Get("/{id}", s.handleGetShift)
		r.Get("/{id}/conflicts/{executorID}", s.handleShiftConflicts)
		r.Post("/{id}/start", s.handleStartShift)
		r.Post("/{id}/complete", s.handleCompleteShift)
		r.Post("/{id}/cancel", s.handleCancelShift)
	})
	r.Route("/templates", func(r chi.Router) {
		r.Get("/", s.handleListTemplates)
		r.Post("/", s.handleCreateTemplate)
		r.Post("/generate", s.handleGenerate)
		r.Get("/{id}", s.handleGetTemplate)
		r.Put("/{id}", s.handleUpdateTemplate)
		r.Delete("/{id}", s.handleDeleteTemplate)
		r.Post("/{id}/generate", s.handleGenerateTemplate)
	})
	r.Route("/transfers", func(r chi.Router) {
		r.Get("/", s.handleListTransfers)
		r.Post("/", s.handleCreateTransfer)
		r.Get("/{id}", s.handleGetTransfer)
		r.Post("/{id}/assign", s.handleAssignTransfer)
		r.Post("/{id}/auto-assign", s.handleAutoAssignTransfer)
		r.Post("/{id}/respond", s.handleRespondTransfer)
		r.Post("/{id}/complete", s.handleCompleteTransfer)
		r.Post("/{id}/cancel", s.handleCancelTransfer)
	})
	r.Post("/requests/{id}/assign", s.handleAssignRequest)
	r.Route("/scheduler", func(r chi.Router) {
		r.Get("/status", s.handleSchedulerStatus)
		r.Get("/stream", s.handleSchedulerStream)
		r.Post("/jobs/{name}/run", s.handleRunJob)
	})
	r.Get("/audit/recent", s.handleRecentAudit)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	// Result carries the partial outcome of a batch that hit errors.
	Result any `json:"result,omitempty"`
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound), errors.Is(err, scheduler.ErrUnknownJob):
		return http.StatusNotFound
	case errors.Is(err, models.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNoEligibleCandidate):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrConflictBlocked),
		errors.Is(err, models.ErrRetryBudgetExhausted),
		errors.Is(err, models.ErrTemplateInUse),
		errors.Is(err, models.ErrCapacityExceeded),
		errors.Is(err, scheduler.ErrJobRunning),
		errors.Is(err, scheduler.ErrLockHeld):
		return http.StatusConflict
	case errors.Is(err, models.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error, partial any) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Result: partial})
}

func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	return nil
}

// day parses YYYY-MM-DD in the scheduler timezone; empty means today.
func (s *server) day(v string) (time.Time, error) {
	if v == "" {
		return s.app.Roster.DayStart(time.Now()), nil
	}
	d, err := time.ParseInLocation(time.DateOnly, v, s.app.Roster.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", models.ErrInvalidInput, v)
	}
	return d, nil
}

// dayRange resolves an inclusive day range into [from, to).
func (s *server) dayRange(fromV, toV string) (time.Time, time.Time, error) {
	from, err := s.day(fromV)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to := from.AddDate(0, 0, s.app.Config.Scheduler.LookaheadDays)
	if toV != "" {
		last, err := s.day(toV)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = last.AddDate(0, 0, 1)
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: empty date range", models.ErrInvalidInput)
	}
	return from, to, nil
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil {
		return v
	}
	return def
}
