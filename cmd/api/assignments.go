package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"shift-engine/internal/models"
	"shift-engine/internal/store"
)

type batchRequest struct {
	ShiftIDs []string `json:"shift_ids"`
	From     string   `json:"from"`
	To       string   `json:"to"`
	Force    bool     `json:"force"`
}

func (s *server) handleAssignBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	ctx := r.Context()
	f := store.ShiftFilter{Statuses: []models.ShiftStatus{models.ShiftPlanned}}
	if len(req.ShiftIDs) > 0 {
		f.IDs = req.ShiftIDs
	} else {
		from, to, err := s.dayRange(req.From, req.To)
		if err != nil {
			s.writeError(w, r, err, nil)
			return
		}
		f.From, f.To, f.Unassigned = from, to, !req.Force
	}
	shifts, err := s.app.Store.ListShifts(ctx, f)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	res, err := s.app.Engine.AssignBatch(ctx, shifts, req.Force)
	if err != nil {
		s.writeError(w, r, err, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleBalance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date string `json:"date"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	date, err := s.day(req.Date)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	res, err := s.app.Engine.Balance(r.Context(), date)
	if err != nil {
		s.writeError(w, r, err, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleAbsence(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExecutorID string `json:"executor_id"`
		From       string `json:"from"`
		To         string `json:"to"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if req.ExecutorID == "" {
		s.writeError(w, r, fmt.Errorf("%w: executor_id is required", models.ErrInvalidInput), nil)
		return
	}
	from, to, err := s.dayRange(req.From, req.To)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	res, err := s.app.Engine.ReassignAbsent(r.Context(), req.ExecutorID, from, to)
	if err != nil {
		s.writeError(w, r, err, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCandidates ranks executors for a shift without assigning anything.
func (s *server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "shiftID")
	var ranked []models.ExecutorScore
	err := s.app.Store.Within(r.Context(), func(ctx context.Context, repo store.Repository) error {
		shift, err := repo.GetShift(ctx, id)
		if err != nil {
			return err
		}
		ranked, err = s.app.Engine.Candidates(ctx, repo, shift)
		return err
	})
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if ranked == nil {
		ranked = []models.ExecutorScore{}
	}
	writeJSON(w, http.StatusOK, ranked)
}

func (s *server) handleShiftConflicts(w http.ResponseWriter, r *http.Request) {
	id, executorID := chi.URLParam(r, "id"), chi.URLParam(r, "executorID")
	var conflicts []models.AssignmentConflict
	err := s.app.Store.Within(r.Context(), func(ctx context.Context, repo store.Repository) error {
		shift, err := repo.GetShift(ctx, id)
		if err != nil {
			return err
		}
		conflicts, err = s.app.Engine.Detector().Detect(ctx, repo, shift, executorID)
		return err
	})
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if conflicts == nil {
		conflicts = []models.AssignmentConflict{}
	}
	writeJSON(w, http.StatusOK, conflicts)
}
