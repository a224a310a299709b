package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"shift-engine/internal/models"
	"shift-engine/internal/store"
	"shift-engine/internal/transfer"
)

type transferAction struct {
	ExecutorID string `json:"executor_id"`
	Accept     bool   `json:"accept"`
	Comment    string `json:"comment"`
}

func (s *server) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req transfer.CreateRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	t, err := s.app.Transfers.CreateTransfer(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *server) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.TransferFilter{ShiftID: q.Get("shift_id")}
	for _, st := range q["status"] {
		f.Statuses = append(f.Statuses, models.TransferStatus(st))
	}
	if v := q.Get("created_before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, r, models.ErrInvalidInput, nil)
			return
		}
		f.CreatedBefore = t
	}
	ts, err := s.app.Transfers.List(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if ts == nil {
		ts = []*models.ShiftTransfer{}
	}
	writeJSON(w, http.StatusOK, ts)
}

func (s *server) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := s.app.Transfers.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// transferOp decodes the shared action body and runs op on the transfer in the path.
func (s *server) transferOp(op func(r *http.Request, id string, a transferAction) (*models.ShiftTransfer, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var a transferAction
		if err := decode(r, &a); err != nil {
			s.writeError(w, r, err, nil)
			return
		}
		t, err := op(r, chi.URLParam(r, "id"), a)
		if err != nil {
			s.writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func (s *server) handleAssignTransfer(w http.ResponseWriter, r *http.Request) {
	s.transferOp(func(r *http.Request, id string, a transferAction) (*models.ShiftTransfer, error) {
		return s.app.Transfers.AssignTransfer(r.Context(), id, a.ExecutorID, a.Comment)
	})(w, r)
}

func (s *server) handleAutoAssignTransfer(w http.ResponseWriter, r *http.Request) {
	s.transferOp(func(r *http.Request, id string, _ transferAction) (*models.ShiftTransfer, error) {
		return s.app.Transfers.AutoAssignTransfer(r.Context(), id)
	})(w, r)
}

func (s *server) handleRespondTransfer(w http.ResponseWriter, r *http.Request) {
	s.transferOp(func(r *http.Request, id string, a transferAction) (*models.ShiftTransfer, error) {
		return s.app.Transfers.RespondToTransfer(r.Context(), id, a.ExecutorID, a.Accept, a.Comment)
	})(w, r)
}

func (s *server) handleCompleteTransfer(w http.ResponseWriter, r *http.Request) {
	s.transferOp(func(r *http.Request, id string, a transferAction) (*models.ShiftTransfer, error) {
		return s.app.Transfers.CompleteTransfer(r.Context(), id, a.Comment)
	})(w, r)
}

func (s *server) handleCancelTransfer(w http.ResponseWriter, r *http.Request) {
	s.transferOp(func(r *http.Request, id string, a transferAction) (*models.ShiftTransfer, error) {
		return s.app.Transfers.CancelTransfer(r.Context(), id, a.Comment)
	})(w, r)
}
