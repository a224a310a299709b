package main

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"shift-engine/internal/models"
)

func (s *server) handleAssignRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ShiftID string `json:"shift_id"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if body.ShiftID == "" {
		s.writeError(w, r, fmt.Errorf("%w: shift_id is required", models.ErrInvalidInput), nil)
		return
	}
	req, err := s.app.Dispatch.AssignRequest(r.Context(), chi.URLParam(r, "id"), body.ShiftID)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, req)
}
