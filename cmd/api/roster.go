package main

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"shift-engine/internal/models"
	"shift-engine/internal/roster"
	"shift-engine/internal/store"
)

func (s *server) handleListShifts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f store.ShiftFilter
	if q.Get("from") != "" || q.Get("to") != "" {
		from, to, err := s.dayRange(q.Get("from"), q.Get("to"))
		if err != nil {
			s.writeError(w, r, err, nil)
			return
		}
		f.From, f.To = from, to
	}
	if v := q.Get("executor_id"); v != "" {
		f.ExecutorIDs = []string{v}
	}
	for _, st := range q["status"] {
		f.Statuses = append(f.Statuses, models.ShiftStatus(st))
	}
	f.TemplateID = q.Get("template_id")
	f.Unassigned, _ = strconv.ParseBool(q.Get("unassigned"))

	shifts, err := s.app.Roster.ListShifts(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if shifts == nil {
		shifts = []*models.Shift{}
	}
	writeJSON(w, http.StatusOK, shifts)
}

func (s *server) handleCreateShift(w http.ResponseWriter, r *http.Request) {
	var sh models.Shift
	if err := decode(r, &sh); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if err := s.app.Roster.CreateShift(r.Context(), &sh); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, &sh)
}

func (s *server) handleGetShift(w http.ResponseWriter, r *http.Request) {
	sh, err := s.app.Roster.GetShift(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

func (s *server) handleStartShift(w http.ResponseWriter, r *http.Request) {
	sh, err := s.app.Roster.StartShift(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

func (s *server) handleCompleteShift(w http.ResponseWriter, r *http.Request) {
	var stats roster.CompletionStats
	if err := decode(r, &stats); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	sh, err := s.app.Roster.CompleteShift(r.Context(), chi.URLParam(r, "id"), stats)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

func (s *server) handleCancelShift(w http.ResponseWriter, r *http.Request) {
	sh, err := s.app.Roster.CancelShift(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

func (s *server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	ts, err := s.app.Roster.ListTemplates(r.Context())
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if ts == nil {
		ts = []*models.ShiftTemplate{}
	}
	writeJSON(w, http.StatusOK, ts)
}

func (s *server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var t models.ShiftTemplate
	if err := decode(r, &t); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if err := s.app.Roster.CreateTemplate(r.Context(), &t); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, &t)
}

func (s *server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := s.app.Roster.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var t models.ShiftTemplate
	if err := decode(r, &t); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	t.ID = chi.URLParam(r, "id")
	if err := s.app.Roster.UpdateTemplate(r.Context(), &t); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, &t)
}

// handleDeleteTemplate refuses templates with live shifts unless ?force=true.
func (s *server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	if err := s.app.Roster.DeleteTemplate(r.Context(), chi.URLParam(r, "id"), force); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	from, err := s.day(r.URL.Query().Get("from"))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	res, err := s.app.Roster.Generate(r.Context(), from)
	if err != nil {
		s.writeError(w, r, err, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleGenerateTemplate(w http.ResponseWriter, r *http.Request) {
	from, err := s.day(r.URL.Query().Get("from"))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	days := queryInt(r, "days", s.app.Config.Scheduler.LookaheadDays)
	created, err := s.app.Roster.GenerateFromTemplate(r.Context(), chi.URLParam(r, "id"), from, days)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if created == nil {
		created = []*models.Shift{}
	}
	writeJSON(w, http.StatusOK, created)
}
