package main

import (
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/starfederation/datastar-go/datastar"

	"shift-engine/internal/audit"
	"shift-engine/internal/scheduler"
)

func (s *server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Scheduler.Status())
}

func (s *server) jobStatus(name string) (scheduler.JobStatus, bool) {
	for _, js := range s.app.Scheduler.Status().Jobs {
		if js.Name == name {
			return js, true
		}
	}
	return scheduler.JobStatus{}, false
}

// handleRunJob runs a job synchronously and reports its counters afterwards.
func (s *server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	err := s.app.Scheduler.RunNow(r.Context(), name)
	js, ok := s.jobStatus(name)
	if err != nil {
		if ok {
			s.writeError(w, r, err, js)
		} else {
			s.writeError(w, r, err, nil)
		}
		return
	}
	writeJSON(w, http.StatusOK, js)
}

type streamSignals struct {
	Job string `json:"job"`
}

// handleSchedulerStream pushes the job table to a datastar client until it
// disconnects.
func (s *server) handleSchedulerStream(w http.ResponseWriter, r *http.Request) {
	var signals streamSignals
	if r.URL.Query().Has("datastar") {
		if err := datastar.ReadSignals(r, &signals); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	sse := datastar.NewSSE(w, r)
	ticker := time.NewTicker(s.streamEvery)
	defer ticker.Stop()
	for {
		if err := sse.PatchElements(renderJobs(s.app.Scheduler.Status(), signals.Job)); err != nil {
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func renderJobs(st scheduler.Status, only string) string {
	var sb strings.Builder
	sb.WriteString(`<tbody id="scheduler-jobs">`)
	for _, js := range st.Jobs {
		if only != "" && js.Name != only {
			continue
		}
		state := "idle"
		if js.Running {
			state = "running"
		}
		next := ""
		if !js.NextRun.IsZero() {
			next = js.NextRun.Format(time.RFC3339)
		}
		sb.WriteString(`<tr id="job-` + template.HTMLEscapeString(js.Name) + `">`)
		for _, cell := range []string{
			js.Name, js.Schedule, state,
			strconv.FormatInt(js.Successes, 10), strconv.FormatInt(js.Failures, 10), strconv.FormatInt(js.Skipped, 10),
			js.LastDuration, js.LastError, next,
		} {
			sb.WriteString("<td>" + template.HTMLEscapeString(cell) + "</td>")
		}
		sb.WriteString("</tr>")
	}
	sb.WriteString("</tbody>")
	return sb.String()
}

func (s *server) handleRecentAudit(w http.ResponseWriter, r *http.Request) {
	var events []audit.Event
	if t := r.URL.Query().Get("type"); t != "" {
		events = s.app.Recent.OfType(t)
	} else {
		events = s.app.Recent.Events()
	}
	if n := queryInt(r, "limit", 0); n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}
