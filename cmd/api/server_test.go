package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shift-engine/internal/app"
	"shift-engine/internal/assignment"
	"shift-engine/internal/audit"
	"shift-engine/internal/config"
	"shift-engine/internal/models"
	"shift-engine/internal/scheduler"
	"shift-engine/internal/store"
)

type harness struct {
	t   *testing.T
	app *app.App
	mem *store.MemoryStore
	srv *server
	h   http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	a, err := app.New(context.Background(), config.Default(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	s := newServer(a)
	h := &harness{t: t, app: a, mem: a.Store.(*store.MemoryStore), srv: s, h: s.routes()}
	for _, id := range []string{"e1", "e2"} {
		h.mem.PutExecutor(&models.Executor{
			ID: id, FullName: id, Roles: []models.Role{models.RoleExecutor},
			Approval: models.ApprovalApproved, Specializations: []string{"plumbing"},
		})
	}
	return h
}

func (h *harness) do(method, path string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// tomorrow returns a planned shift starting at hour tomorrow.
func (h *harness) tomorrow(hour int, executorID string) *models.Shift {
	start := h.app.Roster.DayStart(time.Now()).AddDate(0, 0, 1).Add(time.Duration(hour) * time.Hour)
	sh := &models.Shift{
		PlannedStart:    start,
		PlannedEnd:      start.Add(8 * time.Hour),
		Status:          models.ShiftPlanned,
		Specializations: []string{"plumbing"},
		MaxRequests:     5,
		Priority:        3,
	}
	if executorID != "" {
		sh.ExecutorID = models.StringPtr(executorID)
	}
	return sh
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = h.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAssignBatch(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/shifts", h.tomorrow(8, ""))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[models.Shift](t, rec)
	require.NotEmpty(t, created.ID)

	rec = h.do(http.MethodPost, "/assignments/batch", batchRequest{ShiftIDs: []string{created.ID}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[assignment.BatchResult](t, rec)
	require.Len(t, res.Assigned, 1)
	assert.Equal(t, created.ID, res.Assigned[0].ShiftID)

	rec = h.do(http.MethodGet, "/shifts/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[models.Shift](t, rec)
	require.NotNil(t, got.ExecutorID)
	assert.Equal(t, res.Assigned[0].ExecutorID, *got.ExecutorID)

	// The default range picks up unassigned shifts only.
	rec = h.do(http.MethodPost, "/assignments/batch", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, decodeBody[assignment.BatchResult](t, rec).Assigned)
}

func TestCandidatesAndConflicts(t *testing.T) {
	h := newHarness(t)
	busy := h.tomorrow(8, "e1")
	require.NoError(t, h.mem.CreateShift(context.Background(), busy))
	open := h.tomorrow(10, "")
	require.NoError(t, h.mem.CreateShift(context.Background(), open))

	rec := h.do(http.MethodGet, "/assignments/candidates/"+open.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ranked := decodeBody[[]models.ExecutorScore](t, rec)
	require.NotEmpty(t, ranked)
	assert.Equal(t, "e2", ranked[0].ExecutorID)

	rec = h.do(http.MethodGet, "/shifts/"+open.ID+"/conflicts/e1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	conflicts := decodeBody[[]models.AssignmentConflict](t, rec)
	require.NotEmpty(t, conflicts)
	assert.Equal(t, models.ConflictTimeOverlap, conflicts[0].Type)
}

func TestTransferLifecycle(t *testing.T) {
	h := newHarness(t)
	sh := h.tomorrow(8, "e1")
	require.NoError(t, h.mem.CreateShift(context.Background(), sh))

	rec := h.do(http.MethodPost, "/transfers", map[string]any{
		"shift_id": sh.ID, "from_executor_id": "e2", "reason": "illness",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, "/transfers", map[string]any{
		"shift_id": sh.ID, "from_executor_id": "e1", "reason": "illness", "comment": "flu",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tr := decodeBody[models.ShiftTransfer](t, rec)
	assert.Equal(t, models.TransferPending, tr.Status)

	rec = h.do(http.MethodPost, "/transfers/"+tr.ID+"/assign", transferAction{ExecutorID: "e2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.TransferAssigned, decodeBody[models.ShiftTransfer](t, rec).Status)

	rec = h.do(http.MethodPost, "/transfers/"+tr.ID+"/respond", transferAction{ExecutorID: "e1", Accept: true})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, "/transfers/"+tr.ID+"/respond", transferAction{ExecutorID: "e2", Accept: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.TransferAccepted, decodeBody[models.ShiftTransfer](t, rec).Status)

	rec = h.do(http.MethodPost, "/transfers/"+tr.ID+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.TransferCompleted, decodeBody[models.ShiftTransfer](t, rec).Status)

	rec = h.do(http.MethodPost, "/transfers/"+tr.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	got, err := h.app.Roster.GetShift(context.Background(), sh.ID)
	require.NoError(t, err)
	assert.Equal(t, "e2", *got.ExecutorID)

	rec = h.do(http.MethodGet, "/transfers?status=completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]models.ShiftTransfer](t, rec), 1)

	rec = h.do(http.MethodGet, "/audit/recent?type="+audit.EventTransferCreated, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decodeBody[[]audit.Event](t, rec)
	require.Len(t, events, 1)
	assert.Equal(t, tr.ID, events[0].TransferID)
}

func TestTemplates(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/templates", &models.ShiftTemplate{
		Name: "Morning", StartTime: "08:00", Duration: 8 * time.Hour,
		Specializations: []string{"plumbing"}, MinExecutors: 1, MaxExecutors: 2,
		DefaultMaxRequests: 5, Priority: 3, Days: models.AllWeekdays, Active: true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tpl := decodeBody[models.ShiftTemplate](t, rec)

	rec = h.do(http.MethodGet, "/templates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]models.ShiftTemplate](t, rec), 1)

	rec = h.do(http.MethodPost, "/templates/"+tpl.ID+"/generate?days=2", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decodeBody[[]models.Shift](t, rec), 2)

	rec = h.do(http.MethodDelete, "/templates/"+tpl.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(http.MethodDelete, "/templates/"+tpl.ID+"?force=true", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(http.MethodGet, "/templates/"+tpl.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestShiftLifecycle(t *testing.T) {
	h := newHarness(t)
	sh := h.tomorrow(8, "e1")
	require.NoError(t, h.mem.CreateShift(context.Background(), sh))

	rec := h.do(http.MethodPost, "/shifts/"+sh.ID+"/complete", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(http.MethodPost, "/shifts/"+sh.ID+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.ShiftActive, decodeBody[models.Shift](t, rec).Status)

	rec = h.do(http.MethodPost, "/shifts/"+sh.ID+"/complete", map[string]any{"completed_requests": 4})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decodeBody[models.Shift](t, rec)
	assert.Equal(t, models.ShiftCompleted, done.Status)
	assert.Equal(t, 4, done.CompletedRequests)

	rec = h.do(http.MethodGet, "/shifts?executor_id=e1&status=completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]models.Shift](t, rec), 1)
}

func TestAssignRequest(t *testing.T) {
	h := newHarness(t)
	sh := h.tomorrow(8, "e1")
	sh.Status = models.ShiftActive
	sh.MaxRequests = 1
	require.NoError(t, h.mem.CreateShift(context.Background(), sh))
	for _, id := range []string{"r1", "r2"} {
		h.mem.PutRequest(&models.WorkRequest{ID: id, Specialization: "plumbing", Priority: 1, Status: models.RequestNew})
	}

	rec := h.do(http.MethodPost, "/requests/r1/assign", map[string]string{"shift_id": sh.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	req := decodeBody[models.WorkRequest](t, rec)
	require.NotNil(t, req.ExecutorID)
	assert.Equal(t, "e1", *req.ExecutorID)

	rec = h.do(http.MethodPost, "/requests/r2/assign", map[string]string{"shift_id": sh.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(http.MethodPost, "/requests/r2/assign", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"missing shift", http.MethodGet, "/shifts/nope", nil, http.StatusNotFound},
		{"missing transfer", http.MethodGet, "/transfers/nope", nil, http.StatusNotFound},
		{"unknown field", http.MethodPost, "/assignments/balance", map[string]string{"dat": "x"}, http.StatusBadRequest},
		{"bad date", http.MethodPost, "/assignments/balance", map[string]string{"date": "03/10/2025"}, http.StatusBadRequest},
		{"absence without executor", http.MethodPost, "/assignments/absence", map[string]string{}, http.StatusBadRequest},
		{"unknown job", http.MethodPost, "/scheduler/jobs/nope/run", nil, http.StatusNotFound},
		{"inverted range", http.MethodGet, "/shifts?from=2025-03-10&to=2025-03-01", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decodeBody[errorBody](t, rec).Error)
		})
	}
}

func TestRunJob(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/scheduler/jobs/"+app.JobRebalance+"/run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	js := decodeBody[scheduler.JobStatus](t, rec)
	assert.Equal(t, int64(1), js.Successes)

	rec = h.do(http.MethodGet, "/scheduler/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeBody[scheduler.Status](t, rec)
	assert.Len(t, st.Jobs, len(h.app.Scheduler.Jobs()))
}

func TestSchedulerStream(t *testing.T) {
	h := newHarness(t)
	h.srv.streamEvery = 10 * time.Millisecond
	handler := h.srv.routes()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/scheduler/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")
	body := rec.Body.String()
	assert.Contains(t, body, `id="scheduler-jobs"`)
	assert.Contains(t, body, `id="job-`+app.JobRebalance+`"`)
}

func TestRenderJobs(t *testing.T) {
	st := scheduler.Status{Jobs: []scheduler.JobStatus{
		{Name: "a", Schedule: "every 1m", Successes: 2, LastError: "<boom>"},
		{Name: "b", Running: true},
	}}
	out := renderJobs(st, "a")
	assert.Contains(t, out, "<td>2</td>")
	assert.Contains(t, out, "&lt;boom&gt;")
	assert.NotContains(t, out, `id="job-b"`)
	assert.Contains(t, renderJobs(st, ""), "<td>running</td>")
}
