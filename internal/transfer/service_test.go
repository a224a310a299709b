package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shift-engine/internal/assignment"
	"shift-engine/internal/audit"
	"shift-engine/internal/models"
	"shift-engine/internal/notify"
	"shift-engine/internal/store"
)

var base = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type harness struct {
	svc   *Service
	store *store.MemoryStore
	clock *clock
	audit *audit.Recorder
	notes *notify.Recorder
}

func executor(id string) *models.Executor {
	return &models.Executor{ID: id, Roles: []models.Role{models.RoleExecutor}, Approval: models.ApprovalApproved}
}

func shiftAt(id string, start time.Time, owner string) *models.Shift {
	s := &models.Shift{
		ID:           id,
		PlannedStart: start,
		PlannedEnd:   start.Add(8 * time.Hour),
		Status:       models.ShiftPlanned,
		MaxRequests:  10,
		Priority:     3,
	}
	if owner != "" {
		s.ExecutorID = models.StringPtr(owner)
	}
	return s
}

func setup(t *testing.T, executors []string, shifts ...*models.Shift) *harness {
	t.Helper()
	h := &harness{
		clock: &clock{t: base.Add(-48 * time.Hour)},
		audit: audit.NewRecorder(0),
		notes: &notify.Recorder{},
	}
	h.store = store.NewMemoryStore().WithClock(h.clock.now)
	for _, id := range executors {
		h.store.PutExecutor(executor(id))
	}
	for _, s := range shifts {
		require.NoError(t, h.store.CreateShift(context.Background(), s))
	}
	cfg := DefaultConfig()
	cfg.Managers = []string{"mgr"}
	engine := assignment.NewEngine(h.store, assignment.DefaultConfig(), assignment.WithClock(h.clock.now))
	h.svc = NewService(h.store, engine, cfg,
		WithAudit(h.audit), WithNotifier(h.notes), WithClock(h.clock.now))
	return h
}

func (h *harness) create(t *testing.T, shiftID, from string) *models.ShiftTransfer {
	t.Helper()
	tr, err := h.svc.CreateTransfer(context.Background(), CreateRequest{
		ShiftID: shiftID, FromExecutorID: from, Reason: models.ReasonIllness, Comment: "feeling unwell",
	})
	require.NoError(t, err)
	return tr
}

func TestCreateTransfer_Validation(t *testing.T) {
	active := shiftAt("active", base.Add(30*time.Hour), "a")
	active.Status = models.ShiftActive
	h := setup(t, []string{"a", "b"}, shiftAt("s1", base.Add(8*time.Hour), "a"), active)
	ctx := context.Background()

	_, err := h.svc.CreateTransfer(ctx, CreateRequest{ShiftID: "s1", FromExecutorID: "b", Reason: models.ReasonOther})
	assert.ErrorIs(t, err, models.ErrNotOwner)

	_, err = h.svc.CreateTransfer(ctx, CreateRequest{ShiftID: "active", FromExecutorID: "a", Reason: models.ReasonOther})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = h.svc.CreateTransfer(ctx, CreateRequest{ShiftID: "s1", FromExecutorID: "a", Reason: "bored"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = h.svc.CreateTransfer(ctx, CreateRequest{ShiftID: "s1", FromExecutorID: "a", ToExecutorID: "a", Reason: models.ReasonOther})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = h.svc.CreateTransfer(ctx, CreateRequest{ShiftID: "missing", FromExecutorID: "a", Reason: models.ReasonOther})
	assert.ErrorIs(t, err, models.ErrNotFound)

	tr := h.create(t, "s1", "a")
	assert.Equal(t, models.TransferPending, tr.Status)
	assert.Equal(t, models.UrgencyNormal, tr.Urgency)
	assert.Equal(t, models.DefaultTransferRetries, tr.MaxRetries)
	assert.Contains(t, tr.Comment, "feeling unwell")

	_, err = h.svc.CreateTransfer(ctx, CreateRequest{ShiftID: "s1", FromExecutorID: "a", Reason: models.ReasonOther})
	assert.ErrorIs(t, err, models.ErrInvalidInput, "second open transfer for the same shift")
}

func TestTransferLifecycle_MovesShift(t *testing.T) {
	h := setup(t, []string{"a", "b"}, shiftAt("s1", base.Add(8*time.Hour), "a"))
	ctx := context.Background()
	tr := h.create(t, "s1", "a")

	_, err := h.svc.AssignTransfer(ctx, tr.ID, "a", "")
	assert.ErrorIs(t, err, models.ErrInvalidInput, "cannot hand a shift to its owner")

	tr, err = h.svc.AssignTransfer(ctx, tr.ID, "b", "b is free")
	require.NoError(t, err)
	assert.Equal(t, models.TransferAssigned, tr.Status)

	_, err = h.svc.RespondToTransfer(ctx, tr.ID, "c", true, "")
	assert.ErrorIs(t, err, models.ErrNotOwner)

	tr, err = h.svc.RespondToTransfer(ctx, tr.ID, "b", true, "happy to")
	require.NoError(t, err)
	assert.Equal(t, models.TransferAccepted, tr.Status)

	tr, err = h.svc.CompleteTransfer(ctx, tr.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.TransferCompleted, tr.Status)
	require.NotNil(t, tr.AssignedAt)
	require.NotNil(t, tr.RespondedAt)
	require.NotNil(t, tr.CompletedAt)

	s1, err := h.store.GetShift(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, s1.OwnedBy("b"))

	recs, err := h.store.ListAssignmentRecords(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, models.StrategyTransfer, recs[0].Strategy)
	require.NotNil(t, recs[0].PrevExecutor)
	assert.Equal(t, "a", *recs[0].PrevExecutor)

	assert.NotEmpty(t, h.notes.For("b"))
	assert.Len(t, h.audit.OfType(audit.EventTransferCompleted), 1)

	_, err = h.svc.CancelTransfer(ctx, tr.ID, "too late")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestCompleteTransfer_RechecksConflicts(t *testing.T) {
	h := setup(t, []string{"a", "b"}, shiftAt("s1", base.Add(8*time.Hour), "a"))
	ctx := context.Background()
	tr := h.create(t, "s1", "a")
	_, err := h.svc.AssignTransfer(ctx, tr.ID, "b", "")
	require.NoError(t, err)
	_, err = h.svc.RespondToTransfer(ctx, tr.ID, "b", true, "")
	require.NoError(t, err)

	// b picks up an overlapping shift before the hand-off completes.
	require.NoError(t, h.store.CreateShift(ctx, shiftAt("clash", base.Add(10*time.Hour), "b")))

	_, err = h.svc.CompleteTransfer(ctx, tr.ID, "")
	assert.ErrorIs(t, err, models.ErrConflictBlocked)

	cur, err := h.svc.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransferAccepted, cur.Status)
	s1, err := h.store.GetShift(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, s1.OwnedBy("a"))
}

func TestRespondToTransfer_RejectReopens(t *testing.T) {
	h := setup(t, []string{"a", "b"}, shiftAt("s1", base.Add(8*time.Hour), "a"))
	ctx := context.Background()
	tr := h.create(t, "s1", "a")
	_, err := h.svc.AssignTransfer(ctx, tr.ID, "b", "")
	require.NoError(t, err)

	tr, err = h.svc.RespondToTransfer(ctx, tr.ID, "b", false, "busy")
	require.NoError(t, err)
	assert.Equal(t, models.TransferPending, tr.Status)
	assert.Nil(t, tr.ToExecutorID)
	assert.Zero(t, tr.RetryCount, "manual offers do not consume retries")
	assert.NotNil(t, tr.RespondedAt)
	assert.Contains(t, tr.Comment, "busy")
	assert.Contains(t, tr.Comment, "reopened after b declined")
	assert.True(t, tr.CanBeAssignedTo("b"))
}

func TestAutoAssignTransfer_PicksBestOtherExecutor(t *testing.T) {
	h := setup(t, []string{"a", "b", "c"},
		shiftAt("s1", base.Add(8*time.Hour), "a"),
		shiftAt("busy", base.Add(32*time.Hour), "b"),
	)
	ctx := context.Background()
	tr := h.create(t, "s1", "a")

	tr, err := h.svc.AutoAssignTransfer(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransferAssigned, tr.Status)
	require.NotNil(t, tr.ToExecutorID)
	assert.Equal(t, "c", *tr.ToExecutorID)
	assert.True(t, tr.AutoAssigned)

	tr, err = h.svc.RespondToTransfer(ctx, tr.ID, "c", false, "")
	require.NoError(t, err)
	assert.Equal(t, 1, tr.RetryCount, "rejecting an automatic offer consumes a retry")
}

func TestAutoAssignTransfer_ExhaustsBudgetAndEscalates(t *testing.T) {
	h := setup(t, []string{"a"}, shiftAt("s1", base.Add(8*time.Hour), "a"))
	ctx := context.Background()
	tr := h.create(t, "s1", "a")

	for i := 1; i < models.DefaultTransferRetries; i++ {
		got, err := h.svc.AutoAssignTransfer(ctx, tr.ID)
		assert.ErrorIs(t, err, models.ErrNoEligibleCandidate)
		assert.NotErrorIs(t, err, models.ErrRetryBudgetExhausted)
		assert.Equal(t, i, got.RetryCount)
	}

	got, err := h.svc.AutoAssignTransfer(ctx, tr.ID)
	assert.ErrorIs(t, err, models.ErrRetryBudgetExhausted)
	assert.True(t, got.NeedsManual())
	assert.Len(t, h.audit.OfType(audit.EventTransferEscalated), 1)
	assert.Len(t, h.notes.For("mgr"), 1)

	_, err = h.svc.AutoAssignTransfer(ctx, tr.ID)
	assert.ErrorIs(t, err, models.ErrRetryBudgetExhausted)

	sum, err := h.svc.AutoAssignPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Manual)
	assert.Zero(t, sum.Processed)
}

func TestExpireStale(t *testing.T) {
	h := setup(t, []string{"a", "b"},
		shiftAt("s1", base.Add(72*time.Hour), "a"),
		shiftAt("s2", base.Add(96*time.Hour), "a"),
	)
	ctx := context.Background()
	old := h.create(t, "s1", "a")
	_, err := h.svc.CreateTransfer(ctx, CreateRequest{
		ShiftID: "s2", FromExecutorID: "a", Reason: models.ReasonOverload, Urgency: models.UrgencyCritical,
	})
	require.NoError(t, err)

	h.clock.t = h.clock.t.Add(12 * time.Hour)
	fresh, err := h.svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, fresh.Processed)

	h.clock.t = h.clock.t.Add(13 * time.Hour)
	sum, err := h.svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Succeeded)

	cur, err := h.svc.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransferCancelled, cur.Status)
	assert.Contains(t, cur.Comment, "expired after")
	assert.Len(t, h.audit.OfType(audit.EventTransferEscalated), 1, "only the critical transfer escalates")
}

func TestCleanupFinished(t *testing.T) {
	h := setup(t, []string{"a"}, shiftAt("s1", base.Add(8*time.Hour), "a"))
	ctx := context.Background()
	tr := h.create(t, "s1", "a")
	_, err := h.svc.CancelTransfer(ctx, tr.ID, "changed my mind")
	require.NoError(t, err)

	n, err := h.svc.CleanupFinished(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.t = h.clock.t.Add(31 * 24 * time.Hour)
	n, err = h.svc.CleanupFinished(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = h.svc.Get(ctx, tr.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
