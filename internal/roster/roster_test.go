package roster

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shift-engine/internal/audit"
	"shift-engine/internal/models"
	"shift-engine/internal/store"
)

// 2025-03-10 is a Monday.
var monday = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return monday.Add(-time.Hour) }

func newService(t *testing.T) (*Service, *store.MemoryStore, *audit.Recorder) {
	t.Helper()
	ms := store.NewMemoryStore().WithClock(fixedNow)
	rec := audit.NewRecorder(0)
	return NewService(ms, time.UTC, 7, WithAudit(rec), WithClock(fixedNow)), ms, rec
}

func weekdayTemplate() *models.ShiftTemplate {
	return &models.ShiftTemplate{
		ID:                 "morning",
		Name:               "Morning electric",
		StartTime:          "08:30",
		Duration:           8 * time.Hour,
		Specializations:    []string{"electric"},
		CoverageAreas:      []string{"north"},
		Zone:               "north",
		MinExecutors:       2,
		MaxExecutors:       3,
		DefaultMaxRequests: 6,
		Priority:           2,
		Days:               models.WeekdaysOf(time.Monday, time.Wednesday),
		AutoCreate:         true,
		Active:             true,
	}
}

func TestGenerate_ExpandsMatchingDays(t *testing.T) {
	svc, _, rec := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.CreateTemplate(ctx, weekdayTemplate()))

	res, err := svc.Generate(ctx, monday.Add(15*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Templates)
	require.Len(t, res.Created, 4, "two slots on Monday and two on Wednesday")

	want := &models.Shift{
		PlannedStart:    monday.Add(8*time.Hour + 30*time.Minute),
		PlannedEnd:      monday.Add(16*time.Hour + 30*time.Minute),
		Status:          models.ShiftPlanned,
		TemplateID:      models.StringPtr("morning"),
		Specializations: []string{"electric"},
		CoverageAreas:   []string{"north"},
		Zone:            "north",
		MaxRequests:     6,
		Priority:        2,
	}
	ignore := cmpopts.IgnoreFields(models.Shift{}, "ID", "CreatedAt", "UpdatedAt")
	if diff := cmp.Diff(want, res.Created[0], ignore); diff != "" {
		t.Errorf("generated shift mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, time.Wednesday, res.Created[2].PlannedStart.Weekday())
	assert.Len(t, rec.OfType(audit.EventShiftsGenerated), 1)
}

func TestGenerate_IsIdempotent(t *testing.T) {
	svc, ms, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.CreateTemplate(ctx, weekdayTemplate()))

	_, err := svc.Generate(ctx, monday)
	require.NoError(t, err)
	before, err := ms.ListShifts(ctx, store.ShiftFilter{})
	require.NoError(t, err)

	again, err := svc.Generate(ctx, monday)
	require.NoError(t, err)
	assert.Empty(t, again.Created)
	after, err := ms.ListShifts(ctx, store.ShiftFilter{})
	require.NoError(t, err)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("second run changed shifts:\n%s", diff)
	}
}

func TestGenerate_HonoursAdvanceDaysAndSkipsInactive(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	short := weekdayTemplate()
	short.ID = "short"
	short.Days = models.AllWeekdays
	short.MinExecutors = 1
	short.AdvanceDays = 2
	off := weekdayTemplate()
	off.ID = "off"
	off.Active = false
	require.NoError(t, svc.CreateTemplate(ctx, short))
	require.NoError(t, svc.CreateTemplate(ctx, off))

	res, err := svc.Generate(ctx, monday)
	require.NoError(t, err)
	assert.Len(t, res.Created, 2)

	_, err = svc.GenerateFromTemplate(ctx, "off", monday, 7)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestGenerate_UsesServiceTimezone(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	ms := store.NewMemoryStore().WithClock(fixedNow)
	svc := NewService(ms, loc, 1)
	tpl := weekdayTemplate()
	tpl.Days = models.AllWeekdays
	tpl.MinExecutors = 1
	require.NoError(t, svc.CreateTemplate(context.Background(), tpl))

	res, err := svc.Generate(context.Background(), monday.Add(22*time.Hour))
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	// 22:00 UTC Monday is already Tuesday in UTC+3.
	assert.Equal(t, time.Date(2025, 3, 11, 5, 30, 0, 0, time.UTC), res.Created[0].PlannedStart.UTC())
}

func TestGenerate_KeepsWallClockAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	ms := store.NewMemoryStore().WithClock(fixedNow)
	svc := NewService(ms, loc, 3)
	tpl := weekdayTemplate()
	tpl.Days = models.AllWeekdays
	tpl.MinExecutors = 1
	require.NoError(t, svc.CreateTemplate(context.Background(), tpl))

	// Clocks go forward at 02:00 on Sunday 2025-03-30.
	res, err := svc.Generate(context.Background(), time.Date(2025, 3, 29, 12, 0, 0, 0, loc))
	require.NoError(t, err)
	require.Len(t, res.Created, 3)
	for _, sh := range res.Created {
		local := sh.PlannedStart.In(loc)
		assert.Equal(t, 8, local.Hour(), local.String())
		assert.Equal(t, 30, local.Minute(), local.String())
	}
	assert.Equal(t, time.Date(2025, 3, 29, 7, 30, 0, 0, time.UTC), res.Created[0].PlannedStart.UTC())
	assert.Equal(t, time.Date(2025, 3, 30, 6, 30, 0, 0, time.UTC), res.Created[1].PlannedStart.UTC())
}

var errCreate = errors.New("insert failed")

// flakyStore fails the failOn-th CreateShift made inside a unit of work.
type flakyStore struct {
	*store.MemoryStore
	calls, failOn int
}

func (s *flakyStore) Within(ctx context.Context, fn func(context.Context, store.Repository) error) error {
	return s.MemoryStore.Within(ctx, func(ctx context.Context, r store.Repository) error {
		return fn(ctx, flakyRepo{Repository: r, s: s})
	})
}

type flakyRepo struct {
	store.Repository
	s *flakyStore
}

func (r flakyRepo) CreateShift(ctx context.Context, sh *models.Shift) error {
	r.s.calls++
	if r.s.calls == r.s.failOn {
		return errCreate
	}
	return r.Repository.CreateShift(ctx, sh)
}

func TestGenerateFromTemplate_RolledBackDayIsNotReported(t *testing.T) {
	ms := store.NewMemoryStore().WithClock(fixedNow)
	fs := &flakyStore{MemoryStore: ms, failOn: 4}
	svc := NewService(fs, time.UTC, 7)
	tpl := weekdayTemplate()
	tpl.Days = models.AllWeekdays
	require.NoError(t, ms.CreateTemplate(context.Background(), tpl))

	// Monday creates two slots; Tuesday fails on its second and rolls back.
	created, err := svc.GenerateFromTemplate(context.Background(), tpl.ID, monday, 2)
	require.ErrorIs(t, err, errCreate)
	require.Len(t, created, 2)
	for _, sh := range created {
		assert.Equal(t, time.Monday, sh.PlannedStart.Weekday())
	}
	stored, err := ms.ListShifts(context.Background(), store.ShiftFilter{})
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestDeleteTemplate(t *testing.T) {
	svc, ms, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.CreateTemplate(ctx, weekdayTemplate()))
	_, err := svc.Generate(ctx, monday)
	require.NoError(t, err)

	past := &models.Shift{
		PlannedStart: monday.Add(-24 * time.Hour), PlannedEnd: monday.Add(-16 * time.Hour),
		Status: models.ShiftCompleted, TemplateID: models.StringPtr("morning"), Priority: 3,
	}
	require.NoError(t, ms.CreateShift(ctx, past))

	err = svc.DeleteTemplate(ctx, "morning", false)
	assert.ErrorIs(t, err, models.ErrTemplateInUse)

	require.NoError(t, svc.DeleteTemplate(ctx, "morning", true))
	_, err = svc.GetTemplate(ctx, "morning")
	assert.ErrorIs(t, err, models.ErrNotFound)

	shifts, err := ms.ListShifts(ctx, store.ShiftFilter{})
	require.NoError(t, err)
	cancelled := 0
	for _, sh := range shifts {
		assert.Nil(t, sh.TemplateID)
		if sh.Status == models.ShiftCancelled {
			cancelled++
		}
	}
	assert.Equal(t, 4, cancelled)
	got, err := ms.GetShift(ctx, past.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShiftCompleted, got.Status)
}

func TestShiftLifecycle(t *testing.T) {
	svc, _, rec := newService(t)
	ctx := context.Background()
	sh := &models.Shift{
		PlannedStart: monday.Add(8 * time.Hour), PlannedEnd: monday.Add(16 * time.Hour),
		MaxRequests: 5, Priority: 3,
	}
	require.NoError(t, svc.CreateShift(ctx, sh))
	assert.Equal(t, models.ShiftPlanned, sh.Status)

	_, err := svc.StartShift(ctx, sh.ID)
	assert.ErrorIs(t, err, models.ErrInvalidInput, "unassigned shifts cannot start")

	_, err = svc.CompleteShift(ctx, sh.ID, CompletionStats{})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	sh.ExecutorID = models.StringPtr("e1")
	require.NoError(t, svc.store.UpdateShift(ctx, sh))

	started, err := svc.StartShift(ctx, sh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShiftActive, started.Status)
	require.NotNil(t, started.ActualStart)

	done, err := svc.CompleteShift(ctx, sh.ID, CompletionStats{CompletedRequests: 4, QualityRating: 4.5})
	require.NoError(t, err)
	assert.Equal(t, models.ShiftCompleted, done.Status)
	assert.Equal(t, 4, done.CompletedRequests)
	require.NotNil(t, done.ActualEnd)

	_, err = svc.CancelShift(ctx, sh.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	assert.Len(t, rec.OfType(audit.EventShiftStatusMoved), 2)
}
