package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShift_Validate(t *testing.T) {
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	base := Shift{
		PlannedStart: start,
		PlannedEnd:   start.Add(8 * time.Hour),
		Status:       ShiftPlanned,
		MaxRequests:  5,
		Priority:     3,
	}

	ok := base
	require.NoError(t, ok.Validate())

	backwards := base
	backwards.PlannedEnd = start
	assert.True(t, errors.Is(backwards.Validate(), ErrInvalidInput))

	overloaded := base
	overloaded.CurrentRequestCount = 6
	assert.ErrorIs(t, overloaded.Validate(), ErrInvalidInput)

	badPriority := base
	badPriority.Priority = 0
	assert.ErrorIs(t, badPriority.Validate(), ErrInvalidInput)
}

func TestShift_OverlapsAndGap(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	a := &Shift{PlannedStart: day.Add(8 * time.Hour), PlannedEnd: day.Add(16 * time.Hour)}
	b := &Shift{PlannedStart: day.Add(15 * time.Hour), PlannedEnd: day.Add(20 * time.Hour)}
	c := &Shift{PlannedStart: day.Add(16 * time.Hour), PlannedEnd: day.Add(20 * time.Hour)}
	d := &Shift{PlannedStart: day.Add(22 * time.Hour), PlannedEnd: day.Add(30 * time.Hour)}

	assert.True(t, a.Overlaps(b))
	assert.True(t, b.Overlaps(a))
	assert.False(t, a.Overlaps(c), "touching windows do not overlap")
	assert.Equal(t, time.Duration(0), a.Gap(c))
	assert.Equal(t, 6*time.Hour, a.Gap(d))
	assert.Equal(t, 6*time.Hour, d.Gap(a))
}

func TestShift_CloneDoesNotAlias(t *testing.T) {
	s := &Shift{ExecutorID: StringPtr("e1"), Specializations: []string{"electric"}}
	c := s.Clone()
	*c.ExecutorID = "e2"
	c.Specializations[0] = "plumbing"

	assert.Equal(t, "e1", *s.ExecutorID)
	assert.Equal(t, "electric", s.Specializations[0])
}

func TestWeekdays(t *testing.T) {
	w := WeekdaysOf(time.Monday, time.Sunday)
	assert.Equal(t, Weekdays(0b1000001), w)
	assert.True(t, w.Has(time.Monday))
	assert.True(t, w.Has(time.Sunday))
	assert.False(t, w.Has(time.Wednesday))
	for d := time.Sunday; d <= time.Saturday; d++ {
		assert.True(t, AllWeekdays.Has(d))
	}
}

func TestShiftTemplate_Validate(t *testing.T) {
	tpl := ShiftTemplate{
		Name:         "day",
		StartTime:    "08:30",
		Duration:     8 * time.Hour,
		MinExecutors: 1,
		MaxExecutors: 2,
		Priority:     2,
		Days:         AllWeekdays,
	}
	require.NoError(t, tpl.Validate())

	off, err := tpl.StartOffset()
	require.NoError(t, err)
	assert.Equal(t, 8*time.Hour+30*time.Minute, off)

	bad := tpl
	bad.StartTime = "25:00"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidInput)

	noDays := tpl
	noDays.Days = 0
	assert.ErrorIs(t, noDays.Validate(), ErrInvalidInput)

	inverted := tpl
	inverted.MaxExecutors = 0
	assert.ErrorIs(t, inverted.Validate(), ErrInvalidInput)
}

func TestShiftTransfer_CanBeAssignedTo(t *testing.T) {
	tr := &ShiftTransfer{FromExecutorID: "alice", Status: TransferPending, MaxRetries: 3}

	assert.False(t, tr.CanBeAssignedTo("alice"))
	assert.True(t, tr.CanBeAssignedTo("bob"))

	for _, st := range []TransferStatus{TransferAssigned, TransferAccepted, TransferRejected, TransferCompleted, TransferCancelled} {
		tr.Status = st
		assert.False(t, tr.CanBeAssignedTo("bob"), st)
	}
}

func TestShiftTransfer_NeedsManual(t *testing.T) {
	tr := &ShiftTransfer{Status: TransferPending, RetryCount: 2, MaxRetries: 3}
	assert.False(t, tr.NeedsManual())
	tr.RetryCount = 3
	assert.True(t, tr.NeedsManual())
	tr.Status = TransferCancelled
	assert.False(t, tr.NeedsManual())
}

func TestExecutor_HasSpecialization(t *testing.T) {
	e := &Executor{Specializations: []string{" Electric", "plumbing"}}
	assert.True(t, e.HasSpecialization("electric"))
	assert.True(t, e.HasSpecialization("PLUMBING "))
	assert.False(t, e.HasSpecialization("gas"))
	assert.False(t, e.HasSpecialization("  "))
	assert.Equal(t, "electric", NormalizeSpecialization(" ElecTric\t"))
}
