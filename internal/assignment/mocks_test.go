package assignment

import (
	"context"
	"time"

	"shift-engine/internal/models"
	"shift-engine/internal/store"
)

// MockStore runs against an in-memory store unless a Func field overrides
// the call.
type MockStore struct {
	*store.MemoryStore
	WithinFunc        func(ctx context.Context, fn func(ctx context.Context, r store.Repository) error) error
	ListShiftsFunc    func(ctx context.Context, f store.ShiftFilter) ([]*models.Shift, error)
	ListExecutorsFunc func(ctx context.Context, f store.ExecutorFilter) ([]*models.Executor, error)
}

func (m *MockStore) Within(ctx context.Context, fn func(ctx context.Context, r store.Repository) error) error {
	if m.WithinFunc != nil {
		return m.WithinFunc(ctx, fn)
	}
	return m.MemoryStore.Within(ctx, fn)
}

func (m *MockStore) ListShifts(ctx context.Context, f store.ShiftFilter) ([]*models.Shift, error) {
	if m.ListShiftsFunc != nil {
		return m.ListShiftsFunc(ctx, f)
	}
	return m.MemoryStore.ListShifts(ctx, f)
}

func (m *MockStore) ListExecutors(ctx context.Context, f store.ExecutorFilter) ([]*models.Executor, error) {
	if m.ListExecutorsFunc != nil {
		return m.ListExecutorsFunc(ctx, f)
	}
	return m.MemoryStore.ListExecutors(ctx, f)
}

// 2025-03-10 is a Monday.
var base = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return base.Add(-24 * time.Hour) }

func executor(id string, specs ...string) *models.Executor {
	return &models.Executor{
		ID:              id,
		FullName:        "Executor " + id,
		Roles:           []models.Role{models.RoleExecutor},
		Approval:        models.ApprovalApproved,
		Specializations: specs,
	}
}

func shiftAt(id string, start time.Time, dur time.Duration, specs ...string) *models.Shift {
	return &models.Shift{
		ID:              id,
		PlannedStart:    start,
		PlannedEnd:      start.Add(dur),
		Status:          models.ShiftPlanned,
		Specializations: specs,
		MaxRequests:     10,
		Priority:        3,
	}
}

func ownedBy(s *models.Shift, executorID string) *models.Shift {
	s.ExecutorID = models.StringPtr(executorID)
	return s
}

// seed builds a memory store holding the executors and shifts.
func seed(t interface{ Fatalf(string, ...any) }, executors []*models.Executor, shifts ...*models.Shift) *store.MemoryStore {
	ms := store.NewMemoryStore().WithClock(fixedClock)
	for _, e := range executors {
		ms.PutExecutor(e)
	}
	for _, s := range shifts {
		if err := ms.CreateShift(context.Background(), s); err != nil {
			t.Fatalf("seed shift %s: %v", s.ID, err)
		}
	}
	return ms
}
