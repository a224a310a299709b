package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"shift-engine/internal/audit"
	"shift-engine/internal/models"
	"shift-engine/internal/store"
)

// ReassignAbsent moves the absent executor's planned shifts starting in
// [from, to) to other executors. A shift nobody can take is left unassigned
// so the unassigned-shift sweep picks it up later.
func (e *Engine) ReassignAbsent(ctx context.Context, executorID string, from, to time.Time) (*BatchResult, error) {
	shifts, err := e.store.ListShifts(ctx, store.ShiftFilter{
		ExecutorIDs: []string{executorID},
		From:        from,
		To:          to,
		Statuses:    []models.ShiftStatus{models.ShiftPlanned},
	})
	if err != nil {
		return nil, err
	}

	res := &BatchResult{}
	var errs []error
	for _, s := range shifts {
		out, err := e.assignShift(ctx, s.ID, true, []string{executorID}, models.StrategyAbsence)
		switch {
		case err == nil && out.skipped:
			res.Skipped++
		case err == nil:
			res.Assigned = append(res.Assigned, *out.assigned)
			res.Warnings = append(res.Warnings, out.warnings...)
		case errors.Is(err, models.ErrConflictBlocked), errors.Is(err, models.ErrNoEligibleCandidate):
			res.Conflicts = append(res.Conflicts, out.blocked...)
			if uerr := e.unassign(ctx, s.ID, executorID); uerr != nil {
				errs = append(errs, fmt.Errorf("shift %s: %w", s.ID, uerr))
			}
			res.Failed = append(res.Failed, ShiftFailure{ShiftID: s.ID, Reason: err.Error(), err: err})
			e.record(ctx, audit.Event{
				Category:      audit.CategoryAssignment,
				EventType:     audit.EventExecutorAbsenceReassignment,
				ShiftID:       s.ID,
				ExecutorID:    executorID,
				Success:       false,
				FailureReason: err.Error(),
			})
		default:
			res.Failed = append(res.Failed, ShiftFailure{ShiftID: s.ID, Reason: err.Error(), err: err})
			errs = append(errs, fmt.Errorf("shift %s: %w", s.ID, err))
		}
	}
	e.log.Info("absence reassignment finished",
		zap.String("executor_id", executorID),
		zap.Int("shifts", len(shifts)),
		zap.Int("reassigned", len(res.Assigned)),
		zap.Int("unassigned", len(res.Failed)))
	return res, errors.Join(errs...)
}

// unassign clears the shift's executor if it still belongs to executorID.
func (e *Engine) unassign(ctx context.Context, shiftID, executorID string) error {
	return e.store.Within(ctx, func(ctx context.Context, r store.Repository) error {
		s, err := r.GetShift(ctx, shiftID)
		if err != nil {
			return err
		}
		if !s.OwnedBy(executorID) || s.Status != models.ShiftPlanned {
			return nil
		}
		s.ExecutorID = nil
		return r.UpdateShift(ctx, s)
	})
}
