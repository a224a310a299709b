package store

import (
	"fmt"
	"slices"

	"shift-engine/internal/models"
)

func validateTransfer(t *models.ShiftTransfer) error {
	if t.ShiftID == "" || t.FromExecutorID == "" {
		return fmt.Errorf("%w: transfer needs a shift and an originating executor", models.ErrInvalidInput)
	}
	if t.ToExecutorID != nil && *t.ToExecutorID == t.FromExecutorID {
		return fmt.Errorf("%w: transfer target equals its origin", models.ErrInvalidInput)
	}
	if !t.Reason.Valid() {
		return fmt.Errorf("%w: unknown transfer reason %q", models.ErrInvalidInput, t.Reason)
	}
	if !t.Urgency.Valid() {
		return fmt.Errorf("%w: unknown urgency %q", models.ErrInvalidInput, t.Urgency)
	}
	if t.RetryCount < 0 || t.MaxRetries < 0 {
		return fmt.Errorf("%w: retry counters must not be negative", models.ErrInvalidInput)
	}
	return nil
}

func matchShift(s *models.Shift, f ShiftFilter) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, s.ID) {
		return false
	}
	if !f.From.IsZero() && s.PlannedStart.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !s.PlannedStart.Before(f.To) {
		return false
	}
	if f.Unassigned && s.IsAssigned() {
		return false
	}
	if len(f.ExecutorIDs) > 0 && (!s.IsAssigned() || !slices.Contains(f.ExecutorIDs, *s.ExecutorID)) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, s.Status) {
		return false
	}
	if f.TemplateID != "" && (s.TemplateID == nil || *s.TemplateID != f.TemplateID) {
		return false
	}
	return true
}

func matchExecutor(e *models.Executor, f ExecutorFilter) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, e.ID) {
		return false
	}
	if f.Role != "" && !e.HasRole(f.Role) {
		return false
	}
	if f.Approval != "" && e.Approval != f.Approval {
		return false
	}
	if f.EligibleOnly && !e.Eligible() {
		return false
	}
	return true
}

func matchTransfer(t *models.ShiftTransfer, f TransferFilter) bool {
	if f.ShiftID != "" && t.ShiftID != f.ShiftID {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, t.Status) {
		return false
	}
	if !f.CreatedBefore.IsZero() && !t.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !t.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	return true
}

func matchRequest(r *models.WorkRequest, f RequestFilter) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
		return false
	}
	if f.Unassigned && r.ExecutorID != nil {
		return false
	}
	if len(f.ExecutorIDs) > 0 && (r.ExecutorID == nil || !slices.Contains(f.ExecutorIDs, *r.ExecutorID)) {
		return false
	}
	return true
}

// ActiveRequestStatuses are the request states that count toward an executor's load.
var ActiveRequestStatuses = []models.RequestStatus{models.RequestNew, models.RequestInProgress}
