package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shift-engine/internal/models"
	"shift-engine/internal/store"
)

// lookBehind bounds how far before a shift the detector searches for
// overlapping shifts. Shifts longer than this are not expected.
const lookBehind = 48 * time.Hour

// Detector finds reasons an assignment would be unsafe or invalid.
type Detector struct {
	cfg Config
}

func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Detect loads the executor and their occupying shifts around shift from r
// and evaluates them. Run it inside the unit of work that will commit the
// assignment so the read and the write see the same schedule.
func (d *Detector) Detect(ctx context.Context, r store.Repository, shift *models.Shift, executorID string) ([]models.AssignmentConflict, error) {
	e, others, err := d.schedule(ctx, r, shift, executorID)
	if err != nil {
		return nil, err
	}
	return d.Evaluate(shift, e, executorID, others), nil
}

// Warnings returns the advisory findings for an executor that passed Detect.
// They never block an assignment.
func (d *Detector) Warnings(ctx context.Context, r store.Repository, shift *models.Shift, executorID string) ([]models.AssignmentConflict, error) {
	e, others, err := d.schedule(ctx, r, shift, executorID)
	if err != nil || e == nil {
		return nil, err
	}
	return d.Advise(shift, e, others), nil
}

func (d *Detector) schedule(ctx context.Context, r store.Repository, shift *models.Shift, executorID string) (*models.Executor, []*models.Shift, error) {
	e, err := r.GetExecutor(ctx, executorID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, nil, err
	}
	if e == nil {
		return nil, nil, nil
	}
	others, err := r.ListShifts(ctx, store.ShiftFilter{
		ExecutorIDs: []string{executorID},
		From:        shift.PlannedStart.Add(-lookBehind),
		To:          shift.PlannedEnd.Add(d.cfg.MinRest),
		Statuses:    []models.ShiftStatus{models.ShiftPlanned, models.ShiftActive},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load schedule of %s: %w", executorID, err)
	}
	return e, others, nil
}

func newConflict(shift *models.Shift, executorID string, t models.ConflictType, sev models.Severity, resolvable bool, msg, resolution string) models.AssignmentConflict {
	return models.AssignmentConflict{
		Type: t, Severity: sev, Resolvable: resolvable, Message: msg, Resolution: resolution,
		ShiftID: shift.ID, ExecutorID: executorID,
	}
}

// Evaluate is the pure conflict check: existence, role, approval and
// overlap with another occupying shift. e is nil when the executor does not
// exist. An approved executor with no overlapping shift gets nothing back.
func (d *Detector) Evaluate(shift *models.Shift, e *models.Executor, executorID string, others []*models.Shift) []models.AssignmentConflict {
	if e == nil {
		return []models.AssignmentConflict{newConflict(shift, executorID, models.ConflictExecutorNotFound, models.SeverityCritical, false,
			fmt.Sprintf("executor %s does not exist", executorID), "")}
	}

	var out []models.AssignmentConflict
	if !e.HasRole(models.RoleExecutor) {
		out = append(out, newConflict(shift, executorID, models.ConflictRoleIneligible, models.SeverityHigh, false,
			fmt.Sprintf("user %s does not hold the executor role", e.ID), ""))
	}
	if !e.IsApproved() {
		out = append(out, newConflict(shift, executorID, models.ConflictNotApproved, models.SeverityHigh, true,
			fmt.Sprintf("executor %s has approval status %s", e.ID, e.Approval), "approve the executor"))
	}
	for _, o := range others {
		if o.ID == shift.ID || !o.Status.Occupying() || !shift.Overlaps(o) {
			continue
		}
		c := newConflict(shift, executorID, models.ConflictTimeOverlap, models.SeverityCritical, true,
			fmt.Sprintf("overlaps shift %s (%s - %s)", o.ID,
				o.PlannedStart.Format(time.RFC3339), o.PlannedEnd.Format(time.RFC3339)),
			"reassign the overlapping shift")
		c.OtherShiftID = o.ID
		out = append(out, c)
	}
	return out
}

// Advise reports the soft findings the scorer already prices in: a rest gap
// under MinRest next to another shift, and required specializations the
// executor lacks.
func (d *Detector) Advise(shift *models.Shift, e *models.Executor, others []*models.Shift) []models.AssignmentConflict {
	var out []models.AssignmentConflict
	for _, o := range others {
		if o.ID == shift.ID || !o.Status.Occupying() || shift.Overlaps(o) {
			continue
		}
		if shift.Gap(o) < d.cfg.MinRest {
			c := newConflict(shift, e.ID, models.ConflictShortRest, models.SeverityMedium, true,
				fmt.Sprintf("only %s rest next to shift %s", shift.Gap(o), o.ID),
				"pick an executor with a longer rest gap")
			c.OtherShiftID = o.ID
			out = append(out, c)
			break
		}
	}
	if missing := missingSpecializations(shift.Specializations, e.Specializations); len(missing) > 0 {
		out = append(out, newConflict(shift, e.ID, models.ConflictSpecializationGap, models.SeverityLow, true,
			fmt.Sprintf("missing specializations %v", missing), "prefer a fully qualified executor"))
	}
	return out
}

func missingSpecializations(required, held []string) []string {
	have := toSet(held)
	var missing []string
	for k := range toSet(required) {
		if _, ok := have[k]; !ok {
			missing = append(missing, k)
		}
	}
	return sortedStrings(missing)
}
