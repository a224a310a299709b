package roster

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"shift-engine/internal/audit"
	"shift-engine/internal/models"
	"shift-engine/internal/store"
)

// CompletionStats are the performance figures recorded when a shift ends.
type CompletionStats struct {
	CompletedRequests     int     `json:"completed_requests"`
	AverageCompletionTime float64 `json:"average_completion_time"`
	AverageResponseTime   float64 `json:"average_response_time"`
	EfficiencyScore       float64 `json:"efficiency_score"`
	QualityRating         float64 `json:"quality_rating"`
}

// StartShift moves an assigned planned shift to active and stamps its actual start.
func (s *Service) StartShift(ctx context.Context, id string) (*models.Shift, error) {
	return s.changeStatus(ctx, id, func(sh *models.Shift, now time.Time) error {
		if sh.Status != models.ShiftPlanned {
			return fmt.Errorf("shift %s is %s: %w", sh.ID, sh.Status, errNotPlanned)
		}
		if !sh.IsAssigned() {
			return fmt.Errorf("%w: shift %s has no executor", models.ErrInvalidInput, sh.ID)
		}
		sh.Status = models.ShiftActive
		sh.ActualStart = &now
		return nil
	})
}

// CompleteShift ends an active shift and records its performance figures.
func (s *Service) CompleteShift(ctx context.Context, id string, stats CompletionStats) (*models.Shift, error) {
	return s.changeStatus(ctx, id, func(sh *models.Shift, now time.Time) error {
		if sh.Status != models.ShiftActive {
			return fmt.Errorf("shift %s is %s, not active: %w", sh.ID, sh.Status, models.ErrInvalidTransition)
		}
		sh.Status = models.ShiftCompleted
		sh.ActualEnd = &now
		sh.CompletedRequests = stats.CompletedRequests
		sh.AverageCompletionTime = stats.AverageCompletionTime
		sh.AverageResponseTime = stats.AverageResponseTime
		sh.EfficiencyScore = stats.EfficiencyScore
		sh.QualityRating = stats.QualityRating
		return nil
	})
}

// CancelShift cancels a planned or active shift.
func (s *Service) CancelShift(ctx context.Context, id string) (*models.Shift, error) {
	return s.changeStatus(ctx, id, func(sh *models.Shift, now time.Time) error {
		if !sh.Status.Occupying() {
			return fmt.Errorf("shift %s is %s: %w", sh.ID, sh.Status, models.ErrInvalidTransition)
		}
		if sh.Status == models.ShiftActive {
			sh.ActualEnd = &now
		}
		sh.Status = models.ShiftCancelled
		return nil
	})
}

func (s *Service) changeStatus(ctx context.Context, id string, apply func(sh *models.Shift, now time.Time) error) (*models.Shift, error) {
	var out *models.Shift
	var from models.ShiftStatus
	err := s.store.Within(ctx, func(ctx context.Context, r store.Repository) error {
		sh, err := r.GetShift(ctx, id)
		if err != nil {
			return err
		}
		from = sh.Status
		if err := apply(sh, s.now()); err != nil {
			return err
		}
		out = sh
		return r.UpdateShift(ctx, sh)
	})
	if err != nil {
		return nil, err
	}
	executor := ""
	if out.ExecutorID != nil {
		executor = *out.ExecutorID
	}
	s.log.Info("shift status changed",
		zap.String("shift_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(out.Status)))
	s.record(ctx, audit.Event{
		EventType:  audit.EventShiftStatusMoved,
		ShiftID:    id,
		ExecutorID: executor,
		Success:    true,
		Details:    map[string]string{"from": string(from), "to": string(out.Status)},
	})
	return out, nil
}
