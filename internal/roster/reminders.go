package roster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"shift-engine/internal/models"
	"shift-engine/internal/store"
)

// NotifyUpcoming reminds executors of assigned planned shifts starting
// within the next window. Each shift is reminded at most once; the stamp is
// committed before the message goes out, so a failed delivery is not
// retried.
func (s *Service) NotifyUpcoming(ctx context.Context, within time.Duration) (int, error) {
	now := s.now()
	shifts, err := s.store.ListShifts(ctx, store.ShiftFilter{
		From:     now,
		To:       now.Add(within),
		Statuses: []models.ShiftStatus{models.ShiftPlanned},
	})
	if err != nil {
		return 0, err
	}

	sent := 0
	var errs []error
	for _, sh := range shifts {
		if !sh.IsAssigned() || sh.ReminderSentAt != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		var claimed *models.Shift
		err := s.store.Within(ctx, func(ctx context.Context, r store.Repository) error {
			claimed = nil
			cur, err := r.GetShift(ctx, sh.ID)
			if err != nil {
				return err
			}
			if cur.ReminderSentAt != nil || !cur.IsAssigned() || cur.Status != models.ShiftPlanned {
				return nil
			}
			stamp := now
			cur.ReminderSentAt = &stamp
			if err := r.UpdateShift(ctx, cur); err != nil {
				return err
			}
			claimed = cur
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("shift %s: %w", sh.ID, err))
			continue
		}
		if claimed == nil {
			continue
		}
		executor := *claimed.ExecutorID
		start := claimed.PlannedStart.In(s.loc)
		if err := s.notifier.Notify(ctx, executor, "Upcoming shift",
			fmt.Sprintf("Your shift starts at %s (in %s).",
				start.Format("2006-01-02 15:04"), claimed.PlannedStart.Sub(now).Round(time.Minute))); err != nil {
			s.log.Warn("reminder failed", zap.String("shift_id", claimed.ID), zap.String("executor_id", executor), zap.Error(err))
			continue
		}
		sent++
	}
	s.log.Info("upcoming shift reminders sent", zap.Int("sent", sent), zap.Duration("window", within))
	return sent, errors.Join(errs...)
}
