package transfer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"shift-engine/internal/models"
	"shift-engine/internal/store"
)

// Summary counts the outcome of a sweep over many transfers.
type Summary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Manual    int `json:"manual"`
}

// ExpireStale cancels pending and assigned transfers older than StaleAfter.
// Urgent ones are escalated to managers as they are cancelled.
func (s *Service) ExpireStale(ctx context.Context) (Summary, error) {
	var sum Summary
	stale, err := s.store.ListTransfers(ctx, store.TransferFilter{
		Statuses:      []models.TransferStatus{models.TransferPending, models.TransferAssigned},
		CreatedBefore: s.now().Add(-s.cfg.StaleAfter),
	})
	if err != nil {
		return sum, err
	}

	var errs []error
	for _, t := range stale {
		sum.Processed++
		err := s.run(ctx, func(ctx context.Context, r store.Repository, fx *effects) error {
			cur, err := r.GetTransfer(ctx, t.ID)
			if err != nil {
				return err
			}
			if cur.Status != models.TransferPending && cur.Status != models.TransferAssigned {
				return nil
			}
			if cur.Urgency == models.UrgencyHigh || cur.Urgency == models.UrgencyCritical {
				s.escalate(fx, cur, fmt.Sprintf("expired after %s without a taker", s.cfg.StaleAfter))
			}
			if err := s.cancel(fx, cur, fmt.Sprintf("expired after %s", s.cfg.StaleAfter)); err != nil {
				return err
			}
			return r.UpdateTransfer(ctx, cur)
		})
		if err != nil {
			sum.Failed++
			errs = append(errs, fmt.Errorf("transfer %s: %w", t.ID, err))
			continue
		}
		sum.Succeeded++
	}
	s.log.Info("stale transfers expired", zap.Int("expired", sum.Succeeded), zap.Int("failed", sum.Failed))
	return sum, errors.Join(errs...)
}

// CleanupFinished deletes completed and cancelled transfers last touched
// before the retention window.
func (s *Service) CleanupFinished(ctx context.Context) (int, error) {
	var n int
	err := s.store.Within(ctx, func(ctx context.Context, r store.Repository) error {
		old, err := r.ListTransfers(ctx, store.TransferFilter{
			Statuses:      []models.TransferStatus{models.TransferCompleted, models.TransferCancelled},
			UpdatedBefore: s.now().Add(-s.cfg.Retention),
		})
		if err != nil {
			return err
		}
		ids := make([]string, len(old))
		for i, t := range old {
			ids[i] = t.ID
		}
		n, err = r.DeleteTransfers(ctx, ids)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("finished transfers cleaned up", zap.Int("deleted", n))
	return n, nil
}

// AutoAssignPending runs AutoAssignTransfer over every pending transfer that
// still has retries left. Only store failures make the sweep fail.
func (s *Service) AutoAssignPending(ctx context.Context) (Summary, error) {
	var sum Summary
	pending, err := s.store.ListTransfers(ctx, store.TransferFilter{
		Statuses: []models.TransferStatus{models.TransferPending},
	})
	if err != nil {
		return sum, err
	}

	var errs []error
	for _, t := range pending {
		if t.NeedsManual() {
			sum.Manual++
			continue
		}
		sum.Processed++
		res, err := s.AutoAssignTransfer(ctx, t.ID)
		switch {
		case err == nil:
			sum.Succeeded++
		case models.Retryable(err):
			sum.Failed++
			errs = append(errs, err)
		default:
			sum.Failed++
			if res != nil && res.NeedsManual() {
				sum.Manual++
			}
			s.log.Info("transfer left pending", zap.String("transfer_id", t.ID), zap.Error(err))
		}
	}
	return sum, errors.Join(errs...)
}
