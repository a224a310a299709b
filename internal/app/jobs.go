package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"shift-engine/internal/scheduler"
)

// Job names.
const (
	JobAutoCreateShifts    = "auto_create_shifts"
	JobRebalance           = "rebalance"
	JobExpireTransfers     = "expire_transfers"
	JobAutoAssignTransfers = "auto_assign_transfers"
	JobCleanupTransfers    = "cleanup_transfers"
	JobNotifyUpcoming      = "notify_upcoming"
	JobAutoAssignRequests  = "auto_assign_requests"
	JobReconcileRequests   = "reconcile_requests"
	JobAssignUnassigned    = "assign_unassigned_shifts"
)

func (a *App) registerJobs() error {
	sc := a.Config.Scheduler
	loc := a.Config.Location()
	clock := func(s string) scheduler.Clock {
		c, err := scheduler.ParseClock(s)
		if err != nil {
			a.Log.Warn("bad scheduler time, using midnight", zap.String("value", s), zap.Error(err))
		}
		return c
	}

	jobs := []scheduler.Job{
		{Name: JobAutoCreateShifts, Trigger: scheduler.Daily(clock(sc.GenerateAt), loc), Run: a.generateShifts},
		{Name: JobRebalance, Trigger: scheduler.Daily(clock(sc.RebalanceAt), loc), Run: a.rebalance},
		{Name: JobExpireTransfers, Trigger: scheduler.Every(sc.ExpireEvery), Run: func(ctx context.Context) error {
			_, err := a.Transfers.ExpireStale(ctx)
			return err
		}},
		{Name: JobAutoAssignTransfers, Trigger: scheduler.Every(sc.TransferEvery), Run: func(ctx context.Context) error {
			_, err := a.Transfers.AutoAssignPending(ctx)
			return err
		}},
		{Name: JobCleanupTransfers, Trigger: scheduler.Weekly(time.Sunday, scheduler.Clock{Hour: 3}, loc), Run: func(ctx context.Context) error {
			_, err := a.Transfers.CleanupFinished(ctx)
			return err
		}},
		{
			Name:    JobNotifyUpcoming,
			Trigger: scheduler.Between(scheduler.Every(sc.NotifyEvery), clock(sc.ActiveFrom), clock(sc.ActiveTo), loc),
			Run: func(ctx context.Context) error {
				_, err := a.Roster.NotifyUpcoming(ctx, sc.NotifyWithin)
				return err
			},
		},
		{Name: JobAutoAssignRequests, Trigger: scheduler.Every(sc.RequestEvery), Run: func(ctx context.Context) error {
			_, err := a.Dispatch.AutoAssignPending(ctx)
			return err
		}},
		{Name: JobReconcileRequests, Trigger: scheduler.Every(sc.ReconcileEvery), Run: func(ctx context.Context) error {
			_, err := a.Dispatch.Reconcile(ctx)
			return err
		}},
		{Name: JobAssignUnassigned, Trigger: scheduler.Every(sc.SweepEvery), Run: a.assignUnassigned},
	}
	for _, job := range jobs {
		if err := a.Scheduler.Register(job); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) generateShifts(ctx context.Context) error {
	_, err := a.Roster.Generate(ctx, time.Now())
	return err
}

// rebalance evens out today and tomorrow independently.
func (a *App) rebalance(ctx context.Context) error {
	today := a.Roster.DayStart(time.Now())
	var errs []error
	for _, day := range []time.Time{today, today.AddDate(0, 0, 1)} {
		if _, err := a.Engine.Balance(ctx, day); err != nil {
			errs = append(errs, fmt.Errorf("balance %s: %w", day.Format("2006-01-02"), err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) assignUnassigned(ctx context.Context) error {
	now := time.Now()
	_, err := a.Engine.AssignUnassigned(ctx, now, now.AddDate(0, 0, a.Config.Scheduler.LookaheadDays))
	return err
}
