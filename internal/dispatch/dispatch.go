// Package dispatch routes queued work requests to executors who are on shift.
package dispatch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"shift-engine/internal/audit"
	"shift-engine/internal/models"
	"shift-engine/internal/notify"
	"shift-engine/internal/store"
)

type Service struct {
	store    store.Store
	notifier notify.Sink
	audit    audit.Sink
	log      *zap.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithNotifier(n notify.Sink) Option     { return func(s *Service) { s.notifier = n } }
func WithAudit(a audit.Sink) Option         { return func(s *Service) { s.audit = a } }
func WithLogger(l *zap.Logger) Option       { return func(s *Service) { s.log = l } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:    st,
		notifier: notify.Nop(),
		audit:    audit.Nop(),
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type Summary struct {
	Processed  int `json:"processed"`
	Assigned   int `json:"assigned"`
	Released   int `json:"released"`
	NoCoverage int `json:"no_coverage"`
}

// lookBack bounds how far before now an on-going shift can have started.
const lookBack = 24 * time.Hour

// AutoAssignPending hands every unassigned new request, highest priority
// first, to an executor currently on a matching shift with spare capacity.
func (s *Service) AutoAssignPending(ctx context.Context) (Summary, error) {
	var sum Summary
	pending, err := s.store.ListRequests(ctx, store.RequestFilter{
		Statuses:   []models.RequestStatus{models.RequestNew},
		Unassigned: true,
	})
	if err != nil {
		return sum, err
	}

	var errs []error
	for _, req := range pending {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		sum.Processed++
		assigned, err := s.route(ctx, req.ID, "")
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("request %s: %w", req.ID, err))
		case assigned == nil:
			sum.NoCoverage++
		default:
			sum.Assigned++
		}
	}
	s.log.Info("pending requests dispatched",
		zap.Int("processed", sum.Processed),
		zap.Int("assigned", sum.Assigned),
		zap.Int("no_coverage", sum.NoCoverage))
	return sum, errors.Join(errs...)
}

// Reconcile releases active requests whose executor is no longer working
// the shift they were routed through and routes them again.
func (s *Service) Reconcile(ctx context.Context) (Summary, error) {
	var sum Summary
	active, err := s.store.ListRequests(ctx, store.RequestFilter{Statuses: store.ActiveRequestStatuses})
	if err != nil {
		return sum, err
	}

	now := s.now()
	var errs []error
	for _, req := range active {
		if req.ExecutorID == nil {
			continue
		}
		sum.Processed++
		var released bool
		err := s.store.Within(ctx, func(ctx context.Context, r store.Repository) error {
			released = false
			cur, err := r.GetRequest(ctx, req.ID)
			if err != nil {
				return err
			}
			if cur.ExecutorID == nil || s.stillCovered(ctx, r, cur, now) {
				return nil
			}
			if err := s.release(ctx, r, cur); err != nil {
				return err
			}
			released = true
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("request %s: %w", req.ID, err))
			continue
		}
		if !released {
			continue
		}
		sum.Released++
		absent := *req.ExecutorID
		assigned, err := s.route(ctx, req.ID, absent)
		if err != nil {
			errs = append(errs, fmt.Errorf("request %s: %w", req.ID, err))
			continue
		}
		ev := audit.Event{
			Category:   audit.CategoryDispatch,
			EventType:  audit.EventExecutorAbsenceReassignment,
			ExecutorID: absent,
			Success:    assigned != nil,
			Details:    map[string]string{"request_id": req.ID},
		}
		if assigned != nil {
			sum.Assigned++
			ev.ShiftID = *assigned.ShiftID
			ev.Details["new_executor"] = *assigned.ExecutorID
		} else {
			sum.NoCoverage++
			ev.FailureReason = "no executor on shift"
		}
		s.record(ctx, ev)
	}
	s.log.Info("request assignments reconciled",
		zap.Int("checked", sum.Processed),
		zap.Int("released", sum.Released),
		zap.Int("reassigned", sum.Assigned))
	return sum, errors.Join(errs...)
}

// AssignRequest routes a request through a specific shift. It fails with
// ErrCapacityExceeded when the shift is full.
func (s *Service) AssignRequest(ctx context.Context, requestID, shiftID string) (*models.WorkRequest, error) {
	var out *models.WorkRequest
	err := s.store.Within(ctx, func(ctx context.Context, r store.Repository) error {
		req, err := r.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if !req.Pending() {
			return fmt.Errorf("%w: request %s is already routed", models.ErrInvalidInput, req.ID)
		}
		sh, err := r.GetShift(ctx, shiftID)
		if err != nil {
			return err
		}
		if !sh.Status.Occupying() || !sh.IsAssigned() {
			return fmt.Errorf("%w: shift %s cannot take requests", models.ErrInvalidInput, sh.ID)
		}
		if err := s.bind(ctx, r, req, sh); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.announce(ctx, out)
	return out, nil
}

// route assigns one request in its own unit of work. It returns nil when no
// shift can take it.
func (s *Service) route(ctx context.Context, requestID, exclude string) (*models.WorkRequest, error) {
	var out *models.WorkRequest
	now := s.now()
	err := s.store.Within(ctx, func(ctx context.Context, r store.Repository) error {
		out = nil
		req, err := r.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if !req.Pending() {
			return nil
		}
		sh, err := s.pickShift(ctx, r, req, now, exclude)
		if err != nil || sh == nil {
			return err
		}
		if err := s.bind(ctx, r, req, sh); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil || out == nil {
		return nil, err
	}
	s.announce(ctx, out)
	return out, nil
}

// pickShift returns the least loaded shift running at now that can take req.
func (s *Service) pickShift(ctx context.Context, r store.Repository, req *models.WorkRequest, now time.Time, exclude string) (*models.Shift, error) {
	shifts, err := r.ListShifts(ctx, store.ShiftFilter{
		From:     now.Add(-lookBack),
		To:       now.Add(time.Nanosecond),
		Statuses: []models.ShiftStatus{models.ShiftPlanned, models.ShiftActive},
	})
	if err != nil {
		return nil, err
	}
	var fits []*models.Shift
	for _, sh := range shifts {
		if !sh.IsAssigned() || *sh.ExecutorID == exclude || !sh.HasCapacity() || !sh.CoversArea(req.Location) {
			continue
		}
		if sh.Status == models.ShiftPlanned && !onShift(sh, now) {
			continue
		}
		if sh.Status == models.ShiftActive && !now.Before(sh.PlannedEnd) {
			continue
		}
		if req.Specialization != "" {
			e, err := r.GetExecutor(ctx, *sh.ExecutorID)
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if !e.HasSpecialization(req.Specialization) {
				continue
			}
		}
		fits = append(fits, sh)
	}
	if len(fits) == 0 {
		return nil, nil
	}
	slices.SortFunc(fits, func(a, b *models.Shift) int {
		if c := cmp.Compare(loadRatio(a), loadRatio(b)); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return fits[0], nil
}

func onShift(sh *models.Shift, now time.Time) bool {
	return !now.Before(sh.PlannedStart) && now.Before(sh.PlannedEnd)
}

func loadRatio(sh *models.Shift) float64 {
	if sh.MaxRequests == 0 {
		return 1
	}
	return float64(sh.CurrentRequestCount) / float64(sh.MaxRequests)
}

// bind routes req through sh and takes one unit of the shift's capacity.
func (s *Service) bind(ctx context.Context, r store.Repository, req *models.WorkRequest, picked *models.Shift) error {
	// Re-read under the unit of work's row lock; picked may come from an
	// unlocked range scan.
	sh, err := r.GetShift(ctx, picked.ID)
	if err != nil {
		return err
	}
	if !sh.Status.Occupying() || !sh.IsAssigned() {
		return fmt.Errorf("%w: shift %s cannot take requests", models.ErrInvalidInput, sh.ID)
	}
	if !sh.HasCapacity() {
		return fmt.Errorf("shift %s: %w", sh.ID, models.ErrCapacityExceeded)
	}
	sh.CurrentRequestCount++
	if err := r.UpdateShift(ctx, sh); err != nil {
		return err
	}
	now := s.now()
	req.ExecutorID = models.StringPtr(*sh.ExecutorID)
	req.ShiftID = models.StringPtr(sh.ID)
	req.AssignedAt = &now
	return r.UpdateRequest(ctx, req)
}

// release detaches req from its executor and gives the capacity back.
func (s *Service) release(ctx context.Context, r store.Repository, req *models.WorkRequest) error {
	if req.ShiftID != nil {
		sh, err := r.GetShift(ctx, *req.ShiftID)
		switch {
		case errors.Is(err, models.ErrNotFound):
		case err != nil:
			return err
		case sh.CurrentRequestCount > 0:
			sh.CurrentRequestCount--
			if err := r.UpdateShift(ctx, sh); err != nil {
				return err
			}
		}
	}
	req.ExecutorID = nil
	req.ShiftID = nil
	req.AssignedAt = nil
	req.Status = models.RequestNew
	return r.UpdateRequest(ctx, req)
}

// stillCovered reports whether req's executor holds the shift it was routed
// through and that shift has not ended or been dropped.
func (s *Service) stillCovered(ctx context.Context, r store.Repository, req *models.WorkRequest, now time.Time) bool {
	if req.ShiftID == nil {
		return false
	}
	sh, err := r.GetShift(ctx, *req.ShiftID)
	if err != nil {
		return false
	}
	if !sh.OwnedBy(*req.ExecutorID) || !sh.Status.Occupying() {
		return false
	}
	if sh.Status == models.ShiftPlanned && !now.Before(sh.PlannedEnd) {
		return false
	}
	return true
}

func (s *Service) announce(ctx context.Context, req *models.WorkRequest) {
	executor := *req.ExecutorID
	s.log.Info("request routed",
		zap.String("request_id", req.ID),
		zap.String("executor_id", executor),
		zap.String("shift_id", *req.ShiftID))
	if err := s.notifier.Notify(ctx, executor, "New work request",
		fmt.Sprintf("Request %s (%s, priority %d) at %s was assigned to you.",
			req.ID, req.Specialization, req.Priority, req.Location)); err != nil {
		s.log.Warn("notification failed", zap.String("executor_id", executor), zap.Error(err))
	}
	s.record(ctx, audit.Event{
		Category:   audit.CategoryDispatch,
		EventType:  audit.EventRequestAssigned,
		ShiftID:    *req.ShiftID,
		ExecutorID: executor,
		Success:    true,
		Details:    map[string]string{"request_id": req.ID},
	})
}

func (s *Service) record(ctx context.Context, ev audit.Event) {
	if err := s.audit.Record(ctx, ev); err != nil {
		s.log.Warn("audit record failed", zap.String("event", ev.EventType), zap.Error(err))
	}
}
