package transfer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shift-engine/internal/assignment"
	"shift-engine/internal/audit"
	"shift-engine/internal/metrics"
	"shift-engine/internal/models"
	"shift-engine/internal/notify"
	"shift-engine/internal/store"
)

type Config struct {
	// MaxRetries is the automatic assignment budget given to new transfers.
	MaxRetries int `yaml:"max_retries"`
	// StaleAfter is the age at which a pending or assigned transfer expires.
	StaleAfter time.Duration `yaml:"stale_after"`
	// Retention is how long finished transfers are kept.
	Retention time.Duration `yaml:"retention"`
	// Managers receive escalations.
	Managers []string `yaml:"managers"`
}

func DefaultConfig() Config {
	return Config{
		MaxRetries: models.DefaultTransferRetries,
		StaleAfter: 24 * time.Hour,
		Retention:  30 * 24 * time.Hour,
	}
}

// Service runs the transfer lifecycle. Each operation is one unit of work;
// notifications and audit events go out only after it commits.
type Service struct {
	store    store.Store
	engine   *assignment.Engine
	cfg      Config
	notifier notify.Sink
	audit    audit.Sink
	metrics  metrics.Collector
	log      *zap.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithNotifier(n notify.Sink) Option      { return func(s *Service) { s.notifier = n } }
func WithAudit(a audit.Sink) Option          { return func(s *Service) { s.audit = a } }
func WithMetrics(m metrics.Collector) Option { return func(s *Service) { s.metrics = m } }
func WithLogger(l *zap.Logger) Option        { return func(s *Service) { s.log = l } }
func WithClock(now func() time.Time) Option  { return func(s *Service) { s.now = now } }

func NewService(st store.Store, engine *assignment.Engine, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:    st,
		engine:   engine,
		cfg:      cfg,
		notifier: notify.Nop(),
		audit:    audit.Nop(),
		metrics:  metrics.NewNop(),
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// effects collects what a unit of work wants to announce once committed.
type effects struct {
	moves  [][2]models.TransferStatus
	notes  []note
	events []audit.Event
}

type note struct{ executorID, title, body string }

func (fx *effects) moved(from, to models.TransferStatus) {
	fx.moves = append(fx.moves, [2]models.TransferStatus{from, to})
}

func (fx *effects) notify(executorID, title, body string) {
	if executorID != "" {
		fx.notes = append(fx.notes, note{executorID, title, body})
	}
}

func (fx *effects) record(ev audit.Event) {
	fx.events = append(fx.events, ev)
}

func (s *Service) flush(ctx context.Context, fx *effects) {
	for _, m := range fx.moves {
		s.metrics.RecordTransferTransition(string(m[0]), string(m[1]))
	}
	for _, n := range fx.notes {
		if err := s.notifier.Notify(ctx, n.executorID, n.title, n.body); err != nil {
			s.log.Warn("notification failed", zap.String("executor_id", n.executorID), zap.Error(err))
		}
	}
	for _, ev := range fx.events {
		ev.Category = audit.CategoryTransfer
		if err := s.audit.Record(ctx, ev); err != nil {
			s.log.Warn("audit record failed", zap.String("event", ev.EventType), zap.Error(err))
		}
	}
}

// move applies a transition and remembers it for the metrics.
func (s *Service) move(fx *effects, t *models.ShiftTransfer, to models.TransferStatus, comment string) error {
	from := t.Status
	if err := Transition(t, to, comment, s.now()); err != nil {
		return err
	}
	fx.moved(from, to)
	return nil
}

// run executes fn in one unit of work and flushes its effects on commit.
func (s *Service) run(ctx context.Context, fn func(ctx context.Context, r store.Repository, fx *effects) error) error {
	var fx *effects
	err := s.store.Within(ctx, func(ctx context.Context, r store.Repository) error {
		fx = &effects{}
		return fn(ctx, r, fx)
	})
	if err != nil {
		return err
	}
	s.flush(ctx, fx)
	return nil
}

type CreateRequest struct {
	ShiftID        string                `json:"shift_id"`
	FromExecutorID string                `json:"from_executor_id"`
	ToExecutorID   string                `json:"to_executor_id,omitempty"`
	Reason         models.TransferReason `json:"reason"`
	Urgency        models.Urgency        `json:"urgency_level"`
	Comment        string                `json:"comment"`
}

// CreateTransfer opens a hand-off request for a planned shift. Only the
// shift's executor may ask, and a shift has at most one open transfer. When
// ToExecutorID is set the transfer goes straight to that executor.
func (s *Service) CreateTransfer(ctx context.Context, req CreateRequest) (*models.ShiftTransfer, error) {
	if req.Urgency == "" {
		req.Urgency = models.UrgencyNormal
	}
	var out *models.ShiftTransfer
	err := s.run(ctx, func(ctx context.Context, r store.Repository, fx *effects) error {
		shift, err := r.GetShift(ctx, req.ShiftID)
		if err != nil {
			return err
		}
		if shift.Status != models.ShiftPlanned {
			return fmt.Errorf("%w: shift %s is %s", models.ErrInvalidInput, shift.ID, shift.Status)
		}
		if !shift.OwnedBy(req.FromExecutorID) {
			return fmt.Errorf("shift %s: %w", shift.ID, models.ErrNotOwner)
		}
		open, err := r.ListTransfers(ctx, store.TransferFilter{
			ShiftID:  shift.ID,
			Statuses: openStatuses,
		})
		if err != nil {
			return err
		}
		if len(open) > 0 {
			return fmt.Errorf("%w: shift %s already has open transfer %s", models.ErrInvalidInput, shift.ID, open[0].ID)
		}

		now := s.now()
		t := &models.ShiftTransfer{
			ID:             uuid.NewString(),
			ShiftID:        shift.ID,
			FromExecutorID: req.FromExecutorID,
			Status:         models.TransferPending,
			Reason:         req.Reason,
			Urgency:        req.Urgency,
			CreatedAt:      now,
			UpdatedAt:      now,
			MaxRetries:     s.cfg.MaxRetries,
		}
		AppendComment(t, req.Comment, now)
		if req.ToExecutorID != "" {
			if err := s.assignTo(ctx, r, fx, t, shift, req.ToExecutorID, "assigned on request", false); err != nil {
				return err
			}
		}
		if err := r.CreateTransfer(ctx, t); err != nil {
			return err
		}
		fx.record(audit.Event{
			EventType:  audit.EventTransferCreated,
			ShiftID:    shift.ID,
			ExecutorID: t.FromExecutorID,
			TransferID: t.ID,
			Success:    true,
			Details:    map[string]string{"reason": string(t.Reason), "urgency": string(t.Urgency)},
		})
		if t.Urgency == models.UrgencyHigh || t.Urgency == models.UrgencyCritical {
			for _, m := range s.cfg.Managers {
				fx.notify(m, "Urgent shift transfer",
					fmt.Sprintf("Executor %s asked to hand off shift %s (%s).", t.FromExecutorID, shift.ID, t.Reason))
			}
		}
		out = t
		return nil
	})
	return out, err
}

var openStatuses = []models.TransferStatus{
	models.TransferPending, models.TransferAssigned, models.TransferAccepted, models.TransferRejected,
}

// assignTo checks the candidate against the shift and moves t to assigned.
// t is not persisted here.
func (s *Service) assignTo(ctx context.Context, r store.Repository, fx *effects, t *models.ShiftTransfer, shift *models.Shift, executorID, comment string, auto bool) error {
	if t.Status != models.TransferPending {
		return fmt.Errorf("transfer %s is %s: %w", t.ID, t.Status, models.ErrInvalidTransition)
	}
	if !t.CanBeAssignedTo(executorID) {
		return fmt.Errorf("%w: transfer cannot go back to %s", models.ErrInvalidInput, executorID)
	}
	if err := r.LockExecutor(ctx, executorID); err != nil {
		return err
	}
	conflicts, err := s.engine.Detector().Detect(ctx, r, shift, executorID)
	if err != nil {
		return err
	}
	if models.HasBlocking(conflicts) {
		return fmt.Errorf("executor %s for shift %s: %w", executorID, shift.ID, models.ErrConflictBlocked)
	}
	if err := s.move(fx, t, models.TransferAssigned, comment); err != nil {
		return err
	}
	t.ToExecutorID = models.StringPtr(executorID)
	t.AutoAssigned = auto
	fx.notify(executorID, "Shift transfer offered",
		fmt.Sprintf("You are asked to take over shift %s starting %s.", shift.ID, shift.PlannedStart.Format(time.RFC3339)))
	fx.record(audit.Event{
		EventType:  audit.EventTransferAssigned,
		ShiftID:    shift.ID,
		ExecutorID: executorID,
		TransferID: t.ID,
		Success:    true,
		Details:    map[string]string{"auto": strconv.FormatBool(auto)},
	})
	return nil
}

// AssignTransfer offers a pending transfer to a chosen executor.
func (s *Service) AssignTransfer(ctx context.Context, id, executorID, comment string) (*models.ShiftTransfer, error) {
	var out *models.ShiftTransfer
	err := s.run(ctx, func(ctx context.Context, r store.Repository, fx *effects) error {
		t, err := r.GetTransfer(ctx, id)
		if err != nil {
			return err
		}
		shift, err := r.GetShift(ctx, t.ShiftID)
		if err != nil {
			return err
		}
		if err := s.assignTo(ctx, r, fx, t, shift, executorID, comment, false); err != nil {
			return err
		}
		out = t
		return r.UpdateTransfer(ctx, t)
	})
	return out, err
}

// AutoAssignTransfer offers a pending transfer to the best-scoring executor
// that clears conflict detection. A failed attempt consumes one retry and is
// committed; once the budget is spent the transfer waits for a manager.
func (s *Service) AutoAssignTransfer(ctx context.Context, id string) (*models.ShiftTransfer, error) {
	var out *models.ShiftTransfer
	var failure error
	err := s.run(ctx, func(ctx context.Context, r store.Repository, fx *effects) error {
		failure = nil
		t, err := r.GetTransfer(ctx, id)
		if err != nil {
			return err
		}
		if t.Status != models.TransferPending {
			return fmt.Errorf("transfer %s is %s: %w", t.ID, t.Status, models.ErrInvalidTransition)
		}
		if t.NeedsManual() {
			return fmt.Errorf("transfer %s: %w", t.ID, models.ErrRetryBudgetExhausted)
		}
		shift, err := r.GetShift(ctx, t.ShiftID)
		if err != nil {
			return err
		}
		out = t

		ranked, err := s.engine.Candidates(ctx, r, shift, t.FromExecutorID)
		if err != nil {
			return err
		}
		failure = models.ErrNoEligibleCandidate
		for _, sc := range ranked {
			err := s.assignTo(ctx, r, fx, t, shift, sc.ExecutorID,
				fmt.Sprintf("auto-assigned to %s (score %.2f)", sc.ExecutorID, sc.Total), true)
			if errors.Is(err, models.ErrConflictBlocked) {
				failure = models.ErrConflictBlocked
				continue
			}
			if err != nil {
				return err
			}
			failure = nil
			return r.UpdateTransfer(ctx, t)
		}

		t.RetryCount++
		AppendComment(t, fmt.Sprintf("automatic assignment attempt %d failed: %v", t.RetryCount, failure), s.now())
		if t.NeedsManual() {
			s.escalate(fx, t, "automatic assignment exhausted its retries")
		}
		return r.UpdateTransfer(ctx, t)
	})
	if err != nil {
		return out, err
	}
	if failure != nil {
		if out.NeedsManual() {
			return out, fmt.Errorf("transfer %s: %w after %w", out.ID, models.ErrRetryBudgetExhausted, failure)
		}
		return out, fmt.Errorf("transfer %s: %w", out.ID, failure)
	}
	return out, nil
}

func (s *Service) escalate(fx *effects, t *models.ShiftTransfer, why string) {
	for _, m := range s.cfg.Managers {
		fx.notify(m, "Shift transfer needs attention",
			fmt.Sprintf("Transfer %s for shift %s: %s.", t.ID, t.ShiftID, why))
	}
	fx.record(audit.Event{
		EventType:     audit.EventTransferEscalated,
		ShiftID:       t.ShiftID,
		ExecutorID:    t.FromExecutorID,
		TransferID:    t.ID,
		Success:       false,
		FailureReason: why,
	})
}

// RespondToTransfer records the offered executor's answer. A rejection
// reopens the transfer to pending in the same unit of work; rejecting an
// automatic offer consumes one retry.
func (s *Service) RespondToTransfer(ctx context.Context, id, executorID string, accept bool, comment string) (*models.ShiftTransfer, error) {
	var out *models.ShiftTransfer
	err := s.run(ctx, func(ctx context.Context, r store.Repository, fx *effects) error {
		t, err := r.GetTransfer(ctx, id)
		if err != nil {
			return err
		}
		if t.Status != models.TransferAssigned {
			return fmt.Errorf("transfer %s is %s: %w", t.ID, t.Status, models.ErrInvalidTransition)
		}
		if t.ToExecutorID == nil || *t.ToExecutorID != executorID {
			return fmt.Errorf("transfer %s is not offered to %s: %w", t.ID, executorID, models.ErrNotOwner)
		}

		if accept {
			if err := s.move(fx, t, models.TransferAccepted, comment); err != nil {
				return err
			}
			fx.notify(t.FromExecutorID, "Shift transfer accepted",
				fmt.Sprintf("Executor %s accepted shift %s.", executorID, t.ShiftID))
		} else {
			if err := s.move(fx, t, models.TransferRejected, comment); err != nil {
				return err
			}
			if t.AutoAssigned {
				t.RetryCount++
			}
			if err := s.move(fx, t, models.TransferPending, fmt.Sprintf("reopened after %s declined", executorID)); err != nil {
				return err
			}
			t.ToExecutorID = nil
			t.AutoAssigned = false
			fx.notify(t.FromExecutorID, "Shift transfer declined",
				fmt.Sprintf("Executor %s declined shift %s; looking for someone else.", executorID, t.ShiftID))
			if t.NeedsManual() {
				s.escalate(fx, t, "every automatic offer was declined")
			}
		}
		fx.record(audit.Event{
			EventType:  audit.EventTransferResponded,
			ShiftID:    t.ShiftID,
			ExecutorID: executorID,
			TransferID: t.ID,
			Success:    accept,
		})
		out = t
		return r.UpdateTransfer(ctx, t)
	})
	return out, err
}

// CompleteTransfer hands the shift to the accepting executor. Conflict
// detection runs again because the new owner's schedule may have changed
// since they accepted.
func (s *Service) CompleteTransfer(ctx context.Context, id, comment string) (*models.ShiftTransfer, error) {
	var out *models.ShiftTransfer
	err := s.run(ctx, func(ctx context.Context, r store.Repository, fx *effects) error {
		t, err := r.GetTransfer(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(t.Status, models.TransferCompleted) {
			return fmt.Errorf("transfer %s: %s -> %s: %w", t.ID, t.Status, models.TransferCompleted, models.ErrInvalidTransition)
		}
		shift, err := r.GetShift(ctx, t.ShiftID)
		if err != nil {
			return err
		}
		if shift.Status != models.ShiftPlanned || !shift.OwnedBy(t.FromExecutorID) {
			return fmt.Errorf("%w: shift %s changed since the transfer was requested", models.ErrInvalidInput, shift.ID)
		}
		to := *t.ToExecutorID
		if err := r.LockExecutor(ctx, to); err != nil {
			return err
		}
		conflicts, err := s.engine.Detector().Detect(ctx, r, shift, to)
		if err != nil {
			return err
		}
		if models.HasBlocking(conflicts) {
			return fmt.Errorf("executor %s for shift %s: %w", to, shift.ID, models.ErrConflictBlocked)
		}

		shift.ExecutorID = models.StringPtr(to)
		if err := r.UpdateShift(ctx, shift); err != nil {
			return err
		}
		if err := r.InsertAssignmentRecord(ctx, &models.AssignmentRecord{
			ShiftID:       shift.ID,
			ExecutorID:    to,
			PrevExecutor:  models.StringPtr(t.FromExecutorID),
			Reasons:       []string{"transfer " + t.ID + " (" + string(t.Reason) + ")"},
			ConflictCount: len(conflicts),
			Strategy:      models.StrategyTransfer,
			AssignedAt:    s.now(),
		}); err != nil {
			return err
		}
		if err := s.move(fx, t, models.TransferCompleted, comment); err != nil {
			return err
		}
		fx.notify(to, "Shift transferred to you",
			fmt.Sprintf("Shift %s starting %s is now yours.", shift.ID, shift.PlannedStart.Format(time.RFC3339)))
		fx.notify(t.FromExecutorID, "Shift transfer completed",
			fmt.Sprintf("Shift %s has been handed to %s.", shift.ID, to))
		fx.record(audit.Event{
			EventType:  audit.EventTransferCompleted,
			ShiftID:    shift.ID,
			ExecutorID: to,
			TransferID: t.ID,
			Success:    true,
			Details:    map[string]string{"from": t.FromExecutorID},
		})
		out = t
		return r.UpdateTransfer(ctx, t)
	})
	return out, err
}

// CancelTransfer withdraws a transfer that has not finished.
func (s *Service) CancelTransfer(ctx context.Context, id, comment string) (*models.ShiftTransfer, error) {
	var out *models.ShiftTransfer
	err := s.run(ctx, func(ctx context.Context, r store.Repository, fx *effects) error {
		t, err := r.GetTransfer(ctx, id)
		if err != nil {
			return err
		}
		if err := s.cancel(fx, t, comment); err != nil {
			return err
		}
		out = t
		return r.UpdateTransfer(ctx, t)
	})
	return out, err
}

func (s *Service) cancel(fx *effects, t *models.ShiftTransfer, comment string) error {
	prevTo := t.ToExecutorID
	if err := s.move(fx, t, models.TransferCancelled, comment); err != nil {
		return err
	}
	fx.notify(t.FromExecutorID, "Shift transfer cancelled",
		fmt.Sprintf("Transfer of shift %s was cancelled; the shift stays with you.", t.ShiftID))
	if prevTo != nil {
		fx.notify(*prevTo, "Shift transfer withdrawn",
			fmt.Sprintf("The offer for shift %s was withdrawn.", t.ShiftID))
	}
	fx.record(audit.Event{
		EventType:  audit.EventTransferCancelled,
		ShiftID:    t.ShiftID,
		ExecutorID: t.FromExecutorID,
		TransferID: t.ID,
		Success:    true,
		Details:    map[string]string{"comment": comment},
	})
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.ShiftTransfer, error) {
	return s.store.GetTransfer(ctx, id)
}

func (s *Service) List(ctx context.Context, f store.TransferFilter) ([]*models.ShiftTransfer, error) {
	return s.store.ListTransfers(ctx, f)
}
