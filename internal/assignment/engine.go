package assignment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"shift-engine/internal/audit"
	"shift-engine/internal/metrics"
	"shift-engine/internal/models"
	"shift-engine/internal/notify"
	"shift-engine/internal/store"
)

// Engine assigns executors to shifts. Every shift is committed in its own
// unit of work: scoring reads, conflict detection and the write share one
// transaction and the candidate's schedule is locked before it is checked.
type Engine struct {
	store    store.Store
	scorer   *Scorer
	detector *Detector
	notifier notify.Sink
	audit    audit.Sink
	metrics  metrics.Collector
	log      *zap.Logger
	now      func() time.Time
}

type Option func(*Engine)

func WithNotifier(n notify.Sink) Option      { return func(e *Engine) { e.notifier = n } }
func WithAudit(a audit.Sink) Option          { return func(e *Engine) { e.audit = a } }
func WithMetrics(m metrics.Collector) Option { return func(e *Engine) { e.metrics = m } }
func WithLogger(l *zap.Logger) Option        { return func(e *Engine) { e.log = l } }
func WithClock(now func() time.Time) Option  { return func(e *Engine) { e.now = now } }

// WithScorer replaces the default scorer, e.g. to plug in preference or
// geography sources.
func WithScorer(s *Scorer) Option { return func(e *Engine) { e.scorer = s } }

func NewEngine(st store.Store, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		scorer:   NewScorer(cfg),
		detector: NewDetector(cfg),
		notifier: notify.Nop(),
		audit:    audit.Nop(),
		metrics:  metrics.NewNop(),
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Config() Config      { return e.scorer.Config() }
func (e *Engine) Detector() *Detector { return e.detector }

// ShiftAssignment is one committed assignment.
type ShiftAssignment struct {
	ShiftID      string               `json:"shift_id"`
	ExecutorID   string               `json:"executor_id"`
	PrevExecutor string               `json:"prev_executor,omitempty"`
	Score        models.ExecutorScore `json:"score"`
}

// ShiftFailure is a shift the batch could not assign.
type ShiftFailure struct {
	ShiftID string `json:"shift_id"`
	Reason  string `json:"reason"`
	err     error
}

func (f ShiftFailure) Err() error { return f.err }

// BatchResult reports a partially successful batch. Conflicts holds the
// blocking conflicts that rejected candidates, Warnings the non-blocking
// conflicts recorded alongside committed assignments.
type BatchResult struct {
	Assigned  []ShiftAssignment           `json:"assigned"`
	Failed    []ShiftFailure              `json:"failed"`
	Skipped   int                         `json:"skipped"`
	Conflicts []models.AssignmentConflict `json:"conflicts"`
	Warnings  []models.AssignmentConflict `json:"warnings"`
}

func (r *BatchResult) Summary() string {
	return fmt.Sprintf("assigned=%d failed=%d skipped=%d conflicts=%d warnings=%d",
		len(r.Assigned), len(r.Failed), r.Skipped, len(r.Conflicts), len(r.Warnings))
}

// outcome is what one per-shift unit of work produced.
type outcome struct {
	assigned  *ShiftAssignment
	skipped   bool
	blocked   []models.AssignmentConflict
	warnings  []models.AssignmentConflict
	conflicts int
}

// AssignBatch assigns every planned shift lacking an executor, or every
// planned shift when force is set. It makes at most one assignment per shift
// and never retries within the call. The returned error joins store failures;
// the result is still valid for the shifts that were processed.
func (e *Engine) AssignBatch(ctx context.Context, shifts []*models.Shift, force bool) (*BatchResult, error) {
	start := e.now()
	res := &BatchResult{}
	var errs []error

	for _, s := range shifts {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if s.Status != models.ShiftPlanned || (s.IsAssigned() && !force) {
			res.Skipped++
			e.metrics.RecordAssignment(metrics.OutcomeSkipped)
			continue
		}

		out, err := e.assignShift(ctx, s.ID, force, nil, models.StrategyAutoAssign)
		switch {
		case err == nil && out.skipped:
			res.Skipped++
			e.metrics.RecordAssignment(metrics.OutcomeSkipped)
		case err == nil:
			res.Assigned = append(res.Assigned, *out.assigned)
			res.Warnings = append(res.Warnings, out.warnings...)
			e.metrics.RecordAssignment(metrics.OutcomeAssigned)
		case errors.Is(err, models.ErrConflictBlocked), errors.Is(err, models.ErrNoEligibleCandidate), errors.Is(err, models.ErrNotFound):
			res.Failed = append(res.Failed, ShiftFailure{ShiftID: s.ID, Reason: err.Error(), err: err})
			res.Conflicts = append(res.Conflicts, out.blocked...)
			e.metrics.RecordAssignment(metrics.OutcomeBlocked)
		default:
			res.Failed = append(res.Failed, ShiftFailure{ShiftID: s.ID, Reason: err.Error(), err: err})
			e.metrics.RecordAssignment(metrics.OutcomeFailed)
			errs = append(errs, fmt.Errorf("shift %s: %w", s.ID, err))
		}
	}

	elapsed := e.now().Sub(start)
	e.metrics.RecordBatchDuration(elapsed.Seconds())
	e.log.Info("batch assignment completed",
		zap.Int("shifts", len(shifts)),
		zap.Int("assigned", len(res.Assigned)),
		zap.Int("failed", len(res.Failed)),
		zap.Int("skipped", res.Skipped),
		zap.Int("conflicts", len(res.Conflicts)),
		zap.Duration("duration", elapsed))
	e.record(ctx, audit.Event{
		Category:  audit.CategoryAssignment,
		EventType: audit.EventBatchAssignmentCompleted,
		Success:   len(errs) == 0,
		Details: map[string]string{
			"total":     strconv.Itoa(len(shifts)),
			"assigned":  strconv.Itoa(len(res.Assigned)),
			"failed":    strconv.Itoa(len(res.Failed)),
			"skipped":   strconv.Itoa(res.Skipped),
			"conflicts": strconv.Itoa(len(res.Conflicts)),
			"force":     strconv.FormatBool(force),
		},
	})
	return res, errors.Join(errs...)
}

// AssignUnassigned runs AssignBatch over planned shifts without an executor
// starting in [from, to).
func (e *Engine) AssignUnassigned(ctx context.Context, from, to time.Time) (*BatchResult, error) {
	shifts, err := e.store.ListShifts(ctx, store.ShiftFilter{
		From: from, To: to,
		Statuses:   []models.ShiftStatus{models.ShiftPlanned},
		Unassigned: true,
	})
	if err != nil {
		return nil, err
	}
	return e.AssignBatch(ctx, shifts, false)
}

// assignShift is the per-shift unit of work.
func (e *Engine) assignShift(ctx context.Context, shiftID string, force bool, exclude []string, strategy string) (outcome, error) {
	var out outcome
	err := e.store.Within(ctx, func(ctx context.Context, r store.Repository) error {
		out = outcome{}
		s, err := r.GetShift(ctx, shiftID)
		if err != nil {
			return err
		}
		if s.Status != models.ShiftPlanned || (s.IsAssigned() && !force) {
			out.skipped = true
			return nil
		}

		executors, err := r.ListExecutors(ctx, store.ExecutorFilter{EligibleOnly: true})
		if err != nil {
			return err
		}
		ranked, err := e.rank(ctx, r, s, executors, exclude)
		if err != nil {
			return err
		}
		if len(ranked) == 0 {
			return fmt.Errorf("shift %s: %w", s.ID, models.ErrNoEligibleCandidate)
		}

		for _, sc := range ranked {
			conflicts, warnings, err := e.checkCandidate(ctx, r, s, sc.ExecutorID)
			if err != nil {
				return err
			}
			if models.HasBlocking(conflicts) {
				out.blocked = append(out.blocked, conflicts...)
				continue
			}
			if s.OwnedBy(sc.ExecutorID) {
				// Force mode re-picked an owner who is still clear.
				out.skipped = true
				return nil
			}
			a, err := e.commit(ctx, r, s, sc, len(conflicts)+len(warnings), strategy)
			if err != nil {
				return err
			}
			out.assigned = a
			out.warnings = append(conflicts, warnings...)
			out.conflicts = len(out.warnings)
			return nil
		}
		return fmt.Errorf("shift %s: %w", s.ID, models.ErrConflictBlocked)
	})
	if err != nil {
		return out, err
	}
	if out.assigned != nil {
		e.announce(ctx, out.assigned, strategy, out.conflicts)
	}
	return out, nil
}

// checkCandidate locks the executor's schedule and runs conflict detection
// against it. Warnings are only gathered for a candidate that is not blocked.
func (e *Engine) checkCandidate(ctx context.Context, r store.Repository, s *models.Shift, executorID string) (conflicts, warnings []models.AssignmentConflict, err error) {
	if err := r.LockExecutor(ctx, executorID); err != nil {
		return nil, nil, err
	}
	conflicts, err = e.detector.Detect(ctx, r, s, executorID)
	if err != nil || models.HasBlocking(conflicts) {
		return conflicts, nil, err
	}
	warnings, err = e.detector.Warnings(ctx, r, s, executorID)
	return conflicts, warnings, err
}

// commit writes the assignment and its audit record. s is modified in place.
func (e *Engine) commit(ctx context.Context, r store.Repository, s *models.Shift, sc models.ExecutorScore, conflicts int, strategy string) (*ShiftAssignment, error) {
	prevID := s.ExecutorID
	prev := ""
	if prevID != nil {
		prev = *prevID
	}
	s.ExecutorID = models.StringPtr(sc.ExecutorID)
	if err := r.UpdateShift(ctx, s); err != nil {
		return nil, err
	}
	rec := &models.AssignmentRecord{
		ShiftID:       s.ID,
		ExecutorID:    sc.ExecutorID,
		PrevExecutor:  prevID,
		Score:         sc.Total,
		Reasons:       sc.Reasons,
		ConflictCount: conflicts,
		Strategy:      strategy,
		AssignedAt:    e.now(),
	}
	if err := r.InsertAssignmentRecord(ctx, rec); err != nil {
		return nil, err
	}
	return &ShiftAssignment{ShiftID: s.ID, ExecutorID: sc.ExecutorID, PrevExecutor: prev, Score: sc}, nil
}

// announce runs the side effects of a committed assignment. Failures are
// logged only.
func (e *Engine) announce(ctx context.Context, a *ShiftAssignment, strategy string, conflicts int) {
	e.log.Info("shift assigned",
		zap.String("shift_id", a.ShiftID),
		zap.String("executor_id", a.ExecutorID),
		zap.String("prev_executor", a.PrevExecutor),
		zap.Float64("score", a.Score.Total),
		zap.String("strategy", strategy))

	e.notify(ctx, a.ExecutorID, "New shift assigned",
		fmt.Sprintf("You have been assigned to shift %s (score %.2f).", a.ShiftID, a.Score.Total))
	if a.PrevExecutor != "" {
		e.notify(ctx, a.PrevExecutor, "Shift reassigned",
			fmt.Sprintf("Shift %s has been reassigned to another executor.", a.ShiftID))
	}

	eventType := audit.EventShiftAutoAssigned
	switch strategy {
	case models.StrategyAbsence:
		eventType = audit.EventExecutorAbsenceReassignment
	case models.StrategyRebalance:
		eventType = audit.EventWorkloadRebalanced
	}
	e.record(ctx, audit.Event{
		Category:   audit.CategoryAssignment,
		EventType:  eventType,
		ShiftID:    a.ShiftID,
		ExecutorID: a.ExecutorID,
		Success:    true,
		Details: map[string]string{
			"score":          strconv.FormatFloat(a.Score.Total, 'f', 4, 64),
			"reasons":        strings.Join(a.Score.Reasons, "; "),
			"conflict_count": strconv.Itoa(conflicts),
			"prev_executor":  a.PrevExecutor,
			"strategy":       strategy,
		},
	})
}

func (e *Engine) notify(ctx context.Context, executorID, title, body string) {
	if err := e.notifier.Notify(ctx, executorID, title, body); err != nil {
		e.log.Warn("notification failed", zap.String("executor_id", executorID), zap.Error(err))
	}
}

func (e *Engine) record(ctx context.Context, ev audit.Event) {
	if err := e.audit.Record(ctx, ev); err != nil {
		e.log.Warn("audit record failed", zap.String("event", ev.EventType), zap.Error(err))
	}
}

// Candidates scores every eligible executor for shift inside r, excluding the
// given ids, and returns them ranked best first.
func (e *Engine) Candidates(ctx context.Context, r store.Repository, shift *models.Shift, exclude ...string) ([]models.ExecutorScore, error) {
	executors, err := r.ListExecutors(ctx, store.ExecutorFilter{EligibleOnly: true})
	if err != nil {
		return nil, err
	}
	return e.rank(ctx, r, shift, executors, exclude)
}

// rank loads each candidate's load context in bulk and scores them. Scoring
// is pure, so it fans out across workers; the reads stay on r.
func (e *Engine) rank(ctx context.Context, r store.Repository, shift *models.Shift, executors []*models.Executor, exclude []string) ([]models.ExecutorScore, error) {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	var candidates []*models.Executor
	var ids []string
	for _, ex := range executors {
		if _, ok := skip[ex.ID]; ok || !ex.Eligible() {
			continue
		}
		candidates = append(candidates, ex)
		ids = append(ids, ex.ID)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	cfg := e.scorer.Config()
	window, err := r.ListShifts(ctx, store.ShiftFilter{
		ExecutorIDs: ids,
		From:        shift.PlannedStart.Add(-cfg.LoadWindow),
		To:          shift.PlannedEnd.Add(cfg.LoadWindow),
	})
	if err != nil {
		return nil, err
	}
	active, err := r.CountActiveRequests(ctx, ids)
	if err != nil {
		return nil, err
	}
	byExecutor := make(map[string][]*models.Shift, len(ids))
	for _, s := range window {
		if s.ExecutorID != nil {
			byExecutor[*s.ExecutorID] = append(byExecutor[*s.ExecutorID], s)
		}
	}

	scores := make([]models.ExecutorScore, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, cfg.ScoringWorkers))
	for i, ex := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scores[i] = e.scorer.Score(shift, ex, LoadContext{
				Shifts:         byExecutor[ex.ID],
				ActiveRequests: active[ex.ID],
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	Rank(scores)
	return scores, nil
}
