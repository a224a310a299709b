// Package roster owns shift templates, their expansion into concrete shifts,
// and the shift lifecycle.
package roster

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"shift-engine/internal/audit"
	"shift-engine/internal/models"
	"shift-engine/internal/notify"
	"shift-engine/internal/store"
)

type Service struct {
	store store.Store
	loc   *time.Location
	// lookahead is the default generation window in days.
	lookahead int
	audit     audit.Sink
	notifier  notify.Sink
	log       *zap.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithAudit(a audit.Sink) Option         { return func(s *Service) { s.audit = a } }
func WithNotifier(n notify.Sink) Option     { return func(s *Service) { s.notifier = n } }
func WithLogger(l *zap.Logger) Option       { return func(s *Service) { s.log = l } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService expands templates in loc, looking lookaheadDays ahead unless a
// template sets its own AdvanceDays.
func NewService(st store.Store, loc *time.Location, lookaheadDays int, opts ...Option) *Service {
	if loc == nil {
		loc = time.UTC
	}
	s := &Service{
		store:     st,
		loc:       loc,
		lookahead: lookaheadDays,
		audit:     audit.Nop(),
		notifier:  notify.Nop(),
		log:       zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) record(ctx context.Context, ev audit.Event) {
	ev.Category = audit.CategoryRoster
	if err := s.audit.Record(ctx, ev); err != nil {
		s.log.Warn("audit record failed", zap.String("event", ev.EventType), zap.Error(err))
	}
}

func (s *Service) CreateTemplate(ctx context.Context, t *models.ShiftTemplate) error {
	return s.store.CreateTemplate(ctx, t)
}

func (s *Service) UpdateTemplate(ctx context.Context, t *models.ShiftTemplate) error {
	return s.store.UpdateTemplate(ctx, t)
}

func (s *Service) GetTemplate(ctx context.Context, id string) (*models.ShiftTemplate, error) {
	return s.store.GetTemplate(ctx, id)
}

func (s *Service) ListTemplates(ctx context.Context) ([]*models.ShiftTemplate, error) {
	return s.store.ListTemplates(ctx, false)
}

// DeleteTemplate removes a template. Without force it fails with
// ErrTemplateInUse while shifts still reference it. With force, future
// planned shifts of the template are cancelled and every other dependent
// shift is detached first.
func (s *Service) DeleteTemplate(ctx context.Context, id string, force bool) error {
	var cancelled, detached int
	err := s.store.Within(ctx, func(ctx context.Context, r store.Repository) error {
		if force {
			deps, err := r.ListShifts(ctx, store.ShiftFilter{TemplateID: id})
			if err != nil {
				return err
			}
			now := s.now()
			for _, sh := range deps {
				if sh.Status == models.ShiftPlanned && sh.PlannedStart.After(now) {
					sh.Status = models.ShiftCancelled
					cancelled++
				} else {
					detached++
				}
				sh.TemplateID = nil
				if err := r.UpdateShift(ctx, sh); err != nil {
					return err
				}
			}
		}
		return r.DeleteTemplate(ctx, id)
	})
	if err != nil {
		return err
	}
	s.log.Info("template deleted",
		zap.String("template_id", id),
		zap.Bool("force", force),
		zap.Int("cancelled", cancelled),
		zap.Int("detached", detached))
	s.record(ctx, audit.Event{
		EventType: audit.EventTemplateDeleted,
		Success:   true,
		Details: map[string]string{
			"template_id": id,
			"force":       strconv.FormatBool(force),
			"cancelled":   strconv.Itoa(cancelled),
			"detached":    strconv.Itoa(detached),
		},
	})
	return nil
}

// CreateShift adds a one-off shift.
func (s *Service) CreateShift(ctx context.Context, sh *models.Shift) error {
	if sh.Status == "" {
		sh.Status = models.ShiftPlanned
	}
	return s.store.CreateShift(ctx, sh)
}

func (s *Service) GetShift(ctx context.Context, id string) (*models.Shift, error) {
	return s.store.GetShift(ctx, id)
}

func (s *Service) ListShifts(ctx context.Context, f store.ShiftFilter) ([]*models.Shift, error) {
	return s.store.ListShifts(ctx, f)
}

// DayStart returns midnight of t's date in the roster timezone.
func (s *Service) DayStart(t time.Time) time.Time {
	y, m, d := t.In(s.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.loc)
}

func (s *Service) Location() *time.Location { return s.loc }

var errNotPlanned = fmt.Errorf("%w: shift is not planned", models.ErrInvalidTransition)
