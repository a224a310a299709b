package roster

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"shift-engine/internal/audit"
	"shift-engine/internal/models"
	"shift-engine/internal/store"
)

type GenerateResult struct {
	Templates int             `json:"templates"`
	Created   []*models.Shift `json:"created"`
}

// Generate expands every active auto-create template from the day of from
// onwards. Each template looks ahead AdvanceDays, or the service default
// when unset. Running it again creates nothing new.
func (s *Service) Generate(ctx context.Context, from time.Time) (*GenerateResult, error) {
	templates, err := s.store.ListTemplates(ctx, true)
	if err != nil {
		return nil, err
	}
	res := &GenerateResult{}
	var errs []error
	for _, t := range templates {
		days := t.AdvanceDays
		if days == 0 {
			days = s.lookahead
		}
		created, err := s.expand(ctx, t, from, days)
		res.Created = append(res.Created, created...)
		if err != nil {
			errs = append(errs, fmt.Errorf("template %s: %w", t.ID, err))
			continue
		}
		res.Templates++
	}
	s.log.Info("shifts generated",
		zap.Int("templates", res.Templates),
		zap.Int("created", len(res.Created)))
	if len(res.Created) > 0 {
		s.record(ctx, audit.Event{
			EventType: audit.EventShiftsGenerated,
			Success:   len(errs) == 0,
			Details: map[string]string{
				"templates": strconv.Itoa(res.Templates),
				"created":   strconv.Itoa(len(res.Created)),
			},
		})
	}
	return res, errors.Join(errs...)
}

// GenerateFromTemplate expands one template over days days starting at from,
// whether or not it is marked for auto-creation.
func (s *Service) GenerateFromTemplate(ctx context.Context, id string, from time.Time, days int) ([]*models.Shift, error) {
	t, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Active {
		return nil, fmt.Errorf("%w: template %s is inactive", models.ErrInvalidInput, id)
	}
	return s.expand(ctx, t, from, days)
}

// expand creates the missing slots of t one day at a time. A day is one
// unit of work, so a failure keeps the days before it.
func (s *Service) expand(ctx context.Context, t *models.ShiftTemplate, from time.Time, days int) ([]*models.Shift, error) {
	offset, err := t.StartOffset()
	if err != nil {
		return nil, err
	}
	hour, minute := int(offset/time.Hour), int(offset%time.Hour/time.Minute)
	var created []*models.Shift
	day := s.DayStart(from)
	for i := 0; i < days; i++ {
		d := day.AddDate(0, 0, i)
		if !t.Days.Has(d.Weekday()) {
			continue
		}
		// Wall clock in the service zone, so DST days keep the template time.
		start := time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, s.loc)
		var batch []*models.Shift
		err := s.store.Within(ctx, func(ctx context.Context, r store.Repository) error {
			batch = batch[:0]
			existing, err := r.ListShifts(ctx, store.ShiftFilter{
				TemplateID: t.ID,
				From:       start,
				To:         start.Add(time.Nanosecond),
			})
			if err != nil {
				return err
			}
			for n := len(existing); n < t.MinExecutors; n++ {
				sh := ShiftFromTemplate(t, start)
				if err := r.CreateShift(ctx, sh); err != nil {
					return err
				}
				batch = append(batch, sh)
			}
			return nil
		})
		if err != nil {
			return created, err
		}
		created = append(created, batch...)
	}
	return created, nil
}

// ShiftFromTemplate builds an unassigned planned shift starting at start.
func ShiftFromTemplate(t *models.ShiftTemplate, start time.Time) *models.Shift {
	return &models.Shift{
		PlannedStart:    start,
		PlannedEnd:      start.Add(t.Duration),
		Status:          models.ShiftPlanned,
		TemplateID:      models.StringPtr(t.ID),
		Specializations: append([]string(nil), t.Specializations...),
		CoverageAreas:   append([]string(nil), t.CoverageAreas...),
		Zone:            t.Zone,
		MaxRequests:     t.DefaultMaxRequests,
		Priority:        t.Priority,
	}
}
