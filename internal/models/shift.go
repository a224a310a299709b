package models

import (
	"fmt"
	"slices"
	"time"
)

type ShiftStatus string

const (
	ShiftPlanned   ShiftStatus = "planned"
	ShiftActive    ShiftStatus = "active"
	ShiftCompleted ShiftStatus = "completed"
	ShiftCancelled ShiftStatus = "cancelled"
)

// Valid reports whether s is one of the known shift statuses.
func (s ShiftStatus) Valid() bool {
	switch s {
	case ShiftPlanned, ShiftActive, ShiftCompleted, ShiftCancelled:
		return true
	}
	return false
}

// Occupying reports whether a shift in this status blocks the executor's time.
func (s ShiftStatus) Occupying() bool {
	return s == ShiftPlanned || s == ShiftActive
}

type Shift struct {
	ID                    string      `json:"id"`
	PlannedStart          time.Time   `json:"planned_start_time"`
	PlannedEnd            time.Time   `json:"planned_end_time"`
	ActualStart           *time.Time  `json:"actual_start_time,omitempty"`
	ActualEnd             *time.Time  `json:"actual_end_time,omitempty"`
	Status                ShiftStatus `json:"status"`
	ExecutorID            *string     `json:"executor_id,omitempty"`
	TemplateID            *string     `json:"template_id,omitempty"`
	Specializations       []string    `json:"specializations"`
	CoverageAreas         []string    `json:"coverage_areas"`
	Zone                  string      `json:"geographic_zone"`
	MaxRequests           int         `json:"max_requests"`
	CurrentRequestCount   int         `json:"current_request_count"`
	Priority              int         `json:"priority_level"`
	CompletedRequests     int         `json:"completed_requests"`
	AverageCompletionTime float64     `json:"average_completion_time"`
	AverageResponseTime   float64     `json:"average_response_time"`
	EfficiencyScore       float64     `json:"efficiency_score"`
	QualityRating         float64     `json:"quality_rating"`
	ReminderSentAt        *time.Time  `json:"reminder_sent_at,omitempty"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

// Validate checks the data-layer invariants of a shift.
func (s *Shift) Validate() error {
	if !s.PlannedEnd.After(s.PlannedStart) {
		return fmt.Errorf("%w: planned end must be after planned start", ErrInvalidInput)
	}
	if !s.Status.Valid() {
		return fmt.Errorf("%w: unknown shift status %q", ErrInvalidInput, s.Status)
	}
	if s.MaxRequests < 0 || s.CurrentRequestCount < 0 {
		return fmt.Errorf("%w: request counters must not be negative", ErrInvalidInput)
	}
	if s.CurrentRequestCount > s.MaxRequests {
		return fmt.Errorf("%w: current_request_count %d exceeds max_requests %d",
			ErrInvalidInput, s.CurrentRequestCount, s.MaxRequests)
	}
	if s.Priority < 1 || s.Priority > 5 {
		return fmt.Errorf("%w: priority level %d outside 1-5", ErrInvalidInput, s.Priority)
	}
	return nil
}

func (s *Shift) Duration() time.Duration {
	return s.PlannedEnd.Sub(s.PlannedStart)
}

// Overlaps reports whether the planned windows of s and o intersect.
// Touching windows (one ends exactly when the other starts) do not overlap.
func (s *Shift) Overlaps(o *Shift) bool {
	return s.PlannedStart.Before(o.PlannedEnd) && o.PlannedStart.Before(s.PlannedEnd)
}

// Gap returns the rest time between two non-overlapping shifts.
func (s *Shift) Gap(o *Shift) time.Duration {
	if !o.PlannedStart.Before(s.PlannedEnd) {
		return o.PlannedStart.Sub(s.PlannedEnd)
	}
	return s.PlannedStart.Sub(o.PlannedEnd)
}

func (s *Shift) IsAssigned() bool {
	return s.ExecutorID != nil && *s.ExecutorID != ""
}

func (s *Shift) OwnedBy(executorID string) bool {
	return s.IsAssigned() && *s.ExecutorID == executorID
}

func (s *Shift) HasCapacity() bool {
	return s.CurrentRequestCount < s.MaxRequests
}

func (s *Shift) CoversArea(area string) bool {
	if area == "" || len(s.CoverageAreas) == 0 {
		return true
	}
	return slices.Contains(s.CoverageAreas, area)
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (s *Shift) Clone() *Shift {
	c := *s
	c.ActualStart = cloneTime(s.ActualStart)
	c.ActualEnd = cloneTime(s.ActualEnd)
	c.ReminderSentAt = cloneTime(s.ReminderSentAt)
	c.ExecutorID = cloneString(s.ExecutorID)
	c.TemplateID = cloneString(s.TemplateID)
	c.Specializations = slices.Clone(s.Specializations)
	c.CoverageAreas = slices.Clone(s.CoverageAreas)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr is a small helper for optional id fields.
func StringPtr(s string) *string {
	return &s
}
