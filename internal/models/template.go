package models

import (
	"fmt"
	"slices"
	"time"
)

// Weekdays is a days-of-week bitset. Bit 0 is Monday, bit 6 is Sunday.
type Weekdays uint8

const AllWeekdays Weekdays = 0x7f

func WeekdaysOf(days ...time.Weekday) Weekdays {
	var w Weekdays
	for _, d := range days {
		w |= 1 << weekdayBit(d)
	}
	return w
}

func (w Weekdays) Has(d time.Weekday) bool {
	return w&(1<<weekdayBit(d)) != 0
}

func weekdayBit(d time.Weekday) uint {
	return uint((int(d) + 6) % 7)
}

type ShiftTemplate struct {
	ID                 string        `json:"id"`
	Name               string        `json:"name"`
	StartTime          string        `json:"start_time"` // HH:MM, local to the scheduler timezone
	Duration           time.Duration `json:"duration"`
	Specializations    []string      `json:"specializations"`
	CoverageAreas      []string      `json:"coverage_areas"`
	Zone               string        `json:"geographic_zone"`
	MinExecutors       int           `json:"min_executors"`
	MaxExecutors       int           `json:"max_executors"`
	DefaultMaxRequests int           `json:"default_max_requests"`
	Priority           int           `json:"priority_level"`
	Days               Weekdays      `json:"days_of_week"`
	AutoCreate         bool          `json:"auto_create"`
	AdvanceDays        int           `json:"advance_days"`
	Active             bool          `json:"is_active"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// StartOffset parses StartTime into an offset from midnight.
func (t *ShiftTemplate) StartOffset() (time.Duration, error) {
	var h, m int
	if _, err := fmt.Sscanf(t.StartTime, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("%w: start time %q: %v", ErrInvalidInput, t.StartTime, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: start time %q out of range", ErrInvalidInput, t.StartTime)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

func (t *ShiftTemplate) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: template name is required", ErrInvalidInput)
	}
	if _, err := t.StartOffset(); err != nil {
		return err
	}
	if t.Duration <= 0 || t.Duration > 24*time.Hour {
		return fmt.Errorf("%w: duration %s outside (0, 24h]", ErrInvalidInput, t.Duration)
	}
	if t.Days&AllWeekdays == 0 {
		return fmt.Errorf("%w: template runs on no weekday", ErrInvalidInput)
	}
	if t.MinExecutors < 1 || t.MaxExecutors < t.MinExecutors {
		return fmt.Errorf("%w: executors min %d max %d", ErrInvalidInput, t.MinExecutors, t.MaxExecutors)
	}
	if t.DefaultMaxRequests < 0 {
		return fmt.Errorf("%w: default capacity must not be negative", ErrInvalidInput)
	}
	if t.Priority < 1 || t.Priority > 5 {
		return fmt.Errorf("%w: priority level %d outside 1-5", ErrInvalidInput, t.Priority)
	}
	if t.AdvanceDays < 0 {
		return fmt.Errorf("%w: advance days must not be negative", ErrInvalidInput)
	}
	return nil
}

func (t *ShiftTemplate) Clone() *ShiftTemplate {
	c := *t
	c.Specializations = slices.Clone(t.Specializations)
	c.CoverageAreas = slices.Clone(t.CoverageAreas)
	return &c
}
