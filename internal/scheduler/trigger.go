package scheduler

import (
	"fmt"
	"time"
)

// Trigger yields the next fire time strictly after a given instant.
type Trigger interface {
	Next(after time.Time) time.Time
	String() string
}

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock reads "HH:MM".
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

func (c Clock) on(day time.Time, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour, c.Minute, 0, 0, loc)
}

type every time.Duration

// Every fires at a fixed interval measured from the previous fire time.
func Every(d time.Duration) Trigger { return every(d) }

func (e every) Next(after time.Time) time.Time { return after.Add(time.Duration(e)) }
func (e every) String() string                 { return "every " + time.Duration(e).String() }

type daily struct {
	at  Clock
	loc *time.Location
}

// Daily fires once a day at the given local time.
func Daily(at Clock, loc *time.Location) Trigger {
	if loc == nil {
		loc = time.UTC
	}
	return daily{at: at, loc: loc}
}

func (d daily) Next(after time.Time) time.Time {
	local := after.In(d.loc)
	t := d.at.on(local, d.loc)
	if !t.After(local) {
		t = d.at.on(local.AddDate(0, 0, 1), d.loc)
	}
	return t
}

func (d daily) String() string { return "daily at " + d.at.String() + " " + d.loc.String() }

type weekly struct {
	day time.Weekday
	at  Clock
	loc *time.Location
}

// Weekly fires once a week on day at the given local time.
func Weekly(day time.Weekday, at Clock, loc *time.Location) Trigger {
	if loc == nil {
		loc = time.UTC
	}
	return weekly{day: day, at: at, loc: loc}
}

func (w weekly) Next(after time.Time) time.Time {
	local := after.In(w.loc)
	for i := 0; i <= 7; i++ {
		day := local.AddDate(0, 0, i)
		if day.Weekday() != w.day {
			continue
		}
		if t := w.at.on(day, w.loc); t.After(local) {
			return t
		}
	}
	return w.at.on(local.AddDate(0, 0, 7), w.loc)
}

func (w weekly) String() string {
	return fmt.Sprintf("weekly on %s at %s %s", w.day, w.at, w.loc)
}

type window struct {
	inner    Trigger
	from, to Clock
	loc      *time.Location
}

// Between restricts inner to fire times in [from, to) local time. A fire
// time outside the window is moved to the next window opening.
func Between(inner Trigger, from, to Clock, loc *time.Location) Trigger {
	if loc == nil {
		loc = time.UTC
	}
	return window{inner: inner, from: from, to: to, loc: loc}
}

func (w window) Next(after time.Time) time.Time {
	t := w.inner.Next(after).In(w.loc)
	opening, closing := w.from.on(t, w.loc), w.to.on(t, w.loc)
	switch {
	case t.Before(opening):
		return opening
	case !t.Before(closing):
		return w.from.on(t.AddDate(0, 0, 1), w.loc)
	}
	return t
}

func (w window) String() string {
	return fmt.Sprintf("%s between %s and %s %s", w.inner, w.from, w.to, w.loc)
}
