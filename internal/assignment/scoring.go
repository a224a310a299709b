package assignment

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"

	"shift-engine/internal/models"
)

// LoadContext is what the scorer knows about one executor around a shift:
// their shifts inside the load window and their open request count.
type LoadContext struct {
	Shifts         []*models.Shift
	ActiveRequests int
}

// PreferenceSource rates how much an executor wants a shift, in [0,1].
type PreferenceSource interface {
	Preference(shift *models.Shift, e *models.Executor) float64
}

// GeographySource rates how close an executor is to a shift's zone, in [0,1].
type GeographySource interface {
	Proximity(shift *models.Shift, e *models.Executor) float64
}

type neutral float64

func (n neutral) Preference(*models.Shift, *models.Executor) float64 { return float64(n) }
func (n neutral) Proximity(*models.Shift, *models.Executor) float64  { return float64(n) }

// ZoneGeography scores 1 when the executor's home zone is the shift's zone,
// Mismatch when both are known and differ, and Neutral otherwise.
type ZoneGeography struct {
	Neutral  float64
	Mismatch float64
}

func (z ZoneGeography) Proximity(shift *models.Shift, e *models.Executor) float64 {
	if shift.Zone == "" || e.HomeZone == "" {
		return z.Neutral
	}
	if strings.EqualFold(shift.Zone, e.HomeZone) {
		return 1
	}
	return z.Mismatch
}

// Scorer is the pure multi-factor scoring function. It has no side effects
// and returns identical scores for identical inputs.
type Scorer struct {
	cfg   Config
	prefs PreferenceSource
	geo   GeographySource
}

type ScorerOption func(*Scorer)

func WithPreferences(p PreferenceSource) ScorerOption {
	return func(s *Scorer) { s.prefs = p }
}

func WithGeography(g GeographySource) ScorerOption {
	return func(s *Scorer) { s.geo = g }
}

func NewScorer(cfg Config, opts ...ScorerOption) *Scorer {
	s := &Scorer{cfg: cfg, prefs: neutral(cfg.NeutralScore), geo: neutral(cfg.NeutralScore)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scorer) Config() Config { return s.cfg }

func (s *Scorer) Score(shift *models.Shift, e *models.Executor, lc LoadContext) models.ExecutorScore {
	w := s.cfg.Weights
	out := models.ExecutorScore{ExecutorID: e.ID}

	var bonus bool
	out.Specialization, bonus = s.specialization(shift.Specializations, e.Specializations)
	shiftsInWeek, nearby := s.countNearby(shift, lc.Shifts)
	out.Workload = s.workload(shiftsInWeek, lc.ActiveRequests)
	out.Rating = s.rating(e.Rating)
	out.Availability = s.availability(shift, lc.Shifts)
	out.Preference = clamp01(s.prefs.Preference(shift, e))
	out.Geography = clamp01(s.geo.Proximity(shift, e))

	if nearby >= s.cfg.NearbyShiftLimit {
		out.Penalty = s.cfg.ConflictPenalty
	}

	total := w.Specialization*out.Specialization +
		w.Workload*out.Workload +
		w.Rating*out.Rating +
		w.Availability*out.Availability +
		w.Preference*out.Preference +
		w.Geography*out.Geography -
		out.Penalty
	out.Total = math.Max(0, total)

	spec := fmt.Sprintf("specialization %.2f", out.Specialization)
	if bonus {
		spec += " (covers all requirements)"
	}
	out.Reasons = append(out.Reasons,
		spec,
		fmt.Sprintf("workload %.2f (%d shifts this week, %d active requests)", out.Workload, shiftsInWeek, lc.ActiveRequests),
		fmt.Sprintf("rating %.2f", out.Rating),
		fmt.Sprintf("availability %.2f", out.Availability),
	)
	if out.Penalty > 0 {
		out.Reasons = append(out.Reasons,
			fmt.Sprintf("penalty %.2f (%d shifts within %s)", out.Penalty, nearby, s.cfg.NearbyWindow))
	}
	return out
}

// specialization is the Jaccard similarity of the required and held sets,
// plus a bonus when the held set covers every requirement.
func (s *Scorer) specialization(required, held []string) (float64, bool) {
	req := toSet(required)
	if len(req) == 0 {
		return 1, false
	}
	have := toSet(held)
	if len(have) == 0 {
		return 0, false
	}
	inter := 0
	for k := range req {
		if _, ok := have[k]; ok {
			inter++
		}
	}
	union := len(req) + len(have) - inter
	score := float64(inter) / float64(union)
	superset := inter == len(req)
	if superset {
		score += s.cfg.SpecializationBonus
	}
	return score, superset
}

func (s *Scorer) workload(shiftsInWeek, activeRequests int) float64 {
	shiftTerm := math.Max(0, float64(s.cfg.MaxShiftsPerWeek-shiftsInWeek)/float64(s.cfg.MaxShiftsPerWeek))
	reqTerm := math.Max(0, float64(s.cfg.MaxActiveRequests-activeRequests)/float64(s.cfg.MaxActiveRequests))
	return (shiftTerm + reqTerm) / 2
}

func (s *Scorer) rating(r *float64) float64 {
	if r == nil {
		return s.cfg.NeutralScore
	}
	return clamp01((*r - s.cfg.RatingMin) / (s.cfg.RatingMax - s.cfg.RatingMin))
}

func (s *Scorer) availability(shift *models.Shift, others []*models.Shift) float64 {
	score := 1.0
	for _, o := range others {
		if o.ID == shift.ID || o.Status == models.ShiftCancelled {
			continue
		}
		if o.Status.Occupying() && shift.Overlaps(o) {
			return 0
		}
		if !shift.Overlaps(o) && shift.Gap(o) < s.cfg.MinRest {
			score = s.cfg.ShortRestAvailability
		}
	}
	return score
}

// countNearby returns the executor's live shifts within the load window and
// within the nearby window of the shift's start.
func (s *Scorer) countNearby(shift *models.Shift, others []*models.Shift) (inWeek, nearby int) {
	for _, o := range others {
		if o.ID == shift.ID || o.Status == models.ShiftCancelled {
			continue
		}
		d := o.PlannedStart.Sub(shift.PlannedStart).Abs()
		if d <= s.cfg.LoadWindow {
			inWeek++
		}
		if d <= s.cfg.NearbyWindow {
			nearby++
		}
	}
	return inWeek, nearby
}

// Rank orders scores by total descending, breaking ties by executor id ascending.
func Rank(scores []models.ExecutorScore) {
	slices.SortStableFunc(scores, func(a, b models.ExecutorScore) int {
		if c := cmp.Compare(b.Total, a.Total); c != 0 {
			return c
		}
		return cmp.Compare(a.ExecutorID, b.ExecutorID)
	})
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		it = models.NormalizeSpecialization(it)
		if it != "" {
			set[it] = struct{}{}
		}
	}
	return set
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
