package assignment

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shift-engine/internal/models"
)

func ratingPtr(v float64) *float64 { return &v }

func TestScore_SpecializationSupersetBeatsMismatch(t *testing.T) {
	s := NewScorer(DefaultConfig())
	shift := shiftAt("s1", base.Add(8*time.Hour), 8*time.Hour, "electric")

	a := s.Score(shift, executor("a", "electric", "plumbing"), LoadContext{})
	b := s.Score(shift, executor("b", "plumbing"), LoadContext{})

	assert.InDelta(t, 0.7, a.Specialization, 1e-9)
	assert.InDelta(t, 0.0, b.Specialization, 1e-9)
	assert.Greater(t, a.Total, b.Total)
	assert.Greater(t, b.Total, 0.0)
	assert.InDelta(t, 0.745, a.Total, 1e-9)
}

func TestScore_SpecializationEdgeCases(t *testing.T) {
	s := NewScorer(DefaultConfig())
	tests := []struct {
		name     string
		required []string
		held     []string
		want     float64
	}{
		{"no requirement", nil, []string{"electric"}, 1},
		{"no requirement no skills", nil, nil, 1},
		{"required but none held", []string{"electric"}, nil, 0},
		{"exact match", []string{"electric"}, []string{"electric"}, 1.2},
		{"partial overlap", []string{"electric", "gas"}, []string{"electric", "plumbing"}, 1.0 / 3.0},
		{"case and space insensitive", []string{"Electric "}, []string{"electric"}, 1.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := s.specialization(tt.required, tt.held)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestScore_Workload(t *testing.T) {
	s := NewScorer(DefaultConfig())
	assert.InDelta(t, 1.0, s.workload(0, 0), 1e-9)
	assert.InDelta(t, 0.5, s.workload(5, 0), 1e-9)
	assert.InDelta(t, 0.0, s.workload(9, 30), 1e-9)
	assert.InDelta(t, 0.75, s.workload(0, 5), 1e-9)
}

func TestScore_Rating(t *testing.T) {
	s := NewScorer(DefaultConfig())
	assert.InDelta(t, 0.5, s.rating(nil), 1e-9)
	assert.InDelta(t, 1.0, s.rating(ratingPtr(5)), 1e-9)
	assert.InDelta(t, 0.0, s.rating(ratingPtr(1)), 1e-9)
	assert.InDelta(t, 0.75, s.rating(ratingPtr(4)), 1e-9)
	assert.InDelta(t, 1.0, s.rating(ratingPtr(7)), 1e-9)
}

func TestScore_Availability(t *testing.T) {
	s := NewScorer(DefaultConfig())
	shift := shiftAt("s1", base.Add(8*time.Hour), 8*time.Hour)

	tests := []struct {
		name   string
		others []*models.Shift
		want   float64
	}{
		{"free", nil, 1},
		{"overlap", []*models.Shift{shiftAt("o", base.Add(10*time.Hour), 4*time.Hour)}, 0},
		{"touching counts as short rest", []*models.Shift{shiftAt("o", base.Add(16*time.Hour), 4*time.Hour)}, 0.7},
		{"long rest", []*models.Shift{shiftAt("o", base.Add(24*time.Hour), 8*time.Hour)}, 1},
		{"cancelled overlap ignored", []*models.Shift{func() *models.Shift {
			o := shiftAt("o", base.Add(10*time.Hour), 4*time.Hour)
			o.Status = models.ShiftCancelled
			return o
		}()}, 1},
		{"itself ignored", []*models.Shift{shift}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, s.availability(shift, tt.others), 1e-9)
		})
	}
}

func TestScore_NearbyPenaltyIsExactly03(t *testing.T) {
	cfg := DefaultConfig()
	withPenalty := NewScorer(cfg)
	cfg.NearbyShiftLimit = 1000
	withoutPenalty := NewScorer(cfg)

	candidate := shiftAt("c", base.AddDate(0, 0, 3).Add(8*time.Hour), 8*time.Hour)
	var nearby []*models.Shift
	for i, day := range []int{0, 1, 2, 4, 5} {
		nearby = append(nearby, shiftAt(fmt.Sprintf("n%d", i), base.AddDate(0, 0, day).Add(8*time.Hour), 8*time.Hour))
	}
	e := executor("e1")
	lc := LoadContext{Shifts: nearby}

	p := withPenalty.Score(candidate, e, lc)
	np := withoutPenalty.Score(candidate, e, lc)

	assert.InDelta(t, 0.3, p.Penalty, 1e-9)
	assert.Zero(t, np.Penalty)
	assert.InDelta(t, 0.3, np.Total-p.Total, 1e-9)

	// Four nearby shifts stay under the limit.
	q := withPenalty.Score(candidate, e, LoadContext{Shifts: nearby[:4]})
	assert.Zero(t, q.Penalty)
}

func TestScore_BoundedAndDeterministic(t *testing.T) {
	s := NewScorer(DefaultConfig())
	specSets := [][]string{nil, {"electric"}, {"electric", "gas"}, {"plumbing"}}
	ratings := []*float64{nil, ratingPtr(1), ratingPtr(3.3), ratingPtr(5)}
	loads := []int{0, 3, 12}

	for _, req := range specSets {
		for _, held := range specSets {
			for _, r := range ratings {
				for _, load := range loads {
					shift := shiftAt("s", base.Add(8*time.Hour), 8*time.Hour, req...)
					e := executor("e", held...)
					e.Rating = r
					lc := LoadContext{ActiveRequests: load}
					first := s.Score(shift, e, lc)
					second := s.Score(shift, e, lc)
					require.Equal(t, first, second)
					assert.GreaterOrEqual(t, first.Total, 0.0)
					assert.LessOrEqual(t, first.Total, 1.35)
				}
			}
		}
	}
}

func TestRank_TieBreaksByID(t *testing.T) {
	scores := []models.ExecutorScore{
		{ExecutorID: "c", Total: 0.5},
		{ExecutorID: "b", Total: 0.9},
		{ExecutorID: "a", Total: 0.5},
	}
	Rank(scores)
	assert.Equal(t, "b", scores[0].ExecutorID)
	assert.Equal(t, "a", scores[1].ExecutorID)
	assert.Equal(t, "c", scores[2].ExecutorID)
}

func TestZoneGeography(t *testing.T) {
	g := ZoneGeography{Neutral: 0.5, Mismatch: 0.1}
	shift := &models.Shift{Zone: "north"}
	assert.Equal(t, 1.0, g.Proximity(shift, &models.Executor{HomeZone: "North"}))
	assert.Equal(t, 0.1, g.Proximity(shift, &models.Executor{HomeZone: "south"}))
	assert.Equal(t, 0.5, g.Proximity(shift, &models.Executor{}))

	s := NewScorer(DefaultConfig(), WithGeography(g))
	sc := s.Score(shiftAt("s", base, time.Hour), &models.Executor{ID: "e", HomeZone: "x"}, LoadContext{})
	assert.Equal(t, 0.5, sc.Geography)
}
