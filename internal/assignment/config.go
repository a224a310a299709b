package assignment

import (
	"fmt"
	"math"
	"time"

	"shift-engine/internal/models"
)

// Weights are the relative importance of each scoring factor. They must sum to 1.0.
type Weights struct {
	Specialization float64 `yaml:"specialization"`
	Workload       float64 `yaml:"workload"`
	Rating         float64 `yaml:"rating"`
	Availability   float64 `yaml:"availability"`
	Preference     float64 `yaml:"preference"`
	Geography      float64 `yaml:"geography"`
}

func (w Weights) Sum() float64 {
	return w.Specialization + w.Workload + w.Rating + w.Availability + w.Preference + w.Geography
}

// Config holds the scoring weights and thresholds. The defaults are the
// tuned production values; every field can be overridden from configuration.
type Config struct {
	Weights Weights `yaml:"weights"`

	// SpecializationBonus is added when the executor holds every required specialization.
	SpecializationBonus float64 `yaml:"specialization_bonus"`

	MaxShiftsPerWeek  int `yaml:"max_shifts_per_week"`
	MaxActiveRequests int `yaml:"max_active_requests"`

	// MinRest is the rest gap below which an adjacent shift lowers availability.
	MinRest               time.Duration `yaml:"min_rest"`
	ShortRestAvailability float64       `yaml:"short_rest_availability"`

	NeutralScore float64 `yaml:"neutral_score"`
	RatingMin    float64 `yaml:"rating_min"`
	RatingMax    float64 `yaml:"rating_max"`

	// LoadWindow is the half-width of the window used to count an executor's load.
	LoadWindow time.Duration `yaml:"load_window"`

	NearbyWindow     time.Duration `yaml:"nearby_window"`
	NearbyShiftLimit int           `yaml:"nearby_shift_limit"`
	ConflictPenalty  float64       `yaml:"conflict_penalty"`

	// ScoringWorkers bounds the read-only scoring fan-out of a batch. 1 scores inline.
	ScoringWorkers int `yaml:"scoring_workers"`

	// MaxBalanceMoves caps the reassignments of a single Balance call.
	MaxBalanceMoves int `yaml:"max_balance_moves"`
}

func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Specialization: 0.35,
			Workload:       0.25,
			Rating:         0.15,
			Availability:   0.10,
			Preference:     0.10,
			Geography:      0.05,
		},
		SpecializationBonus:   0.2,
		MaxShiftsPerWeek:      5,
		MaxActiveRequests:     10,
		MinRest:               8 * time.Hour,
		ShortRestAvailability: 0.7,
		NeutralScore:          0.5,
		RatingMin:             1,
		RatingMax:             5,
		LoadWindow:            7 * 24 * time.Hour,
		NearbyWindow:          3 * 24 * time.Hour,
		NearbyShiftLimit:      5,
		ConflictPenalty:       0.3,
		ScoringWorkers:        4,
		MaxBalanceMoves:       200,
	}
}

func (c Config) Validate() error {
	if math.Abs(c.Weights.Sum()-1.0) > 1e-6 {
		return fmt.Errorf("%w: scoring weights sum to %.4f, want 1.0", models.ErrInvalidInput, c.Weights.Sum())
	}
	for name, v := range map[string]float64{
		"specialization": c.Weights.Specialization, "workload": c.Weights.Workload, "rating": c.Weights.Rating,
		"availability": c.Weights.Availability, "preference": c.Weights.Preference, "geography": c.Weights.Geography,
		"specialization_bonus": c.SpecializationBonus, "conflict_penalty": c.ConflictPenalty,
	} {
		if v < 0 {
			return fmt.Errorf("%w: %s must not be negative", models.ErrInvalidInput, name)
		}
	}
	if c.MaxShiftsPerWeek <= 0 || c.MaxActiveRequests <= 0 {
		return fmt.Errorf("%w: workload limits must be positive", models.ErrInvalidInput)
	}
	if c.RatingMax <= c.RatingMin {
		return fmt.Errorf("%w: rating range [%v, %v] is empty", models.ErrInvalidInput, c.RatingMin, c.RatingMax)
	}
	if c.MinRest < 0 || c.LoadWindow <= 0 || c.NearbyWindow <= 0 || c.NearbyShiftLimit <= 0 {
		return fmt.Errorf("%w: windows and limits must be positive", models.ErrInvalidInput)
	}
	if c.ScoringWorkers < 1 {
		return fmt.Errorf("%w: scoring_workers must be at least 1", models.ErrInvalidInput)
	}
	if c.MaxBalanceMoves < 1 {
		return fmt.Errorf("%w: max_balance_moves must be at least 1", models.ErrInvalidInput)
	}
	return nil
}
