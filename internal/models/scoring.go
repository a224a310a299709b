package models

// ExecutorScore is the ephemeral output of the scoring engine for one
// (shift, executor) pair. Sub-scores are unweighted values in [0,1]
// (specialization may reach 1.2 with the superset bonus).
type ExecutorScore struct {
	ExecutorID     string   `json:"executor_id"`
	Total          float64  `json:"total"`
	Specialization float64  `json:"specialization"`
	Workload       float64  `json:"workload"`
	Rating         float64  `json:"rating"`
	Availability   float64  `json:"availability"`
	Preference     float64  `json:"preference"`
	Geography      float64  `json:"geography"`
	Penalty        float64  `json:"penalty"`
	Reasons        []string `json:"reasons"`
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a conflict of this severity prevents an assignment.
func (s Severity) Blocking() bool {
	return s == SeverityHigh || s == SeverityCritical
}

type ConflictType string

const (
	ConflictExecutorNotFound  ConflictType = "executor_not_found"
	ConflictRoleIneligible    ConflictType = "role_ineligible"
	ConflictNotApproved       ConflictType = "not_approved"
	ConflictTimeOverlap       ConflictType = "time_overlap"
	ConflictShortRest         ConflictType = "short_rest"
	ConflictSpecializationGap ConflictType = "specialization_gap"
)

type AssignmentConflict struct {
	Type       ConflictType `json:"type"`
	Severity   Severity     `json:"severity"`
	Message    string       `json:"message"`
	Resolvable bool         `json:"resolvable"`
	Resolution string       `json:"resolution,omitempty"`
	ShiftID    string       `json:"shift_id,omitempty"`
	ExecutorID string       `json:"executor_id,omitempty"`
	// OtherShiftID names the shift this one collides with, for overlap conflicts.
	OtherShiftID string `json:"other_shift_id,omitempty"`
}

func HasBlocking(conflicts []AssignmentConflict) bool {
	for _, c := range conflicts {
		if c.Severity.Blocking() {
			return true
		}
	}
	return false
}
