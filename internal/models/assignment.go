package models

import (
	"slices"
	"time"
)

// AssignmentRecord is the persisted audit entry written in the same unit of
// work as the shift's executor change.
type AssignmentRecord struct {
	ID            string    `json:"id"`
	ShiftID       string    `json:"shift_id"`
	ExecutorID    string    `json:"executor_id"`
	PrevExecutor  *string   `json:"previous_executor_id,omitempty"`
	Score         float64   `json:"score"`
	Reasons       []string  `json:"reasons"`
	ConflictCount int       `json:"conflict_count"`
	Strategy      string    `json:"strategy"` // auto_assign, rebalance, transfer, absence
	AssignedAt    time.Time `json:"assigned_at"`
}

func (a *AssignmentRecord) Clone() *AssignmentRecord {
	c := *a
	c.PrevExecutor = cloneString(a.PrevExecutor)
	c.Reasons = slices.Clone(a.Reasons)
	return &c
}

const (
	StrategyAutoAssign = "auto_assign"
	StrategyRebalance  = "rebalance"
	StrategyTransfer   = "transfer"
	StrategyAbsence    = "absence"
)
