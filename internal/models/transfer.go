package models

import "time"

type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferAssigned  TransferStatus = "assigned"
	TransferAccepted  TransferStatus = "accepted"
	TransferRejected  TransferStatus = "rejected"
	TransferCompleted TransferStatus = "completed"
	TransferCancelled TransferStatus = "cancelled"
)

func (s TransferStatus) Terminal() bool {
	return s == TransferCompleted || s == TransferCancelled
}

type TransferReason string

const (
	ReasonIllness          TransferReason = "illness"
	ReasonFamilyEmergency  TransferReason = "family_emergency"
	ReasonScheduleConflict TransferReason = "schedule_conflict"
	ReasonOverload         TransferReason = "overload"
	ReasonPersonal         TransferReason = "personal"
	ReasonOther            TransferReason = "other"
)

func (r TransferReason) Valid() bool {
	switch r {
	case ReasonIllness, ReasonFamilyEmergency, ReasonScheduleConflict, ReasonOverload, ReasonPersonal, ReasonOther:
		return true
	}
	return false
}

type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyNormal, UrgencyHigh, UrgencyCritical:
		return true
	}
	return false
}

const DefaultTransferRetries = 3

type ShiftTransfer struct {
	ID             string         `json:"id"`
	ShiftID        string         `json:"shift_id"`
	FromExecutorID string         `json:"from_executor_id"`
	ToExecutorID   *string        `json:"to_executor_id,omitempty"`
	Status         TransferStatus `json:"status"`
	Reason         TransferReason `json:"reason"`
	Comment        string         `json:"comment"`
	Urgency        Urgency        `json:"urgency_level"`
	CreatedAt      time.Time      `json:"created_at"`
	AssignedAt     *time.Time     `json:"assigned_at,omitempty"`
	RespondedAt    *time.Time     `json:"responded_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
	AutoAssigned   bool           `json:"auto_assigned"`
	RetryCount     int            `json:"retry_count"`
	MaxRetries     int            `json:"max_retries"`
}

// CanBeAssignedTo is true only while the transfer is pending and the
// candidate is not the executor handing the shift off.
func (t *ShiftTransfer) CanBeAssignedTo(executorID string) bool {
	return t.Status == TransferPending && executorID != "" && executorID != t.FromExecutorID
}

// NeedsManual reports whether automatic assignment gave up on this transfer.
func (t *ShiftTransfer) NeedsManual() bool {
	return t.Status == TransferPending && t.RetryCount >= t.MaxRetries
}

func (t *ShiftTransfer) Clone() *ShiftTransfer {
	c := *t
	c.ToExecutorID = cloneString(t.ToExecutorID)
	c.AssignedAt = cloneTime(t.AssignedAt)
	c.RespondedAt = cloneTime(t.RespondedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	return &c
}
