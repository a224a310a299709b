package models

import "time"

type RequestStatus string

const (
	RequestNew        RequestStatus = "new"
	RequestInProgress RequestStatus = "in_progress"
	RequestCompleted  RequestStatus = "completed"
	RequestCancelled  RequestStatus = "cancelled"
)

// WorkRequest is the engine's view of a queued work request.
type WorkRequest struct {
	ID             string        `json:"id"`
	Specialization string        `json:"specialization"`
	Priority       int           `json:"priority"`
	Location       string        `json:"location"`
	Status         RequestStatus `json:"status"`
	ExecutorID     *string       `json:"executor_id,omitempty"`
	ShiftID        *string       `json:"shift_id,omitempty"`
	AssignedAt     *time.Time    `json:"assigned_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

func (r *WorkRequest) Pending() bool {
	return r.Status == RequestNew && r.ExecutorID == nil
}

func (r *WorkRequest) Clone() *WorkRequest {
	c := *r
	c.ExecutorID = cloneString(r.ExecutorID)
	c.ShiftID = cloneString(r.ShiftID)
	c.AssignedAt = cloneTime(r.AssignedAt)
	return &c
}
