// Package audit records what the engine did and why.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event categories
const (
	CategoryAssignment = "assignment"
	CategoryTransfer   = "transfer"
	CategoryRoster     = "roster"
	CategoryDispatch   = "dispatch"
)

// Assignment event types
const (
	EventShiftAutoAssigned           = "shift_auto_assigned"
	EventBatchAssignmentCompleted    = "batch_assignment_completed"
	EventExecutorAbsenceReassignment = "executor_absence_reassignment"
	EventWorkloadRebalanced          = "workload_rebalanced"
)

// Transfer event types
const (
	EventTransferCreated   = "transfer_created"
	EventTransferAssigned  = "transfer_assigned"
	EventTransferResponded = "transfer_responded"
	EventTransferCompleted = "transfer_completed"
	EventTransferCancelled = "transfer_cancelled"
	EventTransferEscalated = "transfer_escalated"
)

// Roster and dispatch event types
const (
	EventShiftsGenerated  = "shifts_generated"
	EventRequestAssigned  = "request_assigned"
	EventTemplateDeleted  = "template_deleted"
	EventShiftStatusMoved = "shift_status_changed"
)

// Event represents an audit event.
type Event struct {
	ID        string    `bson:"_id" json:"id"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`

	Category  string `bson:"category" json:"category"`
	EventType string `bson:"event_type" json:"event_type"`

	ShiftID    string `bson:"shift_id,omitempty" json:"shift_id,omitempty"`
	ExecutorID string `bson:"executor_id,omitempty" json:"executor_id,omitempty"`
	TransferID string `bson:"transfer_id,omitempty" json:"transfer_id,omitempty"`

	Success       bool   `bson:"success" json:"success"`
	FailureReason string `bson:"failure_reason,omitempty" json:"failure_reason,omitempty"`

	// Additional details (varies by event type)
	Details map[string]string `bson:"details,omitempty" json:"details,omitempty"`
}

// Stamp fills ID and Timestamp when they are unset.
func (e *Event) Stamp(now time.Time) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
}

// Sink accepts audit events. Callers treat a Record error as non-fatal:
// the change it describes has already been committed.
type Sink interface {
	Record(ctx context.Context, ev Event) error
}

type nop struct{}

func (nop) Record(context.Context, Event) error { return nil }

// Nop discards every event.
func Nop() Sink { return nop{} }

// LogSink writes events to a zap logger.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log.Named("audit")}
}

func (s *LogSink) Record(_ context.Context, ev Event) error {
	ev.Stamp(time.Now())
	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.String("category", ev.Category),
		zap.String("shift_id", ev.ShiftID),
		zap.String("executor_id", ev.ExecutorID),
		zap.Bool("success", ev.Success),
	}
	if ev.TransferID != "" {
		fields = append(fields, zap.String("transfer_id", ev.TransferID))
	}
	if ev.FailureReason != "" {
		fields = append(fields, zap.String("failure_reason", ev.FailureReason))
	}
	if len(ev.Details) > 0 {
		fields = append(fields, zap.Any("details", ev.Details))
	}
	s.log.Info(ev.EventType, fields...)
	return nil
}

// Multi fans an event out to every sink and returns the first error.
func Multi(sinks ...Sink) Sink { return multi(sinks) }

type multi []Sink

func (m multi) Record(ctx context.Context, ev Event) error {
	ev.Stamp(time.Now())
	var first error
	for _, s := range m {
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Recorder keeps events in memory. The API serves recent events from it when
// no database sink is configured, and tests use it to assert on emitted events.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

// NewRecorder keeps at most limit events; limit <= 0 keeps everything.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) Record(_ context.Context, ev Event) error {
	ev.Stamp(time.Now())
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = r.events[len(r.events)-r.limit:]
	}
	return nil
}

// Events returns a copy of the recorded events, oldest first.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of one type.
func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}
