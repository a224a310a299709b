// Package store persists shifts, templates, transfers, work requests and
// assignment records behind a unit-of-work boundary.
package store

import (
	"context"
	"time"

	"shift-engine/internal/models"
)

type ExecutorFilter struct {
	IDs          []string
	Role         models.Role
	Approval     models.ApprovalStatus
	EligibleOnly bool
}

// ShiftFilter selects shifts whose planned start falls in [From, To).
// Zero bounds are open.
type ShiftFilter struct {
	IDs         []string
	From        time.Time
	To          time.Time
	ExecutorIDs []string
	Statuses    []models.ShiftStatus
	TemplateID  string
	Unassigned  bool
}

type TransferFilter struct {
	ShiftID       string
	Statuses      []models.TransferStatus
	CreatedBefore time.Time
	UpdatedBefore time.Time
}

type RequestFilter struct {
	Statuses    []models.RequestStatus
	ExecutorIDs []string
	Unassigned  bool
}

// Repository is the set of reads and writes a component can perform inside
// one unit of work.
type Repository interface {
	GetExecutor(ctx context.Context, id string) (*models.Executor, error)
	ListExecutors(ctx context.Context, f ExecutorFilter) ([]*models.Executor, error)

	GetShift(ctx context.Context, id string) (*models.Shift, error)
	ListShifts(ctx context.Context, f ShiftFilter) ([]*models.Shift, error)
	CreateShift(ctx context.Context, s *models.Shift) error
	UpdateShift(ctx context.Context, s *models.Shift) error

	GetTemplate(ctx context.Context, id string) (*models.ShiftTemplate, error)
	ListTemplates(ctx context.Context, autoCreateOnly bool) ([]*models.ShiftTemplate, error)
	CreateTemplate(ctx context.Context, t *models.ShiftTemplate) error
	UpdateTemplate(ctx context.Context, t *models.ShiftTemplate) error
	DeleteTemplate(ctx context.Context, id string) error

	GetTransfer(ctx context.Context, id string) (*models.ShiftTransfer, error)
	ListTransfers(ctx context.Context, f TransferFilter) ([]*models.ShiftTransfer, error)
	CreateTransfer(ctx context.Context, t *models.ShiftTransfer) error
	UpdateTransfer(ctx context.Context, t *models.ShiftTransfer) error
	DeleteTransfers(ctx context.Context, ids []string) (int, error)

	GetRequest(ctx context.Context, id string) (*models.WorkRequest, error)
	ListRequests(ctx context.Context, f RequestFilter) ([]*models.WorkRequest, error)
	UpdateRequest(ctx context.Context, r *models.WorkRequest) error
	CountActiveRequests(ctx context.Context, executorIDs []string) (map[string]int, error)

	InsertAssignmentRecord(ctx context.Context, rec *models.AssignmentRecord) error
	ListAssignmentRecords(ctx context.Context, shiftID string) ([]*models.AssignmentRecord, error)

	// LockExecutor serializes writers touching one executor's schedule until
	// the surrounding unit of work ends.
	LockExecutor(ctx context.Context, executorID string) error
}

// Store is a Repository whose calls outside Within run in their own implicit
// transaction. Within runs fn in one transaction: it commits when fn returns
// nil and rolls back otherwise.
type Store interface {
	Repository
	Within(ctx context.Context, fn func(ctx context.Context, r Repository) error) error
	Close() error
}
