package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/zeebo/xxh3"

	"shift-engine/internal/models"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore implements Store on database/sql with the lib/pq driver.
// Calls made directly on the store autocommit; Within opens a transaction.
type PostgresStore struct {
	*pgRepo
	db *sql.DB
}

var (
	_ Store      = (*PostgresStore)(nil)
	_ Repository = (*pgRepo)(nil)
)

func NewPostgresStore(conn *sql.DB) *PostgresStore {
	return &PostgresStore{pgRepo: &pgRepo{q: conn, now: time.Now}, db: conn}
}

func (s *PostgresStore) Within(ctx context.Context, fn func(ctx context.Context, r Repository) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w: %v", models.ErrStoreUnavailable, err)
	}
	if err := fn(ctx, &pgRepo{q: tx, now: s.now, lockRows: true}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w: %v", models.ErrStoreUnavailable, rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type pgRepo struct {
	q   querier
	now func() time.Time
	// lockRows makes single-row reads take a row lock held until the
	// transaction ends, so a read-modify-write inside Within cannot lose an
	// update to a concurrent unit of work.
	lockRows bool
}

// byID builds a single-row select, locking the row inside a transaction.
func (r *pgRepo) byID(columns, table string) string {
	q := "SELECT " + columns + " FROM " + table + " WHERE id = $1"
	if r.lockRows {
		q += " FOR UPDATE"
	}
	return q
}

// classify maps driver errors onto the engine's error taxonomy.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
		return fmt.Errorf("%s: %w: %s", op, models.ErrInvalidInput, pqErr.Message)
	}
	return fmt.Errorf("%s: %w: %v", op, models.ErrStoreUnavailable, err)
}

// where accumulates positional SQL predicates.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, strings.ReplaceAll(clause, "?", fmt.Sprintf("$%d", len(w.args))))
}

func (w *where) raw(clause string) {
	w.clauses = append(w.clauses, clause)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func toStrings[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

const executorColumns = "id, full_name, roles, approval_status, specializations, rating, home_zone, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecutor(row rowScanner) (*models.Executor, error) {
	var (
		e      models.Executor
		roles  []string
		rating sql.NullFloat64
	)
	if err := row.Scan(&e.ID, &e.FullName, pq.Array(&roles), &e.Approval, pq.Array(&e.Specializations),
		&rating, &e.HomeZone, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	for _, r := range roles {
		e.Roles = append(e.Roles, models.Role(r))
	}
	if rating.Valid {
		v := rating.Float64
		e.Rating = &v
	}
	return &e, nil
}

func (r *pgRepo) GetExecutor(ctx context.Context, id string) (*models.Executor, error) {
	row := r.q.QueryRowContext(ctx, "SELECT "+executorColumns+" FROM executors WHERE id = $1", id)
	e, err := scanExecutor(row)
	if err != nil {
		return nil, classify(err, "get executor "+id)
	}
	return e, nil
}

func (r *pgRepo) ListExecutors(ctx context.Context, f ExecutorFilter) ([]*models.Executor, error) {
	var w where
	if len(f.IDs) > 0 {
		w.add("id = ANY(?)", pq.Array(f.IDs))
	}
	role := f.Role
	if f.EligibleOnly {
		role = models.RoleExecutor
		w.add("approval_status = ?", string(models.ApprovalApproved))
	}
	if role != "" {
		w.add("? = ANY(roles)", string(role))
	}
	if f.Approval != "" {
		w.add("approval_status = ?", string(f.Approval))
	}
	rows, err := r.q.QueryContext(ctx, "SELECT "+executorColumns+" FROM executors"+w.String()+" ORDER BY id", w.args...)
	if err != nil {
		return nil, classify(err, "list executors")
	}
	defer rows.Close()

	var out []*models.Executor
	for rows.Next() {
		e, err := scanExecutor(rows)
		if err != nil {
			return nil, classify(err, "scan executor")
		}
		out = append(out, e)
	}
	return out, classify(rows.Err(), "list executors")
}

const shiftColumns = "id, planned_start, planned_end, actual_start, actual_end, status, executor_id, template_id, " +
	"specializations, coverage_areas, zone, max_requests, current_request_count, priority, completed_requests, " +
	"average_completion_time, average_response_time, efficiency_score, quality_rating, reminder_sent_at, created_at, updated_at"

func scanShift(row rowScanner) (*models.Shift, error) {
	var (
		s                                    models.Shift
		actualStart, actualEnd, reminderSent sql.NullTime
		executorID, templateID               sql.NullString
	)
	if err := row.Scan(&s.ID, &s.PlannedStart, &s.PlannedEnd, &actualStart, &actualEnd, &s.Status,
		&executorID, &templateID, pq.Array(&s.Specializations), pq.Array(&s.CoverageAreas), &s.Zone,
		&s.MaxRequests, &s.CurrentRequestCount, &s.Priority, &s.CompletedRequests, &s.AverageCompletionTime,
		&s.AverageResponseTime, &s.EfficiencyScore, &s.QualityRating, &reminderSent, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.ActualStart, s.ActualEnd, s.ReminderSentAt = timePtr(actualStart), timePtr(actualEnd), timePtr(reminderSent)
	s.ExecutorID, s.TemplateID = stringPtr(executorID), stringPtr(templateID)
	return &s, nil
}

func (r *pgRepo) GetShift(ctx context.Context, id string) (*models.Shift, error) {
	row := r.q.QueryRowContext(ctx, r.byID(shiftColumns, "shifts"), id)
	s, err := scanShift(row)
	if err != nil {
		return nil, classify(err, "get shift "+id)
	}
	return s, nil
}

func (r *pgRepo) ListShifts(ctx context.Context, f ShiftFilter) ([]*models.Shift, error) {
	var w where
	if len(f.IDs) > 0 {
		w.add("id = ANY(?)", pq.Array(f.IDs))
	}
	if !f.From.IsZero() {
		w.add("planned_start >= ?", f.From)
	}
	if !f.To.IsZero() {
		w.add("planned_start < ?", f.To)
	}
	if len(f.ExecutorIDs) > 0 {
		w.add("executor_id = ANY(?)", pq.Array(f.ExecutorIDs))
	}
	if len(f.Statuses) > 0 {
		w.add("status = ANY(?)", pq.Array(toStrings(f.Statuses)))
	}
	if f.TemplateID != "" {
		w.add("template_id = ?", f.TemplateID)
	}
	if f.Unassigned {
		w.raw("executor_id IS NULL")
	}
	rows, err := r.q.QueryContext(ctx, "SELECT "+shiftColumns+" FROM shifts"+w.String()+" ORDER BY planned_start, id", w.args...)
	if err != nil {
		return nil, classify(err, "list shifts")
	}
	defer rows.Close()

	var out []*models.Shift
	for rows.Next() {
		s, err := scanShift(rows)
		if err != nil {
			return nil, classify(err, "scan shift")
		}
		out = append(out, s)
	}
	return out, classify(rows.Err(), "list shifts")
}

func (r *pgRepo) CreateShift(ctx context.Context, s *models.Shift) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := r.now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	_, err := r.q.ExecContext(ctx, `INSERT INTO shifts (`+shiftColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		s.ID, s.PlannedStart, s.PlannedEnd, nullTime(s.ActualStart), nullTime(s.ActualEnd), string(s.Status),
		nullString(s.ExecutorID), nullString(s.TemplateID), pq.Array(s.Specializations), pq.Array(s.CoverageAreas),
		s.Zone, s.MaxRequests, s.CurrentRequestCount, s.Priority, s.CompletedRequests, s.AverageCompletionTime,
		s.AverageResponseTime, s.EfficiencyScore, s.QualityRating, nullTime(s.ReminderSentAt), s.CreatedAt, s.UpdatedAt)
	return classify(err, "create shift")
}

func (r *pgRepo) UpdateShift(ctx context.Context, s *models.Shift) error {
	if err := s.Validate(); err != nil {
		return err
	}
	s.UpdatedAt = r.now()
	res, err := r.q.ExecContext(ctx, `UPDATE shifts SET planned_start = $2, planned_end = $3, actual_start = $4,
		actual_end = $5, status = $6, executor_id = $7, template_id = $8, specializations = $9, coverage_areas = $10,
		zone = $11, max_requests = $12, current_request_count = $13, priority = $14, completed_requests = $15,
		average_completion_time = $16, average_response_time = $17, efficiency_score = $18, quality_rating = $19,
		reminder_sent_at = $20, updated_at = $21 WHERE id = $1`,
		s.ID, s.PlannedStart, s.PlannedEnd, nullTime(s.ActualStart), nullTime(s.ActualEnd), string(s.Status),
		nullString(s.ExecutorID), nullString(s.TemplateID), pq.Array(s.Specializations), pq.Array(s.CoverageAreas),
		s.Zone, s.MaxRequests, s.CurrentRequestCount, s.Priority, s.CompletedRequests, s.AverageCompletionTime,
		s.AverageResponseTime, s.EfficiencyScore, s.QualityRating, nullTime(s.ReminderSentAt), s.UpdatedAt)
	return expectOne(res, err, "update shift "+s.ID)
}

func expectOne(res sql.Result, err error, op string) error {
	if err != nil {
		return classify(err, op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err, op)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return nil
}

const templateColumns = "id, name, start_time, duration_seconds, specializations, coverage_areas, zone, min_executors, " +
	"max_executors, default_max_requests, priority, days_of_week, auto_create, advance_days, is_active, created_at, updated_at"

func scanTemplate(row rowScanner) (*models.ShiftTemplate, error) {
	var (
		t       models.ShiftTemplate
		seconds int64
		days    int16
	)
	if err := row.Scan(&t.ID, &t.Name, &t.StartTime, &seconds, pq.Array(&t.Specializations), pq.Array(&t.CoverageAreas),
		&t.Zone, &t.MinExecutors, &t.MaxExecutors, &t.DefaultMaxRequests, &t.Priority, &days, &t.AutoCreate,
		&t.AdvanceDays, &t.Active, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Duration = time.Duration(seconds) * time.Second
	t.Days = models.Weekdays(days)
	return &t, nil
}

func (r *pgRepo) GetTemplate(ctx context.Context, id string) (*models.ShiftTemplate, error) {
	row := r.q.QueryRowContext(ctx, "SELECT "+templateColumns+" FROM shift_templates WHERE id = $1", id)
	t, err := scanTemplate(row)
	if err != nil {
		return nil, classify(err, "get template "+id)
	}
	return t, nil
}

func (r *pgRepo) ListTemplates(ctx context.Context, autoCreateOnly bool) ([]*models.ShiftTemplate, error) {
	query := "SELECT " + templateColumns + " FROM shift_templates"
	if autoCreateOnly {
		query += " WHERE auto_create AND is_active"
	}
	rows, err := r.q.QueryContext(ctx, query+" ORDER BY id")
	if err != nil {
		return nil, classify(err, "list templates")
	}
	defer rows.Close()

	var out []*models.ShiftTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, classify(err, "scan template")
		}
		out = append(out, t)
	}
	return out, classify(rows.Err(), "list templates")
}

func (r *pgRepo) CreateTemplate(ctx context.Context, t *models.ShiftTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := r.now()
	t.CreatedAt, t.UpdatedAt = now, now
	_, err := r.q.ExecContext(ctx, `INSERT INTO shift_templates (`+templateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		t.ID, t.Name, t.StartTime, int64(t.Duration/time.Second), pq.Array(t.Specializations), pq.Array(t.CoverageAreas),
		t.Zone, t.MinExecutors, t.MaxExecutors, t.DefaultMaxRequests, t.Priority, int16(t.Days), t.AutoCreate,
		t.AdvanceDays, t.Active, t.CreatedAt, t.UpdatedAt)
	return classify(err, "create template")
}

func (r *pgRepo) UpdateTemplate(ctx context.Context, t *models.ShiftTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}
	t.UpdatedAt = r.now()
	res, err := r.q.ExecContext(ctx, `UPDATE shift_templates SET name = $2, start_time = $3, duration_seconds = $4,
		specializations = $5, coverage_areas = $6, zone = $7, min_executors = $8, max_executors = $9,
		default_max_requests = $10, priority = $11, days_of_week = $12, auto_create = $13, advance_days = $14,
		is_active = $15, updated_at = $16 WHERE id = $1`,
		t.ID, t.Name, t.StartTime, int64(t.Duration/time.Second), pq.Array(t.Specializations), pq.Array(t.CoverageAreas),
		t.Zone, t.MinExecutors, t.MaxExecutors, t.DefaultMaxRequests, t.Priority, int16(t.Days), t.AutoCreate,
		t.AdvanceDays, t.Active, t.UpdatedAt)
	return expectOne(res, err, "update template "+t.ID)
}

func (r *pgRepo) DeleteTemplate(ctx context.Context, id string) error {
	var dependents int
	if err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM shifts WHERE template_id = $1", id).Scan(&dependents); err != nil {
		return classify(err, "count template shifts")
	}
	if dependents > 0 {
		return fmt.Errorf("template %s: %w", id, models.ErrTemplateInUse)
	}
	res, err := r.q.ExecContext(ctx, "DELETE FROM shift_templates WHERE id = $1", id)
	return expectOne(res, err, "delete template "+id)
}

const transferColumns = "id, shift_id, from_executor_id, to_executor_id, status, reason, comment, urgency, created_at, " +
	"assigned_at, responded_at, completed_at, updated_at, auto_assigned, retry_count, max_retries"

func scanTransfer(row rowScanner) (*models.ShiftTransfer, error) {
	var (
		t                                    models.ShiftTransfer
		to                                   sql.NullString
		assignedAt, respondedAt, completedAt sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.ShiftID, &t.FromExecutorID, &to, &t.Status, &t.Reason, &t.Comment, &t.Urgency,
		&t.CreatedAt, &assignedAt, &respondedAt, &completedAt, &t.UpdatedAt, &t.AutoAssigned, &t.RetryCount,
		&t.MaxRetries); err != nil {
		return nil, err
	}
	t.ToExecutorID = stringPtr(to)
	t.AssignedAt, t.RespondedAt, t.CompletedAt = timePtr(assignedAt), timePtr(respondedAt), timePtr(completedAt)
	return &t, nil
}

func (r *pgRepo) GetTransfer(ctx context.Context, id string) (*models.ShiftTransfer, error) {
	row := r.q.QueryRowContext(ctx, r.byID(transferColumns, "shift_transfers"), id)
	t, err := scanTransfer(row)
	if err != nil {
		return nil, classify(err, "get transfer "+id)
	}
	return t, nil
}

func (r *pgRepo) ListTransfers(ctx context.Context, f TransferFilter) ([]*models.ShiftTransfer, error) {
	var w where
	if f.ShiftID != "" {
		w.add("shift_id = ?", f.ShiftID)
	}
	if len(f.Statuses) > 0 {
		w.add("status = ANY(?)", pq.Array(toStrings(f.Statuses)))
	}
	if !f.CreatedBefore.IsZero() {
		w.add("created_at < ?", f.CreatedBefore)
	}
	if !f.UpdatedBefore.IsZero() {
		w.add("updated_at < ?", f.UpdatedBefore)
	}
	rows, err := r.q.QueryContext(ctx, "SELECT "+transferColumns+" FROM shift_transfers"+w.String()+" ORDER BY created_at, id", w.args...)
	if err != nil {
		return nil, classify(err, "list transfers")
	}
	defer rows.Close()

	var out []*models.ShiftTransfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, classify(err, "scan transfer")
		}
		out = append(out, t)
	}
	return out, classify(rows.Err(), "list transfers")
}

func (r *pgRepo) CreateTransfer(ctx context.Context, t *models.ShiftTransfer) error {
	if err := validateTransfer(t); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := r.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	_, err := r.q.ExecContext(ctx, `INSERT INTO shift_transfers (`+transferColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		t.ID, t.ShiftID, t.FromExecutorID, nullString(t.ToExecutorID), string(t.Status), string(t.Reason), t.Comment,
		string(t.Urgency), t.CreatedAt, nullTime(t.AssignedAt), nullTime(t.RespondedAt), nullTime(t.CompletedAt),
		t.UpdatedAt, t.AutoAssigned, t.RetryCount, t.MaxRetries)
	return classify(err, "create transfer")
}

func (r *pgRepo) UpdateTransfer(ctx context.Context, t *models.ShiftTransfer) error {
	if err := validateTransfer(t); err != nil {
		return err
	}
	t.UpdatedAt = r.now()
	res, err := r.q.ExecContext(ctx, `UPDATE shift_transfers SET to_executor_id = $2, status = $3, comment = $4,
		urgency = $5, assigned_at = $6, responded_at = $7, completed_at = $8, updated_at = $9, auto_assigned = $10,
		retry_count = $11, max_retries = $12 WHERE id = $1`,
		t.ID, nullString(t.ToExecutorID), string(t.Status), t.Comment, string(t.Urgency), nullTime(t.AssignedAt),
		nullTime(t.RespondedAt), nullTime(t.CompletedAt), t.UpdatedAt, t.AutoAssigned, t.RetryCount, t.MaxRetries)
	return expectOne(res, err, "update transfer "+t.ID)
}

func (r *pgRepo) DeleteTransfers(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.q.ExecContext(ctx, "DELETE FROM shift_transfers WHERE id = ANY($1)", pq.Array(ids))
	if err != nil {
		return 0, classify(err, "delete transfers")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify(err, "delete transfers")
	}
	return int(n), nil
}

const requestColumns = "id, specialization, priority, location, status, executor_id, shift_id, assigned_at, created_at"

func scanRequest(row rowScanner) (*models.WorkRequest, error) {
	var (
		req                 models.WorkRequest
		executorID, shiftID sql.NullString
		assignedAt          sql.NullTime
	)
	if err := row.Scan(&req.ID, &req.Specialization, &req.Priority, &req.Location, &req.Status, &executorID,
		&shiftID, &assignedAt, &req.CreatedAt); err != nil {
		return nil, err
	}
	req.ExecutorID, req.ShiftID, req.AssignedAt = stringPtr(executorID), stringPtr(shiftID), timePtr(assignedAt)
	return &req, nil
}

func (r *pgRepo) GetRequest(ctx context.Context, id string) (*models.WorkRequest, error) {
	row := r.q.QueryRowContext(ctx, r.byID(requestColumns, "work_requests"), id)
	req, err := scanRequest(row)
	if err != nil {
		return nil, classify(err, "get request "+id)
	}
	return req, nil
}

func (r *pgRepo) ListRequests(ctx context.Context, f RequestFilter) ([]*models.WorkRequest, error) {
	var w where
	if len(f.Statuses) > 0 {
		w.add("status = ANY(?)", pq.Array(toStrings(f.Statuses)))
	}
	if len(f.ExecutorIDs) > 0 {
		w.add("executor_id = ANY(?)", pq.Array(f.ExecutorIDs))
	}
	if f.Unassigned {
		w.raw("executor_id IS NULL")
	}
	rows, err := r.q.QueryContext(ctx, "SELECT "+requestColumns+" FROM work_requests"+w.String()+
		" ORDER BY priority DESC, created_at, id", w.args...)
	if err != nil {
		return nil, classify(err, "list requests")
	}
	defer rows.Close()

	var out []*models.WorkRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, classify(err, "scan request")
		}
		out = append(out, req)
	}
	return out, classify(rows.Err(), "list requests")
}

func (r *pgRepo) UpdateRequest(ctx context.Context, req *models.WorkRequest) error {
	res, err := r.q.ExecContext(ctx, `UPDATE work_requests SET status = $2, executor_id = $3, shift_id = $4,
		assigned_at = $5 WHERE id = $1`,
		req.ID, string(req.Status), nullString(req.ExecutorID), nullString(req.ShiftID), nullTime(req.AssignedAt))
	return expectOne(res, err, "update request "+req.ID)
}

func (r *pgRepo) CountActiveRequests(ctx context.Context, executorIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(executorIDs))
	for _, id := range executorIDs {
		counts[id] = 0
	}
	if len(executorIDs) == 0 {
		return counts, nil
	}
	rows, err := r.q.QueryContext(ctx, `SELECT executor_id, COUNT(*) FROM work_requests
		WHERE executor_id = ANY($1) AND status = ANY($2) GROUP BY executor_id`,
		pq.Array(executorIDs), pq.Array(toStrings(ActiveRequestStatuses)))
	if err != nil {
		return nil, classify(err, "count active requests")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, classify(err, "scan request count")
		}
		counts[id] = n
	}
	return counts, classify(rows.Err(), "count active requests")
}

func (r *pgRepo) InsertAssignmentRecord(ctx context.Context, rec *models.AssignmentRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := r.q.ExecContext(ctx, `INSERT INTO assignment_records
		(id, shift_id, executor_id, previous_executor_id, score, reasons, conflict_count, strategy, assigned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.ShiftID, rec.ExecutorID, nullString(rec.PrevExecutor), rec.Score, pq.Array(rec.Reasons),
		rec.ConflictCount, rec.Strategy, rec.AssignedAt)
	return classify(err, "insert assignment record")
}

func (r *pgRepo) ListAssignmentRecords(ctx context.Context, shiftID string) ([]*models.AssignmentRecord, error) {
	var w where
	if shiftID != "" {
		w.add("shift_id = ?", shiftID)
	}
	rows, err := r.q.QueryContext(ctx, `SELECT id, shift_id, executor_id, previous_executor_id, score, reasons,
		conflict_count, strategy, assigned_at FROM assignment_records`+w.String()+" ORDER BY assigned_at, id", w.args...)
	if err != nil {
		return nil, classify(err, "list assignment records")
	}
	defer rows.Close()

	var out []*models.AssignmentRecord
	for rows.Next() {
		var (
			rec  models.AssignmentRecord
			prev sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.ShiftID, &rec.ExecutorID, &prev, &rec.Score, pq.Array(&rec.Reasons),
			&rec.ConflictCount, &rec.Strategy, &rec.AssignedAt); err != nil {
			return nil, classify(err, "scan assignment record")
		}
		rec.PrevExecutor = stringPtr(prev)
		out = append(out, &rec)
	}
	return out, classify(rows.Err(), "list assignment records")
}

// LockExecutorKey maps an executor id onto the int64 key space of Postgres
// advisory locks.
func LockExecutorKey(executorID string) int64 {
	return int64(xxh3.HashString(executorID))
}

// LockExecutor takes a transaction-scoped advisory lock. Outside Within the
// lock is released as soon as the statement commits.
func (r *pgRepo) LockExecutor(ctx context.Context, executorID string) error {
	_, err := r.q.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", LockExecutorKey(executorID))
	return classify(err, "lock executor "+executorID)
}
