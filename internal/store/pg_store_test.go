package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shift-engine/internal/models"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	st := NewPostgresStore(conn)
	st.now = func() time.Time { return t0 }
	return st, mock
}

func shiftRows() *sqlmock.Rows {
	return sqlmock.NewRows(strings.Split(strings.ReplaceAll(shiftColumns, " ", ""), ","))
}

func addShiftRow(rows *sqlmock.Rows, id string, executor any) *sqlmock.Rows {
	return rows.AddRow(id, t0, t0.Add(8*time.Hour), nil, nil, "planned", executor, nil,
		"{electric}", "{north,south}", "north", 5, 1, 3, 0, 0.0, 0.0, 0.0, 0.0, nil, t0, t0)
}

func TestPostgresStore_GetShift(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT "+shiftColumns+" FROM shifts WHERE id = $1") + "$").
		WithArgs("s1").
		WillReturnRows(addShiftRow(shiftRows(), "s1", "e1"))

	sh, err := st.GetShift(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "e1", *sh.ExecutorID)
	assert.Nil(t, sh.TemplateID)
	assert.Equal(t, []string{"north", "south"}, sh.CoverageAreas)
	assert.Equal(t, models.ShiftPlanned, sh.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, models.ErrNotFound},
		{"integrity", &pq.Error{Code: "23505", Message: "duplicate key"}, models.ErrInvalidInput},
		{"connection", errors.New("connection reset by peer"), models.ErrStoreUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, mock := newMockStore(t)
			mock.ExpectQuery("FROM shifts WHERE id").WillReturnError(tt.err)
			_, err := st.GetShift(context.Background(), "s1")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPostgresStore_ListShiftsBuildsFilter(t *testing.T) {
	st, mock := newMockStore(t)
	from, to := t0, t0.Add(24*time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("FROM shifts WHERE planned_start >= $1 AND planned_start < $2 AND "+
		"status = ANY($3) AND executor_id IS NULL ORDER BY planned_start, id")).
		WithArgs(from, to, sqlmock.AnyArg()).
		WillReturnRows(addShiftRow(addShiftRow(shiftRows(), "a", nil), "b", nil))

	out, err := st.ListShifts(context.Background(), ShiftFilter{
		From: from, To: to, Statuses: []models.ShiftStatus{models.ShiftPlanned}, Unassigned: true,
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Nil(t, out[0].ExecutorID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateShiftMissing(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("UPDATE shifts SET").WillReturnResult(sqlmock.NewResult(0, 0))
	err := st.UpdateShift(context.Background(), newShift("gone", t0, nil))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPostgresStore_WithinCommitsUnderLock(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1)")).
		WithArgs(LockExecutorKey("e1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE shifts SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO assignment_records").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := st.Within(context.Background(), func(ctx context.Context, r Repository) error {
		if err := r.LockExecutor(ctx, "e1"); err != nil {
			return err
		}
		if err := r.UpdateShift(ctx, newShift("s1", t0, models.StringPtr("e1"))); err != nil {
			return err
		}
		return r.InsertAssignmentRecord(ctx, &models.AssignmentRecord{
			ShiftID: "s1", ExecutorID: "e1", Score: 0.8, Strategy: models.StrategyAutoAssign, AssignedAt: t0,
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WithinRollsBack(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE shifts SET").WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	err := st.Within(context.Background(), func(ctx context.Context, r Repository) error {
		return r.UpdateShift(ctx, newShift("s1", t0, nil))
	})
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WithinLocksReadRows(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + shiftColumns + " FROM shifts WHERE id = $1 FOR UPDATE")).
		WithArgs("s1").
		WillReturnRows(addShiftRow(shiftRows(), "s1", nil))
	mock.ExpectQuery(regexp.QuoteMeta("FROM shift_transfers WHERE id = $1 FOR UPDATE")).
		WithArgs("t1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("FROM work_requests WHERE id = $1 FOR UPDATE")).
		WithArgs("r1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := st.Within(context.Background(), func(ctx context.Context, r Repository) error {
		sh, err := r.GetShift(ctx, "s1")
		if err != nil {
			return err
		}
		assert.Nil(t, sh.ExecutorID)
		if _, err := r.GetTransfer(ctx, "t1"); !errors.Is(err, models.ErrNotFound) {
			return err
		}
		_, err = r.GetRequest(ctx, "r1")
		return err
	})
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BeginFails(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))
	err := st.Within(context.Background(), func(context.Context, Repository) error { return nil })
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
}

func TestPostgresStore_DeleteTemplateInUse(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM shifts WHERE template_id = $1")).
		WithArgs("tpl").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	assert.ErrorIs(t, st.DeleteTemplate(context.Background(), "tpl"), models.ErrTemplateInUse)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountActiveRequests(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("SELECT executor_id, COUNT\\(\\*\\) FROM work_requests").
		WillReturnRows(sqlmock.NewRows([]string{"executor_id", "count"}).AddRow("e1", 3))

	counts, err := st.CountActiveRequests(context.Background(), []string{"e1", "e2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"e1": 3, "e2": 0}, counts)

	empty, err := st.CountActiveRequests(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetExecutor(t *testing.T) {
	st, mock := newMockStore(t)
	cols := strings.Split(strings.ReplaceAll(executorColumns, " ", ""), ",")
	mock.ExpectQuery("FROM executors WHERE id").
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("e1", "Ivan Petrov", "{executor}", "approved", "{electric,plumbing}", 4.5, "north", t0, t0))

	e, err := st.GetExecutor(context.Background(), "e1")
	require.NoError(t, err)
	assert.True(t, e.Eligible())
	assert.True(t, e.HasSpecialization("plumbing"))
	require.NotNil(t, e.Rating)
	assert.InDelta(t, 4.5, *e.Rating, 1e-9)
}

func TestLockExecutorKey_Stable(t *testing.T) {
	assert.Equal(t, LockExecutorKey("e1"), LockExecutorKey("e1"))
	assert.NotEqual(t, LockExecutorKey("e1"), LockExecutorKey("e2"))
}
