package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"shift-engine/internal/models"
)

// MemoryStore keeps all state in process. Within runs against a private copy
// of the state under the store lock and swaps it in on success, so a failed
// unit of work leaves nothing behind.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

var (
	_ Store      = (*MemoryStore)(nil)
	_ Repository = (*memRepo)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState(), now: time.Now}
}

// WithClock overrides the timestamp source used for created/updated fields.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

// PutExecutor seeds or replaces an executor profile. Executors are read-only
// to the engine, so this is not part of Repository.
func (m *MemoryStore) PutExecutor(e *models.Executor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.executors[e.ID] = e.Clone()
}

// PutRequest seeds or replaces a work request.
func (m *MemoryStore) PutRequest(r *models.WorkRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := r.Clone()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	m.state.requests[c.ID] = c
}

func (m *MemoryStore) Within(ctx context.Context, fn func(ctx context.Context, r Repository) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	draft := m.state.clone()
	if err := fn(ctx, &memRepo{st: draft, now: m.now}); err != nil {
		return err
	}
	m.state = draft
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// autocommit runs a single repository call under the store lock.
func autocommit[T any](m *MemoryStore, fn func(r *memRepo) (T, error)) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memRepo{st: m.state, now: m.now})
}

func (m *MemoryStore) GetExecutor(ctx context.Context, id string) (*models.Executor, error) {
	return autocommit(m, func(r *memRepo) (*models.Executor, error) { return r.GetExecutor(ctx, id) })
}

func (m *MemoryStore) ListExecutors(ctx context.Context, f ExecutorFilter) ([]*models.Executor, error) {
	return autocommit(m, func(r *memRepo) ([]*models.Executor, error) { return r.ListExecutors(ctx, f) })
}

func (m *MemoryStore) GetShift(ctx context.Context, id string) (*models.Shift, error) {
	return autocommit(m, func(r *memRepo) (*models.Shift, error) { return r.GetShift(ctx, id) })
}

func (m *MemoryStore) ListShifts(ctx context.Context, f ShiftFilter) ([]*models.Shift, error) {
	return autocommit(m, func(r *memRepo) ([]*models.Shift, error) { return r.ListShifts(ctx, f) })
}

func (m *MemoryStore) CreateShift(ctx context.Context, s *models.Shift) error {
	_, err := autocommit(m, func(r *memRepo) (struct{}, error) { return struct{}{}, r.CreateShift(ctx, s) })
	return err
}

func (m *MemoryStore) UpdateShift(ctx context.Context, s *models.Shift) error {
	_, err := autocommit(m, func(r *memRepo) (struct{}, error) { return struct{}{}, r.UpdateShift(ctx, s) })
	return err
}

func (m *MemoryStore) GetTemplate(ctx context.Context, id string) (*models.ShiftTemplate, error) {
	return autocommit(m, func(r *memRepo) (*models.ShiftTemplate, error) { return r.GetTemplate(ctx, id) })
}

func (m *MemoryStore) ListTemplates(ctx context.Context, autoCreateOnly bool) ([]*models.ShiftTemplate, error) {
	return autocommit(m, func(r *memRepo) ([]*models.ShiftTemplate, error) { return r.ListTemplates(ctx, autoCreateOnly) })
}

func (m *MemoryStore) CreateTemplate(ctx context.Context, t *models.ShiftTemplate) error {
	_, err := autocommit(m, func(r *memRepo) (struct{}, error) { return struct{}{}, r.CreateTemplate(ctx, t) })
	return err
}

func (m *MemoryStore) UpdateTemplate(ctx context.Context, t *models.ShiftTemplate) error {
	_, err := autocommit(m, func(r *memRepo) (struct{}, error) { return struct{}{}, r.UpdateTemplate(ctx, t) })
	return err
}

func (m *MemoryStore) DeleteTemplate(ctx context.Context, id string) error {
	_, err := autocommit(m, func(r *memRepo) (struct{}, error) { return struct{}{}, r.DeleteTemplate(ctx, id) })
	return err
}

func (m *MemoryStore) GetTransfer(ctx context.Context, id string) (*models.ShiftTransfer, error) {
	return autocommit(m, func(r *memRepo) (*models.ShiftTransfer, error) { return r.GetTransfer(ctx, id) })
}

func (m *MemoryStore) ListTransfers(ctx context.Context, f TransferFilter) ([]*models.ShiftTransfer, error) {
	return autocommit(m, func(r *memRepo) ([]*models.ShiftTransfer, error) { return r.ListTransfers(ctx, f) })
}

func (m *MemoryStore) CreateTransfer(ctx context.Context, t *models.ShiftTransfer) error {
	_, err := autocommit(m, func(r *memRepo) (struct{}, error) { return struct{}{}, r.CreateTransfer(ctx, t) })
	return err
}

func (m *MemoryStore) UpdateTransfer(ctx context.Context, t *models.ShiftTransfer) error {
	_, err := autocommit(m, func(r *memRepo) (struct{}, error) { return struct{}{}, r.UpdateTransfer(ctx, t) })
	return err
}

func (m *MemoryStore) DeleteTransfers(ctx context.Context, ids []string) (int, error) {
	return autocommit(m, func(r *memRepo) (int, error) { return r.DeleteTransfers(ctx, ids) })
}

func (m *MemoryStore) GetRequest(ctx context.Context, id string) (*models.WorkRequest, error) {
	return autocommit(m, func(r *memRepo) (*models.WorkRequest, error) { return r.GetRequest(ctx, id) })
}

func (m *MemoryStore) ListRequests(ctx context.Context, f RequestFilter) ([]*models.WorkRequest, error) {
	return autocommit(m, func(r *memRepo) ([]*models.WorkRequest, error) { return r.ListRequests(ctx, f) })
}

func (m *MemoryStore) UpdateRequest(ctx context.Context, req *models.WorkRequest) error {
	_, err := autocommit(m, func(r *memRepo) (struct{}, error) { return struct{}{}, r.UpdateRequest(ctx, req) })
	return err
}

func (m *MemoryStore) CountActiveRequests(ctx context.Context, executorIDs []string) (map[string]int, error) {
	return autocommit(m, func(r *memRepo) (map[string]int, error) { return r.CountActiveRequests(ctx, executorIDs) })
}

func (m *MemoryStore) InsertAssignmentRecord(ctx context.Context, rec *models.AssignmentRecord) error {
	_, err := autocommit(m, func(r *memRepo) (struct{}, error) { return struct{}{}, r.InsertAssignmentRecord(ctx, rec) })
	return err
}

func (m *MemoryStore) ListAssignmentRecords(ctx context.Context, shiftID string) ([]*models.AssignmentRecord, error) {
	return autocommit(m, func(r *memRepo) ([]*models.AssignmentRecord, error) { return r.ListAssignmentRecords(ctx, shiftID) })
}

func (m *MemoryStore) LockExecutor(ctx context.Context, executorID string) error {
	return nil
}

type memState struct {
	executors map[string]*models.Executor
	shifts    map[string]*models.Shift
	templates map[string]*models.ShiftTemplate
	transfers map[string]*models.ShiftTransfer
	requests  map[string]*models.WorkRequest
	records   []*models.AssignmentRecord
}

func newMemState() *memState {
	return &memState{
		executors: map[string]*models.Executor{},
		shifts:    map[string]*models.Shift{},
		templates: map[string]*models.ShiftTemplate{},
		transfers: map[string]*models.ShiftTransfer{},
		requests:  map[string]*models.WorkRequest{},
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.executors {
		c.executors[k] = v.Clone()
	}
	for k, v := range s.shifts {
		c.shifts[k] = v.Clone()
	}
	for k, v := range s.templates {
		c.templates[k] = v.Clone()
	}
	for k, v := range s.transfers {
		c.transfers[k] = v.Clone()
	}
	for k, v := range s.requests {
		c.requests[k] = v.Clone()
	}
	c.records = make([]*models.AssignmentRecord, len(s.records))
	for i, r := range s.records {
		c.records[i] = r.Clone()
	}
	return c
}

// memRepo operates on a state without locking; the owner holds the lock.
type memRepo struct {
	st  *memState
	now func() time.Time
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, models.ErrNotFound)
}

func (r *memRepo) GetExecutor(_ context.Context, id string) (*models.Executor, error) {
	e, ok := r.st.executors[id]
	if !ok {
		return nil, notFound("executor", id)
	}
	return e.Clone(), nil
}

func (r *memRepo) ListExecutors(_ context.Context, f ExecutorFilter) ([]*models.Executor, error) {
	var out []*models.Executor
	for _, e := range r.st.executors {
		if matchExecutor(e, f) {
			out = append(out, e.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.Executor) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (r *memRepo) GetShift(_ context.Context, id string) (*models.Shift, error) {
	s, ok := r.st.shifts[id]
	if !ok {
		return nil, notFound("shift", id)
	}
	return s.Clone(), nil
}

func (r *memRepo) ListShifts(_ context.Context, f ShiftFilter) ([]*models.Shift, error) {
	var out []*models.Shift
	for _, s := range r.st.shifts {
		if matchShift(s, f) {
			out = append(out, s.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.Shift) int {
		if c := a.PlannedStart.Compare(b.PlannedStart); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (r *memRepo) CreateShift(_ context.Context, s *models.Shift) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if _, exists := r.st.shifts[s.ID]; exists {
		return fmt.Errorf("%w: shift %s already exists", models.ErrInvalidInput, s.ID)
	}
	now := r.now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	r.st.shifts[s.ID] = s.Clone()
	return nil
}

func (r *memRepo) UpdateShift(_ context.Context, s *models.Shift) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if _, ok := r.st.shifts[s.ID]; !ok {
		return notFound("shift", s.ID)
	}
	s.UpdatedAt = r.now()
	r.st.shifts[s.ID] = s.Clone()
	return nil
}

func (r *memRepo) GetTemplate(_ context.Context, id string) (*models.ShiftTemplate, error) {
	t, ok := r.st.templates[id]
	if !ok {
		return nil, notFound("template", id)
	}
	return t.Clone(), nil
}

func (r *memRepo) ListTemplates(_ context.Context, autoCreateOnly bool) ([]*models.ShiftTemplate, error) {
	var out []*models.ShiftTemplate
	for _, t := range r.st.templates {
		if autoCreateOnly && (!t.AutoCreate || !t.Active) {
			continue
		}
		out = append(out, t.Clone())
	}
	slices.SortFunc(out, func(a, b *models.ShiftTemplate) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (r *memRepo) CreateTemplate(_ context.Context, t *models.ShiftTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := r.now()
	t.CreatedAt, t.UpdatedAt = now, now
	r.st.templates[t.ID] = t.Clone()
	return nil
}

func (r *memRepo) UpdateTemplate(_ context.Context, t *models.ShiftTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if _, ok := r.st.templates[t.ID]; !ok {
		return notFound("template", t.ID)
	}
	t.UpdatedAt = r.now()
	r.st.templates[t.ID] = t.Clone()
	return nil
}

func (r *memRepo) DeleteTemplate(_ context.Context, id string) error {
	if _, ok := r.st.templates[id]; !ok {
		return notFound("template", id)
	}
	for _, s := range r.st.shifts {
		if s.TemplateID != nil && *s.TemplateID == id {
			return fmt.Errorf("template %s: %w", id, models.ErrTemplateInUse)
		}
	}
	delete(r.st.templates, id)
	return nil
}

func (r *memRepo) GetTransfer(_ context.Context, id string) (*models.ShiftTransfer, error) {
	t, ok := r.st.transfers[id]
	if !ok {
		return nil, notFound("transfer", id)
	}
	return t.Clone(), nil
}

func (r *memRepo) ListTransfers(_ context.Context, f TransferFilter) ([]*models.ShiftTransfer, error) {
	var out []*models.ShiftTransfer
	for _, t := range r.st.transfers {
		if matchTransfer(t, f) {
			out = append(out, t.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.ShiftTransfer) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (r *memRepo) CreateTransfer(_ context.Context, t *models.ShiftTransfer) error {
	if err := validateTransfer(t); err != nil {
		return err
	}
	if _, ok := r.st.shifts[t.ShiftID]; !ok {
		return notFound("shift", t.ShiftID)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := r.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	r.st.transfers[t.ID] = t.Clone()
	return nil
}

func (r *memRepo) UpdateTransfer(_ context.Context, t *models.ShiftTransfer) error {
	if err := validateTransfer(t); err != nil {
		return err
	}
	if _, ok := r.st.transfers[t.ID]; !ok {
		return notFound("transfer", t.ID)
	}
	t.UpdatedAt = r.now()
	r.st.transfers[t.ID] = t.Clone()
	return nil
}

func (r *memRepo) DeleteTransfers(_ context.Context, ids []string) (int, error) {
	n := 0
	for _, id := range ids {
		if _, ok := r.st.transfers[id]; ok {
			delete(r.st.transfers, id)
			n++
		}
	}
	return n, nil
}

func (r *memRepo) GetRequest(_ context.Context, id string) (*models.WorkRequest, error) {
	req, ok := r.st.requests[id]
	if !ok {
		return nil, notFound("request", id)
	}
	return req.Clone(), nil
}

func (r *memRepo) ListRequests(_ context.Context, f RequestFilter) ([]*models.WorkRequest, error) {
	var out []*models.WorkRequest
	for _, req := range r.st.requests {
		if matchRequest(req, f) {
			out = append(out, req.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.WorkRequest) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (r *memRepo) UpdateRequest(_ context.Context, req *models.WorkRequest) error {
	if _, ok := r.st.requests[req.ID]; !ok {
		return notFound("request", req.ID)
	}
	r.st.requests[req.ID] = req.Clone()
	return nil
}

func (r *memRepo) CountActiveRequests(_ context.Context, executorIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(executorIDs))
	for _, id := range executorIDs {
		counts[id] = 0
	}
	for _, req := range r.st.requests {
		if req.ExecutorID == nil || !slices.Contains(ActiveRequestStatuses, req.Status) {
			continue
		}
		if _, tracked := counts[*req.ExecutorID]; tracked {
			counts[*req.ExecutorID]++
		}
	}
	return counts, nil
}

func (r *memRepo) InsertAssignmentRecord(_ context.Context, rec *models.AssignmentRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	r.st.records = append(r.st.records, rec.Clone())
	return nil
}

func (r *memRepo) ListAssignmentRecords(_ context.Context, shiftID string) ([]*models.AssignmentRecord, error) {
	var out []*models.AssignmentRecord
	for _, rec := range r.st.records {
		if shiftID == "" || rec.ShiftID == shiftID {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (r *memRepo) LockExecutor(context.Context, string) error { return nil }
