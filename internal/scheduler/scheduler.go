// Package scheduler runs the engine's periodic jobs. Each job has its own
// trigger loop; a trigger that fires while the previous run is still in
// flight is dropped and counted as skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"shift-engine/internal/metrics"
)

var (
	ErrUnknownJob   = errors.New("unknown job")
	ErrDuplicateJob = errors.New("job already registered")
	ErrJobRunning   = errors.New("job already running")
	ErrStarted      = errors.New("scheduler already started")
)

// Job is one periodic task. Run must be idempotent.
type Job struct {
	Name    string
	Trigger Trigger
	Run     func(ctx context.Context) error
	// Timeout overrides the scheduler default for this job.
	Timeout time.Duration
}

// JobStatus is a snapshot of one job's counters.
type JobStatus struct {
	Name         string    `json:"name"`
	Schedule     string    `json:"schedule"`
	Running      bool      `json:"running"`
	Successes    int64     `json:"successes"`
	Failures     int64     `json:"failures"`
	Skipped      int64     `json:"skipped"`
	LastRun      time.Time `json:"last_run,omitzero"`
	LastDuration string    `json:"last_duration,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	NextRun      time.Time `json:"next_run,omitzero"`
}

// Totals sums the counters of every job. Runs counts completed runs.
type Totals struct {
	Runs      int64 `json:"runs"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
	Skipped   int64 `json:"skipped"`
}

type Status struct {
	Running bool        `json:"running"`
	Totals  Totals      `json:"totals"`
	Jobs    []JobStatus `json:"jobs"`
}

type entry struct {
	job      Job
	inFlight atomic.Bool

	mu        sync.Mutex
	successes int64
	failures  int64
	skipped   int64
	lastRun   time.Time
	lastDur   time.Duration
	lastErr   string
	nextRun   time.Time
}

func (e *entry) status() JobStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := JobStatus{
		Name:      e.job.Name,
		Schedule:  e.job.Trigger.String(),
		Running:   e.inFlight.Load(),
		Successes: e.successes,
		Failures:  e.failures,
		Skipped:   e.skipped,
		LastRun:   e.lastRun,
		LastError: e.lastErr,
		NextRun:   e.nextRun,
	}
	if !e.lastRun.IsZero() {
		st.LastDuration = e.lastDur.String()
	}
	return st
}

type Scheduler struct {
	jobs    *xsync.Map[string, *entry]
	locker  Locker
	metrics metrics.Collector
	log     *zap.Logger
	now     func() time.Time
	timeout time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	loops   sync.WaitGroup
	runs    sync.WaitGroup
	running atomic.Bool
}

type Option func(*Scheduler)

func WithLocker(l Locker) Option                { return func(s *Scheduler) { s.locker = l } }
func WithMetrics(m metrics.Collector) Option    { return func(s *Scheduler) { s.metrics = m } }
func WithLogger(l *zap.Logger) Option           { return func(s *Scheduler) { s.log = l } }
func WithClock(now func() time.Time) Option     { return func(s *Scheduler) { s.now = now } }
func WithDefaultTimeout(d time.Duration) Option { return func(s *Scheduler) { s.timeout = d } }

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:    xsync.NewMap[string, *entry](),
		locker:  NewLocalLocker(),
		metrics: metrics.NewNop(),
		log:     zap.NewNop(),
		now:     time.Now,
		timeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a job. Jobs registered after Start are not scheduled until
// the next Start.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil || job.Trigger == nil {
		return fmt.Errorf("job %q: name, trigger and run are required", job.Name)
	}
	if _, loaded := s.jobs.LoadOrStore(job.Name, &entry{job: job}); loaded {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
	}
	return nil
}

// Start launches one trigger loop per job. Loops stop when ctx is done or
// Stop is called; either way the scheduler reports not running once the
// in-flight runs have drained.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		return ErrStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.running.Store(true)
	s.jobs.Range(func(_ string, e *entry) bool {
		s.loops.Add(1)
		go s.loop(ctx, e)
		return true
	})
	go s.drain(ctx, cancel, done)
	s.log.Info("scheduler started", zap.Int("jobs", s.jobs.Size()))
	return nil
}

func (s *Scheduler) drain(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	<-ctx.Done()
	s.loops.Wait()
	s.runs.Wait()
	cancel()
	s.mu.Lock()
	s.cancel = nil
	s.done = nil
	s.running.Store(false)
	s.mu.Unlock()
	close(done)
	s.log.Info("scheduler stopped")
}

// Stop cancels the trigger loops and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	defer s.loops.Done()
	next := e.job.Trigger.Next(s.now())
	for {
		e.mu.Lock()
		e.nextRun = next
		e.mu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if e.inFlight.CompareAndSwap(false, true) {
			s.runs.Add(1)
			go func() {
				defer s.runs.Done()
				defer e.inFlight.Store(false)
				_ = s.execute(ctx, e)
			}()
		} else {
			s.skip(e, "previous run still in flight")
		}
		next = e.job.Trigger.Next(next)
		if now := s.now(); next.Before(now) {
			next = e.job.Trigger.Next(now)
		}
	}
}

// RunNow runs a job synchronously outside its schedule. It fails with
// ErrJobRunning when the job is already in flight.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	e, ok := s.jobs.Load(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if !e.inFlight.CompareAndSwap(false, true) {
		s.skip(e, "manual run while in flight")
		return fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	defer e.inFlight.Store(false)
	return s.execute(ctx, e)
}

func (s *Scheduler) execute(ctx context.Context, e *entry) error {
	timeout := e.job.Timeout
	if timeout <= 0 {
		timeout = s.timeout
	}
	name := e.job.Name

	unlock, err := s.locker.TryLock(ctx, name, timeout)
	if errors.Is(err, ErrLockHeld) {
		s.skip(e, "lock held by another runner")
		return err
	}
	if err != nil {
		s.finish(e, s.now(), 0, err)
		return err
	}
	defer func() {
		// Release even if ctx was cancelled mid-run.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := unlock(rctx); err != nil {
			s.log.Warn("job lock release failed", zap.String("job", name), zap.Error(err))
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := s.now()
	s.log.Info("job started", zap.String("job", name))
	err = safeRun(runCtx, e.job.Run)
	s.finish(e, start, time.Since(start), err)
	return err
}

func safeRun(ctx context.Context, run func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return run(ctx)
}

func (s *Scheduler) finish(e *entry, start time.Time, d time.Duration, err error) {
	e.mu.Lock()
	e.lastRun = start
	e.lastDur = d
	if err != nil {
		e.failures++
		e.lastErr = err.Error()
	} else {
		e.successes++
		e.lastErr = ""
	}
	e.mu.Unlock()

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultFailure
		s.log.Error("job failed", zap.String("job", e.job.Name), zap.Duration("duration", d), zap.Error(err))
	} else {
		s.log.Info("job finished", zap.String("job", e.job.Name), zap.Duration("duration", d))
	}
	s.metrics.RecordJobRun(e.job.Name, result, d.Seconds())
}

func (s *Scheduler) skip(e *entry, reason string) {
	e.mu.Lock()
	e.skipped++
	e.mu.Unlock()
	s.log.Warn("job run skipped", zap.String("job", e.job.Name), zap.String("reason", reason))
	s.metrics.RecordJobRun(e.job.Name, metrics.ResultSkipped, 0)
}

// Status reports every job, ordered by name.
func (s *Scheduler) Status() Status {
	st := Status{Running: s.running.Load()}
	s.jobs.Range(func(_ string, e *entry) bool {
		js := e.status()
		st.Totals.Successes += js.Successes
		st.Totals.Failures += js.Failures
		st.Totals.Skipped += js.Skipped
		st.Jobs = append(st.Jobs, js)
		return true
	})
	st.Totals.Runs = st.Totals.Successes + st.Totals.Failures
	slices.SortFunc(st.Jobs, func(a, b JobStatus) int { return strings.Compare(a.Name, b.Name) })
	return st
}

// Jobs lists registered job names.
func (s *Scheduler) Jobs() []string {
	var names []string
	s.jobs.Range(func(name string, _ *entry) bool {
		names = append(names, name)
		return true
	})
	slices.Sort(names)
	return names
}
