package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kozaktomas/photo-curator/internal/logging"
)

// ErrDuplicateTask is returned by Submit when strict names are enabled and
// the name was already used on this scheduler.
var ErrDuplicateTask = errors.New("duplicate task name")

// Status is the lifecycle state of a task.
type Status string

// Task lifecycle: pending -> running -> completed | failed.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TaskInfo is a point-in-time copy of a task's metadata.
type TaskInfo struct {
	Name      string     `json:"name"`
	Status    Status     `json:"status"`
	Submitted time.Time  `json:"submitted_at"`
	Started   *time.Time `json:"started_at,omitempty"`
	Ended     *time.Time `json:"ended_at,omitempty"`
	Err       error      `json:"-"`
	Error     string     `json:"error,omitempty"`
}

// Duration returns the running time of a finished task.
func (i TaskInfo) Duration() time.Duration {
	if i.Started == nil || i.Ended == nil {
		return 0
	}
	return i.Ended.Sub(*i.Started)
}

// TaskError is a task failure as returned from Drain.
type TaskError struct {
	Name string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %q: %v", e.Name, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Func is a unit of work.
type Func func(ctx context.Context) error

// Task is the handle returned by Submit.
type Task struct {
	name string
	done chan struct{}

	mu        sync.Mutex
	status    Status
	submitted time.Time
	started   time.Time
	ended     time.Time
	err       error
}

// Name returns the task name.
func (t *Task) Name() string {
	return t.name
}

// Done is closed when the task reaches a terminal state. Pacing delays run
// after that point and only hold back Drain.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes and returns its error.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Info returns a snapshot of the task metadata.
func (t *Task) Info() TaskInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	info := TaskInfo{
		Name:      t.name,
		Status:    t.status,
		Submitted: t.submitted,
		Err:       t.err,
	}
	if !t.started.IsZero() {
		started := t.started
		info.Started = &started
	}
	if !t.ended.IsZero() {
		ended := t.ended
		info.Ended = &ended
	}
	if t.err != nil {
		info.Error = t.err.Error()
	}
	return info
}

// Scheduler runs named tasks with bounded concurrency and paired pacing.
//
// Tasks finish in pairs: the first task of a pair sleeps a random delay in
// [floor, ceiling] while holding its slot, the second one additionally stops
// every other slot from starting new work until its delay is over.
type Scheduler struct {
	name        string
	concurrency int
	floor       time.Duration
	ceiling     time.Duration
	strictNames bool
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
	randInt     func(n int64) int64
	statusCh    chan<- TaskInfo

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu       sync.Mutex
	tasks    map[string]*Task
	order    []*Task
	finished int
	resume   chan struct{} // non-nil while paused
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithConcurrency sets the number of tasks running at once.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithDelay sets the pacing delay bounds.
func WithDelay(floor, ceiling time.Duration) Option {
	return func(s *Scheduler) {
		if floor < 0 {
			floor = 0
		}
		if ceiling < floor {
			ceiling = floor
		}
		s.floor = floor
		s.ceiling = ceiling
	}
}

// WithStrictNames makes duplicate task names an error instead of a warning.
func WithStrictNames() Option {
	return func(s *Scheduler) { s.strictNames = true }
}

// WithLogger sets the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithSleep replaces the pacing sleep. Used by tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) { s.sleep = fn }
}

// WithRand replaces the random source; fn must return a value in [0, n).
func WithRand(fn func(n int64) int64) Option {
	return func(s *Scheduler) { s.randInt = fn }
}

// WithStatusChannel publishes every status change to ch. Sends never block;
// updates are dropped when ch is full.
func WithStatusChannel(ch chan<- TaskInfo) Option {
	return func(s *Scheduler) { s.statusCh = ch }
}

// New creates a scheduler. Defaults: concurrency 1, no pacing delay.
func New(name string, opts ...Option) *Scheduler {
	s := &Scheduler{
		name:        name,
		concurrency: 1,
		sleep:       sleepContext,
		randInt:     rand.Int64N,
		tasks:       make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	s.logger = s.logger.With("scheduler", name)
	s.sem = semaphore.NewWeighted(int64(s.concurrency))
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Name returns the scheduler name.
func (s *Scheduler) Name() string {
	return s.name
}

// Submit enqueues fn under name. The task runs with ctx.
func (s *Scheduler) Submit(ctx context.Context, name string, fn Func) (*Task, error) {
	task := &Task{
		name:      name,
		done:      make(chan struct{}),
		status:    StatusPending,
		submitted: time.Now(),
	}

	s.mu.Lock()
	if _, exists := s.tasks[name]; exists {
		if s.strictNames {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTask, name)
		}
		s.logger.Warn("task name already submitted, status entry replaced", "task", name)
	}
	s.tasks[name] = task
	s.order = append(s.order, task)
	s.wg.Add(1)
	s.mu.Unlock()

	s.publish(task)
	go s.run(ctx, task, fn)
	return task, nil
}

func (s *Scheduler) run(ctx context.Context, task *Task, fn Func) {
	defer s.wg.Done()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.finish(task, fmt.Errorf("waiting for slot: %w", err))
		return
	}
	defer s.sem.Release(1)

	if err := s.waitResumed(ctx); err != nil {
		s.finish(task, fmt.Errorf("waiting for pause: %w", err))
		return
	}

	task.mu.Lock()
	task.status = StatusRunning
	task.started = time.Now()
	task.mu.Unlock()
	s.publish(task)

	err := s.call(ctx, task.name, fn)
	s.finish(task, err)
	s.pace(ctx)
}

func (s *Scheduler) call(ctx context.Context, name string, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked", "task", name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (s *Scheduler) finish(task *Task, err error) {
	task.mu.Lock()
	task.ended = time.Now()
	task.err = err
	if err != nil {
		task.status = StatusFailed
	} else {
		task.status = StatusCompleted
	}
	task.mu.Unlock()
	close(task.done)

	if err != nil {
		s.logger.Warn("task failed", "task", task.name, "error", err)
	} else {
		s.logger.Debug("task completed", "task", task.name)
	}
	s.publish(task)
}

// pace applies the paired delay after a task finished. The slot is still held.
func (s *Scheduler) pace(ctx context.Context) {
	s.mu.Lock()
	s.finished++
	secondOfPair := s.finished%2 == 0
	var resume chan struct{}
	if secondOfPair && s.resume == nil {
		resume = make(chan struct{})
		s.resume = resume
	}
	s.mu.Unlock()

	delay := s.randomDelay()
	if err := s.sleep(ctx, delay); err != nil {
		s.logger.Debug("pacing interrupted", "error", err)
	}

	if resume != nil {
		s.mu.Lock()
		s.resume = nil
		s.mu.Unlock()
		close(resume)
	}
}

func (s *Scheduler) randomDelay() time.Duration {
	span := int64(s.ceiling - s.floor)
	if span <= 0 {
		return s.floor
	}
	return s.floor + time.Duration(s.randInt(span+1))
}

// waitResumed blocks while the scheduler is paused.
func (s *Scheduler) waitResumed(ctx context.Context) error {
	for {
		s.mu.Lock()
		ch := s.resume
		s.mu.Unlock()
		if ch == nil {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Scheduler) publish(task *Task) {
	if s.statusCh == nil {
		return
	}
	select {
	case s.statusCh <- task.Info():
	default:
	}
}

// Drain blocks until every submitted task is terminal and returns the
// failures joined, each as a *TaskError.
func (s *Scheduler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	var errs []error
	for _, info := range s.Snapshot() {
		if info.Status == StatusFailed {
			errs = append(errs, &TaskError{Name: info.Name, Err: info.Err})
		}
	}
	return errors.Join(errs...)
}

// Snapshot returns every submitted task in submission order.
func (s *Scheduler) Snapshot() []TaskInfo {
	s.mu.Lock()
	tasks := make([]*Task, len(s.order))
	copy(tasks, s.order)
	s.mu.Unlock()

	infos := make([]TaskInfo, 0, len(tasks))
	for _, t := range tasks {
		infos = append(infos, t.Info())
	}
	return infos
}

// Task returns the latest task submitted under name.
func (s *Scheduler) Task(name string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	return t, ok
}

// Counts returns the number of tasks per status.
func (s *Scheduler) Counts() map[Status]int {
	counts := make(map[Status]int, 4)
	for _, info := range s.Snapshot() {
		counts[info.Status]++
	}
	return counts
}
