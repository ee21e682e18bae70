// Package scheduler runs tasks one at a time from an ordered queue, honoring
// declared dependencies.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aristath/taskpilot/internal/config"
	"github.com/aristath/taskpilot/internal/events"
	"github.com/aristath/taskpilot/internal/metrics"
	"github.com/aristath/taskpilot/internal/task"
)

// State is the scheduler lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopping
	StateStopped
)

var stateNames = [...]string{"Idle", "Running", "Paused", "Stopping", "Stopped"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

var (
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrNotRunning     = errors.New("scheduler is not running")
	ErrNotPaused      = errors.New("scheduler is not paused")
	ErrBusy           = errors.New("scheduler is running")
	ErrStopped        = errors.New("scheduler is stopped")
	ErrDuplicateTask  = errors.New("duplicate task id")
)

// Defaults for pacing and deadlock confirmation.
const (
	DefaultInterTaskDelay = 500 * time.Millisecond
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultDeadlockPolls  = 3
)

// Hooks are lifecycle callbacks invoked synchronously from the run loop.
type Hooks struct {
	OnTaskStart         func(t *task.Task)
	OnTaskComplete      func(t *task.Task, res task.Result)
	OnTaskFailed        func(t *task.Task, res task.Result)
	OnSchedulerComplete func(sum Summary)
	OnSchedulerError    func(err error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithHandle sets the executor handle passed to every task.
func WithHandle(h any) Option { return func(s *Scheduler) { s.handle = h } }

// WithShared sets the shared context. A fresh one is created otherwise.
func WithShared(shared *task.Shared) Option {
	return func(s *Scheduler) {
		if shared != nil {
			s.shared = shared
		}
	}
}

func WithHooks(h Hooks) Option { return func(s *Scheduler) { s.hooks = h } }

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithEventBus(bus *events.EventBus) Option { return func(s *Scheduler) { s.bus = bus } }

func WithMetrics(rec *metrics.Recorder) Option { return func(s *Scheduler) { s.rec = rec } }

// WithBreakers enables per-kind circuit breakers.
func WithBreakers(r *BreakerRegistry) Option { return func(s *Scheduler) { s.breakers = r } }

// WithInterTaskDelay sets the pause between two tasks.
func WithInterTaskDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.interTaskDelay = d
		}
	}
}

// WithPollInterval sets how long the loop waits when nothing is executable.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.pollInterval = d
		}
	}
}

// WithDeadlockPolls sets how many consecutive empty polls confirm a deadlock.
func WithDeadlockPolls(n int) Option {
	return func(s *Scheduler) {
		if n >= 1 {
			s.deadlockPolls = n
		}
	}
}

// WithConfig applies pacing and deadlock settings from cfg.
func WithConfig(cfg config.SchedulerConfig) Option {
	return func(s *Scheduler) {
		WithInterTaskDelay(cfg.InterTaskDelay)(s)
		if cfg.PollInterval > 0 {
			s.pollInterval = cfg.PollInterval
		}
		WithDeadlockPolls(cfg.DeadlockPolls)(s)
	}
}

// Scheduler owns the pending queue and the running, completed and failed
// sets. A task id is a member of exactly one of them at any time. A
// Scheduler executes once; build a new one for the next run.
type Scheduler struct {
	mu sync.Mutex

	queue     []*task.Task
	running   map[string]*task.Task
	completed map[string]*task.Task
	failed    map[string]*task.Task
	// finish order for Tasks()
	completedIDs []string
	failedIDs    []string

	state     State
	gate      chan struct{} // closed on resume
	cancel    context.CancelFunc
	startedAt time.Time
	endedAt   time.Time
	wake      chan struct{}

	handle         any
	shared         *task.Shared
	hooks          Hooks
	logger         *slog.Logger
	bus            *events.EventBus
	rec            *metrics.Recorder
	breakers       *BreakerRegistry
	interTaskDelay time.Duration
	pollInterval   time.Duration
	deadlockPolls  int
}

// New creates an idle scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		running:        make(map[string]*task.Task),
		completed:      make(map[string]*task.Task),
		failed:         make(map[string]*task.Task),
		wake:           make(chan struct{}, 1),
		shared:         task.NewShared(nil),
		logger:         slog.Default(),
		interTaskDelay: DefaultInterTaskDelay,
		pollInterval:   DefaultPollInterval,
		deadlockPolls:  DefaultDeadlockPolls,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Shared returns the shared execution context.
func (s *Scheduler) Shared() *task.Shared { return s.shared }

// AddTask appends t to the pending queue and returns its id.
func (s *Scheduler) AddTask(t *task.Task) (string, error) {
	ids, err := s.AddTasks(t)
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// AddTasks appends ts to the pending queue in order. Either all tasks are
// queued or none are.
func (s *Scheduler) AddTasks(ts ...*task.Task) ([]string, error) {
	s.mu.Lock()
	if s.state == StateStopping || s.state == StateStopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	seen := make(map[string]bool, len(ts))
	for _, t := range ts {
		if t == nil {
			s.mu.Unlock()
			return nil, errors.New("nil task")
		}
		id := t.ID()
		if seen[id] || s.knownLocked(id) {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTask, id)
		}
		if st := t.Status(); st != task.StatusPending {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: task %s is %s", task.ErrNotPending, id, st)
		}
		seen[id] = true
	}

	ids := make([]string, 0, len(ts))
	for _, t := range ts {
		s.queue = append(s.queue, t)
		ids = append(ids, t.ID())
	}
	s.mu.Unlock()

	for _, t := range ts {
		s.bus.Emit(events.TaskQueuedEvent{ID: t.ID(), Name: t.Name(), Kind: t.KindName(), Timestamp: time.Now()})
	}
	s.signal()
	s.publishProgress()
	return ids, nil
}

// RemoveTask removes a task from the pending queue. Running and finished
// tasks cannot be removed.
func (s *Scheduler) RemoveTask(id string) bool {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue[:i], s.queue[i+1:]...)
	s.mu.Unlock()

	s.publishProgress()
	return true
}

// MoveTaskUp swaps a pending task with its predecessor. It reports whether
// the task moved.
func (s *Scheduler) MoveTaskUp(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i <= 0 {
		return false
	}
	s.queue[i-1], s.queue[i] = s.queue[i], s.queue[i-1]
	return true
}

// MoveTaskDown swaps a pending task with its successor.
func (s *Scheduler) MoveTaskDown(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 || i >= len(s.queue)-1 {
		return false
	}
	s.queue[i], s.queue[i+1] = s.queue[i+1], s.queue[i]
	return true
}

// ExecutableTasks returns the pending tasks whose dependencies have all
// completed, in queue order.
func (s *Scheduler) ExecutableTasks() []*task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executableLocked()
}

// GetTask looks a task up in any set.
func (s *Scheduler) GetTask(id string) (*task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.queue[i], true
	}
	for _, m := range []map[string]*task.Task{s.running, s.completed, s.failed} {
		if t, ok := m[id]; ok {
			return t, true
		}
	}
	return nil, false
}

// Tasks returns every task: queue order first, then running, completed and
// failed tasks.
func (s *Scheduler) Tasks() []*task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*task.Task, 0, len(s.queue)+len(s.running)+len(s.completed)+len(s.failed))
	out = append(out, s.queue...)
	for _, t := range s.running {
		out = append(out, t)
	}
	for _, id := range s.completedIDs {
		out = append(out, s.completed[id])
	}
	for _, id := range s.failedIDs {
		out = append(out, s.failed[id])
	}
	return out
}

// PendingTasks returns a copy of the pending queue.
func (s *Scheduler) PendingTasks() []*task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*task.Task(nil), s.queue...)
}

// Clear drops every task. It fails while a run is in progress.
func (s *Scheduler) Clear() error {
	s.mu.Lock()
	if s.state != StateIdle && s.state != StateStopped {
		s.mu.Unlock()
		return ErrBusy
	}
	s.queue = nil
	s.running = make(map[string]*task.Task)
	s.completed = make(map[string]*task.Task)
	s.failed = make(map[string]*task.Task)
	s.completedIDs = nil
	s.failedIDs = nil
	s.mu.Unlock()

	s.publishProgress()
	return nil
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) IsRunning() bool { return s.State() == StateRunning }

func (s *Scheduler) IsPaused() bool { return s.State() == StatePaused }

// Pause holds the run loop before it picks the next task. The task in flight
// finishes normally.
func (s *Scheduler) Pause() error {
	s.mu.Lock()
	if st := s.state; st != StateRunning {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRunning, st)
	}
	s.gate = make(chan struct{})
	s.setStateLocked(StatePaused)
	s.mu.Unlock()

	s.logger.Info("scheduler paused")
	return nil
}

// Resume releases a paused run loop.
func (s *Scheduler) Resume() error {
	s.mu.Lock()
	if st := s.state; st != StatePaused {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotPaused, st)
	}
	close(s.gate)
	s.gate = nil
	s.setStateLocked(StateRunning)
	s.mu.Unlock()

	s.logger.Info("scheduler resumed")
	return nil
}

// Stop asks the run loop to exit. The task in flight observes cancellation
// through its context; a paused loop is released so it can exit.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if st := s.state; st != StateRunning && st != StatePaused {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRunning, st)
	}
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
	s.setStateLocked(StateStopping)
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.logger.Info("scheduler stop requested")
	return nil
}

// setStateLocked must be called with s.mu held.
func (s *Scheduler) setStateLocked(to State) {
	from := s.state
	s.state = to
	s.bus.Emit(events.SchedulerStateEvent{From: from.String(), To: to.String(), Timestamp: time.Now()})
}

func (s *Scheduler) indexLocked(id string) int {
	for i, t := range s.queue {
		if t.ID() == id {
			return i
		}
	}
	return -1
}

func (s *Scheduler) knownLocked(id string) bool {
	if s.indexLocked(id) >= 0 {
		return true
	}
	_, r := s.running[id]
	_, c := s.completed[id]
	_, f := s.failed[id]
	return r || c || f
}

func (s *Scheduler) completedSetLocked() map[string]struct{} {
	set := make(map[string]struct{}, len(s.completed))
	for id := range s.completed {
		set[id] = struct{}{}
	}
	return set
}

func (s *Scheduler) executableLocked() []*task.Task {
	done := s.completedSetLocked()
	var out []*task.Task
	for _, t := range s.queue {
		if t.Ready(done) {
			out = append(out, t)
		}
	}
	return out
}

// signal wakes a loop waiting on an empty executable set.
func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
