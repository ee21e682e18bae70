package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/taskpilot/internal/config"
	"github.com/aristath/taskpilot/internal/events"
	"github.com/aristath/taskpilot/internal/task"
)

// stubAction succeeds unless fail is set. When gate is non-nil each attempt
// blocks on it after signalling entered.
type stubAction struct {
	fail    bool
	message string
	calls   atomic.Int32
	entered chan struct{}
	gate    chan struct{}
}

func (a *stubAction) Description() string                         { return "stub" }
func (a *stubAction) Schema() task.Schema                         { return task.Schema{} }
func (a *stubAction) EstimatedDuration(task.Params) time.Duration { return time.Millisecond }

func (a *stubAction) Execute(ctx context.Context, env task.Env) (task.Result, error) {
	n := a.calls.Add(1)
	if a.entered != nil {
		a.entered <- struct{}{}
	}
	if a.gate != nil {
		select {
		case <-a.gate:
		case <-ctx.Done():
			return task.Result{}, ctx.Err()
		}
	}
	if a.fail {
		msg := a.message
		if msg == "" {
			msg = "failed"
		}
		return task.Fail(msg, nil), nil
	}
	return task.Ok("ok", int(n)), nil
}

func newTask(id string, a task.Action, deps ...string) *task.Task {
	return task.New(task.KindCustom, a,
		task.WithID(id),
		task.WithName(id),
		task.WithBackoff(time.Millisecond, time.Millisecond),
		task.WithDependencies(deps...),
	)
}

func fastScheduler(opts ...Option) *Scheduler {
	base := []Option{
		WithInterTaskDelay(0),
		WithPollInterval(time.Millisecond),
		WithDeadlockPolls(3),
	}
	return New(append(base, opts...)...)
}

type reporter interface {
	Helper()
	Errorf(format string, args ...any)
}

// checkPartition verifies every id is in exactly one set.
func checkPartition(t reporter, s *Scheduler, ids []string) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		n := 0
		if s.indexLocked(id) >= 0 {
			n++
		}
		for _, m := range []map[string]*task.Task{s.running, s.completed, s.failed} {
			if _, ok := m[id]; ok {
				n++
			}
		}
		if n != 1 {
			t.Errorf("task %s is in %d sets, want 1", id, n)
		}
	}
}

func TestExecuteDependentTasks(t *testing.T) {
	s := fastScheduler()
	a := newTask("A", &stubAction{})
	b := newTask("B", &stubAction{}, "A")
	// Queue B first: it must still wait for A.
	if _, err := s.AddTasks(b, a); err != nil {
		t.Fatalf("AddTasks: %v", err)
	}

	sum, err := s.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if sum.TotalTasks != 2 || sum.SuccessCount != 2 || sum.FailedCount != 0 {
		t.Errorf("summary = %+v, want 2/2/0", sum)
	}
	if sum.SuccessRate != 100 {
		t.Errorf("success rate = %v, want 100", sum.SuccessRate)
	}
	if !a.CompletedAt().Before(b.StartedAt()) && !a.CompletedAt().Equal(b.StartedAt()) {
		t.Errorf("A completed at %v, after B started at %v", a.CompletedAt(), b.StartedAt())
	}
	if got := sum.Completed; len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Errorf("completion order = %v, want [A B]", got)
	}
	if s.State() != StateStopped {
		t.Errorf("state = %v, want Stopped", s.State())
	}

	payload, ok := s.Shared().Get(task.ResultKey("A"))
	if !ok || payload != 1 {
		t.Errorf("shared result for A = %v, %v", payload, ok)
	}
}

func TestExecuteRetriesThenFails(t *testing.T) {
	s := fastScheduler()
	a := &stubAction{fail: true, message: "timeout"}
	tk := newTask("T", a)
	tk.SetMaxRetries(2)
	if _, err := s.AddTask(tk); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	sum, err := s.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if tk.Status() != task.StatusFailed {
		t.Errorf("status = %v, want Failed", tk.Status())
	}
	if tk.RetryCount() != 2 {
		t.Errorf("retry count = %d, want 2", tk.RetryCount())
	}
	if got := a.calls.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	if sum.FailedCount != 1 {
		t.Errorf("failed count = %d, want 1", sum.FailedCount)
	}
	if sum.FailureReasons["timeout"] != 1 {
		t.Errorf("failure reasons = %v", sum.FailureReasons)
	}
}

func TestExecuteDetectsMissingDependency(t *testing.T) {
	var hookErr error
	s := fastScheduler(WithHooks(Hooks{OnSchedulerError: func(err error) { hookErr = err }}))
	c := newTask("C", &stubAction{}, "missing-id")
	if _, err := s.AddTask(c); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	done := make(chan struct{})
	var (
		sum Summary
		err error
	)
	go func() {
		sum, err = s.Execute(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not return on deadlock")
	}

	if !errors.Is(err, ErrDeadlock) {
		t.Fatalf("err = %v, want ErrDeadlock", err)
	}
	var de *DeadlockError
	if !errors.As(err, &de) {
		t.Fatalf("err is %T, want *DeadlockError", err)
	}
	if got := de.Missing["C"]; len(got) != 1 || got[0] != "missing-id" {
		t.Errorf("missing = %v", de.Missing)
	}
	if !sum.Incomplete {
		t.Error("summary not marked incomplete")
	}
	if sum.Remaining != 1 {
		t.Errorf("remaining = %d, want 1", sum.Remaining)
	}
	if !errors.Is(hookErr, ErrDeadlock) {
		t.Errorf("OnSchedulerError got %v", hookErr)
	}
	if c.Status() != task.StatusPending {
		t.Errorf("deadlocked task status = %v, want Pending", c.Status())
	}
}

func TestDeadlockDiagnosis(t *testing.T) {
	tests := []struct {
		name      string
		tasks     []*task.Task
		wantCycle bool
		wantFail  string
	}{
		{
			name: "cycle",
			tasks: []*task.Task{
				newTask("A", &stubAction{}, "B"),
				newTask("B", &stubAction{}, "A"),
			},
			wantCycle: true,
		},
		{
			name: "failed dependency",
			tasks: []*task.Task{
				newTask("A", &stubAction{fail: true}),
				newTask("B", &stubAction{}, "A"),
			},
			wantFail: "B",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, tk := range tt.tasks {
				tk.SetMaxRetries(0)
			}
			s := fastScheduler()
			if _, err := s.AddTasks(tt.tasks...); err != nil {
				t.Fatalf("AddTasks: %v", err)
			}
			_, err := s.Execute(context.Background())
			var de *DeadlockError
			if !errors.As(err, &de) {
				t.Fatalf("err = %v, want *DeadlockError", err)
			}
			if tt.wantCycle && !errors.Is(de.Cycle, ErrCycle) {
				t.Errorf("cycle = %v, want ErrCycle", de.Cycle)
			}
			if tt.wantFail != "" {
				if _, ok := de.Failed[tt.wantFail]; !ok {
					t.Errorf("failed deps = %v, want entry for %s", de.Failed, tt.wantFail)
				}
			}
		})
	}
}

func TestPauseHoldsQueue(t *testing.T) {
	first := &stubAction{entered: make(chan struct{}, 1), gate: make(chan struct{})}
	second := &stubAction{}
	s := fastScheduler()
	if _, err := s.AddTasks(newTask("first", first), newTask("second", second)); err != nil {
		t.Fatalf("AddTasks: %v", err)
	}

	done := make(chan Summary, 1)
	go func() {
		sum, _ := s.Execute(context.Background())
		done <- sum
	}()

	<-first.entered
	if err := s.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	close(first.gate)

	// The running task finishes, nothing else starts.
	deadline := time.Now().Add(2 * time.Second)
	for s.Progress().Completed != 1 {
		if time.Now().After(deadline) {
			t.Fatal("first task did not complete while paused")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if got := second.calls.Load(); got != 0 {
		t.Fatalf("second task ran %d times while paused", got)
	}
	p := s.Progress()
	if p.State.String() != "Paused" {
		t.Errorf("progress state = %s, want Paused", p.State)
	}
	if p.Pending != 1 {
		t.Errorf("pending = %d, want 1", p.Pending)
	}

	if err := s.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	select {
	case sum := <-done:
		if sum.SuccessCount != 2 {
			t.Errorf("success count = %d, want 2", sum.SuccessCount)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not finish after resume")
	}
}

func TestStopCancelsRunningTask(t *testing.T) {
	blocked := &stubAction{entered: make(chan struct{}, 1), gate: make(chan struct{})}
	s := fastScheduler()
	if _, err := s.AddTasks(newTask("blocked", blocked), newTask("next", &stubAction{})); err != nil {
		t.Fatalf("AddTasks: %v", err)
	}

	done := make(chan struct{})
	var (
		sum Summary
		err error
	)
	go func() {
		sum, err = s.Execute(context.Background())
		close(done)
	}()

	<-blocked.entered
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	<-done

	if err != nil {
		t.Fatalf("Execute after Stop returned %v", err)
	}
	if !sum.Stopped {
		t.Error("summary not marked stopped")
	}
	tk, _ := s.GetTask("blocked")
	if tk.Status() != task.StatusCancelled {
		t.Errorf("blocked status = %v, want Cancelled", tk.Status())
	}
	if sum.FailedCount != 1 || sum.Remaining != 1 {
		t.Errorf("summary = %+v, want 1 failed and 1 remaining", sum)
	}
	if err := s.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Stop = %v, want ErrNotRunning", err)
	}
}

func TestStopWhilePaused(t *testing.T) {
	first := &stubAction{entered: make(chan struct{}, 1), gate: make(chan struct{})}
	s := fastScheduler()
	_, _ = s.AddTasks(newTask("first", first), newTask("second", &stubAction{}))

	done := make(chan Summary, 1)
	go func() {
		sum, _ := s.Execute(context.Background())
		done <- sum
	}()
	<-first.entered
	_ = s.Pause()
	close(first.gate)
	for s.Progress().Completed != 1 {
		time.Sleep(time.Millisecond)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case sum := <-done:
		if !sum.Stopped || sum.Remaining != 1 {
			t.Errorf("summary = %+v", sum)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("paused scheduler did not stop")
	}
}

func TestRemoveTask(t *testing.T) {
	running := &stubAction{entered: make(chan struct{}, 1), gate: make(chan struct{})}
	s := fastScheduler()
	_, _ = s.AddTasks(newTask("running", running), newTask("pending", &stubAction{}), newTask("other", &stubAction{}))

	done := make(chan struct{})
	go func() {
		_, _ = s.Execute(context.Background())
		close(done)
	}()
	<-running.entered

	if s.RemoveTask("running") {
		t.Error("RemoveTask removed a running task")
	}
	if !s.RemoveTask("pending") {
		t.Error("RemoveTask did not remove a pending task")
	}
	for _, tk := range s.ExecutableTasks() {
		if tk.ID() == "pending" {
			t.Error("removed task still executable")
		}
	}
	if s.RemoveTask("missing") {
		t.Error("RemoveTask reported an unknown id")
	}
	close(running.gate)
	<-done

	if _, ok := s.GetTask("pending"); ok {
		t.Error("removed task still known")
	}
}

func TestQueueOrdering(t *testing.T) {
	s := fastScheduler()
	_, _ = s.AddTasks(newTask("a", &stubAction{}), newTask("b", &stubAction{}), newTask("c", &stubAction{}, "a"))

	ids := func() []string {
		var out []string
		for _, tk := range s.PendingTasks() {
			out = append(out, tk.ID())
		}
		return out
	}

	if s.MoveTaskUp("a") {
		t.Error("MoveTaskUp moved the head")
	}
	if s.MoveTaskDown("c") {
		t.Error("MoveTaskDown moved the tail")
	}
	if !s.MoveTaskUp("c") {
		t.Error("MoveTaskUp(c) returned false")
	}
	if got := ids(); got[0] != "a" || got[1] != "c" || got[2] != "b" {
		t.Errorf("queue = %v, want [a c b]", got)
	}
	if !s.MoveTaskDown("a") {
		t.Error("MoveTaskDown(a) returned false")
	}
	if got := ids(); got[0] != "c" || got[1] != "a" || got[2] != "b" {
		t.Errorf("queue = %v, want [c a b]", got)
	}

	// c waits for a, so a is the first executable task.
	exec := s.ExecutableTasks()
	if len(exec) != 2 || exec[0].ID() != "a" || exec[1].ID() != "b" {
		t.Errorf("executable = %v", exec)
	}
}

func TestAddTaskValidation(t *testing.T) {
	s := fastScheduler()
	if _, err := s.AddTask(newTask("x", &stubAction{})); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if _, err := s.AddTask(newTask("x", &stubAction{})); !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("duplicate add = %v, want ErrDuplicateTask", err)
	}
	if _, err := s.AddTasks(newTask("y", &stubAction{}), newTask("y", &stubAction{})); !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("duplicate batch = %v, want ErrDuplicateTask", err)
	}
	if got := len(s.PendingTasks()); got != 1 {
		t.Errorf("pending = %d after rejected batch, want 1", got)
	}

	done := newTask("done", &stubAction{})
	done.Cancel("pre-cancelled")
	if _, err := s.AddTask(done); !errors.Is(err, task.ErrNotPending) {
		t.Errorf("finished task add = %v, want ErrNotPending", err)
	}
}

func TestExecuteOnlyOnce(t *testing.T) {
	s := fastScheduler()
	if _, err := s.Execute(context.Background()); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	if _, err := s.Execute(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Execute = %v, want ErrAlreadyStarted", err)
	}
	if _, err := s.AddTask(newTask("late", &stubAction{})); !errors.Is(err, ErrStopped) {
		t.Errorf("AddTask after run = %v, want ErrStopped", err)
	}
	if err := s.Clear(); err != nil {
		t.Errorf("Clear after run: %v", err)
	}
}

func TestCallerContextCancel(t *testing.T) {
	blocked := &stubAction{entered: make(chan struct{}, 1), gate: make(chan struct{})}
	s := fastScheduler()
	_, _ = s.AddTask(newTask("blocked", blocked))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Execute(ctx)
		done <- err
	}()
	<-blocked.entered
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Execute = %v, want context.Canceled", err)
	}
}

func TestHooksAndEvents(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()
	sub := bus.SubscribeAll(64)

	var (
		mu    sync.Mutex
		calls []string
	)
	record := func(s string) {
		mu.Lock()
		calls = append(calls, s)
		mu.Unlock()
	}
	hooks := Hooks{
		OnTaskStart:         func(tk *task.Task) { record("start:" + tk.ID()) },
		OnTaskComplete:      func(tk *task.Task, _ task.Result) { record("complete:" + tk.ID()) },
		OnTaskFailed:        func(tk *task.Task, _ task.Result) { record("failed:" + tk.ID()) },
		OnSchedulerComplete: func(Summary) { record("done") },
	}

	s := fastScheduler(WithHooks(hooks), WithEventBus(bus))
	bad := newTask("bad", &stubAction{fail: true})
	bad.SetMaxRetries(0)
	_, _ = s.AddTasks(newTask("good", &stubAction{}), bad)
	if _, err := s.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	want := []string{"start:good", "complete:good", "start:bad", "failed:bad", "done"}
	mu.Lock()
	defer mu.Unlock()
	if len(calls) != len(want) {
		t.Fatalf("hook calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("hook %d = %s, want %s", i, calls[i], want[i])
		}
	}

	seen := map[string]bool{}
	timeout := time.After(time.Second)
	for !seen[events.EventTypeSchedulerDone] {
		select {
		case ev := <-sub:
			seen[ev.EventType()] = true
		case <-timeout:
			t.Fatalf("events seen = %v, no scheduler.done", seen)
		}
	}
	for _, typ := range []string{events.EventTypeTaskQueued, events.EventTypeTaskStarted, events.EventTypeTaskCompleted, events.EventTypeTaskFailed, events.EventTypeSchedulerState} {
		if !seen[typ] {
			t.Errorf("missing event %s", typ)
		}
	}
}

func TestBreakerSkipsKindAfterFailures(t *testing.T) {
	reg := NewBreakerRegistry(config.BreakerConfig{Enabled: true, FailureThreshold: 2, Cooldown: time.Hour}, nil, nil)
	s := fastScheduler(WithBreakers(reg))

	var tasks []*task.Task
	for _, id := range []string{"f1", "f2", "f3"} {
		tk := newTask(id, &stubAction{fail: true})
		tk.SetMaxRetries(0)
		tasks = append(tasks, tk)
	}
	_, _ = s.AddTasks(tasks...)

	sum, err := s.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if sum.FailedCount != 3 {
		t.Errorf("failed = %d, want 3", sum.FailedCount)
	}
	if tasks[2].Status() != task.StatusSkipped {
		t.Errorf("third task status = %v, want Skipped", tasks[2].Status())
	}
	if st, ok := reg.State("custom"); !ok || st.String() != "open" {
		t.Errorf("breaker state = %v, %v", st, ok)
	}
}

func TestProgress(t *testing.T) {
	s := fastScheduler()
	_, _ = s.AddTasks(newTask("a", &stubAction{}), newTask("b", &stubAction{fail: true}))
	p := s.Progress()
	if p.Total != 2 || p.Pending != 2 || p.State != StateIdle || p.PercentComplete != 0 {
		t.Errorf("idle progress = %+v", p)
	}

	_, _ = s.Execute(context.Background())
	p = s.Progress()
	if p.Completed != 1 || p.Failed != 1 || p.PercentComplete != 100 || p.SuccessRate != 50 {
		t.Errorf("final progress = %+v", p)
	}
	if p.Elapsed <= 0 {
		t.Error("elapsed not recorded")
	}
	if got := len(s.Tasks()); got != 2 {
		t.Errorf("Tasks() = %d, want 2", got)
	}
}

func TestPartitionDuringRun(t *testing.T) {
	ids := []string{"a", "b", "c"}
	var s *Scheduler
	check := func(*task.Task) { checkPartition(t, s, ids) }
	s = fastScheduler(WithHooks(Hooks{
		OnTaskStart:    check,
		OnTaskComplete: func(tk *task.Task, _ task.Result) { check(tk) },
	}))
	_, _ = s.AddTasks(newTask("a", &stubAction{}), newTask("b", &stubAction{}, "a"), newTask("c", &stubAction{}, "b"))
	if _, err := s.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	checkPartition(t, s, ids)
}

// Run with -race: control calls must not touch scheduler state outside the lock.
func TestControlCallsConcurrentWithExecute(t *testing.T) {
	s := fastScheduler()
	ids := make([]string, 0, 40)
	for i := 0; i < 40; i++ {
		id := "t" + string(rune('A'+i%26)) + string(rune('a'+i/26))
		ids = append(ids, id)
		if _, err := s.AddTask(newTask(id, &stubAction{})); err != nil {
			t.Fatalf("AddTask: %v", err)
		}
	}

	done := make(chan Summary, 1)
	go func() {
		sum, err := s.Execute(context.Background())
		if err != nil {
			t.Errorf("Execute: %v", err)
		}
		done <- sum
	}()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				_ = s.Pause()
				_ = s.Resume()
				_ = s.Progress()
				_ = s.MoveTaskUp(ids[(i+w)%len(ids)])
				_ = s.MoveTaskDown(ids[(i+2*w)%len(ids)])
				_ = s.State()
			}
		}(w)
	}

	time.Sleep(20 * time.Millisecond)
	close(stop)
	wg.Wait()
	_ = s.Resume()

	select {
	case sum := <-done:
		if sum.SuccessCount != len(ids) {
			t.Errorf("succeeded = %d, want %d", sum.SuccessCount, len(ids))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not finish")
	}
	checkPartition(t, s, ids)
}

func TestSummaryJSONUsesSeconds(t *testing.T) {
	sum := Summary{
		TotalTasks:   1,
		SuccessCount: 1,
		Duration:     2500 * time.Millisecond,
		Err:          errors.New("boom"),
	}
	data, err := json.Marshal(sum)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if body["duration_seconds"] != 2.5 || body["error"] != "boom" || body["total_tasks"] != float64(1) {
		t.Errorf("summary JSON = %s", data)
	}
	if _, ok := body["duration"]; ok {
		t.Errorf("summary JSON carries nanoseconds: %s", data)
	}
}
