package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/taskpilot/internal/events"
	"github.com/aristath/taskpilot/internal/metrics"
	"github.com/aristath/taskpilot/internal/task"
)

// Execute runs the queue until it is empty, Stop is called, ctx ends or no
// queued task can ever become executable. It returns the run summary in
// every case. The error is ErrAlreadyStarted when the scheduler is not idle,
// a *DeadlockError on deadlock, and ctx.Err() when the caller's context
// ended the run. Stop is not an error.
func (s *Scheduler) Execute(ctx context.Context) (Summary, error) {
	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return Summary{}, fmt.Errorf("%w: %s", ErrAlreadyStarted, st)
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancel = cancel
	s.startedAt = time.Now()
	total := len(s.queue)
	s.setStateLocked(StateRunning)
	s.mu.Unlock()

	s.logger.Info("scheduler started", "tasks", total)
	s.publishProgress()

	runErr := s.loop(runCtx)

	s.mu.Lock()
	stopped := s.state == StateStopping
	s.endedAt = time.Now()
	s.cancel = nil
	s.setStateLocked(StateStopped)
	sum := s.summaryLocked()
	s.mu.Unlock()

	var retErr error
	outcome := metrics.RunFinished
	switch {
	case errors.Is(runErr, ErrDeadlock):
		sum.Incomplete = true
		sum.Err = runErr
		retErr = runErr
		outcome = metrics.RunDeadlock
		s.logger.Error("deadlock detected", "error", runErr)
		s.bus.Emit(events.SchedulerErrorEvent{Err: runErr, Timestamp: time.Now()})
		if s.hooks.OnSchedulerError != nil {
			s.hooks.OnSchedulerError(runErr)
		}
	case stopped:
		sum.Stopped = true
		outcome = metrics.RunStopped
	case runErr != nil:
		sum.Stopped = true
		sum.Err = runErr
		outcome = metrics.RunStopped
	}
	// The caller's own context ending is reported even if Stop raced it.
	if ctx.Err() != nil && retErr == nil {
		sum.Stopped = true
		sum.Err = ctx.Err()
		retErr = ctx.Err()
	}

	s.rec.RunFinished(outcome)
	s.publishProgress()
	s.bus.Emit(events.SchedulerDoneEvent{
		Total:      sum.TotalTasks,
		Succeeded:  sum.SuccessCount,
		Failed:     sum.FailedCount,
		Duration:   sum.Duration,
		Incomplete: sum.Incomplete,
		Timestamp:  time.Now(),
	})
	s.logger.Info("scheduler finished",
		"succeeded", sum.SuccessCount,
		"failed", sum.FailedCount,
		"remaining", sum.Remaining,
		"duration", sum.Duration,
		"stopped", sum.Stopped,
		"incomplete", sum.Incomplete,
	)
	if s.hooks.OnSchedulerComplete != nil {
		s.hooks.OnSchedulerComplete(sum)
	}
	return sum, retErr
}

// loop is the run loop. A nil return means the queue drained or Stop was
// called.
func (s *Scheduler) loop(ctx context.Context) error {
	emptyPolls := 0
	for {
		if err := s.waitWhilePaused(ctx); err != nil {
			return s.stopErr(err)
		}

		s.mu.Lock()
		if s.state == StateStopping {
			s.mu.Unlock()
			return nil
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return nil
		}
		t := s.popLocked()
		if t == nil {
			emptyPolls++
			if len(s.running) == 0 && emptyPolls >= s.deadlockPolls {
				de := s.diagnoseLocked()
				s.mu.Unlock()
				return de
			}
			s.mu.Unlock()

			if err := s.poll(ctx); err != nil {
				return s.stopErr(err)
			}
			continue
		}
		emptyPolls = 0
		s.mu.Unlock()

		s.publishProgress()
		s.runTask(ctx, t)
		s.publishProgress()

		if err := sleep(ctx, s.interTaskDelay); err != nil {
			return s.stopErr(err)
		}
	}
}

// popLocked moves the first executable task from the queue into the running
// set, or returns nil.
func (s *Scheduler) popLocked() *task.Task {
	done := s.completedSetLocked()
	for i, t := range s.queue {
		if !t.Ready(done) {
			continue
		}
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		s.running[t.ID()] = t
		return t
	}
	return nil
}

// runTask runs t and moves it into the completed or failed set.
func (s *Scheduler) runTask(ctx context.Context, t *task.Task) {
	id, kind := t.ID(), t.KindName()
	logger := s.logger.With("task_id", id, "task", t.Name(), "kind", kind)

	logger.Info("task started")
	s.bus.Emit(events.TaskStartedEvent{ID: id, Name: t.Name(), Kind: kind, Timestamp: time.Now()})
	if s.hooks.OnTaskStart != nil {
		s.hooks.OnTaskStart(t)
	}

	var (
		res    task.Result
		runErr error
	)
	call := func() (any, error) {
		res, runErr = t.Run(ctx, s.handle, s.shared)
		switch {
		case runErr != nil:
			return nil, runErr
		case !res.Success:
			return nil, errTaskFailed
		}
		return nil, nil
	}
	if s.breakers != nil {
		if _, err := s.breakers.Get(kind).Execute(call); rejected(err) {
			_ = t.Skip(fmt.Sprintf("circuit open for kind %s", kind))
			res = resultOf(t, "skipped", err)
		}
	} else {
		_, _ = call()
	}

	status := t.Status()
	if runErr != nil && !status.Terminal() {
		// Run refused to start the task.
		res = task.Fail(runErr.Error(), runErr)
	}

	s.mu.Lock()
	delete(s.running, id)
	if res.Success {
		s.completed[id] = t
		s.completedIDs = append(s.completedIDs, id)
	} else {
		s.failed[id] = t
		s.failedIDs = append(s.failedIDs, id)
	}
	s.mu.Unlock()

	s.shared.Set(task.ResultKey(id), res.Payload)

	outcome := metrics.OutcomeCompleted
	switch status {
	case task.StatusCancelled:
		outcome = metrics.OutcomeCancelled
	case task.StatusSkipped:
		outcome = metrics.OutcomeSkipped
	case task.StatusCompleted:
	default:
		outcome = metrics.OutcomeFailed
	}
	s.rec.TaskFinished(kind, outcome, t.RetryCount(), t.Duration())

	if res.Success {
		logger.Info("task completed", "message", res.Message, "retries", t.RetryCount(), "duration", t.Duration())
		s.bus.Emit(events.TaskCompletedEvent{
			ID: id, Name: t.Name(), Message: res.Message,
			Retries: t.RetryCount(), Duration: t.Duration(), Timestamp: time.Now(),
		})
		if s.hooks.OnTaskComplete != nil {
			s.hooks.OnTaskComplete(t, res)
		}
		return
	}

	logger.Warn("task failed", "status", status.String(), "message", res.Message, "retries", t.RetryCount(), "error", res.Err)
	s.bus.Emit(events.TaskFailedEvent{
		ID: id, Name: t.Name(), Status: status.String(), Message: res.Message, Err: res.Err,
		Retries: t.RetryCount(), Duration: t.Duration(), Timestamp: time.Now(),
	})
	if s.hooks.OnTaskFailed != nil {
		s.hooks.OnTaskFailed(t, res)
	}
}

// waitWhilePaused blocks while the scheduler is paused.
func (s *Scheduler) waitWhilePaused(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.state != StatePaused {
			s.mu.Unlock()
			return nil
		}
		gate := s.gate
		s.mu.Unlock()

		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// poll waits for the poll interval or until the queue changes.
func (s *Scheduler) poll(ctx context.Context) error {
	timer := time.NewTimer(s.pollInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-s.wake:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stopErr hides the cancellation caused by Stop.
func (s *Scheduler) stopErr(err error) error {
	if s.State() == StateStopping {
		return nil
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
