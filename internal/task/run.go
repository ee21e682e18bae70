package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// attemptError carries a failed attempt's result through the backoff loop.
type attemptError struct{ res Result }

func (e *attemptError) Error() string {
	if e.res.Err != nil {
		return fmt.Sprintf("%s: %v", e.res.Message, e.res.Err)
	}
	return e.res.Message
}

// Run executes the task with validation, retry and status bookkeeping. It is
// the only entry point the scheduler uses.
//
// Failed attempts are retried up to MaxRetries times, sleeping
// 2^attempt * backoff unit between attempts. A cancelled ctx finalizes the
// task as Cancelled and returns ctx.Err(); every other outcome is reported
// through the returned Result with a nil error.
func (t *Task) Run(ctx context.Context, handle any, shared *Shared) (Result, error) {
	if err := t.start(); err != nil {
		return Result{}, err
	}
	logger := t.Logger()

	if err := t.ValidateParameters(); err != nil {
		res := Fail("parameter validation failed", err)
		_ = t.finish(StatusFailed, res)
		logger.Warn("parameter validation failed", "task_id", t.id, "error", err)
		return res, nil
	}

	t.mu.RLock()
	maxRetries := t.maxRetries
	unit, maxWait := t.backoffUnit, t.maxBackoff
	t.mu.RUnlock()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = unit
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = maxWait
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(maxRetries)), ctx)

	var last Result
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		last = t.attempt(ctx, handle, shared)
		if last.Success {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		return &attemptError{res: last}
	}
	notify := func(err error, wait time.Duration) {
		t.mu.Lock()
		t.retryCount++
		n := t.retryCount
		t.mu.Unlock()
		logger.Warn("task attempt failed, retrying",
			"task_id", t.id, "retry", n, "max_retries", maxRetries, "wait", wait, "error", err)
	}

	err := backoff.RetryNotify(operation, policy, notify)
	switch {
	case err == nil:
		_ = t.finish(StatusCompleted, last)
		return last, nil
	case ctx.Err() != nil:
		res := Fail("cancelled", ctx.Err())
		_ = t.finish(StatusCancelled, res)
		return res, ctx.Err()
	}

	var ae *attemptError
	if !errors.As(err, &ae) {
		last = Fail(err.Error(), err)
	}
	_ = t.finish(StatusFailed, last)
	return last, nil
}

// attempt invokes the action once, converting faults into failure results.
func (t *Task) attempt(ctx context.Context, handle any, shared *Shared) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Fail(fmt.Sprintf("unexpected fault: %v", r), fmt.Errorf("panic: %v", r))
		}
	}()

	d := t.Deps()
	env := Env{
		TaskID: t.id,
		Handle: handle,
		Shared: shared,
		Params: t.Params(),
		Logger: t.Logger(),
		Config: d.Config,
	}
	res, err := t.action.Execute(ctx, env)
	if err != nil {
		res = Fail(err.Error(), err)
	}
	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now()
	}
	return res
}
