package kinds

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/taskpilot/internal/driver"
	"github.com/aristath/taskpilot/internal/task"
)

// Loop repeats a body of sub-tasks. Sub-tasks run through their own Run
// wrapper, so each keeps its retry policy.
//
// Writes loop.iteration before each pass.
type Loop struct {
	body []*task.Task
	unit time.Duration
}

// NewLoop returns a loop action around body.
func NewLoop(body ...*task.Task) *Loop {
	return &Loop{body: body}
}

// SetBody replaces the tasks run on every iteration.
func (l *Loop) SetBody(body []*task.Task) { l.body = body }

// Body returns the tasks run on every iteration.
func (l *Loop) Body() []*task.Task { return l.body }

func (*Loop) Description() string { return "Repeat a group of tasks" }

func (*Loop) Schema() task.Schema {
	return task.Schema{
		"repeat_count":      {Type: task.ParamInteger, Description: "Number of passes", Default: 1, Min: task.Bound(1), Max: task.Bound(100)},
		"delay_between":     {Type: task.ParamFloat, Description: "Seconds between passes", Default: 2.0, Min: task.Bound(0), Max: task.Bound(60)},
		"continue_on_error": {Type: task.ParamBoolean, Description: "Keep going after a failed sub-task", Default: true},
	}
}

func (l *Loop) EstimatedDuration(p task.Params) time.Duration {
	var pass time.Duration
	for _, t := range l.body {
		pass += t.EstimatedDuration()
	}
	n := p.Int("repeat_count", 1)
	return time.Duration(n)*pass + time.Duration(n-1)*seconds(p.Float("delay_between", 2))
}

func (l *Loop) Execute(ctx context.Context, env task.Env) (task.Result, error) {
	if len(l.body) == 0 {
		return task.Fail("loop has no tasks", nil), nil
	}
	n := env.Params.Int("repeat_count", 1)
	keepGoing := env.Params.Bool("continue_on_error", true)
	unit := l.unit
	if unit <= 0 {
		unit = time.Second
	}
	delay := time.Duration(env.Params.Float("delay_between", 2) * float64(unit))

	succeeded, failed := 0, 0
	for i := 1; i <= n; i++ {
		if i > 1 {
			if err := driver.Sleep(ctx, delay); err != nil {
				return task.Result{}, err
			}
		}
		env.Shared.Set(task.KeyLoopIteration, i)

		for _, sub := range l.body {
			if err := sub.Reset(); err != nil {
				return task.Result{}, fmt.Errorf("reset %s: %w", sub.Name(), err)
			}
			res, err := sub.Run(ctx, env.Handle, env.Shared)
			if err != nil {
				return task.Result{}, err
			}
			if res.Success {
				succeeded++
				continue
			}
			failed++
			env.Logger.Warn("loop sub-task failed", "iteration", i, "task", sub.Name(), "message", res.Message)
			if !keepGoing {
				return task.Fail(fmt.Sprintf("iteration %d: %s failed: %s", i, sub.Name(), res.Message), res.Err), nil
			}
		}
	}

	payload := map[string]int{"iterations": n, "succeeded": succeeded, "failed": failed}
	return task.Ok(fmt.Sprintf("%d passes, %d sub-tasks failed", n, failed), payload), nil
}
