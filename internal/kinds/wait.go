package kinds

import (
	"context"
	"time"

	"github.com/aristath/taskpilot/internal/driver"
	"github.com/aristath/taskpilot/internal/task"
)

// Wait pauses the pipeline for a randomized duration. It needs no executor handle.
type Wait struct {
	// unit is the length of one "second"; zero means time.Second.
	unit time.Duration
}

func (*Wait) Description() string { return "Wait before the next task" }

func (*Wait) Schema() task.Schema {
	return task.Schema{
		"duration":        {Type: task.ParamInteger, Description: "Seconds to wait", Required: true, Default: 10, Min: task.Bound(1), Max: task.Bound(600)},
		"random_variance": {Type: task.ParamFloat, Description: "Random variance as a fraction of duration", Default: 0.2, Min: task.Bound(0), Max: task.Bound(1)},
	}
}

func (*Wait) EstimatedDuration(p task.Params) time.Duration {
	return seconds(float64(p.Int("duration", 10)))
}

func (w *Wait) Execute(ctx context.Context, env task.Env) (task.Result, error) {
	unit := w.unit
	if unit <= 0 {
		unit = time.Second
	}
	d := jitter(time.Duration(env.Params.Int("duration", 10))*unit, env.Params.Float("random_variance", 0.2))
	if err := driver.Sleep(ctx, d); err != nil {
		return task.Result{}, err
	}
	return task.Ok("waited "+d.Round(time.Millisecond).String(), d), nil
}
