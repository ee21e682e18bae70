package kinds

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/aristath/taskpilot/internal/driver"
	"github.com/aristath/taskpilot/internal/task"
)

// scroll distance and interval per speed setting
var scrollSpeeds = map[string]struct {
	pixels int
	every  time.Duration
}{
	"SLOW":   {pixels: 200, every: 3 * time.Second},
	"MEDIUM": {pixels: 400, every: 2 * time.Second},
	"FAST":   {pixels: 700, every: time.Second},
}

// ScrollRead scrolls through the current page to simulate reading.
//
// Reads current_post_url.
type ScrollRead struct {
	// step overrides the scroll interval; tests use it to run quickly.
	step time.Duration
}

func (*ScrollRead) Description() string { return "Scroll through the page while reading" }

func (*ScrollRead) Schema() task.Schema {
	return task.Schema{
		"duration":          {Type: task.ParamInteger, Description: "Seconds to read", Default: 60, Min: task.Bound(10), Max: task.Bound(300)},
		"scroll_speed":      {Type: task.ParamChoice, Description: "Scroll pace", Default: "MEDIUM", Choices: []string{"SLOW", "MEDIUM", "FAST"}},
		"pause_probability": {Type: task.ParamFloat, Description: "Chance of pausing between scrolls", Default: 0.3, Min: task.Bound(0), Max: task.Bound(1)},
	}
}

func (*ScrollRead) EstimatedDuration(p task.Params) time.Duration {
	return seconds(float64(p.Int("duration", 60)))
}

func (s *ScrollRead) Execute(ctx context.Context, env task.Env) (task.Result, error) {
	d, err := driverFrom(env)
	if err != nil {
		return task.Fail(err.Error(), err), nil
	}
	if target, ok := task.Lookup[string](env.Shared, task.KeyCurrentPostURL); ok && target != "" && d.CurrentURL() != target {
		if err := d.Navigate(ctx, target); err != nil {
			return task.Fail("open post", err), nil
		}
	}

	speed, ok := scrollSpeeds[env.Params.String("scroll_speed")]
	if !ok {
		speed = scrollSpeeds["MEDIUM"]
	}
	every := speed.every
	if s.step > 0 {
		every = s.step
	}
	total := seconds(float64(env.Params.Int("duration", 60)))
	if s.step > 0 {
		total = time.Duration(env.Params.Int("duration", 60)) * s.step
	}
	pause := env.Params.Float("pause_probability", 0.3)

	deadline := time.Now().Add(total)
	scrolls := 0
	for time.Now().Before(deadline) {
		if err := d.Scroll(ctx, speed.pixels); err != nil {
			return task.Fail("scroll", err), nil
		}
		scrolls++
		wait := every
		if rand.Float64() < pause {
			wait *= 2
		}
		if remaining := time.Until(deadline); wait > remaining {
			wait = remaining
		}
		if err := driver.Sleep(ctx, wait); err != nil {
			return task.Result{}, err
		}
	}
	return task.Ok(fmt.Sprintf("scrolled %d times", scrolls), scrolls), nil
}
