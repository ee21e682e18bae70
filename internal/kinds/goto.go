package kinds

import (
	"context"
	"time"

	"github.com/aristath/taskpilot/internal/driver"
	"github.com/aristath/taskpilot/internal/task"
)

// GotoURL opens a page.
//
// Reads session.logged_in when check_login is set. Writes current_post_url.
type GotoURL struct {
	unit time.Duration
}

func (*GotoURL) Description() string { return "Open a page" }

func (*GotoURL) Schema() task.Schema {
	return task.Schema{
		"url":         {Type: task.ParamString, Description: "Page to open", Required: true},
		"wait_time":   {Type: task.ParamInteger, Description: "Seconds to let the page settle", Default: 3, Min: task.Bound(1), Max: task.Bound(30)},
		"check_login": {Type: task.ParamBoolean, Description: "Fail unless a login task succeeded", Default: false},
	}
}

func (*GotoURL) EstimatedDuration(p task.Params) time.Duration {
	return seconds(float64(p.Int("wait_time", 3) + 2))
}

func (g *GotoURL) Execute(ctx context.Context, env task.Env) (task.Result, error) {
	d, err := driverFrom(env)
	if err != nil {
		return task.Fail(err.Error(), err), nil
	}
	if env.Params.Bool("check_login", false) {
		if ok, _ := task.Lookup[bool](env.Shared, task.KeyLoggedIn); !ok {
			return task.Fail("not logged in", nil), nil
		}
	}

	if err := d.Navigate(ctx, env.Params.String("url")); err != nil {
		return task.Fail("open page", err), nil
	}
	unit := g.unit
	if unit <= 0 {
		unit = time.Second
	}
	if err := driver.Sleep(ctx, time.Duration(env.Params.Int("wait_time", 3))*unit); err != nil {
		return task.Result{}, err
	}

	current := d.CurrentURL()
	env.Shared.Set(task.KeyCurrentPostURL, current)
	return task.Ok("opened "+current, current), nil
}
