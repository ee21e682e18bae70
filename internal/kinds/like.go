package kinds

import (
	"context"
	"strings"
	"time"

	"github.com/aristath/taskpilot/internal/task"
)

// ClickLike likes the current post.
//
// Reads current_post_url. Appends to liked_posts.
type ClickLike struct{}

func (*ClickLike) Description() string { return "Like the current post" }

func (*ClickLike) Schema() task.Schema {
	return task.Schema{
		"skip_if_already_liked": {Type: task.ParamBoolean, Description: "Do nothing when the post is already liked", Default: true},
		"like_selector":         {Type: task.ParamString, Description: "Like button", Default: "button.like"},
	}
}

func (*ClickLike) EstimatedDuration(task.Params) time.Duration { return 5 * time.Second }

func (*ClickLike) Execute(ctx context.Context, env task.Env) (task.Result, error) {
	d, err := driverFrom(env)
	if err != nil {
		return task.Fail(err.Error(), err), nil
	}

	target, _ := task.Lookup[string](env.Shared, task.KeyCurrentPostURL)
	if target == "" {
		target = d.CurrentURL()
	}
	if target == "" {
		return task.Fail("no current post", nil), nil
	}
	if d.CurrentURL() != target {
		if err := d.Navigate(ctx, target); err != nil {
			return task.Fail("open post", err), nil
		}
	}

	skip := env.Params.Bool("skip_if_already_liked", true)
	liked, _ := task.Lookup[[]string](env.Shared, task.KeyLiked)
	if skip && contains(liked, target) {
		return task.Ok("already liked", target), nil
	}

	selector := env.Params.String("like_selector")
	buttons, err := d.FindElements(ctx, selector)
	if err != nil {
		return task.Fail("find like button", err), nil
	}
	if len(buttons) == 0 {
		return task.Fail("like button not found", nil), nil
	}
	if skip && isPressed(buttons[0]) {
		task.AppendString(env.Shared, task.KeyLiked, target)
		return task.Ok("already liked", target), nil
	}

	if err := d.Click(ctx, selector); err != nil {
		return task.Fail("click like", err), nil
	}
	task.AppendString(env.Shared, task.KeyLiked, target)
	return task.Ok("liked", target), nil
}

func isPressed(el interface{ Attr(string) string }) bool {
	if el.Attr("aria-pressed") == "true" {
		return true
	}
	for _, c := range strings.Fields(el.Attr("class")) {
		if c == "on" || c == "liked" {
			return true
		}
	}
	return false
}
