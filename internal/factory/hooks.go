package factory

import (
	"github.com/aristath/taskpilot/internal/kinds"
	"github.com/aristath/taskpilot/internal/task"
)

// loginHook fills missing credentials from the selected profile.
func loginHook(f *Factory, t *task.Task) {
	params := t.Params()
	if !task.IsEmpty(params["username"]) && !task.IsEmpty(params["password"]) {
		return
	}
	profile, ok := f.cfg.Profile()
	if !ok {
		return
	}

	fill := map[string]any{}
	if task.IsEmpty(params["username"]) {
		fill["username"] = profile.Username
	}
	if task.IsEmpty(params["password"]) && profile.Password != "" {
		if f.secrets == nil {
			t.Logger().Error("profile password is encrypted but no secret store is configured", "profile", f.cfg.CurrentProfile)
		} else if plain, err := f.secrets.Decrypt(profile.Password); err != nil {
			t.Logger().Error("failed to decrypt profile password", "profile", f.cfg.CurrentProfile, "error", err)
		} else {
			fill["password"] = plain
		}
	}
	t.SetParameters(fill)
}

// commentHook applies the configured comment style.
func commentHook(f *Factory, t *task.Task) {
	if !task.IsEmpty(t.Params()["comment_style"]) {
		return
	}
	style := f.cfg.Automation.CommentStyle
	for _, s := range kinds.CommentStyles {
		if s == style {
			t.SetParameters(map[string]any{"comment_style": style})
			return
		}
	}
}

// checkPostsHook caps collection at the configured daily limit.
func checkPostsHook(f *Factory, t *task.Task) {
	if !task.IsEmpty(t.Params()["max_posts"]) {
		return
	}
	limit := f.cfg.Automation.DailyLimit
	if limit < 1 {
		return
	}
	if limit > 100 {
		limit = 100
	}
	t.SetParameters(map[string]any{"max_posts": limit})
}
