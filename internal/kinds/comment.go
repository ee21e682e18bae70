package kinds

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/aristath/taskpilot/internal/driver"
	"github.com/aristath/taskpilot/internal/task"
)

// Comment styles accepted by WriteComment.
var CommentStyles = []string{"friendly", "professional", "casual", "cheer", "analytic", "question"}

var styleTemplates = map[string][]string{
	"friendly":     {"Thanks for sharing %s, I enjoyed reading it!", "What a nice read, %s made my day."},
	"professional": {"Well structured write-up on %s. Thank you for the detail.", "A clear and useful overview in %s."},
	"casual":       {"Cool post! %s was fun to read.", "Nice one, liked %s a lot."},
	"cheer":        {"Keep it up! Looking forward to more after %s.", "Great work on %s, keep going!"},
	"analytic":     {"Interesting points in %s, especially how the ideas connect.", "The reasoning in %s is easy to follow."},
	"question":     {"Enjoyed %s. What got you started on this topic?", "Great post! Will there be a follow-up to %s?"},
}

var emojis = []string{"😊", "👍", "🙌", "✨"}

// WriteComment posts a comment on a post.
//
// Reads posts and current_post_url to pick a target when post_url is empty.
// Appends to commented_posts and writes current_post_url.
type WriteComment struct{}

func (*WriteComment) Description() string { return "Write a comment on a post" }

func (*WriteComment) Schema() task.Schema {
	return task.Schema{
		"post_url":         {Type: task.ParamString, Description: "Target post; defaults to the next collected post", Default: ""},
		"comment_text":     {Type: task.ParamString, Description: "Fixed comment text", Default: ""},
		"auto_generate":    {Type: task.ParamBoolean, Description: "Generate text when comment_text is empty", Default: true},
		"comment_style":    {Type: task.ParamChoice, Description: "Tone of generated comments", Default: "friendly", Choices: CommentStyles},
		"use_emoji":        {Type: task.ParamBoolean, Description: "Append an emoji", Default: true},
		"comment_selector": {Type: task.ParamString, Description: "Comment input", Default: "textarea[name=comment]"},
		"submit_selector":  {Type: task.ParamString, Description: "Comment submit button", Default: "button.comment-submit"},
		"read_time_min":    {Type: task.ParamInteger, Description: "Minimum seconds spent reading", Default: 30, Min: task.Bound(0), Max: task.Bound(600)},
		"read_time_max":    {Type: task.ParamInteger, Description: "Maximum seconds spent reading", Default: 90, Min: task.Bound(0), Max: task.Bound(600)},
	}
}

func (*WriteComment) EstimatedDuration(p task.Params) time.Duration {
	read := float64(p.Int("read_time_min", 30)+p.Int("read_time_max", 90)) / 2
	return seconds(read + 10)
}

func (w *WriteComment) Execute(ctx context.Context, env task.Env) (task.Result, error) {
	d, err := driverFrom(env)
	if err != nil {
		return task.Fail(err.Error(), err), nil
	}

	target, title := w.target(env)
	if target == "" {
		return task.Fail("no post to comment on", nil), nil
	}
	if d.CurrentURL() != target {
		if err := d.Navigate(ctx, target); err != nil {
			return task.Fail("open post", err), nil
		}
	}
	env.Shared.Set(task.KeyCurrentPostURL, target)

	minRead, maxRead := env.Params.Int("read_time_min", 30), env.Params.Int("read_time_max", 90)
	if maxRead < minRead {
		maxRead = minRead
	}
	read := seconds(float64(minRead))
	if maxRead > minRead {
		read += seconds(float64(rand.IntN(maxRead - minRead + 1)))
	}
	if err := driver.Sleep(ctx, read); err != nil {
		return task.Result{}, err
	}

	text := env.Params.String("comment_text")
	if text == "" {
		if !env.Params.Bool("auto_generate", true) {
			return task.Fail("comment_text is empty and auto_generate is off", nil), nil
		}
		text = GenerateComment(env.Params.String("comment_style"), title, env.Params.Bool("use_emoji", true))
	}

	if err := d.TypeText(ctx, env.Params.String("comment_selector"), text); err != nil {
		return task.Fail("enter comment", err), nil
	}
	if err := d.Click(ctx, env.Params.String("submit_selector")); err != nil {
		return task.Fail("submit comment", err), nil
	}

	task.AppendString(env.Shared, task.KeyCommented, target)
	env.Logger.Info("comment posted", "url", target, "length", len([]rune(text)))
	return task.Ok("comment posted", map[string]string{"url": target, "text": text}), nil
}

// target picks the explicit post_url, then the first collected post not yet
// commented on, then the current post.
func (*WriteComment) target(env task.Env) (url, title string) {
	if u := env.Params.String("post_url"); u != "" {
		return u, ""
	}
	done, _ := task.Lookup[[]string](env.Shared, task.KeyCommented)
	if posts, ok := task.Lookup[[]Post](env.Shared, task.KeyPosts); ok {
		for _, p := range posts {
			if !contains(done, p.URL) {
				return p.URL, p.Title
			}
		}
	}
	if u, ok := task.Lookup[string](env.Shared, task.KeyCurrentPostURL); ok && !contains(done, u) {
		return u, ""
	}
	return "", ""
}

// GenerateComment renders a comment from the style's templates.
func GenerateComment(style, title string, emoji bool) string {
	templates, ok := styleTemplates[style]
	if !ok {
		templates = styleTemplates["friendly"]
	}
	if title == "" {
		title = "this post"
	} else {
		title = `"` + title + `"`
	}
	text := fmt.Sprintf(templates[rand.IntN(len(templates))], title)
	if emoji {
		text += " " + emojis[rand.IntN(len(emojis))]
	}
	return text
}
