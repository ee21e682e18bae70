package kinds

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/taskpilot/internal/task"
)

// Post is a discovered work item.
type Post struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Author string `json:"author,omitempty"`
}

// CheckPosts collects posts from a feed page.
//
// Reads commented_posts to skip posts already handled. Writes posts.
type CheckPosts struct{}

func (*CheckPosts) Description() string { return "Collect new posts from the feed" }

func (*CheckPosts) Schema() task.Schema {
	return task.Schema{
		"max_posts":         {Type: task.ParamInteger, Description: "Maximum posts to collect", Default: 20, Min: task.Bound(1), Max: task.Bound(100)},
		"feed_url":          {Type: task.ParamString, Description: "Feed page; defaults to automation.feed_url"},
		"post_selector":     {Type: task.ParamString, Description: "Selector matching post links", Default: "a.post"},
		"filter_keywords":   {Type: task.ParamList, Description: "Keep only titles containing one of these", Default: []string{}},
		"exclude_keywords":  {Type: task.ParamList, Description: "Drop titles containing any of these", Default: []string{}},
		"blogger_whitelist": {Type: task.ParamList, Description: "Only these authors", Default: []string{}},
		"blogger_blacklist": {Type: task.ParamList, Description: "Never these authors", Default: []string{}},
	}
}

func (*CheckPosts) EstimatedDuration(task.Params) time.Duration { return 5 * time.Second }

func (*CheckPosts) Execute(ctx context.Context, env task.Env) (task.Result, error) {
	d, err := driverFrom(env)
	if err != nil {
		return task.Fail(err.Error(), err), nil
	}

	feed := env.Params.String("feed_url")
	if feed == "" {
		feed = configString(env, "automation", "feed_url")
	}
	if feed != "" {
		if err := d.Navigate(ctx, feed); err != nil {
			return task.Fail("open feed", err), nil
		}
	}

	selector := env.Params.String("post_selector")
	if selector == "" {
		selector = "a.post"
	}
	els, err := d.FindElements(ctx, selector)
	if err != nil {
		return task.Fail("find posts", err), nil
	}

	done, _ := task.Lookup[[]string](env.Shared, task.KeyCommented)
	limit := env.Params.Int("max_posts", 20)
	include := env.Params.List("filter_keywords")
	exclude := env.Params.List("exclude_keywords")
	whitelist := env.Params.List("blogger_whitelist")
	blacklist := env.Params.List("blogger_blacklist")

	posts := []Post{}
	seen := map[string]bool{}
	for _, el := range els {
		p := Post{URL: el.Attr("href"), Title: el.Text, Author: el.Attr("data-author")}
		if p.URL == "" || seen[p.URL] || contains(done, p.URL) {
			continue
		}
		if len(include) > 0 && !containsAny(p.Title, include) {
			continue
		}
		if containsAny(p.Title, exclude) {
			continue
		}
		if len(whitelist) > 0 && !contains(whitelist, p.Author) {
			continue
		}
		if p.Author != "" && contains(blacklist, p.Author) {
			continue
		}
		seen[p.URL] = true
		posts = append(posts, p)
		if len(posts) >= limit {
			break
		}
	}

	env.Shared.Set(task.KeyPosts, posts)
	return task.Ok(fmt.Sprintf("found %d posts", len(posts)), posts), nil
}
