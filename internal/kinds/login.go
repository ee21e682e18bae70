package kinds

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/taskpilot/internal/task"
)

// Selectors used by the login form.
const (
	usernameSelector = "input[name=username]"
	passwordSelector = "input[name=password]"
	submitSelector   = "button[type=submit]"
)

// Login signs in with a credential profile.
//
// Writes session.logged_in and session.username.
type Login struct{}

func (*Login) Description() string { return "Sign in with the configured account" }

func (*Login) Schema() task.Schema {
	return task.Schema{
		"username":         {Type: task.ParamString, Description: "Account name", Required: true, Default: ""},
		"password":         {Type: task.ParamPassword, Description: "Account password", Required: true, Sensitive: true},
		"login_url":        {Type: task.ParamString, Description: "Login page; defaults to automation.login_url"},
		"keep_login":       {Type: task.ParamBoolean, Description: "Keep the session signed in", Default: true},
		"retry_on_captcha": {Type: task.ParamBoolean, Description: "Report captcha pages as retryable", Default: false},
	}
}

func (*Login) EstimatedDuration(task.Params) time.Duration { return 10 * time.Second }

func (*Login) Execute(ctx context.Context, env task.Env) (task.Result, error) {
	d, err := driverFrom(env)
	if err != nil {
		return task.Fail(err.Error(), err), nil
	}
	username := env.Params.String("username")

	if loggedIn, _ := task.Lookup[bool](env.Shared, task.KeyLoggedIn); loggedIn {
		if current, _ := task.Lookup[string](env.Shared, task.KeyUsername); current == username {
			return task.Ok("already logged in", username), nil
		}
	}

	loginURL := env.Params.String("login_url")
	if loginURL == "" {
		loginURL = configString(env, "automation", "login_url")
	}
	if loginURL == "" {
		return task.Fail("no login url configured", nil), nil
	}

	if err := d.Navigate(ctx, loginURL); err != nil {
		return task.Fail("open login page", err), nil
	}
	if err := d.TypeText(ctx, usernameSelector, username); err != nil {
		return task.Fail("enter username", err), nil
	}
	if err := d.TypeText(ctx, passwordSelector, env.Params.String("password")); err != nil {
		return task.Fail("enter password", err), nil
	}
	if err := d.Click(ctx, submitSelector); err != nil {
		return task.Fail("submit login form", err), nil
	}

	text, err := d.PageText(ctx)
	if err != nil {
		return task.Fail("read login result", err), nil
	}
	if containsAny(text, []string{"captcha"}) {
		if env.Params.Bool("retry_on_captcha", false) {
			return task.Fail("captcha challenge", nil), nil
		}
		return task.Result{}, fmt.Errorf("captcha challenge on %s", d.CurrentURL())
	}
	if fields, _ := d.FindElements(ctx, passwordSelector); len(fields) > 0 {
		return task.Fail("login rejected", nil), nil
	}

	env.Shared.Set(task.KeyLoggedIn, true)
	env.Shared.Set(task.KeyUsername, username)
	env.Logger.Info("logged in", "username", username)
	return task.Ok("logged in as "+username, username), nil
}
