package task

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// scriptedAction returns results from a script, repeating the last entry.
type scriptedAction struct {
	schema  Schema
	script  []Result
	panicAt int // 1-based attempt that panics, 0 disables
	calls   atomic.Int32
	block   chan struct{}
	entered chan struct{}
}

func (a *scriptedAction) Description() string { return "scripted" }
func (a *scriptedAction) Schema() Schema {
	if a.schema == nil {
		return Schema{}
	}
	return a.schema
}
func (a *scriptedAction) EstimatedDuration(Params) time.Duration { return time.Second }

func (a *scriptedAction) Execute(ctx context.Context, env Env) (Result, error) {
	n := int(a.calls.Add(1))
	if a.entered != nil {
		select {
		case a.entered <- struct{}{}:
		default:
		}
	}
	if a.block != nil {
		select {
		case <-a.block:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if a.panicAt == n {
		panic("boom")
	}
	if len(a.script) == 0 {
		return Ok("done", n), nil
	}
	if n > len(a.script) {
		return a.script[len(a.script)-1], nil
	}
	return a.script[n-1], nil
}

func TestRunSucceedsFirstAttempt(t *testing.T) {
	a := &scriptedAction{}
	tk := New(KindCustom, a, WithBackoff(time.Millisecond, 0))

	res, err := tk.Run(context.Background(), nil, NewShared(nil))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if tk.Status() != StatusCompleted {
		t.Errorf("expected completed, got %s", tk.Status())
	}
	if tk.StartedAt().IsZero() || tk.CompletedAt().Before(tk.StartedAt()) {
		t.Errorf("timestamps not recorded: start=%v end=%v", tk.StartedAt(), tk.CompletedAt())
	}
	if got := a.calls.Load(); got != 1 {
		t.Errorf("expected 1 attempt, got %d", got)
	}
}

func TestRunRetriesThenFails(t *testing.T) {
	a := &scriptedAction{script: []Result{Fail("timeout", nil)}}
	tk := New(KindCustom, a, WithMaxRetries(2), WithBackoff(time.Millisecond, 0))

	res, err := tk.Run(context.Background(), nil, NewShared(nil))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Success || res.Message != "timeout" {
		t.Errorf("expected last failure result, got %+v", res)
	}
	if tk.Status() != StatusFailed {
		t.Errorf("expected failed, got %s", tk.Status())
	}
	if tk.RetryCount() != 2 {
		t.Errorf("expected retryCount 2, got %d", tk.RetryCount())
	}
	if got := a.calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestRunRecoversAfterTransientFailure(t *testing.T) {
	a := &scriptedAction{script: []Result{Fail("flaky", nil), Ok("fine", "payload")}}
	tk := New(KindCustom, a, WithBackoff(time.Millisecond, 0))

	res, _ := tk.Run(context.Background(), nil, NewShared(nil))
	if !res.Success || res.Payload != "payload" {
		t.Fatalf("expected success with payload, got %+v", res)
	}
	if tk.RetryCount() != 1 {
		t.Errorf("expected retryCount 1, got %d", tk.RetryCount())
	}
}

func TestRunConvertsPanicToFailure(t *testing.T) {
	a := &scriptedAction{panicAt: 1}
	tk := New(KindCustom, a, WithMaxRetries(1), WithBackoff(time.Millisecond, 0))

	res, err := tk.Run(context.Background(), nil, NewShared(nil))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !res.Success {
		t.Fatalf("second attempt should succeed, got %+v", res)
	}
	if tk.RetryCount() != 1 {
		t.Errorf("expected the panic to count as a failed attempt")
	}
}

func TestRunValidationFailureIsNotRetried(t *testing.T) {
	a := &scriptedAction{schema: Schema{
		"url": {Type: ParamString, Required: true},
	}}
	tk := New(KindCustom, a, WithBackoff(time.Millisecond, 0))

	res, err := tk.Run(context.Background(), nil, NewShared(nil))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Success || res.Message != "parameter validation failed" {
		t.Errorf("unexpected result %+v", res)
	}
	if a.calls.Load() != 0 {
		t.Errorf("execute must not be called on invalid parameters")
	}
	if tk.RetryCount() != 0 || tk.Status() != StatusFailed {
		t.Errorf("expected failed without retries, got %s retries=%d", tk.Status(), tk.RetryCount())
	}
}

func TestRunCancelledDuringBackoff(t *testing.T) {
	a := &scriptedAction{script: []Result{Fail("down", nil)}}
	tk := New(KindCustom, a, WithBackoff(time.Hour, time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for a.calls.Load() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := tk.Run(ctx, nil, NewShared(nil))
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not observe cancellation during backoff")
	}
	if tk.Status() != StatusCancelled {
		t.Errorf("expected cancelled, got %s", tk.Status())
	}
}

func TestResetRejectedWhileRunning(t *testing.T) {
	a := &scriptedAction{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	tk := New(KindCustom, a)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = tk.Run(context.Background(), nil, NewShared(nil))
	}()
	<-a.entered

	if err := tk.Reset(); !errors.Is(err, ErrTaskRunning) {
		t.Errorf("expected ErrTaskRunning, got %v", err)
	}
	close(a.block)
	wg.Wait()

	if err := tk.Reset(); err != nil {
		t.Fatalf("Reset after completion: %v", err)
	}
	if tk.Status() != StatusPending || tk.RetryCount() != 0 || !tk.StartedAt().IsZero() {
		t.Errorf("reset did not clear state")
	}
	if _, ok := tk.Result(); ok {
		t.Errorf("reset did not clear result")
	}
}

func TestRunRejectsNonPending(t *testing.T) {
	tk := New(KindCustom, &scriptedAction{}, WithBackoff(time.Millisecond, 0))
	if _, err := tk.Run(context.Background(), nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := tk.Run(context.Background(), nil, nil); !errors.Is(err, ErrNotPending) {
		t.Errorf("expected ErrNotPending, got %v", err)
	}
}

var testSchema = Schema{
	"count":    {Type: ParamInteger, Default: 20, Min: Bound(1), Max: Bound(100)},
	"ratio":    {Type: ParamFloat, Default: 0.2, Min: Bound(0), Max: Bound(1)},
	"enabled":  {Type: ParamBoolean, Default: true},
	"style":    {Type: ParamChoice, Default: "friendly", Choices: []string{"friendly", "casual"}},
	"keywords": {Type: ParamList, Default: []string{}},
	"username": {Type: ParamString, Required: true, Default: "guest"},
	"password": {Type: ParamPassword, Sensitive: true},
}

func TestSetParametersConversion(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		input any
		want  any
	}{
		{"integer from string", "count", "42", 42},
		{"integer via float", "count", "7.9", 7},
		{"integer blank", "count", "  ", 20},
		{"integer garbage", "count", "lots", 20},
		{"float from string", "ratio", "0.5", 0.5},
		{"boolean yes", "enabled", "YES", true},
		{"boolean other", "enabled", "nope", false},
		{"boolean from int", "enabled", 0, false},
		{"choice valid", "style", "casual", "casual"},
		{"choice invalid", "style", "rude", "friendly"},
		{"list from lines", "keywords", "go\n\n  rust \n", []string{"go", "rust"}},
		{"list blank", "keywords", "", []string{}},
		{"required blank gets default", "username", "   ", "guest"},
		{"nil gets default", "count", nil, 20},
		{"unknown key kept", "extra", 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := New(KindCustom, &scriptedAction{schema: testSchema})
			tk.SetParameters(map[string]any{tt.key: tt.input})
			got := tk.Params()[tt.key]
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("%s: got %#v (%T), want %#v (%T)", tt.key, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestValidateParameters(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]any
		wantErr bool
	}{
		{"valid", map[string]any{"username": "bob", "count": 5}, false},
		{"missing required", map[string]any{"count": 5}, true},
		{"below minimum", map[string]any{"username": "bob", "count": 0}, true},
		{"above maximum", map[string]any{"username": "bob", "ratio": 1.5}, true},
		{"optional nil ignored", map[string]any{"username": "bob", "password": nil}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := New(KindCustom, &scriptedAction{schema: testSchema})
			tk.mu.Lock()
			for k, v := range tt.params {
				tk.params[k] = v
			}
			tk.mu.Unlock()
			err := tk.ValidateParameters()
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateParameters() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRejectsChoiceOutsideSet(t *testing.T) {
	tk := New(KindCustom, &scriptedAction{schema: testSchema})
	tk.mu.Lock()
	tk.params["username"] = "bob"
	tk.params["style"] = "rude"
	tk.mu.Unlock()
	if err := tk.ValidateParameters(); err == nil {
		t.Error("expected choice outside the allowed set to fail")
	}
}

func TestFillDefaults(t *testing.T) {
	tk := New(KindCustom, &scriptedAction{schema: testSchema})
	tk.SetParameters(map[string]any{"count": 3, "username": ""})
	tk.FillDefaults()

	p := tk.Params()
	if p["count"] != 3 {
		t.Errorf("explicit value overwritten: %v", p["count"])
	}
	if p["username"] != "guest" || p["style"] != "friendly" || p["enabled"] != true {
		t.Errorf("defaults not filled: %#v", p)
	}
	if _, ok := p["password"]; ok {
		t.Errorf("parameter without default should stay unset")
	}
}

func TestSnapshotMasksSensitive(t *testing.T) {
	tk := New(KindCustom, &scriptedAction{schema: testSchema}, WithName("login"))
	tk.SetParameters(map[string]any{"username": "bob", "password": "hunter2"})

	snap := tk.Snapshot()
	if snap.Parameters["password"] != masked {
		t.Errorf("password not masked: %v", snap.Parameters["password"])
	}
	if tk.Params()["password"] != "hunter2" {
		t.Errorf("snapshot must not mutate stored parameters")
	}
	if snap.Name != "login" || snap.Status != StatusPending {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestSharedContext(t *testing.T) {
	s := NewShared(map[string]any{"seed": 1})
	s.Set(ResultKey("abc"), []string{"x"})
	AppendString(s, KeyLiked, "a")
	AppendString(s, KeyLiked, "b")

	if v, ok := Lookup[[]string](s, KeyLiked); !ok || len(v) != 2 {
		t.Errorf("AppendString: got %v", v)
	}
	if _, ok := Lookup[int](s, ResultKey("abc")); ok {
		t.Errorf("Lookup must reject mismatched types")
	}
	if keys := s.Keys(); len(keys) != 3 || keys[2] != "task_abc_result" {
		t.Errorf("unexpected keys %v", keys)
	}
	s.Delete("seed")
	if _, ok := s.Get("seed"); ok {
		t.Errorf("Delete did not remove key")
	}
}

// stampedAction fails every attempt and records when each one started.
type stampedAction struct {
	mu    sync.Mutex
	times []time.Time
}

func (a *stampedAction) Description() string                    { return "stamped" }
func (a *stampedAction) Schema() Schema                         { return Schema{} }
func (a *stampedAction) EstimatedDuration(Params) time.Duration { return 0 }
func (a *stampedAction) Execute(context.Context, Env) (Result, error) {
	a.mu.Lock()
	a.times = append(a.times, time.Now())
	a.mu.Unlock()
	return Fail("nope", nil), nil
}

func TestRunBackoffDoublesEachRetry(t *testing.T) {
	const unit = 50 * time.Millisecond
	tests := []struct {
		name    string
		maxWait time.Duration
		want    []time.Duration
	}{
		{"doubling", time.Second, []time.Duration{unit, 2 * unit, 4 * unit}},
		{"capped", 60 * time.Millisecond, []time.Duration{unit, 60 * time.Millisecond, 60 * time.Millisecond}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &stampedAction{}
			tk := New(KindCustom, a, WithMaxRetries(3), WithBackoff(unit, tt.maxWait))
			if _, err := tk.Run(context.Background(), nil, nil); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if len(a.times) != 4 {
				t.Fatalf("attempts = %d, want 4", len(a.times))
			}
			for i, want := range tt.want {
				got := a.times[i+1].Sub(a.times[i])
				if got < want || got > want+40*time.Millisecond {
					t.Errorf("wait before retry %d = %v, want about %v", i+1, got, want)
				}
			}
			if tk.RetryCount() != 3 {
				t.Errorf("retries = %d, want 3", tk.RetryCount())
			}
		})
	}
}
