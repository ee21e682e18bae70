package task

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestRetryBoundProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxRetries := rapid.IntRange(0, 5).Draw(rt, "maxRetries")
		a := &scriptedAction{script: []Result{Fail("always", nil)}}
		tk := New(KindCustom, a, WithMaxRetries(maxRetries), WithBackoff(0, time.Millisecond))

		if _, err := tk.Run(context.Background(), nil, NewShared(nil)); err != nil {
			rt.Fatalf("Run: %v", err)
		}
		if got := int(a.calls.Load()); got != maxRetries+1 {
			rt.Fatalf("attempts = %d, want %d", got, maxRetries+1)
		}
		if tk.Status() != StatusFailed || tk.RetryCount() != maxRetries {
			rt.Fatalf("status %s retries %d", tk.Status(), tk.RetryCount())
		}
	})
}

func TestStatusMonotonicProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		outcomes := rapid.SliceOfN(rapid.Bool(), 1, 6).Draw(rt, "outcomes")
		script := make([]Result, len(outcomes))
		for i, ok := range outcomes {
			if ok {
				script[i] = Ok("ok", nil)
			} else {
				script[i] = Fail("nope", nil)
			}
		}
		a := &scriptedAction{script: script}
		tk := New(KindCustom, a, WithMaxRetries(rapid.IntRange(0, 4).Draw(rt, "maxRetries")), WithBackoff(0, time.Millisecond))

		var mu sync.Mutex
		seen := []Status{tk.Status()}
		tk.OnTransition(func(_ *Task, from, to Status) {
			mu.Lock()
			defer mu.Unlock()
			if from != seen[len(seen)-1] {
				rt.Errorf("transition from %s but last observed %s", from, seen[len(seen)-1])
			}
			seen = append(seen, to)
		})

		if rapid.Bool().Draw(rt, "skipInstead") {
			_ = tk.Skip("skipped")
		} else {
			_, _ = tk.Run(context.Background(), nil, NewShared(nil))
		}
		// Terminal tasks reject every further move except Reset.
		_ = tk.Skip("again")
		_ = tk.Cancel("again")

		mu.Lock()
		defer mu.Unlock()
		if seen[0] != StatusPending {
			rt.Fatalf("initial status %s", seen[0])
		}
		for i := 1; i < len(seen); i++ {
			if !canTransition(seen[i-1], seen[i]) {
				rt.Fatalf("illegal transition %s -> %s in %v", seen[i-1], seen[i], seen)
			}
		}
		if !seen[len(seen)-1].Terminal() || len(seen) > 3 {
			rt.Fatalf("unexpected lifecycle %v", seen)
		}
	})
}

func TestSetParametersIdempotentProperty(t *testing.T) {
	keys := testSchema.Names()
	keys = append(keys, "free_form")
	value := rapid.OneOf(
		rapid.Just[any](nil),
		rapid.Map(rapid.String(), func(s string) any { return s }),
		rapid.Map(rapid.IntRange(-500, 500), func(i int) any { return i }),
		rapid.Map(rapid.Float64Range(-10, 10), func(f float64) any { return f }),
		rapid.Map(rapid.Bool(), func(b bool) any { return b }),
		rapid.Map(rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,6}`), 0, 4), func(s []string) any { return s }),
	)

	rapid.Check(t, func(rt *rapid.T) {
		input := rapid.MapOf(rapid.SampledFrom(keys), value).Draw(rt, "input")

		once := New(KindCustom, &scriptedAction{schema: testSchema})
		once.SetParameters(input)

		twice := New(KindCustom, &scriptedAction{schema: testSchema})
		twice.SetParameters(input)
		twice.SetParameters(input)

		if !reflect.DeepEqual(once.Params(), twice.Params()) {
			rt.Fatalf("not idempotent:\nonce:  %#v\ntwice: %#v", once.Params(), twice.Params())
		}
	})
}
