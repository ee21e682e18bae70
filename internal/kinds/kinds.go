// Package kinds implements the built-in task kinds.
//
// Every kind documents the shared context keys it reads and writes. Kinds that
// act on pages expect the executor handle to be a driver.Driver.
package kinds

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/aristath/taskpilot/internal/driver"
	"github.com/aristath/taskpilot/internal/task"
)

// ErrNoDriver is reported when the executor handle cannot perform page actions.
var ErrNoDriver = errors.New("executor handle does not support page actions")

// Constructor creates a fresh action for a kind.
type Constructor func() task.Action

// Builtins returns the constructors of every built-in kind.
func Builtins() map[task.Kind]Constructor {
	return map[task.Kind]Constructor{
		task.KindLogin:        func() task.Action { return &Login{} },
		task.KindCheckPosts:   func() task.Action { return &CheckPosts{} },
		task.KindWriteComment: func() task.Action { return &WriteComment{} },
		task.KindClickLike:    func() task.Action { return &ClickLike{} },
		task.KindScrollRead:   func() task.Action { return &ScrollRead{} },
		task.KindWait:         func() task.Action { return &Wait{} },
		task.KindGotoURL:      func() task.Action { return &GotoURL{} },
	}
}

// LoopKind is the registry name of the Loop custom kind.
const LoopKind = "loop"

func driverFrom(env task.Env) (driver.Driver, error) {
	d, ok := env.Handle.(driver.Driver)
	if !ok || d == nil {
		return nil, ErrNoDriver
	}
	return d, nil
}

// configString reads a string setting, returning "" when unavailable.
func configString(env task.Env, section, key string) string {
	if env.Config == nil {
		return ""
	}
	v, ok := env.Config.Value(section, key)
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// jitter scales d by a random factor in [1-variance, 1+variance].
func jitter(d time.Duration, variance float64) time.Duration {
	if variance <= 0 {
		return d
	}
	if variance > 1 {
		variance = 1
	}
	factor := 1 + (rand.Float64()*2-1)*variance
	return time.Duration(float64(d) * factor)
}

func seconds(n float64) time.Duration {
	return time.Duration(n * float64(time.Second))
}

func containsAny(haystack string, needles []string) bool {
	h := strings.ToLower(haystack)
	for _, n := range needles {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" && strings.Contains(h, n) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
