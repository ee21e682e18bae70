package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"pgregory.net/rapid"

	"github.com/aristath/taskpilot/internal/task"
)

// TestDependencyOrderingProperty checks on random DAGs that a dependent task
// never starts before its dependencies completed, and that each id stays in
// exactly one set.
func TestDependencyOrderingProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(rt, "tasks")
		var tasks []*task.Task
		deps := make(map[string][]string, n)
		ids := make([]string, 0, n)
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("t%d", i)
			// Only earlier tasks as dependencies keeps the graph acyclic.
			var ds []string
			for j := 0; j < i; j++ {
				if rapid.Bool().Draw(rt, fmt.Sprintf("dep_%d_%d", i, j)) {
					ds = append(ds, fmt.Sprintf("t%d", j))
				}
			}
			deps[id] = ds
			ids = append(ids, id)
			tasks = append(tasks, newTask(id, &stubAction{}, ds...))
		}
		// Shuffle queue order so ordering comes from dependencies only.
		perm := rapid.Permutation(tasks).Draw(rt, "order")

		var (
			mu       sync.Mutex
			finished = map[string]bool{}
			s        *Scheduler
		)
		s = fastScheduler(WithHooks(Hooks{
			OnTaskStart: func(tk *task.Task) {
				mu.Lock()
				defer mu.Unlock()
				for _, d := range deps[tk.ID()] {
					if !finished[d] {
						rt.Fatalf("%s started before dependency %s completed", tk.ID(), d)
					}
				}
				checkPartition(rt, s, ids)
			},
			OnTaskComplete: func(tk *task.Task, _ task.Result) {
				mu.Lock()
				finished[tk.ID()] = true
				mu.Unlock()
			},
		}))
		if _, err := s.AddTasks(perm...); err != nil {
			rt.Fatalf("AddTasks: %v", err)
		}

		sum, err := s.Execute(context.Background())
		if err != nil {
			rt.Fatalf("Execute: %v", err)
		}
		if sum.SuccessCount != n {
			rt.Fatalf("success = %d, want %d", sum.SuccessCount, n)
		}
	})
}

func TestGraphOrder(t *testing.T) {
	tests := []struct {
		name    string
		graph   Graph
		wantErr error
	}{
		{"empty", Graph{}, nil},
		{"chain", Graph{"a": nil, "b": {"a"}, "c": {"b"}}, nil},
		{"diamond", Graph{"a": nil, "b": {"a"}, "c": {"a"}, "d": {"b", "c"}}, nil},
		{"self cycle", Graph{"a": {"a"}}, ErrCycle},
		{"cycle", Graph{"a": {"c"}, "b": {"a"}, "c": {"b"}, "d": nil}, ErrCycle},
		{"missing", Graph{"a": {"ghost"}}, ErrMissingDependency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, err := tt.graph.Order()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Order: %v", err)
			}
			pos := make(map[string]int, len(order))
			for i, id := range order {
				pos[id] = i
			}
			if len(pos) != len(tt.graph) {
				t.Fatalf("order %v does not cover %d nodes", order, len(tt.graph))
			}
			for id, ds := range tt.graph {
				for _, d := range ds {
					if pos[d] > pos[id] {
						t.Errorf("%s ordered before its dependency %s", id, d)
					}
				}
			}
		})
	}
}
