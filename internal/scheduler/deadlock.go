package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrDeadlock is matched by every *DeadlockError.
var ErrDeadlock = errors.New("scheduler deadlock")

// DeadlockError explains why no queued task can ever run.
type DeadlockError struct {
	Pending []string            // queued ids, in queue order
	Missing map[string][]string // task id -> dependencies never queued
	Failed  map[string][]string // task id -> dependencies that did not complete
	Cycle   error               // set when queued tasks wait on each other
}

func (e *DeadlockError) Error() string {
	var parts []string
	for _, id := range sortedKeys(e.Failed) {
		parts = append(parts, fmt.Sprintf("%s waits on failed %s", id, strings.Join(e.Failed[id], ",")))
	}
	for _, id := range sortedKeys(e.Missing) {
		parts = append(parts, fmt.Sprintf("%s waits on unknown %s", id, strings.Join(e.Missing[id], ",")))
	}
	if e.Cycle != nil {
		parts = append(parts, e.Cycle.Error())
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%v: %d tasks not executable", ErrDeadlock, len(e.Pending))
	}
	return fmt.Sprintf("%v: %s", ErrDeadlock, strings.Join(parts, "; "))
}

func (e *DeadlockError) Is(target error) bool { return target == ErrDeadlock }

// diagnoseLocked classifies every unmet dependency of the queued tasks.
func (s *Scheduler) diagnoseLocked() *DeadlockError {
	de := &DeadlockError{
		Missing: make(map[string][]string),
		Failed:  make(map[string][]string),
	}
	queued := make(Graph, len(s.queue))
	for _, t := range s.queue {
		de.Pending = append(de.Pending, t.ID())
		queued[t.ID()] = nil
	}

	for _, t := range s.queue {
		id := t.ID()
		for _, dep := range t.Dependencies() {
			switch {
			case s.completed[dep] != nil:
			case s.failed[dep] != nil:
				de.Failed[id] = append(de.Failed[id], dep)
			case s.running[dep] != nil:
			default:
				if _, ok := queued[dep]; ok {
					queued[id] = append(queued[id], dep)
				} else {
					de.Missing[id] = append(de.Missing[id], dep)
				}
			}
		}
	}

	if _, err := queued.Order(); err != nil {
		de.Cycle = err
	}
	return de
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
