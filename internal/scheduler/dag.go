package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gammazero/toposort"
)

var (
	// ErrCycle is returned when dependencies form a cycle.
	ErrCycle = errors.New("dependency cycle")
	// ErrMissingDependency is returned when a task depends on an unknown id.
	ErrMissingDependency = errors.New("missing dependency")
)

// Graph maps a node id to the ids it depends on.
type Graph map[string][]string

// Order returns the ids of g in dependency order, failing when a dependency
// is not part of g or the dependencies form a cycle. Ties keep sorted id order
// so the result is deterministic.
func (g Graph) Order() ([]string, error) {
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		for _, dep := range g[id] {
			if _, ok := g[dep]; !ok {
				return nil, fmt.Errorf("%w: %q depends on %q", ErrMissingDependency, id, dep)
			}
		}
	}

	var edges []toposort.Edge
	for _, id := range ids {
		if len(g[id]) == 0 {
			// Edge from nil keeps roots in the result.
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, dep := range g[id] {
			edges = append(edges, toposort.Edge{dep, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w among %s", ErrCycle, strings.Join(g.cycleMembers(), ", "))
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	if len(order) != len(g) {
		return nil, fmt.Errorf("%w among %s", ErrCycle, strings.Join(g.cycleMembers(), ", "))
	}
	return order, nil
}

// cycleMembers returns the ids that cannot be ordered: everything left after
// repeatedly removing nodes whose dependencies are all removed.
func (g Graph) cycleMembers() []string {
	done := make(map[string]bool, len(g))
	for progress := true; progress; {
		progress = false
		for id, deps := range g {
			if done[id] {
				continue
			}
			ready := true
			for _, dep := range deps {
				if _, known := g[dep]; known && !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				done[id] = true
				progress = true
			}
		}
	}

	var left []string
	for id := range g {
		if !done[id] {
			left = append(left, id)
		}
	}
	sort.Strings(left)
	return left
}
