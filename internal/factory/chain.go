package factory

import (
	"fmt"

	"github.com/aristath/taskpilot/internal/task"
)

// Spec is the persisted description of one task in a plan.
type Spec struct {
	Ref        string         `yaml:"ref,omitempty" json:"ref,omitempty"`
	Kind       string         `yaml:"kind" json:"kind"`
	Name       string         `yaml:"name,omitempty" json:"name,omitempty"`
	Parameters map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	After      []string       `yaml:"after,omitempty" json:"after,omitempty"`
	MaxRetries *int           `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	Steps      []Spec         `yaml:"steps,omitempty" json:"steps,omitempty"`
}

// bodySetter is implemented by actions that run nested tasks.
type bodySetter interface {
	SetBody([]*task.Task)
}

// CreateChain builds tasks for specs in order, translating After references
// into dependencies on the generated task ids. A reference may name an
// earlier or later spec.
func (f *Factory) CreateChain(specs []Spec) ([]*task.Task, error) {
	tasks := make([]*task.Task, len(specs))
	ids := make(map[string]string, len(specs))

	for i, s := range specs {
		t, err := f.FromSpec(s)
		if err != nil {
			return nil, fmt.Errorf("task %d (%s): %w", i+1, s.label(), err)
		}
		tasks[i] = t
		if s.Ref != "" {
			if _, dup := ids[s.Ref]; dup {
				return nil, fmt.Errorf("task %d: duplicate ref %q", i+1, s.Ref)
			}
			ids[s.Ref] = t.ID()
		}
	}

	for i, s := range specs {
		for _, ref := range s.After {
			id, ok := ids[ref]
			if !ok {
				return nil, fmt.Errorf("task %d (%s): unknown dependency %q", i+1, s.label(), ref)
			}
			tasks[i].DependsOn(id)
		}
	}
	return tasks, nil
}

// FromSpec builds a single task, including nested steps for kinds that run them.
func (f *Factory) FromSpec(s Spec) (*task.Task, error) {
	t, err := f.Create(s.Kind, s.Name, s.Parameters)
	if err != nil {
		return nil, err
	}
	if s.MaxRetries != nil {
		t.SetMaxRetries(*s.MaxRetries)
	}
	if len(s.Steps) == 0 {
		return t, nil
	}

	setter, ok := t.Action().(bodySetter)
	if !ok {
		return nil, fmt.Errorf("kind %q does not accept steps", s.Kind)
	}
	body := make([]*task.Task, 0, len(s.Steps))
	for _, step := range s.Steps {
		child, err := f.FromSpec(step)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", step.label(), err)
		}
		body = append(body, child)
	}
	setter.SetBody(body)
	return t, nil
}

// ToSpec is the inverse of FromSpec for a single task. Dependencies are
// emitted as task ids; callers map them back to refs. Sensitive parameters
// are dropped so saved plans never hold credentials.
func ToSpec(t *task.Task) Spec {
	params := t.Params()
	for name, spec := range t.RequiredParameters() {
		if spec.Sensitive || spec.Type == task.ParamPassword {
			delete(params, name)
		}
	}
	retries := t.MaxRetries()
	s := Spec{
		Ref:        t.ID(),
		Kind:       t.KindName(),
		Name:       t.Name(),
		Parameters: map[string]any(params),
		After:      t.Dependencies(),
		MaxRetries: &retries,
	}
	if holder, ok := t.Action().(interface{ Body() []*task.Task }); ok {
		for _, child := range holder.Body() {
			cs := ToSpec(child)
			cs.Ref, cs.After = "", nil
			s.Steps = append(s.Steps, cs)
		}
	}
	return s
}

func (s Spec) label() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Ref != "" {
		return s.Ref
	}
	return s.Kind
}
