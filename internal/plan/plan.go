// Package plan loads, validates and saves task plans: ordered lists of task
// specs with optional dependencies between them.
package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/aristath/taskpilot/internal/factory"
	"github.com/aristath/taskpilot/internal/scheduler"
	"github.com/aristath/taskpilot/internal/task"
)

// ErrInvalidPlan wraps every structural problem found in a plan.
var ErrInvalidPlan = errors.New("invalid plan")

// Format of a plan document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Plan is a named, ordered list of task specs.
type Plan struct {
	Name        string         `yaml:"name,omitempty" json:"name,omitempty"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Tasks       []factory.Spec `yaml:"tasks" json:"tasks"`
}

const documentSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["tasks"],
	"additionalProperties": false,
	"properties": {
		"name": {"type": "string"},
		"description": {"type": "string"},
		"tasks": {"type": "array", "items": {"$ref": "#/definitions/task"}}
	},
	"definitions": {
		"task": {
			"type": "object",
			"required": ["kind"],
			"additionalProperties": false,
			"properties": {
				"ref": {"type": "string", "minLength": 1},
				"kind": {"type": "string", "minLength": 1},
				"name": {"type": "string"},
				"parameters": {"type": ["object", "null"]},
				"after": {"type": "array", "items": {"type": "string", "minLength": 1}},
				"max_retries": {"type": "integer", "minimum": 0, "maximum": 100},
				"steps": {"type": "array", "items": {"$ref": "#/definitions/task"}}
			}
		}
	}
}`

var compiledSchema = jsonschema.MustCompileString("plan.json", documentSchema)

// FormatFor picks the format from a file extension. Anything that is not
// .json is treated as YAML.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Load reads and validates the plan at path.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	p, err := Parse(data, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return p, nil
}

// Parse decodes data, checks it against the document schema and validates
// references.
func Parse(data []byte, format Format) (*Plan, error) {
	var doc any
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: decode json: %v", ErrInvalidPlan, err)
		}
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: decode yaml: %v", ErrInvalidPlan, err)
		}
	}

	// Normalize YAML scalars to JSON types before schema validation.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	if err := compiledSchema.Validate(normalized); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, verr)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}

	var p Plan
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks that refs are unique, every After names a known ref, and
// the dependencies are acyclic.
func (p *Plan) Validate() error {
	graph := make(scheduler.Graph, len(p.Tasks))
	for i, s := range p.Tasks {
		if s.Ref == "" {
			continue
		}
		if _, dup := graph[s.Ref]; dup {
			return fmt.Errorf("%w: task %d: duplicate ref %q", ErrInvalidPlan, i+1, s.Ref)
		}
		graph[s.Ref] = nil
	}
	for i, s := range p.Tasks {
		for _, ref := range s.After {
			if _, ok := graph[ref]; !ok {
				return fmt.Errorf("%w: task %d: unknown dependency %q", ErrInvalidPlan, i+1, ref)
			}
		}
		if s.Ref != "" {
			graph[s.Ref] = s.After
		}
	}
	if _, err := graph.Order(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	return nil
}

// Build validates p and creates its tasks through f, in plan order.
func Build(f *factory.Factory, p *Plan) ([]*task.Task, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	tasks, err := f.CreateChain(p.Tasks)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}
	return tasks, nil
}

// FromTasks turns tasks back into a plan. Task ids become refs and
// dependencies outside the set are dropped.
func FromTasks(name string, tasks []*task.Task) *Plan {
	refs := make(map[string]string, len(tasks))
	for i, t := range tasks {
		refs[t.ID()] = fmt.Sprintf("t%d", i+1)
	}

	p := &Plan{Name: name, Tasks: make([]factory.Spec, 0, len(tasks))}
	for _, t := range tasks {
		s := factory.ToSpec(t)
		s.Ref = refs[t.ID()]
		var after []string
		for _, dep := range s.After {
			if ref, ok := refs[dep]; ok {
				after = append(after, ref)
			}
		}
		s.After = after
		p.Tasks = append(p.Tasks, s)
	}
	return p
}

// Save writes p to path as YAML or JSON depending on the extension.
func Save(path string, p *Plan) error {
	var (
		data []byte
		err  error
	)
	if FormatFor(path) == FormatJSON {
		data, err = json.MarshalIndent(p, "", "  ")
	} else {
		data, err = yaml.Marshal(p)
	}
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create plan directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	return nil
}
