package task

import "time"

const masked = "********"

// Snapshot is an immutable view of a task for display and history.
type Snapshot struct {
	ID           string
	Kind         string
	Name         string
	Description  string
	Status       Status
	Parameters   Params
	Dependencies []string
	RetryCount   int
	MaxRetries   int
	CreatedAt    time.Time
	StartedAt    time.Time
	CompletedAt  time.Time
	Duration     time.Duration
	Estimated    time.Duration
	Success      bool
	Message      string
	Error        string
}

// Snapshot captures the task's current state with sensitive parameters masked.
func (t *Task) Snapshot() Snapshot {
	schema := t.action.Schema()
	params := t.Params()
	for name, v := range params {
		if spec, ok := schema[name]; ok && (spec.Sensitive || spec.Type == ParamPassword) && !IsEmpty(v) {
			params[name] = masked
		}
	}

	s := Snapshot{
		ID:           t.id,
		Kind:         t.KindName(),
		Name:         t.Name(),
		Description:  t.Description(),
		Dependencies: t.Dependencies(),
		CreatedAt:    t.createdAt,
		Duration:     t.Duration(),
		Estimated:    t.action.EstimatedDuration(t.Params()),
	}
	s.Parameters = params

	t.mu.RLock()
	s.Status = t.status
	s.RetryCount = t.retryCount
	s.MaxRetries = t.maxRetries
	s.StartedAt = t.startedAt
	s.CompletedAt = t.completedAt
	if t.result != nil {
		s.Success = t.result.Success
		s.Message = t.result.Message
		if t.result.Err != nil {
			s.Error = t.result.Err.Error()
		}
	}
	t.mu.RUnlock()
	return s
}
