package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	DefaultMaxRetries  = 3
	DefaultBackoffUnit = time.Second
	DefaultMaxBackoff  = 5 * time.Minute
)

var (
	// ErrTaskRunning is returned when an operation requires a task that is not running.
	ErrTaskRunning = errors.New("task is running")
	// ErrNotPending is returned by Run for tasks that already left Pending.
	ErrNotPending = errors.New("task is not pending")
	// ErrInvalidTransition is returned for a lifecycle move the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Result is the outcome of a single execution attempt or of a whole run.
type Result struct {
	Success   bool
	Message   string
	Payload   any
	Err       error
	Timestamp time.Time
}

// Ok builds a successful result.
func Ok(message string, payload any) Result {
	return Result{Success: true, Message: message, Payload: payload, Timestamp: time.Now()}
}

// Fail builds an operational failure result.
func Fail(message string, err error) Result {
	return Result{Success: false, Message: message, Err: err, Timestamp: time.Now()}
}

// ConfigSource exposes configuration values to tasks and kind hooks.
type ConfigSource interface {
	Value(section, key string) (any, bool)
}

// SecretStore decrypts stored credentials.
type SecretStore interface {
	Decrypt(token string) (string, error)
}

// HandleFactory produces the executor handle tasks act upon.
type HandleFactory func(ctx context.Context) (any, error)

// Deps are the collaborators injected into a task at construction time.
type Deps struct {
	Handles HandleFactory
	Config  ConfigSource
	Secrets SecretStore
	Logger  *slog.Logger
}

// Env is everything an Action sees while executing.
type Env struct {
	TaskID string
	Handle any
	Shared *Shared
	Params Params
	Logger *slog.Logger
	Config ConfigSource
}

// Action is the kind-specific unit of work wrapped by a Task.
//
// Execute reports expected operational failures as a Result with Success
// false. A non-nil error is reserved for unexpected faults; both are retried.
type Action interface {
	Description() string
	Schema() Schema
	EstimatedDuration(p Params) time.Duration
	Execute(ctx context.Context, env Env) (Result, error)
}

// Task is a single schedulable unit of work.
type Task struct {
	mu sync.RWMutex

	id         string
	name       string
	kind       Kind
	customName string
	action     Action

	status      Status
	params      Params
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
	result      *Result
	retryCount  int
	maxRetries  int
	deps        []string

	backoffUnit time.Duration
	maxBackoff  time.Duration

	injected Deps
	compiled *jsonschema.Schema
	onChange func(t *Task, from, to Status)
}

// Option configures a Task at construction.
type Option func(*Task)

// WithID overrides the generated id. Used when rehydrating saved plans.
func WithID(id string) Option { return func(t *Task) { t.id = id } }

// WithName sets the display name.
func WithName(name string) Option { return func(t *Task) { t.name = name } }

// WithCustomName marks the task as a custom kind with the given registry name.
func WithCustomName(name string) Option { return func(t *Task) { t.customName = name } }

// WithMaxRetries sets the retry budget.
func WithMaxRetries(n int) Option {
	return func(t *Task) {
		if n >= 0 {
			t.maxRetries = n
		}
	}
}

// WithBackoff sets the backoff base unit and the cap on a single wait.
func WithBackoff(unit, max time.Duration) Option {
	return func(t *Task) {
		t.backoffUnit = unit
		if max > 0 {
			t.maxBackoff = max
		}
	}
}

// WithDependencies sets the ids that must complete before the task may run.
func WithDependencies(ids ...string) Option {
	return func(t *Task) { t.deps = append(t.deps, ids...) }
}

// New creates a pending task around action.
func New(kind Kind, action Action, opts ...Option) *Task {
	t := &Task{
		id:          uuid.NewString(),
		kind:        kind,
		action:      action,
		status:      StatusPending,
		params:      Params{},
		createdAt:   time.Now(),
		maxRetries:  DefaultMaxRetries,
		backoffUnit: DefaultBackoffUnit,
		maxBackoff:  DefaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.name == "" {
		t.name = t.KindName()
	}
	return t
}

func (t *Task) ID() string     { return t.id }
func (t *Task) Kind() Kind     { return t.kind }
func (t *Task) Action() Action { return t.action }

// KindName returns the custom registry name for custom kinds, otherwise the kind's name.
func (t *Task) KindName() string {
	if t.kind == KindCustom && t.customName != "" {
		return t.customName
	}
	return t.kind.String()
}

func (t *Task) Name() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.name
}

func (t *Task) SetName(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.name = name
}

func (t *Task) Description() string { return t.action.Description() }

// RequiredParameters returns the parameter schema of the task's kind.
func (t *Task) RequiredParameters() Schema { return t.action.Schema() }

func (t *Task) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Params returns a copy of the current parameter map.
func (t *Task) Params() Params {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.params.Clone()
}

// Parameter returns the stored value, or the schema default when unset.
func (t *Task) Parameter(name string) any {
	t.mu.RLock()
	v := t.params[name]
	t.mu.RUnlock()
	if v == nil {
		if spec, ok := t.action.Schema()[name]; ok {
			return spec.Default
		}
	}
	return v
}

// SetParameters merges values into the parameter map, converting each to its
// declared type. It never fails: unconvertible input degrades to defaults.
func (t *Task) SetParameters(values map[string]any) {
	schema := t.action.Schema()
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, value := range values {
		spec, known := schema[key]
		switch {
		case value == nil:
			if known && spec.Default != nil {
				t.params[key] = defaultOr(spec, nil)
			} else {
				t.params[key] = nil
			}
		case isBlankString(value):
			switch {
			case known && spec.Required:
				t.params[key] = defaultOr(spec, "")
			case known && spec.Type != ParamString && spec.Type != ParamPassword:
				t.params[key] = convert(spec, value)
			default:
				t.params[key] = value
			}
		case known:
			t.params[key] = convert(spec, value)
		default:
			t.params[key] = value
		}
	}
}

// FillDefaults sets every missing or empty parameter that has a schema
// default. Returns the names that were filled.
func (t *Task) FillDefaults() []string {
	schema := t.action.Schema()
	t.mu.Lock()
	defer t.mu.Unlock()
	var filled []string
	for _, name := range schema.Names() {
		spec := schema[name]
		if spec.Default == nil || !IsEmpty(t.params[name]) {
			continue
		}
		t.params[name] = defaultOr(spec, nil)
		filled = append(filled, name)
	}
	return filled
}

// MissingRequired lists required parameters that are absent or empty.
func (t *Task) MissingRequired() []string {
	schema := t.action.Schema()
	t.mu.RLock()
	defer t.mu.RUnlock()
	var missing []string
	for _, name := range schema.Names() {
		if schema[name].Required && IsEmpty(t.params[name]) {
			missing = append(missing, name)
		}
	}
	return missing
}

// ValidateParameters checks required presence, types, bounds and choices.
func (t *Task) ValidateParameters() error {
	if missing := t.MissingRequired(); len(missing) > 0 {
		return fmt.Errorf("missing required parameters: %v", missing)
	}
	schema := t.action.Schema()
	t.mu.Lock()
	if t.compiled == nil {
		compiled, err := schema.Compile("task-" + t.id)
		if err != nil {
			t.mu.Unlock()
			return fmt.Errorf("compile parameter schema: %w", err)
		}
		t.compiled = compiled
	}
	compiled := t.compiled
	params := t.params.Clone()
	t.mu.Unlock()
	return schema.validate(compiled, params)
}

// EstimatedDuration is the expected run time for display purposes.
func (t *Task) EstimatedDuration() time.Duration {
	return t.action.EstimatedDuration(t.Params())
}

// Dependencies returns the ids this task waits for.
func (t *Task) Dependencies() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.deps...)
}

// DependsOn adds dependency ids, ignoring duplicates.
func (t *Task) DependsOn(ids ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		dup := false
		for _, existing := range t.deps {
			if existing == id {
				dup = true
				break
			}
		}
		if !dup && id != "" {
			t.deps = append(t.deps, id)
		}
	}
}

// Ready reports whether every dependency is in completed.
func (t *Task) Ready(completed map[string]struct{}) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, dep := range t.deps {
		if _, ok := completed[dep]; !ok {
			return false
		}
	}
	return true
}

func (t *Task) RetryCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.retryCount
}

func (t *Task) MaxRetries() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.maxRetries
}

func (t *Task) SetMaxRetries(n int) {
	if n < 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxRetries = n
}

// SetBackoff sets the backoff base unit and cap.
func (t *Task) SetBackoff(unit, max time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.backoffUnit = unit
	if max > 0 {
		t.maxBackoff = max
	}
}

// Result returns the final result once the task reached a terminal status.
func (t *Task) Result() (Result, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.result == nil {
		return Result{}, false
	}
	return *t.result, true
}

func (t *Task) CreatedAt() time.Time { return t.createdAt }

func (t *Task) StartedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.startedAt
}

func (t *Task) CompletedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.completedAt
}

// Duration is the elapsed time between start and completion, or until now
// while running.
func (t *Task) Duration() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	switch {
	case t.startedAt.IsZero():
		return 0
	case t.completedAt.IsZero():
		return time.Since(t.startedAt)
	}
	return t.completedAt.Sub(t.startedAt)
}

// Inject stores the collaborators supplied by the factory.
func (t *Task) Inject(d Deps) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.injected = d
}

// Deps returns the injected collaborators.
func (t *Task) Deps() Deps {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.injected
}

// Logger returns the injected logger, or the default one.
func (t *Task) Logger() *slog.Logger {
	if l := t.Deps().Logger; l != nil {
		return l
	}
	return slog.Default()
}

// OnTransition registers fn to observe every status change.
func (t *Task) OnTransition(fn func(t *Task, from, to Status)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// Reset returns a finished task to Pending and clears its run state.
func (t *Task) Reset() error {
	t.mu.Lock()
	if t.status == StatusRunning {
		t.mu.Unlock()
		return ErrTaskRunning
	}
	from := t.status
	t.status = StatusPending
	t.startedAt = time.Time{}
	t.completedAt = time.Time{}
	t.result = nil
	t.retryCount = 0
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil && from != StatusPending {
		fn(t, from, StatusPending)
	}
	return nil
}

// Skip finalizes a pending task without running it.
func (t *Task) Skip(reason string) error {
	return t.finish(StatusSkipped, Result{Message: reason, Timestamp: time.Now()})
}

// Cancel finalizes a pending or running task as cancelled.
func (t *Task) Cancel(reason string) error {
	return t.finish(StatusCancelled, Result{Message: reason, Err: context.Canceled, Timestamp: time.Now()})
}

func (t *Task) start() error {
	t.mu.Lock()
	if t.status != StatusPending {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotPending, t.status)
	}
	t.status = StatusRunning
	t.startedAt = time.Now()
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn(t, StatusPending, StatusRunning)
	}
	return nil
}

func (t *Task) finish(to Status, res Result) error {
	t.mu.Lock()
	from := t.status
	if !canTransition(from, to) {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	t.status = to
	t.completedAt = time.Now()
	if res.Timestamp.IsZero() {
		res.Timestamp = t.completedAt
	}
	t.result = &res
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn(t, from, to)
	}
	return nil
}

func isBlankString(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}
