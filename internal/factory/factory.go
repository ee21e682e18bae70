// Package factory constructs tasks with their collaborators injected and
// parameter defaults filled.
package factory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/aristath/taskpilot/internal/config"
	"github.com/aristath/taskpilot/internal/kinds"
	"github.com/aristath/taskpilot/internal/task"
)

var (
	// ErrUnknownKind is returned when no constructor is registered for a kind.
	ErrUnknownKind = errors.New("unknown task kind")
	// ErrInvalidConstructor is returned when a constructor cannot produce a usable action.
	ErrInvalidConstructor = errors.New("invalid constructor")
)

// Constructor creates a fresh action for a kind.
type Constructor = kinds.Constructor

// Hook adjusts a freshly built task before defaults are filled.
type Hook func(f *Factory, t *task.Task)

// Options carries the collaborators injected into every task.
type Options struct {
	Handles task.HandleFactory
	Config  *config.Config
	Secrets task.SecretStore
	Logger  *slog.Logger
}

// KindInfo describes a registered kind.
type KindInfo struct {
	Name        string
	Description string
	Schema      task.Schema
	Custom      bool
}

// Factory builds tasks for built-in and custom kinds.
type Factory struct {
	mu       sync.RWMutex
	builtins map[task.Kind]Constructor
	custom   map[string]Constructor
	hooks    map[task.Kind]Hook

	handles task.HandleFactory
	cfg     *config.Config
	secrets task.SecretStore
	logger  *slog.Logger
}

// New creates a factory seeded with the built-in kinds and the Loop custom kind.
func New(opts Options) *Factory {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		builtins: kinds.Builtins(),
		custom:   make(map[string]Constructor),
		hooks: map[task.Kind]Hook{
			task.KindLogin:        loginHook,
			task.KindWriteComment: commentHook,
			task.KindCheckPosts:   checkPostsHook,
		},
		handles: opts.Handles,
		cfg:     cfg,
		secrets: opts.Secrets,
		logger:  logger,
	}
	f.custom[kinds.LoopKind] = func() task.Action { return kinds.NewLoop() }
	return f
}

// Config returns the configuration injected into tasks.
func (f *Factory) Config() *config.Config { return f.cfg }

// Register replaces the constructor of a built-in kind.
func (f *Factory) Register(kind task.Kind, ctor Constructor) error {
	if kind == task.KindCustom {
		return fmt.Errorf("%w: use RegisterCustom for custom kinds", ErrInvalidConstructor)
	}
	if err := checkConstructor(kind.String(), ctor); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builtins[kind] = ctor
	return nil
}

// RegisterCustom adds a kind outside the built-in set. The constructor is
// invoked once to verify it yields an action with a valid schema.
func (f *Factory) RegisterCustom(name string, ctor Constructor) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return fmt.Errorf("%w: empty kind name", ErrInvalidConstructor)
	}
	if k, ok := task.ParseKind(name); ok && k != task.KindCustom {
		return fmt.Errorf("%w: %q is a built-in kind", ErrInvalidConstructor, name)
	}
	if err := checkConstructor(name, ctor); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.custom[name] = ctor
	return nil
}

func checkConstructor(name string, ctor Constructor) error {
	if ctor == nil {
		return fmt.Errorf("%w: nil constructor for %q", ErrInvalidConstructor, name)
	}
	action := ctor()
	if action == nil {
		return fmt.Errorf("%w: constructor for %q returned nil", ErrInvalidConstructor, name)
	}
	if _, err := action.Schema().Compile("kind-" + name); err != nil {
		return fmt.Errorf("%w: schema of %q: %v", ErrInvalidConstructor, name, err)
	}
	return nil
}

// CreateTask builds a task of a built-in kind.
func (f *Factory) CreateTask(kind task.Kind, name string, params map[string]any) (*task.Task, error) {
	f.mu.RLock()
	ctor, ok := f.builtins[kind]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return f.build(kind, "", ctor, name, params), nil
}

// CreateCustom builds a task of a registered custom kind.
func (f *Factory) CreateCustom(kindName, name string, params map[string]any) (*task.Task, error) {
	key := strings.ToLower(strings.TrimSpace(kindName))
	f.mu.RLock()
	ctor, ok := f.custom[key]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kindName)
	}
	return f.build(task.KindCustom, key, ctor, name, params), nil
}

// Create resolves kindName against the built-in kinds first, then the custom registry.
func (f *Factory) Create(kindName, name string, params map[string]any) (*task.Task, error) {
	if k, ok := task.ParseKind(kindName); ok && k != task.KindCustom {
		return f.CreateTask(k, name, params)
	}
	return f.CreateCustom(kindName, name, params)
}

func (f *Factory) build(kind task.Kind, customName string, ctor Constructor, name string, params map[string]any) *task.Task {
	sc := f.cfg.Scheduler
	opts := []task.Option{
		task.WithName(name),
		task.WithBackoff(sc.BackoffUnit, sc.MaxBackoff),
	}
	if sc.DefaultMaxRetries >= 0 {
		opts = append(opts, task.WithMaxRetries(sc.DefaultMaxRetries))
	}
	if customName != "" {
		opts = append(opts, task.WithCustomName(customName))
	}
	t := task.New(kind, ctor(), opts...)

	t.Inject(task.Deps{
		Handles: f.handles,
		Config:  f.cfg,
		Secrets: f.secrets,
		Logger:  f.logger.With("component", "task."+t.KindName(), "task_id", t.ID()),
	})
	if len(params) > 0 {
		t.SetParameters(params)
	}

	f.mu.RLock()
	hook := f.hooks[kind]
	f.mu.RUnlock()
	if hook != nil && customName == "" {
		hook(f, t)
	}
	t.FillDefaults()
	return t
}

// Kinds lists every registered kind, built-ins first.
func (f *Factory) Kinds() []KindInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []KindInfo
	for _, k := range task.Kinds() {
		ctor, ok := f.builtins[k]
		if !ok {
			continue
		}
		a := ctor()
		out = append(out, KindInfo{Name: k.String(), Description: a.Description(), Schema: a.Schema()})
	}
	names := make([]string, 0, len(f.custom))
	for name := range f.custom {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		a := f.custom[name]()
		out = append(out, KindInfo{Name: name, Description: a.Description(), Schema: a.Schema(), Custom: true})
	}
	return out
}

// Handle asks the injected handle factory for an executor handle.
func (f *Factory) Handle(ctx context.Context) (any, error) {
	if f.handles == nil {
		return nil, errors.New("no handle factory configured")
	}
	return f.handles(ctx)
}
