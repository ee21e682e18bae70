package driver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// newCommand creates an exec.Cmd in its own process group so the whole
// helper tree can be terminated together.
func newCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	return cmd
}

// killProcessGroup kills the entire process group associated with the command.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill process group: %w", err)
	}
	return nil
}

// ProcessManager tracks running helper processes so they can all be
// terminated on shutdown.
type ProcessManager struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

// NewProcessManager creates a new ProcessManager.
func NewProcessManager() *ProcessManager {
	return &ProcessManager{
		procs: make(map[int]*exec.Cmd),
	}
}

// Track registers a started subprocess.
func (pm *ProcessManager) Track(cmd *exec.Cmd) {
	if pm == nil || cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.procs[cmd.Process.Pid] = cmd
}

// Untrack removes a subprocess after it exited.
func (pm *ProcessManager) Untrack(cmd *exec.Cmd) {
	if pm == nil || cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.procs, cmd.Process.Pid)
}

// KillAll terminates all tracked subprocesses.
func (pm *ProcessManager) KillAll() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var errs []error
	for pid, cmd := range pm.procs {
		if err := killProcessGroup(cmd); err != nil {
			errs = append(errs, fmt.Errorf("failed to kill process %d: %w", pid, err))
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of currently tracked processes.
func (pm *ProcessManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.procs)
}

// request is one JSON line written to the helper's stdin.
type request struct {
	ID   int64          `json:"id"`
	Op   string         `json:"op"`
	Args map[string]any `json:"args,omitempty"`
}

// response is one JSON line read from the helper's stdout.
type response struct {
	ID     int64           `json:"id"`
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// ProcessDriver delegates page actions to a long-lived helper process (for
// example a headless browser bridge) over a JSON-lines protocol.
type ProcessDriver struct {
	cmd     *exec.Cmd
	pm      *ProcessManager
	logger  *slog.Logger
	timeout time.Duration

	stdin io.WriteCloser
	lines chan response
	done  chan struct{}

	mu      sync.Mutex // serializes request/response pairs
	nextID  int64
	current string

	waitErr error
}

// StartProcessDriver launches the helper and starts reading its output.
func StartProcessDriver(ctx context.Context, cfg Config, pm *ProcessManager, logger *slog.Logger) (*ProcessDriver, error) {
	if cfg.Command == "" {
		return nil, errors.New("process driver requires a command")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// The helper outlives the caller's ctx; it is stopped by Close.
	cmd := newCommand(context.WithoutCancel(ctx), cfg.Command, cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start command: %w", err)
	}
	pm.Track(cmd)

	d := &ProcessDriver{
		cmd:     cmd,
		pm:      pm,
		logger:  logger,
		timeout: timeout,
		stdin:   stdin,
		lines:   make(chan response, 16),
		done:    make(chan struct{}),
	}

	// Both pipes are drained concurrently before Wait.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			var resp response
			if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
				logger.Warn("driver helper sent malformed line", "error", err)
				continue
			}
			d.lines <- resp
		}
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Debug("driver helper", "stderr", scanner.Text())
		}
	}()
	go func() {
		wg.Wait()
		err := cmd.Wait()
		pm.Untrack(cmd)
		d.waitErr = err // read only after done is closed
		close(d.done)
	}()

	return d, nil
}

func (d *ProcessDriver) call(ctx context.Context, op string, args map[string]any, out any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	select {
	case <-d.done:
		return fmt.Errorf("driver helper exited: %v", d.waitErr)
	default:
	}

	d.nextID++
	id := d.nextID
	line, err := json.Marshal(request{ID: id, Op: op, Args: args})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}
	if _, err := d.stdin.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write %s request: %w", op, err)
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%s: timed out after %s", op, d.timeout)
		case <-d.done:
			return fmt.Errorf("driver helper exited during %s", op)
		case resp := <-d.lines:
			if resp.ID != id {
				// Stale reply to an abandoned request.
				continue
			}
			if !resp.OK {
				return mapHelperError(op, resp.Error)
			}
			if out != nil && len(resp.Result) > 0 {
				if err := json.Unmarshal(resp.Result, out); err != nil {
					return fmt.Errorf("decode %s result: %w", op, err)
				}
			}
			return nil
		}
	}
}

func mapHelperError(op, msg string) error {
	switch msg {
	case "not_found":
		return fmt.Errorf("%s: %w", op, ErrElementNotFound)
	case "no_page":
		return fmt.Errorf("%s: %w", op, ErrNoPage)
	}
	return fmt.Errorf("%s: %s", op, msg)
}

func (d *ProcessDriver) Navigate(ctx context.Context, url string) error {
	var res struct {
		URL string `json:"url"`
	}
	if err := d.call(ctx, "navigate", map[string]any{"url": url}, &res); err != nil {
		return err
	}
	d.mu.Lock()
	d.current = url
	if res.URL != "" {
		d.current = res.URL
	}
	d.mu.Unlock()
	return nil
}

func (d *ProcessDriver) CurrentURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func (d *ProcessDriver) Click(ctx context.Context, selector string) error {
	return d.call(ctx, "click", map[string]any{"selector": selector}, nil)
}

func (d *ProcessDriver) TypeText(ctx context.Context, selector, text string) error {
	return d.call(ctx, "type", map[string]any{"selector": selector, "text": text}, nil)
}

func (d *ProcessDriver) PageText(ctx context.Context) (string, error) {
	var text string
	err := d.call(ctx, "text", nil, &text)
	return text, err
}

func (d *ProcessDriver) FindElements(ctx context.Context, selector string) ([]Element, error) {
	var els []Element
	err := d.call(ctx, "find", map[string]any{"selector": selector}, &els)
	return els, err
}

func (d *ProcessDriver) Scroll(ctx context.Context, pixels int) error {
	return d.call(ctx, "scroll", map[string]any{"pixels": pixels}, nil)
}

// Close asks the helper to exit by closing stdin and kills its process group
// if it does not exit within a few seconds.
func (d *ProcessDriver) Close() error {
	_ = d.stdin.Close()
	select {
	case <-d.done:
		return nil
	case <-time.After(3 * time.Second):
	}
	if err := killProcessGroup(d.cmd); err != nil {
		return err
	}
	<-d.done
	return nil
}
