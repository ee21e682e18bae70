// Package driver provides executor handles that task kinds act upon.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrNoPage is returned by operations that need a loaded page.
	ErrNoPage = errors.New("no page loaded")
	// ErrElementNotFound is returned when a selector matches nothing.
	ErrElementNotFound = errors.New("element not found")
	// ErrNotClickable is returned when a matched element has no action to follow.
	ErrNotClickable = errors.New("element is not clickable")
)

// Element is a matched page element.
type Element struct {
	Tag   string            `json:"tag"`
	Text  string            `json:"text"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// Attr returns the attribute value or "".
func (e Element) Attr(name string) string {
	return e.Attrs[name]
}

// Driver is the set of page actions task kinds rely on.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL() string
	Click(ctx context.Context, selector string) error
	TypeText(ctx context.Context, selector, text string) error
	PageText(ctx context.Context) (string, error)
	FindElements(ctx context.Context, selector string) ([]Element, error)
	Scroll(ctx context.Context, pixels int) error
	Close() error
}

// Config selects and configures a driver implementation.
type Config struct {
	Type      string        // "http" or "process"
	Command   string        // helper executable for the process driver
	Args      []string      // helper arguments
	Timeout   time.Duration // per-request timeout
	UserAgent string
}

// New creates the driver described by cfg.
func New(ctx context.Context, cfg Config, pm *ProcessManager, logger *slog.Logger) (Driver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Type {
	case "", "http":
		return NewHTTPDriver(cfg, logger), nil
	case "process":
		return StartProcessDriver(ctx, cfg, pm, logger)
	default:
		return nil, fmt.Errorf("unknown driver type: %s", cfg.Type)
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
