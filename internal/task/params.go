package task

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ParamType is the primitive type tag of a parameter.
type ParamType string

const (
	ParamString   ParamType = "string"
	ParamPassword ParamType = "password"
	ParamInteger  ParamType = "integer"
	ParamFloat    ParamType = "float"
	ParamBoolean  ParamType = "boolean"
	ParamChoice   ParamType = "choice"
	ParamList     ParamType = "list"
)

// ParamSpec describes a single parameter of a task kind.
type ParamSpec struct {
	Type        ParamType
	Description string
	Required    bool
	Default     any
	Min         *float64
	Max         *float64
	Choices     []string
	Sensitive   bool // masked in snapshots and logs
}

// Schema maps parameter names to their descriptors.
type Schema map[string]ParamSpec

// Names returns the parameter names in sorted order.
func (s Schema) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Params holds converted parameter values keyed by name.
type Params map[string]any

// Clone returns a shallow copy with list values copied.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		if list, ok := v.([]string); ok {
			v = append([]string(nil), list...)
		}
		out[k] = v
	}
	return out
}

// String returns the value as a string, or "" when absent.
func (p Params) String(name string) string {
	switch v := p[name].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the value as an int, or def when absent or not numeric.
func (p Params) Int(name string, def int) int {
	if f, ok := toFloat(p[name]); ok {
		return int(f)
	}
	return def
}

// Float returns the value as a float64, or def when absent or not numeric.
func (p Params) Float(name string, def float64) float64 {
	if f, ok := toFloat(p[name]); ok {
		return f
	}
	return def
}

// Bool returns the value as a bool, or def when absent.
func (p Params) Bool(name string, def bool) bool {
	if v, ok := p[name].(bool); ok {
		return v
	}
	return def
}

// List returns the value as a string slice.
func (p Params) List(name string) []string {
	switch v := p[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

// Bound is a helper for declaring ParamSpec bounds inline.
func Bound(v float64) *float64 { return &v }

// convert coerces a raw value into the declared type of spec. Values that
// cannot be converted fall back to the schema default. Conversion never fails.
func convert(spec ParamSpec, value any) any {
	switch spec.Type {
	case ParamInteger:
		if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
			return defaultOr(spec, 0)
		}
		f, ok := toFloat(value)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return defaultOr(spec, 0)
		}
		return int(f)

	case ParamFloat:
		if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
			return defaultOr(spec, 0.0)
		}
		f, ok := toFloat(value)
		if !ok {
			return defaultOr(spec, 0.0)
		}
		return f

	case ParamBoolean:
		switch v := value.(type) {
		case bool:
			return v
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "1", "yes", "on":
				return true
			}
			return false
		}
		if f, ok := toFloat(value); ok {
			return f != 0
		}
		return defaultOr(spec, false)

	case ParamList:
		switch v := value.(type) {
		case []string:
			return append([]string(nil), v...)
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
					out = append(out, s)
				}
			}
			return out
		case string:
			if strings.TrimSpace(v) == "" {
				return defaultOr(spec, []string{})
			}
			var out []string
			for _, line := range strings.Split(v, "\n") {
				if line = strings.TrimSpace(line); line != "" {
					out = append(out, line)
				}
			}
			return out
		}
		return defaultOr(spec, []string{})

	case ParamChoice:
		s := fmt.Sprint(value)
		for _, c := range spec.Choices {
			if c == s {
				return s
			}
		}
		if spec.Default != nil {
			return spec.Default
		}
		if len(spec.Choices) > 0 {
			return spec.Choices[0]
		}
		return ""
	}

	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

func defaultOr(spec ParamSpec, fallback any) any {
	if spec.Default != nil {
		if list, ok := spec.Default.([]string); ok {
			return append([]string(nil), list...)
		}
		return spec.Default
	}
	return fallback
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// IsEmpty reports whether a value counts as missing for a parameter.
func IsEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []string:
		return len(x) == 0
	}
	return false
}
