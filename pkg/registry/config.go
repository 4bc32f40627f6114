package registry

import (
	"fmt"
	"sort"
	"time"

	"github.com/wehubfusion/Sawmill/pkg/document"
)

// Config is the raw configuration of one processor or condition, as decoded
// from a pipeline definition.
type Config map[string]interface{}

// Has reports whether key is present.
func (c Config) Has(key string) bool {
	_, ok := c[key]
	return ok
}

// String returns the string at key or defaultValue.
func (c Config) String(key, defaultValue string) string {
	if v, ok := c[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultValue
}

// Bool returns the bool at key or defaultValue.
func (c Config) Bool(key string, defaultValue bool) bool {
	if v, ok := c[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultValue
}

// Int returns the integer at key or defaultValue. JSON numbers arrive as float64.
func (c Config) Int(key string, defaultValue int) int {
	if v, ok := c[key]; ok {
		switch val := v.(type) {
		case int:
			return val
		case int64:
			return int(val)
		case float64:
			return int(val)
		}
	}
	return defaultValue
}

// Duration returns the duration at key. Strings use time.ParseDuration
// syntax; numbers are milliseconds.
func (c Config) Duration(key string, defaultValue time.Duration) (time.Duration, error) {
	v, ok := c[key]
	if !ok {
		return defaultValue, nil
	}
	switch val := v.(type) {
	case string:
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return d, nil
	case int:
		return time.Duration(val) * time.Millisecond, nil
	case int64:
		return time.Duration(val) * time.Millisecond, nil
	case float64:
		return time.Duration(val * float64(time.Millisecond)), nil
	default:
		return 0, fmt.Errorf("%s: expected a duration, got %T", key, v)
	}
}

// StringSlice returns a list of strings at key. A single string is treated
// as a one-element list. Non-string items are skipped.
func (c Config) StringSlice(key string) []string {
	switch v := c[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Map returns the nested object at key.
func (c Config) Map(key string) (map[string]interface{}, bool) {
	m, ok := c[key].(map[string]interface{})
	return m, ok
}

// List returns the list at key.
func (c Config) List(key string) ([]interface{}, bool) {
	l, ok := c[key].([]interface{})
	return l, ok
}

// RequireString returns a non-empty string at key or a *ConfigError.
func (c Config) RequireString(typ, key string) (string, error) {
	v, ok := c[key]
	if !ok {
		return "", NewConfigError(typ, key, "is required", nil)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", NewConfigError(typ, key, "must be a non-empty string", nil)
	}
	return s, nil
}

// RequirePath returns a parsed field path at key or a *ConfigError.
func (c Config) RequirePath(typ, key string) (document.Path, error) {
	raw, err := c.RequireString(typ, key)
	if err != nil {
		return document.Path{}, err
	}
	p, err := document.ParsePath(raw)
	if err != nil {
		return document.Path{}, NewConfigError(typ, key, "malformed field path", err)
	}
	return p, nil
}

// Keys returns the configured keys in sorted order.
func (c Config) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SplitTyped unpacks a single-key object {type: {config}} into its type name
// and configuration. A nil config value yields an empty Config.
func SplitTyped(raw interface{}) (string, Config, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return "", nil, fmt.Errorf("%w: expected an object with a single type key, got %T", ErrInvalidConfig, raw)
	}
	if len(m) != 1 {
		return "", nil, fmt.Errorf("%w: expected exactly one type key, got %d", ErrInvalidConfig, len(m))
	}
	for typ, body := range m {
		switch cfg := body.(type) {
		case nil:
			return typ, Config{}, nil
		case map[string]interface{}:
			return typ, Config(cfg), nil
		case Config:
			return typ, cfg, nil
		default:
			return "", nil, fmt.Errorf("%w: configuration of %q must be an object, got %T", ErrInvalidConfig, typ, body)
		}
	}
	return "", nil, ErrInvalidConfig
}
