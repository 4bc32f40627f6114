package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownType is returned when no creator is registered for a type.
	ErrUnknownType = errors.New("unknown type")

	// ErrInvalidConfig matches every *ConfigError.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ConfigError represents a configuration validation error for a processor or condition.
type ConfigError struct {
	Type    string
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: config error [%s]: %s", e.Type, e.Field, msg)
	}
	return fmt.Sprintf("%s: config error: %s", e.Type, msg)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Is reports ErrInvalidConfig as a match.
func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfig }

// NewConfigError creates a configuration error.
func NewConfigError(typ, field, message string, err error) *ConfigError {
	return &ConfigError{Type: typ, Field: field, Message: message, Err: err}
}
