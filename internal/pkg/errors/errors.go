package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConfig marks fatal configuration problems (missing credentials,
	// malformed mapping tables, unknown retailers).
	ErrConfig = errors.New("configuration error")
)

// ConfigError names the offending setting.
type ConfigError struct {
	Field string
	Cause error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return ErrConfig.Error()
	}
	if e.Cause != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Field, e.Cause)
	}
	return fmt.Sprintf("configuration error: %s", e.Field)
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// Config builds a ConfigError.
func Config(field string, cause error) error {
	return &ConfigError{Field: field, Cause: cause}
}

// Configf builds a ConfigError with a formatted cause.
func Configf(field, format string, args ...any) error {
	return &ConfigError{Field: field, Cause: fmt.Errorf(format, args...)}
}
