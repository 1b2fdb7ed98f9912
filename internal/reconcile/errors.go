package reconcile

import (
	"errors"
	"fmt"
)

var ErrConfiguration = errors.New("configuration error")

// ConfigurationError stops the current operation; it is not retried.
type ConfigurationError struct {
	Sheet  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Sheet == "" {
		return e.Reason
	}
	return fmt.Sprintf("sheet %s: %s", e.Sheet, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// CoercionError describes a cell value that could not be converted; the raw
// value is sent instead.
type CoercionError struct {
	FieldPath string
	Value     string
	Kind      string
	Err       error
}

func (e *CoercionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("coerce %s %q as %s: %v", e.FieldPath, e.Value, e.Kind, e.Err)
	}
	return fmt.Sprintf("coerce %s %q as %s", e.FieldPath, e.Value, e.Kind)
}

func (e *CoercionError) Unwrap() error {
	return e.Err
}

type Logger interface {
	Printf(format string, args ...any)
}

func logf(logger Logger, format string, args ...any) {
	if logger == nil {
		return
	}
	logger.Printf(format, args...)
}
