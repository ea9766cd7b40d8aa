package scheduler

import (
	"errors"
	"fmt"
)

// ErrInvalidSpec matches every registration-time rejection.
var ErrInvalidSpec = errors.New("invalid handler spec")

var ErrNotRunning = errors.New("scheduler not running")

// ConfigurationError rejects a malformed handler definition at registration.
type ConfigurationError struct {
	ID     string
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("handler %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("handler %q %s: %s", e.ID, e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrInvalidSpec }

// ClockParseError rejects an HH:MM value that is malformed or out of range.
type ClockParseError struct {
	Input  string
	Reason string
}

func (e *ClockParseError) Error() string {
	return fmt.Sprintf("invalid clock time %q: %s", e.Input, e.Reason)
}

func (e *ClockParseError) Is(target error) bool { return target == ErrInvalidSpec }

// CallbackFailure wraps an error or panic raised by a handler callback. It is
// logged, recorded and returned to the dispatch engine; it never reaches the
// caller of the registration API.
type CallbackFailure struct {
	ID      string
	Trigger Trigger
	Err     error
	Panic   any
	Stack   string
}

func (e *CallbackFailure) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("handler %q (%s) panicked: %v", e.ID, e.Trigger, e.Panic)
	}
	return fmt.Sprintf("handler %q (%s): %v", e.ID, e.Trigger, e.Err)
}

func (e *CallbackFailure) Unwrap() error { return e.Err }
