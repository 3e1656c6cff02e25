// Package loaderr defines the error taxonomy shared by the virtual user runtime.
//
// Every failure raised inside a virtual user maps to one of the sentinels below
// so callers can branch with errors.Is regardless of which component produced it.
package loaderr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration marks malformed options. Never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrState marks an invalid state transition.
	ErrState = errors.New("invalid state")

	// ErrBarrierConflict is returned when a sync barrier is armed while another is outstanding
	ErrBarrierConflict = fmt.Errorf("%w: there can only be one sync barrier at a time", ErrState)

	// ErrTimeout is returned when a barrier, timer or synchronous request times out
	ErrTimeout = errors.New("timeout")

	// ErrCancelled resolves pending suspensions on close or abort
	ErrCancelled = errors.New("cancelled")

	// ErrTransport marks network and HTTP failures
	ErrTransport = errors.New("transport error")
)

// ConfigError describes a single invalid option
type ConfigError struct {
	Field   string
	Message string
}

// Configf builds a ConfigError with a formatted message
func Configf(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrConfiguration, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", ErrConfiguration, e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

// StateError reports an operation that is not valid in the subject's current state
type StateError struct {
	Subject string
	State   string
	Op      string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: cannot %s %s in state %s", ErrState, e.Op, e.Subject, e.State)
}

func (e *StateError) Unwrap() error {
	return ErrState
}

// TransportError wraps a failed network exchange. StatusCode is zero when no
// response was received.
type TransportError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	b.WriteString(ErrTransport.Error())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.URL != "" {
		b.WriteString(" ")
		b.WriteString(e.URL)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *TransportError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransport}
	}
	return []error{ErrTransport, e.Err}
}

// IsCancelled reports whether err is a cancellation outcome. Cancellations are
// not escalated as failures.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
