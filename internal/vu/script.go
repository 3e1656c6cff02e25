// Package vu runs virtual user scripts.
//
// A Script registers an initialize callback, ordered actions and a finalize
// callback. Each VirtualUser runs the script in iterations on its own
// goroutine; blocking-style calls made through the Context suspend only that
// user. The Scheduler owns the pool of virtual users the executors drive.
package vu

import (
	"fmt"
	"strings"

	"github.com/wesleyorama2/vurun/internal/loaderr"
)

// Callback is a script phase. A non-nil error fails the iteration, except
// loaderr.ErrCancelled which is not escalated.
type Callback func(*Context) error

// Action is a named script action
type Action struct {
	Name     string
	Callback Callback
}

// Script holds the registered callbacks. Registration order of actions is
// execution order.
type Script struct {
	initialize Callback
	actions    []Action
	finalize   Callback
	names      map[string]bool
}

// NewScript creates an empty script
func NewScript() *Script {
	return &Script{names: make(map[string]bool)}
}

// Initialize registers the callback run once at the start of each iteration
func (s *Script) Initialize(cb Callback) error {
	if cb == nil {
		return loaderr.Configf("initialize", "callback is required")
	}
	if s.initialize != nil {
		return loaderr.Configf("initialize", "already registered")
	}
	s.initialize = cb
	return nil
}

// Action registers a named action after the ones already registered
func (s *Script) Action(name string, cb Callback) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return loaderr.Configf("action", "name is required")
	}
	if cb == nil {
		return loaderr.Configf("action", "callback is required for %q", name)
	}
	if s.names[name] {
		return loaderr.Configf("action", "%q is already registered", name)
	}
	s.names[name] = true
	s.actions = append(s.actions, Action{Name: name, Callback: cb})
	return nil
}

// Finalize registers the callback run at the end of each iteration
func (s *Script) Finalize(cb Callback) error {
	if cb == nil {
		return loaderr.Configf("finalize", "callback is required")
	}
	if s.finalize != nil {
		return loaderr.Configf("finalize", "already registered")
	}
	s.finalize = cb
	return nil
}

// Actions returns the registered actions in execution order
func (s *Script) Actions() []Action {
	return append([]Action(nil), s.actions...)
}

// Validate checks that the script can run
func (s *Script) Validate() error {
	if s == nil || len(s.actions) == 0 {
		return loaderr.Configf("script", "at least one action is required")
	}
	return nil
}

// ExitType selects how Context.Exit unwinds
type ExitType int

const (
	// ExitIteration ends the current iteration after finalize
	ExitIteration ExitType = iota + 1
	// ExitStop ends the iteration after finalize and starts no further ones
	ExitStop
	// ExitAbort ends the virtual user immediately, finalize is skipped
	ExitAbort
)

func (e ExitType) String() string {
	switch e {
	case ExitIteration:
		return "iteration"
	case ExitStop:
		return "stop"
	case ExitAbort:
		return "abort"
	default:
		return fmt.Sprintf("ExitType(%d)", int(e))
	}
}

// ParseExitType parses "iteration", "stop" or "abort"
func ParseExitType(s string) (ExitType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "iteration":
		return ExitIteration, nil
	case "stop":
		return ExitStop, nil
	case "abort":
		return ExitAbort, nil
	}
	return 0, loaderr.Configf("exit", "unknown exit type %q", s)
}

// LogLevel is a script log level
type LogLevel string

const (
	LevelError   LogLevel = "error"
	LevelWarning LogLevel = "warning"
	LevelInfo    LogLevel = "info"
	LevelDebug   LogLevel = "debug"
	LevelTrace   LogLevel = "trace"
)

// ScriptInfo describes where the script came from
type ScriptInfo struct {
	Name      string
	Directory string
	FullPath  string
}

// HostInfo describes the load generator
type HostInfo struct {
	Name string
}

// Config is the per virtual user configuration handed to scripts
type Config struct {
	UserID int
	Script ScriptInfo
	Host   HostInfo
	Params map[string]string
}
