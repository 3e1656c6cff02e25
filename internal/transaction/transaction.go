// Package transaction implements named, timed measurements owned by a single
// virtual user.
package transaction

import (
	"fmt"
	"sync"
	"time"

	"github.com/wesleyorama2/vurun/internal/loaderr"
)

// State is the lifecycle state of a transaction
type State int

const (
	NotStarted State = iota
	InProgress
	Ended
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case InProgress:
		return "InProgress"
	case Ended:
		return "Ended"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status is the outcome of a transaction
type Status int

const (
	Passed Status = iota
	Failed
)

func (s Status) String() string {
	if s == Failed {
		return "Failed"
	}
	return "Passed"
}

// Record is what a transaction reports when it ends
type Record struct {
	VUID      int
	Iteration int64
	Name      string
	Status    Status
	Duration  time.Duration
	Time      time.Time
}

// Reporter receives ended transactions
type Reporter interface {
	ReportTransaction(Record)
}

// Transaction is a named timer with a pass/fail status
type Transaction struct {
	mu        sync.Mutex
	name      string
	state     State
	status    Status
	startTime time.Time
	duration  time.Duration

	tracker *Tracker
}

// Name returns the transaction name
func (t *Transaction) Name() string {
	return t.name
}

// State returns the current state
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Status returns the current status
func (t *Transaction) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// StartTime returns when Start was called, zero if it was not
func (t *Transaction) StartTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startTime
}

// Duration returns the last computed duration. Call Update for a live value.
func (t *Transaction) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.duration
}

// Start begins timing. Only valid from NotStarted.
func (t *Transaction) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != NotStarted {
		return t.stateError("start")
	}
	t.state = InProgress
	t.startTime = t.tracker.now()
	t.duration = 0
	return nil
}

// Stop ends a running transaction and reports it. The status defaults to
// the one set with SetStatus, Passed unless changed. Stopping a transaction
// that is not running is a StateError.
func (t *Transaction) Stop(status ...Status) error {
	t.mu.Lock()

	if t.state != InProgress {
		t.mu.Unlock()
		return t.stateError("stop")
	}

	if len(status) > 0 {
		t.status = status[0]
	}
	t.duration = t.tracker.now().Sub(t.startTime)
	if t.duration < 0 {
		t.duration = 0
	}
	t.state = Ended
	rec := t.record()
	t.mu.Unlock()

	t.tracker.report(rec)
	return nil
}

// Set reports a manually measured transaction. It is valid in any state and
// forces the transaction to Ended.
func (t *Transaction) Set(status Status, duration time.Duration) error {
	if duration < 0 {
		return loaderr.Configf("duration", "transaction %s: negative duration %s", t.name, duration)
	}

	t.mu.Lock()
	t.status = status
	t.duration = duration
	t.state = Ended
	rec := t.record()
	t.mu.Unlock()

	t.tracker.report(rec)
	return nil
}

// SetStatus sets the status that Stop will report. Not valid once ended.
func (t *Transaction) SetStatus(status Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == Ended {
		return t.stateError("set status of")
	}
	t.status = status
	return nil
}

// Update refreshes the live duration while running. It never changes state
// or status.
func (t *Transaction) Update() *Transaction {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == InProgress {
		t.duration = t.tracker.now().Sub(t.startTime)
	}
	return t
}

func (t *Transaction) record() Record {
	return Record{
		VUID:      t.tracker.vuID,
		Iteration: t.tracker.iteration,
		Name:      t.name,
		Status:    t.status,
		Duration:  t.duration,
		Time:      t.tracker.now(),
	}
}

func (t *Transaction) stateError(op string) error {
	return &loaderr.StateError{Subject: "transaction " + t.name, State: t.state.String(), Op: op}
}
