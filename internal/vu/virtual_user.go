package vu

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/vurun/internal/loaderr"
	"github.com/wesleyorama2/vurun/internal/transaction"
)

// State represents the lifecycle state of a virtual user.
type State int32

const (
	StateCreated State = iota
	StateInitializing
	StateRunning
	StateFinalizing
	StateCompletedIteration
	StateStopped
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateFinalizing:
		return "finalizing"
	case StateCompletedIteration:
		return "completed-iteration"
	case StateStopped:
		return "stopped"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further iterations can start
func (s State) Terminal() bool {
	return s == StateStopped || s == StateAborted
}

// Sink receives the measurements of virtual users. metrics.Engine
// implements it.
type Sink interface {
	transaction.Reporter
	RecordDataPoint(name string, value float64)
	RecordIteration(duration time.Duration, failed bool)
}

// environment is shared by every user of a scheduler
type environment struct {
	script      *Script
	params      map[string]string
	scriptInfo  ScriptInfo
	host        HostInfo
	sink        Sink
	logger      *zap.Logger
	transport   http.RoundTripper
	baseURL     string
	timeout     time.Duration
	headers     map[string]string
	credentials Credentials
}

// IterationResult describes one finished iteration
type IterationResult struct {
	VUID      int
	Iteration int64
	Duration  time.Duration
	Failed    bool
	Err       error
	// Exit is zero when the script did not call Exit
	Exit        ExitType
	ExitMessage string
	// OpenTransactions were still running when the iteration ended
	OpenTransactions []string
	State            State
}

// errExit marks a callback unwound by Context.Exit
var errExit = errors.New("exit")

// VirtualUser is a single simulated user running script iterations on its
// own goroutine.
type VirtualUser struct {
	// Unique identifier, starting at 1
	ID int

	env *environment

	state     atomic.Int32
	iteration atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
	doneOnce sync.Once

	abortCtx context.Context
	abort    context.CancelFunc

	dataMu sync.RWMutex
	data   map[string]interface{}
}

func newVirtualUser(id int, env *environment) *VirtualUser {
	abortCtx, abort := context.WithCancel(context.Background())
	return &VirtualUser{
		ID:       id,
		env:      env,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		abortCtx: abortCtx,
		abort:    abort,
		data:     make(map[string]interface{}),
	}
}

// GetState returns the current lifecycle state
func (vu *VirtualUser) GetState() State {
	return State(vu.state.Load())
}

func (vu *VirtualUser) setState(s State) {
	for {
		cur := vu.state.Load()
		if State(cur).Terminal() {
			return
		}
		if vu.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// GetIteration returns the number of iterations started
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// Config returns the configuration handed to scripts
func (vu *VirtualUser) Config() Config {
	params := make(map[string]string, len(vu.env.params))
	for k, v := range vu.env.params {
		params[k] = v
	}
	return Config{
		UserID: vu.ID,
		Script: vu.env.scriptInfo,
		Host:   vu.env.host,
		Params: params,
	}
}

// RunIteration runs initialize, every action in order, then finalize.
//
// A failing callback ends the iteration early; finalize still runs. Exit
// with ExitIteration or ExitStop also runs finalize. An abort, either from
// Exit or Abort, or cancellation of ctx skips finalize.
func (vu *VirtualUser) RunIteration(ctx context.Context) IterationResult {
	res := IterationResult{VUID: vu.ID, Iteration: vu.iteration.Load()}
	if s := vu.GetState(); s.Terminal() {
		res.State = s
		res.Err = &loaderr.StateError{Subject: "virtual user", State: s.String(), Op: "run iteration"}
		return res
	}

	iterCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(vu.abortCtx, cancel)
	defer stop()

	res.Iteration = vu.iteration.Add(1) - 1
	c := newContext(iterCtx, vu, res.Iteration)
	script := vu.env.script
	start := time.Now()

	var failure error
	// fail records err and reports whether the iteration body must end
	fail := func(phase string, err error) bool {
		switch {
		case err == nil:
			return iterCtx.Err() != nil
		case errors.Is(err, errExit):
			return true
		case loaderr.IsCancelled(err) || iterCtx.Err() != nil:
			return iterCtx.Err() != nil
		}
		if failure == nil {
			failure = fmt.Errorf("%s: %w", phase, err)
		}
		return true
	}

	// events queued while no callback was suspended run between callbacks
	events := func() bool {
		if c.loop.Len() == 0 {
			return false
		}
		return fail("events", vu.invoke(c, "events", drainEvents))
	}

	vu.setState(StateInitializing)
	if !fail("initialize", vu.invoke(c, "initialize", script.initialize)) && !events() {
		vu.setState(StateRunning)
		for _, action := range script.actions {
			if fail(action.Name, vu.invoke(c, action.Name, action.Callback)) || events() {
				break
			}
		}
	}

	if !vu.interrupted(iterCtx, c) {
		vu.setState(StateFinalizing)
		fail("finalize", vu.invoke(c, "finalize", script.finalize))
	}
	if !vu.interrupted(iterCtx, c) {
		fail("events", vu.invoke(c, "events", settleEvents))
	}

	res.OpenTransactions = c.release()
	res.Duration = time.Since(start)
	res.Err = failure

	if ex := c.exitRequest(); ex != nil {
		res.Exit = ex.kind
		res.ExitMessage = ex.message
		c.logger.Info("script exit", zap.Stringer("type", ex.kind), zap.String("message", ex.message))
	}
	res.Failed = failure != nil || res.Exit == ExitAbort

	switch {
	case vu.abortCtx.Err() != nil || res.Exit == ExitAbort:
		vu.setState(StateAborted)
	case res.Exit == ExitStop || vu.stopRequested() || ctx.Err() != nil:
		vu.setState(StateStopped)
	default:
		vu.setState(StateCompletedIteration)
	}
	res.State = vu.GetState()

	if failure != nil {
		c.logger.Warn("iteration failed", zap.Error(failure))
	}
	if len(res.OpenTransactions) > 0 {
		c.logger.Debug("transactions still open at iteration end", zap.Strings("transactions", res.OpenTransactions))
	}
	if vu.env.sink != nil {
		vu.env.sink.RecordIteration(res.Duration, res.Failed)
	}
	return res
}

func drainEvents(c *Context) error {
	c.loop.Drain()
	return nil
}

// settleEvents waits for outstanding sends so their completions run before
// the iteration releases its loop
func settleEvents(c *Context) error {
	if err := c.client.Settle(c.ctx); err != nil {
		return err
	}
	c.loop.Drain()
	return nil
}

// interrupted reports whether finalize must be skipped
func (vu *VirtualUser) interrupted(ctx context.Context, c *Context) bool {
	if ctx.Err() != nil {
		return true
	}
	ex := c.exitRequest()
	return ex != nil && ex.kind == ExitAbort
}

// invoke runs cb on its own goroutine so Exit can unwind it with
// runtime.Goexit. Panics become errors. When ctx ends first the callback is
// abandoned; every suspension it may be blocked in resolves with
// ErrCancelled.
func (vu *VirtualUser) invoke(c *Context, phase string, cb Callback) error {
	if cb == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		returned := false
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in %s: %v", phase, r)
				return
			}
			if !returned {
				done <- errExit
			}
		}()
		err := cb(c)
		returned = true
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-c.ctx.Done():
		select {
		case err := <-done:
			return err
		default:
			return loaderr.ErrCancelled
		}
	}
}

// RequestStop asks the user to stop after the current iteration
func (vu *VirtualUser) RequestStop() {
	vu.stopOnce.Do(func() { close(vu.stopCh) })
	vu.state.CompareAndSwap(int32(StateCreated), int32(StateStopped))
	vu.state.CompareAndSwap(int32(StateCompletedIteration), int32(StateStopped))
}

func (vu *VirtualUser) stopRequested() bool {
	select {
	case <-vu.stopCh:
		return true
	default:
		return false
	}
}

// Abort ends the user immediately. Suspended calls return ErrCancelled and
// finalize is skipped.
func (vu *VirtualUser) Abort() {
	vu.abort()
	vu.state.CompareAndSwap(int32(StateCreated), int32(StateAborted))
	vu.state.CompareAndSwap(int32(StateCompletedIteration), int32(StateAborted))
}

// WaitForStop waits until MarkStopped is called or timeout expires
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	select {
	case <-vu.doneCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Done is closed once the user has stopped running
func (vu *VirtualUser) Done() <-chan struct{} {
	return vu.doneCh
}

// MarkStopped records that the user's goroutine has returned
func (vu *VirtualUser) MarkStopped() {
	vu.setState(StateStopped)
	vu.doneOnce.Do(func() {
		vu.abort()
		close(vu.doneCh)
	})
}

// SetData stores a value in the user's variable scope
func (vu *VirtualUser) SetData(key string, value interface{}) {
	vu.dataMu.Lock()
	defer vu.dataMu.Unlock()
	vu.data[key] = value
}

// GetData returns a value from the user's variable scope
func (vu *VirtualUser) GetData(key string) (interface{}, bool) {
	vu.dataMu.RLock()
	defer vu.dataMu.RUnlock()
	v, ok := vu.data[key]
	return v, ok
}

// ClearData removes a value from the user's variable scope
func (vu *VirtualUser) ClearData(key string) {
	vu.dataMu.Lock()
	defer vu.dataMu.Unlock()
	delete(vu.data, key)
}
