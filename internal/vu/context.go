package vu

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/vurun/internal/cookie"
	"github.com/wesleyorama2/vurun/internal/extract"
	vhttp "github.com/wesleyorama2/vurun/internal/http"
	"github.com/wesleyorama2/vurun/internal/loaderr"
	"github.com/wesleyorama2/vurun/internal/suspend"
	"github.com/wesleyorama2/vurun/internal/timer"
	"github.com/wesleyorama2/vurun/internal/transaction"
	"github.com/wesleyorama2/vurun/internal/vts"
	"github.com/wesleyorama2/vurun/internal/websocket"
)

// Credentials resolves masked or encrypted secrets for scripts
type Credentials interface {
	Unmask(masked string) (string, error)
	Decrypt(encrypted string) (string, error)
}

type noCredentials struct{}

func (noCredentials) Unmask(string) (string, error) {
	return "", loaderr.Configf("credentials", "no credential provider configured")
}

func (noCredentials) Decrypt(string) (string, error) {
	return "", loaderr.Configf("credentials", "no credential provider configured")
}

type exitRequest struct {
	kind    ExitType
	message string
}

// Context is the script's view of one iteration of a virtual user. All
// resources reached through it are owned by that iteration and released
// when it ends.
type Context struct {
	ctx       context.Context
	vu        *VirtualUser
	iteration int64
	logger    *zap.Logger

	loop    *suspend.Loop
	jar     *cookie.Jar
	client  *vhttp.Client
	tracker *transaction.Tracker

	mu      sync.Mutex
	sockets []*websocket.Socket
	timers  []*timer.Timer
	exit    *exitRequest
}

func newContext(ctx context.Context, vu *VirtualUser, iteration int64) *Context {
	env := vu.env
	loop := suspend.NewLoop()
	jar := cookie.NewJar()
	logger := env.logger.With(zap.Int("vu", vu.ID), zap.Int64("iteration", iteration))

	opts := []vhttp.ClientOption{
		vhttp.WithJar(jar),
		vhttp.WithLoop(loop),
		vhttp.WithLogger(logger),
	}
	if env.transport != nil {
		opts = append(opts, vhttp.WithTransport(env.transport))
	}
	if env.baseURL != "" {
		opts = append(opts, vhttp.WithBaseURL(env.baseURL))
	}
	if env.timeout > 0 {
		opts = append(opts, vhttp.WithTimeout(env.timeout))
	}
	for k, v := range env.headers {
		opts = append(opts, vhttp.WithHeader(k, v))
	}

	return &Context{
		ctx:       ctx,
		vu:        vu,
		iteration: iteration,
		logger:    logger,
		loop:      loop,
		jar:       jar,
		client:    vhttp.NewClient(opts...),
		tracker:   transaction.NewTracker(vu.ID, iteration, env.sink),
	}
}

// Context returns the context blocking calls should use. It is cancelled
// when the virtual user is aborted.
func (c *Context) Context() context.Context { return c.ctx }

// Done is closed when the virtual user is aborted
func (c *Context) Done() <-chan struct{} { return c.ctx.Done() }

// Loop returns the event loop drained while this iteration is suspended
func (c *Context) Loop() *suspend.Loop { return c.loop }

// Iteration returns the zero-based iteration number
func (c *Context) Iteration() int64 { return c.iteration }

// UserID returns the virtual user id
func (c *Context) UserID() int { return c.vu.ID }

// Config returns the virtual user configuration
func (c *Context) Config() Config { return c.vu.Config() }

// Params returns a copy of the script parameters
func (c *Context) Params() map[string]string {
	out := make(map[string]string, len(c.vu.env.params))
	for k, v := range c.vu.env.params {
		out[k] = v
	}
	return out
}

// Param returns one script parameter
func (c *Context) Param(name string) (string, bool) {
	v, ok := c.vu.env.params[name]
	return v, ok
}

// SetData stores a value that survives across iterations of this user
func (c *Context) SetData(key string, value interface{}) { c.vu.SetData(key, value) }

// GetData returns a value stored with SetData
func (c *Context) GetData(key string) (interface{}, bool) { return c.vu.GetData(key) }

// Logger returns the iteration logger
func (c *Context) Logger() *zap.Logger { return c.logger }

// Log writes a script message at the given level
func (c *Context) Log(message string, level LogLevel) {
	switch level {
	case LevelError:
		c.logger.Error(message)
	case LevelWarning:
		c.logger.Warn(message)
	case LevelDebug:
		c.logger.Debug(message)
	case LevelTrace:
		c.logger.Debug(message, zap.Bool("trace", true))
	default:
		c.logger.Info(message)
	}
}

// Sleep suspends the user for d. Queued events run meanwhile. Only an abort
// cuts it short.
func (c *Context) Sleep(d time.Duration) error {
	return suspend.Sleep(c.ctx, c.loop, d)
}

// Exit unwinds the running callback. It does not return, so it must be
// called from script code running on this user.
func (c *Context) Exit(kind ExitType, message string) {
	c.mu.Lock()
	// a stronger exit requested later, e.g. stop from finalize, wins
	if c.exit == nil || kind > c.exit.kind {
		c.exit = &exitRequest{kind: kind, message: message}
	}
	c.mu.Unlock()

	if kind == ExitAbort {
		c.vu.Abort()
	}
	runtime.Goexit()
}

func (c *Context) exitRequest() *exitRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exit
}

// ReportDataPoint records a named numeric sample
func (c *Context) ReportDataPoint(name string, value interface{}) error {
	if name == "" {
		return loaderr.Configf("dataPoint", "name is required")
	}
	v, err := toFloat(value)
	if err != nil {
		return err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return loaderr.Configf("dataPoint", "value for %q is not finite", name)
	}
	if c.vu.env.sink != nil {
		c.vu.env.sink.RecordDataPoint(name, v)
	}
	return nil
}

func toFloat(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case time.Duration:
		return float64(v.Milliseconds()), nil
	}
	return 0, loaderr.Configf("dataPoint", "value must be numeric, got %T", value)
}

// Transaction returns the named transaction of this iteration
func (c *Context) Transaction(name string) *transaction.Transaction {
	return c.tracker.Get(name)
}

// Cookies returns the iteration cookie jar
func (c *Context) Cookies() *cookie.Jar { return c.jar }

// SetUserCredentials replaces the basic authentication credentials of later
// requests. Each entry is scoped to its host.
func (c *Context) SetUserCredentials(creds ...vhttp.Credentials) error {
	return c.client.SetCredentials(creds...)
}

// NewRequest builds an immutable request
func (c *Context) NewRequest(opts vhttp.RequestOptions) (*vhttp.Request, error) {
	return vhttp.NewRequest(opts)
}

// Send starts req without waiting. onDone runs on this user once the
// response arrives: while a callback is suspended, between callbacks, or at
// the latest before the iteration ends.
func (c *Context) Send(req *vhttp.Request, onDone func(*vhttp.Response, error)) *vhttp.Pending {
	return c.client.Send(c.ctx, req, onDone)
}

// SendSync sends req and suspends until the response arrives
func (c *Context) SendSync(req *vhttp.Request) (*vhttp.Response, error) {
	return c.client.SendSync(c.ctx, req)
}

// HTTPClient returns the iteration HTTP client
func (c *Context) HTTPClient() *vhttp.Client { return c.client }

// NewWebSocket creates a socket bound to this iteration. It is closed when
// the iteration ends.
func (c *Context) NewWebSocket(opts websocket.Options) (*websocket.Socket, error) {
	opts.Loop = c.loop
	if opts.Logger == nil {
		opts.Logger = c.logger
	}
	s, err := websocket.New(opts)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.sockets = append(c.sockets, s)
	c.mu.Unlock()
	return s, nil
}

// NewTimer creates a timer whose callback runs on this user. It is stopped
// when the iteration ends.
func (c *Context) NewTimer(callback func(), delay time.Duration) (*timer.Timer, error) {
	t, err := timer.New(callback, delay, c.loop)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.timers = append(c.timers, t)
	c.mu.Unlock()
	return t, nil
}

// VTSConnect returns a client for a VTS server
func (c *Context) VTSConnect(opts vts.Options) (*vts.Client, error) {
	if opts.Logger == nil {
		opts.Logger = c.logger
	}
	return vts.NewClient(opts)
}

// Unmask resolves a masked secret
func (c *Context) Unmask(masked string) (string, error) {
	return c.vu.env.credentials.Unmask(masked)
}

// Decrypt resolves an encrypted secret
func (c *Context) Decrypt(encrypted string) (string, error) {
	return c.vu.env.credentials.Decrypt(encrypted)
}

// GetByBoundary returns the first substring of source between left and right
func (c *Context) GetByBoundary(source, left, right string) (string, bool) {
	return extract.GetByBoundary(source, left, right)
}

// release stops everything the iteration started
func (c *Context) release() []string {
	c.mu.Lock()
	sockets, timers := c.sockets, c.timers
	c.sockets, c.timers = nil, nil
	c.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
	for _, s := range sockets {
		if err := s.Close(); err != nil {
			c.logger.Debug("socket close at iteration end", zap.String("socket", s.ID()), zap.Error(err))
		}
	}
	open := c.tracker.EndOpen()
	if n := c.loop.Close(); n > 0 {
		c.logger.Debug("discarded queued events of an interrupted iteration", zap.Int("events", n))
	}
	return open
}

func (c *Context) String() string {
	return fmt.Sprintf("vu %d iteration %d", c.vu.ID, c.iteration)
}
