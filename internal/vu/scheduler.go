package vu

import (
	"context"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	vhttp "github.com/wesleyorama2/vurun/internal/http"
	"github.com/wesleyorama2/vurun/internal/loaderr"
)

const defaultMaxIdleConnsPerHost = 100

// Options configures a Scheduler and every user it spawns
type Options struct {
	Script     *Script
	Params     map[string]string
	ScriptInfo ScriptInfo
	// HostName defaults to os.Hostname
	HostName string
	Sink     Sink
	Logger   *zap.Logger

	// Transport is shared by all users. Cookie jars and credentials are
	// always per iteration.
	Transport   http.RoundTripper
	BaseURL     string
	Timeout     time.Duration
	Headers     map[string]string
	Credentials Credentials
}

// RunOptions controls how RunVU schedules iterations
type RunOptions struct {
	// Pacing returns the delay before the next iteration. Nil means none.
	Pacing func() time.Duration
	// Gate is consulted before each iteration; false ends the user.
	Gate func(ctx context.Context) bool
	// OnIteration observes every finished iteration
	OnIteration func(IterationResult)
}

// activeVUReporter is implemented by sinks that track the user count
type activeVUReporter interface {
	SetActiveVUs(count int)
}

// Scheduler manages the lifecycle of virtual users.
//
// It owns the shared HTTP transport and knows every spawned user, so
// executors can stop or abort them as a group.
type Scheduler struct {
	env *environment

	vus      map[int]*VirtualUser
	vusMu    sync.RWMutex
	nextVUID atomic.Int64

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	shutdownWg   sync.WaitGroup
}

// NewScheduler validates the script and creates a scheduler
func NewScheduler(opts Options) (*Scheduler, error) {
	if err := opts.Script.Validate(); err != nil {
		return nil, err
	}
	if opts.Timeout < 0 {
		return nil, loaderr.Configf("timeout", "must not be negative")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	host := opts.HostName
	if host == "" {
		host, _ = os.Hostname()
	}
	transport := opts.Transport
	if transport == nil {
		transport = vhttp.NewTransport(defaultMaxIdleConnsPerHost, false)
	}
	creds := opts.Credentials
	if creds == nil {
		creds = noCredentials{}
	}

	return &Scheduler{
		env: &environment{
			script:      opts.Script,
			params:      opts.Params,
			scriptInfo:  opts.ScriptInfo,
			host:        HostInfo{Name: host},
			sink:        opts.Sink,
			logger:      logger,
			transport:   transport,
			baseURL:     opts.BaseURL,
			timeout:     opts.Timeout,
			headers:     opts.Headers,
			credentials: creds,
		},
		vus:        make(map[int]*VirtualUser),
		shutdownCh: make(chan struct{}),
	}, nil
}

// SpawnVU creates and registers a new virtual user. The caller runs it.
func (s *Scheduler) SpawnVU() *VirtualUser {
	id := int(s.nextVUID.Add(1))
	vu := newVirtualUser(id, s.env)

	s.vusMu.Lock()
	s.vus[id] = vu
	s.vusMu.Unlock()

	return vu
}

// GetVU returns a VU by ID, or nil if not found.
func (s *Scheduler) GetVU(id int) *VirtualUser {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()
	return s.vus[id]
}

// GetActiveVUs returns all users that can still run iterations
func (s *Scheduler) GetActiveVUs() []*VirtualUser {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	result := make([]*VirtualUser, 0, len(s.vus))
	for _, vu := range s.vus {
		if !vu.GetState().Terminal() {
			result = append(result, vu)
		}
	}
	return result
}

// GetActiveVUCount returns the count of users not stopped or aborted
func (s *Scheduler) GetActiveVUCount() int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	count := 0
	for _, vu := range s.vus {
		if !vu.GetState().Terminal() {
			count++
		}
	}
	return count
}

// StopVU requests a specific VU to stop.
func (s *Scheduler) StopVU(id int) {
	if vu := s.GetVU(id); vu != nil {
		vu.RequestStop()
	}
}

// StopAllVUs lets every user finish its current iteration, then stop
func (s *Scheduler) StopAllVUs() {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	for _, vu := range s.vus {
		vu.RequestStop()
	}
}

// AbortAllVUs ends every user immediately
func (s *Scheduler) AbortAllVUs() {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	for _, vu := range s.vus {
		vu.Abort()
	}
}

// RemoveVU removes a VU from the scheduler.
func (s *Scheduler) RemoveVU(id int) {
	s.vusMu.Lock()
	defer s.vusMu.Unlock()

	if vu, exists := s.vus[id]; exists {
		vu.MarkStopped()
		delete(s.vus, id)
	}
}

// WaitForAllVUs waits for all VUs to stop with a timeout.
//
// Returns the number of VUs that did not stop within the timeout.
func (s *Scheduler) WaitForAllVUs(timeout time.Duration) int {
	deadline := time.Now().Add(timeout)

	s.vusMu.RLock()
	vus := make([]*VirtualUser, 0, len(s.vus))
	for _, vu := range s.vus {
		vus = append(vus, vu)
	}
	s.vusMu.RUnlock()

	notStopped := 0
	for _, vu := range vus {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			select {
			case <-vu.Done():
			default:
				notStopped++
			}
			continue
		}
		if !vu.WaitForStop(remaining) {
			notStopped++
		}
	}
	return notStopped
}

// RunVU runs iterations of vu until it stops, its gate closes, or ctx is
// cancelled. It blocks; executors call it on the user's goroutine.
func (s *Scheduler) RunVU(ctx context.Context, vu *VirtualUser, opts RunOptions) {
	s.shutdownWg.Add(1)
	defer s.shutdownWg.Done()
	defer s.UpdateMetrics()
	defer vu.MarkStopped()

	s.UpdateMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownCh:
			return
		case <-vu.stopCh:
			return
		case <-vu.abortCtx.Done():
			return
		default:
		}
		if vu.GetState().Terminal() {
			return
		}
		if opts.Gate != nil && !opts.Gate(ctx) {
			return
		}

		res := vu.RunIteration(ctx)
		if opts.OnIteration != nil {
			opts.OnIteration(res)
		}
		if res.State.Terminal() {
			return
		}

		if opts.Pacing == nil {
			continue
		}
		if pacing := opts.Pacing(); pacing > 0 {
			t := time.NewTimer(pacing)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-s.shutdownCh:
				t.Stop()
				return
			case <-vu.stopCh:
				t.Stop()
				return
			case <-vu.abortCtx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	}
}

// Shutdown stops all users and waits up to timeout for them. Users still
// running after that are aborted.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
	s.StopAllVUs()

	done := make(chan struct{})
	go func() {
		s.shutdownWg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		s.env.logger.Warn("virtual users did not stop in time, aborting", zap.Int("active", s.GetActiveVUCount()))
		s.AbortAllVUs()
	}

	if t, ok := s.env.transport.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
}

// UpdateMetrics reports the active user count to the sink
func (s *Scheduler) UpdateMetrics() {
	if r, ok := s.env.sink.(activeVUReporter); ok {
		r.SetActiveVUs(s.GetActiveVUCount())
	}
}
