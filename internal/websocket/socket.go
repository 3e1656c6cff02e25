// Package websocket provides the virtual user WebSocket with a single sync
// barrier for blocking-style waits.
//
// Handlers never run on the network goroutine. Messages, errors and state
// changes are posted to the owning user's loop and delivered while the user
// is suspended, so a handler calling Continue releases the barrier the
// script is waiting on.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wesleyorama2/vurun/internal/loaderr"
	"github.com/wesleyorama2/vurun/internal/suspend"
)

// ConnState is the connection state of a Socket
type ConnState int

const (
	Idle ConnState = iota
	Connecting
	Open
	Closing
	Closed
)

func (s ConnState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// Close reasons passed to OnClose
const (
	ReasonClient  = "closed by client"
	ReasonPeer    = "closed by server"
	ReasonTimeout = "socket timeout"
)

const closeWriteTimeout = time.Second

// Options configures a Socket. Timeout bounds the lifetime of the connection
// once open; zero keeps it open until closed.
type Options struct {
	URL       string
	Timeout   time.Duration
	Headers   http.Header
	OnMessage func(msg string)
	OnError   func(msg string)
	OnConnect func(msg string)
	OnClose   func(msg string)
	Loop      *suspend.Loop
	Dialer    *websocket.Dialer
	Logger    *zap.Logger
}

// Socket is a WebSocket connection owned by one virtual user
type Socket struct {
	id   string
	opts Options

	mu       sync.Mutex
	state    ConnState
	conn     *websocket.Conn
	deadline *time.Timer

	writeMu sync.Mutex

	data      *suspend.Barrier
	closed    chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

// New validates opts and creates an idle socket
func New(opts Options) (*Socket, error) {
	u, err := url.Parse(opts.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return nil, loaderr.Configf("url", "expected a ws:// or wss:// URL, got %q", opts.URL)
	}
	if opts.Timeout < 0 {
		return nil, loaderr.Configf("timeout", "timeout cannot be negative")
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
		}
	}

	id := uuid.NewString()
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Socket{
		id:     id,
		opts:   opts,
		data:   suspend.NewBarrier(opts.Loop),
		closed: make(chan struct{}),
		logger: logger.With(zap.String("socket", id), zap.String("url", opts.URL)),
	}, nil
}

// ID returns the socket identifier
func (s *Socket) ID() string { return s.id }

// URL returns the socket URL
func (s *Socket) URL() string { return s.opts.URL }

// Timeout returns the configured socket timeout
func (s *Socket) Timeout() time.Duration { return s.opts.Timeout }

// State returns the current connection state
func (s *Socket) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Socket) stateError(op string) error {
	return &loaderr.StateError{Subject: "websocket", State: s.state.String(), Op: op}
}

// Connect dials the server. Only valid on an idle socket.
func (s *Socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Idle {
		defer s.mu.Unlock()
		return s.stateError("connect")
	}
	s.state = Connecting
	s.mu.Unlock()

	conn, resp, err := s.opts.Dialer.DialContext(ctx, s.opts.URL, s.opts.Headers)
	if err != nil {
		te := &loaderr.TransportError{Op: "CONNECT", URL: s.opts.URL, Err: err}
		if resp != nil {
			te.StatusCode = resp.StatusCode
		}
		s.logger.Debug("websocket connect failed", zap.Error(err))
		s.post(s.opts.OnError, err.Error())
		s.finish("connect failed")
		return te
	}

	s.mu.Lock()
	if s.state != Connecting {
		// closed while dialing
		s.mu.Unlock()
		conn.Close()
		return loaderr.ErrCancelled
	}
	s.conn = conn
	s.state = Open
	if s.opts.Timeout > 0 {
		s.deadline = time.AfterFunc(s.opts.Timeout, func() { s.shutdown(ReasonTimeout) })
	}
	s.mu.Unlock()

	s.logger.Debug("websocket connected")
	s.post(s.opts.OnConnect, "connected to "+s.opts.URL)

	go s.readLoop(conn)
	return nil
}

func (s *Socket) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if s.State() == Open {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.post(s.opts.OnError, err.Error())
				}
				s.shutdown(ReasonPeer)
			}
			return
		}
		s.post(s.opts.OnMessage, string(msg))
	}
}

// Send writes a text or binary message
func (s *Socket) Send(data []byte, binary bool) error {
	s.mu.Lock()
	if s.state != Open {
		defer s.mu.Unlock()
		return s.stateError("send on")
	}
	conn := s.conn
	s.mu.Unlock()

	messageType := websocket.TextMessage
	if binary {
		messageType = websocket.BinaryMessage
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteMessage(messageType, data); err != nil {
		return &loaderr.TransportError{Op: "SEND", URL: s.opts.URL, Err: err}
	}
	return nil
}

// WaitForData arms the socket's sync barrier and suspends until Continue is
// called, the timeout elapses (ErrTimeout) or the socket closes
// (ErrCancelled). Only one wait may be outstanding.
func (s *Socket) WaitForData(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	if s.state == Closing || s.state == Closed {
		defer s.mu.Unlock()
		return s.stateError("wait for data on")
	}
	h, err := s.data.Arm(timeout)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	_, err = h.Await(ctx)
	return err
}

// Continue releases the barrier armed by WaitForData
func (s *Socket) Continue() error {
	if !s.data.Resolve(nil) {
		return &loaderr.StateError{Subject: "sync barrier", State: "released", Op: "continue"}
	}
	return nil
}

// WaitForDisconnection suspends until the socket is closed by the client,
// the server or the socket timeout.
func (s *Socket) WaitForDisconnection(ctx context.Context) error {
	if s.State() == Idle {
		return s.stateError("wait for disconnection of")
	}
	return s.opts.Loop.Wait(ctx, s.closed)
}

// Close closes the connection. Closing an already closed socket is a no-op.
func (s *Socket) Close() error {
	s.shutdown(ReasonClient)
	return nil
}

// Done is closed once the socket is closed
func (s *Socket) Done() <-chan struct{} {
	return s.closed
}

func (s *Socket) shutdown(reason string) {
	s.mu.Lock()
	if s.state == Closing || s.state == Closed {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.state = Closing
	s.mu.Unlock()

	if conn != nil {
		s.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
		s.writeMu.Unlock()
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			s.logger.Debug("websocket close frame not sent", zap.Error(err))
		}
		conn.Close()
	}
	s.finish(reason)
}

// finish moves to Closed, cancels any pending wait and notifies OnClose
func (s *Socket) finish(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = Closed
		if s.deadline != nil {
			s.deadline.Stop()
		}
		s.mu.Unlock()

		s.data.Cancel()
		s.logger.Debug("websocket closed", zap.String("reason", reason))
		// queued before waiters are released so they observe OnClose
		s.post(s.opts.OnClose, reason)
		close(s.closed)
	})
}

func (s *Socket) post(handler func(string), msg string) {
	if handler == nil {
		return
	}
	s.opts.Loop.Post(func() { handler(msg) })
}
