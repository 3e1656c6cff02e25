package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/vurun/internal/loaderr"
	"github.com/wesleyorama2/vurun/internal/suspend"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// echoServer echoes every message back; "bye" makes it close the connection
func echoServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(msg) == "bye" {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server, "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{URL: "http://example.com"})
	assert.True(t, errors.Is(err, loaderr.ErrConfiguration))

	_, err = New(Options{URL: "ws://example.com", Timeout: -time.Second})
	assert.True(t, errors.Is(err, loaderr.ErrConfiguration))

	s, err := New(Options{URL: "ws://example.com", Timeout: time.Second})
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, "ws://example.com", s.URL())
	assert.Equal(t, time.Second, s.Timeout())
	assert.Equal(t, Idle, s.State())
}

func TestSocket_WaitForDataAndContinue(t *testing.T) {
	_, wsURL := echoServer(t)
	loop := suspend.NewLoop()

	var s *Socket
	var received []string
	var events []string
	s, err := New(Options{
		URL:  wsURL,
		Loop: loop,
		OnConnect: func(string) {
			events = append(events, "connect")
		},
		OnMessage: func(msg string) {
			received = append(received, msg)
			if msg == "done" {
				assert.NoError(t, s.Continue())
			}
		},
		OnClose: func(reason string) {
			events = append(events, "close:"+reason)
		},
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))
	assert.Equal(t, Open, s.State())

	require.NoError(t, s.Send([]byte("hello"), false))
	require.NoError(t, s.Send([]byte("done"), true))
	require.NoError(t, s.WaitForData(ctx, 5*time.Second))
	assert.Equal(t, []string{"hello", "done"}, received)

	require.NoError(t, s.Close())
	require.NoError(t, s.WaitForDisconnection(ctx))
	loop.Drain()
	assert.Equal(t, Closed, s.State())
	assert.Equal(t, []string{"connect", "close:" + ReasonClient}, events)
}

func TestSocket_WaitForDataTimeout(t *testing.T) {
	_, wsURL := echoServer(t)
	s, err := New(Options{URL: wsURL, Loop: suspend.NewLoop()})
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))
	defer s.Close()

	err = s.WaitForData(context.Background(), 50*time.Millisecond)
	assert.True(t, errors.Is(err, loaderr.ErrTimeout))
}

func TestSocket_BarrierConflictAndCloseCancels(t *testing.T) {
	_, wsURL := echoServer(t)
	s, err := New(Options{URL: wsURL})
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))

	first := make(chan error, 1)
	go func() { first <- s.WaitForData(context.Background(), 0) }()

	require.Eventually(t, s.data.Pending, time.Second, 5*time.Millisecond)

	err = s.WaitForData(context.Background(), 0)
	assert.True(t, errors.Is(err, loaderr.ErrBarrierConflict))

	require.NoError(t, s.Close())
	select {
	case err := <-first:
		assert.True(t, errors.Is(err, loaderr.ErrCancelled))
	case <-time.After(time.Second):
		t.Fatal("close did not cancel the outstanding wait")
	}

	err = s.WaitForData(context.Background(), 0)
	assert.True(t, errors.Is(err, loaderr.ErrState))
}

func TestSocket_ContinueWithoutWait(t *testing.T) {
	s, err := New(Options{URL: "ws://example.com"})
	require.NoError(t, err)
	assert.True(t, errors.Is(s.Continue(), loaderr.ErrState))
}

func TestSocket_SendBeforeConnect(t *testing.T) {
	s, err := New(Options{URL: "ws://example.com"})
	require.NoError(t, err)
	assert.True(t, errors.Is(s.Send([]byte("x"), false), loaderr.ErrState))
	assert.True(t, errors.Is(s.WaitForDisconnection(context.Background()), loaderr.ErrState))
}

func TestSocket_ConnectTwice(t *testing.T) {
	_, wsURL := echoServer(t)
	s, err := New(Options{URL: wsURL})
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))
	defer s.Close()

	assert.True(t, errors.Is(s.Connect(context.Background()), loaderr.ErrState))
}

func TestSocket_TimeoutClosesConnection(t *testing.T) {
	_, wsURL := echoServer(t)
	loop := suspend.NewLoop()

	var reason string
	s, err := New(Options{
		URL:     wsURL,
		Timeout: 100 * time.Millisecond,
		Loop:    loop,
		OnClose: func(r string) { reason = r },
	})
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))

	require.NoError(t, s.WaitForDisconnection(context.Background()))
	loop.Drain()
	assert.Equal(t, ReasonTimeout, reason)
	assert.Equal(t, Closed, s.State())
}

func TestSocket_PeerClose(t *testing.T) {
	_, wsURL := echoServer(t)
	loop := suspend.NewLoop()

	var reason string
	s, err := New(Options{URL: wsURL, Loop: loop, OnClose: func(r string) { reason = r }})
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))

	require.NoError(t, s.Send([]byte("bye"), false))
	require.NoError(t, s.WaitForDisconnection(context.Background()))
	loop.Drain()
	assert.Equal(t, ReasonPeer, reason)
}

func TestSocket_ConnectFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	var onError string
	s, err := New(Options{
		URL:     "ws" + strings.TrimPrefix(server.URL, "http"),
		OnError: func(msg string) { onError = msg },
	})
	require.NoError(t, err)

	err = s.Connect(context.Background())
	var te *loaderr.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusNotFound, te.StatusCode)
	assert.NotEmpty(t, onError)
	assert.Equal(t, Closed, s.State())
}

func TestConnState_String(t *testing.T) {
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "ConnState(9)", ConnState(9).String())
}
