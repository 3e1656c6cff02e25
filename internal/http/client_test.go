package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/vurun/internal/cookie"
	"github.com/wesleyorama2/vurun/internal/extract"
	"github.com/wesleyorama2/vurun/internal/loaderr"
	"github.com/wesleyorama2/vurun/internal/suspend"
)

func mustRequest(t *testing.T, opts RequestOptions) *Request {
	t.Helper()
	req, err := NewRequest(opts)
	require.NoError(t, err)
	return req
}

func TestClient_Do(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			t.Errorf("Expected method GET, got %s", r.Method)
		}
		if r.URL.Path != "/test" {
			t.Errorf("Expected path /test, got %s", r.URL.Path)
		}
		if r.Header.Get("X-Test-Header") != "test-value" {
			t.Errorf("Expected header X-Test-Header: test-value, got %s", r.Header.Get("X-Test-Header"))
		}
		if r.Header.Get("User-Agent") != "vurun-test" {
			t.Errorf("Expected client default User-Agent, got %s", r.Header.Get("User-Agent"))
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"message":"success"}`))
	}))
	defer server.Close()

	client := NewClient(
		WithTimeout(5*time.Second),
		WithHeader("User-Agent", "vurun-test"),
		WithBaseURL(server.URL),
	)

	req := mustRequest(t, RequestOptions{
		URL:     "/test",
		Headers: map[string]string{"X-Test-Header": "test-value"},
	})

	resp, err := client.Do(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.GetHeader("Content-Type"))
	assert.Equal(t, `{"message":"success"}`, resp.Body)
	assert.Equal(t, map[string]interface{}{"message": "success"}, resp.JSONBody)
	assert.Same(t, req, resp.Request)
	assert.True(t, resp.IsSuccess())
	assert.False(t, resp.Timing.StartTime.IsZero())
}

func TestClient_RedirectsAndExtraction(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Session", "abc")
		http.Redirect(w, r, "/middle", http.StatusFound)
	})
	mux.HandleFunc("/middle", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("302 should switch to GET, got %s", r.Method)
		}
		http.Redirect(w, r, "/end", http.StatusTemporaryRedirect)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<A>123</A> id=42&x=1")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	session, err := extract.BoundaryWithOptions("session", extract.BoundaryOptions{
		Left: "X-Session: ", Right: "\r\n", IncludeRedirections: true,
	})
	require.NoError(t, err)
	body, err := extract.Boundary("body", "<A>", "</A>")
	require.NoError(t, err)
	id, err := extract.Regexp("id", `id=(\d+)`, "")
	require.NoError(t, err)
	missing, err := extract.Boundary("missing", "<B>", "</B>")
	require.NoError(t, err)

	req := mustRequest(t, RequestOptions{
		URL:        server.URL + "/start",
		Method:     "POST",
		Body:       "payload",
		Extractors: []extract.Spec{session, body, id, missing},
	})

	resp, err := NewClient().Do(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, server.URL+"/end", resp.URL)
	assert.Equal(t, []string{server.URL + "/start", server.URL + "/middle"}, resp.RedirectURLs)
	assert.Equal(t, "abc", resp.Extractors["session"].String())
	assert.Equal(t, "123", resp.Extractors["body"].String())
	assert.Equal(t, "42", resp.Extractors["id"].String())
	assert.True(t, resp.Extractors["missing"].IsNull())
}

func TestClient_TooManyRedirects(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+r.URL.Path, http.StatusFound)
	}))
	defer server.Close()

	_, err := NewClient().Do(context.Background(), mustRequest(t, RequestOptions{URL: server.URL + "/loop"}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, loaderr.ErrTransport))
	assert.Contains(t, err.Error(), "redirects")
}

func TestClient_DecodesBodies(t *testing.T) {
	var gz, br bytes.Buffer
	zw := gzip.NewWriter(&gz)
	zw.Write([]byte("gzip body"))
	zw.Close()
	bw := brotli.NewWriter(&br)
	bw.Write([]byte("brotli body"))
	bw.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "br") {
			t.Errorf("Accept-Encoding should advertise br, got %q", r.Header.Get("Accept-Encoding"))
		}
		switch r.URL.Path {
		case "/gzip":
			w.Header().Set("Content-Encoding", "gzip")
			w.Write(gz.Bytes())
		case "/br":
			w.Header().Set("Content-Encoding", "br")
			w.Write(br.Bytes())
		}
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))

	resp, err := client.Do(context.Background(), mustRequest(t, RequestOptions{URL: "/gzip"}))
	require.NoError(t, err)
	assert.Equal(t, "gzip body", resp.Body)
	assert.Equal(t, int64(gz.Len()), resp.Size)

	resp, err = client.Do(context.Background(), mustRequest(t, RequestOptions{URL: "/br"}))
	require.NoError(t, err)
	assert.Equal(t, "brotli body", resp.Body)
}

func TestClient_CookieJar(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: "s1", Path: "/"})
		case "/me":
			c, err := r.Cookie("sid")
			if err != nil {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			fmt.Fprint(w, c.Value)
		}
	}))
	defer server.Close()

	jar := cookie.NewJar()
	client := NewClient(WithJar(jar), WithBaseURL(server.URL))

	_, err := client.Do(context.Background(), mustRequest(t, RequestOptions{URL: "/login"}))
	require.NoError(t, err)
	assert.Equal(t, 1, jar.Len())

	resp, err := client.Do(context.Background(), mustRequest(t, RequestOptions{URL: "/me"}))
	require.NoError(t, err)
	assert.Equal(t, "s1", resp.Body)
}

func TestClient_Credentials(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "secret" {
			w.Header().Set("WWW-Authenticate", `Basic realm="test"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, "welcome")
	}))
	defer server.Close()

	u, err := url.Parse(server.URL)
	require.NoError(t, err)

	client := NewClient(WithBaseURL(server.URL))
	require.NoError(t, client.SetCredentials(Credentials{User: "alice", Password: "secret", Host: u.Host}))

	resp, err := client.Do(context.Background(), mustRequest(t, RequestOptions{URL: "/"}))
	require.NoError(t, err)
	assert.Equal(t, "welcome", resp.Body)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts), "challenge then retry")

	atomic.StoreInt32(&attempts, 0)
	_, err = client.Do(context.Background(), mustRequest(t, RequestOptions{URL: "/", ForceAuthentication: true}))
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts), "preemptive authentication")
}

func TestClient_CredentialsScopedToHost(t *testing.T) {
	var leaked atomic.Value
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "" {
			leaked.Store(auth)
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="other"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer other.Close()

	var gotUser atomic.Value
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="origin"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		gotUser.Store(user)
		http.Redirect(w, r, other.URL+"/elsewhere", http.StatusFound)
	}))
	defer origin.Close()

	originURL, err := url.Parse(origin.URL)
	require.NoError(t, err)

	client := NewClient()
	require.NoError(t, client.SetCredentials(
		Credentials{User: "bob", Password: "pw", Host: "unrelated.example"},
		Credentials{User: "alice", Password: "secret", Host: originURL.Host, Domain: "CORP"},
	))

	resp, err := client.Do(context.Background(), mustRequest(t, RequestOptions{URL: origin.URL, ForceAuthentication: true}))
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, `CORP\alice`, gotUser.Load())
	assert.Nil(t, leaked.Load(), "credentials must not follow a redirect to another host")

	assert.ErrorIs(t, client.SetCredentials(Credentials{User: "x"}), loaderr.ErrConfiguration)
	assert.ErrorIs(t, client.SetCredentials(Credentials{Host: "h"}), loaderr.ErrConfiguration)

	require.NoError(t, client.SetCredentials())
	assert.Nil(t, client.credentialsFor(origin.URL))
}

func TestCredentials_Matches(t *testing.T) {
	u, err := url.Parse("https://API.example.com:8443/x")
	require.NoError(t, err)

	assert.True(t, (&Credentials{Host: "api.example.com"}).matches(u))
	assert.True(t, (&Credentials{Host: "api.example.com:8443"}).matches(u))
	assert.False(t, (&Credentials{Host: "api.example.com:443"}).matches(u))
	assert.False(t, (&Credentials{Host: "example.com"}).matches(u))
}

func TestClient_HTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "down")
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))

	resp, err := client.Do(context.Background(), mustRequest(t, RequestOptions{URL: "/"}))
	require.Error(t, err)
	var te *loaderr.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
	require.NotNil(t, resp)
	assert.Equal(t, "down", resp.Body)

	resp, err = client.Do(context.Background(), mustRequest(t, RequestOptions{URL: "/", HandleHTTPError: IgnoreHTTPErrors}))
	require.NoError(t, err)
	assert.True(t, resp.IsServerError())

	custom := errors.New("maintenance")
	_, err = client.Do(context.Background(), mustRequest(t, RequestOptions{
		URL:             "/",
		HandleHTTPError: func(*Response) error { return custom },
	}))
	assert.Equal(t, custom, err)
}

func TestClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	_, err := NewClient().Do(context.Background(), mustRequest(t, RequestOptions{URL: server.URL, Timeout: 50 * time.Millisecond}))
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.True(t, errors.Is(err, loaderr.ErrTransport))
}

func TestClient_ResourcesAndDiscardBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			fmt.Fprint(w, "<html>token=t1;</html>")
		case "/app.js":
			fmt.Fprint(w, "console.log(1)")
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	token, err := extract.Boundary("token", "token=", ";")
	require.NoError(t, err)

	req := mustRequest(t, RequestOptions{
		URL:         server.URL + "/page",
		Resources:   []string{"/app.js", "missing.css"},
		DiscardBody: true,
		Extractors:  []extract.Spec{token},
	})
	resp, err := NewClient().Do(context.Background(), req)
	require.NoError(t, err)

	assert.Empty(t, resp.Body, "body discarded")
	assert.Equal(t, "t1", resp.Extractors["token"].String(), "extractors still run")

	require.Len(t, resp.Resources, 2)
	assert.Equal(t, server.URL+"/app.js", resp.Resources[0].URL)
	assert.Equal(t, http.StatusOK, resp.Resources[0].StatusCode)
	assert.NoError(t, resp.Resources[0].Err)
	assert.Equal(t, http.StatusNotFound, resp.Resources[1].StatusCode)
	assert.Error(t, resp.Resources[1].Err)
}

func TestClient_SendAndSendSync(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(w, r.Body)
	}))
	defer server.Close()

	loop := suspend.NewLoop()
	client := NewClient(WithLoop(loop), WithBaseURL(server.URL))

	var order []string
	pending := client.Send(context.Background(), mustRequest(t, RequestOptions{URL: "/", Method: "POST", Body: "async"}),
		func(resp *Response, err error) {
			order = append(order, "callback:"+resp.Body)
		})
	resp, err := pending.Wait(context.Background())
	order = append(order, "wait:"+resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []string{"callback:async", "wait:async"}, order)

	resp, err = client.SendSync(context.Background(), mustRequest(t, RequestOptions{URL: "/", Method: "POST", Body: []byte("sync")}))
	require.NoError(t, err)
	assert.Equal(t, "sync", resp.Body)
}

func TestClient_SendSyncCancelled(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := NewClient(WithLoop(suspend.NewLoop())).SendSync(ctx, mustRequest(t, RequestOptions{URL: server.URL}))
	assert.True(t, errors.Is(err, loaderr.ErrCancelled))
}
