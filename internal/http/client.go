package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/vurun/internal/extract"
	"github.com/wesleyorama2/vurun/internal/loaderr"
	"github.com/wesleyorama2/vurun/internal/suspend"
)

const (
	// MaxRedirects bounds redirect chains
	MaxRedirects = 10

	defaultTimeout     = 30 * time.Second
	resourceFetchLimit = 6
)

// Credentials are sent with basic authentication to a single host
type Credentials struct {
	User     string
	Password string
	// Host is a host name, optionally with a port. Without a port the
	// credentials apply to every port of the host.
	Host string
	// Domain qualifies the user name as DOMAIN\user when set
	Domain string
}

func (cr *Credentials) matches(u *url.URL) bool {
	if strings.EqualFold(cr.Host, u.Host) {
		return true
	}
	return !strings.Contains(cr.Host, ":") && strings.EqualFold(cr.Host, u.Hostname())
}

func (cr *Credentials) userName() string {
	if cr.Domain == "" {
		return cr.User
	}
	return cr.Domain + `\` + cr.User
}

// Client sends requests on behalf of one virtual user. The underlying
// transport may be shared between users; jar and credentials are not.
type Client struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
	timeout    time.Duration
	loop       *suspend.Loop
	logger     *zap.Logger

	mu    sync.RWMutex
	creds []Credentials

	inflight sync.WaitGroup
}

// ClientOption is a function that configures a Client
type ClientOption func(*Client)

// NewClient creates a new HTTP client with the given options
func NewClient(options ...ClientOption) *Client {
	client := &Client{
		httpClient: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		headers: make(map[string]string),
		timeout: defaultTimeout,
		logger:  zap.NewNop(),
	}

	// Apply options
	for _, option := range options {
		option(client)
	}

	return client
}

// NewTransport builds a transport meant to be shared by every virtual user
func NewTransport(maxIdleConnsPerHost int, insecureSkipVerify bool) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConnsPerHost = maxIdleConnsPerHost
	t.DisableCompression = true
	if insecureSkipVerify {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return t
}

// WithBaseURL sets the base URL for relative request URLs
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithTimeout sets the default request timeout, redirects included
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithHeader adds a header sent unless the request sets it
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithJar sets the cookie jar
func WithJar(jar http.CookieJar) ClientOption {
	return func(c *Client) {
		c.httpClient.Jar = jar
	}
}

// WithTransport sets the round tripper
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) {
		c.httpClient.Transport = rt
	}
}

// WithLoop sets the loop asynchronous completions are posted to
func WithLoop(loop *suspend.Loop) ClientOption {
	return func(c *Client) {
		c.loop = loop
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// SetCredentials replaces the credentials used for authentication. Each
// entry is only ever sent to its own host, redirects included. Calling it
// without arguments clears them.
func (c *Client) SetCredentials(creds ...Credentials) error {
	for i, cr := range creds {
		if cr.User == "" {
			return loaderr.Configf("credentials", "entry %d: user is required", i)
		}
		if strings.TrimSpace(cr.Host) == "" {
			return loaderr.Configf("credentials", "entry %d: host is required", i)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = append([]Credentials(nil), creds...)
	return nil
}

// credentialsFor returns the first credentials scoped to target's host
func (c *Client) credentialsFor(target string) *Credentials {
	u, err := url.Parse(target)
	if err != nil {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := range c.creds {
		if c.creds[i].matches(u) {
			cr := c.creds[i]
			return &cr
		}
	}
	return nil
}

// hop is a single request/response exchange
type hop struct {
	resp *http.Response
	raw  []byte
	body []byte
}

// Do executes req, following redirects, and returns the response with
// extractor values populated. A status >= 400 yields both the response and a
// TransportError unless the request has an HTTPErrorHandler.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	timeout := req.timeout
	if timeout == 0 {
		timeout = c.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	target, err := resolveURL(c.baseURL, req.url)
	if err != nil {
		return nil, loaderr.Configf("url", "%v", err)
	}

	timing := TimingInfo{StartTime: time.Now()}
	method := req.method
	body := req.body
	header := req.header.Clone()

	var (
		redirects    []extract.Document
		redirectURLs []string
		final        *hop
	)
	for n := 0; ; n++ {
		h, err := c.exchange(ctx, method, target, header, body, req.forceAuthentication, &timing)
		if err != nil {
			return nil, &loaderr.TransportError{Op: method, URL: target, Err: err}
		}

		loc := h.resp.Header.Get("Location")
		if !isRedirect(h.resp.StatusCode) || loc == "" {
			final = h
			break
		}
		if n >= MaxRedirects {
			return nil, &loaderr.TransportError{Op: method, URL: target, Err: fmt.Errorf("stopped after %d redirects", MaxRedirects)}
		}

		next, err := url.Parse(target)
		if err == nil {
			var locURL *url.URL
			locURL, err = next.Parse(loc)
			if err == nil {
				next = locURL
			}
		}
		if err != nil {
			return nil, &loaderr.TransportError{Op: method, URL: target, Err: fmt.Errorf("bad redirect location %q: %w", loc, err)}
		}

		redirects = append(redirects, extract.Document{Headers: h.resp.Header, Body: string(h.body)})
		redirectURLs = append(redirectURLs, target)
		c.logger.Debug("following redirect",
			zap.String("from", target), zap.String("to", next.String()), zap.Int("status", h.resp.StatusCode))

		switch h.resp.StatusCode {
		case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther:
			if method != http.MethodHead {
				method = http.MethodGet
			}
			body = nil
			header.Del("Content-Type")
		}
		target = next.String()
	}
	timing.TotalTime = time.Since(timing.StartTime)

	resp := &Response{
		StatusCode:   final.resp.StatusCode,
		Status:       final.resp.Status,
		Headers:      final.resp.Header,
		URL:          target,
		Size:         int64(len(final.raw)),
		Request:      req,
		RedirectURLs: redirectURLs,
		Timing:       timing,
	}

	bodyText := string(final.body)
	if len(req.extractors) > 0 {
		resp.Extractors = extract.ApplyAll(req.extractors, extract.Source{
			Redirects: redirects,
			Final:     extract.Document{Headers: final.resp.Header, Body: bodyText},
		})
	} else {
		resp.Extractors = map[string]extract.Value{}
	}
	if !req.discardBody {
		resp.Body = bodyText
		resp.JSONBody = parseJSONBody(final.resp.Header, bodyText)
	}

	if len(req.resources) > 0 {
		resp.Resources = c.fetchResources(ctx, target, header, req.resources)
	}

	c.logger.Debug("http request",
		zap.String("method", req.method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", timing.TotalTime))

	if resp.StatusCode >= 400 {
		if req.handleHTTPError != nil {
			return resp, req.handleHTTPError(resp)
		}
		return resp, &loaderr.TransportError{Op: req.method, URL: target, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// exchange performs one request, retrying once with credentials on a basic
// authentication challenge.
func (c *Client) exchange(ctx context.Context, method, target string, header http.Header, body []byte, forceAuth bool, timing *TimingInfo) (*hop, error) {
	creds := c.credentialsFor(target)

	h, err := c.roundTrip(ctx, method, target, header, body, creds, forceAuth, timing)
	if err != nil {
		return nil, err
	}
	if h.resp.StatusCode == http.StatusUnauthorized && creds != nil && !forceAuth &&
		strings.HasPrefix(strings.ToLower(h.resp.Header.Get("WWW-Authenticate")), "basic") {
		return c.roundTrip(ctx, method, target, header, body, creds, true, timing)
	}
	return h, nil
}

func (c *Client) roundTrip(ctx context.Context, method, target string, header http.Header, body []byte, creds *Credentials, auth bool, timing *TimingInfo) (*hop, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, clientTrace(timing)), method, target, reader)
	if err != nil {
		return nil, err
	}

	for k, vs := range header {
		httpReq.Header[k] = append([]string(nil), vs...)
	}
	for k, v := range c.headers {
		if httpReq.Header.Get(k) == "" {
			httpReq.Header.Set(k, v)
		}
	}
	if httpReq.Header.Get("Accept-Encoding") == "" {
		httpReq.Header.Set("Accept-Encoding", acceptEncoding)
	}
	if auth && creds != nil {
		httpReq.SetBasicAuth(creds.userName(), creds.Password)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	// Calculate content transfer time - this is the time it took to read the body
	contentTransferStart := time.Now()
	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}
	timing.ContentTransferTime += time.Since(contentTransferStart)

	decoded, err := decodeBody(raw, httpResp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, err
	}
	return &hop{resp: httpResp, raw: raw, body: decoded}, nil
}

// clientTrace records phase durations into timing. Phases accumulate over
// redirect hops.
func clientTrace(timing *TimingInfo) *httptrace.ClientTrace {
	var dnsStart, connectStart, tlsStart, lastPhaseEnd time.Time
	lastPhaseEnd = time.Now()

	return &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) {
			dnsStart = time.Now()
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			lastPhaseEnd = time.Now()
			timing.DNSLookupTime += lastPhaseEnd.Sub(dnsStart)
		},
		ConnectStart: func(string, string) {
			connectStart = time.Now()
		},
		ConnectDone: func(_, _ string, err error) {
			if err == nil {
				lastPhaseEnd = time.Now()
				timing.TCPConnectTime += lastPhaseEnd.Sub(connectStart)
			}
		},
		TLSHandshakeStart: func() {
			tlsStart = time.Now()
		},
		TLSHandshakeDone: func(_ tls.ConnectionState, err error) {
			if err == nil {
				lastPhaseEnd = time.Now()
				timing.TLSHandshakeTime += lastPhaseEnd.Sub(tlsStart)
			}
		},
		GotFirstResponseByte: func() {
			// Time to first byte from the end of the last phase
			timing.TimeToFirstByte += time.Since(lastPhaseEnd)
		},
	}
}

// fetchResources downloads secondary URLs concurrently. Failures are recorded
// per resource and never fail the main request.
func (c *Client) fetchResources(ctx context.Context, base string, header http.Header, resources []string) []Resource {
	out := make([]Resource, len(resources))
	baseURL, _ := url.Parse(base)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resourceFetchLimit)
	for i, raw := range resources {
		i, raw := i, raw
		g.Go(func() error {
			target := raw
			if baseURL != nil {
				if u, err := baseURL.Parse(raw); err == nil {
					target = u.String()
				}
			}
			res := Resource{URL: target}
			var timing TimingInfo
			start := time.Now()
			h, err := c.roundTrip(gctx, http.MethodGet, target, cloneNoBody(header), nil, nil, false, &timing)
			res.Duration = time.Since(start)
			if err != nil {
				res.Err = &loaderr.TransportError{Op: http.MethodGet, URL: target, Err: err}
			} else {
				res.StatusCode = h.resp.StatusCode
				res.Size = int64(len(h.raw))
				if res.StatusCode >= 400 {
					res.Err = &loaderr.TransportError{Op: http.MethodGet, URL: target, StatusCode: res.StatusCode}
				}
			}
			out[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func cloneNoBody(h http.Header) http.Header {
	out := h.Clone()
	out.Del("Content-Type")
	out.Del("Content-Length")
	return out
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// IsTimeout reports whether err came from a request deadline
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
