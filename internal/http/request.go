package http

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/wesleyorama2/vurun/internal/extract"
	"github.com/wesleyorama2/vurun/internal/loaderr"
)

// HTTPErrorHandler decides the outcome of a response with status >= 400.
// Returning nil accepts the response.
type HTTPErrorHandler func(*Response) error

// IgnoreHTTPErrors accepts every error status
func IgnoreHTTPErrors(*Response) error { return nil }

// RequestOptions configures a Request. Body may be a string, []byte or any
// value that is encoded as JSON.
type RequestOptions struct {
	ID                  string
	URL                 string
	Method              string
	Headers             map[string]string
	Query               map[string]string
	Body                interface{}
	Multipart           *MultipartBody
	Extractors          []extract.Spec
	Resources           []string
	DiscardBody         bool
	ForceAuthentication bool
	HandleHTTPError     HTTPErrorHandler
	Timeout             time.Duration
}

// Request is an immutable request snapshot
type Request struct {
	id                  string
	url                 string
	method              string
	header              http.Header
	body                []byte
	extractors          []extract.Spec
	resources           []string
	discardBody         bool
	forceAuthentication bool
	handleHTTPError     HTTPErrorHandler
	timeout             time.Duration
}

// NewRequest validates opts and builds a Request
func NewRequest(opts RequestOptions) (*Request, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, loaderr.Configf("url", "URL is required")
	}
	if opts.Body != nil && opts.Multipart != nil {
		return nil, loaderr.Configf("body", "body and multipart are mutually exclusive")
	}
	if opts.Timeout < 0 {
		return nil, loaderr.Configf("timeout", "timeout cannot be negative")
	}

	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}

	r := &Request{
		id:                  opts.ID,
		method:              method,
		header:              make(http.Header),
		resources:           append([]string(nil), opts.Resources...),
		discardBody:         opts.DiscardBody,
		forceAuthentication: opts.ForceAuthentication,
		handleHTTPError:     opts.HandleHTTPError,
		timeout:             opts.Timeout,
	}

	u, err := withQuery(opts.URL, opts.Query)
	if err != nil {
		return nil, loaderr.Configf("url", "%v", err)
	}
	r.url = u

	for k, v := range opts.Headers {
		r.header.Set(k, v)
	}

	names := make(map[string]bool, len(opts.Extractors))
	for _, ex := range opts.Extractors {
		if err := ex.Validate(); err != nil {
			return nil, err
		}
		if names[ex.Name] {
			return nil, loaderr.Configf("extractors", "duplicate extractor name %q", ex.Name)
		}
		names[ex.Name] = true
	}
	r.extractors = append([]extract.Spec(nil), opts.Extractors...)

	switch {
	case opts.Multipart != nil:
		body, contentType, err := opts.Multipart.encode()
		if err != nil {
			return nil, err
		}
		r.body = body
		r.header.Set("Content-Type", contentType)
	case opts.Body != nil:
		switch body := opts.Body.(type) {
		case string:
			r.body = []byte(body)
		case []byte:
			r.body = append([]byte(nil), body...)
		default:
			// Assume JSON for other types
			b, err := json.Marshal(body)
			if err != nil {
				return nil, loaderr.Configf("body", "cannot encode body: %v", err)
			}
			r.body = b
			if r.header.Get("Content-Type") == "" {
				r.header.Set("Content-Type", "application/json")
			}
		}
	}

	return r, nil
}

func withQuery(raw string, params map[string]string) (string, error) {
	if len(params) == 0 {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range params {
		q.Add(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ID returns the request identifier
func (r *Request) ID() string { return r.id }

// URL returns the request URL including query parameters
func (r *Request) URL() string { return r.url }

// Method returns the HTTP method
func (r *Request) Method() string { return r.method }

// Header returns a copy of the request headers
func (r *Request) Header() http.Header { return r.header.Clone() }

// Body returns a copy of the encoded body
func (r *Request) Body() []byte { return append([]byte(nil), r.body...) }

// Extractors returns the extractors applied to each response
func (r *Request) Extractors() []extract.Spec {
	return append([]extract.Spec(nil), r.extractors...)
}

// Resources returns the secondary URLs fetched after the main response
func (r *Request) Resources() []string { return append([]string(nil), r.resources...) }

// Timeout returns the per-request timeout, zero meaning the client default
func (r *Request) Timeout() time.Duration { return r.timeout }

// build constructs an http.Request. Relative URLs are joined to baseURL.
func (r *Request) build(ctx context.Context, baseURL string) (*http.Request, error) {
	target, err := resolveURL(baseURL, r.url)
	if err != nil {
		return nil, loaderr.Configf("url", "%v", err)
	}

	var body io.Reader
	if len(r.body) > 0 {
		body = bytes.NewReader(r.body)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return nil, loaderr.Configf("url", "%v", err)
	}
	for k, vs := range r.header {
		req.Header[k] = append([]string(nil), vs...)
	}
	return req, nil
}

func resolveURL(baseURL, target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	if u.IsAbs() || baseURL == "" {
		return u.String(), nil
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	// Join the base URL path with the request path
	if base.Path == "" {
		base.Path = "/" + strings.TrimLeft(u.Path, "/")
	} else {
		base.Path = strings.TrimRight(base.Path, "/") + "/" + strings.TrimLeft(u.Path, "/")
	}
	base.RawQuery = u.RawQuery
	return base.String(), nil
}

// MultipartEntry is one part of a multipart/form-data body
type MultipartEntry interface {
	write(w *multipart.Writer) error
}

// StringEntry is a plain form field
type StringEntry struct {
	Name  string
	Value string
}

func (e StringEntry) write(w *multipart.Writer) error {
	return w.WriteField(e.Name, e.Value)
}

// FileEntry is a file part. Content wins over Path when both are set.
type FileEntry struct {
	Name        string
	FileName    string
	ContentType string
	Path        string
	Content     []byte
}

func (e FileEntry) write(w *multipart.Writer) error {
	content := e.Content
	if content == nil && e.Path != "" {
		b, err := os.ReadFile(e.Path)
		if err != nil {
			return loaderr.Configf("multipart", "cannot read %s: %v", e.Path, err)
		}
		content = b
	}

	fileName := e.FileName
	if fileName == "" && e.Path != "" {
		fileName = filepath.Base(e.Path)
	}

	h := make(textproto.MIMEHeader)
	h["Content-Disposition"] = []string{
		`form-data; name="` + escapeQuotes(e.Name) + `"; filename="` + escapeQuotes(fileName) + `"`,
	}
	ct := e.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h["Content-Type"] = []string{ct}

	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = part.Write(content)
	return err
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// MultipartBody is a multipart/form-data payload. An empty Boundary is
// generated.
type MultipartBody struct {
	Entries  []MultipartEntry
	Boundary string
}

func (m *MultipartBody) encode() ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if m.Boundary != "" {
		if err := w.SetBoundary(m.Boundary); err != nil {
			return nil, "", loaderr.Configf("multipart.boundary", "%v", err)
		}
	}
	for _, e := range m.Entries {
		if err := e.write(w); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
