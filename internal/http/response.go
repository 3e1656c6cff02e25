package http

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/wesleyorama2/vurun/internal/extract"
	"github.com/wesleyorama2/vurun/pkg/jsonschema"
)

// TimingInfo stores detailed timing information for an HTTP request.
// All durations represent the time spent in each phase of the request.
type TimingInfo struct {
	// StartTime is when the request started
	StartTime time.Time

	// DNSLookupTime is the time spent looking up the DNS address
	DNSLookupTime time.Duration

	// TCPConnectTime is the time spent establishing a TCP connection
	TCPConnectTime time.Duration

	// TLSHandshakeTime is the time spent performing the TLS handshake (for HTTPS)
	TLSHandshakeTime time.Duration

	// TimeToFirstByte (TTFB) is the time from connection established to receiving the first byte
	TimeToFirstByte time.Duration

	// ContentTransferTime is the time spent reading the response body
	ContentTransferTime time.Duration

	// TotalTime is the total time from request start to completion, redirects included
	TotalTime time.Duration
}

// Resource is the outcome of fetching one secondary URL
type Resource struct {
	URL        string
	StatusCode int
	Size       int64
	Duration   time.Duration
	Err        error
}

// Response is produced once per send and never modified afterwards
type Response struct {
	// StatusCode is the HTTP status code (e.g., 200, 404, 500)
	StatusCode int

	// Status is the HTTP status string (e.g., "200 OK")
	Status string

	// Headers contains the final response headers
	Headers http.Header

	// URL is the final URL after redirects
	URL string

	// Size is the number of body bytes received, before decoding
	Size int64

	// Body is the decoded body. Empty when the request discards bodies.
	Body string

	// JSONBody is the parsed body, nil when the body is not JSON
	JSONBody interface{}

	// Request is the originating request
	Request *Request

	// Resources holds the secondary downloads, in request order
	Resources []Resource

	// RedirectURLs lists every URL visited before the final one
	RedirectURLs []string

	// Extractors maps extractor names to their values
	Extractors map[string]extract.Value

	// Timing contains detailed timing information
	Timing TimingInfo
}

// Extracted returns the value of the named extractor
func (r *Response) Extracted(name string) (extract.Value, bool) {
	v, ok := r.Extractors[name]
	return v, ok
}

// GetHeader returns the value of the specified header.
// Returns an empty string if the header is not present.
func (r *Response) GetHeader(key string) string {
	return r.Headers.Get(key)
}

// TextCheck reports whether the body contains text
func (r *Response) TextCheck(text string) bool {
	return strings.Contains(r.Body, text)
}

// TextCheckRegexp reports whether the body matches expr
func (r *Response) TextCheckRegexp(expr *regexp.Regexp) bool {
	return expr.MatchString(r.Body)
}

// SchemaCheck validates the body against a JSON Schema document
func (r *Response) SchemaCheck(schema string) error {
	if ok, errs := jsonschema.ValidateWithErrors(r.Body, schema); !ok {
		return fmt.Errorf("schema check failed: %w", errs)
	}
	return nil
}

// GetBodyAsJSON unmarshals the response body into the provided interface.
func (r *Response) GetBodyAsJSON(v interface{}) error {
	return json.Unmarshal([]byte(r.Body), v)
}

// IsSuccess returns true if the response status code is in the 2xx range.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsRedirect returns true if the response status code is in the 3xx range.
func (r *Response) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400
}

// IsClientError returns true if the response status code is in the 4xx range.
func (r *Response) IsClientError() bool {
	return r.StatusCode >= 400 && r.StatusCode < 500
}

// IsServerError returns true if the response status code is in the 5xx range.
func (r *Response) IsServerError() bool {
	return r.StatusCode >= 500 && r.StatusCode < 600
}

// IsError returns true if the response status code indicates an error (4xx or 5xx).
func (r *Response) IsError() bool {
	return r.IsClientError() || r.IsServerError()
}

// GetTotalTimeMillis returns the total time in milliseconds.
func (r *Response) GetTotalTimeMillis() int64 {
	return r.Timing.TotalTime.Milliseconds()
}

// GetTimeToFirstByteMillis returns the time to first byte in milliseconds.
func (r *Response) GetTimeToFirstByteMillis() int64 {
	return r.Timing.TimeToFirstByte.Milliseconds()
}

func parseJSONBody(headers http.Header, body string) interface{} {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return nil
	}
	if !strings.Contains(headers.Get("Content-Type"), "json") && trimmed[0] != '{' && trimmed[0] != '[' {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return nil
	}
	return v
}
