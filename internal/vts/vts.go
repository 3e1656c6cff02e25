// Package vts is a client for a VTS shared-data server.
//
// Columns, rows and fields live on the server. Column and Row values are
// references holding only a name or an index; every operation is exactly one
// HTTP round trip and nothing is cached, because the server is the single
// source of truth for data shared between virtual users. Consistency of
// sameRow and unique writes is enforced server-side.
package vts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/wesleyorama2/vurun/internal/loaderr"
)

// Placement controls where multi-value writes land
type Placement int

const (
	// SameRow writes all values into one row across the named columns
	SameRow Placement = iota
	// Stacked writes each value to the next open field of its column
	Stacked
	// Unique is Stacked, skipping columns that already hold the value
	Unique
)

func (p Placement) String() string {
	switch p {
	case SameRow:
		return "sameRow"
	case Stacked:
		return "stacked"
	case Unique:
		return "unique"
	default:
		return "unknown"
	}
}

// ParsePlacement parses the names returned by String
func ParsePlacement(s string) (Placement, error) {
	switch strings.ToLower(s) {
	case "samerow", "same_row":
		return SameRow, nil
	case "stacked":
		return Stacked, nil
	case "unique":
		return Unique, nil
	default:
		return 0, loaderr.Configf("placement", "unknown placement type %q", s)
	}
}

// Field is a single cell: a string or null
type Field struct {
	Value string
	Valid bool
}

// Null is the empty field
var Null = Field{}

// Value makes a non-null field
func Value(s string) Field {
	return Field{Value: s, Valid: true}
}

func fieldOf(p *string) Field {
	if p == nil {
		return Null
	}
	return Value(*p)
}

func (f Field) String() string {
	if !f.Valid {
		return "null"
	}
	return f.Value
}

// Options configures a Client
type Options struct {
	// Server is a host name or address. HTTP is assumed unless it starts with https://.
	Server   string
	Port     int
	UserName string
	Password string

	// Timeout bounds each round trip. Defaults to 30s.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client issues commands to a VTS server
type Client struct {
	baseURL    string
	userName   string
	password   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient validates opts and returns a client. No connection is made.
func NewClient(opts Options) (*Client, error) {
	server := strings.TrimSpace(opts.Server)
	if server == "" {
		return nil, loaderr.Configf("server", "VTS server is required")
	}
	if opts.Port < 0 || opts.Port > 65535 {
		return nil, loaderr.Configf("port", "invalid port %d", opts.Port)
	}

	scheme := "http://"
	lower := strings.ToLower(server)
	switch {
	case strings.HasPrefix(lower, "https://"):
		scheme, server = "https://", server[len("https://"):]
	case strings.HasPrefix(lower, "http://"):
		server = server[len("http://"):]
	}
	server = strings.TrimSuffix(server, "/")
	if opts.Port > 0 {
		server += ":" + strconv.Itoa(opts.Port)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    scheme + server + "/api/v1/",
		userName:   opts.UserName,
		password:   opts.Password,
		httpClient: httpClient,
		logger:     logger.Named("vts"),
	}, nil
}

// request is the wire body of every operation
type request struct {
	Column    string   `json:"column,omitempty"`
	Columns   []string `json:"columns,omitempty"`
	Row       int      `json:"row,omitempty"`
	Value     *string  `json:"value,omitempty"`
	Values    []string `json:"values,omitempty"`
	Existing  *string  `json:"existing,omitempty"`
	Amount    int64    `json:"amount,omitempty"`
	IfUnique  bool     `json:"ifUnique,omitempty"`
	Placement string   `json:"placement,omitempty"`
}

type response struct {
	Error  string             `json:"error,omitempty"`
	Value  *string            `json:"value,omitempty"`
	Size   int                `json:"size,omitempty"`
	Fields map[string]*string `json:"fields,omitempty"`
}

// call performs one round trip
func (c *Client) call(ctx context.Context, op string, req request) (*response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", op, err)
	}

	url := c.baseURL + op
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &loaderr.TransportError{Op: op, URL: url, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.userName != "" {
		httpReq.SetBasicAuth(c.userName, c.password)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &loaderr.TransportError{Op: op, URL: url, Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &loaderr.TransportError{Op: op, URL: url, StatusCode: httpResp.StatusCode, Err: err}
	}

	var resp response
	if len(body) > 0 {
		if err := json.Unmarshal(body, &resp); err != nil && httpResp.StatusCode < 400 {
			return nil, &loaderr.TransportError{Op: op, URL: url, StatusCode: httpResp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
		}
	}

	c.logger.Debug("vts call",
		zap.String("op", op),
		zap.String("column", req.Column),
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if httpResp.StatusCode >= 400 {
		msg := resp.Error
		if msg == "" {
			msg = http.StatusText(httpResp.StatusCode)
		}
		return nil, &loaderr.TransportError{Op: op, URL: url, StatusCode: httpResp.StatusCode, Err: errors.New(msg)}
	}
	return &resp, nil
}

// Column returns a reference to a column without contacting the server
func (c *Client) Column(name string) *Column {
	return &Column{client: c, name: name}
}

// Row returns a reference to a row without contacting the server
func (c *Client) Row(index int) *Row {
	return &Row{client: c, index: index}
}

// GetColumn returns a reference to an existing column
func (c *Client) GetColumn(ctx context.Context, name string) (*Column, error) {
	if err := validColumn(name); err != nil {
		return nil, err
	}
	if _, err := c.call(ctx, "getColumn", request{Column: name}); err != nil {
		return nil, err
	}
	return c.Column(name), nil
}

// GetRow returns a reference to a row. Rows are numbered from 1.
func (c *Client) GetRow(ctx context.Context, index int) (*Row, error) {
	if err := validRow(index); err != nil {
		return nil, err
	}
	if _, err := c.call(ctx, "getRow", request{Row: index}); err != nil {
		return nil, err
	}
	return c.Row(index), nil
}

// CreateColumn creates a column, or references it if it already exists
func (c *Client) CreateColumn(ctx context.Context, name string) (*Column, error) {
	if err := validColumn(name); err != nil {
		return nil, err
	}
	if _, err := c.call(ctx, "createColumn", request{Column: name}); err != nil {
		return nil, err
	}
	return c.Column(name), nil
}

// PopColumns pops the top field of each column in one atomic operation
func (c *Client) PopColumns(ctx context.Context, names ...string) (map[string]Field, error) {
	if err := validColumns(names); err != nil {
		return nil, err
	}
	resp, err := c.call(ctx, "popColumns", request{Columns: names})
	if err != nil {
		return nil, err
	}
	return fields(resp.Fields), nil
}

// RotateColumns rotates each column. Only Stacked and Unique are valid.
func (c *Client) RotateColumns(ctx context.Context, names []string, placement Placement) (map[string]Field, error) {
	if err := validColumns(names); err != nil {
		return nil, err
	}
	if err := validRotate(placement); err != nil {
		return nil, err
	}
	resp, err := c.call(ctx, "rotateColumns", request{Columns: names, Placement: placement.String()})
	if err != nil {
		return nil, err
	}
	return fields(resp.Fields), nil
}

// SetValues writes values[i] into names[i] according to placement
func (c *Client) SetValues(ctx context.Context, names, values []string, placement Placement) error {
	if err := validColumns(names); err != nil {
		return err
	}
	if len(names) != len(values) {
		return loaderr.Configf("values", "got %d values for %d columns", len(values), len(names))
	}
	if placement < SameRow || placement > Unique {
		return loaderr.Configf("placement", "invalid placement %d", placement)
	}
	_, err := c.call(ctx, "setValues", request{Columns: names, Values: values, Placement: placement.String()})
	return err
}

func fields(in map[string]*string) map[string]Field {
	out := make(map[string]Field, len(in))
	for k, v := range in {
		out[k] = fieldOf(v)
	}
	return out
}

func validColumn(name string) error {
	if strings.TrimSpace(name) == "" {
		return loaderr.Configf("column", "column name is required")
	}
	return nil
}

func validColumns(names []string) error {
	if len(names) == 0 {
		return loaderr.Configf("columns", "at least one column is required")
	}
	for _, n := range names {
		if err := validColumn(n); err != nil {
			return err
		}
	}
	return nil
}

func validRow(index int) error {
	if index < 1 {
		return loaderr.Configf("row", "row index must be >= 1, got %d", index)
	}
	return nil
}

func validRotate(p Placement) error {
	if p != Stacked && p != Unique {
		return loaderr.Configf("placement", "rotate requires stacked or unique, got %s", p)
	}
	return nil
}
