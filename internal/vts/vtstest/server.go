// Package vtstest provides an in-memory VTS server for tests.
package vtstest

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
)

type column struct {
	fields  []*string
	indexed bool
	// value -> occurrences, maintained only while indexed
	index map[string]int
}

// Server is a VTS server backed by memory. All operations are serialized,
// which gives sameRow writes and unique checks their atomicity.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	columns  map[string]*column
	order    []string
	userName string
	password string
	calls    map[string]int
}

// NewServer starts a server. When userName is non-empty every request must
// carry matching basic auth credentials.
func NewServer(userName, password string) *Server {
	s := &Server{
		columns:  make(map[string]*column),
		calls:    make(map[string]int),
		userName: userName,
		password: password,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// HostPort splits the listener address for vts.Options
func (s *Server) HostPort() (string, int) {
	host, port, _ := net.SplitHostPort(strings.TrimPrefix(s.URL, "http://"))
	p, _ := strconv.Atoi(port)
	return host, p
}

// Fields returns a snapshot of a column; nil entries are null fields
func (s *Server) Fields(name string) []*string {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.columns[name]
	if !ok {
		return nil
	}
	out := make([]*string, len(c.fields))
	for i, f := range c.fields {
		if f != nil {
			v := *f
			out[i] = &v
		}
	}
	return out
}

// Calls returns how many times op was invoked
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

type request struct {
	Column    string   `json:"column"`
	Columns   []string `json:"columns"`
	Row       int      `json:"row"`
	Value     *string  `json:"value"`
	Values    []string `json:"values"`
	Existing  *string  `json:"existing"`
	Amount    int64    `json:"amount"`
	IfUnique  bool     `json:"ifUnique"`
	Placement string   `json:"placement"`
}

type response struct {
	Error  string             `json:"error,omitempty"`
	Value  *string            `json:"value,omitempty"`
	Size   int                `json:"size,omitempty"`
	Fields map[string]*string `json:"fields,omitempty"`
}

type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string { return e.msg }

func notFound(name string) error {
	return &statusError{http.StatusNotFound, "column not found: " + name}
}

func badRequest(msg string) error {
	return &statusError{http.StatusBadRequest, msg}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if s.userName != "" {
		u, p, ok := r.BasicAuth()
		if !ok || u != s.userName || p != s.password {
			writeJSON(w, http.StatusUnauthorized, response{Error: "unauthorized"})
			return
		}
	}
	if r.Method != http.MethodPost || !strings.HasPrefix(r.URL.Path, "/api/v1/") {
		writeJSON(w, http.StatusNotFound, response{Error: "unknown endpoint"})
		return
	}

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, response{Error: err.Error()})
		return
	}

	op := strings.TrimPrefix(r.URL.Path, "/api/v1/")

	s.mu.Lock()
	s.calls[op]++
	resp, err := s.dispatch(op, req)
	s.mu.Unlock()

	if err != nil {
		code := http.StatusInternalServerError
		if se, ok := err.(*statusError); ok {
			code = se.code
		}
		writeJSON(w, code, response{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) dispatch(op string, req request) (response, error) {
	switch op {
	case "createColumn":
		if _, ok := s.columns[req.Column]; !ok {
			s.columns[req.Column] = &column{}
			s.order = append(s.order, req.Column)
		}
		return response{}, nil
	case "getColumn":
		_, err := s.column(req.Column)
		return response{}, err
	case "getRow":
		if req.Row < 1 {
			return response{}, badRequest("row index must be >= 1")
		}
		return response{}, nil
	case "popColumns":
		return s.eachColumn(req.Columns, func(c *column) (*string, error) { return c.pop(), nil })
	case "rotateColumns":
		return s.eachColumn(req.Columns, func(c *column) (*string, error) { return c.rotate(req.Placement) })
	case "setValues":
		return response{}, s.setValues(req)
	case "getRowValues":
		out := make(map[string]*string, len(s.columns))
		for _, name := range s.order {
			out[name] = s.columns[name].at(req.Row)
		}
		return response{Fields: out}, nil
	case "clearRow":
		for _, c := range s.columns {
			if f := c.at(req.Row); f != nil {
				c.set(req.Row, strPtr(""))
			}
		}
		return response{}, nil
	case "setRowValues":
		if len(req.Columns) != len(req.Values) {
			return response{}, badRequest("columns and values differ in length")
		}
		cols, err := s.columnsFor(req.Columns)
		if err != nil {
			return response{}, err
		}
		for i, c := range cols {
			c.set(req.Row, strPtr(req.Values[i]))
		}
		return response{}, nil
	}

	c, err := s.column(req.Column)
	if err != nil {
		return response{}, err
	}
	switch op {
	case "clearColumn":
		c.fields = nil
		if c.indexed {
			c.index = make(map[string]int)
		}
		return response{}, nil
	case "size":
		return response{Size: c.size()}, nil
	case "createIndex":
		if !c.indexed {
			c.indexed = true
			c.index = make(map[string]int)
			for _, f := range c.fields {
				if f != nil {
					c.index[*f]++
				}
			}
		}
		return response{}, nil
	case "dropIndex":
		c.indexed = false
		c.index = nil
		return response{}, nil
	case "addValue":
		if req.Value == nil {
			return response{}, badRequest("value is required")
		}
		c.add(*req.Value, req.IfUnique)
		return response{}, nil
	case "clearField":
		c.set(req.Row, nil)
		return response{}, nil
	case "incrementField":
		next := req.Amount
		if cur := c.at(req.Row); cur != nil {
			if n, err := strconv.ParseInt(*cur, 10, 64); err == nil {
				next = n + req.Amount
			}
		}
		v := strconv.FormatInt(next, 10)
		c.set(req.Row, &v)
		return response{Value: &v}, nil
	case "getFieldValue":
		return response{Value: c.at(req.Row)}, nil
	case "setFieldValue":
		if req.Value == nil {
			return response{}, badRequest("value is required")
		}
		if req.Existing != nil {
			cur := c.at(req.Row)
			if cur == nil || *cur != *req.Existing {
				return response{}, nil
			}
		}
		c.set(req.Row, strPtr(*req.Value))
		return response{}, nil
	case "pop":
		return response{Value: c.pop()}, nil
	case "rotate":
		v, err := c.rotate(req.Placement)
		return response{Value: v}, err
	default:
		return response{}, &statusError{http.StatusNotFound, "unknown operation " + op}
	}
}

func (s *Server) column(name string) (*column, error) {
	c, ok := s.columns[name]
	if !ok {
		return nil, notFound(name)
	}
	return c, nil
}

func (s *Server) columnsFor(names []string) ([]*column, error) {
	out := make([]*column, len(names))
	for i, n := range names {
		c, err := s.column(n)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func (s *Server) eachColumn(names []string, fn func(*column) (*string, error)) (response, error) {
	cols, err := s.columnsFor(names)
	if err != nil {
		return response{}, err
	}
	out := make(map[string]*string, len(cols))
	for i, c := range cols {
		v, err := fn(c)
		if err != nil {
			return response{}, err
		}
		out[names[i]] = v
	}
	return response{Fields: out}, nil
}

func (s *Server) setValues(req request) error {
	if len(req.Columns) != len(req.Values) {
		return badRequest("columns and values differ in length")
	}
	cols, err := s.columnsFor(req.Columns)
	if err != nil {
		return err
	}

	switch req.Placement {
	case "sameRow":
		row := 0
		for _, c := range cols {
			if b := c.bottom(); b > row {
				row = b
			}
		}
		for i, c := range cols {
			c.set(row+1, strPtr(req.Values[i]))
		}
	case "stacked", "unique":
		for i, c := range cols {
			c.add(req.Values[i], req.Placement == "unique")
		}
	default:
		return badRequest("unknown placement " + req.Placement)
	}
	return nil
}

// bottom returns the row of the last non-null field, 0 when empty
func (c *column) bottom() int {
	for i := len(c.fields) - 1; i >= 0; i-- {
		if c.fields[i] != nil {
			return i + 1
		}
	}
	return 0
}

func (c *column) at(row int) *string {
	if row < 1 || row > len(c.fields) {
		return nil
	}
	return c.fields[row-1]
}

func (c *column) set(row int, v *string) {
	if row < 1 {
		return
	}
	for len(c.fields) < row {
		c.fields = append(c.fields, nil)
	}
	if c.indexed {
		if old := c.fields[row-1]; old != nil {
			c.unindex(*old)
		}
		if v != nil {
			c.index[*v]++
		}
	}
	c.fields[row-1] = v
}

func (c *column) unindex(v string) {
	if c.index[v] <= 1 {
		delete(c.index, v)
	} else {
		c.index[v]--
	}
}

func (c *column) contains(v string) bool {
	if c.indexed {
		return c.index[v] > 0
	}
	for _, f := range c.fields {
		if f != nil && *f == v {
			return true
		}
	}
	return false
}

func (c *column) add(v string, ifUnique bool) {
	if ifUnique && c.contains(v) {
		return
	}
	c.set(c.bottom()+1, strPtr(v))
}

func (c *column) size() int {
	n := 0
	for _, f := range c.fields {
		if f != nil {
			n++
		}
	}
	return n
}

func (c *column) pop() *string {
	if len(c.fields) == 0 {
		return nil
	}
	top := c.fields[0]
	if c.indexed && top != nil {
		c.unindex(*top)
	}
	c.fields = c.fields[1:]
	return top
}

func (c *column) rotate(placement string) (*string, error) {
	if placement != "stacked" && placement != "unique" {
		return nil, badRequest("rotate requires stacked or unique")
	}
	v := c.pop()
	if v == nil {
		return nil, nil
	}
	c.add(*v, placement == "unique")
	return v, nil
}

func strPtr(s string) *string {
	return &s
}
