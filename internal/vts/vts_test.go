package vts

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/vurun/internal/loaderr"
	"github.com/wesleyorama2/vurun/internal/vts/vtstest"
)

func newTestClient(t *testing.T) (*Client, *vtstest.Server) {
	t.Helper()
	srv := vtstest.NewServer("user", "secret")
	t.Cleanup(srv.Close)

	host, port := srv.HostPort()
	client, err := NewClient(Options{Server: host, Port: port, UserName: "user", Password: "secret"})
	require.NoError(t, err)
	return client, srv
}

func values(fields []*string) []interface{} {
	out := make([]interface{}, len(fields))
	for i, f := range fields {
		if f != nil {
			out[i] = *f
		}
	}
	return out
}

func TestNewClient(t *testing.T) {
	c, err := NewClient(Options{Server: "vts.local", Port: 4000})
	require.NoError(t, err)
	assert.Equal(t, "http://vts.local:4000/api/v1/", c.baseURL)

	c, err = NewClient(Options{Server: "HTTPS://vts.local/", Port: 443})
	require.NoError(t, err)
	assert.Equal(t, "https://vts.local:443/api/v1/", c.baseURL)

	_, err = NewClient(Options{})
	assert.True(t, errors.Is(err, loaderr.ErrConfiguration))

	_, err = NewClient(Options{Server: "x", Port: 70000})
	assert.True(t, errors.Is(err, loaderr.ErrConfiguration))
}

func TestClient_Unauthorized(t *testing.T) {
	srv := vtstest.NewServer("user", "secret")
	defer srv.Close()
	host, port := srv.HostPort()

	c, err := NewClient(Options{Server: host, Port: port, UserName: "user", Password: "wrong"})
	require.NoError(t, err)

	_, err = c.CreateColumn(context.Background(), "ids")
	var te *loaderr.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 401, te.StatusCode)
}

func TestColumn_AddPopSize(t *testing.T) {
	ctx := context.Background()
	c, srv := newTestClient(t)

	col, err := c.CreateColumn(ctx, "ids")
	require.NoError(t, err)

	for _, v := range []string{"a", "b", "c"} {
		require.NoError(t, col.AddValue(ctx, v, false))
	}
	size, err := col.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, size)

	top, err := col.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, Value("a"), top)
	assert.Equal(t, []interface{}{"b", "c"}, values(srv.Fields("ids")))

	require.NoError(t, col.Clear(ctx))
	empty, err := col.Pop(ctx)
	require.NoError(t, err)
	assert.False(t, empty.Valid)
	assert.Equal(t, "null", empty.String())
}

func TestColumn_UniqueWriteOnIndexedColumn(t *testing.T) {
	ctx := context.Background()
	c, srv := newTestClient(t)

	col, err := c.CreateColumn(ctx, "emails")
	require.NoError(t, err)
	require.NoError(t, col.CreateIndex(ctx))

	require.NoError(t, col.AddValue(ctx, "x@example.com", true))
	require.NoError(t, col.AddValue(ctx, "x@example.com", true))

	assert.Equal(t, []interface{}{"x@example.com"}, values(srv.Fields("emails")))

	require.NoError(t, col.DropIndex(ctx))
	require.NoError(t, col.AddValue(ctx, "x@example.com", true))
	assert.Len(t, srv.Fields("emails"), 1, "unique check still applies without an index")
}

func TestColumn_ConcurrentUniqueWrites(t *testing.T) {
	ctx := context.Background()
	c, srv := newTestClient(t)
	col, err := c.CreateColumn(ctx, "tokens")
	require.NoError(t, err)
	require.NoError(t, col.CreateIndex(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, col.AddValue(ctx, "same", true))
		}()
	}
	wg.Wait()

	assert.Len(t, srv.Fields("tokens"), 1)
}

func TestColumn_Fields(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	col, err := c.CreateColumn(ctx, "counter")
	require.NoError(t, err)

	f, err := col.FieldValue(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, Null, f)

	f, err = col.IncrementField(ctx, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, Value("5"), f)

	f, err = col.IncrementField(ctx, 1, -2)
	require.NoError(t, err)
	assert.Equal(t, Value("3"), f)

	require.NoError(t, col.SetFieldValue(ctx, 2, "abc", nil))
	f, err = col.IncrementField(ctx, 2, 7)
	require.NoError(t, err)
	assert.Equal(t, Value("7"), f, "non-integer field becomes the amount")

	stale := "nope"
	require.NoError(t, col.SetFieldValue(ctx, 1, "100", &stale))
	f, _ = col.FieldValue(ctx, 1)
	assert.Equal(t, Value("3"), f, "mismatched existing value leaves the field")

	current := "3"
	require.NoError(t, col.SetFieldValue(ctx, 1, "100", &current))
	f, _ = col.FieldValue(ctx, 1)
	assert.Equal(t, Value("100"), f)

	require.NoError(t, col.ClearField(ctx, 1))
	f, _ = col.FieldValue(ctx, 1)
	assert.False(t, f.Valid)

	_, err = col.FieldValue(ctx, 0)
	assert.True(t, errors.Is(err, loaderr.ErrConfiguration))
}

func TestColumn_Rotate(t *testing.T) {
	ctx := context.Background()
	c, srv := newTestClient(t)
	col, err := c.CreateColumn(ctx, "users")
	require.NoError(t, err)

	for _, v := range []string{"u1", "u2", "u1"} {
		require.NoError(t, col.AddValue(ctx, v, false))
	}

	v, err := col.Rotate(ctx, Stacked)
	require.NoError(t, err)
	assert.Equal(t, Value("u1"), v)
	assert.Equal(t, []interface{}{"u2", "u1", "u1"}, values(srv.Fields("users")))

	// u2 is unique so it moves to the bottom
	v, err = col.Rotate(ctx, Unique)
	require.NoError(t, err)
	assert.Equal(t, Value("u2"), v)
	assert.Equal(t, []interface{}{"u1", "u1", "u2"}, values(srv.Fields("users")))

	// u1 still exists further down so this copy is discarded
	_, err = col.Rotate(ctx, Unique)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"u1", "u2"}, values(srv.Fields("users")))

	_, err = col.Rotate(ctx, SameRow)
	assert.True(t, errors.Is(err, loaderr.ErrConfiguration))
	assert.Equal(t, 0, srv.Calls("rotate")-3, "invalid placement never reaches the server")
}

func TestClient_SetValuesPlacement(t *testing.T) {
	ctx := context.Background()
	c, srv := newTestClient(t)
	for _, name := range []string{"user", "pass"} {
		_, err := c.CreateColumn(ctx, name)
		require.NoError(t, err)
	}
	require.NoError(t, c.Column("user").AddValue(ctx, "early", false))

	require.NoError(t, c.SetValues(ctx, []string{"user", "pass"}, []string{"bob", "pw"}, SameRow))
	assert.Equal(t, []interface{}{"early", "bob"}, values(srv.Fields("user")))
	assert.Equal(t, []interface{}{nil, "pw"}, values(srv.Fields("pass")))

	require.NoError(t, c.SetValues(ctx, []string{"user", "pass"}, []string{"bob", "pw2"}, Unique))
	assert.Len(t, srv.Fields("user"), 2, "duplicate skipped silently")
	assert.Equal(t, []interface{}{nil, "pw", "pw2"}, values(srv.Fields("pass")))

	require.NoError(t, c.SetValues(ctx, []string{"user"}, []string{"bob"}, Stacked))
	assert.Len(t, srv.Fields("user"), 3)

	err := c.SetValues(ctx, []string{"user", "pass"}, []string{"x"}, Stacked)
	assert.True(t, errors.Is(err, loaderr.ErrConfiguration))
}

func TestClient_PopAndRotateColumns(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	for _, name := range []string{"a", "b"} {
		col, err := c.CreateColumn(ctx, name)
		require.NoError(t, err)
		require.NoError(t, col.AddValue(ctx, name+"1", false))
		require.NoError(t, col.AddValue(ctx, name+"2", false))
	}

	popped, err := c.PopColumns(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, map[string]Field{"a": Value("a1"), "b": Value("b1")}, popped)

	rotated, err := c.RotateColumns(ctx, []string{"a", "b"}, Stacked)
	require.NoError(t, err)
	assert.Equal(t, map[string]Field{"a": Value("a2"), "b": Value("b2")}, rotated)

	_, err = c.PopColumns(ctx, "a", "missing")
	var te *loaderr.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 404, te.StatusCode)
}

func TestRow(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	for _, name := range []string{"x", "y"} {
		_, err := c.CreateColumn(ctx, name)
		require.NoError(t, err)
	}

	row, err := c.GetRow(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, row.SetValues(ctx, []string{"x"}, []string{"vx"}))

	got, err := row.Values(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]Field{"x": Value("vx"), "y": Null}, got)

	require.NoError(t, row.Clear(ctx))
	got, err = row.Values(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]Field{"x": Value(""), "y": Null}, got, "clear keeps null fields null")

	_, err = c.GetRow(ctx, 0)
	assert.True(t, errors.Is(err, loaderr.ErrConfiguration))
}

func TestGetColumn_Missing(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.GetColumn(context.Background(), "ghost")
	assert.True(t, errors.Is(err, loaderr.ErrTransport))
}

func TestParsePlacement(t *testing.T) {
	for _, p := range []Placement{SameRow, Stacked, Unique} {
		got, err := ParsePlacement(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := ParsePlacement("sideways")
	assert.Error(t, err)
}
