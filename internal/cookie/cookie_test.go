package cookie

import (
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/vurun/internal/loaderr"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func names(cookies []Cookie) []string {
	out := make([]string, len(cookies))
	for i, c := range cookies {
		out[i] = c.Name
	}
	return out
}

func TestJar_Match(t *testing.T) {
	jar := NewJar()
	require.NoError(t, jar.Add(
		Cookie{Name: "root", Value: "1", Domain: "example.com"},
		Cookie{Name: "api", Value: "2", Domain: "example.com", Path: "/api"},
		Cookie{Name: "secure", Value: "3", Domain: "example.com", Secure: true},
		Cookie{Name: "other", Value: "4", Domain: "other.org"},
	))

	tests := []struct {
		name string
		url  string
		want []string
	}{
		{"root path", "http://example.com/", []string{"root"}},
		{"sub path orders longest first", "http://example.com/api/users", []string{"api", "root"}},
		{"path prefix must end at a slash", "http://example.com/apiv2", []string{"root"}},
		{"subdomain", "http://www.example.com/", []string{"root"}},
		{"secure only over https", "https://example.com/", []string{"root", "secure"}},
		{"unrelated host", "http://notexample.com/", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ElementsMatch(t, tt.want, names(jar.Match(mustURL(t, tt.url))))
		})
	}

	got := names(jar.Match(mustURL(t, "http://example.com/api/x")))
	assert.Equal(t, []string{"api", "root"}, got)
}

func TestJar_AddReplaces(t *testing.T) {
	jar := NewJar()
	require.NoError(t, jar.Add(Cookie{Name: "a", Value: "1", Domain: "example.com"}))
	require.NoError(t, jar.Add(Cookie{Name: "a", Value: "2", Domain: ".Example.com", Path: "/"}))

	assert.Equal(t, 1, jar.Len())
	matched := jar.Match(mustURL(t, "http://example.com/"))
	require.Len(t, matched, 1)
	assert.Equal(t, "2", matched[0].Value)
}

func TestJar_DeleteIsIdempotent(t *testing.T) {
	jar := NewJar()
	c := Cookie{Name: "a", Value: "1", Domain: "example.com"}
	require.NoError(t, jar.Add(c))

	jar.Delete(c)
	jar.Delete(c)
	jar.Delete(Cookie{Name: "never", Domain: "example.com"})
	assert.Equal(t, 0, jar.Len())
}

func TestJar_Clear(t *testing.T) {
	jar := NewJar()
	require.NoError(t, jar.Add(Cookie{Name: "a", Domain: "x.com"}, Cookie{Name: "b", Domain: "y.com"}))
	jar.Clear()
	assert.Equal(t, 0, jar.Len())
}

func TestJar_Validation(t *testing.T) {
	jar := NewJar()

	err := jar.Add(Cookie{Name: "ok", Domain: "x.com"}, Cookie{Name: "nodomain"})
	assert.True(t, errors.Is(err, loaderr.ErrConfiguration))
	assert.Equal(t, 0, jar.Len(), "invalid batch stores nothing")

	err = jar.Add(Cookie{Domain: "x.com"})
	assert.True(t, errors.Is(err, loaderr.ErrConfiguration))

	err = jar.Add(Cookie{Name: "s", Domain: "x.com", SameSite: "none"})
	assert.True(t, errors.Is(err, loaderr.ErrConfiguration))
}

func TestJar_Expiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	jar := NewJar(WithClock(func() time.Time { return now }))

	require.NoError(t, jar.Add(
		Cookie{Name: "maxage", Domain: "x.com", MaxAge: 60},
		Cookie{Name: "expires", Domain: "x.com", Expires: now.Add(2 * time.Minute)},
		Cookie{Name: "session", Domain: "x.com"},
	))
	u := mustURL(t, "http://x.com/")
	assert.Len(t, jar.Match(u), 3)

	now = now.Add(90 * time.Second)
	assert.ElementsMatch(t, []string{"expires", "session"}, names(jar.Match(u)))

	now = now.Add(time.Minute)
	assert.Equal(t, []string{"session"}, names(jar.Match(u)))
	assert.Equal(t, 1, jar.Len(), "expired cookies are evicted on match")
}

func TestParseExpires(t *testing.T) {
	got, err := ParseExpires("Wed, 21 Oct 2015 07:28:00 GMT")
	require.NoError(t, err)
	assert.Equal(t, 2015, got.Year())

	_, err = ParseExpires("tomorrow")
	assert.True(t, errors.Is(err, loaderr.ErrConfiguration))
}

func TestJar_HTTPCookieJar(t *testing.T) {
	jar := NewJar()
	u := mustURL(t, "http://shop.example.com/cart/view")

	jar.SetCookies(u, []*http.Cookie{
		{Name: "sid", Value: "abc"},
		{Name: "wide", Value: "1", Domain: "example.com", Path: "/"},
		{Name: "evil", Value: "x", Domain: "attacker.com"},
	})
	assert.Equal(t, 2, jar.Len())

	got := jar.Cookies(mustURL(t, "http://shop.example.com/cart/items"))
	assert.Len(t, got, 2)

	// host-only cookie does not leak to sibling hosts
	sibling := jar.Cookies(mustURL(t, "http://www.example.com/cart/x"))
	require.Len(t, sibling, 1)
	assert.Equal(t, "wide", sibling[0].Name)

	// Max-Age=0 removes
	jar.SetCookies(u, []*http.Cookie{{Name: "sid", MaxAge: -1}})
	assert.Equal(t, 1, jar.Len())
}
