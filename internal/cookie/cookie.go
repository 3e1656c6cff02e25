// Package cookie implements the per virtual user cookie jar.
package cookie

import (
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/vurun/internal/loaderr"
)

// SameSite restricts cross-site sending
type SameSite string

const (
	SameSiteDefault SameSite = ""
	SameSiteStrict  SameSite = "strict"
	SameSiteLax     SameSite = "lax"
)

// Cookie is a cookie added by a script or received from a server.
// MaxAge is in seconds and takes precedence over Expires.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  time.Time
	MaxAge   int
	Secure   bool
	HTTPOnly bool
	SameSite SameSite
}

// ParseExpires parses an HTTP-date such as "Wed, 21 Oct 2015 07:28:00 GMT"
func ParseExpires(httpDate string) (time.Time, error) {
	t, err := http.ParseTime(httpDate)
	if err != nil {
		return time.Time{}, loaderr.Configf("expires", "invalid HTTP date %q", httpDate)
	}
	return t, nil
}

// Validate checks the fields a script must supply
func (c Cookie) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return loaderr.Configf("name", "cookie name is required")
	}
	if strings.TrimSpace(c.Domain) == "" {
		return loaderr.Configf("domain", "cookie %s: domain is required", c.Name)
	}
	switch c.SameSite {
	case SameSiteDefault, SameSiteStrict, SameSiteLax:
	default:
		return loaderr.Configf("sameSite", "cookie %s: expected strict or lax, got %q", c.Name, c.SameSite)
	}
	return nil
}

type key struct {
	domain string
	path   string
	name   string
}

type entry struct {
	Cookie
	hostOnly bool
	expiry   time.Time
	created  time.Time
	seq      uint64
}

// Jar holds the cookies of one virtual user. It is safe for concurrent use,
// since embedded resources may be fetched in parallel, and implements
// http.CookieJar.
type Jar struct {
	mu      sync.Mutex
	entries map[key]*entry
	seq     uint64
	now     func() time.Time
}

// Option configures a Jar
type Option func(*Jar)

// WithClock overrides the clock used for expiry
func WithClock(now func() time.Time) Option {
	return func(j *Jar) {
		j.now = now
	}
}

// NewJar creates an empty jar
func NewJar(opts ...Option) *Jar {
	j := &Jar{
		entries: make(map[key]*entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

var _ http.CookieJar = (*Jar)(nil)

// Add stores cookies, replacing any with the same name, domain and path.
// Nothing is stored if any cookie is invalid.
func (j *Jar) Add(cookies ...Cookie) error {
	for _, c := range cookies {
		if err := c.Validate(); err != nil {
			return err
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()
	for _, c := range cookies {
		j.store(c, false, now)
	}
	return nil
}

// Delete removes cookies. Absent cookies are ignored.
func (j *Jar) Delete(cookies ...Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range cookies {
		delete(j.entries, keyOf(c))
	}
}

// Clear removes every cookie
func (j *Jar) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = make(map[key]*entry)
}

// Len returns the number of stored cookies, expired ones included
func (j *Jar) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// Match returns the live cookies applicable to u, longest path first
func (j *Jar) Match(u *url.URL) []Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	host := canonicalHost(u.Hostname())
	secure := u.Scheme == "https" || u.Scheme == "wss"
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	var matched []*entry
	for k, e := range j.entries {
		if !e.expiry.IsZero() && !now.Before(e.expiry) {
			delete(j.entries, k)
			continue
		}
		if e.Secure && !secure {
			continue
		}
		if !domainMatch(host, e.Domain, e.hostOnly) || !pathMatch(path, e.Path) {
			continue
		}
		matched = append(matched, e)
	}

	sort.Slice(matched, func(a, b int) bool {
		if len(matched[a].Path) != len(matched[b].Path) {
			return len(matched[a].Path) > len(matched[b].Path)
		}
		return matched[a].seq < matched[b].seq
	})

	out := make([]Cookie, len(matched))
	for i, e := range matched {
		out[i] = e.Cookie
	}
	return out
}

// Cookies implements http.CookieJar
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	matched := j.Match(u)
	out := make([]*http.Cookie, len(matched))
	for i, c := range matched {
		out[i] = &http.Cookie{Name: c.Name, Value: c.Value}
	}
	return out
}

// SetCookies implements http.CookieJar for Set-Cookie headers
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	host := canonicalHost(u.Hostname())
	for _, hc := range cookies {
		c := Cookie{
			Name:     hc.Name,
			Value:    hc.Value,
			Domain:   hc.Domain,
			Path:     hc.Path,
			Expires:  hc.Expires,
			MaxAge:   hc.MaxAge,
			Secure:   hc.Secure,
			HTTPOnly: hc.HttpOnly,
		}
		switch hc.SameSite {
		case http.SameSiteStrictMode:
			c.SameSite = SameSiteStrict
		case http.SameSiteLaxMode:
			c.SameSite = SameSiteLax
		}

		hostOnly := c.Domain == ""
		if hostOnly {
			c.Domain = host
		} else if !domainMatch(host, canonicalHost(c.Domain), false) {
			// a server may only set cookies for its own domain
			continue
		}
		if c.Path == "" || c.Path[0] != '/' {
			c.Path = defaultPath(u.EscapedPath())
		}
		// net/http reports "Max-Age=0" as -1
		if hc.MaxAge < 0 {
			delete(j.entries, keyOf(c))
			continue
		}
		j.store(c, hostOnly, now)
	}
}

func (j *Jar) store(c Cookie, hostOnly bool, now time.Time) {
	c.Domain = canonicalHost(c.Domain)
	if c.Path == "" {
		c.Path = "/"
	}

	var expiry time.Time
	switch {
	case c.MaxAge > 0:
		expiry = now.Add(time.Duration(c.MaxAge) * time.Second)
	case c.MaxAge < 0:
		expiry = now
	case !c.Expires.IsZero():
		expiry = c.Expires
	}

	k := keyOf(c)
	created := now
	if old, ok := j.entries[k]; ok {
		created = old.created
	}
	j.seq++
	j.entries[k] = &entry{Cookie: c, hostOnly: hostOnly, expiry: expiry, created: created, seq: j.seq}
}

func keyOf(c Cookie) key {
	path := c.Path
	if path == "" {
		path = "/"
	}
	return key{domain: canonicalHost(c.Domain), path: path, name: c.Name}
}

func canonicalHost(host string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(host), "."))
}

func domainMatch(host, domain string, hostOnly bool) bool {
	if host == domain {
		return true
	}
	if hostOnly || net.ParseIP(host) != nil {
		return false
	}
	return strings.HasSuffix(host, "."+domain)
}

func pathMatch(reqPath, cookiePath string) bool {
	if reqPath == cookiePath {
		return true
	}
	if !strings.HasPrefix(reqPath, cookiePath) {
		return false
	}
	return strings.HasSuffix(cookiePath, "/") || reqPath[len(cookiePath)] == '/'
}

func defaultPath(p string) string {
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/"
	}
	return p[:i]
}
