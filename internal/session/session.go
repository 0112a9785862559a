// Package session keeps the authenticated browsing session used to pass the
// target site's bot detection: a cookie header minted by a real browser
// navigation, the user agent it was minted with, and its validity window.
package session

import (
	"strings"
	"time"

	"github.com/jmylchreest/gatefetch/internal/browser"
)

// Defaults for the validity window.
const (
	DefaultTTL     = 60 * time.Second
	DefaultMaxUses = 10
)

// Session is the cookie/user-agent pair plus its validity window.
// An empty CookieHeader means the session was never initialized or was invalidated.
type Session struct {
	CookieHeader string    `json:"cookieHeader"`
	UserAgent    string    `json:"userAgent"`
	UsedCount    int       `json:"usedCount"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Valid reports whether the session may be reused at now.
func (s Session) Valid(now time.Time, maxUses int) bool {
	return s.CookieHeader != "" && s.UsedCount <= maxUses && now.Before(s.ExpiresAt)
}

// Masked returns a copy with cookie values hidden, safe to expose over HTTP.
func (s Session) Masked() Session {
	if s.CookieHeader == "" {
		return s
	}
	parts := strings.Split(s.CookieHeader, "; ")
	for i, p := range parts {
		if name, _, ok := strings.Cut(p, "="); ok {
			parts[i] = name + "=****"
		}
	}
	s.CookieHeader = strings.Join(parts, "; ")
	return s
}

// Credentials is what a caller attaches to a request.
type Credentials struct {
	CookieHeader string
	UserAgent    string
}

// CookieHeader serializes cookies as "name=value; name=value" in the order
// the browser reports them, skipping nameless and expired cookies. Cookies
// sharing a name across domains or paths are all kept, as a browser sends them.
func CookieHeader(cookies []browser.Cookie, now time.Time) string {
	var b strings.Builder
	for _, c := range cookies {
		if c.Name == "" || c.Expired(now) {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		b.WriteString(c.Name)
		b.WriteByte('=')
		b.WriteString(c.Value)
	}
	return b.String()
}
