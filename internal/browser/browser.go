// Package browser owns the headless browser used to mint anti-bot cookies and
// to issue in-context HTTP calls. It exposes small interfaces so the session
// layer can be exercised without a real Chromium.
package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPageClosed is returned when an operation targets a page that is gone.
	ErrPageClosed = errors.New("page is closed")
	// ErrBrowserDisconnected is returned when the browser connection is lost.
	ErrBrowserDisconnected = errors.New("browser is disconnected")
)

// Launcher produces connected browsers, either by launching a local process
// or by attaching to a remote debugging endpoint.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// Browser is a handle on a browser process or remote connection.
type Browser interface {
	// ID identifies the handle in logs.
	ID() string
	// NewPage opens a fresh browsing context.
	NewPage(ctx context.Context) (Page, error)
	// Connected reports whether the browser still answers protocol calls.
	Connected() bool
	// Close tears the handle down. Remote browsers are detached, not killed.
	Close() error
}

// Page is a single browsing context.
type Page interface {
	// SetUserAgent overrides the agent for navigation and script fetches.
	SetUserAgent(userAgent string) error
	// Navigate loads url and returns once network activity has settled.
	Navigate(ctx context.Context, url string) error
	// Cookies returns the cookies visible to the current document.
	Cookies() ([]Cookie, error)
	// Fetch runs an HTTP GET from inside the page's script context.
	Fetch(ctx context.Context, req FetchRequest) (*Response, error)
	// Closed reports whether the page has been closed or crashed.
	Closed() bool
	// Close closes the page.
	Close() error
}

// Cookie is a browser cookie, independent of the devtools protocol types.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"` // Unix seconds, 0 for session cookies
	Secure   bool    `json:"secure,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
}

// Expired reports whether a persistent cookie has passed its expiry at now.
func (c Cookie) Expired(now time.Time) bool {
	return c.Expires > 0 && float64(now.Unix()) >= c.Expires
}

// FetchRequest describes an in-context GET.
type FetchRequest struct {
	URL     string
	Headers map[string]string
}

// Response is what the page's fetch() observed.
type Response struct {
	URL         string
	Status      int
	ContentType string
	Body        []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}
