// Package browsertest provides an in-memory browser.Launcher for tests.
//
// A Site holds the behaviour shared by every page (issued cookies, fetch
// responses) and counts navigations and fetches so tests can assert on the
// refresh path without a real Chromium.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmylchreest/gatefetch/internal/browser"
)

// Handler answers the n-th (1-based) in-context fetch.
type Handler func(n int, req browser.FetchRequest) (*browser.Response, error)

// Site is the fake target website.
type Site struct {
	mu sync.Mutex

	// Cookies are issued on every navigation.
	Cookies []browser.Cookie
	// NavigateErr, if set, fails every navigation.
	NavigateErr error
	// NavigateDelay slows navigations down to widen race windows.
	NavigateDelay time.Duration
	// Handler answers fetches. Nil answers `{}` with 200.
	Handler Handler

	navigations int
	fetches     int
	agents      []string
	lastFetch   browser.FetchRequest
}

// NewSite returns a Site issuing the given cookies.
func NewSite(cookies ...browser.Cookie) *Site {
	return &Site{Cookies: cookies}
}

// Navigations returns how many navigations happened.
func (s *Site) Navigations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.navigations
}

// Fetches returns how many in-context fetches happened.
func (s *Site) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

// UserAgents returns the agents set on pages, in order.
func (s *Site) UserAgents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.agents...)
}

// LastFetch returns the most recent fetch request.
func (s *Site) LastFetch() browser.FetchRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFetch
}

// JSON builds a JSON response.
func JSON(status int, body string) *browser.Response {
	return &browser.Response{Status: status, ContentType: "application/json", Body: []byte(body)}
}

// Launcher is a browser.Launcher backed by a Site.
type Launcher struct {
	Site *Site
	// LaunchErr, if set, fails every launch.
	LaunchErr error

	mu       sync.Mutex
	browsers []*Browser
}

// NewLauncher returns a Launcher for site.
func NewLauncher(site *Site) *Launcher {
	return &Launcher{Site: site}
}

// Launch implements browser.Launcher.
func (l *Launcher) Launch(ctx context.Context) (browser.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	b := &Browser{id: fmt.Sprintf("fake-%d", len(l.browsers)+1), site: l.Site}
	l.browsers = append(l.browsers, b)
	return b, nil
}

// Launches returns how many browsers were created.
func (l *Launcher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.browsers)
}

// Last returns the most recently launched browser, or nil.
func (l *Launcher) Last() *Browser {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.browsers) == 0 {
		return nil
	}
	return l.browsers[len(l.browsers)-1]
}

// Browser is a fake browser handle.
type Browser struct {
	id   string
	site *Site

	mu           sync.Mutex
	disconnected bool
	closed       bool
	pages        []*Page
}

// ID implements browser.Browser.
func (b *Browser) ID() string { return b.id }

// NewPage implements browser.Browser.
func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disconnected || b.closed {
		return nil, browser.ErrBrowserDisconnected
	}
	p := &Page{site: b.site, owner: b}
	b.pages = append(b.pages, p)
	return p, nil
}

// Connected implements browser.Browser.
func (b *Browser) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.disconnected && !b.closed
}

// Close implements browser.Browser.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Disconnect simulates a crashed browser process.
func (b *Browser) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnected = true
}

// IsClosed reports whether Close was called.
func (b *Browser) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Pages returns every page opened on this browser.
func (b *Browser) Pages() []*Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Page(nil), b.pages...)
}

func (b *Browser) alive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.disconnected && !b.closed
}

// Page is a fake browsing context.
type Page struct {
	site  *Site
	owner *Browser

	mu      sync.Mutex
	closed  bool
	ua      string
	url     string
	visited bool
}

// SetUserAgent implements browser.Page.
func (p *Page) SetUserAgent(userAgent string) error {
	if p.Closed() {
		return browser.ErrPageClosed
	}
	p.mu.Lock()
	p.ua = userAgent
	p.mu.Unlock()

	p.site.mu.Lock()
	p.site.agents = append(p.site.agents, userAgent)
	p.site.mu.Unlock()
	return nil
}

// Navigate implements browser.Page.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if p.Closed() {
		return browser.ErrPageClosed
	}

	p.site.mu.Lock()
	p.site.navigations++
	delay, navErr := p.site.NavigateDelay, p.site.NavigateErr
	p.site.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if navErr != nil {
		return navErr
	}

	p.mu.Lock()
	p.url = url
	p.visited = true
	p.mu.Unlock()
	return nil
}

// Cookies implements browser.Page. A page holds the site's issued cookies
// once it has navigated.
func (p *Page) Cookies() ([]browser.Cookie, error) {
	if p.Closed() {
		return nil, browser.ErrPageClosed
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.visited {
		return nil, nil
	}
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	return append([]browser.Cookie(nil), p.site.Cookies...), nil
}

// Fetch implements browser.Page.
func (p *Page) Fetch(ctx context.Context, req browser.FetchRequest) (*browser.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Closed() {
		return nil, browser.ErrPageClosed
	}

	p.site.mu.Lock()
	p.site.fetches++
	n := p.site.fetches
	p.site.lastFetch = req
	handler := p.site.Handler
	p.site.mu.Unlock()

	if handler == nil {
		return JSON(200, `{}`), nil
	}
	resp, err := handler(n, req)
	if resp != nil && resp.URL == "" {
		resp.URL = req.URL
	}
	return resp, err
}

// Closed implements browser.Page. A page whose browser died is closed too.
func (p *Page) Closed() bool {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	return closed || !p.owner.alive()
}

// Close implements browser.Page.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("page already closed")
	}
	p.closed = true
	return nil
}

// Crash marks the page closed without going through Close.
func (p *Page) Crash() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// IsClosed reports the page's own closed flag.
func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// UserAgent returns the agent set on the page.
func (p *Page) UserAgent() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ua
}
