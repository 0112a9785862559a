package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jmylchreest/gatefetch/internal/browser"
)

var (
	// ErrManagerClosed is returned once Close has been called.
	ErrManagerClosed = errors.New("session manager is closed")
	// ErrNoCookies is returned when the warmup navigation issued no cookies.
	ErrNoCookies = errors.New("warmup navigation issued no cookies")
)

// RefreshError reports which refresh stage failed.
type RefreshError struct {
	Stage string // launch, page, user-agent, navigate, cookies
	Err   error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("session refresh (%s): %v", e.Stage, e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// UserAgentSource yields a fresh user agent per refresh.
type UserAgentSource interface {
	Random() string
}

// Options configures a Manager.
type Options struct {
	// WarmupURL is the lightweight target page whose navigation mints cookies.
	WarmupURL string
	// TTL is the fixed validity window of a refreshed session.
	TTL time.Duration
	// MaxUses is the usage ceiling of a session.
	MaxUses int
	// IdleTimeout closes the browser after this long without acquisitions. Zero disables.
	IdleTimeout time.Duration
	// CleanupInterval is the idle check period. Defaults to one minute.
	CleanupInterval time.Duration
	// UserAgents generates agents. Required.
	UserAgents UserAgentSource
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Stats counts manager activity.
type Stats struct {
	Refreshes        int64 `json:"refreshes"`
	FailedRefreshes  int64 `json:"failedRefreshes"`
	CacheHits        int64 `json:"cacheHits"`
	Invalidations    int64 `json:"invalidations"`
	BrowserLaunches  int64 `json:"browserLaunches"`
	PageDiscards     int64 `json:"pageDiscards"`
	BrowserDiscards  int64 `json:"browserDiscards"`
	BrowserConnected bool  `json:"browserConnected"`
	HasPage          bool  `json:"hasPage"`
}

// Manager owns the browser handle, the current page and the session.
//
// All state sits behind mu. Refreshes are collapsed with singleflight so that
// concurrent callers finding the session invalid trigger one navigation.
type Manager struct {
	launcher browser.Launcher
	opts     Options
	logger   *slog.Logger
	group    singleflight.Group

	mu       sync.Mutex
	session  Session
	browser  browser.Browser
	page     browser.Page
	lastUsed time.Time
	closed   bool
	stats    Stats
}

// NewManager creates a Manager. No browser is started until the first acquisition.
func NewManager(launcher browser.Launcher, opts Options, logger *slog.Logger) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxUses <= 0 {
		opts.MaxUses = DefaultMaxUses
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		launcher: launcher,
		opts:     opts,
		logger:   logger,
	}
}

// AcquireCredentials returns the cookie header and user agent to attach to
// the next request, refreshing the session through the browser when it is
// missing, expired, or over its usage ceiling.
func (m *Manager) AcquireCredentials(ctx context.Context) (Credentials, error) {
	refreshed := false
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return Credentials{}, ErrManagerClosed
		}
		now := m.opts.Now()
		m.lastUsed = now
		if m.session.Valid(now, m.opts.MaxUses) {
			creds := m.takeLocked()
			if !refreshed {
				m.stats.CacheHits++
			}
			m.mu.Unlock()
			return creds, nil
		}
		invalidated := refreshed && m.session.CookieHeader == ""
		m.mu.Unlock()

		if invalidated {
			// The caller's retry loop handles it.
			return Credentials{}, &RefreshError{Stage: "cookies", Err: errors.New("session invalidated during refresh")}
		}

		// A session used up by the callers that shared the previous refresh
		// sends the rest around again, so no session outlives its ceiling.
		if err := m.awaitRefresh(ctx); err != nil {
			return Credentials{}, err
		}
		refreshed = true
	}
}

// awaitRefresh joins or starts the shared refresh. The refresh runs detached
// from any one caller so a cancelled waiter does not fail the others.
func (m *Manager) awaitRefresh(ctx context.Context) error {
	ch := m.group.DoChan("refresh", func() (any, error) {
		return nil, m.refresh(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) takeLocked() Credentials {
	m.session.UsedCount++
	return Credentials{CookieHeader: m.session.CookieHeader, UserAgent: m.session.UserAgent}
}

// refresh mints a new session: new agent, new page on a live browser,
// warmup navigation, cookie capture.
func (m *Manager) refresh(ctx context.Context) (err error) {
	start := m.opts.Now()
	defer func() {
		if err != nil {
			m.mu.Lock()
			m.stats.FailedRefreshes++
			m.mu.Unlock()
			m.logger.Warn("session refresh failed", "error", err)
		}
	}()

	userAgent := m.opts.UserAgents.Random()

	b, err := m.ensureBrowser(ctx)
	if err != nil {
		return &RefreshError{Stage: "launch", Err: err}
	}

	page, err := b.NewPage(ctx)
	if err != nil {
		m.dropBrowserIfDead(b)
		return &RefreshError{Stage: "page", Err: err}
	}

	fail := func(stage string, err error) error {
		_ = page.Close()
		m.dropBrowserIfDead(b)
		return &RefreshError{Stage: stage, Err: err}
	}

	if err := page.SetUserAgent(userAgent); err != nil {
		return fail("user-agent", err)
	}
	if err := page.Navigate(ctx, m.opts.WarmupURL); err != nil {
		return fail("navigate", err)
	}
	cookies, err := page.Cookies()
	if err != nil {
		return fail("cookies", err)
	}

	now := m.opts.Now()
	header := CookieHeader(cookies, now)
	if header == "" {
		return fail("cookies", ErrNoCookies)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = page.Close()
		return ErrManagerClosed
	}
	old := m.page
	m.page = page
	m.session = Session{
		CookieHeader: header,
		UserAgent:    userAgent,
		UsedCount:    0,
		ExpiresAt:    now.Add(m.opts.TTL),
	}
	m.stats.Refreshes++
	m.mu.Unlock()

	if old != nil && old != page {
		_ = old.Close()
	}

	m.logger.Info("session refreshed",
		"browser", b.ID(),
		"cookies", len(cookies),
		"duration", now.Sub(start),
		"expires_at", now.Add(m.opts.TTL),
	)
	return nil
}

// ensureBrowser reuses a connected browser or creates a new one.
func (m *Manager) ensureBrowser(ctx context.Context) (browser.Browser, error) {
	m.mu.Lock()
	b := m.browser
	m.mu.Unlock()

	if b != nil {
		if b.Connected() {
			return b, nil
		}
		m.dropBrowserIfDead(b)
	}

	b, err := m.launcher.Launch(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		_ = b.Close()
		return nil, ErrManagerClosed
	}
	m.browser = b
	m.stats.BrowserLaunches++
	return b, nil
}

// dropBrowserIfDead forgets and closes b when it no longer answers.
func (m *Manager) dropBrowserIfDead(b browser.Browser) {
	if b == nil || b.Connected() {
		return
	}

	m.mu.Lock()
	if m.browser == b {
		m.browser = nil
		m.page = nil
		m.stats.BrowserDiscards++
	}
	m.mu.Unlock()

	if err := b.Close(); err != nil {
		m.logger.Debug("error closing disconnected browser", "id", b.ID(), "error", err)
	}
	m.logger.Info("discarded disconnected browser", "id", b.ID())
}

// Invalidate forces the next acquisition down the refresh path. The browser
// is left running.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.CookieHeader != "" {
		m.stats.Invalidations++
	}
	m.session.CookieHeader = ""
}

// CurrentPage returns the live current page, or nil when there is none or it
// has been closed underneath us.
func (m *Manager) CurrentPage() browser.Page {
	m.mu.Lock()
	page := m.page
	m.mu.Unlock()

	if page == nil {
		return nil
	}
	if page.Closed() {
		m.mu.Lock()
		if m.page == page {
			m.page = nil
		}
		m.mu.Unlock()
		return nil
	}
	return page
}

// DiscardPage is the failure path of a request made on page: if it is still
// current the page is closed and forgotten and the session invalidated. The
// browser handle is dropped only if it reports itself disconnected.
func (m *Manager) DiscardPage(page browser.Page, cause error) {
	m.mu.Lock()
	current := page != nil && m.page == page
	if current {
		m.page = nil
		m.session.CookieHeader = ""
		m.stats.PageDiscards++
	}
	b := m.browser
	m.mu.Unlock()

	if current {
		if err := page.Close(); err != nil {
			m.logger.Debug("error closing page", "error", err)
		}
		m.logger.Debug("page discarded", "cause", cause)
	}
	m.dropBrowserIfDead(b)
}

// MaxUses returns the effective usage ceiling after defaults.
func (m *Manager) MaxUses() int {
	return m.opts.MaxUses
}

// Snapshot returns a copy of the current session.
func (m *Manager) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Stats returns activity counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	stats := m.stats
	b := m.browser
	stats.HasPage = m.page != nil
	m.mu.Unlock()

	stats.BrowserConnected = b != nil && b.Connected()
	return stats
}

// StartCleanup closes the browser once it has been idle for IdleTimeout.
// It blocks until ctx is done.
func (m *Manager) StartCleanup(ctx context.Context) {
	if m.opts.IdleTimeout <= 0 {
		return
	}

	ticker := time.NewTicker(m.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.releaseIdle()
		}
	}
}

// releaseIdle closes page and browser when nothing acquired credentials for
// IdleTimeout. The session is invalidated with them since it has no page left.
func (m *Manager) releaseIdle() bool {
	m.mu.Lock()
	if m.closed || m.browser == nil || m.opts.Now().Sub(m.lastUsed) < m.opts.IdleTimeout {
		m.mu.Unlock()
		return false
	}
	b, page, idle := m.browser, m.page, m.opts.Now().Sub(m.lastUsed)
	m.browser, m.page = nil, nil
	m.session.CookieHeader = ""
	m.mu.Unlock()

	m.logger.Info("closing idle browser", "id", b.ID(), "idle_time", idle)
	if page != nil {
		_ = page.Close()
	}
	if err := b.Close(); err != nil {
		m.logger.Warn("error closing browser", "id", b.ID(), "error", err)
	}
	return true
}

// Close releases the page and the browser. Further acquisitions fail.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	b, page := m.browser, m.page
	m.browser, m.page = nil, nil
	m.session = Session{}
	m.mu.Unlock()

	m.logger.Info("closing session manager...")
	if page != nil {
		_ = page.Close()
	}
	if b != nil {
		return b.Close()
	}
	return nil
}
