package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmylchreest/gatefetch/internal/browser"
	"github.com/jmylchreest/gatefetch/internal/browser/browsertest"
	"github.com/jmylchreest/gatefetch/internal/logging"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 9, 15, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingAgents struct {
	mu sync.Mutex
	n  int
}

func (a *countingAgents) Random() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.n++
	return fmt.Sprintf("Mozilla/5.0 test-agent/%d", a.n)
}

func newTestManager(t *testing.T, opts Options) (*Manager, *browsertest.Launcher, *browsertest.Site, *fakeClock) {
	t.Helper()
	site := browsertest.NewSite(
		browser.Cookie{Name: "nsit", Value: "abc"},
		browser.Cookie{Name: "bm_sv", Value: "xyz"},
	)
	launcher := browsertest.NewLauncher(site)
	clock := newFakeClock()

	if opts.WarmupURL == "" {
		opts.WarmupURL = "https://example.test/warmup"
	}
	if opts.UserAgents == nil {
		opts.UserAgents = &countingAgents{}
	}
	opts.Now = clock.Now

	m := NewManager(launcher, opts, logging.Discard())
	t.Cleanup(func() { _ = m.Close() })
	return m, launcher, site, clock
}

func TestManager_AcquireCredentials(t *testing.T) {
	t.Run("first call refreshes", func(t *testing.T) {
		m, launcher, site, _ := newTestManager(t, Options{})

		creds, err := m.AcquireCredentials(context.Background())
		if err != nil {
			t.Fatalf("AcquireCredentials() error: %v", err)
		}
		if creds.CookieHeader != "nsit=abc; bm_sv=xyz" {
			t.Errorf("CookieHeader = %q", creds.CookieHeader)
		}
		if creds.UserAgent != "Mozilla/5.0 test-agent/1" {
			t.Errorf("UserAgent = %q", creds.UserAgent)
		}
		if site.Navigations() != 1 {
			t.Errorf("navigations = %d, want 1", site.Navigations())
		}
		if launcher.Launches() != 1 {
			t.Errorf("launches = %d, want 1", launcher.Launches())
		}
		if got := m.Snapshot().UsedCount; got != 1 {
			t.Errorf("UsedCount = %d, want 1", got)
		}
		if ua := launcher.Last().Pages()[0].UserAgent(); ua != creds.UserAgent {
			t.Errorf("page user agent = %q, want %q", ua, creds.UserAgent)
		}
	})

	t.Run("cache hit within ttl and ceiling", func(t *testing.T) {
		m, _, site, clock := newTestManager(t, Options{})
		ctx := context.Background()

		first, err := m.AcquireCredentials(ctx)
		if err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Second)
		second, err := m.AcquireCredentials(ctx)
		if err != nil {
			t.Fatal(err)
		}

		if site.Navigations() != 1 {
			t.Errorf("navigations = %d, want 1", site.Navigations())
		}
		if first != second {
			t.Errorf("credentials changed on cache hit: %+v vs %+v", first, second)
		}
		if got := m.Snapshot().UsedCount; got != 2 {
			t.Errorf("UsedCount = %d, want 2", got)
		}
		if got := m.Stats().CacheHits; got != 1 {
			t.Errorf("CacheHits = %d, want 1", got)
		}
	})

	t.Run("usage ceiling forces one refresh", func(t *testing.T) {
		m, launcher, site, _ := newTestManager(t, Options{})
		ctx := context.Background()

		// uses 0..10 are valid, so eleven acquisitions share one navigation.
		for i := 0; i < DefaultMaxUses+1; i++ {
			if _, err := m.AcquireCredentials(ctx); err != nil {
				t.Fatal(err)
			}
		}
		if site.Navigations() != 1 {
			t.Fatalf("navigations = %d, want 1", site.Navigations())
		}
		if got := m.Snapshot().UsedCount; got != DefaultMaxUses+1 {
			t.Fatalf("UsedCount = %d, want %d", got, DefaultMaxUses+1)
		}

		creds, err := m.AcquireCredentials(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if site.Navigations() != 2 {
			t.Errorf("navigations = %d, want 2", site.Navigations())
		}
		if got := m.Snapshot().UsedCount; got != 1 {
			t.Errorf("UsedCount after refresh = %d, want 1", got)
		}
		if creds.UserAgent != "Mozilla/5.0 test-agent/2" {
			t.Errorf("refresh should rotate user agent, got %q", creds.UserAgent)
		}
		if launcher.Launches() != 1 {
			t.Errorf("connected browser should be reused, launches = %d", launcher.Launches())
		}
	})

	t.Run("expired session refreshes at zero uses", func(t *testing.T) {
		m, _, site, clock := newTestManager(t, Options{})
		ctx := context.Background()

		if _, err := m.AcquireCredentials(ctx); err != nil {
			t.Fatal(err)
		}
		m.mu.Lock()
		m.session.UsedCount = 0
		m.mu.Unlock()

		clock.Advance(DefaultTTL)
		if _, err := m.AcquireCredentials(ctx); err != nil {
			t.Fatal(err)
		}
		if site.Navigations() != 2 {
			t.Errorf("navigations = %d, want 2", site.Navigations())
		}
	})

	t.Run("relaunches disconnected browser", func(t *testing.T) {
		m, launcher, site, _ := newTestManager(t, Options{})
		ctx := context.Background()

		if _, err := m.AcquireCredentials(ctx); err != nil {
			t.Fatal(err)
		}
		first := launcher.Last()
		first.Disconnect()
		m.Invalidate()

		if _, err := m.AcquireCredentials(ctx); err != nil {
			t.Fatal(err)
		}
		if launcher.Launches() != 2 {
			t.Errorf("launches = %d, want 2", launcher.Launches())
		}
		if !first.IsClosed() {
			t.Error("disconnected browser should be closed")
		}
		if site.Navigations() != 2 {
			t.Errorf("navigations = %d, want 2", site.Navigations())
		}
		if got := m.Stats().BrowserDiscards; got != 1 {
			t.Errorf("BrowserDiscards = %d, want 1", got)
		}
	})

	t.Run("refresh closes the previous page", func(t *testing.T) {
		m, launcher, _, _ := newTestManager(t, Options{})
		ctx := context.Background()

		if _, err := m.AcquireCredentials(ctx); err != nil {
			t.Fatal(err)
		}
		m.Invalidate()
		if _, err := m.AcquireCredentials(ctx); err != nil {
			t.Fatal(err)
		}

		pages := launcher.Last().Pages()
		if len(pages) != 2 {
			t.Fatalf("pages = %d, want 2", len(pages))
		}
		if !pages[0].IsClosed() {
			t.Error("old page left open")
		}
		if m.CurrentPage() != browser.Page(pages[1]) {
			t.Error("current page is not the newest page")
		}
	})

	t.Run("navigation failure", func(t *testing.T) {
		m, launcher, site, _ := newTestManager(t, Options{})
		site.NavigateErr = errors.New("net::ERR_HTTP2_PROTOCOL_ERROR")

		_, err := m.AcquireCredentials(context.Background())
		var refreshErr *RefreshError
		if !errors.As(err, &refreshErr) || refreshErr.Stage != "navigate" {
			t.Fatalf("expected navigate RefreshError, got %v", err)
		}
		if !errors.Is(err, site.NavigateErr) {
			t.Error("RefreshError should wrap the navigation error")
		}
		if !launcher.Last().Pages()[0].IsClosed() {
			t.Error("page from failed refresh left open")
		}
		if m.CurrentPage() != nil {
			t.Error("failed refresh installed a page")
		}
		if got := m.Stats().FailedRefreshes; got != 1 {
			t.Errorf("FailedRefreshes = %d, want 1", got)
		}
	})

	t.Run("no cookies issued", func(t *testing.T) {
		m, _, site, _ := newTestManager(t, Options{})
		site.Cookies = nil

		_, err := m.AcquireCredentials(context.Background())
		if !errors.Is(err, ErrNoCookies) {
			t.Fatalf("expected ErrNoCookies, got %v", err)
		}
	})

	t.Run("launch failure", func(t *testing.T) {
		m, launcher, _, _ := newTestManager(t, Options{})
		launcher.LaunchErr = errors.New("chromium not found")

		_, err := m.AcquireCredentials(context.Background())
		var refreshErr *RefreshError
		if !errors.As(err, &refreshErr) || refreshErr.Stage != "launch" {
			t.Fatalf("expected launch RefreshError, got %v", err)
		}
	})

	t.Run("closed manager", func(t *testing.T) {
		m, _, _, _ := newTestManager(t, Options{})
		if err := m.Close(); err != nil {
			t.Fatal(err)
		}
		if _, err := m.AcquireCredentials(context.Background()); !errors.Is(err, ErrManagerClosed) {
			t.Errorf("expected ErrManagerClosed, got %v", err)
		}
	})

	t.Run("cancelled waiter", func(t *testing.T) {
		m, _, site, _ := newTestManager(t, Options{})
		site.NavigateDelay = 200 * time.Millisecond

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if _, err := m.AcquireCredentials(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}

		// The detached refresh still completes for later callers.
		if _, err := m.AcquireCredentials(context.Background()); err != nil {
			t.Fatal(err)
		}
		if site.Navigations() != 1 {
			t.Errorf("navigations = %d, want 1", site.Navigations())
		}
	})
}

func TestManager_ConcurrentAcquisitionsShareRefresh(t *testing.T) {
	m, launcher, site, _ := newTestManager(t, Options{MaxUses: 100})
	site.NavigateDelay = 50 * time.Millisecond

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	headers := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			creds, err := m.AcquireCredentials(context.Background())
			if err != nil {
				errs <- err
				return
			}
			headers <- creds.CookieHeader
		}()
	}
	wg.Wait()
	close(errs)
	close(headers)

	for err := range errs {
		t.Errorf("AcquireCredentials() error: %v", err)
	}
	for h := range headers {
		if h != "nsit=abc; bm_sv=xyz" {
			t.Errorf("header = %q", h)
		}
	}
	if site.Navigations() != 1 {
		t.Errorf("navigations = %d, want 1", site.Navigations())
	}
	if launcher.Launches() != 1 {
		t.Errorf("launches = %d, want 1", launcher.Launches())
	}
	if got := m.Snapshot().UsedCount; got != callers {
		t.Errorf("UsedCount = %d, want %d", got, callers)
	}
}

func TestManager_ConcurrentAcquisitionsRespectCeiling(t *testing.T) {
	m, _, site, _ := newTestManager(t, Options{})
	site.NavigateDelay = 50 * time.Millisecond

	const callers = 25
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	agents := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			creds, err := m.AcquireCredentials(context.Background())
			if err != nil {
				errs <- err
				return
			}
			agents <- creds.UserAgent
		}()
	}
	wg.Wait()
	close(errs)
	close(agents)

	for err := range errs {
		t.Errorf("AcquireCredentials() error: %v", err)
	}

	// Each refresh gets its own agent, so agents identify sessions.
	perSession := make(map[string]int)
	total := 0
	for ua := range agents {
		perSession[ua]++
		total++
	}
	if total != callers {
		t.Fatalf("got %d credentials, want %d", total, callers)
	}
	for ua, n := range perSession {
		if n > DefaultMaxUses+1 {
			t.Errorf("session %q handed out %d times, ceiling allows %d", ua, n, DefaultMaxUses+1)
		}
	}
	if min := (callers + DefaultMaxUses) / (DefaultMaxUses + 1); site.Navigations() < min {
		t.Errorf("navigations = %d, want at least %d", site.Navigations(), min)
	}
	if got := m.Snapshot().UsedCount; got > DefaultMaxUses+1 {
		t.Errorf("UsedCount = %d, exceeds ceiling", got)
	}
}

func TestManager_MaxUses(t *testing.T) {
	tests := []struct {
		configured int
		want       int
	}{
		{0, DefaultMaxUses},
		{-3, DefaultMaxUses},
		{4, 4},
	}
	for _, tt := range tests {
		m, _, _, _ := newTestManager(t, Options{MaxUses: tt.configured})
		if got := m.MaxUses(); got != tt.want {
			t.Errorf("MaxUses() with %d configured = %d, want %d", tt.configured, got, tt.want)
		}
	}
}

func TestManager_Invalidate(t *testing.T) {
	m, launcher, site, _ := newTestManager(t, Options{})
	ctx := context.Background()

	if _, err := m.AcquireCredentials(ctx); err != nil {
		t.Fatal(err)
	}
	m.Invalidate()

	if m.Snapshot().CookieHeader != "" {
		t.Error("Invalidate should clear the cookie header")
	}
	if launcher.Last().IsClosed() {
		t.Error("Invalidate should not close the browser")
	}
	if m.CurrentPage() == nil {
		t.Error("Invalidate should not drop the page")
	}

	if _, err := m.AcquireCredentials(ctx); err != nil {
		t.Fatal(err)
	}
	if site.Navigations() != 2 {
		t.Errorf("navigations = %d, want 2", site.Navigations())
	}
	if got := m.Stats().Invalidations; got != 1 {
		t.Errorf("Invalidations = %d, want 1", got)
	}
}

func TestManager_CurrentPage(t *testing.T) {
	m, launcher, _, _ := newTestManager(t, Options{})

	if m.CurrentPage() != nil {
		t.Fatal("CurrentPage() before first acquisition should be nil")
	}
	if _, err := m.AcquireCredentials(context.Background()); err != nil {
		t.Fatal(err)
	}
	if m.CurrentPage() == nil {
		t.Fatal("CurrentPage() = nil after refresh")
	}

	launcher.Last().Pages()[0].Crash()
	if m.CurrentPage() != nil {
		t.Error("crashed page should not be returned")
	}
	if m.Stats().HasPage {
		t.Error("crashed page reference should be cleared")
	}
}

func TestManager_DiscardPage(t *testing.T) {
	cause := errors.New("unexpected token < in JSON")

	t.Run("connected browser is kept", func(t *testing.T) {
		m, launcher, _, _ := newTestManager(t, Options{})
		if _, err := m.AcquireCredentials(context.Background()); err != nil {
			t.Fatal(err)
		}
		page := m.CurrentPage()

		m.DiscardPage(page, cause)

		if m.CurrentPage() != nil {
			t.Error("page reference should be cleared")
		}
		if m.Snapshot().CookieHeader != "" {
			t.Error("session should be invalidated")
		}
		if !launcher.Last().Pages()[0].IsClosed() {
			t.Error("page should be closed")
		}
		if launcher.Last().IsClosed() {
			t.Error("connected browser should be kept")
		}
		st := m.Stats()
		if st.PageDiscards != 1 || st.BrowserDiscards != 0 {
			t.Errorf("stats = %+v", st)
		}
	})

	t.Run("disconnected browser is dropped", func(t *testing.T) {
		m, launcher, _, _ := newTestManager(t, Options{})
		if _, err := m.AcquireCredentials(context.Background()); err != nil {
			t.Fatal(err)
		}
		page := m.CurrentPage()
		launcher.Last().Disconnect()

		m.DiscardPage(page, cause)

		if !launcher.Last().IsClosed() {
			t.Error("disconnected browser should be closed")
		}
		if got := m.Stats().BrowserDiscards; got != 1 {
			t.Errorf("BrowserDiscards = %d, want 1", got)
		}
	})

	t.Run("stale page leaves current page alone", func(t *testing.T) {
		m, _, _, _ := newTestManager(t, Options{})
		ctx := context.Background()
		if _, err := m.AcquireCredentials(ctx); err != nil {
			t.Fatal(err)
		}
		stale := m.CurrentPage()
		m.Invalidate()
		if _, err := m.AcquireCredentials(ctx); err != nil {
			t.Fatal(err)
		}
		current := m.CurrentPage()

		m.DiscardPage(stale, cause)

		if m.CurrentPage() != current {
			t.Error("discarding a stale page cleared the current one")
		}
		if got := m.Stats().PageDiscards; got != 0 {
			t.Errorf("PageDiscards = %d, want 0", got)
		}
	})
}

func TestManager_EndToEndClock(t *testing.T) {
	m, _, site, clock := newTestManager(t, Options{TTL: 60 * time.Second, MaxUses: 10})
	ctx := context.Background()

	// t=0
	if _, err := m.AcquireCredentials(ctx); err != nil {
		t.Fatal(err)
	}
	if site.Navigations() != 1 || m.Snapshot().UsedCount != 1 {
		t.Fatalf("t=0: navigations=%d used=%d", site.Navigations(), m.Snapshot().UsedCount)
	}

	// t=1
	clock.Advance(time.Second)
	if _, err := m.AcquireCredentials(ctx); err != nil {
		t.Fatal(err)
	}
	if site.Navigations() != 1 || m.Snapshot().UsedCount != 2 {
		t.Fatalf("t=1: navigations=%d used=%d", site.Navigations(), m.Snapshot().UsedCount)
	}

	// t=61
	clock.Advance(60 * time.Second)
	if _, err := m.AcquireCredentials(ctx); err != nil {
		t.Fatal(err)
	}
	if site.Navigations() != 2 || m.Snapshot().UsedCount != 1 {
		t.Fatalf("t=61: navigations=%d used=%d", site.Navigations(), m.Snapshot().UsedCount)
	}
}

func TestManager_ReleaseIdle(t *testing.T) {
	m, launcher, _, clock := newTestManager(t, Options{IdleTimeout: 5 * time.Minute})
	if _, err := m.AcquireCredentials(context.Background()); err != nil {
		t.Fatal(err)
	}

	clock.Advance(time.Minute)
	if m.releaseIdle() {
		t.Fatal("released before idle timeout")
	}

	clock.Advance(5 * time.Minute)
	if !m.releaseIdle() {
		t.Fatal("expected idle release")
	}
	if !launcher.Last().IsClosed() {
		t.Error("idle browser should be closed")
	}
	if m.Snapshot().CookieHeader != "" {
		t.Error("session should be invalidated with its browser")
	}

	if _, err := m.AcquireCredentials(context.Background()); err != nil {
		t.Fatal(err)
	}
	if launcher.Launches() != 2 {
		t.Errorf("launches = %d, want 2", launcher.Launches())
	}
}

func TestManager_Close(t *testing.T) {
	m, launcher, _, _ := newTestManager(t, Options{})
	if _, err := m.AcquireCredentials(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if !launcher.Last().IsClosed() {
		t.Error("browser should be closed")
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}
