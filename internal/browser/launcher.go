package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/oklog/ulid/v2"
)

// Options configures how browsers are obtained.
type Options struct {
	// RemoteURL attaches to an externally managed browser instead of launching
	// one. Accepts a ws:// debugger URL or an http:// devtools endpoint.
	RemoteURL string
	// ChromePath overrides the local browser binary. Empty means rod's managed Chromium.
	ChromePath string
	// NoSandbox disables the Chrome sandbox for local launches (containers without user namespaces).
	NoSandbox bool
	// DisableStealth opens plain pages instead of stealth pages.
	DisableStealth bool

	NavigationTimeout time.Duration
	NetworkIdleWait   time.Duration
	RequestTimeout    time.Duration
}

// RodLauncher launches or connects Chromium through go-rod.
type RodLauncher struct {
	opts   Options
	logger *slog.Logger
}

// NewLauncher creates a RodLauncher.
func NewLauncher(opts Options, logger *slog.Logger) *RodLauncher {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	if opts.NetworkIdleWait <= 0 {
		opts.NetworkIdleWait = 500 * time.Millisecond
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &RodLauncher{opts: opts, logger: logger}
}

// Remote reports whether browsers come from an external endpoint.
func (l *RodLauncher) Remote() bool {
	return l.opts.RemoteURL != ""
}

// Warmup makes sure a local Chromium is available so the first refresh does
// not stall on a download. It is a no-op for remote browsers.
func (l *RodLauncher) Warmup() error {
	switch {
	case l.Remote():
		l.logger.Info("using remote browser", "endpoint", redactEndpoint(l.opts.RemoteURL))
	case l.opts.ChromePath != "":
		l.logger.Info("using custom Chrome path", "path", l.opts.ChromePath)
	default:
		l.logger.Info("ensuring Chromium is available...")
		path, err := launcher.NewBrowser().Get()
		if err != nil {
			return fmt.Errorf("download chromium: %w", err)
		}
		l.logger.Info("Chromium ready", "path", path)
	}
	return nil
}

// Launch returns a connected browser handle.
func (l *RodLauncher) Launch(ctx context.Context) (Browser, error) {
	var (
		controlURL string
		local      *launcher.Launcher
		err        error
	)

	if l.Remote() {
		controlURL, err = resolveRemote(l.opts.RemoteURL)
		if err != nil {
			return nil, fmt.Errorf("resolve remote browser: %w", err)
		}
	} else {
		local = l.localLauncher()
		controlURL, err = local.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
	}

	// The connection outlives the caller's ctx; it is torn down by Close.
	connCtx, cancel := context.WithCancel(context.Background())
	b := rod.New().Context(connCtx).ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		cancel()
		if local != nil {
			local.Kill()
		}
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	handle := &rodBrowser{
		id:       ulid.Make().String(),
		root:     b,
		browser:  b,
		launcher: local,
		cancel:   cancel,
		opts:     l.opts,
	}

	// A shared remote browser is isolated in its own context so closing the
	// handle disposes our cookies and pages without killing the browser.
	if l.Remote() {
		incognito, err := b.Incognito()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("create browser context: %w", err)
		}
		handle.browser = incognito
	}

	l.logger.Info("browser created", "id", handle.id, "remote", l.Remote())
	return handle, nil
}

func (l *RodLauncher) localLauncher() *launcher.Launcher {
	ln := launcher.New()
	if l.opts.ChromePath != "" {
		ln = ln.Bin(l.opts.ChromePath)
	}

	return ln.
		Headless(true).
		NoSandbox(l.opts.NoSandbox).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("disable-infobars").
		Set("disable-extensions").
		Set("disable-background-networking").
		Set("disable-background-timer-throttling").
		Set("disable-renderer-backgrounding").
		Set("window-size", "1920,1080").
		Set("lang", "en-US,en")
}

// resolveRemote turns an http devtools endpoint into its websocket debugger
// URL. Websocket URLs are used as given.
func resolveRemote(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws", "wss":
		return endpoint, nil
	case "http", "https", "":
		return launcher.ResolveURL(endpoint)
	default:
		return "", fmt.Errorf("unsupported browser endpoint scheme %q", u.Scheme)
	}
}

// redactEndpoint hides query tokens (browserless-style ?token=...) in logs.
func redactEndpoint(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i] + "?****"
	}
	return endpoint
}

type rodBrowser struct {
	id       string
	root     *rod.Browser
	browser  *rod.Browser
	launcher *launcher.Launcher
	cancel   context.CancelFunc
	opts     Options
}

func (b *rodBrowser) ID() string { return b.id }

func (b *rodBrowser) NewPage(ctx context.Context) (Page, error) {
	page, err := CreatePage(b.browser.Context(ctx), b.opts.DisableStealth)
	if err != nil {
		return nil, pageError(err, b.Connected())
	}
	// Detach the page from the creating call's ctx.
	return &rodPage{page: page.Context(context.Background()), opts: b.opts}, nil
}

// pageError marks a failed page creation on a dead browser with
// ErrBrowserDisconnected.
func pageError(err error, connected bool) error {
	if connected {
		return err
	}
	return fmt.Errorf("%w: %w", ErrBrowserDisconnected, err)
}

func (b *rodBrowser) Connected() bool {
	_, err := b.root.Version()
	return err == nil
}

func (b *rodBrowser) Close() error {
	err := b.browser.Close()
	b.cancel()
	if b.launcher != nil {
		b.launcher.Kill()
		b.launcher.Cleanup()
	}
	return err
}
