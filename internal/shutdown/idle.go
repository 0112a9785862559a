// Package shutdown signals the server to exit after a period without fetch traffic.
package shutdown

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultCheckInterval is how often the monitor looks for idleness.
const DefaultCheckInterval = 10 * time.Second

// IdleConfig configures an IdleMonitor.
type IdleConfig struct {
	// Timeout is how long the server may sit without tracked requests before
	// Done is closed. Zero or negative disables the monitor.
	Timeout time.Duration

	CheckInterval time.Duration

	// Ignore reports requests that should not count as activity.
	// Defaults to IsProbe.
	Ignore func(*http.Request) bool

	Logger *slog.Logger

	// Now is the clock (tests).
	Now func() time.Time
}

// IdleMonitor closes Done once no tracked request has been seen for Timeout
// and none is in flight.
type IdleMonitor struct {
	timeout  time.Duration
	interval time.Duration
	ignore   func(*http.Request) bool
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	inFlight int
	lastSeen time.Time

	done     chan struct{}
	doneOnce sync.Once
}

// NewIdleMonitor creates a monitor. It does nothing until Start.
func NewIdleMonitor(cfg IdleConfig) *IdleMonitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.Ignore == nil {
		cfg.Ignore = IsProbe
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &IdleMonitor{
		timeout:  cfg.Timeout,
		interval: cfg.CheckInterval,
		ignore:   cfg.Ignore,
		logger:   cfg.Logger,
		now:      cfg.Now,
		lastSeen: cfg.Now(),
		done:     make(chan struct{}),
	}
}

// Enabled reports whether the monitor will ever fire.
func (m *IdleMonitor) Enabled() bool {
	return m.timeout > 0
}

// Start watches for idleness until ctx is cancelled or Done fires.
func (m *IdleMonitor) Start(ctx context.Context) {
	if !m.Enabled() {
		m.logger.Info("idle shutdown disabled (set IDLE_TIMEOUT to enable)")
		return
	}
	m.logger.Info("idle shutdown armed", "timeout", m.timeout)

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if m.check() {
					return
				}
			}
		}
	}()
}

// check closes Done if the server is idle and reports whether it did.
func (m *IdleMonitor) check() bool {
	m.mu.Lock()
	idle := m.now().Sub(m.lastSeen)
	inFlight := m.inFlight
	m.mu.Unlock()

	if inFlight > 0 || idle < m.timeout {
		return false
	}
	m.logger.Info("no fetch traffic, signalling shutdown",
		"idle", idle.Round(time.Second),
		"timeout", m.timeout,
	)
	m.doneOnce.Do(func() { close(m.done) })
	return true
}

// Track records the start of r and returns the func that records its end.
// Ignored requests return a no-op.
func (m *IdleMonitor) Track(r *http.Request) func() {
	if m.ignore(r) {
		return func() {}
	}

	m.mu.Lock()
	m.inFlight++
	m.lastSeen = m.now()
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		m.inFlight--
		m.lastSeen = m.now()
		m.mu.Unlock()
	}
}

// Middleware tracks every request passing through it.
func (m *IdleMonitor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		end := m.Track(r)
		defer end()
		next.ServeHTTP(w, r)
	})
}

// Done is closed when the server has been idle for the configured timeout.
func (m *IdleMonitor) Done() <-chan struct{} {
	return m.done
}

// InFlight returns the number of tracked requests in progress.
func (m *IdleMonitor) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// IdleFor returns the time since the last tracked request started or ended.
func (m *IdleMonitor) IdleFor() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().Sub(m.lastSeen)
}

// IsProbe matches health probes and API docs, which do not keep the server alive.
func IsProbe(r *http.Request) bool {
	if strings.Contains(r.Header.Get("User-Agent"), "HealthCheck") {
		return true
	}
	switch p := r.URL.Path; {
	case p == "/health", p == "/healthz", p == "/readyz":
		return true
	case strings.HasPrefix(p, "/docs"), strings.HasPrefix(p, "/openapi"), strings.HasPrefix(p, "/schemas"):
		return true
	}
	return false
}
