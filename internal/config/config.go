// Package config provides configuration management for the gatefetch service.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultTargetOrigin is the origin of the protected JSON API.
const DefaultTargetOrigin = "https://www.nseindia.com"

// defaultWarmupPath is a lightweight page on the target that triggers cookie issuance.
const defaultWarmupPath = "/get-quotes/equity?symbol=HDFCBANK"

// Config holds all configuration for the gatefetch service.
type Config struct {
	// Server settings
	Port     int
	LogLevel string

	// Target site
	TargetOrigin string
	WarmupURL    string

	// Browser settings
	BrowserWSEndpoint  string // Remote browser (ws:// or http:// devtools endpoint)
	ChromePath         string
	BrowserNoSandbox   bool
	BrowserIdleTimeout time.Duration
	DisableStealth     bool

	// Session settings
	SessionTTL     time.Duration
	SessionMaxUses int

	// Fetch journal (empty path disables)
	JournalDBPath    string
	JournalRetention time.Duration

	// Fetch settings
	FetchMaxAttempts  int
	NavigationTimeout time.Duration
	NetworkIdleWait   time.Duration
	RequestTimeout    time.Duration

	// Authentication
	APISecret            string // HMAC secret for signed service headers
	JWTSecret            string // HS256 secret for bearer tokens
	AllowUnauthenticated bool

	// Server protection
	RateLimitPerMinute int
	IdleTimeout        time.Duration
}

// Load creates a Config from environment variables with sensible defaults.
func Load() *Config {
	origin := strings.TrimRight(getEnv("TARGET_ORIGIN", DefaultTargetOrigin), "/")

	return &Config{
		Port:                 getEnvInt("PORT", 8191),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		TargetOrigin:         origin,
		WarmupURL:            getEnv("WARMUP_URL", origin+defaultWarmupPath),
		BrowserWSEndpoint:    getEnv("BROWSER_WS_ENDPOINT", ""),
		ChromePath:           getEnv("CHROME_PATH", ""),
		BrowserNoSandbox:     getEnvBool("BROWSER_NO_SANDBOX", false),
		BrowserIdleTimeout:   getEnvDuration("BROWSER_IDLE_TIMEOUT", 5*time.Minute),
		DisableStealth:       getEnvBool("DISABLE_STEALTH", false),
		SessionTTL:           getEnvDuration("SESSION_TTL", 60*time.Second),
		SessionMaxUses:       getEnvInt("SESSION_MAX_USES", 10),
		JournalDBPath:        getEnv("JOURNAL_DB_PATH", ""),
		JournalRetention:     getEnvDuration("JOURNAL_RETENTION", 24*time.Hour),
		FetchMaxAttempts:     getEnvInt("FETCH_MAX_ATTEMPTS", 10),
		NavigationTimeout:    getEnvDuration("NAVIGATION_TIMEOUT", 30*time.Second),
		NetworkIdleWait:      getEnvDuration("NETWORK_IDLE_WAIT", 500*time.Millisecond),
		RequestTimeout:       getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		APISecret:            getEnv("API_SECRET", ""),
		JWTSecret:            getEnv("JWT_SECRET", ""),
		AllowUnauthenticated: getEnvBool("ALLOW_UNAUTHENTICATED", false),
		RateLimitPerMinute:   getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		IdleTimeout:          getEnvDuration("IDLE_TIMEOUT", 0),
	}
}

// AuthEnabled reports whether at least one authentication method is configured
// and unauthenticated access has not been forced.
func (c *Config) AuthEnabled() bool {
	return (c.APISecret != "" || c.JWTSecret != "") && !c.AllowUnauthenticated
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
