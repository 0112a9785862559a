// Package fetch runs authenticated GETs against the protected API from inside
// the session's browser page, recovering from rejected sessions and crashed
// browsers by discarding state and retrying.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/jmylchreest/gatefetch/internal/browser"
	"github.com/jmylchreest/gatefetch/internal/challenge"
	"github.com/jmylchreest/gatefetch/internal/journal"
	"github.com/jmylchreest/gatefetch/internal/logging"
	"github.com/jmylchreest/gatefetch/internal/session"
)

// DefaultMaxAttempts bounds the retry loop.
const DefaultMaxAttempts = 10

// Sessions is the subset of *session.Manager the executor drives.
type Sessions interface {
	AcquireCredentials(ctx context.Context) (session.Credentials, error)
	Invalidate()
	CurrentPage() browser.Page
	DiscardPage(page browser.Page, cause error)
}

// Recorder receives one entry per Fetch call.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Options configures an Executor.
type Options struct {
	// Origin restricts fetches to one scheme://host[:port]. Relative URLs
	// resolve against it. Empty allows any http(s) URL.
	Origin string
	// WarmupURL is sent as Referer.
	WarmupURL string
	// MaxAttempts defaults to DefaultMaxAttempts.
	MaxAttempts int
	// Recorder is optional.
	Recorder Recorder
	// Detector defaults to challenge.NewDetector().
	Detector *challenge.Detector
}

// Result is a successful call.
type Result struct {
	URL      string          `json:"url"`
	Status   int             `json:"status"`
	Attempts int             `json:"attempts"`
	Duration time.Duration   `json:"duration"`
	Data     json.RawMessage `json:"data"`
}

// Executor performs fetches through a session manager.
type Executor struct {
	sessions    Sessions
	origin      *url.URL
	headers     map[string]string
	maxAttempts int
	recorder    Recorder
	detector    *challenge.Detector
	logger      *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(sessions Sessions, opts Options, logger *slog.Logger) (*Executor, error) {
	e := &Executor{
		sessions:    sessions,
		maxAttempts: opts.MaxAttempts,
		recorder:    opts.Recorder,
		detector:    opts.Detector,
		logger:      logger,
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = DefaultMaxAttempts
	}
	if e.detector == nil {
		e.detector = challenge.NewDetector()
	}

	origin := ""
	if opts.Origin != "" {
		u, err := url.Parse(opts.Origin)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("invalid origin %q", opts.Origin)
		}
		e.origin = &url.URL{Scheme: u.Scheme, Host: u.Host}
		origin = e.origin.String()
	}
	e.headers = baseHeaders(origin, opts.WarmupURL)
	return e, nil
}

// MaxAttempts returns the retry bound.
func (e *Executor) MaxAttempts() int {
	return e.maxAttempts
}

// Fetch GETs rawURL and decodes the JSON body into T. It fails with an
// *ExhaustedError once every attempt failed, or immediately on a fatal error.
func Fetch[T any](ctx context.Context, e *Executor, rawURL string) (T, error) {
	var out T
	_, err := e.do(ctx, rawURL, func(body []byte) error {
		var v T
		if err := json.Unmarshal(body, &v); err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// FetchRaw GETs rawURL and returns the body once it is valid JSON.
func (e *Executor) FetchRaw(ctx context.Context, rawURL string) (*Result, error) {
	var data json.RawMessage
	res, err := e.do(ctx, rawURL, func(body []byte) error {
		return json.Unmarshal(body, &data)
	})
	if err != nil {
		return nil, err
	}
	res.Data = data
	return res, nil
}

type attemptKind int

const (
	attemptOK attemptKind = iota
	attemptRetry
	attemptFatal
)

type attemptResult struct {
	kind   attemptKind
	status int
	page   browser.Page
	err    error
}

func (e *Executor) do(ctx context.Context, rawURL string, decode func([]byte) error) (res *Result, err error) {
	logger := logging.FromContext(ctx, e.logger)
	start := time.Now()
	entry := journal.Entry{URL: rawURL, RequestID: logging.GetRequestID(ctx)}
	defer func() {
		entry.Duration = time.Since(start)
		e.record(ctx, logger, entry, err)
	}()

	target, err := e.resolve(rawURL)
	if err != nil {
		return nil, err
	}
	entry.URL = target

	var last error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		entry.Attempts = attempt
		r := e.attempt(ctx, target, decode)
		entry.Status = r.status

		switch r.kind {
		case attemptOK:
			if attempt > 1 {
				logger.Info("fetch recovered", "url", target, "attempts", attempt)
			}
			return &Result{
				URL:      target,
				Status:   r.status,
				Attempts: attempt,
				Duration: time.Since(start),
			}, nil
		case attemptFatal:
			return nil, r.err
		}

		last = r.err
		logger.Debug("fetch attempt failed", "url", target, "attempt", attempt, "error", r.err)

		e.sessions.DiscardPage(r.page, r.err)
	}

	logger.Warn("fetch attempts exhausted", "url", target, "attempts", e.maxAttempts, "error", last)
	return nil, &ExhaustedError{Attempts: e.maxAttempts, URL: target, Err: last}
}

// attempt runs one try and reports its outcome as a kind.
func (e *Executor) attempt(ctx context.Context, target string, decode func([]byte) error) attemptResult {
	if err := ctx.Err(); err != nil {
		return attemptResult{kind: attemptFatal, err: err}
	}

	// Only the page seen here may be discarded on a session failure; a
	// concurrent refresh can install a newer one meanwhile.
	seen := e.sessions.CurrentPage()
	if seen == nil {
		e.sessions.Invalidate()
	}

	creds, err := e.sessions.AcquireCredentials(ctx)
	if err != nil {
		return e.failure(ctx, seen, 0, &SessionError{Err: err})
	}

	page := e.sessions.CurrentPage()
	if page == nil {
		return e.failure(ctx, seen, 0, &SessionError{Err: browser.ErrPageClosed})
	}

	resp, err := page.Fetch(ctx, browser.FetchRequest{
		URL:     target,
		Headers: requestHeaders(e.headers, creds),
	})
	if err != nil {
		return e.failure(ctx, page, 0, &TransientError{URL: target, Err: err})
	}

	if !resp.OK() {
		det := e.detector.Classify(resp)
		return e.failure(ctx, page, resp.Status, &TransientError{
			URL:       target,
			Status:    resp.Status,
			Challenge: det.Type,
			Err:       ErrStatus,
		})
	}

	if err := decode(resp.Body); err != nil {
		det := e.detector.Classify(resp)
		return e.failure(ctx, page, resp.Status, &TransientError{
			URL:       target,
			Status:    resp.Status,
			Challenge: det.Type,
			Err:       fmt.Errorf("decode response: %w", err),
		})
	}

	return attemptResult{kind: attemptOK, status: resp.Status, page: page}
}

// failure decides whether err ends the call or earns another attempt.
func (e *Executor) failure(ctx context.Context, page browser.Page, status int, err error) attemptResult {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return attemptResult{kind: attemptFatal, status: status, page: page, err: ctxErr}
	}
	if errors.Is(err, session.ErrManagerClosed) {
		return attemptResult{kind: attemptFatal, status: status, page: page, err: err}
	}
	return attemptResult{kind: attemptRetry, status: status, page: page, err: err}
}

// resolve validates rawURL against the origin. Relative URLs resolve against it.
func (e *Executor) resolve(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if !u.IsAbs() {
		if e.origin == nil || !strings.HasPrefix(rawURL, "/") {
			return "", fmt.Errorf("%w: %q is not absolute", ErrInvalidURL, rawURL)
		}
		u = e.origin.ResolveReference(u)
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	if e.origin != nil && (!strings.EqualFold(u.Scheme, e.origin.Scheme) || !strings.EqualFold(u.Host, e.origin.Host)) {
		return "", fmt.Errorf("%w: %s", ErrOffOrigin, u.Host)
	}
	return u.String(), nil
}

func (e *Executor) record(ctx context.Context, logger *slog.Logger, entry journal.Entry, err error) {
	if e.recorder == nil {
		return
	}

	switch {
	case err == nil:
		entry.Outcome = journal.OutcomeOK
	case errors.Is(err, ErrExhausted):
		entry.Outcome = journal.OutcomeExhausted
		entry.Error = err.Error()
	default:
		entry.Outcome = journal.OutcomeFatal
		entry.Error = err.Error()
	}

	// The caller's context may already be cancelled; the record still belongs in the journal.
	if recErr := e.recorder.Record(context.WithoutCancel(ctx), entry); recErr != nil {
		logger.Warn("failed to record fetch", "url", entry.URL, "error", recErr)
	}
}
