// Package handlers provides HTTP handlers for the gatefetch API.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmylchreest/gatefetch/internal/fetch"
	"github.com/jmylchreest/gatefetch/internal/logging"
	"github.com/jmylchreest/gatefetch/internal/models"
	"github.com/jmylchreest/gatefetch/internal/session"
	"github.com/jmylchreest/gatefetch/internal/version"
)

// Error kinds reported in FetchResponse.ErrorKind.
const (
	KindInvalidURL  = "invalid_url"
	KindOffOrigin   = "off_origin"
	KindExhausted   = "exhausted"
	KindTimeout     = "timeout"
	KindCancelled   = "cancelled"
	KindUnavailable = "unavailable"
	KindInternal    = "internal"
)

// Fetcher performs a resilient fetch.
type Fetcher interface {
	FetchRaw(ctx context.Context, rawURL string) (*fetch.Result, error)
}

// FetchHandler handles fetch requests.
type FetchHandler struct {
	fetcher        Fetcher
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// NewFetchHandler creates a new fetch handler. defaultTimeout bounds requests
// that carry no maxTimeout; zero leaves them unbounded.
func NewFetchHandler(fetcher Fetcher, defaultTimeout time.Duration, logger *slog.Logger) *FetchHandler {
	return &FetchHandler{
		fetcher:        fetcher,
		defaultTimeout: defaultTimeout,
		logger:         logger,
	}
}

// Handle processes a fetch request and returns the body and HTTP status to send.
func (h *FetchHandler) Handle(ctx context.Context, req *models.FetchRequest) (*models.FetchResponse, int) {
	start := time.Now()
	ver := version.Get().Version
	requestID := logging.GetRequestID(ctx)
	logger := logging.FromContext(ctx, h.logger)

	logger.Info("fetch request received",
		"url", req.URL,
		"max_timeout", req.MaxTimeout,
	)

	timeout := h.defaultTimeout
	if req.MaxTimeout > 0 {
		timeout = time.Duration(req.MaxTimeout) * time.Millisecond
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := h.fetcher.FetchRaw(ctx, req.URL)
	if err != nil {
		kind, status := classifyError(err)
		resp := models.NewErrorResponse(err.Error(), kind, start, time.Now(), ver, requestID)
		resp.URL = req.URL

		var exhausted *fetch.ExhaustedError
		if errors.As(err, &exhausted) {
			resp.Attempts = exhausted.Attempts
			resp.URL = exhausted.URL
		}
		var transient *fetch.TransientError
		if errors.As(err, &transient) {
			resp.ResponseStatus = transient.Status
			resp.ChallengeType = string(transient.Challenge)
		}

		logger.Warn("fetch failed",
			"url", req.URL,
			"kind", kind,
			"attempts", resp.Attempts,
			"challenge", resp.ChallengeType,
			"error", err,
		)
		return resp, status
	}

	logger.Info("fetch completed",
		"url", res.URL,
		"status", res.Status,
		"attempts", res.Attempts,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return models.NewSuccessResponse(res.URL, res.Status, res.Attempts, res.Data, start, time.Now(), ver, requestID), http.StatusOK
}

// classifyError maps an executor error to an error kind and HTTP status.
func classifyError(err error) (string, int) {
	switch {
	case errors.Is(err, fetch.ErrInvalidURL):
		return KindInvalidURL, http.StatusBadRequest
	case errors.Is(err, fetch.ErrOffOrigin):
		return KindOffOrigin, http.StatusBadRequest
	case errors.Is(err, fetch.ErrExhausted):
		return KindExhausted, http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout, http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled, http.StatusServiceUnavailable
	case errors.Is(err, session.ErrManagerClosed):
		return KindUnavailable, http.StatusServiceUnavailable
	default:
		return KindInternal, http.StatusInternalServerError
	}
}
