package models

import (
	"encoding/json"
	"time"

	"github.com/jmylchreest/gatefetch/internal/journal"
	"github.com/jmylchreest/gatefetch/internal/session"
)

// Response status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// FetchResponse is returned by the fetch endpoints.
type FetchResponse struct {
	Status         string          `json:"status"`  // "ok" | "error"
	Message        string          `json:"message"` // Human-readable message
	URL            string          `json:"url,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`           // Upstream JSON body (on success)
	ResponseStatus int             `json:"responseStatus,omitempty"` // Upstream HTTP status
	Attempts       int             `json:"attempts"`
	StartTimestamp int64           `json:"startTimestamp"` // Unix timestamp ms
	EndTimestamp   int64           `json:"endTimestamp"`   // Unix timestamp ms
	Version        string          `json:"version"`

	// Failure details
	ErrorKind     string `json:"errorKind,omitempty"`     // "exhausted" | "invalid_url" | "cancelled" | ...
	ChallengeType string `json:"challengeType,omitempty"` // Classification of the last rejected response

	RequestID string `json:"requestId,omitempty"`
}

// HumaFetchResponse wraps FetchResponse for Huma API.
type HumaFetchResponse struct {
	Status int
	Body   FetchResponse
}

// SessionResponse describes the shared session.
type SessionResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Session session.Session `json:"session"` // Cookie values masked
	Valid   bool            `json:"valid"`
	Stats   session.Stats   `json:"stats"`
	Version string          `json:"version"`
}

// HumaSessionResponse wraps SessionResponse for Huma API.
type HumaSessionResponse struct {
	Body SessionResponse
}

// FetchesResponse lists journal entries.
type FetchesResponse struct {
	Entries []journal.Entry `json:"entries"`
	Summary journal.Summary `json:"summary"` // Last 24h
	Version string          `json:"version"`
}

// HumaFetchesResponse wraps FetchesResponse for Huma API.
type HumaFetchesResponse struct {
	Body FetchesResponse
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status  string        `json:"status"`
	Version string        `json:"version"`
	Session session.Stats `json:"session"`
	Uptime  int64         `json:"uptimeSeconds"`
}

// HumaHealthResponse wraps HealthResponse for Huma API.
type HumaHealthResponse struct {
	Body HealthResponse
}

// NewErrorResponse creates an error response.
func NewErrorResponse(message, kind string, start, end time.Time, version, requestID string) *FetchResponse {
	return &FetchResponse{
		Status:         StatusError,
		Message:        message,
		ErrorKind:      kind,
		StartTimestamp: start.UnixMilli(),
		EndTimestamp:   end.UnixMilli(),
		Version:        version,
		RequestID:      requestID,
	}
}

// NewSuccessResponse creates a success response carrying data.
func NewSuccessResponse(url string, status, attempts int, data json.RawMessage, start, end time.Time, version, requestID string) *FetchResponse {
	return &FetchResponse{
		Status:         StatusOK,
		Message:        "Fetched successfully",
		URL:            url,
		Data:           data,
		ResponseStatus: status,
		Attempts:       attempts,
		StartTimestamp: start.UnixMilli(),
		EndTimestamp:   end.UnixMilli(),
		Version:        version,
		RequestID:      requestID,
	}
}
