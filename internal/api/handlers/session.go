package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmylchreest/gatefetch/internal/logging"
	"github.com/jmylchreest/gatefetch/internal/models"
	"github.com/jmylchreest/gatefetch/internal/session"
	"github.com/jmylchreest/gatefetch/internal/version"
)

// SessionView is the part of the session manager exposed over HTTP.
type SessionView interface {
	Snapshot() session.Session
	Stats() session.Stats
	MaxUses() int
	Invalidate()
}

// SessionHandler reports on and resets the shared session.
type SessionHandler struct {
	sessions SessionView
	now      func() time.Time
	logger   *slog.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(sessions SessionView, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		now:      time.Now,
		logger:   logger,
	}
}

// Get returns the current session with cookie values masked.
func (h *SessionHandler) Get(ctx context.Context) *models.SessionResponse {
	snap := h.sessions.Snapshot()
	return &models.SessionResponse{
		Status:  models.StatusOK,
		Session: snap.Masked(),
		Valid:   snap.Valid(h.now(), h.sessions.MaxUses()),
		Stats:   h.sessions.Stats(),
		Version: version.Get().Version,
	}
}

// Invalidate forces the next fetch to refresh the session.
func (h *SessionHandler) Invalidate(ctx context.Context) *models.SessionResponse {
	h.sessions.Invalidate()
	logging.FromContext(ctx, h.logger).Info("session invalidated via API")

	resp := h.Get(ctx)
	resp.Message = "Session invalidated"
	return resp
}
