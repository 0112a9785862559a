package handlers

import (
	"context"
	"time"

	"github.com/jmylchreest/gatefetch/internal/models"
	"github.com/jmylchreest/gatefetch/internal/session"
	"github.com/jmylchreest/gatefetch/internal/version"
)

// StatsSource reports session manager counters.
type StatsSource interface {
	Stats() session.Stats
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	sessions StatsSource
	started  time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(sessions StatsSource) *HealthHandler {
	return &HealthHandler{sessions: sessions, started: time.Now()}
}

// Handle returns the health status.
func (h *HealthHandler) Handle(ctx context.Context) *models.HealthResponse {
	return &models.HealthResponse{
		Status:  "healthy",
		Version: version.Get().Version,
		Session: h.sessions.Stats(),
		Uptime:  int64(time.Since(h.started).Seconds()),
	}
}
