package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/gatefetch/internal/journal"
	"github.com/jmylchreest/gatefetch/internal/models"
	"github.com/jmylchreest/gatefetch/internal/version"
)

// JournalReader reads the fetch journal.
type JournalReader interface {
	Recent(ctx context.Context, limit int, outcome journal.Outcome) ([]journal.Entry, error)
	Summarize(ctx context.Context, since time.Time) (journal.Summary, error)
}

// FetchesHandler lists recorded fetches.
type FetchesHandler struct {
	journal JournalReader
}

// NewFetchesHandler creates a handler. A nil journal makes every call a 404.
func NewFetchesHandler(j JournalReader) *FetchesHandler {
	return &FetchesHandler{journal: j}
}

// List returns recent entries and a 24h summary.
func (h *FetchesHandler) List(ctx context.Context, q *models.HumaFetchesQuery) (*models.FetchesResponse, error) {
	if h.journal == nil {
		return nil, huma.Error404NotFound("fetch journal is disabled (set JOURNAL_DB_PATH)")
	}

	outcome := journal.Outcome(q.Outcome)
	switch outcome {
	case "", journal.OutcomeOK, journal.OutcomeExhausted, journal.OutcomeFatal:
	default:
		return nil, huma.Error400BadRequest("outcome must be one of ok, exhausted, fatal")
	}

	entries, err := h.journal.Recent(ctx, q.Limit, outcome)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to read journal", err)
	}
	summary, err := h.journal.Summarize(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to summarize journal", err)
	}

	return &models.FetchesResponse{
		Entries: entries,
		Summary: summary,
		Version: version.Get().Version,
	}, nil
}
