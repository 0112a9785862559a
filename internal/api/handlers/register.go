package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/gatefetch/internal/http/mw"
	"github.com/jmylchreest/gatefetch/internal/models"
)

// Set groups the handlers served behind authentication.
type Set struct {
	Fetch   *FetchHandler
	Session *SessionHandler
	Fetches *FetchesHandler
}

// RegisterPublic registers endpoints that never require credentials.
func RegisterPublic(api huma.API, health *HealthHandler) {
	mw.PublicGet(api, "/health", func(ctx context.Context, _ *struct{}) (*models.HumaHealthResponse, error) {
		return &models.HumaHealthResponse{Body: *health.Handle(ctx)}, nil
	},
		mw.WithOperationID("health"),
		mw.WithSummary("Health check"),
		mw.WithDescription("Returns service health and session manager counters"),
		mw.WithTags("Health"),
	)
}

// Register registers the protected API.
func Register(api huma.API, s Set) {
	mw.ProtectedPost(api, "/v1/fetch", func(ctx context.Context, in *models.HumaFetchRequest) (*models.HumaFetchResponse, error) {
		resp, status := s.Fetch.Handle(ctx, &in.Body)
		return &models.HumaFetchResponse{Status: status, Body: *resp}, nil
	},
		mw.WithOperationID("fetch"),
		mw.WithSummary("Fetch JSON"),
		mw.WithDescription("GETs a URL on the target origin from inside the browser session, retrying with fresh pages on failure"),
		mw.WithTags("Fetch"),
		mw.WithScope(mw.ScopeFetch),
	)

	mw.ProtectedGet(api, "/v1/fetch", func(ctx context.Context, in *models.HumaFetchQuery) (*models.HumaFetchResponse, error) {
		resp, status := s.Fetch.Handle(ctx, &models.FetchRequest{URL: in.URL, MaxTimeout: in.MaxTimeout})
		return &models.HumaFetchResponse{Status: status, Body: *resp}, nil
	},
		mw.WithOperationID("fetchQuery"),
		mw.WithSummary("Fetch JSON (query form)"),
		mw.WithTags("Fetch"),
		mw.WithScope(mw.ScopeFetch),
	)

	mw.ProtectedGet(api, "/v1/session", func(ctx context.Context, _ *struct{}) (*models.HumaSessionResponse, error) {
		return &models.HumaSessionResponse{Body: *s.Session.Get(ctx)}, nil
	},
		mw.WithOperationID("getSession"),
		mw.WithSummary("Current session"),
		mw.WithDescription("Returns the shared session with cookie values masked"),
		mw.WithTags("Session"),
	)

	mw.ProtectedDelete(api, "/v1/session", func(ctx context.Context, _ *struct{}) (*models.HumaSessionResponse, error) {
		return &models.HumaSessionResponse{Body: *s.Session.Invalidate(ctx)}, nil
	},
		mw.WithOperationID("invalidateSession"),
		mw.WithSummary("Invalidate session"),
		mw.WithDescription("Forces the next fetch to open a new page and collect fresh cookies"),
		mw.WithTags("Session"),
		mw.WithScope(mw.ScopeSessionWrite),
	)

	mw.ProtectedGet(api, "/v1/fetches", func(ctx context.Context, in *models.HumaFetchesQuery) (*models.HumaFetchesResponse, error) {
		resp, err := s.Fetches.List(ctx, in)
		if err != nil {
			return nil, err
		}
		return &models.HumaFetchesResponse{Body: *resp}, nil
	},
		mw.WithOperationID("listFetches"),
		mw.WithSummary("Recent fetches"),
		mw.WithDescription("Lists journaled fetch outcomes and a 24 hour summary"),
		mw.WithTags("Journal"),
	)
}
