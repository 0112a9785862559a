// Package models defines API request and response types.
package models

// FetchRequest asks the service to GET a URL on the protected origin.
type FetchRequest struct {
	URL        string `json:"url" doc:"Absolute URL on the target origin, or a path relative to it" minLength:"1"`
	MaxTimeout int    `json:"maxTimeout,omitempty" doc:"Max time in ms for all attempts (default: server request timeout)" minimum:"0"`
}

// HumaFetchRequest wraps FetchRequest for Huma API.
type HumaFetchRequest struct {
	Body FetchRequest
}

// HumaFetchQuery is the GET form of FetchRequest.
type HumaFetchQuery struct {
	URL        string `query:"url" required:"true" doc:"Absolute URL on the target origin, or a path relative to it"`
	MaxTimeout int    `query:"maxTimeout" doc:"Max time in ms for all attempts"`
}

// HumaFetchesQuery filters journal entries.
type HumaFetchesQuery struct {
	Limit   int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	Outcome string `query:"outcome" doc:"Only entries with this outcome"`
}
