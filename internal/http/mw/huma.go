package mw

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// OperationMetadataKey is a key in huma.Operation.Metadata.
type OperationMetadataKey string

// MetaKeyRequireScope names the scope a caller needs for an operation.
const MetaKeyRequireScope OperationMetadataKey = "requireScope"

// Scopes understood by the service.
const (
	ScopeFetch        = "fetch"
	ScopeSessionWrite = "session:write"
)

// SecurityScheme is the OpenAPI security scheme name for protected operations.
const SecurityScheme = "gatewayAuth"

// OperationOption is a function that modifies an operation.
type OperationOption func(*huma.Operation)

// WithScope marks the operation as requiring scope.
func WithScope(scope string) OperationOption {
	return func(op *huma.Operation) {
		if op.Metadata == nil {
			op.Metadata = make(map[string]any)
		}
		op.Metadata[string(MetaKeyRequireScope)] = scope
	}
}

// WithTags adds tags to the operation.
func WithTags(tags ...string) OperationOption {
	return func(op *huma.Operation) {
		op.Tags = append(op.Tags, tags...)
	}
}

// WithSummary sets the operation summary.
func WithSummary(summary string) OperationOption {
	return func(op *huma.Operation) {
		op.Summary = summary
	}
}

// WithDescription sets the operation description.
func WithDescription(desc string) OperationOption {
	return func(op *huma.Operation) {
		op.Description = desc
	}
}

// WithOperationID sets a custom operation ID.
func WithOperationID(id string) OperationOption {
	return func(op *huma.Operation) {
		op.OperationID = id
	}
}

// PublicGet registers a GET endpoint that needs no credentials.
func PublicGet[I, O any](api huma.API, path string, handler func(ctx context.Context, input *I) (*O, error), opts ...OperationOption) {
	register(api, huma.Operation{Method: http.MethodGet, Path: path}, handler, opts)
}

// ProtectedGet registers a GET endpoint behind Auth.
func ProtectedGet[I, O any](api huma.API, path string, handler func(ctx context.Context, input *I) (*O, error), opts ...OperationOption) {
	register(api, protected(http.MethodGet, path), handler, opts)
}

// ProtectedPost registers a POST endpoint behind Auth.
func ProtectedPost[I, O any](api huma.API, path string, handler func(ctx context.Context, input *I) (*O, error), opts ...OperationOption) {
	register(api, protected(http.MethodPost, path), handler, opts)
}

// ProtectedDelete registers a DELETE endpoint behind Auth.
func ProtectedDelete[I, O any](api huma.API, path string, handler func(ctx context.Context, input *I) (*O, error), opts ...OperationOption) {
	register(api, protected(http.MethodDelete, path), handler, opts)
}

func protected(method, path string) huma.Operation {
	return huma.Operation{
		Method:   method,
		Path:     path,
		Security: []map[string][]string{{SecurityScheme: {}}},
	}
}

func register[I, O any](api huma.API, op huma.Operation, handler func(ctx context.Context, input *I) (*O, error), opts []OperationOption) {
	for _, opt := range opts {
		opt(&op)
	}
	huma.Register(api, op, handler)
}

// HumaRequireScope enforces WithScope metadata. Requests that carry no claims
// passed through a router without Auth, so scopes do not apply to them.
func HumaRequireScope(api huma.API) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		op := ctx.Operation()
		if op == nil || op.Metadata == nil {
			next(ctx)
			return
		}
		scope, _ := op.Metadata[string(MetaKeyRequireScope)].(string)
		if scope == "" {
			next(ctx)
			return
		}

		claims := GetClientClaims(ctx.Context())
		if claims == nil || claims.HasScope(scope) {
			next(ctx)
			return
		}
		_ = huma.WriteErr(api, ctx, http.StatusForbidden, "missing scope "+scope)
	}
}
