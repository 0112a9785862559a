// Package mw contains HTTP middleware for the gatefetch service.
package mw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmylchreest/gatefetch/internal/logging"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// ClientClaimsKey is the context key for client claims.
	ClientClaimsKey ContextKey = "client_claims"
)

// maxSignedBody caps how much of a request body is read for signature checks.
const maxSignedBody = 1 << 20

// Auth sources.
const (
	SourceSigned = "signed"
	SourceJWT    = "jwt"
)

// ClientClaims identifies the caller, whichever way it authenticated.
type ClientClaims struct {
	ClientID string
	Scopes   []string
	Source   string // SourceSigned | SourceJWT
}

// HasScope reports whether the client was granted scope. Signed callers are trusted
// services and hold every scope.
func (c *ClientClaims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	if c.Source == SourceSigned {
		return true
	}
	return slices.Contains(c.Scopes, scope)
}

// GetClientClaims retrieves client claims from context.
func GetClientClaims(ctx context.Context) *ClientClaims {
	claims, ok := ctx.Value(ClientClaimsKey).(*ClientClaims)
	if !ok {
		return nil
	}
	return claims
}

// TokenClaims is the payload of an HS256 bearer token.
type TokenClaims struct {
	Scope string `json:"scope,omitempty"` // Space separated
	jwt.RegisteredClaims
}

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	// APISecret enables X-Gateway-* signed headers (optional).
	APISecret string

	// JWTSecret enables HS256 bearer tokens (optional).
	JWTSecret string

	// Issuer, if set, must match the token's iss claim.
	Issuer string

	// Logger for auth events
	Logger *slog.Logger
}

// Auth returns authentication middleware that supports:
// 1. HMAC signed headers (if APISecret is set)
// 2. HS256 bearer tokens (if JWTSecret is set)
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	var signer *Signer
	if cfg.APISecret != "" {
		signer = NewSigner(cfg.APISecret)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var claims *ClientClaims

			// Signed headers first (internal service-to-service)
			if signer != nil && r.Header.Get(HeaderSignature) != "" {
				c, err := validateSignedHeaders(r, signer)
				if err != nil {
					logger.Debug("signed header validation failed", "error", err)
					writeAuthError(w, err)
					return
				}
				claims = c
			}

			// Fall back to bearer tokens
			if claims == nil && cfg.JWTSecret != "" {
				authHeader := r.Header.Get("Authorization")
				if authHeader == "" {
					writeAuthError(w, ErrMissingCredentials)
					return
				}

				token := strings.TrimPrefix(authHeader, "Bearer ")
				c, err := validateToken(token, cfg.JWTSecret, cfg.Issuer)
				if err != nil {
					logger.Debug("JWT validation failed", "error", err)
					writeAuthError(w, err)
					return
				}
				claims = c
			}

			if claims == nil {
				writeAuthError(w, ErrMissingCredentials)
				return
			}

			ctx := context.WithValue(r.Context(), ClientClaimsKey, claims)
			ctx = logging.WithClientID(ctx, claims.ClientID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validateSignedHeaders checks the X-Gateway-* headers. The body is read for
// hashing and restored for the next handler.
func validateSignedHeaders(r *http.Request, signer *Signer) (*ClientClaims, error) {
	h := SignatureHeaders{
		Signature: r.Header.Get(HeaderSignature),
		Timestamp: r.Header.Get(HeaderTimestamp),
		ClientID:  r.Header.Get(HeaderClientID),
	}
	if h.Timestamp == "" || h.ClientID == "" {
		return nil, ErrMissingCredentials
	}

	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
		if err != nil {
			return nil, err
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	if err := signer.Verify(h, r.Method, r.URL.RequestURI(), body); err != nil {
		return nil, err
	}
	return &ClientClaims{ClientID: h.ClientID, Source: SourceSigned}, nil
}

// validateToken parses an HS256 token into ClientClaims.
func validateToken(tokenString, secret, issuer string) (*ClientClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	var tc TokenClaims
	_, err := jwt.ParseWithClaims(tokenString, &tc, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, &AuthError{Message: "invalid token", Err: err}
	}
	if tc.Subject == "" {
		return nil, &AuthError{Message: "token has no subject"}
	}

	return &ClientClaims{
		ClientID: tc.Subject,
		Scopes:   strings.Fields(tc.Scope),
		Source:   SourceJWT,
	}, nil
}

// writeAuthError writes a 401 JSON body.
func writeAuthError(w http.ResponseWriter, err error) {
	msg := "unauthorized"
	var authErr *AuthError
	if errors.As(err, &authErr) {
		msg = authErr.Message
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Errors
var (
	ErrMissingCredentials = &AuthError{Message: "missing credentials"}
	ErrInvalidTimestamp   = &AuthError{Message: "invalid timestamp"}
	ErrTimestampExpired   = &AuthError{Message: "timestamp expired"}
	ErrInvalidSignature   = &AuthError{Message: "invalid signature"}
	ErrTokenExpired       = &AuthError{Message: "token expired"}
)

// AuthError represents an authentication error.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
