// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage
// discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// TenantKey contains the resolved *tenant.Context
	// Set by: middleware.Authenticator (pkg/middleware/auth.go)
	// Required by: role middleware, flag evaluation, all protected handlers
	TenantKey Key = "tenant_context"

	// TokenKey contains the *token.VerifiedToken the tenant context was
	// derived from.
	// Set by: middleware.Authenticator
	TokenKey Key = "verified_token"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: logger, audit trail
	RequestIDKey Key = "request_id"

	// LoggerKey contains the request-scoped *observability.Logger
	// Set by: httputil.LoggingMiddleware
	LoggerKey Key = "logger"
)

// WithTenant adds the resolved tenant context. Stored as interface{} to
// keep this package dependency-free; middleware owns the typed getter.
func WithTenant(ctx context.Context, tc interface{}) context.Context {
	return context.WithValue(ctx, TenantKey, tc)
}

// WithToken adds the verified token.
func WithToken(ctx context.Context, vt interface{}) context.Context {
	return context.WithValue(ctx, TokenKey, vt)
}

// WithRequestID adds the request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger adds the request logger.
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves the request ID from context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
