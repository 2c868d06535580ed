// Package middleware provides the HTTP authentication and
// authorization chain: Bearer extraction, token verification, tenant
// context resolution, and role gating.
//
// Every failure on this path answers with a generic message. The real
// reason goes to the audit trail only; a 401/403 body must not tell a
// caller whether it failed on signature, expiry, role, or tenant.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/luminate-bi/authcore/pkg/audit"
	"github.com/luminate-bi/authcore/pkg/contextkeys"
	"github.com/luminate-bi/authcore/pkg/directory"
	"github.com/luminate-bi/authcore/pkg/httputil"
	"github.com/luminate-bi/authcore/pkg/observability"
	"github.com/luminate-bi/authcore/pkg/tenant"
	"github.com/luminate-bi/authcore/pkg/token"
)

const unauthorizedMessage = "authentication required, please log in again"

// Verifier validates raw access tokens. Implemented by token.Verifier.
type Verifier interface {
	Verify(ctx context.Context, raw string) (*token.VerifiedToken, error)
}

// Authenticator verifies the Bearer token on every request and attaches
// the resolved tenant context.
type Authenticator struct {
	verifier Verifier
	// dir enables strict mode: the token's role claim is re-checked
	// against the directory and capped at the recorded role.
	dir     directory.Store
	audit   audit.Recorder
	metrics *observability.Metrics
}

// AuthOption customizes an Authenticator.
type AuthOption func(*Authenticator)

// WithStrictRoleCheck re-validates role claims against the directory.
func WithStrictRoleCheck(dir directory.Store) AuthOption {
	return func(a *Authenticator) { a.dir = dir }
}

// WithAudit wires the audit recorder.
func WithAudit(rec audit.Recorder) AuthOption {
	return func(a *Authenticator) { a.audit = rec }
}

// WithMetrics wires verification metrics.
func WithMetrics(m *observability.Metrics) AuthOption {
	return func(a *Authenticator) { a.metrics = m }
}

// NewAuthenticator creates the authentication middleware.
func NewAuthenticator(verifier Verifier, opts ...AuthOption) *Authenticator {
	a := &Authenticator{verifier: verifier}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler wraps next with authentication. On success the request
// context carries the verified token and resolved tenant context.
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			a.reject(w, r, "missing or malformed authorization header")
			return
		}

		vt, err := a.verifier.Verify(r.Context(), raw)
		if err != nil {
			a.recordVerification("failure")
			observability.FromContext(r.Context()).WithError(err).Debug("token verification failed")
			a.reject(w, r, err.Error())
			return
		}

		tc, err := tenant.Resolve(vt)
		if err != nil {
			a.recordVerification("failure")
			a.reject(w, r, err.Error())
			return
		}

		if a.dir != nil && !tc.CrossTenant {
			if err := a.applyRecordedRole(r.Context(), tc); err != nil {
				a.recordVerification("failure")
				a.reject(w, r, err.Error())
				return
			}
		}

		a.recordVerification("success")
		ctx := contextkeys.WithToken(r.Context(), vt)
		ctx = contextkeys.WithTenant(ctx, tc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// applyRecordedRole caps the token's role at the role the directory
// records for the user in this organization. A user with no recorded
// membership is rejected outright.
func (a *Authenticator) applyRecordedRole(ctx context.Context, tc *tenant.Context) error {
	recorded, err := a.dir.RecordedRole(ctx, tc.UserID, tc.OrganizationID)
	if err != nil {
		if errors.Is(err, directory.ErrNotMember) {
			return err
		}
		// Directory outage: fall back to the verified claim rather than
		// locking every tenant out.
		observability.FromContext(ctx).WithError(err).
			Warn("directory unavailable, trusting token role claim")
		return nil
	}
	if !recorded.AtLeast(tc.Role) {
		tc.Role = recorded
		tc.CrossTenant = recorded == tenant.RoleSuperAdmin
	}
	return nil
}

func (a *Authenticator) reject(w http.ResponseWriter, r *http.Request, internalReason string) {
	if a.audit != nil {
		a.audit.Record(audit.Event{
			EventType: audit.EventTypeTokenValidateFail,
			Status:    audit.EventStatusFailure,
			RequestID: contextkeys.GetRequestID(r.Context()),
			IPAddress: r.RemoteAddr,
			Method:    r.Method,
			Path:      r.URL.Path,
			Reason:    internalReason,
			Message:   "token validation failed",
		})
	}
	httputil.WriteUnauthorized(w, unauthorizedMessage)
}

func (a *Authenticator) recordVerification(outcome string) {
	if a.metrics != nil {
		a.metrics.TokenVerificationsTotal.WithLabelValues(outcome).Inc()
	}
}

// bearerToken extracts the Bearer credential from the Authorization
// header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// TenantFromRequest extracts the resolved tenant context set by the
// Authenticator. Returns nil when the request is unauthenticated.
func TenantFromRequest(r *http.Request) *tenant.Context {
	return TenantFromContext(r.Context())
}

// TenantFromContext extracts the resolved tenant context.
func TenantFromContext(ctx context.Context) *tenant.Context {
	tc, _ := ctx.Value(contextkeys.TenantKey).(*tenant.Context)
	return tc
}
