package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/luminate-bi/authcore/pkg/audit"
	"github.com/luminate-bi/authcore/pkg/contextkeys"
	"github.com/luminate-bi/authcore/pkg/httputil"
	"github.com/luminate-bi/authcore/pkg/middleware"
	"github.com/luminate-bi/authcore/pkg/observability"
	"github.com/luminate-bi/authcore/pkg/session"
	"github.com/luminate-bi/authcore/pkg/tenant"
)

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// handleRefresh exchanges a refresh token for a new token pair.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		httputil.WriteBadRequest(w, "refresh_token is required")
		return
	}

	pair, err := s.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		status := audit.EventStatusFailure
		switch {
		case errors.Is(err, session.ErrRefreshDenied):
			// Forces full re-authentication on the client.
			status = audit.EventStatusDenied
			httputil.WriteUnauthorized(w, "session expired, please log in again")
		case errors.Is(err, session.ErrExchangeFailed):
			httputil.WriteServiceUnavailable(w, "authentication service unavailable")
		default:
			// Unverifiable token from the provider or claim problems.
			status = audit.EventStatusDenied
			httputil.WriteUnauthorized(w, "session expired, please log in again")
		}
		s.recordAudit(r, audit.Event{
			EventType: audit.EventTypeSessionRefreshFail,
			Status:    status,
			Reason:    err.Error(),
			Message:   "session refresh failed",
		}, nil)
		observability.FromContext(r.Context()).WithError(err).Warn("session refresh failed")
		return
	}
	s.recordAudit(r, audit.Event{
		EventType: audit.EventTypeSessionRefresh,
		Status:    audit.EventStatusSuccess,
		Message:   "session refreshed",
	}, pair.Context)

	httputil.WriteSuccess(w, refreshResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
	})
}

type meResponse struct {
	UserID         string   `json:"user_id"`
	OrganizationID string   `json:"organization_id,omitempty"`
	Role           string   `json:"role"`
	CrossTenant    bool     `json:"cross_tenant"`
	Permissions    []string `json:"permissions,omitempty"`
}

// handleMe echoes the resolved tenant context for the caller.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	tc := middleware.TenantFromRequest(r)
	if tc == nil {
		httputil.WriteUnauthorized(w, "authentication required, please log in again")
		return
	}
	httputil.WriteSuccess(w, meResponse{
		UserID:         tc.UserID,
		OrganizationID: tc.OrganizationID,
		Role:           string(tc.Role),
		CrossTenant:    tc.CrossTenant,
		Permissions:    tc.Permissions,
	})
}

type flagResponse struct {
	Key     string `json:"key"`
	Enabled bool   `json:"enabled"`
}

// handleEvaluateFlag resolves a flag for the caller within the target
// organization. The role gate has already checked tenant access; for
// cross-tenant callers the evaluation is scoped to the target org, not
// their own.
func (s *Server) handleEvaluateFlag(w http.ResponseWriter, r *http.Request) {
	tc := middleware.TenantFromRequest(r)
	if tc == nil {
		httputil.WriteUnauthorized(w, "authentication required, please log in again")
		return
	}
	vars := mux.Vars(r)
	key := vars["key"]

	scoped := *tc
	if org := vars["org_id"]; org != "" {
		scoped.OrganizationID = org
	}

	enabled := s.flags.Evaluate(r.Context(), key, &scoped)
	httputil.WriteSuccess(w, flagResponse{Key: key, Enabled: enabled})
}

// handleInvalidateFlag drops cached state for a flag after an
// administrative update.
func (s *Server) handleInvalidateFlag(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if err := s.flags.Invalidate(r.Context(), key); err != nil {
		observability.FromContext(r.Context()).WithError(err).WithField("flag", key).
			Error("flag invalidation failed")
		httputil.WriteInternalError(w, "invalidation failed")
		return
	}
	s.recordAudit(r, audit.Event{
		EventType: audit.EventTypeFlagInvalidate,
		Status:    audit.EventStatusSuccess,
		Message:   "flag cache invalidated: " + key,
	}, middleware.TenantFromRequest(r))
	httputil.WriteSuccess(w, map[string]string{"status": "invalidated", "key": key})
}

// recordAudit fills in request attribution and the caller's identity
// when known, then forwards the event.
func (s *Server) recordAudit(r *http.Request, event audit.Event, tc *tenant.Context) {
	if s.audit == nil {
		return
	}
	event.RequestID = contextkeys.GetRequestID(r.Context())
	event.IPAddress = r.RemoteAddr
	event.Method = r.Method
	event.Path = r.URL.Path
	if tc != nil {
		event.UserID = tc.UserID
		event.OrganizationID = tc.OrganizationID
		event.Role = string(tc.Role)
	}
	s.audit.Record(event)
}
