package middleware

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/luminate-bi/authcore/pkg/audit"
	"github.com/luminate-bi/authcore/pkg/authz"
	"github.com/luminate-bi/authcore/pkg/contextkeys"
	"github.com/luminate-bi/authcore/pkg/httputil"
	"github.com/luminate-bi/authcore/pkg/observability"
	"github.com/luminate-bi/authcore/pkg/tenant"
)

const forbiddenMessage = "forbidden"

// RoleGate enforces the role hierarchy on protected routes. Decisions
// are re-derived from the request's tenant context on every call;
// nothing about a previous allow survives the request.
type RoleGate struct {
	audit   audit.Recorder
	metrics *observability.Metrics
}

// GateOption customizes a RoleGate.
type GateOption func(*RoleGate)

// WithGateAudit wires the audit recorder.
func WithGateAudit(rec audit.Recorder) GateOption {
	return func(g *RoleGate) { g.audit = rec }
}

// WithGateMetrics wires decision metrics.
func WithGateMetrics(m *observability.Metrics) GateOption {
	return func(g *RoleGate) { g.metrics = m }
}

// NewRoleGate creates the authorization middleware factory.
func NewRoleGate(opts ...GateOption) *RoleGate {
	g := &RoleGate{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Require returns middleware enforcing `required` against the
// organization named by the orgVar route variable. An empty orgVar (or
// an absent route variable) targets the caller's own organization.
func (g *RoleGate) Require(required tenant.Role, orgVar string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc := TenantFromRequest(r)
			if tc == nil {
				httputil.WriteUnauthorized(w, unauthorizedMessage)
				return
			}

			targetOrg := tc.OrganizationID
			if orgVar != "" {
				if v, ok := mux.Vars(r)[orgVar]; ok && v != "" {
					targetOrg = v
				}
			}

			decision := authz.Authorize(tc, required, targetOrg)
			g.record(r, tc, required, targetOrg, decision)
			if !decision.Allowed {
				// The body stays opaque: revealing whether the denial
				// was role or tenant would confirm the target org
				// exists.
				httputil.WriteForbidden(w, forbiddenMessage)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (g *RoleGate) record(r *http.Request, tc *tenant.Context, required tenant.Role, targetOrg string, decision authz.Decision) {
	if g.metrics != nil {
		if decision.Allowed {
			g.metrics.AuthzDecisionsTotal.WithLabelValues("allow", "").Inc()
		} else {
			g.metrics.AuthzDecisionsTotal.WithLabelValues("deny", string(decision.Reason)).Inc()
		}
	}
	if g.audit != nil && !decision.Allowed {
		g.audit.Record(audit.Event{
			EventType:      audit.EventTypeAccessDenied,
			Status:         audit.EventStatusDenied,
			UserID:         tc.UserID,
			OrganizationID: tc.OrganizationID,
			TargetOrgID:    targetOrg,
			Role:           string(tc.Role),
			RequestID:      contextkeys.GetRequestID(r.Context()),
			IPAddress:      r.RemoteAddr,
			Method:         r.Method,
			Path:           r.URL.Path,
			Reason:         string(decision.Reason),
			Message:        "access denied",
		})
	}
}
