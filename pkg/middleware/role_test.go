package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminate-bi/authcore/pkg/audit"
	"github.com/luminate-bi/authcore/pkg/authz"
	"github.com/luminate-bi/authcore/pkg/contextkeys"
	"github.com/luminate-bi/authcore/pkg/tenant"
)

func authedRequest(t *testing.T, tc *tenant.Context, vars map[string]string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/v1/resource", nil)
	if tc != nil {
		req = req.WithContext(contextkeys.WithTenant(req.Context(), tc))
	}
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	return req
}

func TestRequire(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name     string
		tc       *tenant.Context
		required tenant.Role
		orgVar   string
		vars     map[string]string
		status   int
	}{
		{
			name:     "sufficient role own org",
			tc:       &tenant.Context{UserID: "u1", OrganizationID: "org-a", Role: tenant.RoleAnalyst},
			required: tenant.RoleAnalyst,
			status:   http.StatusOK,
		},
		{
			name:     "insufficient role",
			tc:       &tenant.Context{UserID: "u1", OrganizationID: "org-a", Role: tenant.RoleViewer},
			required: tenant.RoleAdmin,
			status:   http.StatusForbidden,
		},
		{
			name:     "route org matches own org",
			tc:       &tenant.Context{UserID: "u1", OrganizationID: "org-a", Role: tenant.RoleViewer},
			required: tenant.RoleViewer,
			orgVar:   "org_id",
			vars:     map[string]string{"org_id": "org-a"},
			status:   http.StatusOK,
		},
		{
			name:     "route org belongs to another tenant",
			tc:       &tenant.Context{UserID: "u1", OrganizationID: "org-a", Role: tenant.RoleAdmin},
			required: tenant.RoleViewer,
			orgVar:   "org_id",
			vars:     map[string]string{"org_id": "org-b"},
			status:   http.StatusForbidden,
		},
		{
			name: "super admin crosses tenants",
			tc: &tenant.Context{
				UserID: "op1", Role: tenant.RoleSuperAdmin, CrossTenant: true,
			},
			required: tenant.RoleAdmin,
			orgVar:   "org_id",
			vars:     map[string]string{"org_id": "org-b"},
			status:   http.StatusOK,
		},
		{
			name:     "unauthenticated request",
			tc:       nil,
			required: tenant.RoleViewer,
			status:   http.StatusUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := NewRoleGate()
			rec := httptest.NewRecorder()
			gate.Require(tt.required, tt.orgVar)(okHandler).
				ServeHTTP(rec, authedRequest(t, tt.tc, tt.vars))
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusForbidden {
				assert.Contains(t, rec.Body.String(), forbiddenMessage)
				assert.NotContains(t, rec.Body.String(), "tenant")
				assert.NotContains(t, rec.Body.String(), "role")
			}
		})
	}
}

func TestRequireAuditsDenials(t *testing.T) {
	recorder := audit.NewMemoryRecorder()
	gate := NewRoleGate(WithGateAudit(recorder))

	tc := &tenant.Context{UserID: "u1", OrganizationID: "org-a", Role: tenant.RoleAdmin}
	req := authedRequest(t, tc, map[string]string{"org_id": "org-b"})
	rec := httptest.NewRecorder()
	gate.Require(tenant.RoleViewer, "org_id")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})).ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	events := recorder.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventTypeAccessDenied, events[0].EventType)
	assert.Equal(t, string(authz.ReasonWrongTenant), events[0].Reason)
	assert.Equal(t, "u1", events[0].UserID)
	assert.Equal(t, "org-b", events[0].TargetOrgID)
}

func TestRequireAllowsWithoutAuditNoise(t *testing.T) {
	recorder := audit.NewMemoryRecorder()
	gate := NewRoleGate(WithGateAudit(recorder))

	tc := &tenant.Context{UserID: "u1", OrganizationID: "org-a", Role: tenant.RoleAdmin}
	rec := httptest.NewRecorder()
	gate.Require(tenant.RoleAnalyst, "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, authedRequest(t, tc, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, recorder.Events())
}
