// Package authz implements the role authorization gate.
//
// The gate is deliberately stateless: every decision is re-derived from
// the current request's tenant context. Nothing here caches an "is
// admin" answer, so a role change takes effect as soon as the old token
// expires and can never outlive a request.
//
// Deny decisions carry a structured reason for audit logging. The HTTP
// layer must not expose that reason to the caller: telling a client
// whether it failed on role or on tenant leaks the existence of other
// tenants' resources.
package authz

import (
	"github.com/luminate-bi/authcore/pkg/tenant"
)

// Reason classifies why a request was denied.
type Reason string

const (
	ReasonInsufficientRole Reason = "insufficient_role"
	ReasonWrongTenant      Reason = "wrong_tenant"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	// Reason is set only on deny. Logged for operators, never
	// returned to the caller.
	Reason Reason
}

// Allow is the affirmative decision.
var Allow = Decision{Allowed: true}

// Deny builds a negative decision with the given reason.
func Deny(reason Reason) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Authorize decides whether tc may perform an operation requiring
// `required` within organization targetOrg.
//
// Allowed iff tc.Role >= required and either tc holds cross-tenant
// privilege or tc belongs to targetOrg.
func Authorize(tc *tenant.Context, required tenant.Role, targetOrg string) Decision {
	if tc == nil {
		return Deny(ReasonInsufficientRole)
	}
	if !tc.Role.AtLeast(required) {
		return Deny(ReasonInsufficientRole)
	}
	if !tc.CrossTenant && tc.OrganizationID != targetOrg {
		return Deny(ReasonWrongTenant)
	}
	return Allow
}
