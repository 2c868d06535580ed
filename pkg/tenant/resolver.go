package tenant

import (
	"errors"

	"github.com/luminate-bi/authcore/pkg/token"
)

// ErrMissingOrganization is returned when a non-super_admin token
// carries no organization claim. There is no tenant to scope the
// request to, so the request cannot proceed.
var ErrMissingOrganization = errors.New("tenant: token has no organization claim")

// Resolve derives the request's tenant context from an already-verified
// token. It performs no I/O: cryptographic trust is established by the
// token verifier, and this transform only decides what the claims mean.
//
// An absent or unrecognized role claim resolves to viewer. A token that
// claims more than the platform understands should lose privilege, not
// gain it or lock the user out entirely.
func Resolve(vt *token.VerifiedToken) (*Context, error) {
	role := ParseRole(vt.Role)

	tc := &Context{
		UserID:         vt.Subject,
		OrganizationID: vt.OrganizationID,
		Role:           role,
		CrossTenant:    role == RoleSuperAdmin,
		Permissions:    vt.Permissions,
	}

	if tc.OrganizationID == "" && !tc.CrossTenant {
		return nil, ErrMissingOrganization
	}
	return tc, nil
}
