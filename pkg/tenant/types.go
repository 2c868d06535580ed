package tenant

// Role represents an organization-level role.
//
// Roles are totally ordered: viewer < analyst < admin < super_admin.
// Unknown role strings decode to RoleViewer so that claim schema drift
// degrades privilege instead of locking everyone out.
type Role string

const (
	RoleViewer     Role = "viewer"      // Read-only dashboard access
	RoleAnalyst    Role = "analyst"     // Can build and share reports
	RoleAdmin      Role = "admin"       // Full access within the organization
	RoleSuperAdmin Role = "super_admin" // Platform operator, crosses tenant boundaries
)

var roleRank = map[Role]int{
	RoleViewer:     0,
	RoleAnalyst:    1,
	RoleAdmin:      2,
	RoleSuperAdmin: 3,
}

// ParseRole decodes a role claim string. Anything outside the known set
// maps to RoleViewer.
func ParseRole(s string) Role {
	r := Role(s)
	if _, ok := roleRank[r]; ok {
		return r
	}
	return RoleViewer
}

// Rank returns the role's position in the hierarchy. Unknown roles rank
// as viewer.
func (r Role) Rank() int {
	if rank, ok := roleRank[r]; ok {
		return rank
	}
	return roleRank[RoleViewer]
}

// AtLeast reports whether r grants at least the privilege of other.
func (r Role) AtLeast(other Role) bool {
	return r.Rank() >= other.Rank()
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Context is the per-request tenant identity derived from a verified
// token. It is created once per request and never persisted.
type Context struct {
	UserID         string
	OrganizationID string
	Role           Role
	// CrossTenant is true only for super_admin. It allows the
	// authorization gate to skip the organization match.
	CrossTenant bool
	Permissions []string
}

// HasPermission checks for an explicit permission string on the context.
func (c *Context) HasPermission(perm string) bool {
	for _, p := range c.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
