package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminate-bi/authcore/pkg/token"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		name  string
		claim string
		want  Role
	}{
		{"viewer", "viewer", RoleViewer},
		{"analyst", "analyst", RoleAnalyst},
		{"admin", "admin", RoleAdmin},
		{"super admin", "super_admin", RoleSuperAdmin},
		{"empty maps to viewer", "", RoleViewer},
		{"unknown maps to viewer", "owner", RoleViewer},
		{"case sensitive", "Admin", RoleViewer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRole(tt.claim))
		})
	}
}

func TestRoleOrdering(t *testing.T) {
	ordered := []Role{RoleViewer, RoleAnalyst, RoleAdmin, RoleSuperAdmin}
	for i, lower := range ordered {
		for j, higher := range ordered {
			got := higher.AtLeast(lower)
			assert.Equal(t, j >= i, got, "%s.AtLeast(%s)", higher, lower)
		}
	}
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleAnalyst.Valid())
	assert.False(t, Role("owner").Valid())
	assert.False(t, Role("").Valid())
}

func TestResolve(t *testing.T) {
	t.Run("claims map onto context", func(t *testing.T) {
		tc, err := Resolve(&token.VerifiedToken{
			Subject:        "user-1",
			OrganizationID: "org-1",
			Role:           "analyst",
			Permissions:    []string{"reports:write"},
		})
		require.NoError(t, err)
		assert.Equal(t, "user-1", tc.UserID)
		assert.Equal(t, "org-1", tc.OrganizationID)
		assert.Equal(t, RoleAnalyst, tc.Role)
		assert.False(t, tc.CrossTenant)
		assert.True(t, tc.HasPermission("reports:write"))
		assert.False(t, tc.HasPermission("reports:delete"))
	})

	t.Run("unknown role degrades to viewer", func(t *testing.T) {
		tc, err := Resolve(&token.VerifiedToken{
			Subject:        "user-1",
			OrganizationID: "org-1",
			Role:           "cosmic_overlord",
		})
		require.NoError(t, err)
		assert.Equal(t, RoleViewer, tc.Role)
		assert.False(t, tc.CrossTenant)
	})

	t.Run("missing role degrades to viewer", func(t *testing.T) {
		tc, err := Resolve(&token.VerifiedToken{
			Subject:        "user-1",
			OrganizationID: "org-1",
		})
		require.NoError(t, err)
		assert.Equal(t, RoleViewer, tc.Role)
	})

	t.Run("super admin is cross tenant", func(t *testing.T) {
		tc, err := Resolve(&token.VerifiedToken{
			Subject: "op-1",
			Role:    "super_admin",
		})
		require.NoError(t, err)
		assert.True(t, tc.CrossTenant)
		assert.Empty(t, tc.OrganizationID)
	})

	t.Run("missing org rejected for regular users", func(t *testing.T) {
		_, err := Resolve(&token.VerifiedToken{
			Subject: "user-1",
			Role:    "admin",
		})
		require.ErrorIs(t, err, ErrMissingOrganization)
	})
}
