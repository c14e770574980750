package rbac

import (
	"testing"

	"github.com/stretchr/testify/require"

	"genesismesh/trust"
)

func TestAuthorizedOperatorPolicyScope(t *testing.T) {
	require.True(t, Authorized([]string{"operator"}, trust.ControlPolicyUpdate, "policy:routing"))
	require.False(t, Authorized([]string{"operator"}, trust.ControlPolicyUpdate, "mesh:routing"))
	require.False(t, Authorized([]string{"operator"}, trust.ControlRevoke, "policy:routing"))
}

func TestAuthorizedAdminWildcardScope(t *testing.T) {
	require.True(t, Authorized([]string{"admin"}, trust.ControlRevoke, "anything:goes"))
	require.True(t, Authorized([]string{"admin"}, trust.ControlShutdown, ""))
}

func TestAuthorizedAnchorLimitedToMeshScope(t *testing.T) {
	require.True(t, Authorized([]string{"anchor"}, trust.ControlPing, "mesh:node-1"))
	require.False(t, Authorized([]string{"anchor"}, trust.ControlPolicyUpdate, "mesh:node-1"))
}

func TestAuthorizedClientHasNoCapabilities(t *testing.T) {
	require.False(t, Authorized([]string{"client"}, trust.ControlPing, "mesh:node-1"))
}

func TestAuthorizedMultipleRolesUnionCapabilities(t *testing.T) {
	require.True(t, Authorized([]string{"client", "operator"}, trust.ControlPolicyUpdate, "policy:x"))
}
