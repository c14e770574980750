// Package rbac enforces spec.md section 4.7's role-based control plane:
// which roles may issue which ControlMessage kinds over which scopes, the
// six-point acceptance rule, and dispatch of accepted messages to the
// subsystem that owns their effect (policy store, CRL store, or node
// shutdown). Every decision, accept or reject, is recorded to the audit
// log, mirroring the node repo's habit of auditing both the happy and
// unhappy path of a privileged operation.
package rbac

import (
	"strings"

	"genesismesh/trust"
)

// Role is one of the mesh's fixed administrative roles. Unlike
// trust.JoinCertificate.Roles (an open string slice — the Network Authority
// may mint arbitrary application roles), rbac only recognizes the four
// roles spec.md section 4.7 assigns control-plane capabilities to.
type Role string

const (
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
	RoleAnchor   Role = "anchor"
	RoleClient   Role = "client"
)

// capability pairs a permitted control kind with the scope glob patterns a
// holder of the owning role may use it with.
type capability struct {
	kind     trust.ControlKind
	patterns []string
}

// roleTable is the static role → capability grant list from spec.md section
// 4.7. `client` grants nothing and is omitted (its absence from the map
// means every lookup against it correctly finds zero capabilities).
var roleTable = map[Role][]capability{
	RoleOperator: {
		{kind: trust.ControlPolicyUpdate, patterns: []string{"policy:*"}},
	},
	RoleAdmin: {
		{kind: trust.ControlPolicyUpdate, patterns: []string{"*"}},
		{kind: trust.ControlRevoke, patterns: []string{"*"}},
		{kind: trust.ControlShutdown, patterns: []string{"*"}},
	},
	RoleAnchor: {
		{kind: trust.ControlEmergencyCrlPush, patterns: []string{"mesh:*"}},
		{kind: trust.ControlPing, patterns: []string{"mesh:*"}},
	},
}

// scopeMatches reports whether pattern permits scope, where pattern may end
// in "*" to match any suffix, or be exactly "*" to match everything.
func scopeMatches(pattern, scope string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(scope, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == scope
}

// Authorized reports whether any role in roles grants kind over scope.
func Authorized(roles []string, kind trust.ControlKind, scope string) bool {
	for _, r := range roles {
		for _, cap := range roleTable[Role(r)] {
			if cap.kind != kind {
				continue
			}
			for _, pattern := range cap.patterns {
				if scopeMatches(pattern, scope) {
					return true
				}
			}
		}
	}
	return false
}
