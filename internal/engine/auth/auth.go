package auth

import (
	"fmt"
	"strings"
)

// Permissions granted to API callers through key scopes or JWT claims.
const (
	PermAgentsRead    = "agents.read"
	PermAgentsWrite   = "agents.write"
	PermForwardsWrite = "forwards.write"
	PermStakesWrite   = "stakes.write"
	PermLedgerWrite   = "ledger.write"
	PermViolations    = "violations.write"
	PermDecayRun      = "decay.run"
	PermAdmin         = "admin"
)

// All lists every known permission.
var All = []string{
	PermAgentsRead,
	PermAgentsWrite,
	PermForwardsWrite,
	PermStakesWrite,
	PermLedgerWrite,
	PermViolations,
	PermDecayRun,
	PermAdmin,
}

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Known reports whether perm is a defined permission.
func Known(perm string) bool {
	for _, p := range All {
		if p == perm {
			return true
		}
	}
	return false
}

// Require returns ForbiddenError unless granted holds perm, admin, or "*".
func Require(granted []string, perm string) error {
	for _, g := range granted {
		g = strings.TrimSpace(g)
		if g == perm || g == PermAdmin || g == "*" {
			return nil
		}
	}
	return ForbiddenError{Permission: perm}
}
