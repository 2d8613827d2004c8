package api

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/warp/reporting-engine/obligation"
)

// =============================================================================
// AUTHORIZATION - role -> action, decided by casbin
// =============================================================================
// Casbin only answers "may this role ever do this action". Whether the caller
// is the period's assigned preparer or supervisor is decided by the engine
// from the stored period.

const (
	objectPeriod     = "period"
	objectObligation = "obligation"

	actionAssign   = "assign"
	actionReassign = "reassign"
	actionCreate   = "create"
	actionGenerate = "generate"
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.obj == p.obj && r.act == p.act
`

// Authorizer wraps a casbin enforcer loaded with the lifecycle policy.
type Authorizer struct {
	enforcer *casbin.SyncedEnforcer
}

// NewAuthorizer builds the enforcer. Workflow permissions come straight from
// the transition table so the two cannot drift apart.
func NewAuthorizer() (*Authorizer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}
	if _, err := e.AddPolicies(defaultPolicies()); err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}
	return &Authorizer{enforcer: e}, nil
}

func defaultPolicies() [][]string {
	var rules [][]string
	for _, t := range obligation.Transitions() {
		rules = append(rules, []string{string(t.Actor), objectPeriod, string(t.Event)})
	}
	rules = append(rules,
		[]string{string(obligation.RolePreparer), objectPeriod, actionAssign},
		[]string{string(obligation.RoleSupervisor), objectPeriod, actionAssign},
		[]string{string(obligation.RoleSupervisor), objectPeriod, actionReassign},
		[]string{string(obligation.RoleSupervisor), objectObligation, actionCreate},
		[]string{string(obligation.RoleSupervisor), objectObligation, actionGenerate},
	)
	return rules
}

// Allow reports whether role may perform action on object.
func (a *Authorizer) Allow(role obligation.Role, object, action string) (bool, error) {
	ok, err := a.enforcer.Enforce(string(role), object, action)
	if err != nil {
		return false, fmt.Errorf("authorization check failed: %w", err)
	}
	recordAuthzDecision(role, action, ok)
	return ok, nil
}
