package permissions

import (
	"fmt"
	"sort"
	"time"
)

// ruleMatches reports whether an active rule applies to the user described by
// userID and memberships. authenticated_user rules match everyone. A
// manual_override rule names its target user in the scope column, so it
// matches exactly that user. Entity-backed rules match iff the rule's basis
// id is in the corresponding membership set.
func ruleMatches(rule PermissionRule, userID string, memberships Memberships) bool {
	switch rule.BasisType {
	case BasisAuthenticatedUser:
		return true
	case BasisManualOverride:
		return rule.Scope != nil && *rule.Scope == userID
	default:
		if rule.BasisID == nil {
			return false
		}
		return memberships.Holds(rule.BasisType, *rule.BasisID)
	}
}

// BuildSnapshot computes the effective UserPermissions for one user by
// joining the active rule set against the user's basis memberships. Rules
// only grant, so accumulation is a pure union: unscoped permissions become
// true, scoped permissions collect the union of matching rule scopes. A
// scoped rule with no scope value grants the wildcard.
func BuildSnapshot(userID string, rules []PermissionRule, catalog []AppPermission, memberships Memberships, ruleVersion uint64) *UserPermissions {
	byID := make(map[string]AppPermission, len(catalog))
	for _, p := range catalog {
		byID[p.ID] = p
	}

	snapshot := &UserPermissions{
		UserID:      userID,
		Grants:      make(map[string]Grant),
		RuleVersion: ruleVersion,
		ComputedAt:  time.Now(),
	}

	scopeSets := make(map[string]map[string]struct{})

	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		perm, ok := byID[rule.PermissionID]
		if !ok {
			// Rule references a deleted catalog entry; it grants nothing.
			continue
		}
		if !ruleMatches(rule, userID, memberships) {
			continue
		}

		if !perm.Scoped() {
			snapshot.Grants[perm.Name] = Grant{Granted: true}
			continue
		}

		scope := ScopeAny
		// Manual overrides carry the target user id in the scope column, so
		// for a scoped permission the override grants every scope.
		if rule.BasisType != BasisManualOverride && rule.Scope != nil && *rule.Scope != "" {
			scope = *rule.Scope
		}
		set, ok := scopeSets[perm.Name]
		if !ok {
			set = make(map[string]struct{})
			scopeSets[perm.Name] = set
		}
		set[scope] = struct{}{}
	}

	for name, set := range scopeSets {
		scopes := make([]string, 0, len(set))
		for s := range set {
			scopes = append(scopes, s)
		}
		sort.Strings(scopes)
		snapshot.Grants[name] = Grant{Granted: true, Scoped: true, Scopes: scopes}
	}

	return snapshot
}

// Check evaluates a single permission against an already-computed snapshot.
// Unknown permission names deny rather than erroring. For scoped permissions
// an empty context asks "held in at least one scope"; a context with scope
// ids asks whether the grant covers any of them.
func Check(snapshot *UserPermissions, permission string, ctx *CheckContext) CheckResult {
	if snapshot == nil {
		return CheckResult{Reason: "no permission snapshot available"}
	}

	grant, ok := snapshot.Grants[permission]
	if !ok || !grant.Granted {
		return CheckResult{Reason: fmt.Sprintf("no active rule grants %q", permission)}
	}

	if !grant.Scoped {
		return CheckResult{HasPermission: true, Reason: fmt.Sprintf("%q granted", permission)}
	}

	if ctx == nil || len(ctx.ScopeIDs) == 0 {
		if len(grant.Scopes) == 0 {
			return CheckResult{Reason: fmt.Sprintf("%q granted in no scopes", permission)}
		}
		return CheckResult{
			HasPermission:  true,
			MatchingScopes: append([]string(nil), grant.Scopes...),
			Reason:         fmt.Sprintf("%q granted in %d scope(s)", permission, len(grant.Scopes)),
		}
	}

	var matched []string
	for _, want := range ctx.ScopeIDs {
		if grant.HasScope(want) {
			matched = append(matched, want)
		}
	}
	if len(matched) == 0 {
		return CheckResult{Reason: fmt.Sprintf("%q not granted in requested scope(s)", permission)}
	}
	return CheckResult{
		HasPermission:  true,
		MatchingScopes: matched,
		Reason:         fmt.Sprintf("%q granted in requested scope(s)", permission),
	}
}
