package permissions

import (
	"time"
)

// BasisType identifies the kind of credential a permission rule is anchored to.
type BasisType string

const (
	BasisStanding          BasisType = "standing"
	BasisQualification     BasisType = "qualification"
	BasisBillet            BasisType = "billet"
	BasisTeam              BasisType = "team"
	BasisSquadron          BasisType = "squadron"
	BasisWing              BasisType = "wing"
	BasisAuthenticatedUser BasisType = "authenticated_user"
	BasisManualOverride    BasisType = "manual_override"
)

// AllBasisTypes returns the closed set of basis types in display order.
func AllBasisTypes() []BasisType {
	return []BasisType{
		BasisStanding,
		BasisQualification,
		BasisBillet,
		BasisTeam,
		BasisSquadron,
		BasisWing,
		BasisAuthenticatedUser,
		BasisManualOverride,
	}
}

// Valid reports whether bt is one of the known basis types.
func (bt BasisType) Valid() bool {
	switch bt {
	case BasisStanding, BasisQualification, BasisBillet, BasisTeam,
		BasisSquadron, BasisWing, BasisAuthenticatedUser, BasisManualOverride:
		return true
	}
	return false
}

// RequiresBasisID reports whether rules with this basis type must reference
// a specific entity. Universal and manually-granted bases carry no id.
func (bt BasisType) RequiresBasisID() bool {
	return bt != BasisAuthenticatedUser && bt != BasisManualOverride
}

// PermissionCategory groups catalog entries for admin UI display.
type PermissionCategory string

const (
	CategoryNavigation  PermissionCategory = "navigation"
	CategoryRoster      PermissionCategory = "roster"
	CategoryEvents      PermissionCategory = "events"
	CategorySettings    PermissionCategory = "settings"
	CategoryMissionPrep PermissionCategory = "mission_prep"
	CategoryDebriefing  PermissionCategory = "debriefing"
	CategoryOther       PermissionCategory = "other"
)

// ScopeType distinguishes boolean permissions from permissions held per scope.
type ScopeType string

const (
	ScopeTypeUnscoped ScopeType = "unscoped"
	ScopeTypeScoped   ScopeType = "scoped"
)

// ScopeAny is the wildcard scope. A scoped grant carrying it covers every
// scope instance; a check context always matches it.
const ScopeAny = "*"

// AppPermission is a catalog entry. Catalog rows are reference data managed by
// administrators; the engine only reads them.
type AppPermission struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	DisplayName     string             `json:"display_name"`
	Description     string             `json:"description"`
	Category        PermissionCategory `json:"category"`
	ScopeType       ScopeType          `json:"scope_type"`
	AvailableScopes []string           `json:"available_scopes,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}

// Scoped reports whether the permission is held per scope instance.
func (p AppPermission) Scoped() bool {
	return p.ScopeType == ScopeTypeScoped
}

// PermissionRule binds one catalog permission to one basis. Rules only ever
// grant; there is no deny rule type, so evaluation is a pure union.
type PermissionRule struct {
	ID           string    `json:"id"`
	PermissionID string    `json:"permission_id"`
	BasisType    BasisType `json:"basis_type"`
	BasisID      *string   `json:"basis_id,omitempty"`
	Scope        *string   `json:"scope,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	CreatedBy    *string   `json:"created_by,omitempty"`

	// Denormalized from the catalog for listings.
	PermissionName        string `json:"permission_name,omitempty"`
	PermissionDisplayName string `json:"permission_display_name,omitempty"`
	PermissionDescription string `json:"permission_description,omitempty"`
	BasisName             string `json:"basis_name,omitempty"`
}

// RuleInput carries the caller-supplied fields for creating a rule.
type RuleInput struct {
	PermissionID string    `json:"permission_id"`
	BasisType    BasisType `json:"basis_type"`
	BasisID      *string   `json:"basis_id,omitempty"`
	Scope        *string   `json:"scope,omitempty"`
	Active       *bool     `json:"active,omitempty"`
}

// RuleUpdate carries a partial update; nil fields are left unchanged. Setting
// BasisID or Scope to an empty string clears the field, which is how a rule
// moves to a basis type that carries no basis id.
type RuleUpdate struct {
	BasisType *BasisType `json:"basis_type,omitempty"`
	BasisID   *string    `json:"basis_id,omitempty"`
	Scope     *string    `json:"scope,omitempty"`
	Active    *bool      `json:"active,omitempty"`
}

// BulkCreateResult reports per-row outcomes of a bulk insert. The store
// inserts inside a transaction when it can; when a row fails validation the
// remaining rows still get a verdict instead of being silently dropped.
type BulkCreateResult struct {
	Created []PermissionRule  `json:"created"`
	Failed  []BulkCreateError `json:"failed,omitempty"`
}

// BulkCreateError names the failing row and why it was rejected.
type BulkCreateError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// Grant is the computed entitlement for one permission inside a snapshot.
// Unscoped permissions use Granted alone; scoped permissions carry the set of
// scope instances the user holds the permission in.
type Grant struct {
	Granted bool     `json:"granted"`
	Scoped  bool     `json:"scoped"`
	Scopes  []string `json:"scopes,omitempty"`
}

// HasScope reports whether the grant covers the given scope instance.
func (g Grant) HasScope(scope string) bool {
	for _, s := range g.Scopes {
		if s == scope || s == ScopeAny {
			return true
		}
	}
	return false
}

// UserPermissions is the computed per-user snapshot: permission machine name
// to effective grant. It is a derived, cached artifact with no lifecycle of
// its own beyond the cache's.
type UserPermissions struct {
	UserID      string           `json:"user_id"`
	Grants      map[string]Grant `json:"grants"`
	RuleVersion uint64           `json:"rule_version"`
	ComputedAt  time.Time        `json:"computed_at"`
}

// CheckContext narrows a scoped check to specific scope instances, e.g. the
// squadron a page is rendering. Empty means "in any scope".
type CheckContext struct {
	ScopeIDs []string `json:"scope_ids,omitempty"`
}

// CheckResult is the detailed answer to a single permission check.
type CheckResult struct {
	HasPermission  bool     `json:"has_permission"`
	MatchingScopes []string `json:"matching_scopes,omitempty"`
	Reason         string   `json:"reason"`
}

// Memberships enumerates the basis instances a user currently holds, grouped
// by basis type. It is the join key between a user and the rule set.
type Memberships struct {
	StandingIDs      []string `json:"standing_ids"`
	QualificationIDs []string `json:"qualification_ids"`
	BilletIDs        []string `json:"billet_ids"`
	TeamIDs          []string `json:"team_ids"`
	SquadronIDs      []string `json:"squadron_ids"`
	WingIDs          []string `json:"wing_ids"`
}

// IDsFor returns the membership set for an entity-backed basis type.
func (m Memberships) IDsFor(bt BasisType) []string {
	switch bt {
	case BasisStanding:
		return m.StandingIDs
	case BasisQualification:
		return m.QualificationIDs
	case BasisBillet:
		return m.BilletIDs
	case BasisTeam:
		return m.TeamIDs
	case BasisSquadron:
		return m.SquadronIDs
	case BasisWing:
		return m.WingIDs
	}
	return nil
}

// Holds reports whether the user holds the given basis instance.
func (m Memberships) Holds(bt BasisType, basisID string) bool {
	for _, id := range m.IDsFor(bt) {
		if id == basisID {
			return true
		}
	}
	return false
}

// BasisOption is a selectable basis instance for the rule editor.
type BasisOption struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CacheStats exposes cache counters for operational visibility. The counters
// are approximate and carry no correctness weight.
type CacheStats struct {
	Entries     int    `json:"entries"`
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Evictions   uint64 `json:"evictions"`
	RuleVersion uint64 `json:"rule_version"`
}
