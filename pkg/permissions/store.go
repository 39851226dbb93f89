package permissions

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store persists the permission catalog and rule set in Postgres.
type Store struct {
	db *sql.DB
}

// NewStore creates a rule store over db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const rulesSelect = `
	SELECT r.id, r.permission_id, r.basis_type, r.basis_id, r.scope, r.active,
	       r.created_at, r.updated_at, r.created_by,
	       p.name, p.display_name, p.description
	FROM permission_rules r
	JOIN app_permissions p ON p.id = r.permission_id
`

// GetPermissions returns the full permission catalog.
func (s *Store) GetPermissions(ctx context.Context) ([]AppPermission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, display_name, description, category, scope_type, available_scopes, created_at
		FROM app_permissions
		ORDER BY category ASC, display_name ASC
	`)
	if err != nil {
		return nil, storeErr("list permissions", err)
	}
	defer rows.Close()

	var permissions []AppPermission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, storeErr("scan permission", err)
		}
		permissions = append(permissions, *perm)
	}
	return permissions, rows.Err()
}

// GetPermission retrieves one catalog entry by id.
func (s *Store) GetPermission(ctx context.Context, id string) (*AppPermission, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, display_name, description, category, scope_type, available_scopes, created_at
		FROM app_permissions
		WHERE id = $1
	`, id)

	perm, err := scanPermission(row)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "permission", ID: id}
	}
	if err != nil {
		return nil, storeErr("get permission", err)
	}
	return perm, nil
}

// ListRules returns all rules, active and inactive, optionally filtered by
// basis type, newest first, enriched with the catalog entry's name fields.
// The ordering is for UI consumption only.
func (s *Store) ListRules(ctx context.Context, basisType *BasisType) ([]PermissionRule, error) {
	query := rulesSelect
	var args []interface{}
	if basisType != nil {
		query += ` WHERE r.basis_type = $1`
		args = append(args, string(*basisType))
	}
	query += ` ORDER BY r.created_at DESC`

	return s.queryRules(ctx, query, args...)
}

// ListActiveRules returns the active rule set used for snapshot construction.
func (s *Store) ListActiveRules(ctx context.Context) ([]PermissionRule, error) {
	return s.queryRules(ctx, rulesSelect+` WHERE r.active = TRUE ORDER BY r.created_at DESC`)
}

func (s *Store) queryRules(ctx context.Context, query string, args ...interface{}) ([]PermissionRule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list rules", err)
	}
	defer rows.Close()

	var rules []PermissionRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, storeErr("scan rule", err)
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

// CreateRule validates and inserts a rule. It rejects an input whose basis
// type requires a basis id that is absent, and one that would duplicate an
// existing active (permission, basis type, basis id) grant.
func (s *Store) CreateRule(ctx context.Context, input RuleInput, createdBy string) (*PermissionRule, error) {
	if err := validateRuleInput(input); err != nil {
		return nil, err
	}
	if _, err := s.GetPermission(ctx, input.PermissionID); err != nil {
		return nil, err
	}

	dup, err := s.activeDuplicateExists(ctx, input.PermissionID, input.BasisType, input.BasisID, input.Scope, "")
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, &ValidationError{Message: "an active rule already grants this permission on this basis"}
	}

	active := true
	if input.Active != nil {
		active = *input.Active
	}

	rule := &PermissionRule{
		ID:           uuid.NewString(),
		PermissionID: input.PermissionID,
		BasisType:    input.BasisType,
		BasisID:      input.BasisID,
		Scope:        input.Scope,
		Active:       active,
	}
	if createdBy != "" {
		rule.CreatedBy = &createdBy
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO permission_rules (id, permission_id, basis_type, basis_id, scope, active, created_at, updated_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		rule.ID,
		rule.PermissionID,
		string(rule.BasisType),
		rule.BasisID,
		rule.Scope,
		rule.Active,
		now,
		now,
		rule.CreatedBy,
	)
	if err != nil {
		return nil, storeErr("create rule", err)
	}

	rule.CreatedAt = now
	rule.UpdatedAt = now
	return rule, nil
}

// UpdateRule applies a partial update to an existing rule. Nil fields are
// left unchanged; an explicit empty string clears basis id or scope, which is
// how a rule moves to a basis type that carries neither.
func (s *Store) UpdateRule(ctx context.Context, id string, update RuleUpdate) (*PermissionRule, error) {
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}

	if update.BasisType != nil {
		rule.BasisType = *update.BasisType
	}
	if update.BasisID != nil {
		rule.BasisID = update.BasisID
		if *update.BasisID == "" {
			rule.BasisID = nil
		}
	}
	if update.Scope != nil {
		rule.Scope = update.Scope
		if *update.Scope == "" {
			rule.Scope = nil
		}
	}
	if update.Active != nil {
		rule.Active = *update.Active
	}

	if err := validateRuleInput(RuleInput{
		PermissionID: rule.PermissionID,
		BasisType:    rule.BasisType,
		BasisID:      rule.BasisID,
	}); err != nil {
		return nil, err
	}

	if rule.Active {
		dup, err := s.activeDuplicateExists(ctx, rule.PermissionID, rule.BasisType, rule.BasisID, rule.Scope, rule.ID)
		if err != nil {
			return nil, err
		}
		if dup {
			return nil, &ValidationError{Message: "an active rule already grants this permission on this basis"}
		}
	}

	rule.UpdatedAt = time.Now()
	_, err = s.db.ExecContext(ctx, `
		UPDATE permission_rules
		SET basis_type = $1, basis_id = $2, scope = $3, active = $4, updated_at = $5
		WHERE id = $6
	`,
		string(rule.BasisType),
		rule.BasisID,
		rule.Scope,
		rule.Active,
		rule.UpdatedAt,
		rule.ID,
	)
	if err != nil {
		return nil, storeErr("update rule", err)
	}

	return rule, nil
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM permission_rules WHERE id = $1`, id)
	if err != nil {
		return storeErr("delete rule", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storeErr("delete rule", err)
	}
	if affected == 0 {
		return &NotFoundError{Resource: "permission rule", ID: id}
	}
	return nil
}

// BulkCreateRules inserts a batch of rules. Rows failing validation are
// reported per-index; the valid subset is inserted in a single transaction so
// a storage failure never leaves a partial batch behind.
func (s *Store) BulkCreateRules(ctx context.Context, inputs []RuleInput, createdBy string) (*BulkCreateResult, error) {
	result := &BulkCreateResult{}

	type pending struct {
		index int
		rule  PermissionRule
	}
	var valid []pending
	seen := make(map[string]struct{})

	for i, input := range inputs {
		if err := validateRuleInput(input); err != nil {
			result.Failed = append(result.Failed, BulkCreateError{Index: i, Error: err.Error()})
			continue
		}

		active := true
		if input.Active != nil {
			active = *input.Active
		}
		if active {
			key := grantKey(input)
			if _, dup := seen[key]; dup {
				result.Failed = append(result.Failed, BulkCreateError{
					Index: i,
					Error: "duplicates an earlier rule in this batch",
				})
				continue
			}
			seen[key] = struct{}{}
		}

		if _, err := s.GetPermission(ctx, input.PermissionID); err != nil {
			result.Failed = append(result.Failed, BulkCreateError{Index: i, Error: err.Error()})
			continue
		}
		dup, err := s.activeDuplicateExists(ctx, input.PermissionID, input.BasisType, input.BasisID, input.Scope, "")
		if err != nil {
			return nil, err
		}
		if dup {
			result.Failed = append(result.Failed, BulkCreateError{
				Index: i,
				Error: "an active rule already grants this permission on this basis",
			})
			continue
		}
		rule := PermissionRule{
			ID:           uuid.NewString(),
			PermissionID: input.PermissionID,
			BasisType:    input.BasisType,
			BasisID:      input.BasisID,
			Scope:        input.Scope,
			Active:       active,
		}
		if createdBy != "" {
			rule.CreatedBy = &createdBy
		}
		valid = append(valid, pending{index: i, rule: rule})
	}

	if len(valid) == 0 {
		return result, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("begin bulk create", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for _, p := range valid {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO permission_rules (id, permission_id, basis_type, basis_id, scope, active, created_at, updated_at, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			p.rule.ID,
			p.rule.PermissionID,
			string(p.rule.BasisType),
			p.rule.BasisID,
			p.rule.Scope,
			p.rule.Active,
			now,
			now,
			p.rule.CreatedBy,
		)
		if err != nil {
			return nil, storeErr(fmt.Sprintf("bulk create rule %d", p.index), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr("commit bulk create", err)
	}

	for _, p := range valid {
		p.rule.CreatedAt = now
		p.rule.UpdatedAt = now
		result.Created = append(result.Created, p.rule)
	}
	return result, nil
}

// GetRule retrieves one rule by id, enriched with the catalog entry's name
// fields.
func (s *Store) GetRule(ctx context.Context, id string) (*PermissionRule, error) {
	row := s.db.QueryRowContext(ctx, rulesSelect+` WHERE r.id = $1`, id)
	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "permission rule", ID: id}
	}
	if err != nil {
		return nil, storeErr("get rule", err)
	}
	return rule, nil
}

func (s *Store) activeDuplicateExists(ctx context.Context, permissionID string, basisType BasisType, basisID, scope *string, excludeID string) (bool, error) {
	// The id column is uuid, so an absent exclusion must bind as NULL; an
	// empty string would fail uuid parsing at bind time.
	var exclude interface{}
	if excludeID != "" {
		exclude = excludeID
	}

	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM permission_rules
			WHERE permission_id = $1
			  AND basis_type = $2
			  AND (basis_id = $3 OR (basis_id IS NULL AND $3 IS NULL))
			  AND (scope = $4 OR (scope IS NULL AND $4 IS NULL))
			  AND active = TRUE
			  AND ($5::uuid IS NULL OR id <> $5)
		)
	`, permissionID, string(basisType), basisID, scope, exclude).Scan(&exists)
	if err != nil {
		return false, storeErr("check duplicate rule", err)
	}
	return exists, nil
}

// grantKey identifies the (permission, basis, scope) tuple a rule grants,
// for duplicate detection within a batch.
func grantKey(input RuleInput) string {
	basisID, scope := "", ""
	if input.BasisID != nil {
		basisID = *input.BasisID
	}
	if input.Scope != nil {
		scope = *input.Scope
	}
	return strings.Join([]string{input.PermissionID, string(input.BasisType), basisID, scope}, "\x00")
}

func validateRuleInput(input RuleInput) error {
	if input.PermissionID == "" {
		return &ValidationError{Field: "permission_id", Message: "is required"}
	}
	if !input.BasisType.Valid() {
		return &ValidationError{Field: "basis_type", Message: fmt.Sprintf("unknown basis type %q", input.BasisType)}
	}
	if input.BasisType.RequiresBasisID() {
		if input.BasisID == nil || *input.BasisID == "" {
			return &ValidationError{Field: "basis_id", Message: fmt.Sprintf("is required for basis type %q", input.BasisType)}
		}
	} else if input.BasisID != nil {
		return &ValidationError{Field: "basis_id", Message: fmt.Sprintf("must be empty for basis type %q", input.BasisType)}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPermission(scanner rowScanner) (*AppPermission, error) {
	var perm AppPermission
	var description sql.NullString
	var availableScopes sql.NullString

	err := scanner.Scan(
		&perm.ID,
		&perm.Name,
		&perm.DisplayName,
		&description,
		&perm.Category,
		&perm.ScopeType,
		&availableScopes,
		&perm.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	perm.Description = description.String
	if availableScopes.Valid && availableScopes.String != "" {
		perm.AvailableScopes = splitCSV(availableScopes.String)
	}
	return &perm, nil
}

func scanRule(scanner rowScanner) (*PermissionRule, error) {
	var rule PermissionRule
	var basisID, scope, createdBy, description sql.NullString

	err := scanner.Scan(
		&rule.ID,
		&rule.PermissionID,
		&rule.BasisType,
		&basisID,
		&scope,
		&rule.Active,
		&rule.CreatedAt,
		&rule.UpdatedAt,
		&createdBy,
		&rule.PermissionName,
		&rule.PermissionDisplayName,
		&description,
	)
	if err != nil {
		return nil, err
	}

	if basisID.Valid {
		v := basisID.String
		rule.BasisID = &v
	}
	if scope.Valid {
		v := scope.String
		rule.Scope = &v
	}
	if createdBy.Valid {
		v := createdBy.String
		rule.CreatedBy = &v
	}
	rule.PermissionDescription = description.String

	return &rule, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
