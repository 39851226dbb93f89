package permissions

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/wingops/wingops/pkg/observability"
)

// RuleStore is the persistence contract the service depends on.
type RuleStore interface {
	GetPermissions(ctx context.Context) ([]AppPermission, error)
	GetRule(ctx context.Context, id string) (*PermissionRule, error)
	ListRules(ctx context.Context, basisType *BasisType) ([]PermissionRule, error)
	ListActiveRules(ctx context.Context) ([]PermissionRule, error)
	CreateRule(ctx context.Context, input RuleInput, createdBy string) (*PermissionRule, error)
	UpdateRule(ctx context.Context, id string, update RuleUpdate) (*PermissionRule, error)
	DeleteRule(ctx context.Context, id string) error
	BulkCreateRules(ctx context.Context, inputs []RuleInput, createdBy string) (*BulkCreateResult, error)
}

// BasisResolver answers membership and naming questions about basis entities.
type BasisResolver interface {
	MembershipsFor(ctx context.Context, userID string) (Memberships, error)
	ResolveBasisName(ctx context.Context, basisType BasisType, basisID *string) string
	BasisExists(ctx context.Context, basisType BasisType, basisID string) (bool, error)
	BasisOptions(ctx context.Context, basisType BasisType) ([]BasisOption, error)
}

// Service is the permission engine's public surface: checks, snapshot
// refresh, and rule management. Checking methods are fail-closed and never
// return an error; rule management surfaces the typed error taxonomy so admin
// UIs can react.
type Service struct {
	store    RuleStore
	resolver BasisResolver
	cache    SnapshotCache
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   trace.Tracer
	flight   singleflight.Group
}

// NewService composes the engine from its parts. metrics may be nil.
func NewService(store RuleStore, resolver BasisResolver, cache SnapshotCache, logger *observability.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		store:    store,
		resolver: resolver,
		cache:    cache,
		logger:   logger,
		metrics:  metrics,
		tracer:   otel.Tracer("github.com/wingops/wingops/pkg/permissions"),
	}
}

// resolveSnapshot returns the user's permission snapshot, computing and
// caching it on miss. Concurrent cold-cache calls for the same user collapse
// into one computation; a benign duplicate computation after a version bump
// is acceptable because the build is idempotent and side-effect-free.
func (s *Service) resolveSnapshot(ctx context.Context, userID string) (*UserPermissions, error) {
	if snapshot, ok := s.cache.Get(ctx, userID); ok {
		if s.metrics != nil {
			s.metrics.CacheHitsTotal.Inc()
		}
		return snapshot, nil
	}
	if s.metrics != nil {
		s.metrics.CacheMissesTotal.Inc()
	}

	result, err, _ := s.flight.Do(userID, func() (interface{}, error) {
		// A concurrent flight may have populated the cache already.
		if snapshot, ok := s.cache.Get(ctx, userID); ok {
			return snapshot, nil
		}
		return s.buildSnapshot(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*UserPermissions), nil
}

// buildSnapshot loads the active rule set, catalog, and the user's basis
// memberships, and joins them. The rule version is read before loading rules
// so a mutation racing the build stales the result instead of caching it.
func (s *Service) buildSnapshot(ctx context.Context, userID string) (*UserPermissions, error) {
	ctx, span := s.tracer.Start(ctx, "permissions.BuildSnapshot",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	start := time.Now()
	version := s.cache.RuleVersion(ctx)

	rules, err := s.store.ListActiveRules(ctx)
	if err != nil {
		s.recordBuild("error", start)
		return nil, err
	}
	catalog, err := s.store.GetPermissions(ctx)
	if err != nil {
		s.recordBuild("error", start)
		return nil, err
	}
	memberships, err := s.resolver.MembershipsFor(ctx, userID)
	if err != nil {
		s.recordBuild("error", start)
		return nil, err
	}

	snapshot := BuildSnapshot(userID, rules, catalog, memberships, version)
	s.cache.Put(ctx, snapshot)
	s.recordBuild("ok", start)
	return snapshot, nil
}

func (s *Service) recordBuild(outcome string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.SnapshotBuildsTotal.WithLabelValues(outcome).Inc()
	s.metrics.SnapshotBuildDuration.Observe(time.Since(start).Seconds())
}

// HasPermission reports whether the user holds the permission, optionally in
// the scopes named by checkCtx. Any internal failure denies.
func (s *Service) HasPermission(ctx context.Context, userID, permission string, checkCtx *CheckContext) bool {
	return s.CheckPermission(ctx, userID, permission, checkCtx).HasPermission
}

// CheckPermission is HasPermission with matched scopes and a human-readable
// reason for UI display and audit logging. It never returns an error: a
// failed basis lookup or unreachable store is logged and converted to a deny,
// because an error must not leak into a security decision.
func (s *Service) CheckPermission(ctx context.Context, userID, permission string, checkCtx *CheckContext) CheckResult {
	ctx, span := s.tracer.Start(ctx, "permissions.CheckPermission",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("permission", permission),
		))
	defer span.End()

	start := time.Now()

	snapshot, err := s.resolveSnapshot(ctx, userID)
	if err != nil {
		s.logger.WithError(err).WithFields(map[string]interface{}{
			"user_id":    userID,
			"permission": permission,
		}).Error("permission check failed, denying")
		s.recordCheck("error", start)
		return CheckResult{Reason: "permission check failed"}
	}

	result := Check(snapshot, permission, checkCtx)
	if result.HasPermission {
		s.recordCheck("granted", start)
	} else {
		s.recordCheck("denied", start)
	}
	return result
}

func (s *Service) recordCheck(result string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.PermissionChecksTotal.WithLabelValues(result).Inc()
	s.metrics.PermissionCheckDuration.Observe(time.Since(start).Seconds())
}

// CheckMultiplePermissions evaluates several permissions against one snapshot
// resolve. On internal failure every requested permission is denied rather
// than the batch failing opaquely.
func (s *Service) CheckMultiplePermissions(ctx context.Context, userID string, permissions []string, checkCtx *CheckContext) map[string]CheckResult {
	results := make(map[string]CheckResult, len(permissions))

	snapshot, err := s.resolveSnapshot(ctx, userID)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Error("bulk permission check failed, denying all")
		for _, p := range permissions {
			results[p] = CheckResult{Reason: "permission check failed"}
			s.recordCheck("error", time.Now())
		}
		return results
	}

	for _, p := range permissions {
		result := Check(snapshot, p, checkCtx)
		results[p] = result
	}
	return results
}

// RefreshUserPermissions drops the user's cached snapshot and recomputes it.
// Called when the user's own memberships change, e.g. a qualification grant.
func (s *Service) RefreshUserPermissions(ctx context.Context, userID string) (*UserPermissions, error) {
	s.cache.InvalidateUser(ctx, userID)
	return s.resolveSnapshot(ctx, userID)
}

// InvalidateUserPermissions drops one user's cached snapshot.
func (s *Service) InvalidateUserPermissions(ctx context.Context, userID string) {
	s.cache.InvalidateUser(ctx, userID)
}

// InvalidateAllPermissions stales every cached snapshot. Any rule change can
// affect an unbounded number of users, so rule mutations always funnel here.
func (s *Service) InvalidateAllPermissions(ctx context.Context) {
	s.cache.InvalidateAll(ctx)
	if s.metrics != nil {
		s.metrics.RuleSetVersion.Set(float64(s.cache.RuleVersion(ctx)))
	}
}

// GetGroupedPermissions returns the catalog grouped by category for the rule
// editor.
func (s *Service) GetGroupedPermissions(ctx context.Context) (map[PermissionCategory][]AppPermission, error) {
	catalog, err := s.store.GetPermissions(ctx)
	if err != nil {
		return nil, err
	}
	grouped := make(map[PermissionCategory][]AppPermission)
	for _, p := range catalog {
		grouped[p.Category] = append(grouped[p.Category], p)
	}
	return grouped, nil
}

// GetBasisOptions lists the selectable instances for a basis type.
func (s *Service) GetBasisOptions(ctx context.Context, basisType BasisType) ([]BasisOption, error) {
	return s.resolver.BasisOptions(ctx, basisType)
}

// GetPermissionRules lists rules, each labeled with its resolved basis name.
func (s *Service) GetPermissionRules(ctx context.Context, basisType *BasisType) ([]PermissionRule, error) {
	rules, err := s.store.ListRules(ctx, basisType)
	if err != nil {
		return nil, err
	}
	for i := range rules {
		rules[i].BasisName = s.resolver.ResolveBasisName(ctx, rules[i].BasisType, rules[i].BasisID)
	}
	return rules, nil
}

// CreatePermissionRule validates the basis reference, persists the rule, and
// invalidates every cached snapshot.
func (s *Service) CreatePermissionRule(ctx context.Context, input RuleInput, createdBy string) (*PermissionRule, error) {
	if err := s.validateBasisReference(ctx, input.BasisType, input.BasisID); err != nil {
		return nil, err
	}

	rule, err := s.store.CreateRule(ctx, input, createdBy)
	if err != nil {
		return nil, err
	}

	s.afterMutation(ctx, "create")
	rule.BasisName = s.resolver.ResolveBasisName(ctx, rule.BasisType, rule.BasisID)
	return rule, nil
}

// UpdatePermissionRule applies a partial update and invalidates the cache.
// The basis reference of the merged rule is validated whenever either basis
// field changes, so a rule cannot be re-pointed at an entity that does not
// exist.
func (s *Service) UpdatePermissionRule(ctx context.Context, id string, update RuleUpdate) (*PermissionRule, error) {
	if update.BasisType != nil || update.BasisID != nil {
		current, err := s.store.GetRule(ctx, id)
		if err != nil {
			return nil, err
		}

		basisType := current.BasisType
		if update.BasisType != nil {
			basisType = *update.BasisType
		}
		basisID := current.BasisID
		if update.BasisID != nil {
			basisID = update.BasisID
			if *update.BasisID == "" {
				basisID = nil
			}
		}
		if err := s.validateBasisReference(ctx, basisType, basisID); err != nil {
			return nil, err
		}
	}

	rule, err := s.store.UpdateRule(ctx, id, update)
	if err != nil {
		return nil, err
	}

	s.afterMutation(ctx, "update")
	rule.BasisName = s.resolver.ResolveBasisName(ctx, rule.BasisType, rule.BasisID)
	return rule, nil
}

// DeletePermissionRule removes a rule and invalidates the cache.
func (s *Service) DeletePermissionRule(ctx context.Context, id string) error {
	if err := s.store.DeleteRule(ctx, id); err != nil {
		return err
	}
	s.afterMutation(ctx, "delete")
	return nil
}

// BulkCreatePermissionRules inserts a batch and invalidates the cache when
// anything was created.
func (s *Service) BulkCreatePermissionRules(ctx context.Context, inputs []RuleInput, createdBy string) (*BulkCreateResult, error) {
	var precheckFailed []BulkCreateError
	valid := make([]RuleInput, 0, len(inputs))
	validIndex := make([]int, 0, len(inputs))

	for i, input := range inputs {
		if err := s.validateBasisReference(ctx, input.BasisType, input.BasisID); err != nil {
			var be *BackingStoreError
			if errors.As(err, &be) {
				return nil, err
			}
			// Validation failures are reported per-row, not as a batch error.
			precheckFailed = append(precheckFailed, BulkCreateError{Index: i, Error: err.Error()})
			continue
		}
		valid = append(valid, input)
		validIndex = append(validIndex, i)
	}

	result, err := s.store.BulkCreateRules(ctx, valid, createdBy)
	if err != nil {
		return nil, err
	}

	// The store reports failures by position within the subset it received;
	// remap them to the caller's indexes.
	for j := range result.Failed {
		result.Failed[j].Index = validIndex[result.Failed[j].Index]
	}
	result.Failed = append(result.Failed, precheckFailed...)
	sort.Slice(result.Failed, func(a, b int) bool { return result.Failed[a].Index < result.Failed[b].Index })

	if len(result.Created) > 0 {
		s.afterMutation(ctx, "bulk_create")
	}
	return result, nil
}

// CacheStats exposes cache counters for the operations dashboard.
func (s *Service) CacheStats(ctx context.Context) CacheStats {
	stats := s.cache.Stats(ctx)
	if s.metrics != nil {
		s.metrics.CacheEntries.Set(float64(stats.Entries))
		s.metrics.RuleSetVersion.Set(float64(stats.RuleVersion))
	}
	return stats
}

func (s *Service) afterMutation(ctx context.Context, operation string) {
	// Update first, then invalidate, so a reader observing the bumped
	// version always sees the mutated rule set on recompute.
	s.InvalidateAllPermissions(ctx)
	if s.metrics != nil {
		s.metrics.RuleMutationsTotal.WithLabelValues(operation).Inc()
	}
	s.logger.WithField("operation", operation).Info("permission rule set changed, cache invalidated")
}

func (s *Service) validateBasisReference(ctx context.Context, basisType BasisType, basisID *string) error {
	if !basisType.Valid() {
		return &ValidationError{Field: "basis_type", Message: "unknown basis type"}
	}
	if !basisType.RequiresBasisID() {
		return nil
	}
	if basisID == nil || *basisID == "" {
		return &ValidationError{Field: "basis_id", Message: "is required for this basis type"}
	}
	exists, err := s.resolver.BasisExists(ctx, basisType, *basisID)
	if err != nil {
		return err
	}
	if !exists {
		return &ValidationError{Field: "basis_id", Message: "referenced entity does not exist"}
	}
	return nil
}
