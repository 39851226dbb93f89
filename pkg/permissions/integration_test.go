package permissions

import (
	"context"
	"database/sql"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingops/wingops/pkg/observability"
)

type rosterFixture struct {
	wingID      string
	squadronID  string
	standingID  string
	billetID    string
	qualID      string
	teamID      string
	pilotID     string
	permRoster  string
	permMission string
}

func seedRoster(t *testing.T, db *sql.DB) rosterFixture {
	t.Helper()
	ctx := context.Background()

	f := rosterFixture{
		wingID:      uuid.NewString(),
		squadronID:  uuid.NewString(),
		standingID:  uuid.NewString(),
		billetID:    uuid.NewString(),
		qualID:      uuid.NewString(),
		teamID:      uuid.NewString(),
		pilotID:     uuid.NewString(),
		permRoster:  uuid.NewString(),
		permMission: uuid.NewString(),
	}

	exec := func(query string, args ...interface{}) {
		t.Helper()
		_, err := db.ExecContext(ctx, query, args...)
		require.NoError(t, err)
	}

	exec(`INSERT INTO wings (id, designation, name) VALUES ($1, 'CVW-8', 'Carrier Air Wing Eight')`, f.wingID)
	exec(`INSERT INTO squadrons (id, designation, name, wing_id) VALUES ($1, 'VF-101', 'Grim Reapers', $2)`, f.squadronID, f.wingID)
	exec(`INSERT INTO standings (id, name) VALUES ($1, 'Active')`, f.standingID)
	exec(`INSERT INTO billets (id, name) VALUES ($1, 'Commanding Officer')`, f.billetID)
	exec(`INSERT INTO qualifications (id, name, active) VALUES ($1, 'Flight Lead', TRUE)`, f.qualID)
	exec(`INSERT INTO teams (id, name, active) VALUES ($1, 'Training', TRUE)`, f.teamID)
	exec(`INSERT INTO pilots (id, callsign, standing_id, billet_id, squadron_id) VALUES ($1, 'Maverick', $2, $3, $4)`,
		f.pilotID, f.standingID, f.billetID, f.squadronID)
	exec(`INSERT INTO pilot_qualifications (pilot_id, qualification_id, active) VALUES ($1, $2, TRUE)`, f.pilotID, f.qualID)
	exec(`INSERT INTO team_members (team_id, pilot_id) VALUES ($1, $2)`, f.teamID, f.pilotID)

	exec(`INSERT INTO app_permissions (id, name, display_name, category, scope_type) VALUES ($1, $2, 'View Roster', 'roster', 'unscoped')`,
		f.permRoster, "view_roster_"+f.permRoster[:8])
	exec(`INSERT INTO app_permissions (id, name, display_name, category, scope_type) VALUES ($1, $2, 'Plan Missions', 'mission_prep', 'scoped')`,
		f.permMission, "plan_missions_"+f.permMission[:8])

	t.Cleanup(func() {
		for _, stmt := range []string{
			`DELETE FROM permission_rules WHERE permission_id IN ($1, $2)`,
			`DELETE FROM app_permissions WHERE id IN ($1, $2)`,
		} {
			db.ExecContext(ctx, stmt, f.permRoster, f.permMission)
		}
		db.ExecContext(ctx, `DELETE FROM pilots WHERE id = $1`, f.pilotID)
		db.ExecContext(ctx, `DELETE FROM teams WHERE id = $1`, f.teamID)
		db.ExecContext(ctx, `DELETE FROM qualifications WHERE id = $1`, f.qualID)
		db.ExecContext(ctx, `DELETE FROM billets WHERE id = $1`, f.billetID)
		db.ExecContext(ctx, `DELETE FROM standings WHERE id = $1`, f.standingID)
		db.ExecContext(ctx, `DELETE FROM squadrons WHERE id = $1`, f.squadronID)
		db.ExecContext(ctx, `DELETE FROM wings WHERE id = $1`, f.wingID)
	})

	return f
}

func TestIntegration_PermissionLifecycle(t *testing.T) {
	db := RequireDatabase(t)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, RunMigrations(ctx, db))

	f := seedRoster(t, db)

	store := NewStore(db)
	resolver := NewResolver(db)
	cache := NewMemoryCache(64, 0)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	service := NewService(store, resolver, cache, logger, nil)

	rosterPerm := "view_roster_" + f.permRoster[:8]
	missionPerm := "plan_missions_" + f.permMission[:8]

	t.Run("memberships resolved from roster", func(t *testing.T) {
		m, err := resolver.MembershipsFor(ctx, f.pilotID)
		require.NoError(t, err)
		assert.Equal(t, []string{f.standingID}, m.StandingIDs)
		assert.Equal(t, []string{f.billetID}, m.BilletIDs)
		assert.Equal(t, []string{f.squadronID}, m.SquadronIDs)
		assert.Equal(t, []string{f.wingID}, m.WingIDs)
		assert.Equal(t, []string{f.qualID}, m.QualificationIDs)
		assert.Equal(t, []string{f.teamID}, m.TeamIDs)
	})

	t.Run("billet rule grants and deactivation revokes", func(t *testing.T) {
		rule, err := service.CreatePermissionRule(ctx, RuleInput{
			PermissionID: f.permRoster,
			BasisType:    BasisBillet,
			BasisID:      &f.billetID,
		}, "integration-test")
		require.NoError(t, err)
		assert.Equal(t, "Commanding Officer", rule.BasisName)

		assert.True(t, service.HasPermission(ctx, f.pilotID, rosterPerm, nil))

		inactive := false
		_, err = service.UpdatePermissionRule(ctx, rule.ID, RuleUpdate{Active: &inactive})
		require.NoError(t, err)

		assert.False(t, service.HasPermission(ctx, f.pilotID, rosterPerm, nil))
	})

	t.Run("duplicate active grant is rejected", func(t *testing.T) {
		rule, err := service.CreatePermissionRule(ctx, RuleInput{
			PermissionID: f.permRoster,
			BasisType:    BasisQualification,
			BasisID:      &f.qualID,
		}, "integration-test")
		require.NoError(t, err)

		// The duplicate check binds against the live uuid-typed id column.
		_, err = service.CreatePermissionRule(ctx, RuleInput{
			PermissionID: f.permRoster,
			BasisType:    BasisQualification,
			BasisID:      &f.qualID,
		}, "integration-test")
		assert.True(t, IsValidation(err), "expected validation error, got %v", err)

		require.NoError(t, service.DeletePermissionRule(ctx, rule.ID))
	})

	t.Run("wing rule reaches squadron members", func(t *testing.T) {
		rule, err := service.CreatePermissionRule(ctx, RuleInput{
			PermissionID: f.permMission,
			BasisType:    BasisWing,
			BasisID:      &f.wingID,
			Scope:        &f.squadronID,
		}, "integration-test")
		require.NoError(t, err)

		result := service.CheckPermission(ctx, f.pilotID, missionPerm, &CheckContext{ScopeIDs: []string{f.squadronID}})
		assert.True(t, result.HasPermission)
		assert.Equal(t, []string{f.squadronID}, result.MatchingScopes)

		require.NoError(t, service.DeletePermissionRule(ctx, rule.ID))
		assert.False(t, service.HasPermission(ctx, f.pilotID, missionPerm, nil))
	})

	t.Run("manual override targets one pilot", func(t *testing.T) {
		rule, err := service.CreatePermissionRule(ctx, RuleInput{
			PermissionID: f.permRoster,
			BasisType:    BasisManualOverride,
			Scope:        &f.pilotID,
		}, "integration-test")
		require.NoError(t, err)

		assert.True(t, service.HasPermission(ctx, f.pilotID, rosterPerm, nil))
		assert.False(t, service.HasPermission(ctx, uuid.NewString(), rosterPerm, nil))

		require.NoError(t, service.DeletePermissionRule(ctx, rule.ID))
	})

	t.Run("basis options list roster entities", func(t *testing.T) {
		options, err := service.GetBasisOptions(ctx, BasisSquadron)
		require.NoError(t, err)

		var found bool
		for _, opt := range options {
			if opt.ID == f.squadronID {
				found = true
				assert.Equal(t, "VF-101 Grim Reapers", opt.Name)
			}
		}
		assert.True(t, found, "expected seeded squadron in options")
	})
}
