package permissions

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolverTest(t *testing.T) (*Resolver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewResolver(db), mock
}

func TestResolver_MembershipsFor(t *testing.T) {
	ctx := context.Background()
	resolver, mock := newResolverTest(t)

	mock.ExpectQuery(`FROM pilots WHERE id`).
		WithArgs("pilot-1").
		WillReturnRows(sqlmock.NewRows([]string{"standing_id", "billet_id", "squadron_id"}).
			AddRow("standing-active", "billet-co", "sq-101"))
	mock.ExpectQuery(`SELECT wing_id FROM squadrons WHERE id`).
		WithArgs("sq-101").
		WillReturnRows(sqlmock.NewRows([]string{"wing_id"}).AddRow("wing-1"))
	mock.ExpectQuery(`FROM pilot_qualifications`).
		WithArgs("pilot-1").
		WillReturnRows(sqlmock.NewRows([]string{"qualification_id"}).
			AddRow("qual-lead").
			AddRow("qual-lso"))
	mock.ExpectQuery(`FROM team_members`).
		WithArgs("pilot-1").
		WillReturnRows(sqlmock.NewRows([]string{"team_id"}).AddRow("team-training"))

	m, err := resolver.MembershipsFor(ctx, "pilot-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"standing-active"}, m.StandingIDs)
	assert.Equal(t, []string{"billet-co"}, m.BilletIDs)
	assert.Equal(t, []string{"sq-101"}, m.SquadronIDs)
	assert.Equal(t, []string{"wing-1"}, m.WingIDs)
	assert.Equal(t, []string{"qual-lead", "qual-lso"}, m.QualificationIDs)
	assert.Equal(t, []string{"team-training"}, m.TeamIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolver_MembershipsFor_UnknownPilot(t *testing.T) {
	ctx := context.Background()
	resolver, mock := newResolverTest(t)

	mock.ExpectQuery(`FROM pilots WHERE id`).
		WithArgs("pilot-ghost").
		WillReturnRows(sqlmock.NewRows([]string{"standing_id", "billet_id", "squadron_id"}))

	m, err := resolver.MembershipsFor(ctx, "pilot-ghost")
	require.NoError(t, err)
	assert.Empty(t, m.StandingIDs)
	assert.Empty(t, m.SquadronIDs)
	assert.Empty(t, m.WingIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolver_MembershipsFor_UnassignedPilot(t *testing.T) {
	ctx := context.Background()
	resolver, mock := newResolverTest(t)

	// No squadron means no wing lookup.
	mock.ExpectQuery(`FROM pilots WHERE id`).
		WillReturnRows(sqlmock.NewRows([]string{"standing_id", "billet_id", "squadron_id"}).
			AddRow("standing-reserve", nil, nil))
	mock.ExpectQuery(`FROM pilot_qualifications`).
		WillReturnRows(sqlmock.NewRows([]string{"qualification_id"}))
	mock.ExpectQuery(`FROM team_members`).
		WillReturnRows(sqlmock.NewRows([]string{"team_id"}))

	m, err := resolver.MembershipsFor(ctx, "pilot-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"standing-reserve"}, m.StandingIDs)
	assert.Empty(t, m.BilletIDs)
	assert.Empty(t, m.WingIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolver_MembershipsFor_StoreError(t *testing.T) {
	ctx := context.Background()
	resolver, mock := newResolverTest(t)

	mock.ExpectQuery(`FROM pilots WHERE id`).
		WillReturnError(errors.New("connection reset"))

	_, err := resolver.MembershipsFor(ctx, "pilot-1")
	var be *BackingStoreError
	assert.ErrorAs(t, err, &be)
}

func TestResolver_ResolveBasisName(t *testing.T) {
	ctx := context.Background()

	t.Run("squadron with designation", func(t *testing.T) {
		resolver, mock := newResolverTest(t)
		mock.ExpectQuery(`SELECT designation, name FROM squadrons WHERE id`).
			WithArgs("sq-101").
			WillReturnRows(sqlmock.NewRows([]string{"designation", "name"}).AddRow("VF-101", "Grim Reapers"))

		assert.Equal(t, "VF-101 Grim Reapers", resolver.ResolveBasisName(ctx, BasisSquadron, strPtr("sq-101")))
	})

	t.Run("billet", func(t *testing.T) {
		resolver, mock := newResolverTest(t)
		mock.ExpectQuery(`SELECT name FROM billets WHERE id`).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Commanding Officer"))

		assert.Equal(t, "Commanding Officer", resolver.ResolveBasisName(ctx, BasisBillet, strPtr("billet-co")))
	})

	t.Run("dangling reference degrades to placeholder", func(t *testing.T) {
		resolver, mock := newResolverTest(t)
		mock.ExpectQuery(`SELECT designation, name FROM squadrons WHERE id`).
			WillReturnRows(sqlmock.NewRows([]string{"designation", "name"}))

		assert.Equal(t, "Unknown Squadron", resolver.ResolveBasisName(ctx, BasisSquadron, strPtr("sq-deleted")))
	})

	t.Run("fixed labels need no database", func(t *testing.T) {
		resolver, _ := newResolverTest(t)
		assert.Equal(t, "All Authenticated Users", resolver.ResolveBasisName(ctx, BasisAuthenticatedUser, nil))
		assert.Equal(t, "Manual Override", resolver.ResolveBasisName(ctx, BasisManualOverride, nil))
	})

	t.Run("missing basis id", func(t *testing.T) {
		resolver, _ := newResolverTest(t)
		assert.Equal(t, "Unknown Wing", resolver.ResolveBasisName(ctx, BasisWing, nil))
	})

	t.Run("unknown basis type", func(t *testing.T) {
		resolver, _ := newResolverTest(t)
		assert.Equal(t, "Unknown Basis", resolver.ResolveBasisName(ctx, BasisType("rank"), strPtr("x")))
	})
}

func TestResolver_BasisExists(t *testing.T) {
	ctx := context.Background()

	t.Run("existing entity", func(t *testing.T) {
		resolver, mock := newResolverTest(t)
		mock.ExpectQuery(`SELECT name FROM qualifications WHERE id`).
			WithArgs("qual-lead").
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Flight Lead"))

		exists, err := resolver.BasisExists(ctx, BasisQualification, "qual-lead")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("missing entity", func(t *testing.T) {
		resolver, mock := newResolverTest(t)
		mock.ExpectQuery(`SELECT name FROM qualifications WHERE id`).
			WillReturnRows(sqlmock.NewRows([]string{"name"}))

		exists, err := resolver.BasisExists(ctx, BasisQualification, "qual-ghost")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("entity-free types always exist", func(t *testing.T) {
		resolver, _ := newResolverTest(t)
		exists, err := resolver.BasisExists(ctx, BasisAuthenticatedUser, "")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("unknown basis type", func(t *testing.T) {
		resolver, _ := newResolverTest(t)
		exists, err := resolver.BasisExists(ctx, BasisType("rank"), "x")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestResolver_BasisOptions(t *testing.T) {
	ctx := context.Background()

	t.Run("wings formatted with designation", func(t *testing.T) {
		resolver, mock := newResolverTest(t)
		mock.ExpectQuery(`SELECT id, designation, name FROM wings`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "designation", "name"}).
				AddRow("wing-1", "CVW-8", "Carrier Air Wing Eight").
				AddRow("wing-2", nil, "Training Wing"))

		options, err := resolver.BasisOptions(ctx, BasisWing)
		require.NoError(t, err)
		require.Len(t, options, 2)
		assert.Equal(t, BasisOption{ID: "wing-1", Name: "CVW-8 Carrier Air Wing Eight"}, options[0])
		assert.Equal(t, BasisOption{ID: "wing-2", Name: "Training Wing"}, options[1])
	})

	t.Run("entity-free types have no options", func(t *testing.T) {
		resolver, _ := newResolverTest(t)
		options, err := resolver.BasisOptions(ctx, BasisManualOverride)
		require.NoError(t, err)
		assert.Empty(t, options)
	})

	t.Run("unknown basis type", func(t *testing.T) {
		resolver, _ := newResolverTest(t)
		_, err := resolver.BasisOptions(ctx, BasisType("rank"))
		assert.True(t, IsValidation(err))
	})
}
