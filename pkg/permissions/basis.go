package permissions

import (
	"context"
	"database/sql"
	"fmt"
)

// basisSource describes one basis type: how to label an instance, how to list
// the selectable instances, and how it participates in membership resolution.
// All per-type dispatch goes through the registry below, so a new basis type
// is one new entry here rather than edits scattered across call sites.
type basisSource struct {
	Type BasisType

	// FixedLabel is used for basis types that carry no entity reference.
	FixedLabel string

	// nameQuery selects the label columns for one instance by id.
	nameQuery string
	// format renders the scanned columns into a display label.
	format func(cols []sql.NullString) string
	// optionsQuery lists selectable instances as (id, label columns...).
	optionsQuery string

	// labelCols is the number of label columns nameQuery/optionsQuery select
	// after the id.
	labelCols int
}

func basisRegistry() map[BasisType]basisSource {
	single := func(cols []sql.NullString) string { return cols[0].String }
	designated := func(cols []sql.NullString) string {
		if cols[0].Valid && cols[0].String != "" {
			return cols[0].String + " " + cols[1].String
		}
		return cols[1].String
	}

	return map[BasisType]basisSource{
		BasisStanding: {
			Type:         BasisStanding,
			nameQuery:    `SELECT name FROM standings WHERE id = $1`,
			optionsQuery: `SELECT id, name FROM standings ORDER BY display_order ASC, name ASC`,
			format:       single,
			labelCols:    1,
		},
		BasisQualification: {
			Type:         BasisQualification,
			nameQuery:    `SELECT name FROM qualifications WHERE id = $1`,
			optionsQuery: `SELECT id, name FROM qualifications WHERE active = TRUE ORDER BY name ASC`,
			format:       single,
			labelCols:    1,
		},
		BasisBillet: {
			Type:         BasisBillet,
			nameQuery:    `SELECT name FROM billets WHERE id = $1`,
			optionsQuery: `SELECT id, name FROM billets ORDER BY display_order ASC, name ASC`,
			format:       single,
			labelCols:    1,
		},
		BasisTeam: {
			Type:         BasisTeam,
			nameQuery:    `SELECT name FROM teams WHERE id = $1`,
			optionsQuery: `SELECT id, name FROM teams WHERE active = TRUE ORDER BY name ASC`,
			format:       single,
			labelCols:    1,
		},
		BasisSquadron: {
			Type:         BasisSquadron,
			nameQuery:    `SELECT designation, name FROM squadrons WHERE id = $1`,
			optionsQuery: `SELECT id, designation, name FROM squadrons ORDER BY designation ASC`,
			format:       designated,
			labelCols:    2,
		},
		BasisWing: {
			Type:         BasisWing,
			nameQuery:    `SELECT designation, name FROM wings WHERE id = $1`,
			optionsQuery: `SELECT id, designation, name FROM wings ORDER BY designation ASC`,
			format:       designated,
			labelCols:    2,
		},
		BasisAuthenticatedUser: {
			Type:       BasisAuthenticatedUser,
			FixedLabel: "All Authenticated Users",
		},
		BasisManualOverride: {
			Type:       BasisManualOverride,
			FixedLabel: "Manual Override",
		},
	}
}

// Resolver answers "which basis instances does this user hold" and resolves
// basis ids to display labels. It reads the roster tables and never writes.
type Resolver struct {
	db       *sql.DB
	registry map[BasisType]basisSource
}

// NewResolver creates a basis resolver over the roster database.
func NewResolver(db *sql.DB) *Resolver {
	return &Resolver{db: db, registry: basisRegistry()}
}

// MembershipsFor resolves every basis membership the user currently holds:
// standing/billet/squadron from the pilot profile, active qualifications,
// active team memberships, and the wing implied by squadron affiliation.
func (r *Resolver) MembershipsFor(ctx context.Context, userID string) (Memberships, error) {
	var m Memberships

	var standingID, billetID, squadronID sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT standing_id, billet_id, squadron_id FROM pilots WHERE id = $1`,
		userID,
	).Scan(&standingID, &billetID, &squadronID)
	if err == sql.ErrNoRows {
		// Unknown pilots hold nothing; authenticated_user rules still apply.
		return m, nil
	}
	if err != nil {
		return m, storeErr("resolve pilot profile", err)
	}

	if standingID.Valid {
		m.StandingIDs = append(m.StandingIDs, standingID.String)
	}
	if billetID.Valid {
		m.BilletIDs = append(m.BilletIDs, billetID.String)
	}
	if squadronID.Valid {
		m.SquadronIDs = append(m.SquadronIDs, squadronID.String)

		// Squadron membership implies membership in the parent wing.
		var wingID sql.NullString
		err := r.db.QueryRowContext(ctx,
			`SELECT wing_id FROM squadrons WHERE id = $1`,
			squadronID.String,
		).Scan(&wingID)
		if err != nil && err != sql.ErrNoRows {
			return m, storeErr("resolve squadron wing", err)
		}
		if wingID.Valid {
			m.WingIDs = append(m.WingIDs, wingID.String)
		}
	}

	m.QualificationIDs, err = r.queryIDs(ctx,
		`SELECT pq.qualification_id
		 FROM pilot_qualifications pq
		 JOIN qualifications q ON q.id = pq.qualification_id
		 WHERE pq.pilot_id = $1 AND pq.active = TRUE AND q.active = TRUE`,
		userID)
	if err != nil {
		return m, storeErr("resolve qualifications", err)
	}

	m.TeamIDs, err = r.queryIDs(ctx,
		`SELECT tm.team_id
		 FROM team_members tm
		 JOIN teams t ON t.id = tm.team_id
		 WHERE tm.pilot_id = $1 AND t.active = TRUE`,
		userID)
	if err != nil {
		return m, storeErr("resolve teams", err)
	}

	return m, nil
}

func (r *Resolver) queryIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ResolveBasisName formats a display label for a basis instance. Lookup
// failures degrade to a placeholder so that rule listings survive dangling
// references to deleted entities.
func (r *Resolver) ResolveBasisName(ctx context.Context, basisType BasisType, basisID *string) string {
	source, ok := r.registry[basisType]
	if !ok {
		return "Unknown Basis"
	}
	if source.FixedLabel != "" {
		return source.FixedLabel
	}
	if basisID == nil || *basisID == "" {
		return unknownLabel(basisType)
	}

	cols := make([]sql.NullString, source.labelCols)
	dest := make([]interface{}, source.labelCols)
	for i := range cols {
		dest[i] = &cols[i]
	}
	if err := r.db.QueryRowContext(ctx, source.nameQuery, *basisID).Scan(dest...); err != nil {
		return unknownLabel(basisType)
	}
	return source.format(cols)
}

// BasisExists reports whether the referenced basis instance exists in its
// owning table. Types without an entity reference always exist.
func (r *Resolver) BasisExists(ctx context.Context, basisType BasisType, basisID string) (bool, error) {
	source, ok := r.registry[basisType]
	if !ok {
		return false, nil
	}
	if source.nameQuery == "" {
		return true, nil
	}

	cols := make([]sql.NullString, source.labelCols)
	dest := make([]interface{}, source.labelCols)
	for i := range cols {
		dest[i] = &cols[i]
	}
	err := r.db.QueryRowContext(ctx, source.nameQuery, basisID).Scan(dest...)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, storeErr("check basis existence", err)
	}
	return true, nil
}

// BasisOptions lists the selectable instances for a basis type, for the rule
// editor's dropdown. Types without an entity reference return no options.
func (r *Resolver) BasisOptions(ctx context.Context, basisType BasisType) ([]BasisOption, error) {
	source, ok := r.registry[basisType]
	if !ok {
		return nil, &ValidationError{Field: "basis_type", Message: fmt.Sprintf("unknown basis type %q", basisType)}
	}
	if source.optionsQuery == "" {
		return []BasisOption{}, nil
	}

	rows, err := r.db.QueryContext(ctx, source.optionsQuery)
	if err != nil {
		return nil, storeErr("list basis options", err)
	}
	defer rows.Close()

	var options []BasisOption
	for rows.Next() {
		var id string
		cols := make([]sql.NullString, source.labelCols)
		dest := make([]interface{}, 0, source.labelCols+1)
		dest = append(dest, &id)
		for i := range cols {
			dest = append(dest, &cols[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, storeErr("scan basis option", err)
		}
		options = append(options, BasisOption{ID: id, Name: source.format(cols)})
	}
	return options, rows.Err()
}

func unknownLabel(bt BasisType) string {
	switch bt {
	case BasisStanding:
		return "Unknown Standing"
	case BasisQualification:
		return "Unknown Qualification"
	case BasisBillet:
		return "Unknown Billet"
	case BasisTeam:
		return "Unknown Team"
	case BasisSquadron:
		return "Unknown Squadron"
	case BasisWing:
		return "Unknown Wing"
	}
	return "Unknown Basis"
}
