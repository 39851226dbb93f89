package permissions

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all permission engine migrations. The roster tables
// (wings through pilot_qualifications) are owned by the roster CRUD surface;
// the engine creates them here so a fresh database can run standalone.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create wings and squadrons tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS wings (
					id UUID PRIMARY KEY,
					designation VARCHAR(32) NOT NULL,
					name VARCHAR(255) NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS squadrons (
					id UUID PRIMARY KEY,
					designation VARCHAR(32) NOT NULL,
					name VARCHAR(255) NOT NULL,
					wing_id UUID REFERENCES wings(id) ON DELETE SET NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_squadrons_wing_id ON squadrons(wing_id);
			`,
		},
		{
			Version:     2,
			Description: "Create standings, billets, and qualifications tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS standings (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					display_order INT NOT NULL DEFAULT 0
				);

				CREATE TABLE IF NOT EXISTS billets (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					display_order INT NOT NULL DEFAULT 0
				);

				CREATE TABLE IF NOT EXISTS qualifications (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					active BOOLEAN NOT NULL DEFAULT TRUE
				);
			`,
		},
		{
			Version:     3,
			Description: "Create pilots and pilot_qualifications tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS pilots (
					id UUID PRIMARY KEY,
					callsign VARCHAR(255) NOT NULL,
					standing_id UUID REFERENCES standings(id) ON DELETE SET NULL,
					billet_id UUID REFERENCES billets(id) ON DELETE SET NULL,
					squadron_id UUID REFERENCES squadrons(id) ON DELETE SET NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS pilot_qualifications (
					pilot_id UUID NOT NULL REFERENCES pilots(id) ON DELETE CASCADE,
					qualification_id UUID NOT NULL REFERENCES qualifications(id) ON DELETE CASCADE,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					granted_at TIMESTAMP NOT NULL DEFAULT NOW(),
					PRIMARY KEY (pilot_id, qualification_id)
				);

				CREATE INDEX idx_pilots_squadron_id ON pilots(squadron_id);
				CREATE INDEX idx_pilot_qualifications_pilot_id ON pilot_qualifications(pilot_id);
			`,
		},
		{
			Version:     4,
			Description: "Create teams and team_members tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS teams (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS team_members (
					team_id UUID NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
					pilot_id UUID NOT NULL REFERENCES pilots(id) ON DELETE CASCADE,
					added_at TIMESTAMP NOT NULL DEFAULT NOW(),
					PRIMARY KEY (team_id, pilot_id)
				);

				CREATE INDEX idx_team_members_pilot_id ON team_members(pilot_id);
			`,
		},
		{
			Version:     5,
			Description: "Create app_permissions catalog table",
			SQL: `
				CREATE TABLE IF NOT EXISTS app_permissions (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					display_name VARCHAR(255) NOT NULL,
					description TEXT,
					category VARCHAR(50) NOT NULL DEFAULT 'other',
					scope_type VARCHAR(20) NOT NULL DEFAULT 'unscoped',
					available_scopes TEXT,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_app_permissions_category ON app_permissions(category);
			`,
		},
		{
			Version:     6,
			Description: "Create permission_rules table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permission_rules (
					id UUID PRIMARY KEY,
					permission_id UUID NOT NULL REFERENCES app_permissions(id) ON DELETE CASCADE,
					basis_type VARCHAR(50) NOT NULL,
					basis_id UUID,
					scope VARCHAR(255),
					active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					created_by VARCHAR(255)
				);

				CREATE INDEX idx_permission_rules_permission_id ON permission_rules(permission_id);
				CREATE INDEX idx_permission_rules_basis_type ON permission_rules(basis_type);
				CREATE INDEX idx_permission_rules_active ON permission_rules(active);
			`,
		},
	}
}

// RunMigrations applies all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	// Create migrations tracking table
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS permission_migrations (
			version INT PRIMARY KEY,
			description TEXT,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, migration := range GetMigrations() {
		var applied bool
		err := db.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM permission_migrations WHERE version = $1)",
			migration.Version,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", migration.Version, err)
		}
		if applied {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO permission_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
