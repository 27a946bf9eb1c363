// Package database holds the SQLite schema and migration machinery for the
// chat relay. Migrations are embedded in the binary and applied in version
// order inside transactions, tracked by a schema_migrations table.
package database

import (
	"database/sql"
	"fmt"
	"sort"
)

// Migration is one versioned schema change.
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// Migrations is the full ordered history of the relay schema.
var Migrations = []Migration{
	{
		Version:     "001",
		Description: "initial schema",
		SQL: `
			CREATE TABLE IF NOT EXISTS users (
				id         TEXT PRIMARY KEY,
				username   TEXT NOT NULL UNIQUE,
				created_at DATETIME NOT NULL
			);

			CREATE TABLE IF NOT EXISTS messages (
				id        TEXT PRIMARY KEY,
				user_id   TEXT NOT NULL REFERENCES users(id),
				content   TEXT NOT NULL,
				send_time DATETIME NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);
			CREATE INDEX IF NOT EXISTS idx_messages_user_time ON messages(user_id, send_time);
			CREATE INDEX IF NOT EXISTS idx_messages_send_time ON messages(send_time);
		`,
	},
}

// ApplyMigrations brings the database up to the current schema version. Each
// pending migration runs in its own transaction and is recorded once applied.
func ApplyMigrations(db *sql.DB) error {
	if err := createMigrationTable(db); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	applied, err := appliedVersions(db)
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	migrations := make([]Migration, len(Migrations))
	copy(migrations, Migrations)
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}
		if err := applyMigration(db, migration); err != nil {
			return fmt.Errorf("failed to apply migration %s (%s): %w",
				migration.Version, migration.Description, err)
		}
	}

	return nil
}

func createMigrationTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func appliedVersions(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	versions := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions[version] = true
	}
	return versions, rows.Err()
}

func applyMigration(db *sql.DB, migration Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
		return err
	}
	return tx.Commit()
}
