package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

// Every statement uses IF NOT EXISTS so two processes racing through
// migrate on a fresh file both succeed.
var migrations = []migration{
	{
		Version:     1,
		Description: "steps: append-only decision step log",
		SQL: `
CREATE TABLE IF NOT EXISTS steps (
    id                         INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at                 TEXT NOT NULL,
    template_id                TEXT NOT NULL,
    hidden_state_json          TEXT NOT NULL,
    observation_json           TEXT NOT NULL,
    policy_id                  TEXT NOT NULL,
    predicted_observation_json TEXT NOT NULL,
    notes_json                 TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_steps_template ON steps(template_id, id DESC);
CREATE INDEX IF NOT EXISTS idx_steps_policy   ON steps(policy_id, id DESC);
`,
	},
	{
		Version:     2,
		Description: "steps: reject updates and deletes",
		SQL: `
CREATE TRIGGER IF NOT EXISTS steps_no_update BEFORE UPDATE ON steps
BEGIN
    SELECT RAISE(ABORT, 'steps are append-only');
END;

CREATE TRIGGER IF NOT EXISTS steps_no_delete BEFORE DELETE ON steps
BEGIN
    SELECT RAISE(ABORT, 'steps are append-only');
END;
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT OR IGNORE INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// LatestSchemaVersion is the version a freshly initialised database reaches.
func LatestSchemaVersion() int {
	return migrations[len(migrations)-1].Version
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
