package db

import (
	"fmt"
	"log"
)

// RunMigrations applies any pending database migrations
func (db *DB) RunMigrations() error {
	// Run issue sync columns migration
	if err := db.runIssueSyncMigration(); err != nil {
		return err
	}

	return nil
}

func (db *DB) runIssueSyncMigration() error {
	// Check if issue sync columns exist
	var count int
	err := db.conn.QueryRow(`
		SELECT COUNT(*)
		FROM pragma_table_info('tasks')
		WHERE name IN ('project_id', 'issue_id', 'issue_points', 'issue_last_updated', 'issue_was_updated')
	`).Scan(&count)

	if err != nil {
		return fmt.Errorf("checking for issue sync columns: %w", err)
	}

	// If columns don't exist, add them
	if count < 5 {
		log.Println("Running migration: Adding issue sync columns...")

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("starting transaction: %w", err)
		}
		defer tx.Rollback()

		columns := []struct {
			name string
			ddl  string
		}{
			{"project_id", `ALTER TABLE tasks ADD COLUMN project_id TEXT NOT NULL DEFAULT ''`},
			{"issue_id", `ALTER TABLE tasks ADD COLUMN issue_id TEXT NOT NULL DEFAULT ''`},
			{"issue_points", `ALTER TABLE tasks ADD COLUMN issue_points INTEGER NOT NULL DEFAULT 0`},
			{"issue_last_updated", `ALTER TABLE tasks ADD COLUMN issue_last_updated INTEGER NOT NULL DEFAULT 0`},
			{"issue_was_updated", `ALTER TABLE tasks ADD COLUMN issue_was_updated BOOLEAN NOT NULL DEFAULT 0`},
		}

		for _, col := range columns {
			_, err = tx.Exec(col.ddl)
			if err != nil && err.Error() != "duplicate column name: "+col.name {
				return fmt.Errorf("adding %s column: %w", col.name, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration: %w", err)
		}

		log.Println("Migration completed successfully")
	}

	return nil
}
