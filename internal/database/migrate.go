package database

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// getSchemaVersion reads PRAGMA user_version from the database.
func getSchemaVersion(conn *sql.DB) (int, error) {
	var version int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

// isLegacyDB reports whether review_responses already exists. It is only
// consulted at user_version 0. review_responses is the one table the external
// warehouse loader writes; the summary, grade, tag and run tables are ours, so
// its presence alone marks a warehouse that predates our migrations.
func isLegacyDB(conn *sql.DB) (bool, error) {
	var count int
	err := conn.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='review_responses'",
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking for legacy tables: %w", err)
	}
	return count > 0, nil
}

// migrate brings the database schema up to the latest version.
// It uses PRAGMA user_version to track which migrations have been applied.
func migrate(conn *sql.DB, logger *zap.Logger) error {
	current, err := getSchemaVersion(conn)
	if err != nil {
		return err
	}

	// A legacy warehouse is not stamped as current: its output tables do not
	// exist yet, so it runs every migration from 1. Migration 1 only uses
	// IF NOT EXISTS and leaves the loaded reviews in place.
	if current == 0 {
		legacy, err := isLegacyDB(conn)
		if err != nil {
			return err
		}
		if legacy {
			logger.Info("detected legacy warehouse, creating missing output tables")
		}
	}

	if current >= latestVersion() {
		return nil
	}
	for _, m := range migrations {
		if m.Version > current {
			if err := applyMigration(conn, m, logger); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyMigration runs one migration in a transaction, then records its
// version. modernc/sqlite refuses PRAGMA user_version inside the transaction;
// a crash between the two steps re-runs the idempotent DDL on next open.
func applyMigration(conn *sql.DB, m Migration, logger *zap.Logger) error {
	logger.Info("applying migration", zap.Int("version", m.Version), zap.String("description", m.Description))

	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	if err := m.Up(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
		return fmt.Errorf("recording schema version %d: %w", m.Version, err)
	}
	return nil
}
