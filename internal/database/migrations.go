package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS review_responses (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    primary_key TEXT,
    date TEXT NOT NULL,
    review_rating REAL,
    review_comment TEXT,
    review_source TEXT NOT NULL,
    imported_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS review_summaries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    week_start TEXT NOT NULL,
    week_end TEXT NOT NULL,
    wins_summary TEXT NOT NULL,
    opps_summary TEXT NOT NULL,
    review_count INTEGER DEFAULT 0,
    insert_timestamp_utc TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS review_sentiment_grades (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    week_start TEXT NOT NULL,
    week_end TEXT NOT NULL,
    review_category TEXT NOT NULL,
    sentiment_grade TEXT,
    count_of_mentions INTEGER DEFAULT 0 CHECK(count_of_mentions >= 0),
    mapping_version TEXT NOT NULL,
    insert_timestamp_utc TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tagged_reviews (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    review_foreign_key TEXT NOT NULL,
    category TEXT NOT NULL,
    keyword TEXT NOT NULL,
    review_comment TEXT,
    review_date TEXT NOT NULL,
    mapping_version TEXT NOT NULL,
    week_start TEXT NOT NULL,
    week_end TEXT NOT NULL,
    load_ts_utc TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_reports (
    run_id TEXT PRIMARY KEY,
    week_start TEXT NOT NULL,
    week_end TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('ok', 'partial', 'failed')),
    review_count INTEGER DEFAULT 0,
    detail TEXT,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reviews_source_date ON review_responses(review_source, date);
CREATE INDEX IF NOT EXISTS idx_summaries_week ON review_summaries(week_start, week_end);
CREATE INDEX IF NOT EXISTS idx_grades_week ON review_sentiment_grades(week_start, week_end, mapping_version);
CREATE INDEX IF NOT EXISTS idx_tags_week ON tagged_reviews(week_start, week_end, mapping_version);
CREATE INDEX IF NOT EXISTS idx_runs_week ON run_reports(week_start, week_end);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
