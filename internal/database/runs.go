package database

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertRunReport records the outcome of one window run.
func (db *DB) InsertRunReport(r RunReport) error {
	_, err := db.conn.Exec(
		`INSERT OR REPLACE INTO run_reports (run_id, week_start, week_end, status, review_count, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.WeekStart.Format(dateLayout), r.WeekEnd.Format(dateLayout),
		string(r.Status), r.ReviewCount, r.Detail, formatTS(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting run report: %w", err)
	}
	return nil
}

// GetRecentRuns returns the most recent run reports, newest first.
func (db *DB) GetRecentRuns(limit int) ([]RunReport, error) {
	rows, err := db.conn.Query(
		`SELECT run_id, week_start, week_end, status, review_count, COALESCE(detail, ''), created_at
		FROM run_reports ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunReport
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetLastRun returns the most recent run report, or nil if none exist.
func (db *DB) GetLastRun() (*RunReport, error) {
	row := db.conn.QueryRow(
		`SELECT run_id, week_start, week_end, status, review_count, COALESCE(detail, ''), created_at
		FROM run_reports ORDER BY created_at DESC, rowid DESC LIMIT 1`,
	)
	r, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func scanRun(row scanner) (RunReport, error) {
	var r RunReport
	var ws, we, status, ts string
	if err := row.Scan(&r.RunID, &ws, &we, &status, &r.ReviewCount, &r.Detail, &ts); err != nil {
		return r, err
	}
	r.WeekStart, r.WeekEnd = parseDate(ws), parseDate(we)
	r.Status = RunStatus(status)
	r.CreatedAt = parseTS(ts)
	return r, nil
}

// GetStats returns aggregate warehouse statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM review_responses", &s.Reviews},
		{"SELECT COUNT(DISTINCT substr(date, 1, 10)) FROM review_responses", &s.ReviewDays},
		{"SELECT COUNT(*) FROM review_summaries", &s.Summaries},
		{"SELECT COUNT(*) FROM review_sentiment_grades", &s.Grades},
		{"SELECT COUNT(*) FROM tagged_reviews", &s.TagRows},
		{"SELECT COUNT(DISTINCT mapping_version) FROM tagged_reviews", &s.MappingVersions},
		{"SELECT COUNT(*) FROM run_reports", &s.Runs},
		{"SELECT COUNT(*) FROM run_reports WHERE status = 'failed'", &s.FailedRuns},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// ReviewDateRange returns the first and last review dates for a source.
// Both are zero when the source has no reviews.
func (db *DB) ReviewDateRange(source string) (time.Time, time.Time, error) {
	var first, last sql.NullString
	err := db.conn.QueryRow(
		`SELECT MIN(substr(date, 1, 10)), MAX(substr(date, 1, 10))
		FROM review_responses WHERE review_source = ?`,
		source,
	).Scan(&first, &last)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !first.Valid || !last.Valid {
		return time.Time{}, time.Time{}, nil
	}
	return parseDate(first.String), parseDate(last.String), nil
}
