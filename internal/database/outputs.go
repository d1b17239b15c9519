package database

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Table identifies a warehouse output table.
type Table string

const (
	TableSummaries Table = "review_summaries"
	TableGrades    Table = "review_sentiment_grades"
	TableTags      Table = "tagged_reviews"
)

// Versioned reports whether rows in the table carry a mapping_version.
func (t Table) Versioned() bool {
	return t == TableGrades || t == TableTags
}

func (t Table) valid() bool {
	switch t {
	case TableSummaries, TableGrades, TableTags:
		return true
	}
	return false
}

// InsertSummary appends a summary row.
func (db *DB) InsertSummary(s SummaryRecord) error {
	_, err := db.conn.Exec(
		`INSERT INTO review_summaries
		(week_start, week_end, wins_summary, opps_summary, review_count, insert_timestamp_utc)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.WeekStart.Format(dateLayout), s.WeekEnd.Format(dateLayout),
		s.WinsText, s.OpportunitiesText, s.ReviewCount, formatTS(s.InsertTimestamp),
	)
	if err != nil {
		return fmt.Errorf("inserting summary: %w", err)
	}
	return nil
}

// InsertSentimentGrades appends grade rows in a single transaction.
func (db *DB) InsertSentimentGrades(grades []GradeRecord) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, g := range grades {
		if _, err := tx.Exec(
			`INSERT INTO review_sentiment_grades
			(week_start, week_end, review_category, sentiment_grade, count_of_mentions, mapping_version, insert_timestamp_utc)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			g.WeekStart.Format(dateLayout), g.WeekEnd.Format(dateLayout),
			g.Category, g.Grade, g.MentionCount, g.MappingVersion, formatTS(g.InsertTimestamp),
		); err != nil {
			return fmt.Errorf("inserting grade for %q: %w", g.Category, err)
		}
	}
	return tx.Commit()
}

// AppendTagRecords appends tag rows in a single transaction and returns the
// number of rows written. Existing rows are never touched.
func (db *DB) AppendTagRecords(tags []TagRecord) (int, error) {
	if len(tags) == 0 {
		return 0, nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO tagged_reviews
		(review_foreign_key, category, keyword, review_comment, review_date, mapping_version, week_start, week_end, load_ts_utc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, t := range tags {
		if _, err := stmt.Exec(
			t.ReviewForeignKey, t.Category, t.Keyword, t.ReviewComment,
			t.ReviewDate.Format(dateLayout), t.MappingVersion,
			t.WeekStart.Format(dateLayout), t.WeekEnd.Format(dateLayout), formatTS(t.LoadTimestamp),
		); err != nil {
			return 0, fmt.Errorf("inserting tag row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(tags), nil
}

// DeleteWindow removes rows for a window. For versioned tables a non-nil
// version restricts the delete to that mapping version.
func (db *DB) DeleteWindow(table Table, start, end time.Time, version *string) (int64, error) {
	if !table.valid() {
		return 0, fmt.Errorf("unknown table %q", table)
	}

	query := "DELETE FROM " + string(table) + " WHERE week_start = ? AND week_end = ?"
	args := []any{start.Format(dateLayout), end.Format(dateLayout)}
	if table.Versioned() && version != nil {
		query += " AND mapping_version = ?"
		args = append(args, *version)
	}

	result, err := db.conn.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting from %s: %w", table, err)
	}
	n, _ := result.RowsAffected()
	db.logger.Info("deleted existing rows",
		zap.String("table", string(table)),
		zap.String("week_start", start.Format(dateLayout)),
		zap.String("week_end", end.Format(dateLayout)),
		zap.Int64("rows", n),
	)
	return n, nil
}

// GetSummaries returns the latest summary per window, newest window first.
func (db *DB) GetSummaries() ([]SummaryRecord, error) {
	rows, err := db.conn.Query(
		`SELECT week_start, week_end, wins_summary, opps_summary, review_count, insert_timestamp_utc
		FROM review_summaries s
		WHERE id = (SELECT MAX(id) FROM review_summaries i
			WHERE i.week_start = s.week_start AND i.week_end = s.week_end)
		ORDER BY week_start DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SummaryRecord
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetSummary returns the most recently inserted summary for a window.
func (db *DB) GetSummary(start, end time.Time) (*SummaryRecord, error) {
	row := db.conn.QueryRow(
		`SELECT week_start, week_end, wins_summary, opps_summary, review_count, insert_timestamp_utc
		FROM review_summaries WHERE week_start = ? AND week_end = ?
		ORDER BY id DESC LIMIT 1`,
		start.Format(dateLayout), end.Format(dateLayout),
	)
	s, err := scanSummary(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// GetGrades returns grade rows for a window ordered by version and category.
func (db *DB) GetGrades(start, end time.Time) ([]GradeRecord, error) {
	rows, err := db.conn.Query(
		`SELECT week_start, week_end, review_category, COALESCE(sentiment_grade, ''),
			count_of_mentions, mapping_version, insert_timestamp_utc
		FROM review_sentiment_grades WHERE week_start = ? AND week_end = ?
		ORDER BY mapping_version, review_category, id`,
		start.Format(dateLayout), end.Format(dateLayout),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GradeRecord
	for rows.Next() {
		var g GradeRecord
		var ws, we, ts string
		if err := rows.Scan(&ws, &we, &g.Category, &g.Grade, &g.MentionCount, &g.MappingVersion, &ts); err != nil {
			return nil, err
		}
		g.WeekStart, g.WeekEnd, g.InsertTimestamp = parseDate(ws), parseDate(we), parseTS(ts)
		out = append(out, g)
	}
	return out, rows.Err()
}

// GetTagRecords returns tag rows for a window and mapping version.
func (db *DB) GetTagRecords(start, end time.Time, version string) ([]TagRecord, error) {
	rows, err := db.conn.Query(
		`SELECT review_foreign_key, category, keyword, COALESCE(review_comment, ''), review_date,
			mapping_version, week_start, week_end, load_ts_utc
		FROM tagged_reviews WHERE week_start = ? AND week_end = ? AND mapping_version = ?
		ORDER BY id`,
		start.Format(dateLayout), end.Format(dateLayout), version,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TagRecord
	for rows.Next() {
		var t TagRecord
		var rd, ws, we, ts string
		if err := rows.Scan(&t.ReviewForeignKey, &t.Category, &t.Keyword, &t.ReviewComment, &rd,
			&t.MappingVersion, &ws, &we, &ts); err != nil {
			return nil, err
		}
		t.ReviewDate, t.WeekStart, t.WeekEnd, t.LoadTimestamp = parseDate(rd), parseDate(ws), parseDate(we), parseTS(ts)
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountTagsByVersion returns the number of tag rows per mapping version for a window.
func (db *DB) CountTagsByVersion(start, end time.Time) (map[string]int, error) {
	rows, err := db.conn.Query(
		`SELECT mapping_version, COUNT(*) FROM tagged_reviews
		WHERE week_start = ? AND week_end = ? GROUP BY mapping_version`,
		start.Format(dateLayout), end.Format(dateLayout),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var v string
		var n int
		if err := rows.Scan(&v, &n); err != nil {
			return nil, err
		}
		counts[v] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (SummaryRecord, error) {
	var s SummaryRecord
	var ws, we, ts string
	if err := row.Scan(&ws, &we, &s.WinsText, &s.OpportunitiesText, &s.ReviewCount, &ts); err != nil {
		return s, err
	}
	s.WeekStart, s.WeekEnd, s.InsertTimestamp = parseDate(ws), parseDate(we), parseTS(ts)
	return s, nil
}

func formatTS(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseDate(s string) time.Time {
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
