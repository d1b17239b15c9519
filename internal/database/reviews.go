package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

var validate = validator.New()

// GetReviews returns reviews from one source with dates in [start, end], ordered
// by date. Rows are validated on the way in; a row without a parseable date
// fails the whole fetch.
func (db *DB) GetReviews(start, end time.Time, source string) ([]Review, error) {
	rows, err := db.conn.Query(
		`SELECT primary_key, date, review_rating, review_comment
		FROM review_responses
		WHERE review_source = ? AND substr(date, 1, 10) BETWEEN ? AND ?
		ORDER BY date, id`,
		source, start.Format(dateLayout), end.Format(dateLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("querying reviews: %w", err)
	}
	defer rows.Close()

	reviews := []Review{}
	for rows.Next() {
		var (
			pk      sql.NullString
			date    string
			rating  sql.NullFloat64
			comment sql.NullString
		)
		if err := rows.Scan(&pk, &date, &rating, &comment); err != nil {
			return nil, fmt.Errorf("scanning review: %w", err)
		}

		r, err := toReview(pk, date, rating, comment)
		if err != nil {
			return nil, fmt.Errorf("review %d: %w", len(reviews), err)
		}
		reviews = append(reviews, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	db.logger.Info("retrieved reviews",
		zap.String("source", source),
		zap.String("start", start.Format(dateLayout)),
		zap.String("end", end.Format(dateLayout)),
		zap.Int("count", len(reviews)),
	)
	return reviews, nil
}

func toReview(pk sql.NullString, date string, rating sql.NullFloat64, comment sql.NullString) (Review, error) {
	var r Review
	if len(date) > len(dateLayout) {
		date = date[:len(dateLayout)]
	}
	if err := validate.Var(date, "required,datetime=2006-01-02"); err != nil {
		return r, fmt.Errorf("invalid date %q: %w", date, err)
	}
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return r, fmt.Errorf("parsing date %q: %w", date, err)
	}
	r.Date = d

	if pk.Valid && strings.TrimSpace(pk.String) != "" {
		s := pk.String
		r.PrimaryKey = &s
	}
	if rating.Valid {
		v := rating.Float64
		r.Rating = &v
	}
	if comment.Valid {
		s := comment.String
		r.Comment = &s
	}
	return r, nil
}

// ImportReviews validates and inserts reviews into the source table.
// The whole batch is rejected if any row is invalid.
func (db *DB) ImportReviews(inputs []ReviewInput) (int, error) {
	for i, in := range inputs {
		if err := validate.Struct(in); err != nil {
			return 0, fmt.Errorf("row %d: %w", i+1, err)
		}
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO review_responses (primary_key, date, review_rating, review_comment, review_source)
		VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, in := range inputs {
		if _, err := stmt.Exec(nullString(in.PrimaryKey), in.Date, in.Rating, nullString(in.Comment), in.Source); err != nil {
			return 0, fmt.Errorf("inserting review: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(inputs), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
