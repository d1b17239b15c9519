package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/reviewdigest/internal/database"
)

var importSource string

var importCmd = &cobra.Command{
	Use:   "import <csv>",
	Short: "Import reviews from a CSV export into the warehouse",
	Long: `Import reviews from a CSV file with a header row.

Recognized columns: primary_key (or id), date, review_rating (or rating),
review_comment (or comment) and review_source (or source). Rows without a
source use --source. The whole file is rejected if any row is invalid.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening %s: %w", args[0], err)
		}
		defer f.Close()

		source := importSource
		if source == "" {
			source = cfg.Warehouse.Source
		}
		inputs, err := readReviewCSV(f, source)
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.ImportReviews(inputs)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d reviews into %s\n", n, db.Path())
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importSource, "source", "", "review_source for rows without one (default from config)")
}

var reviewColumns = map[string]string{
	"primary_key":    "primary_key",
	"id":             "primary_key",
	"date":           "date",
	"review_rating":  "rating",
	"rating":         "rating",
	"review_comment": "comment",
	"comment":        "comment",
	"review_source":  "source",
	"source":         "source",
}

// readReviewCSV parses a review export. Ratings must be numeric when present.
func readReviewCSV(r io.Reader, defaultSource string) ([]database.ReviewInput, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty file")
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}

	idx := make(map[string]int)
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if col, ok := reviewColumns[h]; ok {
			if _, dup := idx[col]; !dup {
				idx[col] = i
			}
		}
	}
	if _, ok := idx["date"]; !ok {
		return nil, fmt.Errorf("missing required column: date")
	}

	get := func(rec []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var out []database.ReviewInput
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		in := database.ReviewInput{
			PrimaryKey: get(rec, "primary_key"),
			Date:       get(rec, "date"),
			Comment:    get(rec, "comment"),
			Source:     get(rec, "source"),
		}
		if len(in.Date) > 10 {
			in.Date = in.Date[:10]
		}
		if in.Source == "" {
			in.Source = defaultSource
		}
		if s := get(rec, "rating"); s != "" {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid rating %q", line, s)
			}
			in.Rating = &v
		}
		out = append(out, in)
	}
	return out, nil
}
