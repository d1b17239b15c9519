package keywords

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrMappingNotFound is returned when a keyword mapping file does not exist.
var ErrMappingNotFound = errors.New("keyword mapping not found")

// SchemaError is returned when a mapping CSV lacks required columns.
type SchemaError struct {
	Path    string
	Missing []string
	Found   []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: missing columns %v; found %v", e.Path, e.Missing, e.Found)
}

// Category is a named set of normalized keywords.
type Category struct {
	Name     string
	Keywords []string
}

// Mapping is one version of the category to keyword associations.
// Categories keep the order in which they first appear in the source.
type Mapping struct {
	Version    string
	Categories []Category
}

// NormalizeKeyword case-folds and trims a keyword.
func NormalizeKeyword(kw string) string {
	return strings.ToLower(strings.TrimSpace(kw))
}

// NewMapping builds a mapping from categories, normalizing keywords, dropping
// empty ones and collapsing duplicates.
func NewMapping(version string, categories ...Category) *Mapping {
	m := &Mapping{Version: version}
	for _, c := range categories {
		m.add(c.Name, c.Keywords)
	}
	return m
}

func (m *Mapping) add(name string, keywords []string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}

	idx := -1
	for i, c := range m.Categories {
		if c.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.Categories = append(m.Categories, Category{Name: name})
		idx = len(m.Categories) - 1
	}

	cat := &m.Categories[idx]
	for _, kw := range keywords {
		kw = NormalizeKeyword(kw)
		if kw == "" || contains(cat.Keywords, kw) {
			continue
		}
		cat.Keywords = append(cat.Keywords, kw)
	}
}

// KeywordCount returns the total number of keywords across categories.
func (m *Mapping) KeywordCount() int {
	n := 0
	for _, c := range m.Categories {
		n += len(c.Keywords)
	}
	return n
}

// Names returns the category names in order.
func (m *Mapping) Names() []string {
	names := make([]string, len(m.Categories))
	for i, c := range m.Categories {
		names[i] = c.Name
	}
	return names
}

// LoadCSV reads a mapping from a CSV file with "category" and "keywords"
// columns. Keywords within a cell are comma separated. Rows repeating a
// category are merged into it.
func LoadCSV(path, version string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMappingNotFound, path)
		}
		return nil, fmt.Errorf("opening keyword mapping: %w", err)
	}
	defer f.Close()

	m, err := Parse(f, version)
	if err != nil {
		var se *SchemaError
		if errors.As(err, &se) {
			se.Path = path
			return nil, se
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return m, nil
}

// Parse reads a mapping CSV from r.
func Parse(r io.Reader, version string) (*Mapping, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, &SchemaError{Missing: []string{"category", "keywords"}}
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}

	catIdx, kwIdx := -1, -1
	found := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		found[i] = h
		switch h {
		case "category":
			catIdx = i
		case "keywords":
			kwIdx = i
		}
	}
	var missing []string
	if catIdx < 0 {
		missing = append(missing, "category")
	}
	if kwIdx < 0 {
		missing = append(missing, "keywords")
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing, Found: found}
	}

	m := &Mapping{Version: version}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		if catIdx >= len(record) {
			continue
		}
		var cell string
		if kwIdx < len(record) {
			cell = record[kwIdx]
		}
		m.add(record[catIdx], strings.Split(cell, ","))
	}
	return m, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
