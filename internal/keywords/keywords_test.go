package keywords

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing csv: %v", err)
	}
	return path
}

func TestParseNormalizesKeywords(t *testing.T) {
	csv := "category,keywords\n" +
		"Customer Service,\" Staff , HELPFUL,, staff \"\n" +
		"Billing,\"invoice, charge\"\n"
	m, err := Parse(strings.NewReader(csv), "v1.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Version != "v1.0" {
		t.Errorf("expected version v1.0, got %q", m.Version)
	}
	if len(m.Categories) != 2 {
		t.Fatalf("expected 2 categories, got %d", len(m.Categories))
	}
	cs := m.Categories[0]
	if cs.Name != "Customer Service" {
		t.Errorf("expected first category 'Customer Service', got %q", cs.Name)
	}
	if strings.Join(cs.Keywords, "|") != "staff|helpful" {
		t.Errorf("expected [staff helpful], got %v", cs.Keywords)
	}
	if m.KeywordCount() != 4 {
		t.Errorf("expected 4 keywords, got %d", m.KeywordCount())
	}
}

func TestParseMergesRepeatedCategory(t *testing.T) {
	csv := "category,keywords\nBilling,invoice\nBilling,\"invoice,refund\"\n"
	m, err := Parse(strings.NewReader(csv), "v2.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.Categories) != 1 {
		t.Fatalf("expected 1 category, got %d", len(m.Categories))
	}
	if strings.Join(m.Categories[0].Keywords, "|") != "invoice|refund" {
		t.Errorf("unexpected keywords %v", m.Categories[0].Keywords)
	}
}

func TestParseMissingColumns(t *testing.T) {
	_, err := Parse(strings.NewReader("name,words\nA,b\n"), "v1.0")
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
	if len(se.Missing) != 2 {
		t.Errorf("expected 2 missing columns, got %v", se.Missing)
	}
}

func TestLoadCSVNotFound(t *testing.T) {
	_, err := LoadCSV(filepath.Join(t.TempDir(), "missing.csv"), "v1.0")
	if !errors.Is(err, ErrMappingNotFound) {
		t.Errorf("expected ErrMappingNotFound, got %v", err)
	}
}

func TestLoadCSVSchemaErrorCarriesPath(t *testing.T) {
	path := writeCSV(t, t.TempDir(), "bad.csv", "category\nBilling\n")
	_, err := LoadCSV(path, "v1.0")
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
	if se.Path != path {
		t.Errorf("expected path %q, got %q", path, se.Path)
	}
}

func TestNewMapping(t *testing.T) {
	m := NewMapping("v1.0",
		Category{Name: "Wait Time", Keywords: []string{"Wait", "wait ", ""}},
		Category{Name: " ", Keywords: []string{"ignored"}},
	)
	if len(m.Categories) != 1 {
		t.Fatalf("expected blank category to be dropped, got %d", len(m.Categories))
	}
	if len(m.Categories[0].Keywords) != 1 || m.Categories[0].Keywords[0] != "wait" {
		t.Errorf("unexpected keywords %v", m.Categories[0].Keywords)
	}
}

func TestRegistryLoadsOncePerVersion(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "v1.csv", "category,keywords\nBilling,invoice\n")
	r := NewRegistry(dir, map[string]string{"v1.0": "v1.csv", "v2.0": "v2.csv"})

	first, err := r.Mapping("v1.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Rewriting the file must not affect the cached mapping.
	writeCSV(t, dir, "v1.csv", "category,keywords\nOther,thing\n")
	second, err := r.Mapping("v1.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Error("expected cached mapping to be reused")
	}

	r.Reset()
	third, _ := r.Mapping("v1.0")
	if third.Categories[0].Name != "Other" {
		t.Errorf("expected reload after reset, got %q", third.Categories[0].Name)
	}

	if _, err := r.Mapping("v2.0"); !errors.Is(err, ErrMappingNotFound) {
		t.Errorf("expected ErrMappingNotFound for missing file, got %v", err)
	}
	if _, err := r.Mapping("v9.0"); !errors.Is(err, ErrUnknownVersion) {
		t.Errorf("expected ErrUnknownVersion, got %v", err)
	}
}

func TestRegistryVersionsSorted(t *testing.T) {
	r := NewRegistry("", map[string]string{"v3.0": "a", "v1.0": "b", "v2.0": "c"})
	if got := strings.Join(r.Versions(), ","); got != "v1.0,v2.0,v3.0" {
		t.Errorf("unexpected versions %q", got)
	}
	if !r.Has("v2.0") || r.Has("v4.0") {
		t.Error("unexpected Has result")
	}
}

func TestBundledMappingsLoad(t *testing.T) {
	r := NewRegistry(filepath.Join("..", "..", "data"), map[string]string{
		"v1.0": "review_keywords_v1.csv",
		"v2.0": "review_keywords_v2.csv",
		"v3.0": "review_keywords_v3.csv",
	})
	prev := 0
	for _, v := range r.Versions() {
		m, err := r.Mapping(v)
		if err != nil {
			t.Fatalf("loading %s: %v", v, err)
		}
		if len(m.Categories) < prev {
			t.Errorf("%s: expected later versions to add categories, got %d after %d", v, len(m.Categories), prev)
		}
		prev = len(m.Categories)
	}
}
