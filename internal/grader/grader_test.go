package grader

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/reviewdigest/internal/database"
	"github.com/TobiSchelling/reviewdigest/internal/keywords"
	"github.com/TobiSchelling/reviewdigest/internal/window"
)

type mockProvider struct {
	response string
	err      error
	calls    int
	system   string
	prompt   string
}

func (m *mockProvider) Generate(_ context.Context, system, prompt string) (string, error) {
	m.calls++
	m.system = system
	m.prompt = prompt
	return m.response, m.err
}

func (m *mockProvider) IsConfigured() bool { return true }

type staticMappings map[string]*keywords.Mapping

func (s staticMappings) Mapping(version string) (*keywords.Mapping, error) {
	m, ok := s[version]
	if !ok {
		return nil, keywords.ErrUnknownVersion
	}
	return m, nil
}

type fakeStore struct {
	rows []database.GradeRecord
	err  error
}

func (f *fakeStore) InsertSentimentGrades(rows []database.GradeRecord) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, rows...)
	return nil
}

func ptr(s string) *string { return &s }

func reviews(texts ...string) []database.Review {
	out := make([]database.Review, len(texts))
	for i, t := range texts {
		out[i] = database.Review{Date: time.Date(2026, 2, 6, 0, 0, 0, 0, time.UTC), Comment: ptr(t)}
	}
	return out
}

func mappings() staticMappings {
	return staticMappings{
		"v1": keywords.NewMapping("v1",
			keywords.Category{Name: "Customer Service", Keywords: []string{"staff", "rude"}},
			keywords.Category{Name: "Billing", Keywords: []string{"bill", "invoice"}},
		),
	}
}

func TestGradeEmptyBatch(t *testing.T) {
	p := &mockProvider{}
	g := New(p, mappings(), nil, Options{}, nil)

	res := g.Grade(context.Background(), nil, "v1")
	if res.Kind != GradeNoReviews {
		t.Errorf("expected no_reviews, got %s", res.Kind)
	}
	if res.Detail != NoReviewsDetail {
		t.Errorf("unexpected detail %q", res.Detail)
	}
	if p.calls != 0 {
		t.Errorf("expected no model call, got %d", p.calls)
	}
}

func TestGradeMergesMentions(t *testing.T) {
	p := &mockProvider{response: "```json\n" + `[
		{"category": "customer service", "grade": "B+"},
		{"category": "Billing", "grade": "C"},
		{"category": "Parking", "grade": "A"}
	]` + "\n```"}
	g := New(p, mappings(), nil, Options{}, nil)

	res := g.Grade(context.Background(), reviews("Rude staff", "Friendly staff", "Confusing bill"), "v1")
	if res.Kind != GradeOK {
		t.Fatalf("expected ok, got %s: %v", res.Kind, res.Err)
	}
	if p.calls != 1 {
		t.Errorf("expected one model call, got %d", p.calls)
	}
	if p.system != "You are a structured sentiment analysis assistant." {
		t.Errorf("unexpected system prompt %q", p.system)
	}
	if len(res.Grades) != 3 {
		t.Fatalf("expected 3 grades, got %d", len(res.Grades))
	}
	if res.Grades[0].Mentions != 2 {
		t.Errorf("expected case-insensitive mention lookup, got %d", res.Grades[0].Mentions)
	}
	if res.Grades[1].Mentions != 1 {
		t.Errorf("expected 1 billing mention, got %d", res.Grades[1].Mentions)
	}
	if res.Grades[2].Mentions != 0 {
		t.Errorf("expected 0 for unknown category, got %d", res.Grades[2].Mentions)
	}
	if res.Grades[0].Grade != "B+" {
		t.Errorf("expected grade kept as-is, got %q", res.Grades[0].Grade)
	}
}

func TestGradeDegradedOnBadJSON(t *testing.T) {
	for _, resp := range []string{"Service was great overall.", `{"category": "Billing"}`, `["A", "B"]`} {
		p := &mockProvider{response: resp}
		g := New(p, mappings(), nil, Options{}, nil)
		res := g.Grade(context.Background(), reviews("Rude staff"), "v1")
		if res.Kind != GradeDegraded {
			t.Errorf("%q: expected degraded, got %s", resp, res.Kind)
			continue
		}
		if res.RawResponse != resp {
			t.Errorf("expected raw response preserved, got %q", res.RawResponse)
		}
		if res.MentionCounts.Counts["Customer Service"] != 1 {
			t.Errorf("expected mention counts in degraded result, got %v", res.MentionCounts.Counts)
		}
	}
}

func TestGradeModelFailure(t *testing.T) {
	p := &mockProvider{err: errors.New("rate limited")}
	g := New(p, mappings(), nil, Options{}, nil)
	res := g.Grade(context.Background(), reviews("Rude staff"), "v1")
	if res.Kind != GradeFailed || res.Err == nil {
		t.Errorf("expected failed with error, got %+v", res)
	}
}

func TestGradeUnknownVersion(t *testing.T) {
	p := &mockProvider{}
	g := New(p, mappings(), nil, Options{}, nil)
	res := g.Grade(context.Background(), reviews("Rude staff"), "v9")
	if res.Kind != GradeFailed || !errors.Is(res.Err, keywords.ErrUnknownVersion) {
		t.Errorf("expected failed with ErrUnknownVersion, got %+v", res)
	}
	if p.calls != 0 {
		t.Error("expected no model call")
	}
}

func TestBuildPromptTruncatesLines(t *testing.T) {
	g := New(nil, nil, nil, Options{LineTrimChars: 5}, nil)
	prompt := g.BuildPrompt(reviews("abcdefghij", "abc"), mappings()["v1"])
	if !strings.Contains(prompt, "- abcde...[truncated]\n") {
		t.Errorf("expected truncated line in prompt:\n%s", prompt)
	}
	if !strings.Contains(prompt, "- abc\n") {
		t.Errorf("expected short line untouched:\n%s", prompt)
	}
	if !strings.Contains(prompt, "- Customer Service: staff, rude") {
		t.Errorf("expected category listing:\n%s", prompt)
	}
}

func TestBuildPromptDefaultsAndCaps(t *testing.T) {
	long := strings.Repeat("x", DefaultLineTrimChars+1)
	g := New(nil, nil, nil, Options{MaxLinesInPrompt: 2}, nil)
	prompt := g.BuildPrompt(reviews(long, "", "second", "third"), mappings()["v1"])

	if !strings.Contains(prompt, truncatedSuffix) {
		t.Error("expected default trim to apply")
	}
	if !strings.Contains(prompt, "- second") || strings.Contains(prompt, "- third") {
		t.Errorf("expected empty reviews skipped and cap of 2 lines:\n%s", prompt)
	}

	g = New(nil, nil, nil, Options{LineTrimChars: -1}, nil)
	if strings.Contains(g.BuildPrompt(reviews(long), mappings()["v1"]), truncatedSuffix) {
		t.Error("expected negative trim to disable truncation")
	}
}

func TestTruncateCountsCharacters(t *testing.T) {
	if got := truncate("héllo", 2); got != "hé" {
		t.Errorf("expected two characters, got %q", got)
	}
	if got := truncate(strings.Repeat("é", 10), 10); got != strings.Repeat("é", 10) {
		t.Errorf("expected ten multibyte characters kept, got %q", got)
	}
	if got := truncate("abc", 0); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestBuildPromptTrimsByCharacters(t *testing.T) {
	g := New(nil, nil, nil, Options{LineTrimChars: 4}, nil)
	prompt := g.BuildPrompt(reviews("Ünïç", "ÜnïçÖdé"), mappings()["v1"])
	if !strings.Contains(prompt, "- Ünïç\n") {
		t.Errorf("expected four-character line untouched:\n%s", prompt)
	}
	if !strings.Contains(prompt, "- Ünïç...[truncated]\n") {
		t.Errorf("expected line cut at four characters:\n%s", prompt)
	}
}

func TestPersist(t *testing.T) {
	store := &fakeStore{}
	g := New(nil, nil, store, Options{}, nil)
	w := window.Window{Start: time.Date(2026, 2, 6, 0, 0, 0, 0, time.UTC), End: time.Date(2026, 2, 12, 0, 0, 0, 0, time.UTC)}

	n, err := g.Persist(w, Result{Kind: GradeOK, Version: "v1", Grades: []Grade{
		{Category: "Billing", Grade: "C", Mentions: 1},
		{Category: "", Grade: "A"},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 || len(store.rows) != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}
	row := store.rows[0]
	if row.MappingVersion != "v1" || row.MentionCount != 1 || !row.WeekStart.Equal(w.Start) {
		t.Errorf("unexpected row %+v", row)
	}
}

func TestPersistRejectsEmptyAndDegraded(t *testing.T) {
	g := New(nil, nil, &fakeStore{}, Options{}, nil)
	w := window.Window{}

	if _, err := g.Persist(w, Result{Kind: GradeOK, Grades: []Grade{{Grade: "A"}}}); err == nil {
		t.Error("expected error when no row has a category")
	}
	if _, err := g.Persist(w, Result{Kind: GradeDegraded, RawResponse: "x"}); err == nil {
		t.Error("expected error for degraded result")
	}
}

func TestPersistStoreFailure(t *testing.T) {
	g := New(nil, nil, &fakeStore{err: errors.New("locked")}, Options{}, nil)
	_, err := g.Persist(window.Window{}, Result{Kind: GradeOK, Grades: []Grade{{Category: "Billing", Grade: "A"}}})
	if err == nil {
		t.Error("expected store failure to be returned")
	}
}
