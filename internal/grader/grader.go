package grader

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/TobiSchelling/reviewdigest/internal/database"
	"github.com/TobiSchelling/reviewdigest/internal/keywords"
	"github.com/TobiSchelling/reviewdigest/internal/llm"
	"github.com/TobiSchelling/reviewdigest/internal/tagger"
	"github.com/TobiSchelling/reviewdigest/internal/window"
)

const (
	// DefaultLineTrimChars caps a single review line in the prompt.
	DefaultLineTrimChars = 10000
	truncatedSuffix      = "...[truncated]"

	systemPrompt = "You are a structured sentiment analysis assistant."

	// NoReviewsDetail is reported for an empty batch.
	NoReviewsDetail = "No new reviews."
)

// Kind tags the outcome of a grading call.
type Kind string

const (
	GradeOK        Kind = "ok"
	GradeNoReviews Kind = "no_reviews"
	GradeDegraded  Kind = "degraded"
	GradeFailed    Kind = "failed"
)

// Grade is one category grade returned by the model, merged with its mention count.
type Grade struct {
	Category string `json:"category"`
	Grade    string `json:"grade"`
	Mentions int    `json:"mentions"`
}

// Result is the tagged outcome of Grade. Grades is set for GradeOK;
// RawResponse for GradeDegraded; Err for GradeFailed and GradeDegraded.
type Result struct {
	Kind          Kind
	Version       string
	Grades        []Grade
	MentionCounts tagger.MentionCounts
	RawResponse   string
	Detail        string
	Err           error
}

// Options tunes prompt construction.
type Options struct {
	// LineTrimChars truncates each review line. Zero uses the default; a
	// negative value disables truncation.
	LineTrimChars int
	// MaxLinesInPrompt caps the number of review lines. Zero means unlimited.
	MaxLinesInPrompt int
	MatchMode        tagger.MatchMode
}

// MappingSource resolves a mapping version.
type MappingSource interface {
	Mapping(version string) (*keywords.Mapping, error)
}

// GradeStore is the warehouse side of grading.
type GradeStore interface {
	InsertSentimentGrades(grades []database.GradeRecord) error
}

// Grader asks the model for per-category letter grades.
type Grader struct {
	provider llm.Provider
	mappings MappingSource
	store    GradeStore
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a grader.
func New(provider llm.Provider, mappings MappingSource, store GradeStore, opts Options, logger *zap.Logger) *Grader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.LineTrimChars == 0 {
		opts.LineTrimChars = DefaultLineTrimChars
	}
	return &Grader{
		provider: provider,
		mappings: mappings,
		store:    store,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// Grade grades one batch of reviews against one mapping version. It never
// returns an error; failures are reported through the result kind.
func (g *Grader) Grade(ctx context.Context, reviews []database.Review, version string) Result {
	res := Result{Version: version}

	if len(reviews) == 0 {
		g.logger.Warn("no reviews to grade", zap.String("mapping_version", version))
		res.Kind = GradeNoReviews
		res.Detail = NoReviewsDetail
		return res
	}

	m, err := g.mappings.Mapping(version)
	if err != nil {
		return failed(res, fmt.Errorf("loading categories: %w", err))
	}
	g.logger.Info("loaded categories",
		zap.String("mapping_version", version),
		zap.Int("categories", len(m.Categories)),
		zap.Int("keywords", m.KeywordCount()),
	)

	res.MentionCounts = tagger.NewMatcher(m, g.opts.MatchMode).CountMentions(reviews)
	if res.MentionCounts.Skipped > 0 {
		g.logger.Info("skipped reviews without text", zap.Int("skipped", res.MentionCounts.Skipped))
	}

	prompt := g.BuildPrompt(reviews, m)
	if g.provider == nil {
		return failed(res, fmt.Errorf("no llm provider configured"))
	}

	g.logger.Info("requesting sentiment grades", zap.String("mapping_version", version), zap.Int("prompt_chars", len(prompt)))
	content, err := g.provider.Generate(ctx, systemPrompt, prompt)
	if err != nil {
		return failed(res, fmt.Errorf("model call failed: %w", err))
	}
	content = strings.TrimSpace(content)

	entries, err := llm.ParseJSONArray(content)
	if err != nil {
		g.logger.Warn("could not parse model grades", zap.Error(err), zap.Int("response_chars", len(content)))
		res.Kind = GradeDegraded
		res.RawResponse = content
		res.Err = err
		return res
	}

	res.Kind = GradeOK
	res.Grades = make([]Grade, 0, len(entries))
	for _, e := range entries {
		cat := stringField(e, "category")
		res.Grades = append(res.Grades, Grade{
			Category: cat,
			Grade:    stringField(e, "grade"),
			Mentions: res.MentionCounts.Lookup(cat),
		})
	}
	g.logger.Info("merged mention counts with model grades", zap.Int("rows", len(res.Grades)))
	return res
}

func failed(res Result, err error) Result {
	res.Kind = GradeFailed
	res.Err = err
	res.Detail = err.Error()
	return res
}

func stringField(e map[string]any, key string) string {
	v, ok := e[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// BuildPrompt renders the grading prompt for a batch and mapping.
func (g *Grader) BuildPrompt(reviews []database.Review, m *keywords.Mapping) string {
	var lines []string
	for _, r := range reviews {
		text := r.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		if g.opts.LineTrimChars > 0 && utf8.RuneCountInString(text) > g.opts.LineTrimChars {
			text = truncate(text, g.opts.LineTrimChars) + truncatedSuffix
		}
		lines = append(lines, "- "+text)
		if g.opts.MaxLinesInPrompt > 0 && len(lines) >= g.opts.MaxLinesInPrompt {
			break
		}
	}

	var cats strings.Builder
	for i, c := range m.Categories {
		if i > 0 {
			cats.WriteString("\n")
		}
		fmt.Fprintf(&cats, "- %s: %s", c.Name, strings.Join(c.Keywords, ", "))
	}

	return fmt.Sprintf(`You are a sentiment analysis expert. Analyze the following reviews and assign each review category a letter grade (A-F). Plus/minus grades are allowed.

Review categories and their keywords:
%s

Reviews:
%s

Respond in valid JSON format like this:
[
  {"category": "Billing", "grade": "A"},
  {"category": "Clinical Care and Outcomes", "grade": "B-"}
]

Grading scale:
A = overwhelmingly positive
B = mostly positive
C = neutral/mixed
D = mostly negative
F = overwhelmingly negative`, cats.String(), strings.Join(lines, "\n"))
}

// truncate cuts s to at most n characters.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// Persist writes the graded categories for a window. Entries without a
// category are skipped. A result with no valid rows is an error.
func (g *Grader) Persist(w window.Window, res Result) (int, error) {
	if res.Kind != GradeOK {
		return 0, fmt.Errorf("nothing to persist for %s result", res.Kind)
	}

	ts := g.now().UTC()
	var rows []database.GradeRecord
	for _, gr := range res.Grades {
		if gr.Category == "" {
			continue
		}
		rows = append(rows, database.GradeRecord{
			WeekStart:       w.Start,
			WeekEnd:         w.End,
			Category:        gr.Category,
			Grade:           gr.Grade,
			MentionCount:    gr.Mentions,
			MappingVersion:  res.Version,
			InsertTimestamp: ts,
		})
	}

	if len(rows) == 0 {
		g.logger.Warn("no valid grade rows to insert", zap.String("window", w.ID()))
		return 0, fmt.Errorf("no valid grade rows")
	}
	if g.store == nil {
		return 0, fmt.Errorf("grader has no store")
	}
	if err := g.store.InsertSentimentGrades(rows); err != nil {
		return 0, fmt.Errorf("inserting sentiment grades: %w", err)
	}

	g.logger.Info("inserted sentiment grades", zap.String("window", w.ID()), zap.Int("rows", len(rows)))
	return len(rows), nil
}
