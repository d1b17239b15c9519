package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/reviewdigest/internal/database"
	"github.com/TobiSchelling/reviewdigest/internal/llm"
	"github.com/TobiSchelling/reviewdigest/internal/window"
)

// NoReviews is stored as both texts when a window has no reviews.
const NoReviews = "No new reviews."

const systemPrompt = "You are an expert summarizer of reviews for business insights."

const winsPrompt = `Summarize the following reviews.
Focus ONLY on wins: praise, highlights, positive themes.
Include context on why the wins occurred based on the reviews.
Please output only the TOP 3 most impactful in bullet point format.
Make sure a new line character is included in between each bullet point item.
Make sure the 3 bullet point items are in order of descending prominence.
Reviews:
%s`

const oppsPrompt = `Summarize the following reviews.
Focus ONLY on opportunities: complaints, concerns, and areas for improvement.
Include context on why the complaints and concerns occurred based on the reviews.
Please output only the TOP 3 most impactful in bullet point format.
Make sure a new line character is included in between each bullet point item.
Make sure the 3 bullet point items are in order of descending prominence.
Reviews:
%s`

// Summary holds the two narrative blobs for a batch.
type Summary struct {
	Wins          string
	Opportunities string
	Empty         bool
}

// SummaryStore is the warehouse side of summarization.
type SummaryStore interface {
	InsertSummary(s database.SummaryRecord) error
}

// Summarizer produces the wins and opportunities texts.
type Summarizer struct {
	provider llm.Provider
	store    SummaryStore
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a summarizer.
func New(provider llm.Provider, store SummaryStore, logger *zap.Logger) *Summarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summarizer{provider: provider, store: store, logger: logger, now: time.Now}
}

// Summarize makes two independent model calls over the batch. An empty batch
// returns the NoReviews marker without calling the model.
func (s *Summarizer) Summarize(ctx context.Context, reviews []database.Review) (Summary, error) {
	if len(reviews) == 0 {
		return Summary{Wins: NoReviews, Opportunities: NoReviews, Empty: true}, nil
	}
	if s.provider == nil {
		return Summary{}, fmt.Errorf("no llm provider configured")
	}

	text := reviewLines(reviews)

	s.logger.Info("requesting wins summary", zap.Int("reviews", len(reviews)))
	wins, err := s.provider.Generate(ctx, systemPrompt, fmt.Sprintf(winsPrompt, text))
	if err != nil {
		return Summary{}, fmt.Errorf("wins summary: %w", err)
	}

	s.logger.Info("requesting opportunities summary", zap.Int("reviews", len(reviews)))
	opps, err := s.provider.Generate(ctx, systemPrompt, fmt.Sprintf(oppsPrompt, text))
	if err != nil {
		return Summary{}, fmt.Errorf("opportunities summary: %w", err)
	}

	return Summary{Wins: strings.TrimSpace(wins), Opportunities: strings.TrimSpace(opps)}, nil
}

func reviewLines(reviews []database.Review) string {
	var b strings.Builder
	for _, r := range reviews {
		t := r.Text()
		if t == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(t)
	}
	return b.String()
}

// Persist writes the summary row for a window.
func (s *Summarizer) Persist(w window.Window, sum Summary, reviewCount int) error {
	if s.store == nil {
		return fmt.Errorf("summarizer has no store")
	}
	err := s.store.InsertSummary(database.SummaryRecord{
		WeekStart:         w.Start,
		WeekEnd:           w.End,
		WinsText:          sum.Wins,
		OpportunitiesText: sum.Opportunities,
		ReviewCount:       reviewCount,
		InsertTimestamp:   s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("inserting summary: %w", err)
	}
	s.logger.Info("inserted summary", zap.String("window", w.ID()), zap.Int("reviews", reviewCount))
	return nil
}
