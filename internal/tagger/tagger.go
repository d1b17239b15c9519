package tagger

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/reviewdigest/internal/database"
	"github.com/TobiSchelling/reviewdigest/internal/keywords"
	"github.com/TobiSchelling/reviewdigest/internal/window"
)

// KeyFallback controls what happens when a review has no primary key.
type KeyFallback string

const (
	// FallbackIndex uses the review's position in the batch and logs a warning.
	FallbackIndex KeyFallback = "index"
	// FallbackError fails the tagging run.
	FallbackError KeyFallback = "error"
)

// ErrMissingPrimaryKey is returned under FallbackError for a review without a key.
var ErrMissingPrimaryKey = errors.New("review has no primary key")

// ParseKeyFallback validates a configured fallback. Empty means index.
func ParseKeyFallback(s string) (KeyFallback, error) {
	switch KeyFallback(strings.ToLower(strings.TrimSpace(s))) {
	case "", FallbackIndex:
		return FallbackIndex, nil
	case FallbackError:
		return FallbackError, nil
	}
	return "", fmt.Errorf("unknown primary key fallback %q (want index or error)", s)
}

// Options configures a Tagger.
type Options struct {
	MatchMode   MatchMode
	KeyFallback KeyFallback
}

// TagStore is the warehouse side of tagging.
type TagStore interface {
	AppendTagRecords(tags []database.TagRecord) (int, error)
}

// Tagger produces long-format review/category/keyword rows.
type Tagger struct {
	opts   Options
	store  TagStore
	logger *zap.Logger
	now    func() time.Time
}

// New creates a tagger. The store may be nil when only Tag is used.
func New(opts Options, store TagStore, logger *zap.Logger) *Tagger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MatchMode == "" {
		opts.MatchMode = MatchSubstring
	}
	if opts.KeyFallback == "" {
		opts.KeyFallback = FallbackIndex
	}
	return &Tagger{opts: opts, store: store, logger: logger, now: time.Now}
}

// Matcher returns a matcher for m using the tagger's match mode.
func (t *Tagger) Matcher(m *keywords.Mapping) *Matcher {
	return NewMatcher(m, t.opts.MatchMode)
}

// Tag matches every review against the mapping. Rows carry the mapping version
// but no window; Persist stamps the window. Repeated (key, category, keyword)
// triples are dropped. The result is never nil.
func (t *Tagger) Tag(reviews []database.Review, m *keywords.Mapping) ([]database.TagRecord, error) {
	mt := t.Matcher(m)

	type key struct{ fk, category, keyword string }
	seen := make(map[key]bool)
	out := []database.TagRecord{}
	warned := false

	for i, r := range reviews {
		fk, err := t.foreignKey(r, i, &warned)
		if err != nil {
			return nil, err
		}

		for _, h := range mt.Hits(r.Text()) {
			k := key{fk, h.Category, h.Keyword}
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, database.TagRecord{
				ReviewForeignKey: fk,
				Category:         h.Category,
				Keyword:          h.Keyword,
				ReviewComment:    r.Text(),
				ReviewDate:       r.Date,
				MappingVersion:   m.Version,
			})
		}
	}

	if len(out) == 0 {
		t.logger.Info("no keyword matches", zap.String("mapping_version", m.Version), zap.Int("reviews", len(reviews)))
	} else {
		t.logger.Info("tagged reviews",
			zap.String("mapping_version", m.Version),
			zap.Int("reviews", len(reviews)),
			zap.Int("rows", len(out)),
		)
	}
	return out, nil
}

func (t *Tagger) foreignKey(r database.Review, i int, warned *bool) (string, error) {
	if r.PrimaryKey != nil && *r.PrimaryKey != "" {
		return *r.PrimaryKey, nil
	}
	if t.opts.KeyFallback == FallbackError {
		return "", fmt.Errorf("review %d: %w", i, ErrMissingPrimaryKey)
	}
	if !*warned {
		t.logger.Warn("review without primary key; using batch position as foreign key", zap.Int("index", i))
		*warned = true
	}
	return strconv.Itoa(i), nil
}

// Persist stamps rows with the window and load time and appends them.
// An empty batch is a no-op.
func (t *Tagger) Persist(w window.Window, tags []database.TagRecord) (int, error) {
	if len(tags) == 0 {
		t.logger.Info("no tag rows to load", zap.String("window", w.ID()))
		return 0, nil
	}
	if t.store == nil {
		return 0, fmt.Errorf("tagger has no store")
	}

	ts := t.now().UTC()
	stamped := make([]database.TagRecord, len(tags))
	for i, tag := range tags {
		tag.WeekStart = w.Start
		tag.WeekEnd = w.End
		tag.LoadTimestamp = ts
		stamped[i] = tag
	}

	n, err := t.store.AppendTagRecords(stamped)
	if err != nil {
		return 0, fmt.Errorf("loading tag rows: %w", err)
	}
	t.logger.Info("loaded tag rows", zap.String("window", w.ID()), zap.Int("rows", n))
	return n, nil
}
