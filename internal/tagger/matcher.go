package tagger

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/TobiSchelling/reviewdigest/internal/database"
	"github.com/TobiSchelling/reviewdigest/internal/keywords"
)

// MatchMode selects how a keyword is matched against review text.
type MatchMode string

const (
	// MatchSubstring matches a keyword anywhere in the text, so "staff"
	// matches "staffer".
	MatchSubstring MatchMode = "substring"
	// MatchWord requires the keyword to sit on word boundaries. Letters
	// and digits of any script count as word characters.
	MatchWord MatchMode = "word"
)

// ParseMatchMode validates a configured match mode. Empty means substring.
func ParseMatchMode(s string) (MatchMode, error) {
	switch MatchMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", MatchSubstring:
		return MatchSubstring, nil
	case MatchWord:
		return MatchWord, nil
	}
	return "", fmt.Errorf("unknown match mode %q (want substring or word)", s)
}

// Hit is one keyword of one category found in a text.
type Hit struct {
	Category string
	Keyword  string
}

// Regexp \b only knows ASCII word characters, so "café" or "a+" would never
// match. The boundary is any rune that is not a letter, digit or underscore.
const (
	wordStart = `(?:^|[^\p{L}\p{N}_])`
	wordEnd   = `(?:$|[^\p{L}\p{N}_])`
)

type compiledCategory struct {
	name     string
	keywords []string
	patterns []*regexp.Regexp
}

// Matcher matches review text against one mapping. Both the tagger and the
// mention counter go through it so their normalization cannot drift apart.
type Matcher struct {
	mode       MatchMode
	categories []compiledCategory
}

// NewMatcher compiles a mapping for the given mode.
func NewMatcher(m *keywords.Mapping, mode MatchMode) *Matcher {
	if mode == "" {
		mode = MatchSubstring
	}

	mt := &Matcher{mode: mode}
	for _, c := range m.Categories {
		cc := compiledCategory{name: c.Name}
		for _, kw := range c.Keywords {
			kw = keywords.NormalizeKeyword(kw)
			if kw == "" {
				continue
			}
			cc.keywords = append(cc.keywords, kw)
			if mode == MatchWord {
				cc.patterns = append(cc.patterns, regexp.MustCompile(wordStart+regexp.QuoteMeta(kw)+wordEnd))
			}
		}
		mt.categories = append(mt.categories, cc)
	}
	return mt
}

// Mode returns the match mode.
func (mt *Matcher) Mode() MatchMode {
	return mt.mode
}

func (mt *Matcher) matches(cc *compiledCategory, i int, text string) bool {
	if mt.mode == MatchWord {
		return cc.patterns[i].MatchString(text)
	}
	return strings.Contains(text, cc.keywords[i])
}

// Hits returns every (category, keyword) pair found in text, in mapping order.
func (mt *Matcher) Hits(text string) []Hit {
	text = strings.ToLower(text)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var hits []Hit
	for ci := range mt.categories {
		cc := &mt.categories[ci]
		for i, kw := range cc.keywords {
			if mt.matches(cc, i, text) {
				hits = append(hits, Hit{Category: cc.name, Keyword: kw})
			}
		}
	}
	return hits
}

// Categories returns the categories mentioned in text, each at most once.
func (mt *Matcher) Categories(text string) []string {
	text = strings.ToLower(text)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var out []string
	for ci := range mt.categories {
		cc := &mt.categories[ci]
		for i := range cc.keywords {
			if mt.matches(cc, i, text) {
				out = append(out, cc.name)
				break
			}
		}
	}
	return out
}

// MentionCounts holds per-category review counts plus the number of reviews
// skipped because they had no text.
type MentionCounts struct {
	Counts  map[string]int
	Skipped int
}

// Lookup returns the count for a category, matching the name case-insensitively.
func (mc MentionCounts) Lookup(category string) int {
	if n, ok := mc.Counts[category]; ok {
		return n
	}
	for name, n := range mc.Counts {
		if strings.EqualFold(name, category) {
			return n
		}
	}
	return 0
}

// CountMentions counts, per category, the reviews that mention any of its
// keywords. A review counts once per category no matter how many keywords hit.
// Categories with no mentions are absent from Counts.
func (mt *Matcher) CountMentions(reviews []database.Review) MentionCounts {
	mc := MentionCounts{Counts: make(map[string]int)}
	for _, r := range reviews {
		text := r.Text()
		if strings.TrimSpace(text) == "" {
			mc.Skipped++
			continue
		}
		for _, cat := range mt.Categories(text) {
			mc.Counts[cat]++
		}
	}
	return mc
}
