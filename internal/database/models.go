package database

import "time"

// Review is a single customer review fetched from the review source table.
type Review struct {
	PrimaryKey *string
	Date       time.Time
	Rating     *float64
	Comment    *string
}

// Text returns the review comment, or "" when it is missing.
func (r Review) Text() string {
	if r.Comment == nil {
		return ""
	}
	return *r.Comment
}

// ReviewInput is a review row being imported into the review source table.
type ReviewInput struct {
	PrimaryKey string   `validate:"omitempty,max=256"`
	Date       string   `validate:"required,datetime=2006-01-02"`
	Rating     *float64 `validate:"omitempty,gte=0,lte=5"`
	Comment    string
	Source     string `validate:"required"`
}

// TagRecord is one review/category/keyword match produced by the tagger.
type TagRecord struct {
	ReviewForeignKey string
	Category         string
	Keyword          string
	ReviewComment    string
	ReviewDate       time.Time
	MappingVersion   string
	WeekStart        time.Time
	WeekEnd          time.Time
	LoadTimestamp    time.Time
}

// GradeRecord is a sentiment grade for one category in one window and mapping version.
type GradeRecord struct {
	WeekStart       time.Time
	WeekEnd         time.Time
	Category        string
	Grade           string
	MentionCount    int
	MappingVersion  string
	InsertTimestamp time.Time
}

// SummaryRecord holds the wins and opportunities narrative for one window.
type SummaryRecord struct {
	WeekStart         time.Time
	WeekEnd           time.Time
	WinsText          string
	OpportunitiesText string
	ReviewCount       int
	InsertTimestamp   time.Time
}

// RunStatus is the outcome of a window run.
type RunStatus string

const (
	RunOK      RunStatus = "ok"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// RunReport holds metadata about a single window run.
type RunReport struct {
	RunID       string
	WeekStart   time.Time
	WeekEnd     time.Time
	Status      RunStatus
	ReviewCount int
	Detail      string
	CreatedAt   time.Time
}

// Stats contains aggregate warehouse statistics.
type Stats struct {
	Reviews         int
	ReviewDays      int
	Summaries       int
	Grades          int
	TagRows         int
	MappingVersions int
	Runs            int
	FailedRuns      int
}
