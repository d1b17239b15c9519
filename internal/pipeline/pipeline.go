package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TobiSchelling/reviewdigest/internal/database"
	"github.com/TobiSchelling/reviewdigest/internal/grader"
	"github.com/TobiSchelling/reviewdigest/internal/keywords"
	"github.com/TobiSchelling/reviewdigest/internal/llm"
	"github.com/TobiSchelling/reviewdigest/internal/summarize"
	"github.com/TobiSchelling/reviewdigest/internal/tagger"
	"github.com/TobiSchelling/reviewdigest/internal/window"
)

// DefaultSource is the review_source value reviews are fetched for.
const DefaultSource = "Google"

// Warehouse is everything the pipeline reads from and writes to.
// *database.DB implements it.
type Warehouse interface {
	GetReviews(start, end time.Time, source string) ([]database.Review, error)
	DeleteWindow(table database.Table, start, end time.Time, version *string) (int64, error)
	InsertSummary(s database.SummaryRecord) error
	InsertSentimentGrades(grades []database.GradeRecord) error
	AppendTagRecords(tags []database.TagRecord) (int, error)
	InsertRunReport(r database.RunReport) error
}

// Mappings resolves keyword mapping versions. *keywords.Registry implements it.
type Mappings interface {
	Mapping(version string) (*keywords.Mapping, error)
}

// Options configures a Pipeline.
type Options struct {
	Source           string
	DeleteBeforeLoad bool
	// SkipCompleteness disables the per-day completeness gate.
	SkipCompleteness bool
	Tagger           tagger.Options
	Grader           grader.Options
}

// Pipeline runs the weekly digest for one window at a time.
type Pipeline struct {
	wh         Warehouse
	mappings   Mappings
	summarizer *summarize.Summarizer
	tagger     *tagger.Tagger
	grader     *grader.Grader
	opts       Options
	logger     *zap.Logger
	newID      func() string
}

// New creates a pipeline. provider may be nil; model-backed steps then fail
// individually and are reported in the result.
func New(wh Warehouse, mappings Mappings, provider llm.Provider, opts Options, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Source == "" {
		opts.Source = DefaultSource
	}
	if opts.Grader.MatchMode == "" {
		opts.Grader.MatchMode = opts.Tagger.MatchMode
	}

	return &Pipeline{
		wh:         wh,
		mappings:   mappings,
		summarizer: summarize.New(provider, wh, logger.Named("summarize")),
		tagger:     tagger.New(opts.Tagger, wh, logger.Named("tagger")),
		grader:     grader.New(provider, mappings, wh, opts.Grader, logger.Named("grader")),
		opts:       opts,
		logger:     logger,
		newID:      func() string { return uuid.NewString() },
	}
}

// ValidateVersions loads every requested mapping so unknown versions and
// malformed files fail before any window is processed.
func (p *Pipeline) ValidateVersions(versions []string) error {
	if len(versions) == 0 {
		return fmt.Errorf("no mapping versions requested")
	}
	for _, v := range versions {
		if _, err := p.mappings.Mapping(v); err != nil {
			return fmt.Errorf("mapping %s: %w", v, err)
		}
	}
	return nil
}

// RunWindow processes one window for every version. The returned error is
// set only for failures that abort the whole window: fetch, completeness,
// mapping and delete errors. Model and warehouse failures inside a step are
// recorded on the result instead.
func (p *Pipeline) RunWindow(ctx context.Context, w window.Window, versions []string) (*WindowResult, error) {
	r := &WindowResult{RunID: p.newID(), Window: w}
	log := p.logger.With(zap.String("window", w.ID()), zap.String("run_id", r.RunID))

	err := p.runWindow(ctx, r, versions, log)
	p.recordRun(r, err, log)
	if err != nil {
		return r, err
	}
	return r, nil
}

func (p *Pipeline) runWindow(ctx context.Context, r *WindowResult, versions []string, log *zap.Logger) error {
	w := r.Window
	if err := p.ValidateVersions(versions); err != nil {
		return err
	}

	log.Info("processing window", zap.Strings("versions", versions))
	reviews, err := p.wh.GetReviews(w.Start, w.End, p.opts.Source)
	if err != nil {
		return fmt.Errorf("fetching reviews: %w", err)
	}
	r.ReviewCount = len(reviews)

	dates := make([]time.Time, len(reviews))
	for i, rv := range reviews {
		dates[i] = rv.Date
	}
	r.DailyCounts = window.DailyCounts(dates, w)
	log.Info("fetched reviews", zap.Int("reviews", r.ReviewCount))

	if !p.opts.SkipCompleteness {
		if err := window.CheckCompleteness(dates, w); err != nil {
			return err
		}
	}

	if p.opts.DeleteBeforeLoad {
		n, err := p.deleteWindow(w, versions)
		if err != nil {
			return err
		}
		r.Deleted = n
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	r.SummaryStep = p.runSummary(ctx, r, reviews)

	for _, v := range versions {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.Versions = append(r.Versions, p.runVersion(ctx, w, v, reviews, log))
	}

	log.Info("window complete", zap.String("status", string(r.Status())))
	return nil
}

func (p *Pipeline) deleteWindow(w window.Window, versions []string) (int64, error) {
	total, err := p.wh.DeleteWindow(database.TableSummaries, w.Start, w.End, nil)
	if err != nil {
		return 0, fmt.Errorf("deleting summaries: %w", err)
	}
	for _, v := range versions {
		for _, table := range []database.Table{database.TableGrades, database.TableTags} {
			n, err := p.wh.DeleteWindow(table, w.Start, w.End, &v)
			if err != nil {
				return total, fmt.Errorf("deleting %s for %s: %w", table, v, err)
			}
			total += n
		}
	}
	return total, nil
}

func (p *Pipeline) runSummary(ctx context.Context, r *WindowResult, reviews []database.Review) StepResult {
	sum, err := p.summarizer.Summarize(ctx, reviews)
	if err != nil {
		return failedStep("Summary", err)
	}
	r.Summary = sum

	if err := p.summarizer.Persist(r.Window, sum, len(reviews)); err != nil {
		return failedStep("Summary", err)
	}
	return StepResult{Name: "Summary", Status: StatusInserted, Summary: fmt.Sprintf("Summarized %d reviews", len(reviews))}
}

func (p *Pipeline) runVersion(ctx context.Context, w window.Window, version string, reviews []database.Review, log *zap.Logger) VersionResult {
	vr := VersionResult{Version: version}
	log = log.With(zap.String("mapping_version", version))

	m, err := p.mappings.Mapping(version)
	if err != nil {
		// Already validated; a failure here means the source changed mid-run.
		vr.Tagging = failedStep("Tagging", err)
		vr.Grading = failedStep("Grading", err)
		return vr
	}

	vr.Tagging = p.runTagging(w, m, reviews, &vr)
	vr.Grading = p.runGrading(ctx, w, version, reviews, &vr)

	if vr.Tagging.Err != nil || vr.Grading.Err != nil {
		log.Warn("version finished with failures",
			zap.String("tagging", string(vr.Tagging.Status)),
			zap.String("grading", string(vr.Grading.Status)),
		)
	}
	return vr
}

func (p *Pipeline) runTagging(w window.Window, m *keywords.Mapping, reviews []database.Review, vr *VersionResult) StepResult {
	tags, err := p.tagger.Tag(reviews, m)
	if err != nil {
		return failedStep("Tagging", err)
	}
	if len(tags) == 0 {
		return StepResult{Name: "Tagging", Status: StatusSkipped, Summary: "No keyword matches"}
	}

	n, err := p.tagger.Persist(w, tags)
	if err != nil {
		return failedStep("Tagging", err)
	}
	vr.TagRows = n
	return StepResult{Name: "Tagging", Status: StatusInserted, Summary: fmt.Sprintf("Loaded %d tag rows", n)}
}

func (p *Pipeline) runGrading(ctx context.Context, w window.Window, version string, reviews []database.Review, vr *VersionResult) StepResult {
	res := p.grader.Grade(ctx, reviews, version)
	vr.GradeKind = res.Kind
	vr.MentionCounts = res.MentionCounts.Counts

	switch res.Kind {
	case grader.GradeNoReviews:
		return StepResult{Name: "Grading", Status: StatusSkipped, Summary: res.Detail}
	case grader.GradeDegraded:
		vr.RawResponse = res.RawResponse
		return failedStep("Grading", fmt.Errorf("unparseable model response: %w", res.Err))
	case grader.GradeFailed:
		return failedStep("Grading", res.Err)
	}

	vr.Grades = res.Grades
	n, err := p.grader.Persist(w, res)
	if err != nil {
		return failedStep("Grading", err)
	}
	return StepResult{Name: "Grading", Status: StatusInserted, Summary: fmt.Sprintf("Inserted %d grades", n)}
}

func (p *Pipeline) recordRun(r *WindowResult, runErr error, log *zap.Logger) {
	report := database.RunReport{
		RunID:       r.RunID,
		WeekStart:   r.Window.Start,
		WeekEnd:     r.Window.End,
		ReviewCount: r.ReviewCount,
		Status:      database.RunStatus(r.Status()),
		CreatedAt:   time.Now(),
	}
	if runErr != nil {
		report.Status = database.RunFailed
		report.Detail = runErr.Error()
	} else {
		report.Detail = strings.Join(r.Failures(), "; ")
	}

	if err := p.wh.InsertRunReport(report); err != nil {
		log.Warn("could not record run report", zap.Error(err))
	}
}

// DryRun reports what RunWindow would do without calling the model or
// writing anything.
func (p *Pipeline) DryRun(w window.Window, versions []string) (*Plan, error) {
	plan := &Plan{Window: w, Versions: versions, DeleteBeforeLoad: p.opts.DeleteBeforeLoad}
	if err := p.ValidateVersions(versions); err != nil {
		return nil, err
	}

	reviews, err := p.wh.GetReviews(w.Start, w.End, p.opts.Source)
	if err != nil {
		return nil, fmt.Errorf("fetching reviews: %w", err)
	}
	plan.ReviewCount = len(reviews)

	dates := make([]time.Time, len(reviews))
	for i, rv := range reviews {
		dates[i] = rv.Date
	}
	plan.DailyCounts = window.DailyCounts(dates, w)

	if err := window.CheckCompleteness(dates, w); err != nil {
		var inc *window.IncompleteError
		if errors.As(err, &inc) {
			plan.MissingDates = inc.MissingDates
		}
	}
	plan.Blocked = len(plan.MissingDates) > 0 && !p.opts.SkipCompleteness
	return plan, nil
}
