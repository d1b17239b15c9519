package pipeline

import (
	"fmt"
	"time"

	"github.com/TobiSchelling/reviewdigest/internal/grader"
	"github.com/TobiSchelling/reviewdigest/internal/summarize"
	"github.com/TobiSchelling/reviewdigest/internal/window"
)

// StepStatus is the outcome of one sub-pipeline step.
type StepStatus string

const (
	StatusInserted StepStatus = "inserted"
	StatusSkipped  StepStatus = "skipped"
	StatusFailed   StepStatus = "failed"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Status  StepStatus
	Summary string
	Err     error
}

func failedStep(name string, err error) StepResult {
	return StepResult{Name: name, Status: StatusFailed, Summary: err.Error(), Err: err}
}

// VersionResult is the tagging and grading outcome for one mapping version.
type VersionResult struct {
	Version       string
	Tagging       StepResult
	TagRows       int
	Grading       StepResult
	GradeKind     grader.Kind
	Grades        []grader.Grade
	MentionCounts map[string]int
	// RawResponse is kept when the model reply could not be parsed.
	RawResponse string
}

// WindowResult holds the results of one window run.
type WindowResult struct {
	RunID       string
	Window      window.Window
	ReviewCount int
	DailyCounts []window.DayCount
	Deleted     int64
	Summary     summarize.Summary
	SummaryStep StepResult
	Versions    []VersionResult
}

// Steps returns every step result in execution order.
func (r *WindowResult) Steps() []StepResult {
	steps := []StepResult{r.SummaryStep}
	for _, v := range r.Versions {
		steps = append(steps, v.Tagging, v.Grading)
	}
	return steps
}

// Failures describes each failed step.
func (r *WindowResult) Failures() []string {
	var out []string
	if r.SummaryStep.Status == StatusFailed {
		out = append(out, fmt.Sprintf("summary: %s", r.SummaryStep.Summary))
	}
	for _, v := range r.Versions {
		if v.Tagging.Status == StatusFailed {
			out = append(out, fmt.Sprintf("tagging %s: %s", v.Version, v.Tagging.Summary))
		}
		if v.Grading.Status == StatusFailed {
			out = append(out, fmt.Sprintf("grading %s: %s", v.Version, v.Grading.Summary))
		}
	}
	return out
}

// RunStatus summarizes a completed window.
type RunStatus string

const (
	RunOK      RunStatus = "ok"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// Status is ok when no step failed and partial otherwise. A window that
// returned an error from RunWindow is failed regardless.
func (r *WindowResult) Status() RunStatus {
	if r.SummaryStep.Status == "" {
		return RunFailed
	}
	if len(r.Failures()) > 0 {
		return RunPartial
	}
	return RunOK
}

// WeekResult is one week of a backfill.
type WeekResult struct {
	Window window.Window
	Result *WindowResult
	Err    error
}

// BackfillResult aggregates a multi-week run.
type BackfillResult struct {
	Start     time.Time
	End       time.Time
	Weeks     []WeekResult
	Succeeded int
	Failed    int
	// Stopped is set when StopOnError halted the run early.
	Stopped bool
}

// Status is ok when every week succeeded, failed when none did and
// partial in between.
func (b *BackfillResult) Status() RunStatus {
	switch {
	case b.Failed == 0 && b.Succeeded > 0:
		return RunOK
	case b.Succeeded == 0:
		return RunFailed
	}
	return RunPartial
}

// Plan is the output of DryRun.
type Plan struct {
	Window           window.Window
	Versions         []string
	ReviewCount      int
	DailyCounts      []window.DayCount
	MissingDates     []time.Time
	DeleteBeforeLoad bool
	Blocked          bool
}
