package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/reviewdigest/internal/window"
)

// BackfillOptions controls RunBackfill.
type BackfillOptions struct {
	// Align snaps start back to a Friday and end forward to a Thursday.
	Align bool
	// StopOnError halts at the first failed week.
	StopOnError bool
}

// RunBackfill runs RunWindow for each week in [start, end]. Failed weeks are
// recorded and skipped; with StopOnError the run halts and the week's error
// is returned alongside the result. Completed weeks are never rolled back.
func (p *Pipeline) RunBackfill(ctx context.Context, start, end time.Time, versions []string, opts BackfillOptions) (*BackfillResult, error) {
	start, end = window.Date(start), window.Date(end)
	if opts.Align {
		start, end = window.AlignToFriday(start), window.AlignToThursday(end)
	}
	if start.After(end) {
		return nil, fmt.Errorf("backfill start %s is after end %s", window.FormatDate(start), window.FormatDate(end))
	}
	if err := p.ValidateVersions(versions); err != nil {
		return nil, err
	}

	res := &BackfillResult{Start: start, End: end}
	p.logger.Info("starting backfill",
		zap.String("start", window.FormatDate(start)),
		zap.String("end", window.FormatDate(end)),
		zap.Strings("versions", versions),
		zap.Bool("stop_on_error", opts.StopOnError),
	)

	for w := range window.IterateWeeks(start, end) {
		if err := ctx.Err(); err != nil {
			res.Stopped = true
			return res, err
		}

		wr, err := p.RunWindow(ctx, w, versions)
		res.Weeks = append(res.Weeks, WeekResult{Window: w, Result: wr, Err: err})
		if err != nil {
			res.Failed++
			p.logger.Error("week failed", zap.String("window", w.ID()), zap.Error(err))
			if opts.StopOnError {
				res.Stopped = true
				return res, fmt.Errorf("week %s: %w", w.ID(), err)
			}
			continue
		}
		res.Succeeded++
	}

	p.logger.Info("backfill complete",
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}
