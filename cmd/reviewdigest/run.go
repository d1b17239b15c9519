package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/reviewdigest/internal/config"
	"github.com/TobiSchelling/reviewdigest/internal/pipeline"
	"github.com/TobiSchelling/reviewdigest/internal/window"
)

// --- run command ---

var (
	runStart    string
	runEnd      string
	runVersions string
	runDryRun   bool
	runKeep     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the digest for one window (default: the last complete Friday-Thursday week)",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := resolveWindow(runStart, runEnd, nowIn())
		if err != nil {
			return err
		}
		versions := versionsOrDefault(runVersions)

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe, err := buildPipeline(db, cfg.Pipeline.DeleteBeforeLoad && !runKeep)
		if err != nil {
			return err
		}

		if runDryRun {
			plan, err := pipe.DryRun(w, versions)
			if err != nil {
				return err
			}
			printPlan(plan)
			return nil
		}

		fmt.Printf("Processing %s (%s)\n", w.ID(), strings.Join(versions, ", "))
		res, err := pipe.RunWindow(cmd.Context(), w, versions)
		if res != nil {
			printWindow(res)
		}
		if err != nil {
			return err
		}
		fmt.Println("\nRun complete! Run 'reviewdigest serve' to view the digest.")
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runStart, "start", "", "Window start date (YYYY-MM-DD)")
	runCmd.Flags().StringVar(&runEnd, "end", "", "Window end date (YYYY-MM-DD)")
	runCmd.Flags().StringVar(&runVersions, "versions", "", "Comma separated mapping versions (default from config)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Show what would be done without calling the model or writing")
	runCmd.Flags().BoolVar(&runKeep, "keep-existing", false, "Append without deleting existing rows for the window")
}

// resolveWindow returns the explicit window when both dates are given and
// the canonical last week when neither is.
func resolveWindow(start, end string, today time.Time) (window.Window, error) {
	if start == "" && end == "" {
		return window.CanonicalLastWeek(today), nil
	}
	if start == "" || end == "" {
		return window.Window{}, fmt.Errorf("--start and --end must be given together")
	}
	s, err := window.ParseDate(start)
	if err != nil {
		return window.Window{}, err
	}
	e, err := window.ParseDate(end)
	if err != nil {
		return window.Window{}, err
	}
	return window.New(s, e)
}

func printPlan(p *pipeline.Plan) {
	fmt.Printf("Dry run for %s\n", p.Window.ID())
	fmt.Printf("  Versions: %s\n", strings.Join(p.Versions, ", "))
	fmt.Printf("  Reviews: %d\n", p.ReviewCount)
	printDailyCounts(p.DailyCounts)
	if len(p.MissingDates) > 0 {
		dates := make([]string, len(p.MissingDates))
		for i, d := range p.MissingDates {
			dates[i] = window.FormatDate(d)
		}
		fmt.Printf("  Missing days: %s\n", strings.Join(dates, ", "))
	}
	fmt.Printf("  Delete before load: %v\n", p.DeleteBeforeLoad)
	if p.Blocked {
		fmt.Println("  Blocked: the completeness check would abort this window.")
	}
}

func printDailyCounts(counts []window.DayCount) {
	for _, dc := range counts {
		fmt.Printf("    %s %s: %d\n", dc.Date.Format("Mon"), window.FormatDate(dc.Date), dc.Count)
	}
}

func printWindow(r *pipeline.WindowResult) {
	fmt.Printf("  Reviews: %d\n", r.ReviewCount)
	printDailyCounts(r.DailyCounts)
	if r.Deleted > 0 {
		fmt.Printf("  Deleted %d existing rows\n", r.Deleted)
	}
	if step := r.SummaryStep; step.Status != "" {
		fmt.Printf("\n%s: %s\n  %s\n", step.Name, step.Status, step.Summary)
	}
	for _, v := range r.Versions {
		fmt.Printf("\n[%s]\n", v.Version)
		fmt.Printf("  %s: %s (%s)\n", v.Tagging.Name, v.Tagging.Status, v.Tagging.Summary)
		fmt.Printf("  %s: %s (%s)\n", v.Grading.Name, v.Grading.Status, v.Grading.Summary)
		for _, g := range v.Grades {
			fmt.Printf("    %-30s %-3s %d mentions\n", g.Category, g.Grade, g.Mentions)
		}
	}
}

// --- backfill command ---

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Re-run the digest for every week in a historical range",
	Long: `Re-run the digest week by week over a date range.

Settings come from BACKFILL_START, BACKFILL_END, BACKFILL_VERSIONS,
STOP_ON_ERROR, ALIGN_TO_FRI_THU and BACKFILL_DELETE; flags override them.
Exits 1 when any week failed and 2 when the range is missing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := backfillSettings(cmd, os.LookupEnv)
		if err != nil {
			cmd.SilenceUsage = true
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe, err := buildPipeline(db, opts.delete)
		if err != nil {
			return err
		}

		fmt.Println("=== BACKFILL ===")
		fmt.Printf("Window: %s -> %s\n", window.FormatDate(opts.start), window.FormatDate(opts.end))
		fmt.Printf("Versions: %s\n", strings.Join(opts.versions, ", "))
		fmt.Printf("Stop on error: %v, align: %v, delete before load: %v\n", opts.stopOnError, opts.align, opts.delete)

		res, runErr := pipe.RunBackfill(cmd.Context(), opts.start, opts.end, opts.versions, pipeline.BackfillOptions{
			Align:       opts.align,
			StopOnError: opts.stopOnError,
		})
		if res == nil {
			return runErr
		}

		for _, wk := range res.Weeks {
			status := "ok"
			switch {
			case wk.Err != nil:
				status = "FAILED: " + wk.Err.Error()
			case wk.Result != nil:
				status = string(wk.Result.Status())
			}
			fmt.Printf("  %s  %s\n", wk.Window.ID(), status)
		}
		fmt.Printf("\nSucceeded: %d, failed: %d\n", res.Succeeded, res.Failed)
		if res.Stopped {
			fmt.Println("Stopped early.")
		}

		if runErr != nil || res.Failed > 0 {
			cmd.SilenceUsage = true
			if runErr == nil {
				runErr = fmt.Errorf("%d week(s) failed", res.Failed)
			}
			return &exitError{code: 1, err: runErr}
		}
		return nil
	},
}

func init() {
	addBackfillFlags(backfillCmd)
}

func addBackfillFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("start", "", "Range start date (env BACKFILL_START)")
	f.String("end", "", "Range end date (env BACKFILL_END)")
	f.String("versions", "", "Comma separated mapping versions (env BACKFILL_VERSIONS)")
	f.Bool("stop-on-error", true, "Halt at the first failed week (env STOP_ON_ERROR)")
	f.Bool("align", true, "Snap the range to whole Friday-Thursday weeks (env ALIGN_TO_FRI_THU)")
	f.Bool("delete", true, "Delete existing rows per week before loading (env BACKFILL_DELETE)")
}

type backfillOpts struct {
	start       time.Time
	end         time.Time
	versions    []string
	stopOnError bool
	align       bool
	delete      bool
}

var errMissingRange = errors.New("missing backfill range: set BACKFILL_START and BACKFILL_END (YYYY-MM-DD) or pass --start and --end")

// backfillSettings merges env vars with flags. A flag wins only when it
// was set explicitly.
func backfillSettings(cmd *cobra.Command, lookup func(string) (string, bool)) (backfillOpts, error) {
	flags := cmd.Flags()
	pickString := func(flag, env string) string {
		value, _ := flags.GetString(flag)
		if flags.Changed(flag) {
			return strings.TrimSpace(value)
		}
		if v, ok := lookup(env); ok {
			return strings.TrimSpace(v)
		}
		return value
	}
	pickBool := func(flag, env string) (bool, error) {
		value, _ := flags.GetBool(flag)
		if flags.Changed(flag) {
			return value, nil
		}
		if v, ok := lookup(env); ok && strings.TrimSpace(v) != "" {
			b, err := config.ParseBool(v)
			if err != nil {
				return false, fmt.Errorf("%s: %w", env, err)
			}
			return b, nil
		}
		return value, nil
	}

	var opts backfillOpts
	startStr := pickString("start", "BACKFILL_START")
	endStr := pickString("end", "BACKFILL_END")
	if startStr == "" || endStr == "" {
		return opts, &exitError{code: 2, err: errMissingRange}
	}

	var err error
	if opts.start, err = window.ParseDate(startStr); err != nil {
		return opts, err
	}
	if opts.end, err = window.ParseDate(endStr); err != nil {
		return opts, err
	}
	if opts.start.After(opts.end) {
		return opts, fmt.Errorf("BACKFILL_START %s cannot be after BACKFILL_END %s", startStr, endStr)
	}

	opts.versions = versionsOrDefault(pickString("versions", "BACKFILL_VERSIONS"))
	if opts.stopOnError, err = pickBool("stop-on-error", "STOP_ON_ERROR"); err != nil {
		return opts, err
	}
	if opts.align, err = pickBool("align", "ALIGN_TO_FRI_THU"); err != nil {
		return opts, err
	}
	if opts.delete, err = pickBool("delete", "BACKFILL_DELETE"); err != nil {
		return opts, err
	}
	return opts, nil
}
