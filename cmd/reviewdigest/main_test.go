package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/reviewdigest/internal/config"
	"github.com/TobiSchelling/reviewdigest/internal/window"
)

func loadTestConfig(t *testing.T) {
	t.Helper()
	c, err := config.LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault: %v", err)
	}
	cfg = c
}

func envOf(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func newBackfillCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "backfill"}
	addBackfillFlags(cmd)
	if err := cmd.Flags().Parse(args); err != nil {
		t.Fatalf("parsing flags: %v", err)
	}
	return cmd
}

func TestResolveWindow(t *testing.T) {
	today := time.Date(2026, 2, 13, 9, 0, 0, 0, time.UTC)

	w, err := resolveWindow("", "", today)
	if err != nil || w.ID() != "2026-02-06..2026-02-12" {
		t.Errorf("expected canonical last week, got %s (%v)", w.ID(), err)
	}

	w, err = resolveWindow("2026-01-01", "2026-01-03", today)
	if err != nil || w.Days() != 3 {
		t.Errorf("expected explicit 3-day window, got %s (%v)", w.ID(), err)
	}

	if _, err := resolveWindow("2026-01-01", "", today); err == nil {
		t.Error("expected error for half-open range")
	}
	if _, err := resolveWindow("2026-01-05", "2026-01-01", today); err == nil {
		t.Error("expected error for inverted range")
	}
}

func TestBackfillSettingsFromEnv(t *testing.T) {
	loadTestConfig(t)
	opts, err := backfillSettings(newBackfillCmd(t), envOf(map[string]string{
		"BACKFILL_START":    "2025-10-31",
		"BACKFILL_END":      "2025-12-04",
		"BACKFILL_VERSIONS": "v1.0, v3.0",
		"STOP_ON_ERROR":     "false",
		"ALIGN_TO_FRI_THU":  "true",
		"BACKFILL_DELETE":   "no",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if window.FormatDate(opts.start) != "2025-10-31" || window.FormatDate(opts.end) != "2025-12-04" {
		t.Errorf("unexpected range %v..%v", opts.start, opts.end)
	}
	if len(opts.versions) != 2 || opts.versions[1] != "v3.0" {
		t.Errorf("unexpected versions %v", opts.versions)
	}
	if opts.stopOnError || !opts.align || opts.delete {
		t.Errorf("unexpected flags %+v", opts)
	}
}

func TestBackfillSettingsDefaults(t *testing.T) {
	loadTestConfig(t)
	opts, err := backfillSettings(newBackfillCmd(t), envOf(map[string]string{
		"BACKFILL_START": "2025-10-31",
		"BACKFILL_END":   "2025-12-04",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !opts.stopOnError || !opts.align || !opts.delete {
		t.Errorf("expected stop/align/delete on by default, got %+v", opts)
	}
	if len(opts.versions) != len(cfg.Mappings.DefaultVersions) {
		t.Errorf("expected default versions, got %v", opts.versions)
	}
}

func TestBackfillFlagsOverrideEnv(t *testing.T) {
	loadTestConfig(t)
	cmd := newBackfillCmd(t, "--start", "2026-01-02", "--stop-on-error=false", "--versions", "v2.0")
	opts, err := backfillSettings(cmd, envOf(map[string]string{
		"BACKFILL_START": "2025-10-31",
		"BACKFILL_END":   "2026-01-15",
		"STOP_ON_ERROR":  "true",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if window.FormatDate(opts.start) != "2026-01-02" || window.FormatDate(opts.end) != "2026-01-15" {
		t.Errorf("unexpected range %v..%v", opts.start, opts.end)
	}
	if opts.stopOnError {
		t.Error("expected flag to override STOP_ON_ERROR")
	}
	if len(opts.versions) != 1 || opts.versions[0] != "v2.0" {
		t.Errorf("unexpected versions %v", opts.versions)
	}
}

func TestBackfillMissingRangeExits2(t *testing.T) {
	loadTestConfig(t)
	_, err := backfillSettings(newBackfillCmd(t), envOf(map[string]string{"BACKFILL_START": "2025-10-31"}))
	var ee *exitError
	if !errors.As(err, &ee) || ee.code != 2 {
		t.Fatalf("expected exit code 2, got %v", err)
	}
	if !errors.Is(err, errMissingRange) {
		t.Error("expected errMissingRange")
	}
}

func TestBackfillRejectsBadInput(t *testing.T) {
	loadTestConfig(t)
	cases := []map[string]string{
		{"BACKFILL_START": "2026-01-10", "BACKFILL_END": "2026-01-01"},
		{"BACKFILL_START": "soon", "BACKFILL_END": "2026-01-01"},
		{"BACKFILL_START": "2026-01-01", "BACKFILL_END": "2026-01-10", "STOP_ON_ERROR": "sometimes"},
	}
	for _, env := range cases {
		if _, err := backfillSettings(newBackfillCmd(t), envOf(env)); err == nil {
			t.Errorf("expected error for %v", env)
		}
	}
}

func TestReadReviewCSV(t *testing.T) {
	data := "\ufeffID,Date,Rating,Comment\n" +
		"r1,2026-02-06T10:00:00Z,5,Friendly staff\n" +
		"r2,2026-02-07,,\"Long wait, but fine\"\n"

	inputs, err := readReviewCSV(strings.NewReader(data), "Google")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inputs) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(inputs))
	}
	if inputs[0].PrimaryKey != "r1" || inputs[0].Date != "2026-02-06" || inputs[0].Source != "Google" {
		t.Errorf("unexpected first row %+v", inputs[0])
	}
	if inputs[0].Rating == nil || *inputs[0].Rating != 5 {
		t.Errorf("expected rating 5, got %v", inputs[0].Rating)
	}
	if inputs[1].Rating != nil || inputs[1].Comment != "Long wait, but fine" {
		t.Errorf("unexpected second row %+v", inputs[1])
	}
}

func TestReadReviewCSVErrors(t *testing.T) {
	if _, err := readReviewCSV(strings.NewReader(""), "Google"); err == nil {
		t.Error("expected error for empty file")
	}
	if _, err := readReviewCSV(strings.NewReader("id,comment\n1,hi\n"), "Google"); err == nil {
		t.Error("expected error for missing date column")
	}
	if _, err := readReviewCSV(strings.NewReader("date,rating\n2026-02-06,great\n"), "Google"); err == nil {
		t.Error("expected error for non-numeric rating")
	}
}
