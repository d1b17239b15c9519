package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/reviewdigest/internal/config"
	"github.com/TobiSchelling/reviewdigest/internal/database"
	"github.com/TobiSchelling/reviewdigest/internal/grader"
	"github.com/TobiSchelling/reviewdigest/internal/keywords"
	"github.com/TobiSchelling/reviewdigest/internal/llm"
	"github.com/TobiSchelling/reviewdigest/internal/logging"
	"github.com/TobiSchelling/reviewdigest/internal/pipeline"
	"github.com/TobiSchelling/reviewdigest/internal/tagger"
	"github.com/TobiSchelling/reviewdigest/internal/window"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     = zap.NewNop()
)

// exitError carries a specific process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	_ = logging.Sync(logger)

	if err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "reviewdigest",
	Short:   "Weekly customer review digests",
	Long:    "reviewdigest summarizes, tags and grades a week of customer reviews into the warehouse.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		var err error
		path, resolveErr := config.ResolveConfigPath(configPath)
		switch {
		case resolveErr == nil:
			cfg, err = config.Load(path)
		case configPath != "":
			return resolveErr
		default:
			cfg, err = config.LoadDefault()
		}
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.Logging.Format)
		if err != nil {
			return err
		}
		if resolveErr != nil {
			logger.Debug("no config file found, using built-in defaults")
		} else {
			logger.Debug("loaded config", zap.String("path", path))
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scheduleCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("reviewdigest", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/reviewdigest/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to point at your keyword mappings and LLM provider.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show warehouse and run status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}
		first, last, err := db.ReviewDateRange(cfg.Warehouse.Source)
		if err != nil {
			return fmt.Errorf("getting review range: %w", err)
		}

		fmt.Printf("Warehouse: %s\n", db.Path())
		fmt.Printf("Last complete week: %s\n\n", window.CanonicalLastWeek(nowIn()).ID())
		fmt.Println("Reviews:")
		fmt.Printf("  Total: %d\n", stats.Reviews)
		fmt.Printf("  Days with reviews: %d\n", stats.ReviewDays)
		if !first.IsZero() {
			fmt.Printf("  %s range: %s to %s\n", cfg.Warehouse.Source, window.FormatDate(first), window.FormatDate(last))
		}
		fmt.Println("\nOutput:")
		fmt.Printf("  Summaries: %d\n", stats.Summaries)
		fmt.Printf("  Sentiment grades: %d\n", stats.Grades)
		fmt.Printf("  Tag rows: %d (%d mapping versions)\n", stats.TagRows, stats.MappingVersions)
		fmt.Println("\nRuns:")
		fmt.Printf("  Total: %d\n", stats.Runs)
		fmt.Printf("  Failed: %d\n", stats.FailedRuns)

		lastRun, err := db.GetLastRun()
		if err != nil {
			return err
		}
		if lastRun != nil {
			fmt.Printf("  Last: %s..%s %s (%d reviews)\n",
				window.FormatDate(lastRun.WeekStart), window.FormatDate(lastRun.WeekEnd),
				lastRun.Status, lastRun.ReviewCount)
		}
		return nil
	},
}

func openDB() (*database.DB, error) {
	path := cfg.DBPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(path, database.WithLogger(logger.Named("database")))
}

func llmOptions(l config.LLM) llm.Options {
	opts := llm.Options{
		Provider:  l.Provider,
		Model:     l.Model,
		APIKey:    l.APIKey(),
		BaseURL:   l.BaseURL,
		MaxTokens: l.MaxTokens,
		Timeout:   l.Timeout(),
	}
	if l.Fallback != nil {
		fb := llmOptions(*l.Fallback)
		opts.Fallback = &fb
	}
	return opts
}

// buildPipeline wires the warehouse, mappings and model provider.
// deleteBeforeLoad overrides the config value.
func buildPipeline(db *database.DB, deleteBeforeLoad bool) (*pipeline.Pipeline, error) {
	mode, err := tagger.ParseMatchMode(cfg.Pipeline.MatchMode)
	if err != nil {
		return nil, err
	}
	fallback, err := tagger.ParseKeyFallback(cfg.Pipeline.PrimaryKeyFallback)
	if err != nil {
		return nil, err
	}

	provider, err := llm.CreateProvider(llmOptions(cfg.LLM), logger.Named("llm"))
	if err != nil {
		return nil, fmt.Errorf("creating LLM provider: %w", err)
	}
	if provider == nil {
		logger.Warn("no LLM provider configured; summary and grading steps will fail",
			zap.String("provider", cfg.LLM.Provider),
			zap.String("api_key_env", cfg.LLM.APIKeyEnv),
		)
	}

	registry := keywords.NewRegistry(cfg.Mappings.Dir, cfg.Mappings.Files)
	return pipeline.New(db, registry, provider, pipeline.Options{
		Source:           cfg.Warehouse.Source,
		DeleteBeforeLoad: deleteBeforeLoad,
		SkipCompleteness: !cfg.Pipeline.CompletenessCheck,
		Tagger:           tagger.Options{MatchMode: mode, KeyFallback: fallback},
		Grader: grader.Options{
			LineTrimChars:    cfg.Pipeline.LineTrimChars,
			MaxLinesInPrompt: cfg.Pipeline.MaxLinesInPrompt,
			MatchMode:        mode,
		},
	}, logger.Named("pipeline")), nil
}

func nowIn() time.Time {
	return time.Now().In(cfg.Location())
}

func versionsOrDefault(flag string) []string {
	if v := config.SplitList(flag); len(v) > 0 {
		return v
	}
	return cfg.Mappings.DefaultVersions
}
