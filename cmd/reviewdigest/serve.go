package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/reviewdigest/internal/schedule"
	"github.com/TobiSchelling/reviewdigest/internal/server"
	"github.com/TobiSchelling/reviewdigest/internal/window"
)

// --- serve command ---

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP trigger endpoint and digest pages",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe, err := buildPipeline(db, cfg.Pipeline.DeleteBeforeLoad)
		if err != nil {
			return err
		}

		srv, err := server.New(pipe, db, server.Options{
			Versions: cfg.Mappings.DefaultVersions,
		}, logger.Named("server"))
		if err != nil {
			return err
		}

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		fmt.Printf("Starting server at http://%s:%d\n", serveHost, port)
		fmt.Println("Press Ctrl+C to stop")
		return srv.Serve(cmd.Context(), fmt.Sprintf("%s:%d", serveHost, port))
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on (default from config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Interface to listen on")
}

// --- schedule command ---

var scheduleOnce bool

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the weekly digest on the configured cron schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe, err := buildPipeline(db, cfg.Pipeline.DeleteBeforeLoad)
		if err != nil {
			return err
		}

		versions := cfg.Mappings.DefaultVersions
		if err := pipe.ValidateVersions(versions); err != nil {
			return err
		}

		job := func(ctx context.Context, w window.Window) error {
			res, err := pipe.RunWindow(ctx, w, versions)
			if err != nil {
				return err
			}
			logger.Info("weekly digest complete",
				zap.String("window", w.ID()),
				zap.String("status", string(res.Status())),
				zap.Int("reviews", res.ReviewCount),
				zap.Strings("failures", res.Failures()),
			)
			return nil
		}

		sched, err := schedule.New(cfg.Schedule.Cron, cfg.Location(), job, logger.Named("schedule"))
		if err != nil {
			return err
		}
		if scheduleOnce {
			return sched.Trigger(cmd.Context())
		}
		return sched.Run(cmd.Context())
	},
}

func init() {
	scheduleCmd.Flags().BoolVar(&scheduleOnce, "once", false, "Run the last complete week immediately and exit")
}
