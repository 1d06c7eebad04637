package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/medallion-etl/internal/config"
	"github.com/andresuchdata/medallion-etl/internal/pipeline"
	"github.com/andresuchdata/medallion-etl/internal/storage"
	"github.com/andresuchdata/medallion-etl/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		logger.Log.Fatal().Err(err).Msg("medallion failed")
	}
}

func newApp() *cli.App {
	var cfg *config.Config

	return &cli.App{
		Name:           "medallion",
		Usage:          "Move local CSV files through the bronze, silver and gold tiers of an object store",
		DefaultCommand: "run",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "Environment files to load before reading configuration (default: .env when present)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override LOG_LEVEL",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Override LOG_FORMAT (console or json)",
			},
		},
		Before: func(c *cli.Context) error {
			loaded, err := config.Load(c.StringSlice("env-file")...)
			if err != nil {
				return err
			}
			if v := c.String("log-level"); v != "" {
				loaded.Log.Level = v
			}
			if v := c.String("log-format"); v != "" {
				loaded.Log.Format = v
			}
			logger.SetFormat(loaded.Log.Format)
			logger.SetLevel(loaded.Log.Level)
			cfg = loaded
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Process every file of the input directory",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "input-dir",
						Usage: "Override APP_INPUT_DIR",
					},
					&cli.StringFlag{
						Name:  "pattern",
						Usage: "Only process files whose name matches this glob",
					},
					&cli.StringFlag{
						Name:  "retention",
						Usage: "retain-all, delete-after-success or delete-after-upload-confirmed",
					},
					&cli.BoolFlag{
						Name:  "skip-sync",
						Usage: "Do not pull files from Google Drive even when DRIVE_FOLDER_ID is set",
					},
				},
				Action: func(c *cli.Context) error {
					if v := c.String("input-dir"); v != "" {
						cfg.App.InputDir = v
					}
					if c.IsSet("pattern") {
						cfg.App.InputPattern = c.String("pattern")
					}
					if v := c.String("retention"); v != "" {
						cfg.App.Retention = v
					}
					return runPipeline(c.Context, cfg, c.Bool("skip-sync"))
				},
			},
			{
				Name:  "validate",
				Usage: "Read a gold object back from storage and print a sample",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "key",
						Usage:    "Object key, e.g. gold/customers_gold.parquet",
						Required: true,
					},
				},
				Action: func(c *cli.Context) error {
					return validateObject(c.Context, cfg, c.String("key"))
				},
			},
			{
				Name:  "runs",
				Usage: "List recent tracked pipeline runs",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Value: 10,
						Usage: "Number of runs to show",
					},
				},
				Action: func(c *cli.Context) error {
					return listRuns(c.Context, cfg, c.Int("limit"))
				},
			},
			{
				Name:  "jobs",
				Usage: "Show the tracked file jobs of one run",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "run",
						Usage:    "Run id as printed by the runs command",
						Required: true,
					},
				},
				Action: func(c *cli.Context) error {
					return listJobs(c.Context, cfg, c.String("run"))
				},
			},
		},
	}
}

func runPipeline(ctx context.Context, cfg *config.Config, skipSync bool) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log := logger.Component("medallion")

	pcfg, err := pipelineConfig(cfg)
	if err != nil {
		return err
	}
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return err
	}
	if local, ok := store.(*storage.LocalStorage); ok {
		log.Info().Str("root", local.Root()).Msg("using local object storage")
	}

	tracker, closeTracker := openTracker(ctx, cfg.Tracking, log)
	defer closeTracker()

	if cfg.Drive.FolderID != "" && !skipSync {
		syncDrive(ctx, cfg, log)
	}

	summary, err := pipeline.NewOrchestrator(pcfg, store, pipeline.WithTracker(tracker)).Run(ctx)
	if summary != nil {
		printSummary(os.Stdout, summary)
	}
	return err
}

func validateObject(ctx context.Context, cfg *config.Config, key string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	pcfg, err := pipelineConfig(cfg)
	if err != nil {
		return err
	}
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return err
	}

	report := pipeline.NewOrchestrator(pcfg, store).Validate(ctx, key)
	if !report.OK() {
		return cli.Exit(fmt.Sprintf("validation of %s failed: %v", key, report.Err), 1)
	}
	fmt.Fprintf(os.Stdout, "%s: %d rows\n%s\n", report.Key, report.Rows, report.Sample)
	return nil
}

func listRuns(ctx context.Context, cfg *config.Config, limit int) error {
	if cfg.Tracking.DatabaseURL == "" {
		return cli.Exit("TRACKING_DATABASE_URL is not set", 1)
	}
	repo, closeDB, err := openRepository(ctx, cfg.Tracking)
	if err != nil {
		return err
	}
	defer closeDB()

	runs, err := repo.ListRuns(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	return printRuns(os.Stdout, runs)
}

func listJobs(ctx context.Context, cfg *config.Config, runID string) error {
	if cfg.Tracking.DatabaseURL == "" {
		return cli.Exit("TRACKING_DATABASE_URL is not set", 1)
	}
	repo, closeDB, err := openRepository(ctx, cfg.Tracking)
	if err != nil {
		return err
	}
	defer closeDB()

	return showJobs(ctx, repo, runID, os.Stdout)
}
