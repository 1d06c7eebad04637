package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/medallion-etl/internal/config"
	"github.com/andresuchdata/medallion-etl/internal/drive"
	"github.com/andresuchdata/medallion-etl/internal/pipeline"
	"github.com/andresuchdata/medallion-etl/internal/repository/postgres"
	"github.com/andresuchdata/medallion-etl/internal/storage"
)

func pipelineConfig(cfg *config.Config) (pipeline.Config, error) {
	retention, err := pipeline.ParseRetentionPolicy(cfg.App.Retention)
	if err != nil {
		return pipeline.Config{}, err
	}
	pcfg := pipeline.DefaultConfig()
	pcfg.InputDir = cfg.App.InputDir
	pcfg.InputPattern = cfg.App.InputPattern
	pcfg.Retention = retention
	pcfg.SampleRows = cfg.App.SampleRows
	if cfg.App.GroupBy != "" {
		pcfg.GroupBy = cfg.App.GroupBy
	}
	return pcfg, nil
}

func openStorage(cfg config.StorageConfig) (storage.ObjectStorage, error) {
	switch cfg.Backend {
	case config.BackendLocal:
		local, err := storage.NewLocalStorage(cfg.LocalDir)
		if err != nil {
			return nil, err
		}
		return local, nil
	case config.BackendS3:
		client, err := storage.NewS3Client(storage.S3Config{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			UseSSL:    cfg.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func openRepository(ctx context.Context, cfg config.TrackingConfig) (*pipeline.Repository, func(), error) {
	db, err := postgres.NewDB(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	repo := pipeline.NewRepository(db, cfg.Schema)
	if err := repo.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return repo, func() { _ = db.Close() }, nil
}

// openTracker returns a Postgres tracker when configured. Tracking is
// optional, so connection problems downgrade to a NopTracker.
func openTracker(ctx context.Context, cfg config.TrackingConfig, log zerolog.Logger) (pipeline.Tracker, func()) {
	if cfg.DatabaseURL == "" {
		return pipeline.NopTracker{}, func() {}
	}
	repo, closeDB, err := openRepository(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("run tracking disabled")
		return pipeline.NopTracker{}, func() {}
	}
	log.Info().Str("schema", cfg.Schema).Msg("run tracking enabled")
	return repo, closeDB
}

// syncDrive pulls the Drive folder into the input directory. Failures are
// logged and the run continues with whatever is already on disk.
func syncDrive(ctx context.Context, cfg *config.Config, log zerolog.Logger) {
	svc, err := drive.NewService(ctx, cfg.Drive.CredentialsJSON)
	if err != nil {
		log.Error().Err(err).Msg("drive sync skipped")
		return
	}
	files, err := drive.NewDownloader(svc).Sync(ctx, drive.SyncOptions{
		FolderID:    cfg.Drive.FolderID,
		DownloadDir: cfg.App.InputDir,
	})
	if err != nil {
		log.Error().Err(err).Int("synced", len(files)).Msg("drive sync incomplete")
		return
	}
	log.Info().Int("files", len(files)).Str("folder_id", cfg.Drive.FolderID).Msg("drive sync complete")
}

func printSummary(w io.Writer, s *pipeline.RunSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "run %s: %s (%d ok, %d failed)\n", s.RunID, s.Status, s.Succeeded(), s.Failed())
	fmt.Fprintln(tw, "FILE\tSTATE\tGOLD ROWS\tERROR")
	for _, f := range s.Files {
		rows := "-"
		if f.Validation != nil && f.Validation.OK() {
			rows = fmt.Sprint(f.Validation.Rows)
		}
		msg := ""
		if f.Failure != nil {
			msg = f.Failure.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Name, f.State, rows, msg)
	}
	_ = tw.Flush()
}

func printRuns(w io.Writer, runs []*pipeline.Run) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTATUS\tFILES\tOK\tFAILED\tSTARTED\tDURATION")
	for _, r := range runs {
		duration := "-"
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.ID, r.Status, r.TotalFiles, r.SucceededFiles, r.FailedFiles,
			r.StartedAt.Local().Format(time.RFC3339), duration)
	}
	return tw.Flush()
}

// jobSource reads the tracked file jobs of a run.
type jobSource interface {
	FileJobs(ctx context.Context, runID string) ([]*pipeline.FileJob, error)
}

func showJobs(ctx context.Context, src jobSource, runID string, w io.Writer) error {
	jobs, err := src.FileJobs(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to list file jobs of run %s: %w", runID, err)
	}
	if len(jobs) == 0 {
		return cli.Exit(fmt.Sprintf("no file jobs recorded for run %s", runID), 1)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILE\tSTATE\tGOLD\tROWS\tFAILED AT\tERROR")
	for _, j := range jobs {
		gold, failedAt := j.GoldKey, j.FailedStage
		if gold == "" {
			gold = "-"
		}
		if failedAt == "" {
			failedAt = "-"
		} else if j.FailureKind != "" {
			failedAt += "/" + j.FailureKind
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
			j.ID, j.FileName, j.State, gold, j.ValidatedRows, failedAt, j.ErrorMessage)
	}
	return tw.Flush()
}
