package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/medallion-etl/internal/storage"
	"github.com/andresuchdata/medallion-etl/pkg/logger"
)

// Option customises a Worker or Orchestrator.
type Option func(*options)

type options struct {
	log     zerolog.Logger
	tracker Tracker
	now     func() time.Time
}

func defaultOptions() options {
	return options{
		log:     logger.Component("pipeline"),
		tracker: NopTracker{},
		now:     time.Now,
	}
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithTracker records runs and file jobs in t.
func WithTracker(t Tracker) Option {
	return func(o *options) {
		if t != nil {
			o.tracker = t
		}
	}
}

// WithClock overrides the clock used for Silver timestamps and durations.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Worker runs the medallion stages for one file at a time.
type Worker struct {
	cfg     Config
	store   storage.ObjectStorage
	tracker Tracker
	log     zerolog.Logger
	now     func() time.Time
}

// NewWorker creates a new pipeline worker
func NewWorker(cfg Config, store storage.ObjectStorage, opts ...Option) *Worker {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Worker{
		cfg:     cfg.withDefaults(),
		store:   store,
		tracker: o.tracker,
		log:     o.log,
		now:     o.now,
	}
}

// ProcessFile drives path through bronze, silver, gold and validation. Any
// stage failure ends the file in FileStateFailed; artifacts already uploaded
// are left in place.
func (w *Worker) ProcessFile(ctx context.Context, runID, path string) FileResult {
	name := filepath.Base(path)
	start := w.now()
	res := FileResult{
		File:      path,
		Name:      name,
		State:     FileStateListed,
		StartedAt: start,
	}
	log := w.log.With().Str("file", name).Logger()

	job := &FileJob{
		RunID:    runID,
		FileName: name,
		FilePath: path,
		State:    FileStateListed,
	}
	if err := w.tracker.CreateFileJob(ctx, job); err != nil {
		log.Warn().Err(err).Msg("failed to record file job")
	}

	log.Info().Msg("processing file")

	res = w.runStages(ctx, log, job, res)

	w.applyRetention(ctx, log, &res)
	res.Duration = w.now().Sub(start)

	job.State = res.State
	if res.Failure != nil {
		job.FailedStage = string(res.Failure.Stage)
		job.FailureKind = string(res.Failure.Kind)
		job.ErrorMessage = res.Failure.Error()
	}
	if err := w.tracker.UpdateFileJob(ctx, job); err != nil {
		log.Warn().Err(err).Msg("failed to update file job")
	}

	if res.Failure != nil {
		log.Error().
			Err(res.Failure.Err).
			Str("stage", string(res.Failure.Stage)).
			Str("kind", string(res.Failure.Kind)).
			Msg("file pipeline failed")
	} else {
		log.Info().Dur("duration", res.Duration).Msg("file pipeline complete")
	}
	return res
}

func (w *Worker) runStages(ctx context.Context, log zerolog.Logger, job *FileJob, res FileResult) FileResult {
	fail := func(stage Stage, err error) FileResult {
		res.State = FileStateFailed
		res.Failure = stageFailure(stage, res.Name, err)
		return res
	}

	bronze, err := w.Bronze(ctx, res.File, res.Name)
	if err != nil {
		return fail(StageBronze, err)
	}
	res.Artifacts = append(res.Artifacts, bronze)
	job.BronzeKey = bronze.RemoteKey
	w.advance(ctx, log, job, &res, FileStateBronzeDone)

	silver, err := w.Silver(ctx, res.File)
	if err != nil {
		return fail(StageSilver, err)
	}
	if silver.LocalPath == "" {
		return fail(StageSilver, errors.New("silver stage produced no local file"))
	}
	res.Artifacts = append(res.Artifacts, silver)
	job.SilverKey = silver.RemoteKey
	w.advance(ctx, log, job, &res, FileStateSilverDone)

	gold, err := w.Gold(ctx, silver.LocalPath)
	if err != nil {
		return fail(StageGold, err)
	}
	if gold.LocalPath == "" {
		return fail(StageGold, errors.New("gold stage produced no local file"))
	}
	res.Artifacts = append(res.Artifacts, gold)
	job.GoldKey = gold.RemoteKey
	w.advance(ctx, log, job, &res, FileStateGoldDone)

	report := w.Validate(ctx, gold.RemoteKey)
	res.Validation = &report
	job.ValidatedRows = report.Rows
	w.advance(ctx, log, job, &res, FileStateValidated)

	res.State = FileStateComplete
	return res
}

func (w *Worker) advance(ctx context.Context, log zerolog.Logger, job *FileJob, res *FileResult, state FileState) {
	res.State = state
	job.State = state
	if err := w.tracker.UpdateFileJob(ctx, job); err != nil {
		log.Warn().Err(err).Str("state", string(state)).Msg("failed to update file job")
	}
}

// applyRetention removes local Silver/Gold files according to the configured
// policy. Input files are never touched and removal problems are only logged.
func (w *Worker) applyRetention(ctx context.Context, log zerolog.Logger, res *FileResult) {
	log = log.With().Str("stage", string(StageCleanup)).Logger()
	switch w.cfg.Retention {
	case DeleteAfterSuccess:
		if !res.Succeeded() {
			return
		}
		for _, a := range res.Artifacts {
			if a.Stage == StageBronze {
				continue
			}
			w.removeLocal(log, res, a)
		}
	case DeleteAfterUploadConfirmed:
		for _, a := range res.Artifacts {
			if a.Stage == StageBronze {
				continue
			}
			if err := w.confirmUpload(ctx, a); err != nil {
				log.Warn().Err(err).Str("key", a.RemoteKey).Msg("keeping local file, upload not confirmed")
				continue
			}
			w.removeLocal(log, res, a)
		}
	}
}

func (w *Worker) confirmUpload(ctx context.Context, a Artifact) error {
	local, err := os.Stat(a.LocalPath)
	if err != nil {
		return err
	}
	remote, err := w.store.StatObject(ctx, a.RemoteKey)
	if err != nil {
		return err
	}
	if remote.Size != local.Size() {
		return fmt.Errorf("remote size %d differs from local size %d", remote.Size, local.Size())
	}
	return nil
}

func (w *Worker) removeLocal(log zerolog.Logger, res *FileResult, a Artifact) {
	if err := os.Remove(a.LocalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("path", a.LocalPath).Msg("failed to remove local intermediate")
		return
	}
	res.Removed = append(res.Removed, a.LocalPath)
	log.Debug().Str("path", a.LocalPath).Msg("removed local intermediate")
}
