package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/andresuchdata/medallion-etl/internal/storage"
)

// Orchestrator lists the input directory and drives each file through the
// tiers, one file at a time.
type Orchestrator struct {
	cfg     Config
	store   storage.ObjectStorage
	opts    []Option
	tracker Tracker
	log     zerolog.Logger
	now     func() time.Time
	makeW   func(cfg Config, store storage.ObjectStorage, opts ...Option) *Worker
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(cfg Config, store storage.ObjectStorage, opts ...Option) *Orchestrator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Orchestrator{
		cfg:     cfg.withDefaults(),
		store:   store,
		opts:    opts,
		tracker: o.tracker,
		log:     o.log,
		now:     o.now,
		makeW:   NewWorker,
	}
}

// Run processes every listed file in name order. A failing file never stops
// the batch; the returned error is non-nil only when ctx ends the run early,
// in which case the summary covers the files handled so far.
func (o *Orchestrator) Run(ctx context.Context) (*RunSummary, error) {
	summary := &RunSummary{
		RunID:     uuid.NewString(),
		InputDir:  o.cfg.InputDir,
		Status:    RunStatusRunning,
		StartedAt: o.now(),
	}
	log := o.log.With().Str("run_id", summary.RunID).Logger()

	log.Info().Str("input_dir", o.cfg.InputDir).Msg("starting medallion pipeline")

	files := ListFiles(o.cfg.InputDir, o.cfg.InputPattern, log)

	run := &Run{
		ID:         summary.RunID,
		InputDir:   o.cfg.InputDir,
		Status:     RunStatusRunning,
		TotalFiles: len(files),
		StartedAt:  summary.StartedAt,
	}
	if err := o.tracker.CreateRun(ctx, run); err != nil {
		log.Warn().Err(err).Msg("failed to record pipeline run")
	}

	if len(files) == 0 {
		log.Warn().Str("input_dir", o.cfg.InputDir).Msg("no input files found")
	}

	worker := o.makeW(o.cfg, o.store, o.opts...)

	var runErr error
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			log.Warn().
				Err(err).
				Int("remaining", len(files)-i).
				Msg("pipeline cancelled, skipping remaining files")
			runErr = err
			break
		}
		summary.Files = append(summary.Files, worker.ProcessFile(ctx, summary.RunID, path))
	}

	summary.CompletedAt = o.now()
	switch {
	case runErr != nil:
		summary.Status = RunStatusAborted
	case summary.Failed() > 0:
		summary.Status = RunStatusPartial
	default:
		summary.Status = RunStatusCompleted
	}

	run.Status = summary.Status
	run.SucceededFiles = summary.Succeeded()
	run.FailedFiles = summary.Failed()
	run.CompletedAt = &summary.CompletedAt
	// The run context may already be cancelled; the final record still goes out.
	if err := o.tracker.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		log.Warn().Err(err).Msg("failed to update pipeline run")
	}

	log.Info().
		Str("status", string(summary.Status)).
		Int("files", len(summary.Files)).
		Int("succeeded", summary.Succeeded()).
		Int("failed", summary.Failed()).
		Dur("elapsed", summary.CompletedAt.Sub(summary.StartedAt)).
		Msg("medallion pipeline finished")

	return summary, runErr
}

// Validate runs the cloud validator on a single Gold key.
func (o *Orchestrator) Validate(ctx context.Context, key string) ValidationReport {
	return o.makeW(o.cfg, o.store, o.opts...).Validate(ctx, key)
}
