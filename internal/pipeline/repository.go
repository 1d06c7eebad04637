package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/andresuchdata/medallion-etl/internal/repository/postgres"
)

// Run is the tracked record of one orchestrator pass.
type Run struct {
	ID             string     `db:"id"`
	InputDir       string     `db:"input_dir"`
	Status         RunStatus  `db:"status"`
	TotalFiles     int        `db:"total_files"`
	SucceededFiles int        `db:"succeeded_files"`
	FailedFiles    int        `db:"failed_files"`
	StartedAt      time.Time  `db:"started_at"`
	CompletedAt    *time.Time `db:"completed_at"`
}

// FileJob is the tracked record of one file's progress through the tiers.
type FileJob struct {
	ID            int64     `db:"id"`
	RunID         string    `db:"run_id"`
	FileName      string    `db:"file_name"`
	FilePath      string    `db:"file_path"`
	State         FileState `db:"state"`
	FailedStage   string    `db:"failed_stage"`
	FailureKind   string    `db:"failure_kind"`
	ErrorMessage  string    `db:"error_message"`
	BronzeKey     string    `db:"bronze_key"`
	SilverKey     string    `db:"silver_key"`
	GoldKey       string    `db:"gold_key"`
	ValidatedRows int       `db:"validated_rows"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Tracker persists run and file job progress. Implementations must tolerate
// being called once per state transition.
type Tracker interface {
	CreateRun(ctx context.Context, run *Run) error
	UpdateRun(ctx context.Context, run *Run) error
	CreateFileJob(ctx context.Context, job *FileJob) error
	UpdateFileJob(ctx context.Context, job *FileJob) error
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
}

// NopTracker discards everything.
type NopTracker struct{}

func (NopTracker) CreateRun(context.Context, *Run) error         { return nil }
func (NopTracker) UpdateRun(context.Context, *Run) error         { return nil }
func (NopTracker) CreateFileJob(context.Context, *FileJob) error { return nil }
func (NopTracker) UpdateFileJob(context.Context, *FileJob) error { return nil }
func (NopTracker) ListRuns(context.Context, int) ([]*Run, error) { return nil, nil }

// Repository handles database operations for pipeline tracking
type Repository struct {
	db     *postgres.DB
	schema string
}

// NewRepository creates a new pipeline repository writing to schema.
func NewRepository(db *postgres.DB, schema string) *Repository {
	if schema == "" {
		schema = "public"
	}
	return &Repository{db: db, schema: schema}
}

func (r *Repository) table(name string) string {
	return pq.QuoteIdentifier(r.schema) + "." + pq.QuoteIdentifier(name)
}

// EnsureSchema creates the tracking schema and tables when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pq.QuoteIdentifier(r.schema),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id              TEXT PRIMARY KEY,
			input_dir       TEXT NOT NULL,
			status          TEXT NOT NULL,
			total_files     INTEGER NOT NULL DEFAULT 0,
			succeeded_files INTEGER NOT NULL DEFAULT 0,
			failed_files    INTEGER NOT NULL DEFAULT 0,
			started_at      TIMESTAMPTZ NOT NULL,
			completed_at    TIMESTAMPTZ
		)`, r.table("medallion_runs")),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id             BIGSERIAL PRIMARY KEY,
			run_id         TEXT NOT NULL REFERENCES %s (id),
			file_name      TEXT NOT NULL,
			file_path      TEXT NOT NULL,
			state          TEXT NOT NULL,
			failed_stage   TEXT NOT NULL DEFAULT '',
			failure_kind   TEXT NOT NULL DEFAULT '',
			error_message  TEXT NOT NULL DEFAULT '',
			bronze_key     TEXT NOT NULL DEFAULT '',
			silver_key     TEXT NOT NULL DEFAULT '',
			gold_key       TEXT NOT NULL DEFAULT '',
			validated_rows INTEGER NOT NULL DEFAULT 0,
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, r.table("medallion_file_jobs"), r.table("medallion_runs")),
	}

	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("ensure tracking schema: %w", err)
			}
		}
		return nil
	})
}

// CreateRun inserts a new run record
func (r *Repository) CreateRun(ctx context.Context, run *Run) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (
			id, input_dir, status, total_files,
			succeeded_files, failed_files, started_at
		) VALUES (:id, :input_dir, :status, :total_files,
			:succeeded_files, :failed_files, :started_at)
	`, r.table("medallion_runs"))

	_, err := r.db.NamedExecContext(ctx, query, run)
	return err
}

// UpdateRun updates an existing run
func (r *Repository) UpdateRun(ctx context.Context, run *Run) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = :status, total_files = :total_files,
		    succeeded_files = :succeeded_files, failed_files = :failed_files,
		    completed_at = :completed_at
		WHERE id = :id
	`, r.table("medallion_runs"))

	_, err := r.db.NamedExecContext(ctx, query, run)
	return err
}

// CreateFileJob creates a new file job record
func (r *Repository) CreateFileJob(ctx context.Context, job *FileJob) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (run_id, file_name, file_path, state, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, updated_at
	`, r.table("medallion_file_jobs"))

	return r.db.QueryRowxContext(
		ctx, query,
		job.RunID, job.FileName, job.FilePath, job.State,
	).Scan(&job.ID, &job.UpdatedAt)
}

// UpdateFileJob updates an existing file job
func (r *Repository) UpdateFileJob(ctx context.Context, job *FileJob) error {
	if job.ID == 0 {
		return fmt.Errorf("file job %s has not been created", job.FileName)
	}
	query := fmt.Sprintf(`
		UPDATE %s
		SET state = $1, failed_stage = $2, failure_kind = $3, error_message = $4,
		    bronze_key = $5, silver_key = $6, gold_key = $7, validated_rows = $8,
		    updated_at = NOW()
		WHERE id = $9
	`, r.table("medallion_file_jobs"))

	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(
			ctx, query,
			job.State, job.FailedStage, job.FailureKind, job.ErrorMessage,
			job.BronzeKey, job.SilverKey, job.GoldKey, job.ValidatedRows, job.ID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			return fmt.Errorf("file job %d not found", job.ID)
		}
		return nil
	})
}

// ListRuns returns the most recent runs, newest first.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`
		SELECT id, input_dir, status, total_files, succeeded_files,
		       failed_files, started_at, completed_at
		FROM %s
		ORDER BY started_at DESC
		LIMIT $1
	`, r.table("medallion_runs"))

	var runs []*Run
	if err := sqlx.SelectContext(ctx, r.db, &runs, query, limit); err != nil {
		return nil, err
	}
	return runs, nil
}

// FileJobs retrieves all file jobs for a run
func (r *Repository) FileJobs(ctx context.Context, runID string) ([]*FileJob, error) {
	query := fmt.Sprintf(`
		SELECT id, run_id, file_name, file_path, state, failed_stage,
		       failure_kind, error_message, bronze_key, silver_key, gold_key,
		       validated_rows, updated_at
		FROM %s
		WHERE run_id = $1
		ORDER BY id
	`, r.table("medallion_file_jobs"))

	var jobs []*FileJob
	if err := sqlx.SelectContext(ctx, r.db, &jobs, query, runID); err != nil {
		return nil, err
	}
	return jobs, nil
}
