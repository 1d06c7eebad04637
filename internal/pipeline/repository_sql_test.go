package pipeline

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/andresuchdata/medallion-etl/internal/repository/postgres"
)

// sqlCall is one statement seen by the recording driver.
type sqlCall struct {
	query string
	args  []driver.Value
}

// sqlResult is the canned answer for queries containing match.
type sqlResult struct {
	match   string
	columns []string
	rows    [][]driver.Value
}

// recordingDB is an in-memory database/sql driver that records statements
// and transaction boundaries and answers queries from canned results.
type recordingDB struct {
	mu        sync.Mutex
	calls     []sqlCall
	events    []string
	results   []sqlResult
	noRows    bool
	connector *recordingConnector
}

func newRecordingDB(results ...sqlResult) *recordingDB {
	db := &recordingDB{results: results}
	db.connector = &recordingConnector{db: db}
	return db
}

func (d *recordingDB) repository(t *testing.T, schema string) *Repository {
	t.Helper()
	conn := sql.OpenDB(d.connector)
	t.Cleanup(func() { conn.Close() })
	return NewRepository(postgres.Wrap(sqlx.NewDb(conn, "postgres")), schema)
}

func (d *recordingDB) record(query string, args []driver.Value) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, sqlCall{query: strings.Join(strings.Fields(query), " "), args: args})
	d.events = append(d.events, "stmt")
}

func (d *recordingDB) event(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, name)
}

type recordingConnector struct{ db *recordingDB }

func (c *recordingConnector) Connect(context.Context) (driver.Conn, error) {
	return &recordingConn{db: c.db}, nil
}

func (c *recordingConnector) Driver() driver.Driver { return recordingDriver{} }

type recordingDriver struct{}

func (recordingDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("recording driver opens through its connector")
}

type recordingConn struct{ db *recordingDB }

func (c *recordingConn) Prepare(query string) (driver.Stmt, error) {
	return &recordingStmt{db: c.db, query: query}, nil
}

func (c *recordingConn) Close() error { return nil }

func (c *recordingConn) Begin() (driver.Tx, error) {
	c.db.event("begin")
	return recordingTx{db: c.db}, nil
}

type recordingTx struct{ db *recordingDB }

func (t recordingTx) Commit() error   { t.db.event("commit"); return nil }
func (t recordingTx) Rollback() error { t.db.event("rollback"); return nil }

type recordingStmt struct {
	db    *recordingDB
	query string
}

func (s *recordingStmt) Close() error  { return nil }
func (s *recordingStmt) NumInput() int { return -1 }

func (s *recordingStmt) Exec(args []driver.Value) (driver.Result, error) {
	s.db.record(s.query, args)
	if s.db.noRows {
		return driver.RowsAffected(0), nil
	}
	return driver.RowsAffected(1), nil
}

func (s *recordingStmt) Query(args []driver.Value) (driver.Rows, error) {
	s.db.record(s.query, args)
	for _, r := range s.db.results {
		if strings.Contains(s.query, r.match) {
			return &recordingRows{columns: r.columns, rows: r.rows}, nil
		}
	}
	return &recordingRows{}, nil
}

type recordingRows struct {
	columns []string
	rows    [][]driver.Value
	pos     int
}

func (r *recordingRows) Columns() []string { return r.columns }
func (r *recordingRows) Close() error      { return nil }

func (r *recordingRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.pos])
	r.pos++
	return nil
}

func TestRepository_EnsureSchema(t *testing.T) {
	db := newRecordingDB()
	repo := db.repository(t, "etl")

	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() err = %v", err)
	}

	wantEvents := []string{"begin", "stmt", "stmt", "stmt", "commit"}
	if !reflect.DeepEqual(db.events, wantEvents) {
		t.Fatalf("events = %v, want %v", db.events, wantEvents)
	}
	if db.calls[0].query != `CREATE SCHEMA IF NOT EXISTS "etl"` {
		t.Fatalf("first statement = %q", db.calls[0].query)
	}
	if !strings.Contains(db.calls[2].query, `REFERENCES "etl"."medallion_runs" (id)`) {
		t.Fatalf("file job table statement = %q", db.calls[2].query)
	}
}

func TestRepository_CreateRun(t *testing.T) {
	db := newRecordingDB()
	repo := db.repository(t, "")
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	run := &Run{ID: "run-1", InputDir: "data", Status: RunStatusRunning, TotalFiles: 2, StartedAt: started}
	if err := repo.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun() err = %v", err)
	}

	call := db.calls[0]
	if !strings.Contains(call.query, `INSERT INTO "public"."medallion_runs"`) ||
		!strings.Contains(call.query, "VALUES ($1, $2, $3, $4, $5, $6, $7)") {
		t.Fatalf("query = %q", call.query)
	}
	want := []driver.Value{"run-1", "data", "running", int64(2), int64(0), int64(0), started}
	if !reflect.DeepEqual(call.args, want) {
		t.Fatalf("args = %#v, want %#v", call.args, want)
	}
}

func TestRepository_UpdateRun(t *testing.T) {
	db := newRecordingDB()
	repo := db.repository(t, "")
	done := time.Date(2024, 5, 1, 12, 5, 0, 0, time.UTC)

	run := &Run{ID: "run-1", Status: RunStatusPartial, TotalFiles: 2, SucceededFiles: 1, FailedFiles: 1, CompletedAt: &done}
	if err := repo.UpdateRun(context.Background(), run); err != nil {
		t.Fatalf("UpdateRun() err = %v", err)
	}

	call := db.calls[0]
	if !strings.Contains(call.query, "WHERE id = $6") {
		t.Fatalf("query = %q", call.query)
	}
	want := []driver.Value{"partial", int64(2), int64(1), int64(1), done, "run-1"}
	if !reflect.DeepEqual(call.args, want) {
		t.Fatalf("args = %#v, want %#v", call.args, want)
	}
}

func TestRepository_FileJobLifecycle(t *testing.T) {
	updated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	db := newRecordingDB(sqlResult{
		match:   "RETURNING id, updated_at",
		columns: []string{"id", "updated_at"},
		rows:    [][]driver.Value{{int64(7), updated}},
	})
	repo := db.repository(t, "")
	ctx := context.Background()

	job := &FileJob{RunID: "run-1", FileName: "customers.csv", FilePath: "/data/customers.csv", State: FileStateListed}
	if err := repo.CreateFileJob(ctx, job); err != nil {
		t.Fatalf("CreateFileJob() err = %v", err)
	}
	if job.ID != 7 || !job.UpdatedAt.Equal(updated) {
		t.Fatalf("job = %+v, want id 7", job)
	}
	wantInsert := []driver.Value{"run-1", "customers.csv", "/data/customers.csv", "listed"}
	if !reflect.DeepEqual(db.calls[0].args, wantInsert) {
		t.Fatalf("insert args = %#v, want %#v", db.calls[0].args, wantInsert)
	}

	job.State = FileStateFailed
	job.FailedStage = string(StageSilver)
	job.FailureKind = string(KindEmptyInput)
	job.ErrorMessage = "boom"
	job.BronzeKey = "raw/customers.csv"
	if err := repo.UpdateFileJob(ctx, job); err != nil {
		t.Fatalf("UpdateFileJob() err = %v", err)
	}

	update := db.calls[1]
	if !strings.Contains(update.query, `UPDATE "public"."medallion_file_jobs"`) || !strings.Contains(update.query, "WHERE id = $9") {
		t.Fatalf("update query = %q", update.query)
	}
	wantUpdate := []driver.Value{"failed", "silver", "empty_input", "boom", "raw/customers.csv", "", "", int64(0), int64(7)}
	if !reflect.DeepEqual(update.args, wantUpdate) {
		t.Fatalf("update args = %#v, want %#v", update.args, wantUpdate)
	}
	wantEvents := []string{"stmt", "begin", "stmt", "commit"}
	if !reflect.DeepEqual(db.events, wantEvents) {
		t.Fatalf("events = %v, want %v", db.events, wantEvents)
	}
}

func TestRepository_UpdateFileJobErrors(t *testing.T) {
	db := newRecordingDB()
	db.noRows = true
	repo := db.repository(t, "")
	ctx := context.Background()

	if err := repo.UpdateFileJob(ctx, &FileJob{FileName: "a.csv"}); err == nil {
		t.Fatal("UpdateFileJob() without id expected error")
	}
	if len(db.calls) != 0 {
		t.Fatalf("UpdateFileJob() without id sent %d statements", len(db.calls))
	}

	if err := repo.UpdateFileJob(ctx, &FileJob{ID: 9, FileName: "a.csv"}); err == nil {
		t.Fatal("UpdateFileJob() on a missing row expected error")
	}
	wantEvents := []string{"begin", "stmt", "rollback"}
	if !reflect.DeepEqual(db.events, wantEvents) {
		t.Fatalf("events = %v, want %v", db.events, wantEvents)
	}
}

func TestRepository_ListRunsAndFileJobs(t *testing.T) {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	done := started.Add(time.Minute)
	db := newRecordingDB(
		sqlResult{
			match:   `FROM "public"."medallion_runs"`,
			columns: []string{"id", "input_dir", "status", "total_files", "succeeded_files", "failed_files", "started_at", "completed_at"},
			rows: [][]driver.Value{
				{"run-2", "data", "running", int64(1), int64(0), int64(0), started, nil},
				{"run-1", "data", "completed", int64(2), int64(2), int64(0), started, done},
			},
		},
		sqlResult{
			match: `FROM "public"."medallion_file_jobs"`,
			columns: []string{"id", "run_id", "file_name", "file_path", "state", "failed_stage",
				"failure_kind", "error_message", "bronze_key", "silver_key", "gold_key", "validated_rows", "updated_at"},
			rows: [][]driver.Value{
				{int64(1), "run-1", "customers.csv", "/data/customers.csv", "complete", "", "", "",
					"raw/customers.csv", "silver/customers.parquet", "gold/customers_gold.parquet", int64(4), done},
			},
		},
	)
	repo := db.repository(t, "")
	ctx := context.Background()

	runs, err := repo.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns() err = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListRuns() = %d runs, want 2", len(runs))
	}
	if runs[0].Status != RunStatusRunning || runs[0].CompletedAt != nil {
		t.Fatalf("runs[0] = %+v", runs[0])
	}
	if runs[1].SucceededFiles != 2 || runs[1].CompletedAt == nil || !runs[1].CompletedAt.Equal(done) {
		t.Fatalf("runs[1] = %+v", runs[1])
	}
	if want := []driver.Value{int64(20)}; !reflect.DeepEqual(db.calls[0].args, want) {
		t.Fatalf("ListRuns() args = %#v, want default limit 20", db.calls[0].args)
	}

	jobs, err := repo.FileJobs(ctx, "run-1")
	if err != nil {
		t.Fatalf("FileJobs() err = %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("FileJobs() = %d jobs, want 1", len(jobs))
	}
	got := jobs[0]
	if got.State != FileStateComplete || got.GoldKey != "gold/customers_gold.parquet" || got.ValidatedRows != 4 {
		t.Fatalf("job = %+v", got)
	}
	if want := []driver.Value{"run-1"}; !reflect.DeepEqual(db.calls[1].args, want) {
		t.Fatalf("FileJobs() args = %#v", db.calls[1].args)
	}
}
