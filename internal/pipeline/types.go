package pipeline

import (
	"fmt"
	"time"
)

// Object key prefixes of the three tiers.
const (
	PrefixBronze = "raw"
	PrefixSilver = "silver"
	PrefixGold   = "gold"
)

const (
	// ProcessedAtColumn holds the Silver processing timestamp.
	ProcessedAtColumn = "dt_processamento"
	// CountColumn holds the Gold row count per group.
	CountColumn = "total_registros"
	// DefaultGroupBy is the column Gold aggregates on.
	DefaultGroupBy = "state"

	processedAtLayout = "2006-01-02 15:04:05.000000"
	parquetExt        = ".parquet"
	goldSuffix        = "_gold"
)

// FillRule replaces missing or "nan" cells of Column with Default.
type FillRule struct {
	Column  string
	Default string
}

// DefaultFillRules are the Silver defaults for customer address files.
var DefaultFillRules = []FillRule{
	{Column: "email", Default: "Sem Registro"},
	{Column: "state", Default: "Ausente"},
	{Column: "street", Default: "Nao informado"},
	{Column: "number", Default: "Sem numero"},
	{Column: "additionals", Default: "Sem complemento"},
}

// Stage names one tier of the pipeline.
type Stage string

const (
	StageBronze   Stage = "bronze"
	StageSilver   Stage = "silver"
	StageGold     Stage = "gold"
	StageValidate Stage = "validate"
	StageCleanup  Stage = "cleanup"
)

// FileState is the position of a file in the per-file state machine.
type FileState string

const (
	FileStateListed     FileState = "listed"
	FileStateBronzeDone FileState = "bronze_done"
	FileStateSilverDone FileState = "silver_done"
	FileStateGoldDone   FileState = "gold_done"
	FileStateValidated  FileState = "validated"
	FileStateComplete   FileState = "complete"
	FileStateFailed     FileState = "failed"
)

// RunStatus represents the current state of a pipeline run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusAborted   RunStatus = "aborted"
)

// RetentionPolicy decides what happens to local Silver/Gold files.
type RetentionPolicy string

const (
	RetainAll                  RetentionPolicy = "retain-all"
	DeleteAfterSuccess         RetentionPolicy = "delete-after-success"
	DeleteAfterUploadConfirmed RetentionPolicy = "delete-after-upload-confirmed"
)

// ParseRetentionPolicy maps a config value onto a RetentionPolicy. Empty means RetainAll.
func ParseRetentionPolicy(s string) (RetentionPolicy, error) {
	switch p := RetentionPolicy(s); p {
	case "":
		return RetainAll, nil
	case RetainAll, DeleteAfterSuccess, DeleteAfterUploadConfirmed:
		return p, nil
	default:
		return "", fmt.Errorf("unknown retention policy %q", s)
	}
}

// Artifact is the tangible output of a tier: a local file and its object key.
// Bronze artifacts point at the untouched input file.
type Artifact struct {
	Stage     Stage
	LocalPath string
	RemoteKey string
	Rows      int
}

// ValidationReport is the outcome of re-reading a Gold object from storage.
type ValidationReport struct {
	Key     string
	Rows    int
	Columns []string
	Sample  string
	Err     error
}

// OK reports whether the object was downloaded and parsed.
func (r ValidationReport) OK() bool {
	return r.Err == nil
}

// FileResult is the outcome of one file's pass through the pipeline.
type FileResult struct {
	File       string
	Name       string
	State      FileState
	Artifacts  []Artifact
	Failure    *StageError
	Validation *ValidationReport
	Removed    []string
	StartedAt  time.Time
	Duration   time.Duration
}

// Succeeded reports whether the file reached FileStateComplete.
func (r FileResult) Succeeded() bool {
	return r.State == FileStateComplete
}

// Artifact returns the artifact produced by stage, if any.
func (r FileResult) Artifact(stage Stage) (Artifact, bool) {
	for _, a := range r.Artifacts {
		if a.Stage == stage {
			return a, true
		}
	}
	return Artifact{}, false
}

// RunSummary aggregates every FileResult of a run.
type RunSummary struct {
	RunID       string
	InputDir    string
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt time.Time
	Files       []FileResult
}

// Succeeded counts the files that reached FileStateComplete.
func (s *RunSummary) Succeeded() int {
	n := 0
	for _, f := range s.Files {
		if f.Succeeded() {
			n++
		}
	}
	return n
}

// Failed counts the files that ended in FileStateFailed.
func (s *RunSummary) Failed() int {
	return len(s.Files) - s.Succeeded()
}

// Config holds everything a run needs; it is built once and shared read-only.
type Config struct {
	InputDir     string
	InputPattern string
	Retention    RetentionPolicy
	SampleRows   int
	GroupBy      string
	FillRules    []FillRule
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		InputDir:   "data",
		Retention:  RetainAll,
		SampleRows: 5,
		GroupBy:    DefaultGroupBy,
		FillRules:  DefaultFillRules,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.InputDir == "" {
		c.InputDir = d.InputDir
	}
	if c.Retention == "" {
		c.Retention = d.Retention
	}
	if c.SampleRows <= 0 {
		c.SampleRows = d.SampleRows
	}
	if c.GroupBy == "" {
		c.GroupBy = d.GroupBy
	}
	if c.FillRules == nil {
		c.FillRules = d.FillRules
	}
	return c
}
