package pipeline

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/andresuchdata/medallion-etl/internal/storage"
	"github.com/andresuchdata/medallion-etl/internal/table"
)

// Silver reads the CSV at path, stamps every row with the processing time,
// coerces all values to text, fills the configured defaults and writes a
// snappy Parquet file next to the input before uploading it to silver/.
func (w *Worker) Silver(ctx context.Context, path string) (Artifact, error) {
	name := filepath.Base(path)

	src, err := table.ReadCSVFile(path, table.CSVOptions{})
	if err != nil {
		return Artifact{}, stageFailure(StageSilver, name, err)
	}

	cleaned := w.clean(src)

	outName := silverName(name)
	outPath := filepath.Join(filepath.Dir(path), outName)
	if err := table.WriteParquetFile(outPath, cleaned); err != nil {
		return Artifact{}, stageFailure(StageSilver, name, err)
	}

	key := storage.Key(PrefixSilver, outName)
	if err := w.store.UploadFile(ctx, key, outPath); err != nil {
		return Artifact{}, stageFailure(StageSilver, name, err)
	}

	w.log.Info().
		Str("file", name).
		Str("key", key).
		Int("rows", cleaned.Len()).
		Msg("silver upload complete")

	return Artifact{
		Stage:     StageSilver,
		LocalPath: outPath,
		RemoteKey: key,
		Rows:      cleaned.Len(),
	}, nil
}

// clean applies the Silver transformations without touching src. Coercion
// to text happens before filling, so a missing cell is first rendered as
// "nan" and only then replaced by its column default.
func (w *Worker) clean(src *table.Table) *table.Table {
	stamp := w.now().Format(processedAtLayout)
	out := src.WithColumn(ProcessedAtColumn, stamp).AsText()

	for _, rule := range w.cfg.FillRules {
		if !out.HasColumn(rule.Column) {
			continue
		}
		for _, row := range out.Rows {
			if isNaN(row[rule.Column]) {
				row[rule.Column] = rule.Default
			}
		}
	}
	return out
}

func isNaN(v interface{}) bool {
	s, ok := v.(string)
	return !ok || s == "nan"
}

// silverName swaps the input extension for .parquet.
func silverName(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + parquetExt
}
