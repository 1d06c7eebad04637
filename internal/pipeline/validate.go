package pipeline

import (
	"context"

	"github.com/andresuchdata/medallion-etl/internal/table"
)

// Validate downloads the Gold object at key and parses it back. Problems are
// reported in the returned ValidationReport and logged; they never fail the
// file.
func (w *Worker) Validate(ctx context.Context, key string) ValidationReport {
	report := ValidationReport{Key: key}
	log := w.log.With().Str("key", key).Logger()

	data, err := w.store.GetObject(ctx, key)
	if err != nil {
		report.Err = stageFailure(StageValidate, key, err)
		log.Error().Err(err).Msg("failed to read gold object back from storage")
		return report
	}

	gold, err := table.ReadParquetBytes(data)
	if err != nil {
		report.Err = stageFailure(StageValidate, key, err)
		log.Error().Err(err).Msg("failed to parse gold object")
		return report
	}

	report.Rows = gold.Len()
	report.Columns = append([]string(nil), gold.Columns...)
	report.Sample = gold.Head(w.cfg.SampleRows)

	log.Info().
		Int("rows", report.Rows).
		Strs("columns", report.Columns).
		Msg("gold object validated")
	log.Info().Msgf("sample:\n%s", report.Sample)

	return report
}
