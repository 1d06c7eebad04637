package pipeline

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andresuchdata/medallion-etl/internal/storage"
	"github.com/andresuchdata/medallion-etl/internal/table"
)

// Gold aggregates the Silver file at silverPath into one row per distinct
// group key with its row count, writes <base>_gold.parquet next to it and
// uploads it to gold/. Without the group column the output is a single
// total_registros row holding the Silver row count.
func (w *Worker) Gold(ctx context.Context, silverPath string) (Artifact, error) {
	name := filepath.Base(silverPath)

	silver, err := table.ReadParquetFile(silverPath)
	if err != nil {
		return Artifact{}, stageFailure(StageGold, name, err)
	}

	var gold *table.Table
	if silver.HasColumn(w.cfg.GroupBy) {
		gold = countBy(silver, w.cfg.GroupBy)
	} else {
		w.log.Warn().
			Str("file", name).
			Str("column", w.cfg.GroupBy).
			Msg("group column not found, writing total row count only")
		gold = table.New(CountColumn)
		if err := gold.Append(int64(silver.Len())); err != nil {
			return Artifact{}, stageFailure(StageGold, name, err)
		}
	}

	outName := goldName(name)
	outPath := filepath.Join(filepath.Dir(silverPath), outName)
	if err := table.WriteParquetFile(outPath, gold); err != nil {
		return Artifact{}, stageFailure(StageGold, name, err)
	}

	key := storage.Key(PrefixGold, outName)
	if err := w.store.UploadFile(ctx, key, outPath); err != nil {
		return Artifact{}, stageFailure(StageGold, name, err)
	}

	w.log.Info().
		Str("file", name).
		Str("key", key).
		Int("groups", gold.Len()).
		Msg("gold upload complete")

	return Artifact{
		Stage:     StageGold,
		LocalPath: outPath,
		RemoteKey: key,
		Rows:      gold.Len(),
	}, nil
}

// countBy groups t on column, ordered by key. Rows with a missing key are
// left out of every group.
func countBy(t *table.Table, column string) *table.Table {
	counts := make(map[string]int64)
	for _, row := range t.Rows {
		v := row[column]
		if v == nil {
			continue
		}
		counts[table.Text(v)]++
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := table.New(column, CountColumn)
	for _, k := range keys {
		out.Rows = append(out.Rows, table.Row{column: k, CountColumn: counts[k]})
	}
	return out
}

func goldName(silverName string) string {
	return strings.TrimSuffix(silverName, parquetExt) + goldSuffix + parquetExt
}
