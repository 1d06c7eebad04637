package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/andresuchdata/medallion-etl/internal/storage"
)

// Bronze uploads the untouched input file to raw/<name>. Uploading the same
// file twice overwrites the object with identical bytes.
func (w *Worker) Bronze(ctx context.Context, path, name string) (Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, stageFailure(StageBronze, name, err)
	}
	if !info.Mode().IsRegular() {
		return Artifact{}, stageFailure(StageBronze, name, fmt.Errorf("%s is not a regular file", path))
	}

	key := storage.Key(PrefixBronze, name)
	if err := w.store.UploadFile(ctx, key, path); err != nil {
		return Artifact{}, stageFailure(StageBronze, name, err)
	}

	w.log.Info().
		Str("file", name).
		Str("key", key).
		Int64("bytes", info.Size()).
		Msg("bronze upload complete")

	return Artifact{
		Stage:     StageBronze,
		LocalPath: path,
		RemoteKey: key,
	}, nil
}
