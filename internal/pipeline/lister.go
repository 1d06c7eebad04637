package pipeline

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// ListFiles returns the absolute paths of the regular files directly inside
// dir, sorted by name. Symlinks are followed; broken links and directories are
// skipped. When pattern is non-empty only base names matching it are kept.
//
// Listing is best effort: a missing or unreadable directory is logged and
// yields an empty slice.
func ListFiles(dir, pattern string, log zerolog.Logger) []string {
	files := make([]string, 0)

	abs, err := filepath.Abs(dir)
	if err != nil {
		log.Error().Err(err).Str("dir", dir).Msg("failed to resolve input directory")
		return files
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn().Str("dir", abs).Msg("input directory not found")
		} else {
			log.Error().Err(err).Str("dir", abs).Msg("failed to list input directory")
		}
		return files
	}

	for _, entry := range entries {
		path := filepath.Join(abs, entry.Name())

		// Stat follows symlinks, so a link to a regular file counts as one.
		info, err := os.Stat(path)
		if err != nil {
			log.Debug().Err(err).Str("path", path).Msg("skipping unreadable entry")
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}

		if pattern != "" {
			ok, err := filepath.Match(pattern, entry.Name())
			if err != nil {
				log.Error().Err(err).Str("pattern", pattern).Msg("invalid input pattern")
				return make([]string, 0)
			}
			if !ok {
				continue
			}
		}

		files = append(files, path)
	}

	return files
}
