package drive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/medallion-etl/pkg/logger"
)

// Source is the subset of the Drive API the sync needs.
type Source interface {
	ListFiles(ctx context.Context, folderID string) ([]*File, error)
	DownloadFile(ctx context.Context, fileID string, w io.Writer) error
}

// SyncOptions controls how files are pulled from Google Drive.
type SyncOptions struct {
	FolderID    string
	DownloadDir string
}

// Downloader pulls the CSV and XLSX files of a Drive folder into a local
// input directory.
type Downloader struct {
	source Source
	log    zerolog.Logger
}

// NewDownloader creates a new Downloader.
func NewDownloader(source Source) *Downloader {
	return &Downloader{source: source, log: logger.Component("drive")}
}

// WithLogger returns a copy of d logging to l.
func (d *Downloader) WithLogger(l zerolog.Logger) *Downloader {
	cp := *d
	cp.log = l
	return &cp
}

// Sync downloads all CSV and XLSX files from the folder into DownloadDir and
// returns the local CSV paths. XLSX files are fetched into a scratch directory
// and only their first sheet, converted to CSV, lands in DownloadDir. Files
// are written under a temporary name and renamed, so a listing of
// DownloadDir never sees a partial file.
func (d *Downloader) Sync(ctx context.Context, opts SyncOptions) ([]string, error) {
	if opts.DownloadDir == "" {
		return nil, fmt.Errorf("download dir is required")
	}
	if err := os.MkdirAll(opts.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download dir: %w", err)
	}

	files, err := d.source.ListFiles(ctx, opts.FolderID)
	if err != nil {
		return nil, err
	}

	scratch, err := os.MkdirTemp("", "medallion-drive-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	var localPaths []string
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return localPaths, err
		}

		name := filepath.Base(f.Name)
		switch strings.ToLower(filepath.Ext(name)) {
		case ".csv":
			dest := filepath.Join(opts.DownloadDir, name)
			if err := d.download(ctx, f, scratch, dest); err != nil {
				return localPaths, err
			}
			localPaths = append(localPaths, dest)

		case ".xlsx":
			xlsxPath := filepath.Join(scratch, name)
			if err := d.download(ctx, f, scratch, xlsxPath); err != nil {
				return localPaths, err
			}
			csvName := strings.TrimSuffix(name, filepath.Ext(name)) + ".csv"
			dest := filepath.Join(opts.DownloadDir, csvName)
			if err := convertXLSXToCSV(xlsxPath, dest); err != nil {
				return localPaths, fmt.Errorf("failed to convert %s to csv: %w", f.Name, err)
			}
			localPaths = append(localPaths, dest)

		default:
			d.log.Debug().Str("file", f.Name).Msg("skipping unsupported drive file")
			continue
		}

		d.log.Info().Str("file", f.Name).Str("id", f.ID).Msg("synced drive file")
	}

	return localPaths, nil
}

func (d *Downloader) download(ctx context.Context, f *File, scratch, dest string) error {
	tmp, err := os.CreateTemp(scratch, "download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", f.Name, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := d.source.DownloadFile(ctx, f.ID, tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to download %s: %w", f.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", f.Name, err)
	}
	if err := moveFile(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to place %s: %w", f.Name, err)
	}
	return nil
}

// moveFile renames src onto dst, copying when they live on different devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".sync-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
