// Package delivery turns the archive returned by the parsing service into
// a one-shot local download.
package delivery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/AshtonFabby/bank-statement-parser/internal/delivery/progress"
	"github.com/AshtonFabby/bank-statement-parser/internal/logctx"
	"github.com/AshtonFabby/bank-statement-parser/internal/telemetry"
)

// ArchiveName is the fixed target filename of every delivered archive.
const ArchiveName = "bank_statements.zip"

const (
	dirPerm          = 0o755
	progressInterval = int64(1024 * 1024) // 1MB
)

// Pending is a fully materialized archive awaiting its final rename.
// Exactly one of Commit or Discard must be called.
type Pending interface {
	// Commit moves the archive to its final name and returns the path.
	Commit() (string, error)

	// Discard removes the transient file without delivering it.
	Discard() error
}

// ArchiveWriter delivers archives into a download directory.
type ArchiveWriter struct {
	downloadDir string
	telemetry   *telemetry.Telemetry
}

func NewArchiveWriter(downloadDir string, tel *telemetry.Telemetry) *ArchiveWriter {
	return &ArchiveWriter{
		downloadDir: downloadDir,
		telemetry:   tel,
	}
}

// Materialize streams the response body into a transient file next to the
// final target. The caller commits it once the whole payload has landed,
// so a half-written archive is never visible under the final name.
func (w *ArchiveWriter) Materialize(ctx context.Context, r io.Reader, size int64) (Pending, error) {
	logger := logctx.LoggerFromContext(ctx)

	if err := os.MkdirAll(w.downloadDir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	tmp, err := os.CreateTemp(w.downloadDir, ArchiveName+".*")
	if err != nil {
		return nil, fmt.Errorf("failed to create transient archive: %w", err)
	}

	if size > 0 {
		logger.Info("materializing archive", "size", humanize.Bytes(uint64(size)))
	} else {
		logger.Info("materializing archive", "size", "unknown")
	}

	progressCb := func(written int64, total int64) {
		if total > 0 {
			logger.Debug("delivery progress",
				"written", humanize.Bytes(uint64(written)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(written)*100/float64(total), 2))
		} else {
			logger.Debug("delivery progress", "written", humanize.Bytes(uint64(written)))
		}
	}

	written, err := io.Copy(tmp, progress.NewReader(r, size, progressInterval, progressCb))
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return nil, fmt.Errorf("failed to materialize archive: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return nil, fmt.Errorf("failed to close transient archive: %w", err)
	}

	w.telemetry.RecordDeliveredBytes(written)

	return &pendingArchive{
		tmpPath:   tmp.Name(),
		finalPath: filepath.Join(w.downloadDir, ArchiveName),
		logger:    logger,
	}, nil
}

type pendingArchive struct {
	tmpPath   string
	finalPath string
	logger    *slog.Logger
}

func (p *pendingArchive) Commit() (string, error) {
	if err := os.Rename(p.tmpPath, p.finalPath); err != nil {
		os.Remove(p.tmpPath)

		return "", fmt.Errorf("failed to deliver archive: %w", err)
	}

	p.logger.Info("archive delivered", "path", p.finalPath)

	return p.finalPath, nil
}

func (p *pendingArchive) Discard() error {
	if err := os.Remove(p.tmpPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove transient archive: %w", err)
	}

	return nil
}
