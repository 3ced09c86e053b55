package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kilupskalvis/wikimirror/internal/filestore"
	"github.com/kilupskalvis/wikimirror/internal/models"
)

// FileImporter mirrors file versions into the media directory.
type FileImporter struct {
	records  FileRecordStore
	layout   *filestore.FSStore
	transfer *FileTransfer
	identity *IdentityReconciler
	dryRun   bool
	logger   *slog.Logger
	stats    ImportStats
}

// NewFileImporter creates a file importer.
func NewFileImporter(records FileRecordStore, layout *filestore.FSStore, transfer *FileTransfer, identity *IdentityReconciler, dryRun bool, logger *slog.Logger) *FileImporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileImporter{
		records:  records,
		layout:   layout,
		transfer: transfer,
		identity: identity,
		dryRun:   dryRun,
		logger:   logger,
	}
}

// Stats returns the importer's counts.
func (fi *FileImporter) Stats() ImportStats { return fi.stats }

// Process imports one file version. A corrupt transfer fails this file only.
func (fi *FileImporter) Process(ctx context.Context, fv models.FileVersion) error {
	existing, err := fi.records.GetFile(fv.Name, fv.ArchiveName)
	if err != nil {
		return fmt.Errorf("get file %s: %w", fv.Name, err)
	}
	if existing != nil && fv.SHA1 != "" && strings.EqualFold(existing.SHA1, fv.SHA1) {
		fi.stats.Skipped++
		return nil
	}
	if fv.URL == "" || fv.Visibility.Has(models.HiddenContent) {
		fi.stats.Hidden++
		fi.logger.Debug("file content hidden", "file", fv.Name, "archive", fv.ArchiveName)
		return nil
	}

	dest := fi.layout.Path(fv.Name)
	if !fv.IsCurrent() {
		dest = fi.layout.ArchivePath(fv.Name, fv.ArchiveName)
	}
	if fi.dryRun {
		fi.stats.Imported++
		return nil
	}

	if err := fi.transfer.Fetch(ctx, fv.Name, fv.URL, fv.SHA1, dest); err != nil {
		var cte *CorruptTransferError
		if errors.As(err, &cte) {
			fi.stats.Corrupt++
		}
		return err
	}

	actorID, err := actorFor(ctx, fi.identity, fv.UserID, fv.UserName)
	if err != nil {
		return err
	}
	rec := &models.FileRecord{
		Name:        fv.Name,
		Timestamp:   fv.Timestamp,
		ArchiveName: fv.ArchiveName,
		Path:        dest,
		Size:        fv.Size,
		SHA1:        fv.SHA1,
		MIME:        fv.MIME,
		ActorID:     actorID,
		Visibility:  fv.Visibility,
		ImportedAt:  time.Now().UTC(),
	}
	if err := fi.records.PutFile(rec); err != nil {
		return fmt.Errorf("record file %s: %w", fv.Name, err)
	}
	fi.stats.Imported++
	return nil
}

// FileAttrs labels a file version in logs.
func FileAttrs(fv models.FileVersion) []any {
	return []any{"file", fv.Name, "archive", fv.ArchiveName, "sha1", fv.SHA1}
}
