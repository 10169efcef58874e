package etl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BartekS5/elt/internal/columnar"
	"github.com/BartekS5/elt/internal/storage"
	"github.com/BartekS5/elt/pkg/logger"
	"github.com/BartekS5/elt/pkg/models"
	"github.com/BartekS5/elt/pkg/utils"
)

// Stager writes a dataset as Parquet to local scratch space and uploads it
// to the object store. Paths depend only on entity and run date, so a rerun
// for the same date overwrites the previous batch.
type Stager struct {
	Store      ObjectStore
	ScratchDir string
	Prefix     string
}

// LocalPath is the scratch file of an entity batch.
func (s *Stager) LocalPath(entity string, runDate time.Time) string {
	return filepath.Join(s.ScratchDir, entity+"_"+utils.FormatDate(runDate)+"."+models.FormatParquet)
}

// Stage fails with models.ErrUploadFailed when the file cannot be written
// or uploaded.
func (s *Stager) Stage(ctx context.Context, ds *models.Dataset, start, end, runDate time.Time) (*models.Batch, error) {
	op := "stage " + ds.Entity

	data, err := columnar.Encode(ds)
	if err != nil {
		return nil, models.NewError(models.CodeUploadFailed, op, err)
	}

	local := s.LocalPath(ds.Entity, runDate)
	if err := os.MkdirAll(s.ScratchDir, 0o750); err != nil {
		return nil, models.NewError(models.CodeUploadFailed, op, fmt.Errorf("failed to create scratch dir: %w", err))
	}
	if err := os.WriteFile(local, data, 0o640); err != nil {
		return nil, models.NewError(models.CodeUploadFailed, op, fmt.Errorf("failed to write %s: %w", local, err))
	}

	remote := storage.BatchPath(s.Prefix, ds.Entity, runDate, models.FormatParquet)
	if err := s.Store.Put(ctx, remote, data); err != nil {
		return nil, models.NewError(models.CodeUploadFailed, op, err)
	}

	logger.Info("batch staged", "entity", ds.Entity, "rows", ds.Len(), "path", remote, "bytes", len(data))
	return &models.Batch{
		Entity:      ds.Entity,
		WindowStart: start,
		WindowEnd:   end,
		RowCount:    ds.Len(),
		LocalPath:   local,
		StoragePath: remote,
	}, nil
}
