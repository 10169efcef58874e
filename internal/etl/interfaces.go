package etl

import (
	"context"
	"time"

	"github.com/BartekS5/elt/pkg/models"
)

// Source extracts the rows of one entity whose change value falls in
// [start, end).
type Source interface {
	Extract(ctx context.Context, entity models.EntityMapping, start, end time.Time) (*models.Dataset, error)
}

// ObjectStore is durable storage for staged batches. Put overwrites.
type ObjectStore interface {
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
}

// Warehouse is the analytical store batches are loaded into and
// transformation queries run against.
type Warehouse interface {
	CreateDatasetIfAbsent(ctx context.Context, name string) error
	Load(ctx context.Context, target models.LoadTarget, sourcePath, format string) error
	RunQuery(ctx context.Context, query string) error
	Close() error
}

// WatermarkStore persists the cutoff date per pipeline. Get fails with
// models.ErrNotInitialized when nothing is stored. Set must be atomic.
//
// Stores may be shared by several pipelines and read concurrently, but runs
// of one pipeline ID must not overlap; the scheduler prevents that, not the
// store.
type WatermarkStore interface {
	Get(ctx context.Context, pipelineID string) (time.Time, error)
	Set(ctx context.Context, pipelineID string, cutoff time.Time) error
}

// RunRecorder keeps finished runs, e.g. for the history command.
type RunRecorder interface {
	Record(ctx context.Context, result *models.RunResult) error
}

// RunObserver receives run and batch measurements.
type RunObserver interface {
	ObserveBatch(entity string, rows int)
	ObserveStep(name, status string, duration time.Duration)
	ObserveRun(result *models.RunResult)
}
