package etl

import (
	"context"

	"github.com/BartekS5/elt/pkg/logger"
	"github.com/BartekS5/elt/pkg/models"
)

// Loader copies staged batches into the warehouse staging dataset.
type Loader struct {
	Warehouse Warehouse
	Dataset   string
	WriteMode models.WriteMode
}

// Bootstrap creates the staging dataset when it is absent.
func (l *Loader) Bootstrap(ctx context.Context) error {
	if err := l.Warehouse.CreateDatasetIfAbsent(ctx, l.Dataset); err != nil {
		return models.NewError(models.CodeLoadFailed, "create dataset "+l.Dataset, err)
	}
	return nil
}

// Target returns where the batch of entity lands.
func (l *Loader) Target(entity models.EntityMapping) models.LoadTarget {
	mode := l.WriteMode
	if mode == "" {
		mode = models.WriteModeReplace
	}
	return models.LoadTarget{
		EntityName: entity.Name,
		Dataset:    l.Dataset,
		Table:      entity.DestinationTable(),
		WriteMode:  mode,
	}
}

// Load fails with models.ErrLoadFailed.
func (l *Loader) Load(ctx context.Context, entity models.EntityMapping, batch *models.Batch) error {
	target := l.Target(entity)
	if err := l.Warehouse.Load(ctx, target, batch.StoragePath, models.FormatParquet); err != nil {
		return models.NewError(models.CodeLoadFailed, "load "+target.DestinationTable(), err)
	}
	logger.Info("batch loaded", "entity", entity.Name, "table", target.DestinationTable(), "rows", batch.RowCount, "mode", target.WriteMode)
	return nil
}
