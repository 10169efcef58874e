// Package warehouse implements the analytical stores staged batches are
// loaded into. A load reads the staged object, decodes it and writes it to
// "dataset.table" under the requested write mode. Replace loads run in one
// transaction, so readers observe either the previous or the new contents.
package warehouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/BartekS5/elt/internal/columnar"
	"github.com/BartekS5/elt/pkg/models"
)

// Warehouse drivers accepted by configuration.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ObjectReader fetches staged objects.
type ObjectReader interface {
	Get(ctx context.Context, path string) ([]byte, error)
}

func readBatch(ctx context.Context, objects ObjectReader, sourcePath, format string) (*models.Dataset, error) {
	if !strings.EqualFold(format, models.FormatParquet) {
		return nil, fmt.Errorf("unsupported source format %q", format)
	}
	data, err := objects.Get(ctx, sourcePath)
	if err != nil {
		return nil, err
	}
	ds, err := columnar.Decode(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", sourcePath, err)
	}
	return ds, nil
}

func validateTarget(target models.LoadTarget) error {
	if target.Dataset == "" || target.Table == "" {
		return fmt.Errorf("load target for %s needs a dataset and a table", target.EntityName)
	}
	switch target.WriteMode {
	case models.WriteModeReplace, models.WriteModeAppend:
		return nil
	default:
		return fmt.Errorf("unknown write mode %q", target.WriteMode)
	}
}
