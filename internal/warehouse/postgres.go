package warehouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BartekS5/elt/pkg/database"
	"github.com/BartekS5/elt/pkg/logger"
	"github.com/BartekS5/elt/pkg/models"
)

// Postgres maps datasets to schemas and bulk loads batches with COPY.
type Postgres struct {
	pool    *pgxpool.Pool
	objects ObjectReader
}

// OpenPostgres connects to the warehouse at connString.
func OpenPostgres(ctx context.Context, connString string, objects ObjectReader) (*Postgres, error) {
	pool, err := database.ConnectPostgres(ctx, connString)
	if err != nil {
		return nil, err
	}
	return &Postgres{pool: pool, objects: objects}, nil
}

func (w *Postgres) Close() error {
	w.pool.Close()
	return nil
}

func (w *Postgres) CreateDatasetIfAbsent(ctx context.Context, name string) error {
	if _, err := w.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{name}.Sanitize()); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", name, err)
	}
	return nil
}

// Load copies the staged batch into target. A replace load truncates the
// existing table when its columns match the batch, so views built on it
// survive; only a changed schema drops and recreates the table. Both run in
// one transaction with the COPY.
func (w *Postgres) Load(ctx context.Context, target models.LoadTarget, sourcePath, format string) error {
	if err := validateTarget(target); err != nil {
		return err
	}
	ds, err := readBatch(ctx, w.objects, sourcePath, format)
	if err != nil {
		return err
	}

	ident := pgx.Identifier{target.Dataset, target.Table}
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin load transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if target.WriteMode == models.WriteModeReplace {
		if err := w.clearTable(ctx, tx, target, ident, ds); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, postgresCreateTable(ident, ds)); err != nil {
		return fmt.Errorf("failed to create %s: %w", target.DestinationTable(), err)
	}

	n, err := tx.CopyFrom(ctx, ident, ds.Columns, pgx.CopyFromRows(postgresRows(ds)))
	if err != nil {
		return fmt.Errorf("failed to copy into %s: %w", target.DestinationTable(), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit load into %s: %w", target.DestinationTable(), err)
	}
	logger.Debug("postgres load committed", "table", target.DestinationTable(), "rows", n, "mode", target.WriteMode)
	return nil
}

func (w *Postgres) clearTable(ctx context.Context, tx pgx.Tx, target models.LoadTarget, ident pgx.Identifier, ds *models.Dataset) error {
	existing, err := tableColumns(ctx, tx, target.Dataset, target.Table)
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", target.DestinationTable(), err)
	}
	switch {
	case len(existing) == 0:
		return nil
	case sameColumns(existing, ds):
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+ident.Sanitize()); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", target.DestinationTable(), err)
		}
		return nil
	default:
		logger.Info("schema changed, recreating table", "table", target.DestinationTable())
		if _, err := tx.Exec(ctx, "DROP TABLE "+ident.Sanitize()); err != nil {
			return fmt.Errorf("failed to drop %s: %w", target.DestinationTable(), err)
		}
		return nil
	}
}

type pgColumn struct {
	Name string
	Type string
}

func tableColumns(ctx context.Context, tx pgx.Tx, schema, table string) ([]pgColumn, error) {
	rows, err := tx.Query(ctx, `SELECT column_name::text, data_type::text FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position`, schema, table)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[pgColumn])
}

// sameColumns reports whether existing has the batch's columns, in order and
// with the types postgresCreateTable would declare.
func sameColumns(existing []pgColumn, ds *models.Dataset) bool {
	if len(existing) != len(ds.Columns) {
		return false
	}
	for i, c := range existing {
		if c.Name != ds.Columns[i] || c.Type != postgresCatalogType(ds.Types[i]) {
			return false
		}
	}
	return true
}

func (w *Postgres) RunQuery(ctx context.Context, query string) error {
	if _, err := w.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	return nil
}

func postgresCreateTable(ident pgx.Identifier, ds *models.Dataset) string {
	cols := make([]string, len(ds.Columns))
	for i, name := range ds.Columns {
		cols[i] = pgx.Identifier{name}.Sanitize() + " " + postgresType(ds.Types[i])
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", ident.Sanitize(), strings.Join(cols, ", "))
}

func postgresType(t models.ColumnType) string {
	switch t {
	case models.TypeInt64:
		return "BIGINT"
	case models.TypeFloat64:
		return "DOUBLE PRECISION"
	case models.TypeBool:
		return "BOOLEAN"
	case models.TypeTimestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

// postgresCatalogType is postgresType as information_schema spells it.
func postgresCatalogType(t models.ColumnType) string {
	switch t {
	case models.TypeInt64:
		return "bigint"
	case models.TypeFloat64:
		return "double precision"
	case models.TypeBool:
		return "boolean"
	case models.TypeTimestamp:
		return "timestamp with time zone"
	default:
		return "text"
	}
}

// postgresRows converts decoded values to what COPY's binary encoder accepts
// for each declared column type.
func postgresRows(ds *models.Dataset) [][]any {
	out := make([][]any, len(ds.Rows))
	for r, row := range ds.Rows {
		vals := make([]any, len(row))
		for i, v := range row {
			if ts, ok := v.(time.Time); ok {
				v = ts.UTC()
			}
			vals[i] = v
		}
		out[r] = vals
	}
	return out
}
