package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BartekS5/elt/pkg/database"
	"github.com/BartekS5/elt/pkg/logger"
	"github.com/BartekS5/elt/pkg/models"
)

// SQLite keeps each dataset in its own database file next to the main file
// and attaches it under the dataset name, so transformation SQL can address
// tables as dataset.table exactly as on other warehouses.
type SQLite struct {
	db      *sql.DB
	dir     string
	objects ObjectReader
}

// OpenSQLite opens the warehouse at path and re-attaches known datasets.
func OpenSQLite(ctx context.Context, path string, objects ObjectReader) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create warehouse directory: %w", err)
	}
	db, _, err := database.ConnectSQL(ctx, "sqlite:"+path)
	if err != nil {
		return nil, err
	}
	// ATTACH is per connection.
	db.SetMaxOpenConns(1)

	w := &SQLite{db: db, dir: filepath.Dir(path), objects: objects}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS _elt_datasets (name TEXT PRIMARY KEY)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create dataset registry: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT name FROM _elt_datasets ORDER BY name`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			_ = db.Close()
			return nil, err
		}
		names = append(names, name)
	}
	_ = rows.Close()

	for _, name := range names {
		if err := w.attach(ctx, name); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return w, nil
}

// DB exposes the underlying handle for queries.
func (w *SQLite) DB() *sql.DB {
	return w.db
}

func (w *SQLite) Close() error {
	return w.db.Close()
}

func (w *SQLite) attached(ctx context.Context, name string) (bool, error) {
	rows, err := w.db.QueryContext(ctx, `PRAGMA database_list`)
	if err != nil {
		return false, fmt.Errorf("failed to list attached databases: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			seq    int
			dbName string
			file   sql.NullString
		)
		if err := rows.Scan(&seq, &dbName, &file); err != nil {
			return false, err
		}
		if strings.EqualFold(dbName, name) {
			return true, nil
		}
	}
	return false, rows.Err()
}

func (w *SQLite) attach(ctx context.Context, name string) error {
	ok, err := w.attached(ctx, name)
	if err != nil || ok {
		return err
	}
	file := filepath.Join(w.dir, name+".db")
	if _, err := w.db.ExecContext(ctx, `ATTACH DATABASE ? AS `+quoteIdent(name), file); err != nil {
		return fmt.Errorf("failed to attach dataset %s: %w", name, err)
	}
	return nil
}

// CreateDatasetIfAbsent attaches the dataset file, creating it on first use.
func (w *SQLite) CreateDatasetIfAbsent(ctx context.Context, name string) error {
	if name == "" || strings.ContainsAny(name, `."`) {
		return fmt.Errorf("invalid dataset name %q", name)
	}
	if err := w.attach(ctx, name); err != nil {
		return err
	}
	if _, err := w.db.ExecContext(ctx, `INSERT OR IGNORE INTO _elt_datasets (name) VALUES (?)`, name); err != nil {
		return fmt.Errorf("failed to register dataset %s: %w", name, err)
	}
	return nil
}

// Load writes the staged batch at sourcePath into target.
func (w *SQLite) Load(ctx context.Context, target models.LoadTarget, sourcePath, format string) error {
	if err := validateTarget(target); err != nil {
		return err
	}
	ds, err := readBatch(ctx, w.objects, sourcePath, format)
	if err != nil {
		return err
	}

	table := quoteIdent(target.Dataset) + "." + quoteIdent(target.Table)
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin load transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if target.WriteMode == models.WriteModeReplace {
		if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+table); err != nil {
			return fmt.Errorf("failed to drop %s: %w", target.DestinationTable(), err)
		}
	}
	if _, err := tx.ExecContext(ctx, sqliteCreateTable(table, ds)); err != nil {
		return fmt.Errorf("failed to create %s: %w", target.DestinationTable(), err)
	}

	if len(ds.Rows) > 0 {
		stmt, err := tx.PrepareContext(ctx, sqliteInsert(table, ds.Columns))
		if err != nil {
			return fmt.Errorf("failed to prepare insert into %s: %w", target.DestinationTable(), err)
		}
		defer func() { _ = stmt.Close() }()
		for i, row := range ds.Rows {
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				return fmt.Errorf("failed to insert row %d into %s: %w", i, target.DestinationTable(), err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit load into %s: %w", target.DestinationTable(), err)
	}
	logger.Debug("sqlite load committed", "table", target.DestinationTable(), "rows", len(ds.Rows), "mode", target.WriteMode)
	return nil
}

// RunQuery executes one or more statements.
func (w *SQLite) RunQuery(ctx context.Context, query string) error {
	if _, err := w.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	return nil
}

func sqliteCreateTable(table string, ds *models.Dataset) string {
	cols := make([]string, len(ds.Columns))
	for i, name := range ds.Columns {
		cols[i] = quoteIdent(name) + " " + sqliteType(ds.Types[i])
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(cols, ", "))
}

func sqliteInsert(table string, columns []string) string {
	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(quoted, ", "), strings.Join(marks, ", "))
}

func sqliteType(t models.ColumnType) string {
	switch t {
	case models.TypeInt64, models.TypeBool:
		return "INTEGER"
	case models.TypeFloat64:
		return "REAL"
	case models.TypeTimestamp:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
