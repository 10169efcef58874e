package models

import "time"

// FormatParquet is the columnar file format batches are staged in.
const FormatParquet = "parquet"

// ColumnType is the logical type of a staged column.
type ColumnType string

const (
	TypeInt64     ColumnType = "int64"
	TypeFloat64   ColumnType = "float64"
	TypeBool      ColumnType = "bool"
	TypeTimestamp ColumnType = "timestamp"
	TypeString    ColumnType = "string"
)

// Dataset is an in-memory row set extracted for a single entity.
// Rows are positional and aligned with Columns. Types, when set, is aligned
// with Columns as well.
type Dataset struct {
	Entity  string
	Columns []string
	Types   []ColumnType
	Rows    [][]any
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// Batch is one run's extracted-and-staged dataset for one entity.
// It is immutable once staged.
type Batch struct {
	Entity      string
	WindowStart time.Time
	WindowEnd   time.Time
	RowCount    int
	LocalPath   string
	StoragePath string
}
