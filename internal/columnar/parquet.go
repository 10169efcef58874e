// Package columnar encodes extracted datasets as Parquet files and decodes
// them back for warehouse loading.
package columnar

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/BartekS5/elt/pkg/models"
)

const readBatchSize = 4096

// InferTypes picks a column type from the non-NULL values of each column.
// Integers widen to float when mixed with floats; any other mix, and
// all-NULL columns, fall back to string.
func InferTypes(ds *models.Dataset) []models.ColumnType {
	types := make([]models.ColumnType, len(ds.Columns))
	for i := range ds.Columns {
		var t models.ColumnType
		for _, row := range ds.Rows {
			vt := typeOf(row[i])
			if vt == "" {
				continue
			}
			switch {
			case t == "":
				t = vt
			case t == vt:
			case (t == models.TypeInt64 && vt == models.TypeFloat64) || (t == models.TypeFloat64 && vt == models.TypeInt64):
				t = models.TypeFloat64
			default:
				t = models.TypeString
			}
			if t == models.TypeString {
				break
			}
		}
		if t == "" {
			t = models.TypeString
		}
		types[i] = t
	}
	return types
}

func typeOf(v any) models.ColumnType {
	switch v.(type) {
	case nil:
		return ""
	case int64:
		return models.TypeInt64
	case float64:
		return models.TypeFloat64
	case bool:
		return models.TypeBool
	case time.Time:
		return models.TypeTimestamp
	default:
		return models.TypeString
	}
}

func arrowType(t models.ColumnType) (arrow.DataType, error) {
	switch t {
	case models.TypeInt64:
		return arrow.PrimitiveTypes.Int64, nil
	case models.TypeFloat64:
		return arrow.PrimitiveTypes.Float64, nil
	case models.TypeBool:
		return arrow.FixedWidthTypes.Boolean, nil
	case models.TypeTimestamp:
		return arrow.FixedWidthTypes.Timestamp_us, nil
	case models.TypeString:
		return arrow.BinaryTypes.String, nil
	default:
		return nil, fmt.Errorf("unsupported column type %q", t)
	}
}

// Encode writes ds as a single-row-group Parquet file. An empty dataset
// yields a valid file carrying only the schema.
func Encode(ds *models.Dataset) ([]byte, error) {
	types := ds.Types
	if len(types) != len(ds.Columns) {
		types = InferTypes(ds)
	}

	fields := make([]arrow.Field, len(ds.Columns))
	for i, name := range ds.Columns {
		dt, err := arrowType(types[i])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", name, err)
		}
		fields[i] = arrow.Field{Name: name, Type: dt, Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	mem := memory.DefaultAllocator
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for r, row := range ds.Rows {
		if len(row) != len(ds.Columns) {
			return nil, fmt.Errorf("row %d has %d values, expected %d", r, len(row), len(ds.Columns))
		}
		for i, v := range row {
			if err := appendValue(b.Field(i), types[i], v); err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", r, ds.Columns[i], err)
			}
		}
	}
	rec := b.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	w, err := pqarrow.NewFileWriter(schema, &buf, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	if rec.NumRows() > 0 {
		if err := w.Write(rec); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func appendValue(b array.Builder, t models.ColumnType, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch t {
	case models.TypeInt64:
		n, ok := v.(int64)
		if !ok {
			return fmt.Errorf("expected int64, got %T", v)
		}
		b.(*array.Int64Builder).Append(n)
	case models.TypeFloat64:
		switch n := v.(type) {
		case float64:
			b.(*array.Float64Builder).Append(n)
		case int64:
			b.(*array.Float64Builder).Append(float64(n))
		default:
			return fmt.Errorf("expected float64, got %T", v)
		}
	case models.TypeBool:
		x, ok := v.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", v)
		}
		b.(*array.BooleanBuilder).Append(x)
	case models.TypeTimestamp:
		ts, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("expected timestamp, got %T", v)
		}
		b.(*array.TimestampBuilder).Append(arrow.Timestamp(ts.UnixMicro()))
	case models.TypeString:
		b.(*array.StringBuilder).Append(stringify(v))
	}
	return nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}

// Decode reads a Parquet file produced by Encode, or any flat Parquet file,
// back into a dataset. Timestamps come back in UTC.
func Decode(ctx context.Context, data []byte) (*models.Dataset, error) {
	mem := memory.DefaultAllocator
	tbl, err := pqarrow.ReadTable(ctx, bytes.NewReader(data), parquet.NewReaderProperties(mem), pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet file: %w", err)
	}
	defer tbl.Release()

	schema := tbl.Schema()
	ds := &models.Dataset{
		Columns: make([]string, schema.NumFields()),
		Types:   make([]models.ColumnType, schema.NumFields()),
		Rows:    make([][]any, 0, tbl.NumRows()),
	}
	for i, f := range schema.Fields() {
		ds.Columns[i] = f.Name
		ds.Types[i] = columnType(f.Type)
	}

	tr := array.NewTableReader(tbl, readBatchSize)
	defer tr.Release()
	for tr.Next() {
		rec := tr.Record()
		for r := 0; r < int(rec.NumRows()); r++ {
			row := make([]any, rec.NumCols())
			for c := 0; c < int(rec.NumCols()); c++ {
				v, err := valueAt(rec.Column(c), r)
				if err != nil {
					return nil, fmt.Errorf("column %s row %d: %w", ds.Columns[c], len(ds.Rows), err)
				}
				row[c] = v
			}
			ds.Rows = append(ds.Rows, row)
		}
	}
	if err := tr.Err(); err != nil {
		return nil, fmt.Errorf("failed to read parquet rows: %w", err)
	}
	return ds, nil
}

func columnType(dt arrow.DataType) models.ColumnType {
	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return models.TypeInt64
	case arrow.FLOAT32, arrow.FLOAT64:
		return models.TypeFloat64
	case arrow.BOOL:
		return models.TypeBool
	case arrow.TIMESTAMP, arrow.DATE32, arrow.DATE64:
		return models.TypeTimestamp
	default:
		return models.TypeString
	}
}

func valueAt(col arrow.Array, i int) (any, error) {
	if col.IsNull(i) {
		return nil, nil
	}
	switch a := col.(type) {
	case *array.Int64:
		return a.Value(i), nil
	case *array.Int32:
		return int64(a.Value(i)), nil
	case *array.Int16:
		return int64(a.Value(i)), nil
	case *array.Int8:
		return int64(a.Value(i)), nil
	case *array.Uint64:
		v := a.Value(i)
		if v > math.MaxInt64 {
			return nil, fmt.Errorf("unsigned value %d overflows int64", v)
		}
		return int64(v), nil
	case *array.Uint32:
		return int64(a.Value(i)), nil
	case *array.Uint16:
		return int64(a.Value(i)), nil
	case *array.Uint8:
		return int64(a.Value(i)), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.Float32:
		return float64(a.Value(i)), nil
	case *array.Boolean:
		return a.Value(i), nil
	case *array.String:
		return a.Value(i), nil
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit).UTC(), nil
	case *array.Date32:
		return a.Value(i).ToTime().UTC(), nil
	case *array.Date64:
		return a.Value(i).ToTime().UTC(), nil
	default:
		return col.ValueStr(i), nil
	}
}
