package columnar

import (
	"bytes"
	"context"
	"math"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BartekS5/elt/pkg/models"
)

func TestInferTypes(t *testing.T) {
	ds := &models.Dataset{
		Columns: []string{"id", "price", "active", "created", "name", "mixed", "empty"},
		Rows: [][]any{
			{int64(1), int64(10), true, time.Now(), "a", int64(1), nil},
			{int64(2), 10.5, nil, nil, "b", "x", nil},
		},
	}
	assert.Equal(t, []models.ColumnType{
		models.TypeInt64,
		models.TypeFloat64,
		models.TypeBool,
		models.TypeTimestamp,
		models.TypeString,
		models.TypeString,
		models.TypeString,
	}, InferTypes(ds))
}

func TestEncodeDecode(t *testing.T) {
	created := time.Date(2024, 3, 5, 10, 30, 0, 123000, time.UTC)
	ds := &models.Dataset{
		Entity:  "users",
		Columns: []string{"id", "name", "score", "active", "creation_date"},
		Rows: [][]any{
			{int64(1), "alice", 4.5, true, created},
			{int64(2), nil, int64(3), false, nil},
		},
	}

	data, err := Encode(ds)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	got, err := Decode(context.Background(), data)
	require.NoError(t, err)

	assert.Equal(t, ds.Columns, got.Columns)
	assert.Equal(t, []models.ColumnType{
		models.TypeInt64, models.TypeString, models.TypeFloat64, models.TypeBool, models.TypeTimestamp,
	}, got.Types)
	require.Len(t, got.Rows, 2)
	assert.Equal(t, []any{int64(1), "alice", 4.5, true, created}, got.Rows[0])
	assert.Equal(t, []any{int64(2), nil, 3.0, false, nil}, got.Rows[1])
}

func TestEncodeEmptyDataset(t *testing.T) {
	ds := &models.Dataset{Entity: "vehicles", Columns: []string{"id", "last_update_timestamp"}}

	data, err := Encode(ds)
	require.NoError(t, err)

	got, err := Decode(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, ds.Columns, got.Columns)
	assert.Empty(t, got.Rows)
}

func TestEncodeRejectsTypeMismatch(t *testing.T) {
	ds := &models.Dataset{
		Columns: []string{"id"},
		Types:   []models.ColumnType{models.TypeInt64},
		Rows:    [][]any{{"not a number"}},
	}
	_, err := Encode(ds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "column id")
}

func TestEncodeRejectsRaggedRows(t *testing.T) {
	ds := &models.Dataset{Columns: []string{"a", "b"}, Rows: [][]any{{int64(1)}}}
	_, err := Encode(ds)
	assert.Error(t, err)
}

func uint64File(t *testing.T, values ...uint64) []byte {
	t.Helper()
	schema := arrow.NewSchema([]arrow.Field{{Name: "counter", Type: arrow.PrimitiveTypes.Uint64, Nullable: true}}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	b.Field(0).(*array.Uint64Builder).AppendValues(values, nil)
	rec := b.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	w, err := pqarrow.NewFileWriter(schema, &buf, parquet.NewWriterProperties(), pqarrow.DefaultWriterProps())
	require.NoError(t, err)
	require.NoError(t, w.Write(rec))
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestDecodeUnsigned(t *testing.T) {
	ctx := context.Background()

	got, err := Decode(ctx, uint64File(t, 7, math.MaxInt64))
	require.NoError(t, err)
	assert.Equal(t, []models.ColumnType{models.TypeInt64}, got.Types)
	assert.Equal(t, [][]any{{int64(7)}, {int64(math.MaxInt64)}}, got.Rows)

	_, err = Decode(ctx, uint64File(t, 1, math.MaxUint64))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overflows int64")
}
