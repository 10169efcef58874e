package utils

import (
	"math"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BartekS5/elt/pkg/models"
)

func TestParseChangeValue(t *testing.T) {
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		val    any
		format models.ChangeFormat
		layout string
		want   time.Time
		err    bool
	}{
		{name: "native time", val: want, format: models.ChangeFormatDate, want: want},
		{name: "date text", val: "2024-03-15", format: models.ChangeFormatDate, want: want},
		{name: "timestamp bytes", val: []byte("2024-03-15 10:30:00"), format: models.ChangeFormatTimestamp,
			want: time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)},
		{name: "offset text keeps wall clock", val: "2024-03-15T20:00:00-05:00", format: models.ChangeFormatTimestamp,
			want: time.Date(2024, 3, 15, 20, 0, 0, 0, time.UTC)},
		{name: "custom layout", val: "15-03-2024", format: models.ChangeFormatLayout, layout: "02-01-2006", want: want},
		{name: "custom layout rejects iso", val: "2024-03-15", format: models.ChangeFormatLayout, layout: "02-01-2006", err: true},
		{name: "null", val: nil, format: models.ChangeFormatDate, err: true},
		{name: "garbage", val: "yesterday", format: models.ChangeFormatTimestamp, err: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseChangeValue(tt.val, tt.format, tt.layout, time.UTC)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestParseChangeValue_KeepsWallClock(t *testing.T) {
	warsaw, err := time.LoadLocation("Europe/Warsaw")
	require.NoError(t, err)

	// drivers hand back DATETIME values labelled UTC
	got, err := ParseChangeValue(time.Date(2024, 5, 31, 23, 30, 0, 0, time.UTC), models.ChangeFormatTimestamp, "", warsaw)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-31 23:30", got.Format("2006-01-02 15:04"))
	assert.Equal(t, warsaw, got.Location())
}

func TestParseDateAndMidnight(t *testing.T) {
	d, err := ParseDate("2024-06-01", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01", FormatDate(d))

	_, err = ParseDate("06/01/2024", time.UTC)
	require.Error(t, err)

	m := Midnight(time.Date(2024, 6, 1, 23, 59, 0, 0, time.UTC), time.UTC)
	assert.Equal(t, d, m)
}

func TestNormalizeValue(t *testing.T) {
	assert.Equal(t, "abc", NormalizeValue([]byte("abc")))
	assert.Equal(t, int64(7), NormalizeValue(int32(7)))
	assert.Equal(t, float64(1.5), NormalizeValue(float32(1.5)))
	assert.Nil(t, NormalizeValue(nil))
	assert.Equal(t, int64(math.MaxInt64), NormalizeValue(uint64(math.MaxInt64)))
	assert.Equal(t, "18446744073709551615", NormalizeValue(uint64(math.MaxUint64)))
}
