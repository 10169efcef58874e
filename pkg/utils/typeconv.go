package utils

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/BartekS5/elt/pkg/models"
)

// DateLayout is the layout used for watermarks, run dates and storage paths.
const DateLayout = "2006-01-02"

// fallbackLayouts are tried for date and timestamp columns that a driver
// hands back as text.
var fallbackLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	DateLayout,
}

// ParseChangeValue normalizes a raw change-detection value into a time in loc.
// Layout-formatted columns are parsed with their own layout only; native date
// and timestamp columns accept driver time values or common text forms.
// Values keep their wall clock and are relabelled with loc, dropping any
// offset they carry, the same way the source compares them against a date
// literal.
func ParseChangeValue(val any, format models.ChangeFormat, layout string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	switch v := val.(type) {
	case nil:
		return time.Time{}, fmt.Errorf("change value is NULL")
	case time.Time:
		return wallClock(v, loc), nil
	case []byte:
		return ParseChangeValue(string(v), format, layout, loc)
	case string:
		if format == models.ChangeFormatLayout {
			t, err := time.ParseInLocation(layout, v, loc)
			if err != nil {
				return time.Time{}, fmt.Errorf("unable to parse %q with layout %q: %w", v, layout, err)
			}
			return wallClock(t, loc), nil
		}
		for _, l := range fallbackLayouts {
			if t, err := time.ParseInLocation(l, v, loc); err == nil {
				return wallClock(t, loc), nil
			}
		}
		return time.Time{}, fmt.Errorf("unable to parse datetime: %s", v)
	default:
		return time.Time{}, fmt.Errorf("unsupported change value type %T", val)
	}
}

func wallClock(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}

// ParseDate parses a YYYY-MM-DD date at midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", s, err)
	}
	return t, nil
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Midnight truncates t to the start of its day in loc.
func Midnight(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// NormalizeValue converts driver values into the small set of Go types the
// stager knows how to encode: nil, bool, int64, float64, string and time.Time.
func NormalizeValue(val any) any {
	switch v := val.(type) {
	case nil, bool, int64, float64, string, time.Time:
		return v
	case []byte:
		return string(v)
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint:
		return normalizeUint(uint64(v))
	case uint64:
		return normalizeUint(v)
	case float32:
		return float64(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// normalizeUint keeps values above math.MaxInt64 exact as decimal text.
func normalizeUint(v uint64) any {
	if v > math.MaxInt64 {
		return strconv.FormatUint(v, 10)
	}
	return int64(v)
}
