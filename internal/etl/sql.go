package etl

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/BartekS5/elt/internal/columnar"
	"github.com/BartekS5/elt/pkg/database"
	"github.com/BartekS5/elt/pkg/logger"
	"github.com/BartekS5/elt/pkg/models"
	"github.com/BartekS5/elt/pkg/utils"
)

// SQLExtractor reads changed rows from a relational source. It pushes the
// window predicate down to the source where the dialect can compare the
// change column as a date, and always re-checks each row after parsing the
// change value with the entity's own format.
type SQLExtractor struct {
	DB       *sql.DB
	Dialect  string
	Location *time.Location
}

func NewSQLExtractor(db *sql.DB, dialect string, loc *time.Location) *SQLExtractor {
	if loc == nil {
		loc = time.UTC
	}
	return &SQLExtractor{DB: db, Dialect: dialect, Location: loc}
}

// Extract returns the entity rows changed in [start, end). An empty result
// is a valid dataset. Connection failures are models.ErrSourceUnavailable;
// missing columns or a query the source rejects are models.ErrSchemaMismatch.
func (s *SQLExtractor) Extract(ctx context.Context, entity models.EntityMapping, start, end time.Time) (*models.Dataset, error) {
	op := "extract " + entity.Name
	if err := s.DB.PingContext(ctx); err != nil {
		return nil, models.NewError(models.CodeSourceUnavailable, op, err)
	}

	query, args, err := BuildQuery(s.Dialect, entity, start, end)
	if err != nil {
		return nil, models.NewError(models.CodeSchemaMismatch, op, err)
	}
	logger.Debug("extract query", "entity", entity.Name, "query", query, "args", args)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, classify(op, err)
	}
	changeIdx, err := NewValidator(entity).ValidateColumns(cols)
	if err != nil {
		return nil, err
	}

	tr := NewTransformer(entity, s.Location)
	ds := &models.Dataset{Entity: entity.Name, Columns: cols, Rows: [][]any{}}
	dropped, outside := 0, 0

	for rows.Next() {
		values := make([]any, len(cols))
		pointers := make([]any, len(cols))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, classify(op, err)
		}

		row := tr.NormalizeRow(values)
		ok, err := tr.InWindow(row[changeIdx], start, end)
		if err != nil {
			dropped++
			continue
		}
		if !ok {
			outside++
			continue
		}
		ds.Rows = append(ds.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}

	if dropped > 0 {
		logger.Warn("dropped rows with unparseable change value",
			"entity", entity.Name, "column", entity.ChangeColumn, "dropped", dropped)
	}
	switch {
	case outside > 0 && len(args) > 0:
		// The source applied the window, so these rows disagree with it.
		logger.Warn("dropped rows the source matched but that fall outside the window",
			"entity", entity.Name, "column", entity.ChangeColumn, "rows", outside)
	case outside > 0:
		logger.Debug("filtered rows outside window", "entity", entity.Name, "rows", outside)
	}
	if err := NewValidator(entity).ValidateDataset(ds); err != nil {
		return nil, models.NewError(models.CodeSchemaMismatch, op, err)
	}
	ds.Types = columnar.InferTypes(ds)
	return ds, nil
}

func classify(op string, err error) error {
	if database.IsConnectionError(err) {
		return models.NewError(models.CodeSourceUnavailable, op, err)
	}
	return models.NewError(models.CodeSchemaMismatch, op, err)
}

// BuildQuery renders the range query for an entity in the given dialect.
// The window bounds are bound as YYYY-MM-DD strings.
func BuildQuery(dialect string, entity models.EntityMapping, start, end time.Time) (string, []any, error) {
	if err := entity.Validate(); err != nil {
		return "", nil, err
	}
	q, err := quoteTable(dialect, entity.Table)
	if err != nil {
		return "", nil, err
	}
	col := quoteIdent(dialect, entity.ChangeColumn)
	from, to := utils.FormatDate(start), utils.FormatDate(end)

	var (
		where string
		args  []any
	)
	switch entity.ChangeFormat {
	case models.ChangeFormatDate, models.ChangeFormatTimestamp:
		where = fmt.Sprintf("%s >= %s AND %s < %s", col, placeholder(dialect, 1), col, placeholder(dialect, 2))
		args = []any{from, to}
	case models.ChangeFormatLayout:
		where, args = layoutPredicate(dialect, col, entity.Layout, from, to)
	}
	return fmt.Sprintf("SELECT * FROM %s WHERE %s", q, where), args, nil
}

func layoutPredicate(dialect, col, layout, from, to string) (string, []any) {
	switch dialect {
	case database.DriverMySQL:
		if f, ok := MySQLDateFormat(layout); ok {
			return fmt.Sprintf("STR_TO_DATE(%s, ?) >= ? AND STR_TO_DATE(%s, ?) < ?", col, col), []any{f, from, f, to}
		}
	case database.DriverSQLServer:
		if style, ok := sqlServerStyles[layout]; ok {
			expr := fmt.Sprintf("TRY_CONVERT(date, %s, %d)", col, style)
			return fmt.Sprintf("%s >= @p1 AND %s < @p2", expr, expr), []any{from, to}
		}
	}
	// The source cannot parse the layout; every row is checked in process.
	return col + " IS NOT NULL", nil
}

// sqlServerStyles maps date layouts to CONVERT style numbers.
var sqlServerStyles = map[string]int{
	"01/02/2006": 101,
	"2006.01.02": 102,
	"02/01/2006": 103,
	"02.01.2006": 104,
	"02-01-2006": 105,
	"01-02-2006": 110,
	"2006/01/02": 111,
	"20060102":   112,
	"2006-01-02": 23,
}

var mysqlTokens = []struct{ layout, format string }{
	{"January", "%M"},
	{"Monday", "%W"},
	{"2006", "%Y"},
	{"Jan", "%b"},
	{"Mon", "%a"},
	{"01", "%m"},
	{"02", "%d"},
	{"15", "%H"},
	{"03", "%h"},
	{"04", "%i"},
	{"05", "%s"},
	{"06", "%y"},
	{"PM", "%p"},
	{"1", "%c"},
	{"2", "%e"},
}

// MySQLDateFormat converts a Go time layout to a STR_TO_DATE format. It
// reports false for layouts with elements MySQL cannot express.
func MySQLDateFormat(layout string) (string, bool) {
	var b strings.Builder
	for i := 0; i < len(layout); {
		matched := false
		for _, tok := range mysqlTokens {
			if strings.HasPrefix(layout[i:], tok.layout) {
				b.WriteString(tok.format)
				i += len(tok.layout)
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		c := layout[i]
		switch {
		case c == '%':
			b.WriteString("%%")
		case c >= '0' && c <= '9':
			return "", false
		default:
			b.WriteByte(c)
		}
		i++
	}
	return b.String(), true
}

func placeholder(dialect string, n int) string {
	if dialect == database.DriverSQLServer {
		return fmt.Sprintf("@p%d", n)
	}
	return "?"
}

func quoteTable(dialect, table string) (string, error) {
	parts := strings.Split(table, ".")
	for i, p := range parts {
		if p == "" {
			return "", fmt.Errorf("invalid table name %q", table)
		}
		parts[i] = quoteIdent(dialect, p)
	}
	return strings.Join(parts, "."), nil
}

func quoteIdent(dialect, name string) string {
	switch dialect {
	case database.DriverMySQL:
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	case database.DriverSQLServer:
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	default:
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
}
