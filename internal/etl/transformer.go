package etl

import (
	"time"

	"github.com/BartekS5/elt/pkg/models"
	"github.com/BartekS5/elt/pkg/utils"
)

// Transformer normalises scanned rows and enforces the extraction window in
// process, independently of how far the source could push the predicate down.
type Transformer struct {
	Entity   models.EntityMapping
	Location *time.Location
}

func NewTransformer(entity models.EntityMapping, loc *time.Location) *Transformer {
	if loc == nil {
		loc = time.UTC
	}
	return &Transformer{Entity: entity, Location: loc}
}

// NormalizeRow converts driver values in place to the types the stager
// encodes.
func (t *Transformer) NormalizeRow(row []any) []any {
	for i, v := range row {
		row[i] = utils.NormalizeValue(v)
	}
	return row
}

// InWindow parses the change value with the entity's own format and reports
// whether it falls in [start, end). Unparseable values return an error.
func (t *Transformer) InWindow(val any, start, end time.Time) (bool, error) {
	ts, err := utils.ParseChangeValue(val, t.Entity.ChangeFormat, t.Entity.Layout, t.Location)
	if err != nil {
		return false, err
	}
	return !ts.Before(start) && ts.Before(end), nil
}
