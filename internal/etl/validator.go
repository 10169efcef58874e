package etl

import (
	"fmt"
	"strings"

	"github.com/BartekS5/elt/pkg/models"
)

// Validator checks extracted result sets against an entity definition.
type Validator struct {
	Entity models.EntityMapping
}

func NewValidator(entity models.EntityMapping) *Validator {
	return &Validator{Entity: entity}
}

// ValidateColumns fails with models.ErrSchemaMismatch when the change column
// or any expected column is missing from cols. Names match case-insensitively.
// It returns the index of the change column.
func (v *Validator) ValidateColumns(cols []string) (int, error) {
	index := make(map[string]int, len(cols))
	for i, c := range cols {
		index[strings.ToLower(c)] = i
	}

	var missing []string
	for _, want := range v.Entity.Columns {
		if _, ok := index[strings.ToLower(want)]; !ok {
			missing = append(missing, want)
		}
	}
	changeIdx, ok := index[strings.ToLower(v.Entity.ChangeColumn)]
	if !ok {
		missing = append(missing, v.Entity.ChangeColumn)
	}
	if len(missing) > 0 {
		return -1, models.Errorf(models.CodeSchemaMismatch, "extract "+v.Entity.Name,
			"table %s is missing column(s) %s", v.Entity.Table, strings.Join(missing, ", "))
	}
	return changeIdx, nil
}

// ValidateDataset checks that every row has one value per column.
func (v *Validator) ValidateDataset(ds *models.Dataset) error {
	for i, row := range ds.Rows {
		if len(row) != len(ds.Columns) {
			return fmt.Errorf("entity %s row %d has %d values for %d columns", v.Entity.Name, i, len(row), len(ds.Columns))
		}
	}
	return nil
}
