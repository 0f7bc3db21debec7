package ingest

import (
	"fmt"
	"strings"

	"github.com/vinodismyname/mcpsales/internal/sales"
)

// Schema lists the columns a table must carry and the numeric column that must hold data.
type Schema struct {
	Required  []string
	KeyColumn string
}

// Validate checks required columns and key-column non-emptiness. It never mutates t.
func Validate(t Table, s Schema) error {
	var missing []string
	for _, col := range s.Required {
		if t.Index(col) < 0 {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return &sales.MissingColumnsError{Missing: missing}
	}
	if s.KeyColumn == "" {
		return nil
	}
	key := t.Index(s.KeyColumn)
	if key < 0 {
		return &sales.MissingColumnsError{Missing: []string{s.KeyColumn}}
	}
	for i := range t.Rows {
		if !isMissing(t.Cell(i, key)) {
			return nil
		}
	}
	return fmt.Errorf("%w: column %q in %s", sales.ErrEmptyData, s.KeyColumn, t.Name)
}

// isMissing mirrors common spreadsheet NA spellings.
func isMissing(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "na", "n/a", "nan", "null", "none", "#n/a":
		return true
	}
	return false
}
