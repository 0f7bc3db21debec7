package ingest

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/vinodismyname/mcpsales/internal/sales"
)

var periodPattern = regexp.MustCompile(`bulan_(\d{1,2})_(\d{4})`)

// ExtractPeriod parses "bulan_<month>_<year>" out of a file identifier.
func ExtractPeriod(id string) (sales.PeriodKey, error) {
	m := periodPattern.FindStringSubmatch(id)
	if m == nil {
		return sales.PeriodKey{}, fmt.Errorf("%w: %q", sales.ErrUnrecognizedPeriod, id)
	}
	month, _ := strconv.Atoi(m[1])
	year, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return sales.PeriodKey{}, fmt.Errorf("%w: month %d out of range in %q", sales.ErrUnrecognizedPeriod, month, id)
	}
	return sales.PeriodKey{Year: year, Month: month}, nil
}
