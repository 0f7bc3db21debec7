package sales

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Record is one product/sales row after validation. Derived values
// (cluster, category, recommendation) live on copies owned by the analysis layer.
type Record struct {
	Product  string     `json:"product"`
	Buyers   int        `json:"buyers"`
	Quantity int        `json:"quantity"`
	Revenue  float64    `json:"revenue"`
	Period   *PeriodKey `json:"period,omitempty"`
}

// Features returns the clustering feature vector (buyer count, quantity sold).
func (r Record) Features() [2]float64 {
	return [2]float64{float64(r.Buyers), float64(r.Quantity)}
}

// RevenueMillions expresses revenue in millions of currency units, rounded to 6 places.
func (r Record) RevenueMillions() float64 {
	f, _ := decimal.NewFromFloat(r.Revenue).Shift(-6).Round(6).Float64()
	return f
}

// Dataset is an ordered sequence of records read from one source.
type Dataset struct {
	Source  string   `json:"source"`
	Columns []string `json:"columns"`
	Records []Record `json:"records"`
}

// Len returns the number of records.
func (d Dataset) Len() int { return len(d.Records) }

// PeriodKey identifies a (year, month) reporting period.
type PeriodKey struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// MonthName returns the English calendar name for the month.
func (p PeriodKey) MonthName() string {
	if p.Month < 1 || p.Month > 12 {
		return ""
	}
	return time.Month(p.Month).String()
}

func (p PeriodKey) String() string {
	return fmt.Sprintf("%s %d", p.MonthName(), p.Year)
}

// Less orders periods chronologically.
func (p PeriodKey) Less(o PeriodKey) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

// ParseMonth accepts a month number 1..12 or an English month name.
func ParseMonth(s string) (int, bool) {
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		return n, n >= 1 && n <= 12
	}
	return ParseMonthName(s)
}

// ParseMonthName resolves an English month name (case-insensitive) to 1..12.
func ParseMonthName(s string) (int, bool) {
	s = strings.TrimSpace(s)
	for m := time.January; m <= time.December; m++ {
		if strings.EqualFold(m.String(), s) {
			return int(m), true
		}
	}
	return 0, false
}
