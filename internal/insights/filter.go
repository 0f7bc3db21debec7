package insights

import (
	"math"

	"github.com/shopspring/decimal"
	"github.com/vinodismyname/mcpsales/internal/sales"
)

// FilterParams restricts segmented rows. Ranges are inclusive; revenue is in currency units.
type FilterParams struct {
	Categories []sales.Category `json:"categories"`
	MinBuyers  int              `json:"min_buyers"`
	MaxBuyers  int              `json:"max_buyers"`
	MinRevenue float64          `json:"min_revenue"`
	MaxRevenue float64          `json:"max_revenue"`
}

// Allows reports whether r passes every constraint.
func (p FilterParams) Allows(r SegmentedRecord) bool {
	if !p.hasCategory(r.Category) {
		return false
	}
	if r.Buyers < p.MinBuyers || r.Buyers > p.MaxBuyers {
		return false
	}
	return r.Revenue >= p.MinRevenue && r.Revenue <= p.MaxRevenue
}

func (p FilterParams) hasCategory(c sales.Category) bool {
	for _, x := range p.Categories {
		if x == c {
			return true
		}
	}
	return false
}

// Filter returns the rows allowed by p in their original order. rows is not modified;
// an empty result is valid.
func Filter(rows []SegmentedRecord, p FilterParams) []SegmentedRecord {
	out := make([]SegmentedRecord, 0, len(rows))
	for _, r := range rows {
		if p.Allows(r) {
			out = append(out, r)
		}
	}
	return out
}

// DefaultFilter selects every category present and the full observed ranges, so
// Filter(rows, DefaultFilter(rows)) keeps all rows.
func DefaultFilter(rows []SegmentedRecord) FilterParams {
	var p FilterParams
	if len(rows) == 0 {
		return p
	}
	var seen [3]bool
	p.MinBuyers, p.MaxBuyers = math.MaxInt, math.MinInt
	p.MinRevenue, p.MaxRevenue = math.Inf(1), math.Inf(-1)
	for _, r := range rows {
		if r.Category.Valid() {
			seen[r.Category] = true
		}
		p.MinBuyers = min(p.MinBuyers, r.Buyers)
		p.MaxBuyers = max(p.MaxBuyers, r.Buyers)
		p.MinRevenue = math.Min(p.MinRevenue, r.Revenue)
		p.MaxRevenue = math.Max(p.MaxRevenue, r.Revenue)
	}
	for _, c := range sales.Categories {
		if seen[c] {
			p.Categories = append(p.Categories, c)
		}
	}
	return p
}

// MillionsToRevenue converts a revenue bound expressed in millions to currency units.
func MillionsToRevenue(m float64) float64 {
	return decimal.NewFromFloat(m).Shift(6).InexactFloat64()
}
