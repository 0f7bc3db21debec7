package insights

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"github.com/vinodismyname/mcpsales/config"
	"github.com/vinodismyname/mcpsales/internal/rules"
	"github.com/vinodismyname/mcpsales/internal/sales"
)

// RankOptions configures RankProducts. TopN outside 1..10 falls back to 5; nil
// Rules uses rules.Default().
type RankOptions struct {
	TopN  int
	Rules *rules.Set
}

// ProductShare is one product's quantity and share of the period total.
type ProductShare struct {
	Rank     int     `json:"rank"`
	Product  string  `json:"product"`
	Quantity int     `json:"quantity"`
	Share    float64 `json:"share"` // percent, 1 decimal
	Note     string  `json:"note,omitempty"`
}

// ProductRanking is the top-N breakdown of one period.
type ProductRanking struct {
	Period    sales.PeriodKey `json:"period"`
	MonthName string          `json:"month_name"`
	Total     int             `json:"total"`
	Unnamed   int             `json:"unnamed,omitempty"` // blank product names, counted in Total only
	TopN      int             `json:"top_n"`
	// Top is in display order: ascending quantity, so the leader comes last.
	Top []ProductShare `json:"top"`
	// Remainder holds rank TopN+1 onward, descending quantity.
	Remainder []ProductShare `json:"remainder"`
	HHI       float64        `json:"hhi"`
	Band      string         `json:"band"`
}

// Leader returns the rank-1 product.
func (r ProductRanking) Leader() ProductShare {
	if len(r.Top) == 0 {
		return ProductShare{}
	}
	return r.Top[len(r.Top)-1]
}

// RankProducts ranks the products of one period by summed quantity. Records outside
// key are ignored; ErrEmptyPeriod is returned when none remain. Shares are computed
// against the total of all products in the period.
func RankProducts(records []sales.Record, key sales.PeriodKey, opts RankOptions) (ProductRanking, error) {
	out := ProductRanking{Period: key, MonthName: key.MonthName(), TopN: opts.TopN}
	if out.TopN <= 0 || out.TopN > 10 {
		out.TopN = config.DefaultTopN
	}
	set := rules.Default()
	if opts.Rules != nil {
		set = *opts.Rules
	}

	inPeriod := InPeriod(records, key)
	if len(inPeriod) == 0 {
		return out, fmt.Errorf("%w: %s", sales.ErrEmptyPeriod, key)
	}
	totals, unnamed := sumByProduct(inPeriod)
	out.Unnamed, out.Total = unnamed, unnamed
	for _, t := range totals {
		out.Total += t.Quantity
	}

	keep := min(out.TopN, len(totals))
	out.Top = make([]ProductShare, 0, keep)
	for i := keep - 1; i >= 0; i-- {
		t := totals[i]
		out.Top = append(out.Top, ProductShare{
			Rank:     i + 1,
			Product:  t.Product,
			Quantity: t.Quantity,
			Share:    percent(t.Quantity, out.Total),
			Note:     set.Annotate(t.Product),
		})
	}
	out.Remainder = make([]ProductShare, 0, len(totals)-keep)
	for i := keep; i < len(totals); i++ {
		t := totals[i]
		out.Remainder = append(out.Remainder, ProductShare{
			Rank:     i + 1,
			Product:  t.Product,
			Quantity: t.Quantity,
			Share:    percent(t.Quantity, out.Total),
		})
	}

	// HHI: sum of squared shares over all products
	if out.Total > 0 {
		var hhi float64
		for _, t := range totals {
			sh := float64(t.Quantity) / float64(out.Total)
			hhi += sh * sh
		}
		out.HHI = round3(hhi)
		switch {
		case hhi < 0.15:
			out.Band = "unconcentrated"
		case hhi < 0.25:
			out.Band = "moderately_concentrated"
		default:
			out.Band = "highly_concentrated"
		}
	}
	return out, nil
}

// percent returns q/total*100 rounded half away from zero to one decimal.
func percent(q, total int) float64 {
	if total == 0 {
		return 0
	}
	return decimal.NewFromInt(int64(q)).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(int64(total)), 8).
		Round(1).
		InexactFloat64()
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
