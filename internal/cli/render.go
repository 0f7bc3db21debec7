package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/vinodismyname/mcpsales/internal/insights"
	"github.com/vinodismyname/mcpsales/internal/sales"
)

// barWidth is the length of the longest period bar.
const barWidth = 40

func render(data pterm.TableData) string {
	table := pterm.DefaultTable.
		WithHasHeader().
		WithBoxed().
		WithHeaderStyle(pterm.NewStyle(pterm.FgLightCyan)).
		WithData(data)
	out, _ := table.Srender()
	return out
}

func categoryColor(c sales.Category) pterm.Color {
	switch c {
	case sales.TopPerforming:
		return pterm.FgGreen
	case sales.Performing:
		return pterm.FgYellow
	}
	return pterm.FgRed
}

// MetricsLine renders the headline totals.
func MetricsLine(m insights.Metrics) string {
	return fmt.Sprintf("Products: %d   Quantity sold: %d   Revenue: %s",
		m.Rows, m.TotalQuantity, strconv.FormatFloat(m.TotalRevenue, 'f', 0, 64))
}

// CategoryTable renders per-category totals.
func CategoryTable(summary []insights.CategorySummary) string {
	data := pterm.TableData{{"Category", "Label", "Products", "Quantity", "Revenue (millions)"}}
	for _, s := range summary {
		data = append(data, []string{
			categoryColor(s.Category).Sprint(s.Category.String()),
			s.Label,
			strconv.Itoa(s.Products),
			strconv.Itoa(s.Quantity),
			fmt.Sprintf("%.2f", s.RevenueMillions),
		})
	}
	return render(data)
}

// SegmentTable renders categorized rows in input order.
func SegmentTable(rows []insights.SegmentedRecord) string {
	data := pterm.TableData{{"Product", "Buyers", "Quantity", "Revenue (millions)", "Category", "Recommendation"}}
	for _, r := range rows {
		data = append(data, []string{
			r.Product,
			strconv.Itoa(r.Buyers),
			strconv.Itoa(r.Quantity),
			fmt.Sprintf("%.2f", r.RevenueMillions()),
			categoryColor(r.Category).Sprint(r.Category.Label()),
			r.Recommendation,
		})
	}
	return render(data)
}

// TopProductsTable renders best sellers by quantity.
func TopProductsTable(top []insights.ProductQuantity) string {
	data := pterm.TableData{{"#", "Product", "Quantity"}}
	for i, p := range top {
		data = append(data, []string{strconv.Itoa(i + 1), p.Product, strconv.Itoa(p.Quantity)})
	}
	return render(data)
}

// DiagnosticsTable renders skipped files.
func DiagnosticsTable(diags []insights.Diagnostic) string {
	data := pterm.TableData{{"Skipped file", "Code", "Reason"}}
	for _, d := range diags {
		data = append(data, []string{d.File, pterm.FgYellow.Sprint(string(d.Code)), d.Message})
	}
	return render(data)
}

// PeriodTable renders per-month totals with bars scaled to the largest month.
func PeriodTable(summary []insights.PeriodTotal) string {
	maxQty := 0
	for _, p := range summary {
		maxQty = max(maxQty, p.Quantity)
	}
	data := pterm.TableData{{"Period", "Quantity", ""}}
	for _, p := range summary {
		bar := ""
		if maxQty > 0 {
			bar = strings.Repeat("█", p.Quantity*barWidth/maxQty)
		}
		color := pterm.FgBlue
		if p.Quantity == maxQty {
			color = pterm.FgGreen
		}
		data = append(data, []string{p.Key().String(), strconv.Itoa(p.Quantity), color.Sprint(bar)})
	}
	return render(data)
}

// RankingTable renders a period ranking leader first, then the remainder total.
func RankingTable(r insights.ProductRanking) string {
	data := pterm.TableData{{"Rank", "Product", "Quantity", "Share", "Note"}}
	for i := len(r.Top) - 1; i >= 0; i-- {
		p := r.Top[i]
		data = append(data, []string{strconv.Itoa(p.Rank), p.Product, strconv.Itoa(p.Quantity), fmt.Sprintf("%.1f%%", p.Share), p.Note})
	}
	if len(r.Remainder) > 0 {
		qty, share := 0, 0.0
		for _, p := range r.Remainder {
			qty += p.Quantity
			share += p.Share
		}
		data = append(data, []string{"", fmt.Sprintf("%d others", len(r.Remainder)), strconv.Itoa(qty), fmt.Sprintf("%.1f%%", share), ""})
	}
	out := render(data)
	if r.Band != "" {
		out += fmt.Sprintf("\nConcentration: %s (HHI %.3f)", r.Band, r.HHI)
	}
	return out
}
