package insights

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/vinodismyname/mcpsales/config"
	"github.com/vinodismyname/mcpsales/internal/kmeans"
	"github.com/vinodismyname/mcpsales/internal/sales"
)

// SegmentedRecord is a record augmented with its cluster, category and recommendation.
type SegmentedRecord struct {
	sales.Record
	Cluster        int            `json:"cluster"`
	Category       sales.Category `json:"category"`
	Recommendation string         `json:"recommendation"`
}

// Centroid is a fitted cluster center in (buyers, quantity) space.
type Centroid struct {
	Cluster  int            `json:"cluster"`
	Category sales.Category `json:"category"`
	Buyers   float64        `json:"buyers"`
	Quantity float64        `json:"quantity"`
}

// CategorySummary totals one category's rows.
type CategorySummary struct {
	Category        sales.Category `json:"category"`
	Label           string         `json:"label"`
	Products        int            `json:"products"`
	Quantity        int            `json:"quantity"`
	Revenue         float64        `json:"revenue"`
	RevenueMillions float64        `json:"revenue_millions"`
}

// Metrics are headline totals over a set of rows.
type Metrics struct {
	Rows          int     `json:"rows"`
	TotalQuantity int     `json:"total_quantity"`
	TotalRevenue  float64 `json:"total_revenue"`
}

// ProductQuantity pairs a product with its summed quantity.
type ProductQuantity struct {
	Product  string `json:"product"`
	Quantity int    `json:"quantity"`
}

// Segmentation is the full single-dataset result.
type Segmentation struct {
	Source      string            `json:"source"`
	Rows        []SegmentedRecord `json:"rows"`
	Centroids   []Centroid        `json:"centroids"`
	Clusters    []ClusterStat     `json:"clusters"`
	Summary     []CategorySummary `json:"summary"`
	Metrics     Metrics           `json:"metrics"`
	TopProducts []ProductQuantity `json:"top_products"`
	Iterations  int               `json:"iterations"`
	Inertia     float64           `json:"inertia"`
}

// Segmenter clusters a dataset and labels each row with a category and recommendation.
type Segmenter struct {
	Options     kmeans.Options
	TopProducts int
}

// NewSegmenter returns a Segmenter with the reproducible defaults.
func NewSegmenter() *Segmenter {
	return &Segmenter{Options: kmeans.DefaultOptions(), TopProducts: config.DefaultTopProducts}
}

// Segment runs clustering, category mapping and recommendation over ds. ds is not modified.
func (s *Segmenter) Segment(ctx context.Context, ds sales.Dataset) (Segmentation, error) {
	if err := ctx.Err(); err != nil {
		return Segmentation{}, err
	}
	log := zerolog.Ctx(ctx)

	points := make([][]float64, len(ds.Records))
	for i, r := range ds.Records {
		f := r.Features()
		points[i] = f[:]
	}
	model, err := kmeans.Fit(points, s.Options)
	if err != nil {
		return Segmentation{}, err
	}
	cm, err := MapCategories(ds, model.Labels)
	if err != nil {
		return Segmentation{}, err
	}

	out := Segmentation{
		Source:     ds.Source,
		Rows:       make([]SegmentedRecord, len(ds.Records)),
		Clusters:   cm.Stats,
		Iterations: model.Iterations,
		Inertia:    model.Inertia,
	}
	for i, r := range ds.Records {
		c := model.Labels[i]
		cat := cm.Category(c)
		out.Rows[i] = SegmentedRecord{Record: r, Cluster: c, Category: cat, Recommendation: Recommend(cat)}
	}
	for c, ctr := range model.Centroids {
		out.Centroids = append(out.Centroids, Centroid{Cluster: c, Category: cm.Category(c), Buyers: ctr[0], Quantity: ctr[1]})
	}

	topN := s.TopProducts
	if topN <= 0 {
		topN = config.DefaultTopProducts
	}
	out.Summary = SummarizeCategories(out.Rows)
	out.Metrics = MetricsOf(out.Rows)
	out.TopProducts = TopProductsByQuantity(out.Rows, topN)

	log.Debug().Str("source", ds.Source).Int("rows", len(out.Rows)).Int("iterations", model.Iterations).Msg("segmented dataset")
	return out, nil
}

// MetricsOf totals rows.
func MetricsOf(rows []SegmentedRecord) Metrics {
	m := Metrics{Rows: len(rows)}
	rev := decimal.Zero
	for _, r := range rows {
		m.TotalQuantity += r.Quantity
		rev = rev.Add(decimal.NewFromFloat(r.Revenue))
	}
	m.TotalRevenue = rev.InexactFloat64()
	return m
}

// SummarizeCategories totals rows per category, in rank order, for categories present.
func SummarizeCategories(rows []SegmentedRecord) []CategorySummary {
	var acc [kmeans.K]struct {
		n, qty int
		rev    decimal.Decimal
	}
	for _, r := range rows {
		if !r.Category.Valid() {
			continue
		}
		a := &acc[r.Category]
		a.n++
		a.qty += r.Quantity
		a.rev = a.rev.Add(decimal.NewFromFloat(r.Revenue))
	}
	out := make([]CategorySummary, 0, kmeans.K)
	for _, c := range sales.Categories {
		a := acc[c]
		if a.n == 0 {
			continue
		}
		out = append(out, CategorySummary{
			Category:        c,
			Label:           c.Label(),
			Products:        a.n,
			Quantity:        a.qty,
			Revenue:         a.rev.InexactFloat64(),
			RevenueMillions: a.rev.Shift(-6).Round(6).InexactFloat64(),
		})
	}
	return out
}

// TopProductsByQuantity sums quantity per product name and returns the n largest,
// descending, ties by name ascending.
func TopProductsByQuantity(rows []SegmentedRecord, n int) []ProductQuantity {
	recs := make([]sales.Record, len(rows))
	for i, r := range rows {
		recs[i] = r.Record
	}
	totals, _ := sumByProduct(recs)
	if n < len(totals) {
		totals = totals[:n]
	}
	return totals
}

// sumByProduct groups records by trimmed product name and sorts by quantity
// descending, then name ascending. Rows with a blank name are left out of the
// groups; their summed quantity is returned as unnamed.
func sumByProduct(records []sales.Record) (out []ProductQuantity, unnamed int) {
	idx := map[string]int{}
	for _, r := range records {
		name := strings.TrimSpace(r.Product)
		if name == "" {
			unnamed += r.Quantity
			continue
		}
		i, ok := idx[name]
		if !ok {
			i = len(out)
			idx[name] = i
			out = append(out, ProductQuantity{Product: name})
		}
		out[i].Quantity += r.Quantity
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Quantity != out[j].Quantity {
			return out[i].Quantity > out[j].Quantity
		}
		return out[i].Product < out[j].Product
	})
	return out, unnamed
}
