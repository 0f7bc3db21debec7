package insights

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vinodismyname/mcpsales/internal/ingest"
	"github.com/vinodismyname/mcpsales/internal/rules"
	"github.com/vinodismyname/mcpsales/internal/sales"
	"github.com/vinodismyname/mcpsales/pkg/mcperr"
)

// nineProducts has three groups of three in (buyers, quantity) space. Group members sit
// at indices g, g+3, g+6. Revenue ranks the groups low (g0), high (g1), middle (g2).
func nineProducts() sales.Dataset {
	pts := [][3]float64{
		{1, 1, 10_000}, {50, 50, 500_000}, {100, 5, 300_000},
		{1, 2, 12_000}, {51, 50, 510_000}, {101, 6, 290_000},
		{2, 1, 11_000}, {50, 51, 490_000}, {99, 5, 310_000},
	}
	ds := sales.Dataset{Source: "toko.csv"}
	for i, p := range pts {
		ds.Records = append(ds.Records, sales.Record{
			Product:  fmt.Sprintf("P%d", i),
			Buyers:   int(p[0]),
			Quantity: int(p[1]),
			Revenue:  p[2],
		})
	}
	return ds
}

func TestMapCategories_RanksByMeanRevenue(t *testing.T) {
	ds := sales.Dataset{Records: []sales.Record{{Revenue: 100}, {Revenue: 5}, {Revenue: 50}, {Revenue: 7}}}
	m, err := MapCategories(ds, []int{0, 1, 2, 1})
	require.NoError(t, err)
	require.Equal(t, sales.TopPerforming, m.Category(0))
	require.Equal(t, sales.Underperforming, m.Category(1))
	require.Equal(t, sales.Performing, m.Category(2))

	require.Len(t, m.Stats, 3)
	for i := 1; i < len(m.Stats); i++ {
		require.LessOrEqual(t, m.Stats[i-1].MeanRevenue, m.Stats[i].MeanRevenue)
	}
	require.Equal(t, 2, m.Stats[0].Count)
	require.InDelta(t, 6.0, m.Stats[0].MeanRevenue, 1e-9)
}

func TestMapCategories_TiesKeepClusterOrder(t *testing.T) {
	ds := sales.Dataset{Records: []sales.Record{{Revenue: 10}, {Revenue: 10}, {Revenue: 10}}}
	m, err := MapCategories(ds, []int{2, 0, 1})
	require.NoError(t, err)
	require.Equal(t, sales.Underperforming, m.Category(0))
	require.Equal(t, sales.Performing, m.Category(1))
	require.Equal(t, sales.TopPerforming, m.Category(2))
}

func TestMapCategories_Degenerate(t *testing.T) {
	ds := sales.Dataset{Records: []sales.Record{{Revenue: 1}, {Revenue: 2}, {Revenue: 3}}}
	_, err := MapCategories(ds, []int{0, 0, 2})
	require.True(t, errors.Is(err, sales.ErrDegenerateClustering))

	_, err = MapCategories(ds, []int{0, 1})
	require.Error(t, err)

	_, err = MapCategories(ds, []int{0, 1, 3})
	require.Error(t, err)
}

func TestRecommend_TotalFunction(t *testing.T) {
	got := map[string]bool{}
	for _, c := range sales.Categories {
		got[Recommend(c)] = true
	}
	require.Equal(t, map[string]bool{
		"maintain stock and routine promotion":     true,
		"increase promotion toward top-performing": true,
		"evaluate product or create bundling":      true,
	}, got)
	require.Equal(t, "maintain stock and routine promotion", Recommend(sales.TopPerforming))
}

func TestSegment_SeparatedGroups(t *testing.T) {
	ds := nineProducts()
	before := append([]sales.Record(nil), ds.Records...)

	seg, err := NewSegmenter().Segment(context.Background(), ds)
	require.NoError(t, err)
	require.Equal(t, before, ds.Records)
	require.Len(t, seg.Rows, 9)
	require.Len(t, seg.Centroids, 3)

	want := []sales.Category{sales.Underperforming, sales.TopPerforming, sales.Performing}
	for g := 0; g < 3; g++ {
		for _, i := range []int{g, g + 3, g + 6} {
			require.Equal(t, seg.Rows[g].Cluster, seg.Rows[i].Cluster)
			require.Equal(t, want[g], seg.Rows[i].Category, "row %d", i)
			require.Equal(t, Recommend(want[g]), seg.Rows[i].Recommendation)
		}
	}

	require.Len(t, seg.Summary, 3)
	require.Equal(t, sales.Underperforming, seg.Summary[0].Category)
	require.Equal(t, "Kurang Laris", seg.Summary[0].Label)
	require.Equal(t, 3, seg.Summary[0].Products)
	require.InDelta(t, 33_000, seg.Summary[0].Revenue, 1e-6)
	require.InDelta(t, 0.033, seg.Summary[0].RevenueMillions, 1e-9)

	require.Equal(t, 9, seg.Metrics.Rows)
	require.Equal(t, 171, seg.Metrics.TotalQuantity)
	require.InDelta(t, 2_433_000, seg.Metrics.TotalRevenue, 1e-6)

	require.Len(t, seg.TopProducts, 9)
	require.Equal(t, ProductQuantity{Product: "P7", Quantity: 51}, seg.TopProducts[0])
}

func TestSegment_Deterministic(t *testing.T) {
	s := NewSegmenter()
	a, err := s.Segment(context.Background(), nineProducts())
	require.NoError(t, err)
	b, err := s.Segment(context.Background(), nineProducts())
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestSegment_InsufficientData(t *testing.T) {
	ds := sales.Dataset{Records: []sales.Record{{Buyers: 1, Quantity: 1}, {Buyers: 1, Quantity: 1}, {Buyers: 2, Quantity: 2}}}
	_, err := NewSegmenter().Segment(context.Background(), ds)
	require.True(t, errors.Is(err, sales.ErrInsufficientData))
}

func TestSegment_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSegmenter().Segment(ctx, nineProducts())
	require.ErrorIs(t, err, context.Canceled)
}

func segmented(t *testing.T) []SegmentedRecord {
	t.Helper()
	seg, err := NewSegmenter().Segment(context.Background(), nineProducts())
	require.NoError(t, err)
	return seg.Rows
}

func TestFilter_DefaultKeepsAll(t *testing.T) {
	rows := segmented(t)
	p := DefaultFilter(rows)
	require.Equal(t, sales.Categories, p.Categories)
	require.Equal(t, 1, p.MinBuyers)
	require.Equal(t, 101, p.MaxBuyers)
	require.Equal(t, 10_000.0, p.MinRevenue)
	require.Equal(t, 510_000.0, p.MaxRevenue)
	require.Equal(t, rows, Filter(rows, p))
}

func TestFilter_InclusiveBoundsAndCategories(t *testing.T) {
	rows := segmented(t)
	p := DefaultFilter(rows)
	p.Categories = []sales.Category{sales.TopPerforming, sales.Performing}
	p.MinBuyers, p.MaxBuyers = 50, 100
	p.MaxRevenue = 500_000

	got := Filter(rows, p)
	var names []string
	for _, r := range got {
		names = append(names, r.Product)
	}
	// P4 exceeds revenue, P5 exceeds buyers.
	require.Equal(t, []string{"P1", "P2", "P7", "P8"}, names)
}

func TestFilter_Idempotent(t *testing.T) {
	rows := segmented(t)
	p := FilterParams{
		Categories: []sales.Category{sales.Underperforming, sales.Performing},
		MinBuyers:  0, MaxBuyers: 100,
		MinRevenue: 0, MaxRevenue: 1e9,
	}
	once := Filter(rows, p)
	require.Equal(t, once, Filter(once, p))

	wider := p
	wider.MaxBuyers = 1000
	require.Equal(t, once, Filter(once, wider))
}

func TestFilter_EmptyCategoriesYieldsEmpty(t *testing.T) {
	rows := segmented(t)
	p := DefaultFilter(rows)
	p.Categories = nil
	got := Filter(rows, p)
	require.NotNil(t, got)
	require.Empty(t, got)
	require.Equal(t, FilterParams{}, DefaultFilter(nil))
}

func TestMillionsToRevenue(t *testing.T) {
	require.Equal(t, 300_000.0, MillionsToRevenue(0.3))
	require.Equal(t, 1_250_000.0, MillionsToRevenue(1.25))
}

func periodTable(name string, rows ...[]string) ingest.Table {
	return ingest.Table{Name: name, Header: []string{"product", "quantity", "buyers", "revenue"}, Rows: rows}
}

func TestAggregate_SkipsBadFilesAndKeepsOrder(t *testing.T) {
	files := []SourceFile{
		{ID: "bulan_3_2024.csv", Table: periodTable("bulan_3_2024.csv", []string{"A", "10", "1", "100"}, []string{"B", "x", "1", "100"})},
		{ID: "report.csv", Table: periodTable("report.csv", []string{"C", "99", "1", "100"})},
		{ID: "bulan_1_2024.csv", Table: periodTable("bulan_1_2024.csv", []string{"D", "4", "1", "100"}, []string{"E", "6", "1", "100"})},
		{ID: "bulan_2_2024.csv", Table: ingest.Table{Name: "bulan_2_2024.csv", Header: []string{"product", "buyers"}, Rows: [][]string{{"F", "1"}}}},
		{ID: "bulan_12_2023.csv", Table: periodTable("bulan_12_2023.csv", []string{"G", "10", "1", "100"})},
	}
	var skipped []mcperr.Code
	var accepted []string
	agg, err := Aggregate(context.Background(), files, AggregateOptions{
		Columns:  ingest.EnglishColumns,
		Workers:  2,
		OnSkip:   func(d Diagnostic) { skipped = append(skipped, d.Code) },
		OnAccept: func(f string, _ sales.PeriodKey, _ int) { accepted = append(accepted, f) },
	})
	require.NoError(t, err)

	require.Equal(t, []string{"bulan_3_2024.csv", "bulan_1_2024.csv", "bulan_12_2023.csv"}, agg.Accepted)
	require.Equal(t, agg.Accepted, accepted)
	require.Equal(t, []mcperr.Code{mcperr.UnrecognizedPeriod, mcperr.MissingColumns}, skipped)
	require.Len(t, agg.Diagnostics, 2)
	require.Equal(t, "report.csv", agg.Diagnostics[0].File)
	require.Contains(t, agg.Diagnostics[1].Message, "quantity")

	var names []string
	for _, r := range agg.Records {
		names = append(names, r.Product)
		require.NotNil(t, r.Period)
	}
	require.Equal(t, []string{"A", "B", "D", "E", "G"}, names)
	require.Equal(t, 0, agg.Records[1].Quantity)

	require.Equal(t, []PeriodTotal{
		{Year: 2023, Month: 12, MonthName: "December", Quantity: 10},
		{Year: 2024, Month: 1, MonthName: "January", Quantity: 10},
		{Year: 2024, Month: 3, MonthName: "March", Quantity: 10},
	}, agg.Summary)

	// Three-way tie resolves to the earliest period.
	require.NotNil(t, agg.Best)
	require.Equal(t, sales.PeriodKey{Year: 2023, Month: 12}, agg.Best.Key())
	require.Equal(t, "Increase stock and promotion ahead of December every year", agg.Advice)
	require.Equal(t, "Best month: December 2023 with 10 units sold", agg.Headline())
	require.Equal(t, []sales.PeriodKey{{Year: 2023, Month: 12}, {Year: 2024, Month: 1}, {Year: 2024, Month: 3}}, agg.Periods())
}

func TestAggregate_MissingRevenueSkippedOthersProceed(t *testing.T) {
	files := []SourceFile{
		{ID: "bulan_5_2024.csv", Table: ingest.Table{Header: []string{"product", "quantity", "buyers"}, Rows: [][]string{{"A", "3", "1"}}}},
		{ID: "bulan_6_2024.csv", Table: periodTable("bulan_6_2024.csv", []string{"B", "7", "2", "100"})},
	}
	agg, err := Aggregate(context.Background(), files, AggregateOptions{
		Columns: ingest.EnglishColumns,
		Schema:  ingest.EnglishColumns.SegmentSchema(),
	})
	require.NoError(t, err)
	require.Len(t, agg.Diagnostics, 1)
	require.Equal(t, mcperr.MissingColumns, agg.Diagnostics[0].Code)
	require.Contains(t, agg.Diagnostics[0].Message, "revenue")
	require.Equal(t, 7, agg.Best.Quantity)
}

func TestAggregate_NoValidFiles(t *testing.T) {
	files := []SourceFile{
		{ID: "a.csv", Table: periodTable("a.csv", []string{"A", "1", "1", "1"})},
		{ID: "bulan_13_2024.csv", Table: periodTable("bulan_13_2024.csv", []string{"A", "1", "1", "1"})},
	}
	agg, err := Aggregate(context.Background(), files, AggregateOptions{Columns: ingest.EnglishColumns})
	require.True(t, errors.Is(err, sales.ErrNoValidFiles))
	require.Len(t, agg.Diagnostics, 2)
	require.Nil(t, agg.Best)

	_, err = Aggregate(context.Background(), nil, AggregateOptions{})
	require.True(t, errors.Is(err, sales.ErrNoValidFiles))
}

func TestAggregate_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	files := []SourceFile{{ID: "bulan_1_2024.csv", Table: periodTable("x", []string{"A", "1", "1", "1"})}}
	_, err := Aggregate(ctx, files, AggregateOptions{Columns: ingest.EnglishColumns})
	require.ErrorIs(t, err, context.Canceled)
}

func inMonth(key sales.PeriodKey, pairs ...any) []sales.Record {
	var out []sales.Record
	for i := 0; i < len(pairs); i += 2 {
		k := key
		out = append(out, sales.Record{Product: pairs[i].(string), Quantity: pairs[i+1].(int), Period: &k})
	}
	return out
}

func TestRankProducts_ThreeProducts(t *testing.T) {
	key := sales.PeriodKey{Year: 2024, Month: 3}
	recs := inMonth(key, "A", 50, "B", 30, "C", 20)
	recs = append(recs, inMonth(sales.PeriodKey{Year: 2024, Month: 4}, "Z", 1000)...)

	r, err := RankProducts(recs, key, RankOptions{})
	require.NoError(t, err)
	require.Equal(t, 100, r.Total)
	require.Equal(t, 5, r.TopN)
	require.Empty(t, r.Remainder)
	require.Equal(t, []ProductShare{
		{Rank: 3, Product: "C", Quantity: 20, Share: 20.0, Note: rules.DefaultNote},
		{Rank: 2, Product: "B", Quantity: 30, Share: 30.0, Note: rules.DefaultNote},
		{Rank: 1, Product: "A", Quantity: 50, Share: 50.0, Note: rules.DefaultNote},
	}, r.Top)
	require.Equal(t, "A", r.Leader().Product)
	require.Equal(t, "March", r.MonthName)
	require.InDelta(t, 0.38, r.HHI, 1e-9)
	require.Equal(t, "highly_concentrated", r.Band)
}

func TestRankProducts_SharesSumToHundred(t *testing.T) {
	key := sales.PeriodKey{Year: 2024, Month: 11}
	recs := inMonth(key,
		"Bulu Mata Palsu", 7, "Pensil Alis", 7, "Taplak Meja", 5, "Korean Clip", 3,
		"Penjepit Rambut", 3, "Sendok", 2, "Garpu", 1, "Pensil Alis", 2,
	)
	r, err := RankProducts(recs, key, RankOptions{})
	require.NoError(t, err)
	require.Equal(t, 30, r.Total)
	require.Len(t, r.Top, 5)
	require.Len(t, r.Remainder, 2)

	// Pensil Alis sums to 9 and leads; equal quantities order by name.
	require.Equal(t, "Pensil Alis", r.Leader().Product)
	require.Equal(t, "Rising demand for beauty tools", r.Leader().Note)
	require.Equal(t, "Korean Clip", r.Top[1].Product)
	require.Equal(t, "Penjepit Rambut", r.Top[0].Product)
	require.Equal(t, "Cheap practical beauty tool", r.Top[0].Note)
	require.Equal(t, []string{"Sendok", "Garpu"}, []string{r.Remainder[0].Product, r.Remainder[1].Product})
	require.Equal(t, 6, r.Remainder[0].Rank)

	var sum float64
	for _, p := range append(r.Top, r.Remainder...) {
		sum += p.Share
	}
	require.InDelta(t, 100.0, sum, 0.5)
	require.Equal(t, 23.3, r.Top[3].Share) // 7/30
}

func TestRankProducts_CustomRulesAndTopN(t *testing.T) {
	key := sales.PeriodKey{Year: 2025, Month: 1}
	set := rules.Set{Rules: []rules.Rule{{Patterns: []string{"kopi"}, Note: "Morning staple"}}, Default: "Other"}
	r, err := RankProducts(inMonth(key, "Kopi Susu", 4, "Teh", 2, "Chai", 1), key, RankOptions{TopN: 2, Rules: &set})
	require.NoError(t, err)
	require.Len(t, r.Top, 2)
	require.Equal(t, "Morning staple", r.Leader().Note)
	require.Equal(t, "Other", r.Top[0].Note)
	require.Equal(t, "Chai", r.Remainder[0].Product)
	require.Empty(t, r.Remainder[0].Note)
}

func TestRankProducts_EmptyPeriod(t *testing.T) {
	recs := inMonth(sales.PeriodKey{Year: 2024, Month: 1}, "A", 1)
	_, err := RankProducts(recs, sales.PeriodKey{Year: 2024, Month: 2}, RankOptions{})
	require.True(t, errors.Is(err, sales.ErrEmptyPeriod))
}

func TestRankProducts_BlankNamesCountOnlyInTotal(t *testing.T) {
	key := sales.PeriodKey{Year: 2024, Month: 6}
	recs := inMonth(key, "A", 50, " ", 20, "B", 30)

	r, err := RankProducts(recs, key, RankOptions{})
	require.NoError(t, err)
	require.Equal(t, 100, r.Total)
	require.Equal(t, 20, r.Unnamed)
	require.Len(t, r.Top, 2)
	require.Equal(t, "A", r.Leader().Product)
	require.Equal(t, 50.0, r.Leader().Share)
	require.Equal(t, 30.0, r.Top[0].Share)
	for _, p := range r.Top {
		require.NotEmpty(t, strings.TrimSpace(p.Product))
	}
}

func TestRankProducts_ZeroTotal(t *testing.T) {
	key := sales.PeriodKey{Year: 2024, Month: 1}
	r, err := RankProducts(inMonth(key, "A", 0, "B", 0), key, RankOptions{})
	require.NoError(t, err)
	require.Equal(t, 0.0, r.Leader().Share)
	require.Equal(t, "A", r.Leader().Product)
	require.Empty(t, r.Band)
}
