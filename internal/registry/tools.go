package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/vinodismyname/mcpsales/internal/datasets"
	"github.com/vinodismyname/mcpsales/internal/export"
	"github.com/vinodismyname/mcpsales/internal/ingest"
	"github.com/vinodismyname/mcpsales/internal/insights"
	"github.com/vinodismyname/mcpsales/internal/rules"
	"github.com/vinodismyname/mcpsales/internal/runtime"
	"github.com/vinodismyname/mcpsales/internal/sales"
	"github.com/vinodismyname/mcpsales/internal/telemetry"
	"github.com/vinodismyname/mcpsales/pkg/mcperr"
	"github.com/vinodismyname/mcpsales/pkg/pagination"
	"github.com/vinodismyname/mcpsales/pkg/validation"
)

// --- Input / Output Schemas (typed for discovery) ---

// LoadSalesInput defines parameters for loading a product sales file.
type LoadSalesInput struct {
	Path    string `json:"path" validate:"required,sales_path" jsonschema_description:"Allowed path to a .csv or .xlsx product sales export"`
	Columns string `json:"columns,omitempty" validate:"omitempty,column_preset" jsonschema_description:"Header preset: id (seller-center export) or en (product, buyers, quantity, revenue)"`
}

// LoadSalesOutput documents the response fields for load_sales.
type LoadSalesOutput struct {
	DatasetID string   `json:"dataset_id" jsonschema_description:"Server-assigned dataset handle ID"`
	Source    string   `json:"source" jsonschema_description:"Canonical path of the loaded file"`
	Rows      int      `json:"rows" jsonschema_description:"Number of product rows"`
	Columns   []string `json:"columns" jsonschema_description:"Header row as read"`
}

// SegmentFilterInput narrows segmented rows. Omitted fields keep the full observed range;
// an explicit empty categories list selects nothing.
type SegmentFilterInput struct {
	Categories         []string `json:"categories,omitempty" validate:"omitempty,dive,category" jsonschema_description:"Categories to keep: Underperforming, Performing, TopPerforming (or Kurang Laris, Laris, Sangat Laris)"`
	MinBuyers          *int     `json:"min_buyers,omitempty" validate:"omitempty,gte=0" jsonschema_description:"Inclusive lower bound on buyers"`
	MaxBuyers          *int     `json:"max_buyers,omitempty" validate:"omitempty,gte=0" jsonschema_description:"Inclusive upper bound on buyers"`
	MinRevenueMillions *float64 `json:"min_revenue_millions,omitempty" validate:"omitempty,gte=0" jsonschema_description:"Inclusive lower bound on revenue, in millions"`
	MaxRevenueMillions *float64 `json:"max_revenue_millions,omitempty" validate:"omitempty,gte=0" jsonschema_description:"Inclusive upper bound on revenue, in millions"`
}

// params resolves the effective filter over rows, starting from the full observed ranges.
func (f SegmentFilterInput) params(rows []insights.SegmentedRecord) insights.FilterParams {
	p := insights.DefaultFilter(rows)
	if f.Categories != nil {
		p.Categories = make([]sales.Category, 0, len(f.Categories))
		for _, s := range f.Categories {
			if c, err := sales.ParseCategory(s); err == nil {
				p.Categories = append(p.Categories, c)
			}
		}
	}
	if f.MinBuyers != nil {
		p.MinBuyers = *f.MinBuyers
	}
	if f.MaxBuyers != nil {
		p.MaxBuyers = *f.MaxBuyers
	}
	if f.MinRevenueMillions != nil {
		p.MinRevenue = insights.MillionsToRevenue(*f.MinRevenueMillions)
	}
	if f.MaxRevenueMillions != nil {
		p.MaxRevenue = insights.MillionsToRevenue(*f.MaxRevenueMillions)
	}
	return p
}

// SegmentProductsInput defines parameters for segment_products.
type SegmentProductsInput struct {
	DatasetID string `json:"dataset_id" validate:"required" jsonschema_description:"Dataset handle ID from load_sales"`
	SegmentFilterInput
	Cursor   string `json:"cursor,omitempty" validate:"omitempty,cursor" jsonschema_description:"Opaque cursor from a previous page; keep the filter unchanged"`
	PageSize int    `json:"page_size,omitempty" validate:"omitempty,min=1,max=500" jsonschema_description:"Rows per page"`
}

// PageMeta captures paging metadata.
type PageMeta struct {
	Total      int    `json:"total" jsonschema_description:"Rows matching the filter"`
	Offset     int    `json:"offset" jsonschema_description:"Offset of the first returned row"`
	Returned   int    `json:"returned" jsonschema_description:"Rows in this page"`
	PageSize   int    `json:"page_size" jsonschema_description:"Effective page size"`
	Truncated  bool   `json:"truncated" jsonschema_description:"True when more rows follow"`
	NextCursor string `json:"next_cursor,omitempty" jsonschema_description:"Cursor for the next page"`
}

// SegmentProductsOutput returns a page of categorized rows plus filtered summaries.
type SegmentProductsOutput struct {
	DatasetID   string                     `json:"dataset_id"`
	Filter      insights.FilterParams      `json:"filter" jsonschema_description:"Effective filter; revenue in currency units"`
	Rows        []insights.SegmentedRecord `json:"rows"`
	Summary     []insights.CategorySummary `json:"summary" jsonschema_description:"Per-category totals over the filtered rows"`
	Metrics     insights.Metrics           `json:"metrics" jsonschema_description:"Headline totals over the filtered rows"`
	TopProducts []insights.ProductQuantity `json:"top_products" jsonschema_description:"Best sellers by quantity among the filtered rows"`
	Centroids   []insights.Centroid        `json:"centroids"`
	Clusters    []insights.ClusterStat     `json:"clusters"`
	Meta        PageMeta                   `json:"meta"`
	EmptyReason string                     `json:"empty_reason,omitempty"`
}

// PeriodSummaryInput defines parameters for period_summary.
type PeriodSummaryInput struct {
	Paths   []string `json:"paths" validate:"required,min=1,dive,required" jsonschema_description:"Monthly sales files named like bulan_<month>_<year>.csv"`
	Columns string   `json:"columns,omitempty" validate:"omitempty,column_preset" jsonschema_description:"Header preset: id or en"`
}

// PeriodSummaryOutput reports per-period totals and per-file diagnostics.
type PeriodSummaryOutput struct {
	DatasetID   string                 `json:"dataset_id,omitempty" jsonschema_description:"Handle for top_products; empty when no file was accepted"`
	Summary     []insights.PeriodTotal `json:"summary"`
	Best        *insights.PeriodTotal  `json:"best,omitempty"`
	Headline    string                 `json:"headline"`
	Advice      string                 `json:"advice,omitempty"`
	Periods     []sales.PeriodKey      `json:"periods"`
	Accepted    []string               `json:"accepted"`
	Diagnostics []insights.Diagnostic  `json:"diagnostics"`
	EmptyReason string                 `json:"empty_reason,omitempty"`
}

// TopProductsInput defines parameters for top_products.
type TopProductsInput struct {
	DatasetID string `json:"dataset_id" validate:"required" jsonschema_description:"Dataset handle ID from period_summary"`
	Month     string `json:"month" validate:"required" jsonschema_description:"Month as 1-12 or an English name (March)"`
	Year      int    `json:"year" validate:"required,gte=1" jsonschema_description:"Four-digit year"`
	TopN      int    `json:"top_n,omitempty" validate:"omitempty,min=1,max=10" jsonschema_description:"Products to rank (default 5)"`
}

// TopProductsOutput returns the ranking of one period.
type TopProductsOutput struct {
	DatasetID        string                  `json:"dataset_id"`
	Ranking          insights.ProductRanking `json:"ranking"`
	Headline         string                  `json:"headline,omitempty"`
	AvailablePeriods []sales.PeriodKey       `json:"available_periods,omitempty"`
	EmptyReason      string                  `json:"empty_reason,omitempty"`
}

// ExportSegmentsInput defines parameters for export_segments.
type ExportSegmentsInput struct {
	DatasetID string `json:"dataset_id" validate:"required" jsonschema_description:"Dataset handle ID from load_sales"`
	SegmentFilterInput
	Output string `json:"output" validate:"required,export_path" jsonschema_description:"Allowed output path ending in .csv, .xlsx or .json"`
}

// ExportSegmentsOutput documents the written file.
type ExportSegmentsOutput struct {
	Path   string `json:"path"`
	Format string `json:"format"`
	Rows   int    `json:"rows"`
}

// CloseDatasetInput defines parameters for closing a dataset handle.
type CloseDatasetInput struct {
	DatasetID string `json:"dataset_id" validate:"required" jsonschema_description:"Dataset handle ID to close"`
}

// CloseDatasetOutput confirms the handle was dropped.
type CloseDatasetOutput struct {
	Success bool `json:"success" jsonschema_description:"True when the handle was closed"`
}

// --- Handlers ---

// PathGuard resolves tool-supplied paths against the allow-list.
type PathGuard interface {
	ValidateOpenPath(path string) (string, error)
	ValidateWritePath(path string) (string, error)
}

// SalesTools carries the dependencies of the sales tool handlers.
type SalesTools struct {
	Limits    runtime.Limits
	Datasets  *datasets.Manager
	Paths     PathGuard
	Load      datasets.LoadOptions
	Rules     *rules.Set
	Segmenter *insights.Segmenter
	Hooks     *telemetry.Hooks
}

func (t *SalesTools) loadOptions(preset string) datasets.LoadOptions {
	opts := t.Load
	if cols, ok := ingest.ColumnPreset(preset); ok && preset != "" {
		opts.Columns = cols
	}
	if t.Paths != nil {
		opts.Validator = t.Paths
	}
	if opts.MaxRows == 0 {
		opts.MaxRows = t.Limits.MaxRowsPerFile
	}
	return opts
}

func (t *SalesTools) segmenter() *insights.Segmenter {
	if t.Segmenter == nil {
		return insights.NewSegmenter()
	}
	return t.Segmenter
}

func (t *SalesTools) pageSize(n int) int {
	if n > 0 {
		return n
	}
	if t.Limits.PageSize > 0 {
		return t.Limits.PageSize
	}
	return 50
}

// handleErr maps handle lookups first, then core errors via the catalog.
func handleErr(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, datasets.ErrHandleNotFound):
		return mcperr.New(mcperr.InvalidHandle, "")
	case errors.Is(err, datasets.ErrWrongKind):
		return mcperr.New(mcperr.Validation, err.Error())
	}
	return mcperr.FromError(err)
}

func structured(out any, summary string, lines ...string) *mcp.CallToolResult {
	res := mcp.NewToolResultStructured(out, summary)
	text := summary
	if len(lines) > 0 {
		text = strings.Join(append([]string{summary}, lines...), "\n")
	}
	res.Content = []mcp.Content{mcp.NewTextContent(text)}
	return res
}

// LoadSales reads one sales file into a dataset handle.
func (t *SalesTools) LoadSales(ctx context.Context, req mcp.CallToolRequest, in LoadSalesInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	ds, canonical, err := datasets.LoadSales(in.Path, t.loadOptions(in.Columns))
	if err != nil {
		return mcperr.FromError(err), nil
	}
	id, err := t.Datasets.PutDataset(ctx, ds, canonical)
	if err != nil {
		return mcperr.New(mcperr.BusyResource, "open dataset limit reached; close a dataset and retry"), nil
	}
	out := LoadSalesOutput{DatasetID: id, Source: canonical, Rows: ds.Len(), Columns: ds.Columns}
	return structured(out, fmt.Sprintf("dataset_id=%s rows=%d source=%s", id, out.Rows, canonical)), nil
}

// SegmentProducts clusters the dataset (cached per handle) and pages the filtered rows.
func (t *SalesTools) SegmentProducts(ctx context.Context, req mcp.CallToolRequest, in SegmentProductsInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	seg, err := t.Datasets.Segmentation(ctx, in.DatasetID, t.segmenter())
	if err != nil {
		return handleErr(err), nil
	}

	p := in.params(seg.Rows)
	fh := pagination.HashParams(p)
	off, size := 0, t.pageSize(in.PageSize)
	if in.Cursor != "" {
		cur, err := pagination.DecodeCursor(in.Cursor)
		if err != nil || cur.Did != in.DatasetID || cur.K != pagination.KindSegments || cur.Fh != fh {
			return mcperr.New(mcperr.CursorInvalid, ""), nil
		}
		off, size = cur.Off, cur.Ps
	}

	rows := insights.Filter(seg.Rows, p)
	start, end, next := pagination.Page(len(rows), off, size)
	out := SegmentProductsOutput{
		DatasetID:   in.DatasetID,
		Filter:      p,
		Rows:        rows[start:end],
		Summary:     insights.SummarizeCategories(rows),
		Metrics:     insights.MetricsOf(rows),
		TopProducts: insights.TopProductsByQuantity(rows, t.segmenter().TopProducts),
		Centroids:   seg.Centroids,
		Clusters:    seg.Clusters,
		Meta:        PageMeta{Total: len(rows), Offset: start, Returned: end - start, PageSize: size, Truncated: next >= 0},
	}
	if next >= 0 {
		tok, err := pagination.EncodeCursor(pagination.Cursor{Did: in.DatasetID, K: pagination.KindSegments, Off: next, Ps: size, Fh: fh})
		if err != nil {
			return mcperr.New(mcperr.AnalysisFailed, err.Error()), nil
		}
		out.Meta.NextCursor = tok
	}
	if len(rows) == 0 {
		out.EmptyReason = "no rows match the filter"
	}

	summary := fmt.Sprintf("total=%d returned=%d truncated=%v", out.Meta.Total, out.Meta.Returned, out.Meta.Truncated)
	var lines []string
	for _, s := range out.Summary {
		lines = append(lines, fmt.Sprintf("- %s (%s): products=%d quantity=%d revenue_millions=%.2f", s.Category, s.Label, s.Products, s.Quantity, s.RevenueMillions))
	}
	return structured(out, summary, lines...), nil
}

// PeriodSummary aggregates monthly files into a period handle.
func (t *SalesTools) PeriodSummary(ctx context.Context, req mcp.CallToolRequest, in PeriodSummaryInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	if t.Limits.MaxFiles > 0 && len(in.Paths) > t.Limits.MaxFiles {
		return mcperr.Wrapf(mcperr.LimitExceeded, "%d files requested, limit %d", len(in.Paths), t.Limits.MaxFiles), nil
	}

	var aggOpts insights.AggregateOptions
	if t.Hooks != nil {
		aggOpts = t.Hooks.Ingestion(aggOpts)
	}
	agg, err := datasets.AggregateFiles(ctx, in.Paths, t.loadOptions(in.Columns), aggOpts)
	out := PeriodSummaryOutput{
		Summary:     agg.Summary,
		Best:        agg.Best,
		Headline:    agg.Headline(),
		Advice:      agg.Advice,
		Periods:     agg.Periods(),
		Accepted:    agg.Accepted,
		Diagnostics: agg.Diagnostics,
	}
	switch {
	case errors.Is(err, sales.ErrNoValidFiles):
		out.EmptyReason = string(mcperr.NoValidFiles)
		return structured(out, fmt.Sprintf("%s: %d files skipped", mcperr.NoValidFiles, len(out.Diagnostics)), diagnosticLines(out.Diagnostics)...), nil
	case err != nil:
		return mcperr.FromError(err), nil
	}

	id, err := t.Datasets.PutAggregation(ctx, agg, in.Paths...)
	if err != nil {
		return mcperr.New(mcperr.BusyResource, "open dataset limit reached; close a dataset and retry"), nil
	}
	out.DatasetID = id

	lines := []string{agg.Advice}
	for _, p := range out.Summary {
		lines = append(lines, fmt.Sprintf("- %s %d: %d units", p.MonthName, p.Year, p.Quantity))
	}
	lines = append(lines, diagnosticLines(out.Diagnostics)...)
	return structured(out, fmt.Sprintf("dataset_id=%s %s", id, out.Headline), lines...), nil
}

func diagnosticLines(ds []insights.Diagnostic) []string {
	lines := make([]string, 0, len(ds))
	for _, d := range ds {
		lines = append(lines, fmt.Sprintf("- skipped %s: %s", d.File, d.Code))
	}
	return lines
}

// TopProducts ranks the products of one period of an aggregation handle.
func (t *SalesTools) TopProducts(ctx context.Context, req mcp.CallToolRequest, in TopProductsInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	month, ok := sales.ParseMonth(in.Month)
	if !ok {
		return mcperr.New(mcperr.Validation, "month must be 1-12 or an English month name"), nil
	}
	key := sales.PeriodKey{Year: in.Year, Month: month}

	var records []sales.Record
	err := t.Datasets.WithRead(in.DatasetID, func(h *datasets.Handle) error {
		if h.Kind != datasets.KindPeriods || h.Aggregation == nil {
			return fmt.Errorf("%w: handle %s holds %s, not periods", datasets.ErrWrongKind, h.ID, h.Kind)
		}
		records = h.Aggregation.Records
		return nil
	})
	if err != nil {
		return handleErr(err), nil
	}

	ranking, err := insights.RankProducts(records, key, insights.RankOptions{TopN: in.TopN, Rules: t.Rules})
	out := TopProductsOutput{DatasetID: in.DatasetID, Ranking: ranking}
	switch {
	case errors.Is(err, sales.ErrEmptyPeriod):
		out.EmptyReason = string(mcperr.EmptyPeriod)
		out.AvailablePeriods = insights.Periods(records)
		return structured(out, fmt.Sprintf("%s: no records for %s", mcperr.EmptyPeriod, key)), nil
	case err != nil:
		return mcperr.FromError(err), nil
	}

	leader := ranking.Leader()
	out.Headline = fmt.Sprintf("Most sold in %s: %s with %d units (%.1f%%)", key, leader.Product, leader.Quantity, leader.Share)
	lines := make([]string, 0, len(ranking.Top))
	for i := len(ranking.Top) - 1; i >= 0; i-- {
		p := ranking.Top[i]
		lines = append(lines, fmt.Sprintf("%d. %s qty=%d share=%.1f%% note=%s", p.Rank, p.Product, p.Quantity, p.Share, p.Note))
	}
	return structured(out, out.Headline, lines...), nil
}

// ExportSegments writes the filtered categorized rows to an allowed output path.
func (t *SalesTools) ExportSegments(ctx context.Context, req mcp.CallToolRequest, in ExportSegmentsInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	seg, err := t.Datasets.Segmentation(ctx, in.DatasetID, t.segmenter())
	if err != nil {
		return handleErr(err), nil
	}
	target := in.Output
	if t.Paths != nil {
		if target, err = t.Paths.ValidateWritePath(in.Output); err != nil {
			return mcperr.FromError(err), nil
		}
	}
	rows := insights.Filter(seg.Rows, in.params(seg.Rows))
	if err := export.WriteSegmentsFile(target, rows); err != nil {
		return mcperr.New(mcperr.ExportFailed, err.Error()), nil
	}
	format, _ := export.Format(target)
	out := ExportSegmentsOutput{Path: target, Format: format, Rows: len(rows)}
	return structured(out, fmt.Sprintf("wrote %d rows to %s", out.Rows, target)), nil
}

// CloseDataset drops a dataset handle.
func (t *SalesTools) CloseDataset(ctx context.Context, req mcp.CallToolRequest, in CloseDatasetInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	if err := t.Datasets.Remove(in.DatasetID); err != nil {
		return handleErr(err), nil
	}
	return structured(CloseDatasetOutput{Success: true}, "closed "+in.DatasetID), nil
}

// RegisterSalesTools wires the sales analysis tools.
func RegisterSalesTools(s *server.MCPServer, reg *Registry, t *SalesTools) {
	load := mcp.NewTool(
		"load_sales",
		mcp.WithDescription("Load one product sales export (.csv or .xlsx) and return a dataset handle. Requires product, buyer, quantity and revenue columns (preset id for seller-center headers, en for product/buyers/quantity/revenue). Numeric cells must be non-negative. Errors: MISSING_COLUMNS, EMPTY_DATA, INVALID_VALUE, PERMISSION_DENIED, UNSUPPORTED_FORMAT."),
		mcp.WithInputSchema[LoadSalesInput](),
		mcp.WithOutputSchema[LoadSalesOutput](),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	s.AddTool(load, mcp.NewTypedToolHandler(t.LoadSales))
	reg.Register(load)

	segment := mcp.NewTool(
		"segment_products",
		mcp.WithDescription("Cluster the products of a load_sales dataset into three groups by buyers and quantity, rank the groups by mean revenue into Underperforming, Performing and TopPerforming, and attach a stock recommendation. Optional filters (categories, buyer and revenue-in-millions ranges) narrow the rows; summaries reflect the filtered rows. Rows are paged; pass next_cursor with the same filter to continue. Errors: INSUFFICIENT_DATA (fewer than three distinct products), DEGENERATE_CLUSTERING, INVALID_HANDLE, CURSOR_INVALID."),
		mcp.WithInputSchema[SegmentProductsInput](),
		mcp.WithOutputSchema[SegmentProductsOutput](),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	s.AddTool(segment, mcp.NewTypedToolHandler(t.SegmentProducts))
	reg.Register(segment)

	periods := mcp.NewTool(
		"period_summary",
		mcp.WithDescription("Combine monthly sales files named bulan_<month>_<year> into per-period quantity totals ordered chronologically, naming the best month. Files with missing columns, an empty quantity column or no period in the name are skipped with per-file diagnostics. When no file is usable the result carries empty_reason NO_VALID_FILES. Returns a dataset handle for top_products."),
		mcp.WithInputSchema[PeriodSummaryInput](),
		mcp.WithOutputSchema[PeriodSummaryOutput](),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	s.AddTool(periods, mcp.NewTypedToolHandler(t.PeriodSummary))
	reg.Register(periods)

	top := mcp.NewTool(
		"top_products",
		mcp.WithDescription("Rank products of one month of a period_summary dataset by quantity sold. Returns the top N (default 5) with their share of the month's total, a short explanatory note per product, the remaining products and a concentration band. When the month has no records the result carries empty_reason EMPTY_PERIOD and the available periods."),
		mcp.WithInputSchema[TopProductsInput](),
		mcp.WithOutputSchema[TopProductsOutput](),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	s.AddTool(top, mcp.NewTypedToolHandler(t.TopProducts))
	reg.Register(top)

	exp := mcp.NewTool(
		"export_segments",
		mcp.WithDescription("Write the categorized rows of a load_sales dataset, after optional filters, to an allowed .csv, .xlsx or .json path. Errors: PERMISSION_DENIED, EXPORT_FAILED, INVALID_HANDLE."),
		mcp.WithInputSchema[ExportSegmentsInput](),
		mcp.WithOutputSchema[ExportSegmentsOutput](),
		mcp.WithDestructiveHintAnnotation(true),
	)
	s.AddTool(exp, mcp.NewTypedToolHandler(t.ExportSegments))
	reg.Register(exp)

	closeTool := mcp.NewTool(
		"close_dataset",
		mcp.WithDescription("Close a dataset handle and free its capacity"),
		mcp.WithInputSchema[CloseDatasetInput](),
		mcp.WithOutputSchema[CloseDatasetOutput](),
	)
	s.AddTool(closeTool, mcp.NewTypedToolHandler(t.CloseDataset))
	reg.Register(closeTool)
}
