package insights

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"github.com/rs/zerolog"
	"github.com/vinodismyname/mcpsales/internal/ingest"
	"github.com/vinodismyname/mcpsales/internal/sales"
	"github.com/vinodismyname/mcpsales/pkg/mcperr"
	"golang.org/x/sync/errgroup"
)

// SourceFile is one already-read input table and the identifier its period is parsed from.
// Err carries a read failure from the caller; such files are skipped with a diagnostic.
type SourceFile struct {
	ID    string
	Table ingest.Table
	Err   error
}

// Diagnostic records why a file was excluded from aggregation.
type Diagnostic struct {
	File    string      `json:"file"`
	Code    mcperr.Code `json:"code"`
	Message string      `json:"message"`
}

// AggregateOptions configures Aggregate. Zero Columns means IndonesianColumns and a
// zero Schema means Columns.PeriodSchema().
type AggregateOptions struct {
	Columns ingest.ColumnMap
	Schema  ingest.Schema
	Workers int

	// Optional callbacks, invoked in file arrival order after all files are processed.
	// telemetry.Hooks.Ingestion fills them with structured logging.
	OnSkip   func(Diagnostic)
	OnAccept func(file string, period sales.PeriodKey, rows int)
}

// PeriodTotal is the summed quantity for one period.
type PeriodTotal struct {
	Year      int    `json:"year"`
	Month     int    `json:"month"`
	MonthName string `json:"month_name"`
	Quantity  int    `json:"quantity"`
}

// Key returns the period of t.
func (t PeriodTotal) Key() sales.PeriodKey { return sales.PeriodKey{Year: t.Year, Month: t.Month} }

// Aggregation is the combined multi-file result.
type Aggregation struct {
	Records     []sales.Record `json:"-"`
	Summary     []PeriodTotal  `json:"summary"`
	Best        *PeriodTotal   `json:"best,omitempty"`
	Advice      string         `json:"advice,omitempty"`
	Accepted    []string       `json:"accepted"`
	Diagnostics []Diagnostic   `json:"diagnostics"`
}

// Headline announces the best period, e.g. "Best month: March 2024 with 120 units sold".
func (a Aggregation) Headline() string {
	if a.Best == nil {
		return "No valid sales files"
	}
	return fmt.Sprintf("Best month: %s %d with %d units sold", a.Best.MonthName, a.Best.Year, a.Best.Quantity)
}

// Periods lists the distinct periods present, oldest first.
func (a Aggregation) Periods() []sales.PeriodKey { return Periods(a.Records) }

type fileResult struct {
	ds     sales.Dataset
	period sales.PeriodKey
	diag   *Diagnostic
}

// Aggregate validates each file, tags its records with the file's period, and totals
// quantity per period. Files failing validation or period extraction are skipped with a
// diagnostic. Records keep file arrival order then row order. When no file survives, the
// returned Aggregation still carries the diagnostics alongside ErrNoValidFiles.
func Aggregate(ctx context.Context, files []SourceFile, opts AggregateOptions) (Aggregation, error) {
	cols := opts.Columns
	if cols == (ingest.ColumnMap{}) {
		cols = ingest.IndonesianColumns
	}
	schema := opts.Schema
	if len(schema.Required) == 0 && schema.KeyColumn == "" {
		schema = cols.PeriodSchema()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]fileResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = processFile(f, cols, schema)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Aggregation{}, err
	}

	log := zerolog.Ctx(ctx)
	var agg Aggregation
	totals := map[sales.PeriodKey]int{}
	for i, r := range results {
		if r.diag != nil {
			agg.Diagnostics = append(agg.Diagnostics, *r.diag)
			if opts.OnSkip != nil {
				opts.OnSkip(*r.diag)
			}
			continue
		}
		id := files[i].ID
		agg.Accepted = append(agg.Accepted, id)
		if opts.OnAccept != nil {
			opts.OnAccept(id, r.period, r.ds.Len())
		}
		for _, rec := range r.ds.Records {
			agg.Records = append(agg.Records, rec)
			totals[r.period] += rec.Quantity
		}
		if _, ok := totals[r.period]; !ok {
			totals[r.period] = 0
		}
	}
	log.Debug().Int("accepted", len(agg.Accepted)).Int("skipped", len(agg.Diagnostics)).Msg("aggregated period files")
	if len(agg.Accepted) == 0 {
		return agg, fmt.Errorf("%w: %d of %d files skipped", sales.ErrNoValidFiles, len(agg.Diagnostics), len(files))
	}

	for k, q := range totals {
		agg.Summary = append(agg.Summary, PeriodTotal{Year: k.Year, Month: k.Month, MonthName: k.MonthName(), Quantity: q})
	}
	sort.Slice(agg.Summary, func(i, j int) bool { return agg.Summary[i].Key().Less(agg.Summary[j].Key()) })

	// Summary is chronological, so the first maximum is the earliest.
	best := 0
	for i, t := range agg.Summary {
		if t.Quantity > agg.Summary[best].Quantity {
			best = i
		}
	}
	b := agg.Summary[best]
	agg.Best = &b
	agg.Advice = fmt.Sprintf("Increase stock and promotion ahead of %s every year", b.MonthName)
	return agg, nil
}

func processFile(f SourceFile, cols ingest.ColumnMap, schema ingest.Schema) fileResult {
	skip := func(err error) fileResult {
		return fileResult{diag: &Diagnostic{File: f.ID, Code: mcperr.CodeOf(err), Message: err.Error()}}
	}
	if f.Err != nil {
		return skip(f.Err)
	}
	if err := ingest.Validate(f.Table, schema); err != nil {
		return skip(err)
	}
	period, err := ingest.ExtractPeriod(f.ID)
	if err != nil {
		return skip(err)
	}
	ds, err := ingest.Decode(f.Table, cols, ingest.Lenient)
	if err != nil {
		return skip(err)
	}
	for i := range ds.Records {
		p := period
		ds.Records[i].Period = &p
	}
	return fileResult{ds: ds, period: period}
}

// Periods lists the distinct periods carried by records, oldest first.
func Periods(records []sales.Record) []sales.PeriodKey {
	seen := map[sales.PeriodKey]struct{}{}
	var out []sales.PeriodKey
	for _, r := range records {
		if r.Period == nil {
			continue
		}
		if _, ok := seen[*r.Period]; ok {
			continue
		}
		seen[*r.Period] = struct{}{}
		out = append(out, *r.Period)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// InPeriod returns the records tagged with key, in order.
func InPeriod(records []sales.Record, key sales.PeriodKey) []sales.Record {
	var out []sales.Record
	for _, r := range records {
		if r.Period != nil && *r.Period == key {
			out = append(out, r)
		}
	}
	return out
}
