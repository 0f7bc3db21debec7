package datasets

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/vinodismyname/mcpsales/internal/ingest"
	"github.com/vinodismyname/mcpsales/internal/insights"
	"github.com/vinodismyname/mcpsales/internal/sales"
)

// PathValidator abstracts filesystem path validation. Implementations should
// return a canonical absolute path if allowed, or an error when denied.
type PathValidator interface {
	ValidateOpenPath(path string) (string, error)
}

// LoadOptions controls file reading and decoding. Zero Columns means IndonesianColumns.
type LoadOptions struct {
	Columns   ingest.ColumnMap
	Encoding  ingest.Encoding
	MaxRows   int
	Validator PathValidator
}

func (o LoadOptions) columns() ingest.ColumnMap {
	if o.Columns == (ingest.ColumnMap{}) {
		return ingest.IndonesianColumns
	}
	return o.Columns
}

func (o LoadOptions) resolve(path string) (string, error) {
	if o.Validator == nil {
		return path, nil
	}
	return o.Validator.ValidateOpenPath(path)
}

// LoadSales reads one file for the clustering pipeline: schema check, then strict decoding.
// It returns the canonical path alongside the dataset.
func LoadSales(path string, opts LoadOptions) (sales.Dataset, string, error) {
	canonical, err := opts.resolve(path)
	if err != nil {
		return sales.Dataset{}, "", err
	}
	t, err := ingest.ReadFile(canonical, opts.Encoding)
	if err != nil {
		return sales.Dataset{}, canonical, err
	}
	if err := t.CheckRows(opts.MaxRows); err != nil {
		return sales.Dataset{}, canonical, err
	}
	cols := opts.columns()
	if err := ingest.Validate(t, cols.SegmentSchema()); err != nil {
		return sales.Dataset{}, canonical, err
	}
	ds, err := ingest.Decode(t, cols, ingest.Strict)
	if err != nil {
		return sales.Dataset{}, canonical, fmt.Errorf("datasets: %s: %w", t.Name, err)
	}
	return ds, canonical, nil
}

// ReadSources reads period files in order. A file that cannot be resolved or read is
// returned with Err set so aggregation reports it in place.
func ReadSources(ctx context.Context, paths []string, opts LoadOptions) ([]insights.SourceFile, error) {
	out := make([]insights.SourceFile, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src := insights.SourceFile{ID: filepath.Base(p)}
		canonical, err := opts.resolve(p)
		if err == nil {
			src.Table, err = ingest.ReadFile(canonical, opts.Encoding)
		}
		if err == nil {
			err = src.Table.CheckRows(opts.MaxRows)
		}
		src.Err = err
		out = append(out, src)
	}
	return out, nil
}

// AggregateFiles reads and aggregates period files.
func AggregateFiles(ctx context.Context, paths []string, opts LoadOptions, agg insights.AggregateOptions) (insights.Aggregation, error) {
	files, err := ReadSources(ctx, paths, opts)
	if err != nil {
		return insights.Aggregation{}, err
	}
	agg.Columns = opts.columns()
	return insights.Aggregate(ctx, files, agg)
}
