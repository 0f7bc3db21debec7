// Package export serializes analysis results to CSV, XLSX and JSON.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vinodismyname/mcpsales/internal/insights"
	"github.com/vinodismyname/mcpsales/internal/sales"
	"github.com/xuri/excelize/v2"
)

// SegmentColumns is the header of the augmented row table.
var SegmentColumns = []string{
	"product", "buyers", "quantity", "revenue", "revenue_millions",
	"year", "month", "cluster", "category", "category_label", "recommendation",
}

func segmentRow(r insights.SegmentedRecord) []string {
	year, month := "", ""
	if r.Period != nil {
		year, month = strconv.Itoa(r.Period.Year), strconv.Itoa(r.Period.Month)
	}
	return []string{
		r.Product,
		strconv.Itoa(r.Buyers),
		strconv.Itoa(r.Quantity),
		strconv.FormatFloat(r.Revenue, 'f', -1, 64),
		strconv.FormatFloat(r.RevenueMillions(), 'f', -1, 64),
		year,
		month,
		strconv.Itoa(r.Cluster),
		r.Category.String(),
		r.Category.Label(),
		r.Recommendation,
	}
}

// WriteSegmentsCSV writes rows with SegmentColumns as header.
func WriteSegmentsCSV(w io.Writer, rows []insights.SegmentedRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(SegmentColumns); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(segmentRow(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadSegmentsCSV parses output of WriteSegmentsCSV. revenue_millions is recomputed from
// revenue; category_label must agree with category.
func ReadSegmentsCSV(r io.Reader) ([]insights.SegmentedRecord, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("export: read header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	for _, want := range SegmentColumns {
		if _, ok := col[want]; !ok {
			return nil, &sales.MissingColumnsError{Missing: []string{want}}
		}
	}

	var out []insights.SegmentedRecord
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("export: row %d: %w", line, err)
		}
		get := func(name string) string { return rec[col[name]] }
		var s insights.SegmentedRecord
		s.Product = get("product")
		if s.Buyers, err = strconv.Atoi(get("buyers")); err != nil {
			return nil, &sales.ValueError{Row: line, Column: "buyers", Value: get("buyers")}
		}
		if s.Quantity, err = strconv.Atoi(get("quantity")); err != nil {
			return nil, &sales.ValueError{Row: line, Column: "quantity", Value: get("quantity")}
		}
		if s.Revenue, err = strconv.ParseFloat(get("revenue"), 64); err != nil {
			return nil, &sales.ValueError{Row: line, Column: "revenue", Value: get("revenue")}
		}
		if y, m := get("year"), get("month"); y != "" || m != "" {
			var p sales.PeriodKey
			if p.Year, err = strconv.Atoi(y); err != nil {
				return nil, &sales.ValueError{Row: line, Column: "year", Value: y}
			}
			if p.Month, err = strconv.Atoi(m); err != nil {
				return nil, &sales.ValueError{Row: line, Column: "month", Value: m}
			}
			s.Period = &p
		}
		if s.Cluster, err = strconv.Atoi(get("cluster")); err != nil {
			return nil, &sales.ValueError{Row: line, Column: "cluster", Value: get("cluster")}
		}
		if s.Category, err = sales.ParseCategory(get("category")); err != nil {
			return nil, &sales.ValueError{Row: line, Column: "category", Value: get("category")}
		}
		if lbl := get("category_label"); lbl != s.Category.Label() {
			return nil, &sales.ValueError{Row: line, Column: "category_label", Value: lbl}
		}
		s.Recommendation = get("recommendation")
		out = append(out, s)
	}
	return out, nil
}

// WriteSegmentsXLSX writes rows to a single-sheet workbook named "Segments".
func WriteSegmentsXLSX(w io.Writer, rows []insights.SegmentedRecord) error {
	f := excelize.NewFile()
	defer f.Close()
	const sheet = "Segments"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}
	header := make([]interface{}, len(SegmentColumns))
	for i, h := range SegmentColumns {
		header[i] = h
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}
	for i, r := range rows {
		var year, month interface{} = "", ""
		if r.Period != nil {
			year, month = r.Period.Year, r.Period.Month
		}
		cells := []interface{}{
			r.Product, r.Buyers, r.Quantity, r.Revenue, r.RevenueMillions(),
			year, month, r.Cluster, r.Category.String(), r.Category.Label(), r.Recommendation,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, cells); err != nil {
			return err
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	return f.Write(w)
}

// WritePeriodSummaryCSV writes the per-period totals table.
func WritePeriodSummaryCSV(w io.Writer, summary []insights.PeriodTotal) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"year", "month", "month_name", "quantity"}); err != nil {
		return err
	}
	for _, t := range summary {
		if err := cw.Write([]string{strconv.Itoa(t.Year), strconv.Itoa(t.Month), t.MonthName, strconv.Itoa(t.Quantity)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteRankingCSV writes the top set in display order followed by the remainder.
func WriteRankingCSV(w io.Writer, r insights.ProductRanking) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"rank", "product", "quantity", "share", "note", "top"}); err != nil {
		return err
	}
	write := func(ps []insights.ProductShare, top bool) error {
		for _, p := range ps {
			rec := []string{
				strconv.Itoa(p.Rank), p.Product, strconv.Itoa(p.Quantity),
				strconv.FormatFloat(p.Share, 'f', 1, 64), p.Note, strconv.FormatBool(top),
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		return nil
	}
	if err := write(r.Top, true); err != nil {
		return err
	}
	if err := write(r.Remainder, false); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ErrUnsupportedFormat reports an output extension other than .csv, .xlsx or .json.
var ErrUnsupportedFormat = errors.New("export: unsupported output format")

// Format returns the output format implied by path's extension.
func Format(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv", ".xlsx", ".json":
		return ext[1:], nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// WriteSegmentsFile writes rows to path in the format named by its extension.
func WriteSegmentsFile(path string, rows []insights.SegmentedRecord) (err error) {
	format, err := Format(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	switch format {
	case "csv":
		return WriteSegmentsCSV(f, rows)
	case "xlsx":
		return WriteSegmentsXLSX(f, rows)
	default:
		return WriteJSON(f, rows)
	}
}
