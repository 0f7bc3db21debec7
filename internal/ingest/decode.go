package ingest

import (
	"math"
	"strconv"
	"strings"

	"github.com/vinodismyname/mcpsales/internal/sales"
)

// ColumnMap names the source columns carrying each record field.
type ColumnMap struct {
	Product  string `json:"product" yaml:"product" toml:"product"`
	Buyers   string `json:"buyers" yaml:"buyers" toml:"buyers"`
	Quantity string `json:"quantity" yaml:"quantity" toml:"quantity"`
	Revenue  string `json:"revenue" yaml:"revenue" toml:"revenue"`
}

// IndonesianColumns matches the marketplace seller-center export headers.
var IndonesianColumns = ColumnMap{
	Product:  "Produk",
	Buyers:   "Total Pembeli (Pesanan Dibuat)",
	Quantity: "Produk (Pesanan Dibuat)",
	Revenue:  "Total Penjualan (Pesanan Dibuat) (IDR)",
}

// EnglishColumns is a plain-named schema for hand-built sheets.
var EnglishColumns = ColumnMap{
	Product:  "product",
	Buyers:   "buyers",
	Quantity: "quantity",
	Revenue:  "revenue",
}

// ColumnPreset resolves a named column preset ("id" or "en").
func ColumnPreset(name string) (ColumnMap, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "id", "indonesian":
		return IndonesianColumns, true
	case "en", "english":
		return EnglishColumns, true
	}
	return ColumnMap{}, false
}

// SegmentSchema is the schema for the single-dataset clustering pipeline.
func (c ColumnMap) SegmentSchema() Schema {
	return Schema{
		Required:  []string{c.Buyers, c.Quantity, c.Product, c.Revenue},
		KeyColumn: c.Quantity,
	}
}

// PeriodSchema is the schema for the multi-file period pipeline.
func (c ColumnMap) PeriodSchema() Schema {
	return Schema{
		Required:  []string{c.Quantity, c.Product},
		KeyColumn: c.Quantity,
	}
}

// Mode selects how numeric cells are decoded.
type Mode int

const (
	// Strict rejects unparseable, fractional, negative or out-of-range numeric cells.
	Strict Mode = iota
	// Lenient coerces unparseable or missing numeric cells to zero.
	Lenient
)

// Decode converts a validated table into a Dataset. Optional columns absent from the
// header decode as zero in Lenient mode.
func Decode(t Table, cols ColumnMap, mode Mode) (sales.Dataset, error) {
	ds := sales.Dataset{Source: t.Name, Columns: append([]string(nil), t.Header...)}
	pi, bi, qi, ri := t.Index(cols.Product), t.Index(cols.Buyers), t.Index(cols.Quantity), t.Index(cols.Revenue)

	ds.Records = make([]sales.Record, 0, len(t.Rows))
	for row := range t.Rows {
		rec := sales.Record{Product: t.Cell(row, pi)}
		var err error
		if rec.Buyers, err = decodeInt(t, row, bi, cols.Buyers, mode); err != nil {
			return sales.Dataset{}, err
		}
		if rec.Quantity, err = decodeInt(t, row, qi, cols.Quantity, mode); err != nil {
			return sales.Dataset{}, err
		}
		if rec.Revenue, err = decodeFloat(t, row, ri, cols.Revenue, mode); err != nil {
			return sales.Dataset{}, err
		}
		ds.Records = append(ds.Records, rec)
	}
	return ds, nil
}

// maxCount bounds buyer and quantity cells so per-period sums stay within int.
const maxCount = math.MaxInt32

func decodeInt(t Table, row, col int, name string, mode Mode) (int, error) {
	s := t.Cell(row, col)
	f, ok := parseNumber(s)
	if mode == Lenient {
		if !ok || f < 0 || f > maxCount {
			return 0, nil
		}
		return int(f), nil
	}
	if col < 0 || !ok || f < 0 || f > maxCount || f != math.Trunc(f) {
		return 0, &sales.ValueError{Row: row + 1, Column: name, Value: s}
	}
	return int(f), nil
}

func decodeFloat(t Table, row, col int, name string, mode Mode) (float64, error) {
	s := t.Cell(row, col)
	f, ok := parseNumber(s)
	if mode == Lenient {
		if !ok || f < 0 {
			return 0, nil
		}
		return f, nil
	}
	if col < 0 || !ok || f < 0 {
		return 0, &sales.ValueError{Row: row + 1, Column: name, Value: s}
	}
	return f, nil
}

// parseNumber accepts plain numbers plus currency prefixes and thousands separators.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if isMissing(s) {
		return 0, false
	}
	for _, p := range []string{"Rp", "IDR", "$"} {
		s = strings.TrimSpace(strings.TrimPrefix(s, p))
	}
	// 1.234.567 style grouping
	if strings.Count(s, ".") > 1 {
		s = strings.ReplaceAll(s, ".", "")
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ',', ' ', '_':
			return -1
		}
		return r
	}, s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
