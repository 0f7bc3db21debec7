package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

var (
	// ErrUnsupportedFormat indicates a file extension other than .csv/.xlsx/.xlsm.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrTooManyRows indicates a table above the configured row limit.
	ErrTooManyRows = errors.New("too many rows")
)

// Table is a raw tabular dataset: a header row plus string cells, as uploaded.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

// Encoding selects how CSV bytes are decoded.
type Encoding string

const (
	// EncodingAuto uses UTF-8 when the payload is valid UTF-8, otherwise ISO-8859-1.
	EncodingAuto   Encoding = "auto"
	EncodingUTF8   Encoding = "utf-8"
	EncodingLatin1 Encoding = "iso-8859-1"
)

// ParseEncoding maps a configured encoding name to an Encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return EncodingAuto, nil
	case "utf-8", "utf8":
		return EncodingUTF8, nil
	case "iso-8859-1", "latin1", "latin-1":
		return EncodingLatin1, nil
	}
	return "", fmt.Errorf("ingest: unsupported encoding %q", s)
}

// Index returns the position of the named column, or -1.
func (t Table) Index(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// CheckRows returns ErrTooManyRows when t has more than max data rows. max <= 0 disables the check.
func (t Table) CheckRows(max int) error {
	if max > 0 && len(t.Rows) > max {
		return fmt.Errorf("ingest: %s has %d rows, limit %d: %w", t.Name, len(t.Rows), max, ErrTooManyRows)
	}
	return nil
}

// Cell returns the trimmed cell at (row, col) or "" when the row is short.
func (t Table) Cell(row, col int) string {
	if col < 0 || row < 0 || row >= len(t.Rows) || col >= len(t.Rows[row]) {
		return ""
	}
	return strings.TrimSpace(t.Rows[row][col])
}

// ReadCSV parses a delimited upload. The first record is the header.
func ReadCSV(name string, r io.Reader, enc Encoding) (Table, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Table{}, fmt.Errorf("ingest: read %s: %w", name, err)
	}
	if enc == "" {
		enc = EncodingAuto
	}
	if enc == EncodingLatin1 || (enc == EncodingAuto && !utf8.Valid(raw)) {
		raw, err = charmap.ISO8859_1.NewDecoder().Bytes(raw)
		if err != nil {
			return Table{}, fmt.Errorf("ingest: decode %s: %w", name, err)
		}
	}
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))

	cr := csv.NewReader(bytes.NewReader(raw))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	records, err := cr.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("ingest: parse %s: %w", name, err)
	}
	return fromRecords(name, records), nil
}

// ReadXLSX reads the given sheet (first sheet when empty) of a workbook.
func ReadXLSX(name string, r io.Reader, sheet string) (Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Table{}, fmt.Errorf("ingest: open %s: %w", name, err)
	}
	defer f.Close()

	if strings.TrimSpace(sheet) == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.Rows(sheet)
	if err != nil {
		return Table{}, fmt.Errorf("ingest: sheet %q in %s: %w", sheet, name, err)
	}
	defer rows.Close()

	var records [][]string
	for rows.Next() {
		vals, cerr := rows.Columns()
		if cerr != nil {
			return Table{}, cerr
		}
		records = append(records, vals)
	}
	if err := rows.Error(); err != nil {
		return Table{}, err
	}
	return fromRecords(name, records), nil
}

// ReadFile loads a .csv or .xlsx file from disk.
func ReadFile(path string, enc Encoding) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, fmt.Errorf("ingest: %w", err)
	}
	defer f.Close()

	name := filepath.Base(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadCSV(name, f, enc)
	case ".xlsx", ".xlsm":
		return ReadXLSX(name, f, "")
	}
	return Table{}, fmt.Errorf("ingest: %w: %s", ErrUnsupportedFormat, filepath.Ext(path))
}

func fromRecords(name string, records [][]string) Table {
	t := Table{Name: name}
	if len(records) == 0 {
		return t
	}
	t.Header = make([]string, len(records[0]))
	for i, h := range records[0] {
		t.Header[i] = strings.TrimSpace(h)
	}
	for _, rec := range records[1:] {
		rec = trimTrailingEmpties(rec)
		if len(rec) == 0 {
			continue
		}
		t.Rows = append(t.Rows, rec)
	}
	return t
}

func trimTrailingEmpties(xs []string) []string {
	i := len(xs)
	for i > 0 {
		if strings.TrimSpace(xs[i-1]) != "" {
			break
		}
		i--
	}
	return xs[:i]
}
