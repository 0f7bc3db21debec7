package sales

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingColumns indicates one or more required columns are absent.
	ErrMissingColumns = errors.New("sales: missing required columns")
	// ErrEmptyData indicates the key numeric column holds no values.
	ErrEmptyData = errors.New("sales: no data in key column")
	// ErrUnrecognizedPeriod indicates a file identifier without a bulan_<m>_<yyyy> period.
	ErrUnrecognizedPeriod = errors.New("sales: unrecognized period in file identifier")
	// ErrInsufficientData indicates fewer distinct points than clusters.
	ErrInsufficientData = errors.New("sales: insufficient data for clustering")
	// ErrDegenerateClustering indicates fewer than three non-empty clusters.
	ErrDegenerateClustering = errors.New("sales: degenerate clustering")
	// ErrNoValidFiles indicates every input file failed validation or period extraction.
	ErrNoValidFiles = errors.New("sales: no valid files")
	// ErrEmptyPeriod indicates no records exist for the requested period.
	ErrEmptyPeriod = errors.New("sales: no records for period")
	// ErrInvalidValue indicates a numeric cell that is negative or unparseable in strict decoding.
	ErrInvalidValue = errors.New("sales: invalid value")
)

// MissingColumnsError names the required columns absent from a dataset.
type MissingColumnsError struct {
	Missing []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingColumns.Error(), strings.Join(e.Missing, ", "))
}

func (e *MissingColumnsError) Unwrap() error { return ErrMissingColumns }

// ValueError locates an invalid cell.
type ValueError struct {
	Row    int // 1-based data row, header excluded
	Column string
	Value  string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("%s: row %d column %q value %q", ErrInvalidValue.Error(), e.Row, e.Column, e.Value)
}

func (e *ValueError) Unwrap() error { return ErrInvalidValue }
