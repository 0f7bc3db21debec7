package mcperr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/vinodismyname/mcpsales/internal/ingest"
	"github.com/vinodismyname/mcpsales/internal/sales"
	"github.com/vinodismyname/mcpsales/internal/security"
)

// Code defines a canonical MCP error code used across tools.
type Code string

const (
	// Validation & Input
	Validation    Code = "VALIDATION"
	InvalidHandle Code = "INVALID_HANDLE"
	InvalidSheet  Code = "INVALID_SHEET"
	CursorInvalid Code = "CURSOR_INVALID"

	// Resource & Limits
	BusyResource  Code = "BUSY_RESOURCE"
	Timeout       Code = "TIMEOUT"
	LimitExceeded Code = "LIMIT_EXCEEDED"

	// IO & Formats
	OpenFailed        Code = "OPEN_FAILED"
	ExportFailed      Code = "EXPORT_FAILED"
	UnsupportedFormat Code = "UNSUPPORTED_FORMAT"
	PermissionDenied  Code = "PERMISSION_DENIED"

	// Dataset & Analysis
	MissingColumns       Code = "MISSING_COLUMNS"
	EmptyData            Code = "EMPTY_DATA"
	InvalidValue         Code = "INVALID_VALUE"
	UnrecognizedPeriod   Code = "UNRECOGNIZED_PERIOD"
	InsufficientData     Code = "INSUFFICIENT_DATA"
	DegenerateClustering Code = "DEGENERATE_CLUSTERING"
	NoValidFiles         Code = "NO_VALID_FILES"
	EmptyPeriod          Code = "EMPTY_PERIOD"
	AnalysisFailed       Code = "ANALYSIS_FAILED"
)

// Entry documents a code's standard message, retry semantics, and next steps.
type Entry struct {
	Code      Code
	Message   string
	Retryable bool
	NextSteps []string
}

// catalog maps canonical codes to guidance. Messages can be overridden per error.
var catalog = map[Code]Entry{
	Validation:    {Code: Validation, Message: "invalid inputs", Retryable: true, NextSteps: []string{"Correct the inputs per schema and retry", "See examples in tool description"}},
	InvalidHandle: {Code: InvalidHandle, Message: "dataset handle not found or expired", Retryable: true, NextSteps: []string{"Reload the file via load_sales or period_summary and retry"}},
	InvalidSheet:  {Code: InvalidSheet, Message: "sheet not found", Retryable: true, NextSteps: []string{"Omit sheet to read the first sheet", "Check case and spacing"}},
	CursorInvalid: {Code: CursorInvalid, Message: "cursor is invalid for current context", Retryable: true, NextSteps: []string{"Restart pagination from the first page", "Keep filter parameters unchanged between pages"}},

	BusyResource:  {Code: BusyResource, Message: "concurrent request limit reached", Retryable: true, NextSteps: []string{"Retry after a short delay"}},
	Timeout:       {Code: Timeout, Message: "operation exceeded configured time limit", Retryable: true, NextSteps: []string{"Reduce the number of files or rows", "Increase MCPSALES_OPERATION_TIMEOUT"}},
	LimitExceeded: {Code: LimitExceeded, Message: "operation exceeded configured limits", Retryable: true, NextSteps: []string{"Split the input or lower page size"}},

	OpenFailed:        {Code: OpenFailed, Message: "failed to open sales file", Retryable: true, NextSteps: []string{"Verify path, permissions, and format"}},
	ExportFailed:      {Code: ExportFailed, Message: "failed to export results", Retryable: true, NextSteps: []string{"Verify the output directory is allowed and writable"}},
	UnsupportedFormat: {Code: UnsupportedFormat, Message: "unsupported file format", Retryable: false, NextSteps: []string{"Provide a .csv or .xlsx file"}},
	PermissionDenied:  {Code: PermissionDenied, Message: "insufficient permissions to access path", Retryable: false, NextSteps: []string{"Adjust permissions or choose an allowed directory"}},

	MissingColumns:       {Code: MissingColumns, Message: "required columns are missing", Retryable: false, NextSteps: []string{"Check the column preset (id or en) matches the file headers"}},
	EmptyData:            {Code: EmptyData, Message: "key column holds no values", Retryable: false, NextSteps: []string{"Verify the export contains sales rows"}},
	InvalidValue:         {Code: InvalidValue, Message: "numeric cell is negative or unparseable", Retryable: false, NextSteps: []string{"Fix the reported row and column in the source file"}},
	UnrecognizedPeriod:   {Code: UnrecognizedPeriod, Message: "file name carries no bulan_<month>_<year> period", Retryable: false, NextSteps: []string{"Rename the file, e.g. bulan_3_2024.csv"}},
	InsufficientData:     {Code: InsufficientData, Message: "fewer than three distinct products to cluster", Retryable: false, NextSteps: []string{"Provide a larger dataset"}},
	DegenerateClustering: {Code: DegenerateClustering, Message: "clustering produced fewer than three non-empty clusters", Retryable: false, NextSteps: []string{"Provide more varied buyer and quantity values"}},
	NoValidFiles:         {Code: NoValidFiles, Message: "no input file passed validation", Retryable: false, NextSteps: []string{"Inspect per-file diagnostics and fix names or columns"}},
	EmptyPeriod:          {Code: EmptyPeriod, Message: "no records for the requested period", Retryable: true, NextSteps: []string{"Pick a period listed in period_summary"}},
	AnalysisFailed:       {Code: AnalysisFailed, Message: "analysis failed", Retryable: true, NextSteps: []string{"Retry or reload the dataset"}},
}

// Lookup returns the catalog entry for code.
func Lookup(code Code) (Entry, bool) {
	e, ok := catalog[code]
	return e, ok
}

// CodeOf classifies a core error into a catalog code. Unknown errors map to AnalysisFailed.
func CodeOf(err error) Code {
	var missing *sales.MissingColumnsError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &missing), errors.Is(err, sales.ErrMissingColumns):
		return MissingColumns
	case errors.Is(err, sales.ErrEmptyData):
		return EmptyData
	case errors.Is(err, sales.ErrInvalidValue):
		return InvalidValue
	case errors.Is(err, sales.ErrUnrecognizedPeriod):
		return UnrecognizedPeriod
	case errors.Is(err, sales.ErrInsufficientData):
		return InsufficientData
	case errors.Is(err, sales.ErrDegenerateClustering):
		return DegenerateClustering
	case errors.Is(err, sales.ErrNoValidFiles):
		return NoValidFiles
	case errors.Is(err, sales.ErrEmptyPeriod):
		return EmptyPeriod
	case errors.Is(err, ingest.ErrTooManyRows):
		return LimitExceeded
	case errors.Is(err, security.ErrNotAllowed):
		return PermissionDenied
	case errors.Is(err, security.ErrUnsupportedExtension), errors.Is(err, ingest.ErrUnsupportedFormat):
		return UnsupportedFormat
	case errors.Is(err, security.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return OpenFailed
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	}
	return AnalysisFailed
}

// normalize builds a standard error string including next steps for MCP clients that
// surface only a message string. Format: "CODE: message" followed by a guidance tail.
func normalize(code Code, msg string) string {
	base := strings.TrimSpace(msg)
	e, ok := catalog[code]
	if !ok {
		if base == "" {
			return string(code)
		}
		return fmt.Sprintf("%s: %s", string(code), base)
	}
	if base == "" {
		base = e.Message
	}
	guidance := ""
	if len(e.NextSteps) > 0 {
		guidance = " | nextSteps: " + strings.Join(e.NextSteps, "; ")
	}
	return fmt.Sprintf("%s: %s%s", e.Code, base, guidance)
}

// FromText parses a "CODE: message" string, enriches it with catalog guidance,
// and returns an MCP tool error result.
func FromText(text string) *mcp.CallToolResult {
	t := strings.TrimSpace(text)
	if t == "" {
		return mcp.NewToolResultError(normalize(Validation, ""))
	}
	parts := strings.SplitN(t, ":", 2)
	code := Code(strings.TrimSpace(parts[0]))
	msg := ""
	if len(parts) > 1 {
		msg = strings.TrimSpace(parts[1])
	}
	return mcp.NewToolResultError(normalize(code, msg))
}

// New returns an MCP error result for a given code and optional message override.
func New(code Code, message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(normalize(code, message))
}

// Wrapf formats details and returns an MCP error result for the code.
func Wrapf(code Code, format string, args ...any) *mcp.CallToolResult {
	return mcp.NewToolResultError(normalize(code, fmt.Sprintf(format, args...)))
}

// FromError classifies err with CodeOf and returns the matching MCP error result.
func FromError(err error) *mcp.CallToolResult {
	return New(CodeOf(err), err.Error())
}

// IsInvalidSheet returns true if an error matches common excelize "sheet does not exist" messages.
func IsInvalidSheet(err error) bool {
	if err == nil {
		return false
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "doesn't exist") || strings.Contains(low, "does not exist")
}
