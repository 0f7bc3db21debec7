package mcperr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"
	"github.com/vinodismyname/mcpsales/internal/ingest"
	"github.com/vinodismyname/mcpsales/internal/sales"
	"github.com/vinodismyname/mcpsales/internal/security"
)

func TestCodeOf(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{&sales.MissingColumnsError{Missing: []string{"revenue"}}, MissingColumns},
		{fmt.Errorf("file a.csv: %w", sales.ErrEmptyData), EmptyData},
		{fmt.Errorf("x: %w", sales.ErrUnrecognizedPeriod), UnrecognizedPeriod},
		{sales.ErrInsufficientData, InsufficientData},
		{sales.ErrDegenerateClustering, DegenerateClustering},
		{sales.ErrNoValidFiles, NoValidFiles},
		{sales.ErrEmptyPeriod, EmptyPeriod},
		{&sales.ValueError{Row: 2, Column: "buyers", Value: "-1"}, InvalidValue},
		{context.DeadlineExceeded, Timeout},
		{fmt.Errorf("ingest: %w: .ods", ingest.ErrUnsupportedFormat), UnsupportedFormat},
		{fmt.Errorf("ingest: %w", ingest.ErrTooManyRows), LimitExceeded},
		{security.ErrNotAllowed, PermissionDenied},
		{security.ErrUnsupportedExtension, UnsupportedFormat},
		{fmt.Errorf("ingest: %w", fs.ErrNotExist), OpenFailed},
		{errors.New("boom"), AnalysisFailed},
	}
	for _, c := range cases {
		require.Equal(t, c.want, CodeOf(c.err), c.err.Error())
	}
	require.Equal(t, Code(""), CodeOf(nil))
}

func TestNew_AppendsGuidance(t *testing.T) {
	res := New(UnrecognizedPeriod, "")
	require.True(t, res.IsError)
	txt := res.Content[0].(mcp.TextContent).Text
	require.Contains(t, txt, "UNRECOGNIZED_PERIOD: file name carries no bulan_<month>_<year> period")
	require.Contains(t, txt, "nextSteps:")
}

func TestFromText_UnknownCodeKept(t *testing.T) {
	res := FromText("WHATEVER: details")
	txt := res.Content[0].(mcp.TextContent).Text
	require.Equal(t, "WHATEVER: details", txt)
}

func TestCatalogCoversCoreCodes(t *testing.T) {
	for _, c := range []Code{MissingColumns, EmptyData, UnrecognizedPeriod, InsufficientData, DegenerateClustering, NoValidFiles, EmptyPeriod} {
		_, ok := Lookup(c)
		require.True(t, ok, string(c))
	}
}
