package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vinodismyname/mcpsales/internal/insights"
	"github.com/vinodismyname/mcpsales/internal/sales"
	"github.com/xuri/excelize/v2"
)

func sampleRows() []insights.SegmentedRecord {
	p := sales.PeriodKey{Year: 2024, Month: 3}
	return []insights.SegmentedRecord{
		{Record: sales.Record{Product: "Bulu Mata, Palsu \"3D\"", Buyers: 12, Quantity: 40, Revenue: 1_234_567.5}, Cluster: 2, Category: sales.TopPerforming, Recommendation: insights.Recommend(sales.TopPerforming)},
		{Record: sales.Record{Product: "Sendok", Buyers: 1, Quantity: 1, Revenue: 9_000, Period: &p}, Cluster: 0, Category: sales.Underperforming, Recommendation: insights.Recommend(sales.Underperforming)},
	}
}

func TestSegmentsCSV_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSegmentsCSV(&buf, sampleRows()))
	require.True(t, strings.HasPrefix(buf.String(), strings.Join(SegmentColumns, ",")+"\n"))
	require.Contains(t, buf.String(), "1.234568")

	got, err := ReadSegmentsCSV(&buf)
	require.NoError(t, err)
	require.Equal(t, sampleRows(), got)
}

func TestReadSegmentsCSV_Rejects(t *testing.T) {
	_, err := ReadSegmentsCSV(strings.NewReader("product,buyers\nA,1\n"))
	require.True(t, errors.Is(err, sales.ErrMissingColumns))

	var buf bytes.Buffer
	require.NoError(t, WriteSegmentsCSV(&buf, sampleRows()))
	tampered := strings.Replace(buf.String(), "Sangat Laris", "Laris", 1)
	_, err = ReadSegmentsCSV(strings.NewReader(tampered))
	var ve *sales.ValueError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, "category_label", ve.Column)
}

func TestWriteSegmentsXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSegmentsXLSX(&buf, sampleRows()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Segments")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, SegmentColumns, rows[0])
	require.Equal(t, "Sendok", rows[2][0])
	require.Equal(t, "2024", rows[2][5])
	require.Equal(t, "Kurang Laris", rows[2][9])
}

func TestWritePeriodSummaryCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePeriodSummaryCSV(&buf, []insights.PeriodTotal{{Year: 2024, Month: 3, MonthName: "March", Quantity: 120}}))
	require.Equal(t, "year,month,month_name,quantity\n2024,3,March,120\n", buf.String())
}

func TestWriteRankingCSV(t *testing.T) {
	r := insights.ProductRanking{
		Top:       []insights.ProductShare{{Rank: 2, Product: "B", Quantity: 30, Share: 30, Note: "n"}, {Rank: 1, Product: "A", Quantity: 50, Share: 50, Note: "n"}},
		Remainder: []insights.ProductShare{{Rank: 3, Product: "C", Quantity: 20, Share: 20}},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteRankingCSV(&buf, r))
	require.Equal(t, "rank,product,quantity,share,note,top\n2,B,30,30.0,n,true\n1,A,50,50.0,n,true\n3,C,20,20.0,,false\n", buf.String())
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleRows()[1:]))
	var back []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
	require.Equal(t, "Underperforming", back[0]["category"])
	require.Equal(t, "Sendok", back[0]["product"])
}

func TestWriteSegmentsFile_ByExtension(t *testing.T) {
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "segments.csv")
	require.NoError(t, WriteSegmentsFile(csvPath, sampleRows()))
	f, err := os.Open(csvPath)
	require.NoError(t, err)
	got, err := ReadSegmentsCSV(f)
	require.NoError(t, f.Close())
	require.NoError(t, err)
	require.Len(t, got, 2)

	jsonPath := filepath.Join(dir, "segments.json")
	require.NoError(t, WriteSegmentsFile(jsonPath, sampleRows()))
	b, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	require.Contains(t, string(b), `"category": "TopPerforming"`)

	xlsxPath := filepath.Join(dir, "segments.xlsx")
	require.NoError(t, WriteSegmentsFile(xlsxPath, sampleRows()))
	x, err := excelize.OpenFile(xlsxPath)
	require.NoError(t, err)
	defer x.Close()
	rows, err := x.GetRows("Segments")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	err = WriteSegmentsFile(filepath.Join(dir, "segments.txt"), sampleRows())
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	_, statErr := os.Stat(filepath.Join(dir, "segments.txt"))
	require.True(t, os.IsNotExist(statErr))
}
