package datasets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vinodismyname/mcpsales/internal/ingest"
	"github.com/vinodismyname/mcpsales/internal/insights"
	"github.com/vinodismyname/mcpsales/internal/sales"
	"github.com/vinodismyname/mcpsales/pkg/mcperr"
	"github.com/xuri/excelize/v2"
)

// fakeGate implements Gate for tests with counters.
type fakeGate struct {
	acquireErr error
	acquires   atomic.Int64
	releases   atomic.Int64
}

func (g *fakeGate) AcquireDataset(ctx context.Context) error {
	g.acquires.Add(1)
	return g.acquireErr
}
func (g *fakeGate) ReleaseDataset() { g.releases.Add(1) }

func TestPutGetRemove(t *testing.T) {
	gate := &fakeGate{}
	m := NewManager(2*time.Second, time.Second, gate, time.Now)

	id, err := m.PutDataset(context.Background(), sales.Dataset{Source: "toko.csv"}, "/data/toko.csv")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Equal(t, int64(1), gate.acquires.Load())
	require.Equal(t, 1, m.Count())

	h, ok := m.Get(id)
	require.True(t, ok)
	require.Equal(t, KindSales, h.Kind)
	require.Equal(t, []string{"/data/toko.csv"}, h.Sources)

	require.NoError(t, m.Remove(id))
	require.Equal(t, 0, m.Count())
	require.Equal(t, int64(1), gate.releases.Load())
	require.ErrorIs(t, m.Remove(id), ErrHandleNotFound)
}

func TestPut_GateBusy(t *testing.T) {
	gate := &fakeGate{acquireErr: context.DeadlineExceeded}
	m := NewManager(time.Second, time.Second, gate, time.Now)

	_, err := m.PutAggregation(context.Background(), insights.Aggregation{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 0, m.Count())
	require.Equal(t, int64(0), gate.releases.Load())
}

func TestTTLExpiryAndEviction(t *testing.T) {
	var now atomic.Int64
	now.Store(time.Now().UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()) }

	gate := &fakeGate{}
	m := NewManager(50*time.Millisecond, 5*time.Millisecond, gate, clock)

	id, err := m.PutDataset(context.Background(), sales.Dataset{})
	require.NoError(t, err)

	// Access refreshes the idle deadline.
	now.Add(int64(40 * time.Millisecond))
	_, ok := m.Get(id)
	require.True(t, ok)
	now.Add(int64(40 * time.Millisecond))
	m.EvictExpired()
	require.Equal(t, 1, m.Count())

	now.Add(int64(200 * time.Millisecond))
	m.EvictExpired()
	require.Equal(t, 0, m.Count())
	require.Equal(t, int64(1), gate.releases.Load())
}

func TestReadWriteLocking(t *testing.T) {
	m := NewManager(time.Second, time.Second, nil, time.Now)
	id, err := m.PutDataset(context.Background(), sales.Dataset{})
	require.NoError(t, err)

	var readers sync.WaitGroup
	readers.Add(2)
	release := make(chan struct{})
	for i := 0; i < 2; i++ {
		go func() {
			_ = m.WithRead(id, func(*Handle) error {
				readers.Done()
				<-release
				return nil
			})
		}()
	}
	readers.Wait()

	wrote := make(chan []string)
	go func() {
		_ = m.WithWrite(id, func(h *Handle) error { h.Sources = []string{"written"}; return nil })
		var got []string
		_ = m.WithRead(id, func(h *Handle) error { got = h.Sources; return nil })
		wrote <- got
	}()

	select {
	case <-wrote:
		t.Fatal("writer should not acquire while readers hold RLock")
	case <-time.After(30 * time.Millisecond):
	}
	close(release)
	require.Equal(t, []string{"written"}, <-wrote)
}

func TestWithRead_ReadersOverlap(t *testing.T) {
	m := NewManager(time.Second, time.Second, nil, time.Now)
	id, err := m.PutDataset(context.Background(), sales.Dataset{})
	require.NoError(t, err)

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = m.WithRead(id, func(*Handle) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	second := make(chan error, 1)
	go func() { second <- m.WithRead(id, func(*Handle) error { return nil }) }()
	select {
	case err := <-second:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second reader blocked while the first holds the handle")
	}
}

func TestWithWrite_PropagatesError(t *testing.T) {
	m := NewManager(time.Second, time.Second, nil, time.Now)
	id, err := m.PutDataset(context.Background(), sales.Dataset{})
	require.NoError(t, err)
	boom := errors.New("no")
	require.ErrorIs(t, m.WithWrite(id, func(*Handle) error { return boom }), boom)
	require.ErrorIs(t, m.WithRead("missing", func(*Handle) error { return nil }), ErrHandleNotFound)
}

func TestEvict_RefreshedHandleSurvives(t *testing.T) {
	var now atomic.Int64
	now.Store(time.Now().UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()) }

	gate := &fakeGate{}
	m := NewManager(50*time.Millisecond, time.Second, gate, clock)
	id, err := m.PutDataset(context.Background(), sales.Dataset{})
	require.NoError(t, err)

	now.Add(int64(100 * time.Millisecond))
	scanned := clock()
	require.True(t, m.handles[id].Expired(scanned))
	h, ok := m.Get(id)
	require.True(t, ok)
	require.True(t, h.ExpiresAt().After(scanned))

	// The eviction pass saw the handle as expired at scanned; the refresh wins.
	require.False(t, m.removeIf(id, func(h *Handle) bool { return h.Expired(scanned) }))
	require.Equal(t, 1, m.Count())
	require.Zero(t, gate.releases.Load())
}

func nineRowDataset() sales.Dataset {
	pts := [][3]int{{1, 1, 10}, {50, 50, 500}, {100, 5, 300}, {1, 2, 12}, {51, 50, 510}, {101, 6, 290}, {2, 1, 11}, {50, 51, 490}, {99, 5, 310}}
	var ds sales.Dataset
	for i, p := range pts {
		ds.Records = append(ds.Records, sales.Record{Product: fmt.Sprintf("P%d", i), Buyers: p[0], Quantity: p[1], Revenue: float64(p[2])})
	}
	return ds
}

func TestSegmentation_CachedOnHandle(t *testing.T) {
	m := NewManager(time.Second, time.Second, nil, time.Now)
	id, err := m.PutDataset(context.Background(), nineRowDataset())
	require.NoError(t, err)

	seg, err := m.Segmentation(context.Background(), id, insights.NewSegmenter())
	require.NoError(t, err)
	require.Len(t, seg.Rows, 9)

	again, err := m.Segmentation(context.Background(), id, nil)
	require.NoError(t, err)
	require.Equal(t, seg, again)

	aggID, err := m.PutAggregation(context.Background(), insights.Aggregation{})
	require.NoError(t, err)
	_, err = m.Segmentation(context.Background(), aggID, insights.NewSegmenter())
	require.ErrorIs(t, err, ErrWrongKind)
}

func TestClose_ReleasesAll(t *testing.T) {
	gate := &fakeGate{}
	m := NewManager(time.Second, time.Millisecond, gate, time.Now)
	m.Start()
	for i := 0; i < 3; i++ {
		_, err := m.PutDataset(context.Background(), sales.Dataset{})
		require.NoError(t, err)
	}
	require.NoError(t, m.Close(context.Background()))
	require.Equal(t, 0, m.Count())
	require.Equal(t, int64(3), gate.releases.Load())
}

const englishCSV = "product,buyers,quantity,revenue\nA,1,1,10\nB,50,50,500\nC,100,5,300\n"

func writeCSV(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadSales_CSVAndXLSX(t *testing.T) {
	dir := t.TempDir()
	ds, canonical, err := LoadSales(writeCSV(t, dir, "toko.csv", englishCSV), LoadOptions{Columns: ingest.EnglishColumns})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "toko.csv"), canonical)
	require.Equal(t, 3, ds.Len())
	require.Equal(t, 50, ds.Records[1].Buyers)

	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"Produk", "Total Pembeli (Pesanan Dibuat)", "Produk (Pesanan Dibuat)", "Total Penjualan (Pesanan Dibuat) (IDR)"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"Bulu Mata", 3, 7, 150000}))
	xp := filepath.Join(dir, "toko.xlsx")
	require.NoError(t, f.SaveAs(xp))
	require.NoError(t, f.Close())

	ds, _, err = LoadSales(xp, LoadOptions{})
	require.NoError(t, err)
	require.Equal(t, sales.Record{Product: "Bulu Mata", Buyers: 3, Quantity: 7, Revenue: 150000}, ds.Records[0])
}

func TestLoadSales_Errors(t *testing.T) {
	dir := t.TempDir()
	_, _, err := LoadSales(writeCSV(t, dir, "norev.csv", "product,buyers,quantity\nA,1,1\n"), LoadOptions{Columns: ingest.EnglishColumns})
	require.ErrorIs(t, err, sales.ErrMissingColumns)

	_, _, err = LoadSales(writeCSV(t, dir, "big.csv", englishCSV), LoadOptions{Columns: ingest.EnglishColumns, MaxRows: 2})
	require.ErrorIs(t, err, ingest.ErrTooManyRows)

	_, _, err = LoadSales(writeCSV(t, dir, "neg.csv", "product,buyers,quantity,revenue\nA,-1,1,1\n"), LoadOptions{Columns: ingest.EnglishColumns})
	require.ErrorIs(t, err, sales.ErrInvalidValue)

	_, _, err = LoadSales(filepath.Join(dir, "x.csv"), LoadOptions{Validator: denyAll{}})
	require.Error(t, err)
}

type denyAll struct{}

func (denyAll) ValidateOpenPath(p string) (string, error) {
	return "", fmt.Errorf("denied %s", p)
}

func TestAggregateFiles_ReportsReadFailuresInPlace(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeCSV(t, dir, "bulan_1_2024.csv", "product,quantity\nA,5\nB,3\n"),
		filepath.Join(dir, "bulan_2_2024.csv"), // missing
		writeCSV(t, dir, "bulan_3_2024.csv", "product,quantity\nA,9\n"),
	}
	agg, err := AggregateFiles(context.Background(), paths, LoadOptions{Columns: ingest.EnglishColumns}, insights.AggregateOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"bulan_1_2024.csv", "bulan_3_2024.csv"}, agg.Accepted)
	require.Len(t, agg.Diagnostics, 1)
	require.Equal(t, "bulan_2_2024.csv", agg.Diagnostics[0].File)
	require.Equal(t, mcperr.OpenFailed, agg.Diagnostics[0].Code)
	require.Equal(t, 3, agg.Best.Month)
	require.True(t, strings.HasSuffix(agg.Advice, "March every year"))
}
