// Package cli implements the salesreport batch command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/vinodismyname/mcpsales/config"
	"github.com/vinodismyname/mcpsales/internal/datasets"
	"github.com/vinodismyname/mcpsales/internal/export"
	"github.com/vinodismyname/mcpsales/internal/ingest"
	"github.com/vinodismyname/mcpsales/internal/insights"
	"github.com/vinodismyname/mcpsales/internal/rules"
	"github.com/vinodismyname/mcpsales/internal/sales"
	"github.com/vinodismyname/mcpsales/internal/telemetry"
	"github.com/vinodismyname/mcpsales/pkg/mcperr"
)

// App is the salesreport command tree.
type App struct {
	root *cobra.Command
}

// NewApp builds the command tree. versionStr is shown by --version.
func NewApp(versionStr string) *App {
	app := &App{}
	root := &cobra.Command{
		Use:           "salesreport",
		Short:         "Segment products and summarize monthly sales from marketplace exports",
		Version:       versionStr,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(`{{printf "salesreport version: %s\n" .Version}}`)

	root.PersistentFlags().String("columns", "", "Header preset: id (seller-center export) or en (default from MCPSALES_COLUMNS)")
	root.PersistentFlags().String("encoding", "", "CSV encoding: auto, utf-8 or iso-8859-1 (default from MCPSALES_INPUT_ENCODING)")
	root.PersistentFlags().String("rules", "", "YAML, TOML or JSON annotation rules file")
	root.PersistentFlags().StringP("output", "o", "", "Write results to this file (.csv, .xlsx or .json)")
	root.PersistentFlags().Bool("debug", false, "Log ingestion details to stderr")

	segment := &cobra.Command{
		Use:   "segment <file>",
		Short: "Cluster products into Underperforming, Performing and TopPerforming",
		Args:  cobra.ExactArgs(1),
		RunE:  app.runSegment,
	}
	segment.Flags().StringSlice("category", nil, "Categories to keep (identifier or label, comma-separated)")
	segment.Flags().Int("min-buyers", 0, "Inclusive lower bound on buyers")
	segment.Flags().Int("max-buyers", 0, "Inclusive upper bound on buyers")
	segment.Flags().Float64("min-revenue", 0, "Inclusive lower bound on revenue, in millions")
	segment.Flags().Float64("max-revenue", 0, "Inclusive upper bound on revenue, in millions")
	segment.Flags().Int("top", config.DefaultTopProducts, "Best sellers to list")

	periods := &cobra.Command{
		Use:   "periods <files...>",
		Short: "Total quantity per month across bulan_<month>_<year> files and rank one month's products",
		Args:  cobra.MinimumNArgs(1),
		RunE:  app.runPeriods,
	}
	periods.Flags().String("month", "", "Month to rank (1-12 or English name); default is the best month")
	periods.Flags().Int("year", 0, "Year to rank; default is the best month's year")
	periods.Flags().Int("top", config.DefaultTopN, "Products to rank (1-10)")

	root.AddCommand(segment, periods)
	app.root = root
	return app
}

// Execute runs the command tree with ctx.
func (a *App) Execute(ctx context.Context) error {
	return a.root.ExecuteContext(ctx)
}

// SetArgs overrides os.Args for tests.
func (a *App) SetArgs(args []string) { a.root.SetArgs(args) }

// SetOutput redirects rendered reports and logs.
func (a *App) SetOutput(out, errOut io.Writer) {
	a.root.SetOut(out)
	a.root.SetErr(errOut)
}

func (a *App) logger(cmd *cobra.Command) zerolog.Logger {
	lvl := zerolog.WarnLevel
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		lvl = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), NoColor: true}).Level(lvl).With().Timestamp().Logger()
}

// loadOptions merges flags over env settings.
func (a *App) loadOptions(cmd *cobra.Command) (datasets.LoadOptions, *rules.Set, error) {
	settings, err := config.Load()
	if err != nil {
		return datasets.LoadOptions{}, nil, err
	}
	preset := settings.Columns
	if v, _ := cmd.Flags().GetString("columns"); v != "" {
		preset = v
	}
	cols, ok := ingest.ColumnPreset(preset)
	if !ok {
		return datasets.LoadOptions{}, nil, fmt.Errorf("%s: unknown column preset %q (use id or en)", mcperr.Validation, preset)
	}
	encName := settings.InputEncoding
	if v, _ := cmd.Flags().GetString("encoding"); v != "" {
		encName = v
	}
	enc, err := ingest.ParseEncoding(encName)
	if err != nil {
		return datasets.LoadOptions{}, nil, fmt.Errorf("%s: %w", mcperr.Validation, err)
	}
	rulesPath := settings.RulesFile
	if v, _ := cmd.Flags().GetString("rules"); v != "" {
		rulesPath = v
	}
	set, err := rules.LoadOrDefault(rulesPath)
	if err != nil {
		return datasets.LoadOptions{}, nil, fmt.Errorf("%s: %w", mcperr.Validation, err)
	}
	return datasets.LoadOptions{Columns: cols, Encoding: enc, MaxRows: config.DefaultMaxRowsPerFile}, &set, nil
}

// coded prefixes err with its catalog code.
func coded(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", mcperr.CodeOf(err), err)
}

func (a *App) runSegment(cmd *cobra.Command, args []string) error {
	log := a.logger(cmd)
	ctx := log.WithContext(cmd.Context())
	out := cmd.OutOrStdout()

	opts, _, err := a.loadOptions(cmd)
	if err != nil {
		return err
	}
	ds, _, err := datasets.LoadSales(args[0], opts)
	if err != nil {
		return coded(err)
	}
	seg, err := insights.NewSegmenter().Segment(ctx, ds)
	if err != nil {
		return coded(err)
	}
	p, err := segmentFilter(cmd, seg.Rows)
	if err != nil {
		return err
	}
	rows := insights.Filter(seg.Rows, p)
	top, _ := cmd.Flags().GetInt("top")

	fmt.Fprintln(out, pterm.DefaultSection.Sprint("Product segments: "+filepath.Base(args[0])))
	fmt.Fprintln(out, MetricsLine(insights.MetricsOf(rows)))
	fmt.Fprintln(out, CategoryTable(insights.SummarizeCategories(rows)))
	if len(rows) == 0 {
		fmt.Fprint(out, pterm.Warning.Sprintln("No products match the filter"))
	} else {
		fmt.Fprintln(out, SegmentTable(rows))
		fmt.Fprintln(out, TopProductsTable(insights.TopProductsByQuantity(rows, top)))
	}

	if target, _ := cmd.Flags().GetString("output"); target != "" {
		if err := export.WriteSegmentsFile(target, rows); err != nil {
			return fmt.Errorf("%s: %w", mcperr.ExportFailed, err)
		}
		fmt.Fprint(out, pterm.Success.Sprintfln("Wrote %d rows to %s", len(rows), target))
	}
	return nil
}

// segmentFilter applies the flags that were set over the full observed ranges.
func segmentFilter(cmd *cobra.Command, rows []insights.SegmentedRecord) (insights.FilterParams, error) {
	p := insights.DefaultFilter(rows)
	flags := cmd.Flags()
	if flags.Changed("category") {
		names, _ := flags.GetStringSlice("category")
		p.Categories = make([]sales.Category, 0, len(names))
		for _, n := range names {
			c, err := sales.ParseCategory(n)
			if err != nil {
				return p, fmt.Errorf("%s: %w", mcperr.Validation, err)
			}
			p.Categories = append(p.Categories, c)
		}
	}
	if flags.Changed("min-buyers") {
		p.MinBuyers, _ = flags.GetInt("min-buyers")
	}
	if flags.Changed("max-buyers") {
		p.MaxBuyers, _ = flags.GetInt("max-buyers")
	}
	if flags.Changed("min-revenue") {
		v, _ := flags.GetFloat64("min-revenue")
		p.MinRevenue = insights.MillionsToRevenue(v)
	}
	if flags.Changed("max-revenue") {
		v, _ := flags.GetFloat64("max-revenue")
		p.MaxRevenue = insights.MillionsToRevenue(v)
	}
	return p, nil
}

// periodReport is the JSON form of the periods command.
type periodReport struct {
	Aggregation insights.Aggregation     `json:"aggregation"`
	Ranking     *insights.ProductRanking `json:"ranking,omitempty"`
}

func (a *App) runPeriods(cmd *cobra.Command, args []string) error {
	log := a.logger(cmd)
	ctx := log.WithContext(cmd.Context())
	out := cmd.OutOrStdout()

	opts, set, err := a.loadOptions(cmd)
	if err != nil {
		return err
	}
	hooks := telemetry.NewHooks(log)
	agg, err := datasets.AggregateFiles(ctx, args, opts, hooks.Ingestion(insights.AggregateOptions{}))
	if len(agg.Diagnostics) > 0 {
		fmt.Fprintln(out, DiagnosticsTable(agg.Diagnostics))
	}
	if err != nil {
		return coded(err)
	}

	fmt.Fprintln(out, pterm.DefaultSection.Sprint("Sales per month"))
	fmt.Fprintln(out, PeriodTable(agg.Summary))
	fmt.Fprint(out, pterm.Success.Sprintln(agg.Headline()))
	fmt.Fprint(out, pterm.Info.Sprintln(agg.Advice))

	key, err := rankPeriod(cmd, agg)
	if err != nil {
		return err
	}
	topN, _ := cmd.Flags().GetInt("top")
	report := periodReport{Aggregation: agg}
	ranking, err := insights.RankProducts(agg.Records, key, insights.RankOptions{TopN: topN, Rules: set})
	switch {
	case errors.Is(err, sales.ErrEmptyPeriod):
		var names []string
		for _, p := range agg.Periods() {
			names = append(names, p.String())
		}
		fmt.Fprint(out, pterm.Warning.Sprintfln("No sales recorded for %s; available: %s", key, strings.Join(names, ", ")))
	case err != nil:
		return coded(err)
	default:
		report.Ranking = &ranking
		fmt.Fprintln(out, pterm.DefaultSection.Sprintf("Top %d products, %s", ranking.TopN, key))
		fmt.Fprintln(out, RankingTable(ranking))
	}

	if target, _ := cmd.Flags().GetString("output"); target != "" {
		written, err := writePeriodReport(target, report)
		if err != nil {
			return fmt.Errorf("%s: %w", mcperr.ExportFailed, err)
		}
		fmt.Fprint(out, pterm.Success.Sprintfln("Wrote %s", strings.Join(written, ", ")))
	}
	return nil
}

// rankPeriod resolves --month/--year, defaulting to the best period.
func rankPeriod(cmd *cobra.Command, agg insights.Aggregation) (sales.PeriodKey, error) {
	key := agg.Best.Key()
	if m, _ := cmd.Flags().GetString("month"); m != "" {
		month, ok := sales.ParseMonth(m)
		if !ok {
			return key, fmt.Errorf("%s: month must be 1-12 or an English month name", mcperr.Validation)
		}
		key.Month = month
	}
	if y, _ := cmd.Flags().GetInt("year"); y > 0 {
		key.Year = y
	}
	return key, nil
}

// writePeriodReport writes JSON holding both tables, or CSV with the period summary
// at path and the ranking beside it as <name>_ranking.csv. It returns the files written.
func writePeriodReport(path string, report periodReport) ([]string, error) {
	format, err := export.Format(path)
	if err != nil {
		return nil, err
	}
	switch format {
	case "json":
		return []string{path}, writeFile(path, func(w io.Writer) error { return export.WriteJSON(w, report) })
	case "csv":
		if err := writeFile(path, func(w io.Writer) error {
			return export.WritePeriodSummaryCSV(w, report.Aggregation.Summary)
		}); err != nil {
			return nil, err
		}
		written := []string{path}
		if report.Ranking == nil {
			return written, nil
		}
		rankPath := rankingPath(path)
		if err := writeFile(rankPath, func(w io.Writer) error { return export.WriteRankingCSV(w, *report.Ranking) }); err != nil {
			return written, err
		}
		return append(written, rankPath), nil
	}
	return nil, fmt.Errorf("%w: period reports are written as .csv or .json", export.ErrUnsupportedFormat)
}

func rankingPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_ranking" + ext
}

func writeFile(path string, fn func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(f)
}
