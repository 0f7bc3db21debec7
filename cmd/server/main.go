package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/vinodismyname/mcpsales/config"
	"github.com/vinodismyname/mcpsales/internal/datasets"
	"github.com/vinodismyname/mcpsales/internal/ingest"
	"github.com/vinodismyname/mcpsales/internal/insights"
	"github.com/vinodismyname/mcpsales/internal/registry"
	"github.com/vinodismyname/mcpsales/internal/rules"
	"github.com/vinodismyname/mcpsales/internal/runtime"
	"github.com/vinodismyname/mcpsales/internal/security"
	"github.com/vinodismyname/mcpsales/internal/telemetry"
	"github.com/vinodismyname/mcpsales/pkg/version"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var (
		useStdio        bool
		shutdownTimeout time.Duration
		contextModel    string
	)

	flag.BoolVar(&useStdio, "stdio", false, "Run server over stdio transport")
	flag.DurationVar(&shutdownTimeout, "shutdown-timeout", 5*time.Second, "Graceful shutdown timeout")
	flag.StringVar(&contextModel, "context-model", "gpt-4o", "Client model used to report the context window at startup")
	flag.Parse()

	settings, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if lvl, err := zerolog.ParseLevel(settings.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	// stdout carries the MCP transport; logs go to stderr.
	logger := zlog.Output(os.Stderr).With().Str("service", version.Name+"-server").Logger()
	ctx := logger.WithContext(context.Background())

	// Security: validate allow-list directories on startup (fail-safe on error)
	secMgr, err := security.NewManager(settings.AllowedDirs, security.DefaultExtensions)
	if err != nil {
		logger.Error().Err(err).Msg("security: failed to initialize manager")
		fmt.Fprintln(os.Stderr, "invalid security configuration; check MCPSALES_ALLOWED_DIRS")
		os.Exit(1)
	}
	if err := secMgr.ValidateConfig(); err != nil {
		logger.Error().Err(err).Msg("security: invalid allow-list configuration")
		fmt.Fprintln(os.Stderr, "no allowed directories configured; set MCPSALES_ALLOWED_DIRS")
		os.Exit(1)
	}
	logger.Info().Strs("allowed_dirs", secMgr.AllowedDirectories()).Msg("security allow-list configured")

	cols, ok := ingest.ColumnPreset(settings.Columns)
	if !ok {
		logger.Error().Str("columns", settings.Columns).Msg("config: unknown column preset")
		os.Exit(1)
	}
	enc, err := ingest.ParseEncoding(settings.InputEncoding)
	if err != nil {
		logger.Error().Err(err).Msg("config: invalid input encoding")
		os.Exit(1)
	}
	ruleSet, err := rules.LoadOrDefault(settings.RulesFile)
	if err != nil {
		logger.Error().Err(err).Str("rules_file", settings.RulesFile).Msg("config: invalid annotation rules")
		os.Exit(1)
	}

	limits := runtime.LimitsFromSettings(settings)
	runtimeController := runtime.NewController(limits)
	runtimeMW := runtime.NewMiddleware(runtimeController)

	dsMgr := datasets.NewManager(settings.DatasetIdleTTL, config.DefaultDatasetCleanupPeriod, runtimeController, nil)
	dsMgr.Start()

	hooks := telemetry.NewHooks(logger)
	toolRegistry := registry.New()
	writeFilter := registry.NewWriteToolFilter(settings.EnableExport)

	srv := server.NewMCPServer(
		"MCP Sales Analysis Server",
		version.Version(),
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(hooks.Server()),
		server.WithToolHandlerMiddleware(hooks.ToolMiddleware),
		server.WithToolHandlerMiddleware(runtimeMW.ToolMiddleware),
		server.WithToolFilter(func(ctx context.Context, tools []mcp.Tool) []mcp.Tool { return writeFilter.FilterTools(ctx, tools) }),
	)

	registry.RegisterSalesTools(srv, toolRegistry, &registry.SalesTools{
		Limits:    limits,
		Datasets:  dsMgr,
		Paths:     secMgr,
		Load:      datasets.LoadOptions{Columns: cols, Encoding: enc, MaxRows: limits.MaxRowsPerFile},
		Rules:     &ruleSet,
		Segmenter: insights.NewSegmenter(),
		Hooks:     hooks,
	})

	logger.Info().
		Ctx(ctx).
		Str("version", version.Version()).
		Int("max_concurrent_requests", limits.MaxConcurrentRequests).
		Int("max_open_datasets", limits.MaxOpenDatasets).
		Dur("dataset_idle_ttl", settings.DatasetIdleTTL).
		Strs("tools", toolRegistry.Names()).
		Int("annotation_rules", len(ruleSet.Rules)).
		Bool("exports_enabled", writeFilter.AllowWrites()).
		Int("model_context_size", toolRegistry.ModelContextSize(contextModel)).
		Bool("stdio", useStdio).
		Msg("server bootstrap configured")

	if !useStdio {
		fmt.Fprintln(os.Stderr, "no transport selected; use --stdio to run over stdio")
		os.Exit(2)
	}

	hooks.OnServerStart()
	serveErr := server.ServeStdio(srv)
	hooks.OnServerStop()

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := dsMgr.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("dataset cache did not close cleanly")
	}

	if serveErr != nil {
		// Use stderr for transport errors so clients don't misinterpret output
		fmt.Fprintf(os.Stderr, "Server error: %v\n", serveErr)
		os.Exit(1)
	}
}
