package telemetry

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/vinodismyname/mcpsales/internal/insights"
	"github.com/vinodismyname/mcpsales/internal/sales"
)

// Hooks logs server lifecycle, tool calls and per-file ingestion outcomes.
type Hooks struct {
	logger zerolog.Logger
}

// NewHooks constructs a Hooks instance with the provided logger.
func NewHooks(logger zerolog.Logger) *Hooks {
	return &Hooks{logger: logger}
}

// OnServerStart is called when the server begins accepting connections.
func (h *Hooks) OnServerStart() {
	h.logger.Info().Msg("MCP server starting")
}

// OnServerStop is called during server shutdown.
func (h *Hooks) OnServerStop() {
	h.logger.Info().Msg("MCP server stopping")
}

// OnToolCall logs tool invocations and their outcomes.
func (h *Hooks) OnToolCall(toolName string, duration time.Duration, isError bool) {
	if isError {
		h.logger.Warn().Str("tool", toolName).Dur("duration", duration).Msg("tool call returned error result")
		return
	}
	h.logger.Info().Str("tool", toolName).Dur("duration", duration).Msg("tool call completed")
}

// OnFileSkipped records a period file excluded from aggregation.
func (h *Hooks) OnFileSkipped(d insights.Diagnostic) {
	h.logger.Warn().Str("file", d.File).Str("code", string(d.Code)).Msg(d.Message)
}

// OnFileAccepted records a period file that contributed rows.
func (h *Hooks) OnFileAccepted(file string, period sales.PeriodKey, rows int) {
	h.logger.Debug().Str("file", file).Stringer("period", period).Int("rows", rows).Msg("period file accepted")
}

// Ingestion fills the ingestion callbacks of opts that are still unset.
func (h *Hooks) Ingestion(opts insights.AggregateOptions) insights.AggregateOptions {
	if opts.OnSkip == nil {
		opts.OnSkip = h.OnFileSkipped
	}
	if opts.OnAccept == nil {
		opts.OnAccept = h.OnFileAccepted
	}
	return opts
}

// ToolMiddleware times each tool call and reports it via OnToolCall.
func (h *Hooks) ToolMiddleware(next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		res, err := next(ctx, req)
		h.OnToolCall(req.Params.Name, time.Since(start), err != nil || (res != nil && res.IsError))
		return res, err
	}
}

// Server constructs mcp-go server hooks that report through h.
func (h *Hooks) Server() *server.Hooks {
	hooks := &server.Hooks{}

	hooks.AddOnRegisterSession(func(ctx context.Context, session server.ClientSession) {
		h.logger.Info().Str("session_id", session.SessionID()).Msg("session registered")
	})

	hooks.AddOnUnregisterSession(func(ctx context.Context, session server.ClientSession) {
		h.logger.Info().Str("session_id", session.SessionID()).Msg("session unregistered")
	})

	hooks.AddAfterListTools(func(ctx context.Context, id any, req *mcp.ListToolsRequest, res *mcp.ListToolsResult) {
		h.logger.Info().Int("tools", len(res.Tools)).Msg("list_tools served")
	})

	hooks.AddOnError(func(ctx context.Context, id any, method mcp.MCPMethod, message any, err error) {
		h.logger.Error().Str("method", string(method)).Err(err).Msg("request error")
	})

	return hooks
}
