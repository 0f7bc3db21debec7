package runtime

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/vinodismyname/mcpsales/pkg/mcperr"
)

// Middleware bounds concurrent tool calls and their run time using the Controller.
type Middleware struct {
	ctrl *Controller
}

// NewMiddleware constructs a Middleware bound to the provided Controller.
func NewMiddleware(ctrl *Controller) *Middleware {
	return &Middleware{ctrl: ctrl}
}

// ToolMiddleware implements mcp-go's tool handler middleware interface. It waits at
// most AcquireRequestTimeout for a request slot, bounds the call by OperationTimeout,
// and turns handler errors into catalog tool errors so clients can self-correct.
func (m *Middleware) ToolMiddleware(next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		acquireCtx := ctx
		if m.ctrl.limits.AcquireRequestTimeout > 0 {
			var cancel context.CancelFunc
			acquireCtx, cancel = context.WithTimeout(ctx, m.ctrl.limits.AcquireRequestTimeout)
			defer cancel()
		}
		if err := m.ctrl.AcquireRequest(acquireCtx); err != nil {
			zerolog.Ctx(ctx).Warn().Str("tool", req.Params.Name).Msg("request rejected: concurrency limit")
			return mcperr.Wrapf(mcperr.BusyResource, "concurrent request limit reached (max=%d)", m.ctrl.limits.MaxConcurrentRequests), nil
		}
		defer m.ctrl.ReleaseRequest()

		callCtx := ctx
		if m.ctrl.limits.OperationTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, m.ctrl.limits.OperationTimeout)
			defer cancel()
		}

		res, err := next(callCtx, req)
		switch {
		case errors.Is(err, context.DeadlineExceeded),
			err == nil && res == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded):
			return mcperr.Wrapf(mcperr.Timeout, "%s exceeded %s", req.Params.Name, m.ctrl.limits.OperationTimeout), nil
		case err != nil:
			return mcperr.FromError(err), nil
		}
		return res, nil
	}
}
