package registry

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// WriteToolFilter hides tools that write files unless exports are enabled
// (MCPSALES_ENABLE_EXPORT=true).
type WriteToolFilter struct {
	allowWrites bool
}

// NewWriteToolFilter constructs a filter; allowWrites exposes export tools.
func NewWriteToolFilter(allowWrites bool) *WriteToolFilter {
	return &WriteToolFilter{allowWrites: allowWrites}
}

// AllowWrites reports whether export tools are exposed.
func (f *WriteToolFilter) AllowWrites() bool { return f.allowWrites }

// FilterTools implements server tool filtering semantics. When writes are disabled,
// tools prefixed export_ or write_ are excluded from discovery.
func (f *WriteToolFilter) FilterTools(ctx context.Context, tools []mcp.Tool) []mcp.Tool {
	if f.allowWrites {
		return tools
	}
	out := make([]mcp.Tool, 0, len(tools))
	for _, t := range tools {
		name := strings.ToLower(t.Name)
		if strings.HasPrefix(name, "export_") || strings.HasPrefix(name, "write_") {
			continue
		}
		out = append(out, t)
	}
	return out
}
