package tools

import (
	"log/slog"

	"github.com/docserver-mcp/docserver/internal/doctype"
	"github.com/docserver-mcp/docserver/internal/mcp"
	"github.com/docserver-mcp/docserver/internal/query"
)

// HardcodedNames lists every tool name registered outside of the
// tools-configuration document, so toolsconfig.Enabled can skip a
// colliding dynamic entry (§4.3).
func HardcodedNames() map[string]bool {
	return map[string]bool{"rust_query": true}
}

// RegisterHardcoded registers rust_query, the one tool that always
// exists regardless of the tools configuration document (§4.3).
func RegisterHardcoded(reg *mcp.Registry, pipeline *query.Pipeline, logger *slog.Logger) {
	reg.Register(NewQueryTool(
		"rust_query",
		"Semantic search over Rust language and standard library documentation.",
		doctype.Rust,
		pipeline,
		logger,
	))
}
