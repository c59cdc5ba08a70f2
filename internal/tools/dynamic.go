package tools

import (
	"log/slog"

	"github.com/docserver-mcp/docserver/internal/mcp"
	"github.com/docserver-mcp/docserver/internal/query"
	"github.com/docserver-mcp/docserver/internal/toolsconfig"
)

// RegisterDynamic registers one QueryTool per enabled tools-configuration
// entry (§4.3), all sharing the same query pipeline since Pipeline.Run
// takes its doc_type per call — only the tool's bound doc_type and
// advertised name/description vary per entry.
func RegisterDynamic(reg *mcp.Registry, doc toolsconfig.Document, pipeline *query.Pipeline, logger *slog.Logger) {
	for _, entry := range toolsconfig.Enabled(doc, HardcodedNames()) {
		reg.Register(NewQueryTool(entry.Name, entry.Description, entry.DocType, pipeline, logger))
	}
}
