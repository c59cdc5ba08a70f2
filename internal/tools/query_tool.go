// Package tools wires the query pipeline into mcp.Tool implementations:
// one hardcoded rust_query tool always registered (§4.3), and a factory
// building one dynamic tool per enabled toolsconfig entry.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/docserver-mcp/docserver/internal/doctype"
	"github.com/docserver-mcp/docserver/internal/mcp"
	"github.com/docserver-mcp/docserver/internal/metrics"
	"github.com/docserver-mcp/docserver/internal/query"
)

// QueryTool is the common implementation behind every registered tool,
// hardcoded and dynamic alike (§4.3/§4.4): they share one contract and
// differ only in name, description, and bound doc_type.
type QueryTool struct {
	name        string
	description string
	docType     doctype.Tag
	pipeline    *query.Pipeline
	logger      *slog.Logger
}

// NewQueryTool builds a tool bound to one doc_type's query pipeline.
func NewQueryTool(name, description string, dt doctype.Tag, pipeline *query.Pipeline, logger *slog.Logger) *QueryTool {
	return &QueryTool{name: name, description: description, docType: dt, pipeline: pipeline, logger: logger}
}

func (t *QueryTool) Name() string        { return t.name }
func (t *QueryTool) Description() string { return t.description }

func (t *QueryTool) InputSchema() json.RawMessage {
	return mcp.CommonInputSchema()
}

// Execute validates arguments before touching storage, matching §4.3's
// tool contract: an invalid limit produces an isError result without a
// query ever reaching the database.
func (t *QueryTool) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var args mcp.ToolArguments
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return mcp.ErrorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
	}

	if args.Query == "" {
		return mcp.ErrorResult("query is required"), nil
	}

	limit, err := mcp.ResolveLimit(args.Limit)
	if err != nil {
		return mcp.ErrorResult(err.Error()), nil
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ToolCallDuration, t.name)

	text, err := t.pipeline.Run(ctx, t.docType, args.Query, limit)
	if err != nil {
		t.logger.Error("tool execution failed", "tool", t.name, "error", err)
		metrics.ToolCallsTotal.WithLabelValues(t.name, "error").Inc()
		return mcp.ErrorResult(fmt.Sprintf("query failed: %v", err)), nil
	}

	metrics.ToolCallsTotal.WithLabelValues(t.name, "success").Inc()
	return mcp.TextResult(text), nil
}
