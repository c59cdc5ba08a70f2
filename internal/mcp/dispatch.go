package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Dispatcher routes parsed JSON-RPC requests to the fixed set of protocol
// methods (initialize, tools/list, tools/call). It holds no transport
// state; HTTPServer owns sessions, headers, and the request/response
// envelope lifecycle.
type Dispatcher struct {
	registry *Registry
	info     ServerInfo
	logger   *slog.Logger
}

// NewDispatcher creates a method dispatcher over the given tool registry.
func NewDispatcher(registry *Registry, info ServerInfo, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, info: info, logger: logger}
}

// HandleMessage parses a single JSON-RPC message and dispatches it,
// returning nil for notifications (requests with no id).
func (d *Dispatcher) HandleMessage(ctx context.Context, data []byte) *Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return &Response{
			JSONRPC: "2.0",
			Error: &RPCError{
				Code:    ErrCodeParse,
				Message: "Parse error",
				Data:    err.Error(),
			},
		}
	}

	if req.ID == nil || string(req.ID) == "null" {
		d.logger.Debug("received notification", "method", req.Method)
		return nil
	}

	result, rpcErr := d.dispatch(ctx, &req)
	resp := &Response{JSONRPC: "2.0", ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, req *Request) (any, *RPCError) {
	switch req.Method {
	case "initialize":
		return d.handleInitialize(req.Params)
	case "tools/list":
		return d.handleToolsList()
	case "tools/call":
		return d.handleToolsCall(ctx, req.Params)
	default:
		return nil, &RPCError{
			Code:    ErrCodeMethodNotFound,
			Message: fmt.Sprintf("method not found: %s", req.Method),
		}
	}
}

func (d *Dispatcher) handleInitialize(params json.RawMessage) (any, *RPCError) {
	var initParams InitializeParams
	if params != nil {
		if err := json.Unmarshal(params, &initParams); err != nil {
			return nil, &RPCError{
				Code:    ErrCodeInvalidParams,
				Message: "Invalid initialize params",
				Data:    err.Error(),
			}
		}
	}

	d.logger.Info("client connecting",
		"client", initParams.ClientInfo.Name,
		"client_version", initParams.ClientInfo.Version,
		"protocol_version", initParams.ProtocolVersion,
	)

	return &InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    ServerCapability{Tools: ToolsCapability{}},
		ServerInfo:      d.info,
	}, nil
}

func (d *Dispatcher) handleToolsList() (any, *RPCError) {
	return &ToolsListResult{Tools: d.registry.List()}, nil
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, params json.RawMessage) (any, *RPCError) {
	var callParams ToolsCallParams
	if err := json.Unmarshal(params, &callParams); err != nil {
		return nil, &RPCError{
			Code:    ErrCodeInvalidParams,
			Message: "Invalid tools/call params",
			Data:    err.Error(),
		}
	}

	tool := d.registry.Get(callParams.Name)
	if tool == nil {
		return nil, &RPCError{
			Code:    ErrCodeMethodNotFound,
			Message: fmt.Sprintf("tool not found: %s", callParams.Name),
		}
	}

	d.logger.Info("calling tool", "tool", callParams.Name)

	result, err := tool.Execute(ctx, callParams.Arguments)
	if err != nil {
		// Per §4.3/§7, tool execution failures surface as isError content,
		// never as a JSON-RPC error — the HTTP layer still returns 200.
		d.logger.Error("tool execution failed", "tool", callParams.Name, "error", err)
		return ErrorResult(fmt.Sprintf("tool execution failed: %v", err)), nil
	}

	return result, nil
}
