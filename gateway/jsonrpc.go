// Package gateway implements the Tool Gateway (C11) and the Auth & Rate
// Limiter (C12): the HTTP+WebSocket JSON-RPC bridge external agents use to
// call tools, and the per-key request gate in front of it.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ghiac/agentize/model"
)

// JSON-RPC 2.0 error codes (spec 4.11), grounded on the go-memsh gateway's
// convention of standard JSON-RPC codes for transport errors.
const (
	ErrParseError     = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternalError  = -32603
)

// JSONRPCRequest is one call_tool/get_tools invocation over either
// transport (HTTP body or WebSocket frame).
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

// JSONRPCResponse mirrors JSONRPCRequest's id and carries exactly one of
// Result or Error.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
	ID      interface{}   `json:"id"`
}

// JSONRPCError is the JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// getToolsMethod and callToolMethod are the two RPC methods every catalog
// exposes (spec 4.11); individual tool dispatch goes through the catalog's
// own namespacing (name is the tool name for call_tool).
const (
	getToolsMethod = "get_tools"
	callToolMethod = "call_tool"
)

// callToolParams is call_tool's params shape.
type callToolParams struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// Dispatch handles one JSON-RPC request against catalog, used identically
// by the HTTP and WebSocket transports so the tool surface is transport-
// agnostic (spec 4.11).
func Dispatch(ctx context.Context, catalog *model.ToolCatalog, req *JSONRPCRequest) *JSONRPCResponse {
	resp := &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID}

	if req.JSONRPC != "2.0" {
		resp.Error = &JSONRPCError{Code: ErrInvalidRequest, Message: "invalid jsonrpc version"}
		return resp
	}

	switch req.Method {
	case getToolsMethod:
		resp.Result = catalog.Tools()
	case callToolMethod:
		result, rpcErr := dispatchCallTool(ctx, catalog, req.Params)
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			resp.Result = result
		}
	default:
		resp.Error = &JSONRPCError{Code: ErrMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}
	return resp
}

func dispatchCallTool(ctx context.Context, catalog *model.ToolCatalog, raw json.RawMessage) (interface{}, *JSONRPCError) {
	var params callToolParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &JSONRPCError{Code: ErrInvalidParams, Message: "invalid params", Data: err.Error()}
	}
	if params.Name == "" {
		return nil, &JSONRPCError{Code: ErrInvalidParams, Message: "name is required"}
	}

	result, err := catalog.Call(ctx, params.Name, params.Args)
	if err != nil {
		switch err.(type) {
		case *model.ToolNotFoundError:
			return nil, &JSONRPCError{Code: ErrMethodNotFound, Message: err.Error()}
		case *model.ToolDisabledError:
			return nil, &JSONRPCError{Code: ErrInvalidRequest, Message: err.Error()}
		default:
			return nil, &JSONRPCError{Code: ErrInternalError, Message: err.Error()}
		}
	}
	return result, nil
}
