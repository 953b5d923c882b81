package model

import (
	"context"
	"fmt"
	"sync"
)

// ToolStatus represents the availability of a catalog tool.
type ToolStatus string

const (
	ToolStatusActive             ToolStatus = "active"
	ToolStatusTemporaryDisabled  ToolStatus = "temporary_disabled"
	ToolStatusHidden             ToolStatus = "hidden"
)

// DisableReason explains why a tool is unavailable.
type DisableReason string

const (
	DisableReasonNone        DisableReason = ""
	DisableReasonMaintenance DisableReason = "maintenance"
	DisableReasonError       DisableReason = "error"
	DisableReasonRateLimit   DisableReason = "rate_limit"
	DisableReasonUnavailable DisableReason = "unavailable"
	DisableReasonCustom      DisableReason = "custom"
)

// Tool is a single entry in the Tool Gateway's catalog (spec 4.11):
// get_tools returns {name: {description, parameters}} built directly from
// these values.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`

	Status        ToolStatus    `json:"status,omitempty"`
	DisableReason DisableReason `json:"disable_reason,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
}

// IsUsable reports whether the tool can currently be dispatched.
func (t *Tool) IsUsable() bool {
	return t.Status == "" || t.Status == ToolStatusActive
}

// ToolNotFoundError is returned when a tool name has no catalog entry.
type ToolNotFoundError struct {
	ToolName string
}

func (e *ToolNotFoundError) Error() string {
	return "tool not found: " + e.ToolName
}

// ToolDisabledError is returned when a tool exists but is not usable.
type ToolDisabledError struct {
	ToolName      string
	DisableReason DisableReason
	ErrorMessage  string
}

func (e *ToolDisabledError) Error() string {
	msg := "tool is disabled: " + e.ToolName
	if e.DisableReason != DisableReasonNone {
		msg += " (reason: " + string(e.DisableReason) + ")"
	}
	if e.ErrorMessage != "" {
		msg += " - " + e.ErrorMessage
	}
	return msg
}

// ToolFunction is the signature every dispatched tool implements. It
// receives the gateway-parsed arguments and the caller's tenant context.
type ToolFunction func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// ToolCatalog holds the Tool Gateway's tool descriptors and their dispatch
// functions together, so get_tools and call_tool are backed by one source of
// truth (spec 4.11 minimum catalog: create_agent, list_agents, delete_agent,
// search_memory, add_memory_direct, auto_remember, get_context_answer,
// session_start, session_end, agent_stats).
type ToolCatalog struct {
	mu    sync.RWMutex
	tools map[string]Tool
	fns   map[string]ToolFunction
}

// NewToolCatalog creates an empty catalog.
func NewToolCatalog() *ToolCatalog {
	return &ToolCatalog{
		tools: make(map[string]Tool),
		fns:   make(map[string]ToolFunction),
	}
}

// Register adds a tool descriptor and its dispatch function.
func (c *ToolCatalog) Register(tool Tool, fn ToolFunction) error {
	if tool.Name == "" {
		return fmt.Errorf("tool catalog: tool name cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("tool catalog: function cannot be nil for tool %q", tool.Name)
	}
	if tool.Status == "" {
		tool.Status = ToolStatusActive
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools[tool.Name] = tool
	c.fns[tool.Name] = fn
	return nil
}

// Tools returns every non-hidden tool descriptor, keyed by name, as
// get_tools requires.
func (c *ToolCatalog) Tools() map[string]Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Tool, len(c.tools))
	for name, t := range c.tools {
		if t.Status == ToolStatusHidden {
			continue
		}
		out[name] = t
	}
	return out
}

// Call dispatches a tool by name. It returns ToolNotFoundError or
// ToolDisabledError for catalog problems, and the tool function's own error
// otherwise.
func (c *ToolCatalog) Call(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	c.mu.RLock()
	tool, ok := c.tools[name]
	fn := c.fns[name]
	c.mu.RUnlock()

	if !ok {
		return nil, &ToolNotFoundError{ToolName: name}
	}
	if !tool.IsUsable() {
		return nil, &ToolDisabledError{ToolName: name, DisableReason: tool.DisableReason, ErrorMessage: tool.ErrorMessage}
	}
	return fn(ctx, args)
}
