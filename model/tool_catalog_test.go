package model

import (
	"context"
	"errors"
	"testing"
)

func TestToolCatalog_RegisterAndCall(t *testing.T) {
	c := NewToolCatalog()
	err := c.Register(Tool{Name: "echo"}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return args["value"], nil
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := c.Call(context.Background(), "echo", map[string]interface{}{"value": "hi"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got != "hi" {
		t.Errorf("expected echoed value %q, got %v", "hi", got)
	}
}

func TestToolCatalog_Register_RejectsEmptyNameOrNilFunc(t *testing.T) {
	c := NewToolCatalog()
	if err := c.Register(Tool{Name: ""}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) { return nil, nil }); err == nil {
		t.Error("expected an error for an empty tool name")
	}
	if err := c.Register(Tool{Name: "no-fn"}, nil); err == nil {
		t.Error("expected an error for a nil function")
	}
}

func TestToolCatalog_Register_DefaultsStatusToActive(t *testing.T) {
	c := NewToolCatalog()
	if err := c.Register(Tool{Name: "t"}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) { return nil, nil }); err != nil {
		t.Fatalf("Register: %v", err)
	}
	tools := c.Tools()
	if tools["t"].Status != ToolStatusActive {
		t.Errorf("expected default status active, got %s", tools["t"].Status)
	}
}

func TestToolCatalog_Call_UnknownTool(t *testing.T) {
	c := NewToolCatalog()
	_, err := c.Call(context.Background(), "does-not-exist", nil)
	var notFound *ToolNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected a ToolNotFoundError, got %v", err)
	}
}

func TestToolCatalog_Call_DisabledTool(t *testing.T) {
	c := NewToolCatalog()
	if err := c.Register(Tool{
		Name:          "broken",
		Status:        ToolStatusTemporaryDisabled,
		DisableReason: DisableReasonMaintenance,
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) { return nil, nil }); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err := c.Call(context.Background(), "broken", nil)
	var disabled *ToolDisabledError
	if !errors.As(err, &disabled) {
		t.Fatalf("expected a ToolDisabledError, got %v", err)
	}
	if disabled.DisableReason != DisableReasonMaintenance {
		t.Errorf("expected reason %q, got %q", DisableReasonMaintenance, disabled.DisableReason)
	}
}

func TestToolCatalog_Tools_HidesHiddenEntries(t *testing.T) {
	c := NewToolCatalog()
	noop := func(ctx context.Context, args map[string]interface{}) (interface{}, error) { return nil, nil }
	if err := c.Register(Tool{Name: "visible"}, noop); err != nil {
		t.Fatalf("Register visible: %v", err)
	}
	if err := c.Register(Tool{Name: "invisible", Status: ToolStatusHidden}, noop); err != nil {
		t.Fatalf("Register invisible: %v", err)
	}

	tools := c.Tools()
	if _, ok := tools["visible"]; !ok {
		t.Error("expected the visible tool to be listed")
	}
	if _, ok := tools["invisible"]; ok {
		t.Error("expected the hidden tool to be excluded from Tools()")
	}
}

func TestTool_IsUsable(t *testing.T) {
	active := Tool{}
	if !active.IsUsable() {
		t.Error("expected a tool with no explicit status to be usable")
	}
	disabled := Tool{Status: ToolStatusTemporaryDisabled}
	if disabled.IsUsable() {
		t.Error("expected a temporarily disabled tool to not be usable")
	}
}
