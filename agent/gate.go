package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/tandem/errors"
	"github.com/m4xw311/tandem/session"
	"github.com/m4xw311/tandem/telemetry"
	"github.com/m4xw311/tandem/tools"
)

// Mode selects whether dangerous tools ask before running.
type Mode string

const (
	// ModeAuto runs every tool without confirmation.
	ModeAuto Mode = "auto"
	// ModePrompt pauses before tools that require confirmation unless an
	// auto-approve pattern matches.
	ModePrompt Mode = "prompt"
)

// OutcomeKind tells the caller of Gate.Run whether the batch finished.
type OutcomeKind int

const (
	Proceed OutcomeKind = iota
	PauseForInput
	PauseForConfirmation
)

// Outcome is the result of running a batch through the gate. For pauses,
// Remaining holds the calls after the paused one, in order.
type Outcome struct {
	Kind         OutcomeKind
	Interrupt    *InterruptInfo
	Confirmation *ConfirmationInfo
	Remaining    []session.ToolCall
}

// Gate executes tool calls in order, writing one result per call into
// Memory, and stops at the first call that needs the user.
type Gate struct {
	Registry    *tools.ToolRegistry
	AutoApprove map[string][]string
	Mode        Mode
	Observer    Observer
	Logger      *slog.Logger
	Metrics     *telemetry.Metrics
}

func (g *Gate) logger() *slog.Logger {
	if g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}

// Run processes calls. An empty batch is a no-op.
func (g *Gate) Run(ctx context.Context, calls []session.ToolCall, mem *Memory) Outcome {
	for i, call := range calls {
		remaining := calls[i+1:]

		entry, ok := g.Registry.Lookup(call.Name)
		if !ok {
			g.logger().Warn("unknown tool requested", "tool", call.Name, "tool_call_id", call.ID)
			g.Metrics.RecordTool(ctx, call.Name, "not_found")
			g.record(mem, call, fmt.Sprintf("Tool '%s' not found", call.Name))
			continue
		}

		if info := g.needsConfirmation(entry, call); info != nil {
			g.Metrics.RecordPause(ctx, "confirmation")
			g.logger().Info("tool awaiting confirmation", "tool", call.Name, "tool_call_id", call.ID)
			return Outcome{Kind: PauseForConfirmation, Confirmation: info, Remaining: remaining}
		}

		result, interrupt := g.Execute(ctx, entry, call)
		if interrupt != nil {
			g.Metrics.RecordPause(ctx, "interrupt")
			return Outcome{
				Kind: PauseForInput,
				Interrupt: &InterruptInfo{
					ToolName:   call.Name,
					ToolCallID: call.ID,
					Question:   interrupt.Question,
					Context:    interrupt.Context,
				},
				Remaining: remaining,
			}
		}
		g.record(mem, call, result)
	}
	return Outcome{Kind: Proceed}
}

// Execute runs one call and returns its result text. Failures become text
// as well. The second return is set only when an interrupt-capable tool
// asked for user input; nothing is recorded in that case.
func (g *Gate) Execute(ctx context.Context, entry tools.Entry, call session.ToolCall) (string, *tools.InterruptRequest) {
	g.Observer.toolCall(call)
	g.logger().Debug("executing tool", "tool", call.Name, "tool_call_id", call.ID)

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	out, err := entry.Tool.Execute(tools.WithCallID(ctx, call.ID), args)
	if err == nil {
		g.Metrics.RecordTool(ctx, call.Name, "ok")
		return out, nil
	}

	var req *tools.InterruptRequest
	if errors.As(err, &req) && entry.Caps.Interrupt {
		g.Metrics.RecordTool(ctx, call.Name, "interrupt")
		return "", req
	}

	g.Metrics.RecordTool(ctx, call.Name, "error")
	g.logger().Warn("tool execution failed", "tool", call.Name, "tool_call_id", call.ID, "error", err)
	return fmt.Sprintf("Tool execution failed: %v", err), nil
}

func (g *Gate) record(mem *Memory, call session.ToolCall, result string) {
	mem.AddToolResult(call.ID, call.Name, result)
	g.Observer.toolResult(call, result)
}

func (g *Gate) needsConfirmation(entry tools.Entry, call session.ToolCall) *ConfirmationInfo {
	spec := entry.Caps.Confirmation
	if spec == nil || g.Mode == ModeAuto {
		return nil
	}
	value, _ := call.Arguments[spec.CheckArg].(string)
	if g.autoApproved(spec.Operation, value) {
		g.logger().Debug("auto-approved", "tool", call.Name, "operation", spec.Operation, "value", value)
		return nil
	}
	return &ConfirmationInfo{
		ToolName:   call.Name,
		ToolCallID: call.ID,
		Message:    tools.ConfirmationMessage(entry.Tool, call.Arguments),
		Operation:  spec.Operation,
		Arguments:  call.Arguments,
	}
}

func (g *Gate) autoApproved(operation, value string) bool {
	for _, pattern := range g.AutoApprove[operation] {
		ok, err := doublestar.Match(pattern, value)
		if err != nil {
			g.logger().Warn("invalid auto-approve pattern", "operation", operation, "pattern", pattern, "error", err)
			continue
		}
		if ok {
			return true
		}
	}
	return false
}
