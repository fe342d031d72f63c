package agent

import "github.com/m4xw311/tandem/session"

// Observer receives agent events as they happen. Any field may be nil.
// The terminal prints them; the rpc server turns them into notifications.
type Observer struct {
	OnAssistantMessage func(msg session.Message)
	// OnDelta sees streamed text before the message is complete. It is
	// only called when streaming is enabled.
	OnDelta      func(text string, reasoning bool)
	OnToolCall   func(call session.ToolCall)
	OnToolResult func(call session.ToolCall, result string)
}

func (o Observer) assistantMessage(msg session.Message) {
	if o.OnAssistantMessage != nil {
		o.OnAssistantMessage(msg)
	}
}

func (o Observer) toolCall(call session.ToolCall) {
	if o.OnToolCall != nil {
		o.OnToolCall(call)
	}
}

func (o Observer) toolResult(call session.ToolCall, result string) {
	if o.OnToolResult != nil {
		o.OnToolResult(call, result)
	}
}
