package session

import (
	"encoding/json"
	"fmt"

	"github.com/m4xw311/tandem/errors"
)

// Role tags the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// ToolCall is a fully materialized request to run a tool. ID is unique
// within one assistant turn and correlates the eventual tool result.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Message is one turn of the conversation. Tool-role messages always carry
// ToolCallID and Name. Messages are treated as immutable once appended to a
// history.
type Message struct {
	Role             Role       `json:"role"`
	Content          string     `json:"content,omitempty"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID       string     `json:"tool_call_id,omitempty"`
	Name             string     `json:"name,omitempty"`
}

// SystemMessage, UserMessage and ToolResult build the common message shapes.
func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }

func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

func ToolResult(toolCallID, name, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID, Name: name}
}

// HasToolCalls reports whether an assistant message requested any tools.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// Record is the plain key-value projection of a Message used for export,
// persistence and display. Only the fields a message carries are present.
type Record map[string]any

// ExportHistory projects messages into records.
func ExportHistory(messages []Message) []Record {
	records := make([]Record, 0, len(messages))
	for _, m := range messages {
		r := Record{"role": string(m.Role)}
		if m.Content != "" {
			r["content"] = m.Content
		}
		if m.ReasoningContent != "" {
			r["reasoning_content"] = m.ReasoningContent
		}
		if len(m.ToolCalls) > 0 {
			calls := make([]any, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				calls = append(calls, map[string]any{
					"id":        tc.ID,
					"name":      tc.Name,
					"arguments": args,
				})
			}
			r["tool_calls"] = calls
		}
		if m.ToolCallID != "" {
			r["tool_call_id"] = m.ToolCallID
		}
		if m.Name != "" {
			r["name"] = m.Name
		}
		records = append(records, r)
	}
	return records
}

// ImportHistory rebuilds messages from records. Records decoded from JSON
// (where nested values arrive as map[string]any and []any) are accepted as
// well as records produced by ExportHistory.
func ImportHistory(records []Record) ([]Message, error) {
	messages := make([]Message, 0, len(records))
	for i, r := range records {
		m, err := recordToMessage(r)
		if err != nil {
			return nil, errors.Wrapf(err, "record %d", i)
		}
		messages = append(messages, m)
	}
	return messages, nil
}

func recordToMessage(r Record) (Message, error) {
	role, _ := r["role"].(string)
	m := Message{Role: Role(role)}
	if !m.Role.Valid() {
		return Message{}, errors.New("unknown role %q", role)
	}
	m.Content, _ = r["content"].(string)
	m.ReasoningContent, _ = r["reasoning_content"].(string)
	m.ToolCallID, _ = r["tool_call_id"].(string)
	m.Name, _ = r["name"].(string)

	if raw, ok := r["tool_calls"]; ok {
		calls, err := decodeToolCalls(raw)
		if err != nil {
			return Message{}, err
		}
		m.ToolCalls = calls
	}

	if m.Role == RoleTool && (m.ToolCallID == "" || m.Name == "") {
		return Message{}, errors.New("tool record requires tool_call_id and name")
	}
	return m, nil
}

// decodeToolCalls goes through JSON so that both []any of maps and typed
// slices decode the same way.
func decodeToolCalls(raw any) ([]ToolCall, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding tool_calls")
	}
	var calls []ToolCall
	if err := json.Unmarshal(data, &calls); err != nil {
		return nil, errors.Wrapf(err, "decoding tool_calls")
	}
	for i := range calls {
		if calls[i].Arguments == nil {
			calls[i].Arguments = map[string]any{}
		}
		if calls[i].Name == "" {
			return nil, fmt.Errorf("tool call %d has no name", i)
		}
	}
	return calls, nil
}
