package rpc

import (
	"encoding/json"

	"github.com/m4xw311/tandem/agent"
	"github.com/m4xw311/tandem/session"
)

// write serializes msg as one line. Writes from concurrent handlers are
// serialized.
func (s *Server) write(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("failed to serialize JSON-RPC message", "error", err)
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.out == nil {
		return
	}
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		s.logger.Warn("rpc write failed", "error", err)
		return
	}
	if err := s.out.Flush(); err != nil {
		s.logger.Warn("rpc flush failed", "error", err)
	}
}

func (s *Server) notify(sessionID string, update map[string]any) {
	s.write(map[string]any{
		"jsonrpc": "2.0",
		"method":  "session/update",
		"params": map[string]any{
			"sessionId": sessionID,
			"update":    update,
		},
	})
}

func (s *Server) sendMessageChunk(sessionID, kind, text string) {
	s.notify(sessionID, map[string]any{
		"sessionUpdate": kind,
		"content":       map[string]any{"type": "text", "text": text},
	})
}

func (s *Server) sendToolCall(sessionID string, call session.ToolCall) {
	s.notify(sessionID, map[string]any{
		"sessionUpdate": "tool_call",
		"toolCall": map[string]any{
			"id":   call.ID,
			"name": call.Name,
			"args": call.Arguments,
		},
	})
}

func (s *Server) sendToolResult(sessionID, toolCallID, result string) {
	s.notify(sessionID, map[string]any{
		"sessionUpdate": "tool_result",
		"toolResult": map[string]any{
			"toolCallId": toolCallID,
			"result":     result,
		},
	})
}

// observer turns agent events of one session into notifications. Streamed
// deltas are sent as they arrive; without streaming the whole message is
// sent once.
func (s *Server) observer(sessionID string, streaming func() bool) agent.Observer {
	return agent.Observer{
		OnAssistantMessage: func(msg session.Message) {
			if !streaming() && msg.Content != "" {
				s.sendMessageChunk(sessionID, "agent_message_chunk", msg.Content)
			}
		},
		OnDelta: func(text string, reasoning bool) {
			kind := "agent_message_chunk"
			if reasoning {
				kind = "agent_thought_chunk"
			}
			s.sendMessageChunk(sessionID, kind, text)
		},
		OnToolCall: func(call session.ToolCall) {
			s.sendToolCall(sessionID, call)
		},
		OnToolResult: func(call session.ToolCall, result string) {
			s.sendToolResult(sessionID, call.ID, result)
		},
	}
}

// replay re-sends a restored conversation so the client can render it.
func (s *Server) replay(sessionID string, msgs []session.Message) {
	for _, msg := range msgs {
		switch msg.Role {
		case session.RoleUser:
			s.sendMessageChunk(sessionID, "user_message_chunk", msg.Content)
		case session.RoleAssistant:
			if msg.Content != "" {
				s.sendMessageChunk(sessionID, "agent_message_chunk", msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				s.sendToolCall(sessionID, tc)
			}
		case session.RoleTool:
			s.sendToolResult(sessionID, msg.ToolCallID, msg.Content)
		}
	}
}
