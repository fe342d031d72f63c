package llm

import (
	"encoding/json"
	"iter"
)

// ChunksFromResponse replays a complete response as a stream. Reasoning and
// content each arrive as one delta; every tool call is split into a header
// fragment carrying id and name followed by its arguments in two pieces.
// Providers without native streaming use it, and reassembling its output
// yields resp.Message back.
func ChunksFromResponse(resp *Response) iter.Seq2[StreamChunk, error] {
	return func(yield func(StreamChunk, error) bool) {
		msg := resp.Message
		if msg.ReasoningContent != "" {
			if !yield(StreamChunk{DeltaReasoning: msg.ReasoningContent}, nil) {
				return
			}
		}
		if msg.Content != "" {
			if !yield(StreamChunk{DeltaContent: msg.Content}, nil) {
				return
			}
		}
		for i, tc := range msg.ToolCalls {
			raw, err := json.Marshal(tc.Arguments)
			if err != nil {
				yield(StreamChunk{}, invalidResponse("replay", "unencodable tool arguments", err))
				return
			}
			args := string(raw)
			half := len(args) / 2
			fragments := []PartialToolCall{
				{Index: i, ID: tc.ID, Name: tc.Name},
				{Index: i, ArgumentsDelta: args[:half]},
				{Index: i, ArgumentsDelta: args[half:]},
			}
			for j := range fragments {
				if !yield(StreamChunk{DeltaToolCall: &fragments[j]}, nil) {
					return
				}
			}
		}
		finish := resp.FinishReason
		if finish == "" {
			finish = FinishStop
			if msg.HasToolCalls() {
				finish = FinishToolUse
			}
		}
		yield(StreamChunk{FinishReason: finish}, nil)
	}
}
