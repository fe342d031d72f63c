package llm

import (
	"encoding/json"
	"fmt"
	"iter"
	"sort"
	"strings"

	"github.com/m4xw311/tandem/session"
)

type toolCallBuilder struct {
	id   string
	name string
	args strings.Builder
}

// Reassembler folds stream chunks into one Assistant message.
type Reassembler struct {
	// OnDelta, when set, observes content and reasoning text as it is
	// classified, e.g. for live terminal output.
	OnDelta func(text string, reasoning bool)

	content   strings.Builder
	reasoning strings.Builder
	builders  map[int]*toolCallBuilder
	parser    ThinkParser
	finish    FinishReason

	// explicit is set once the provider sends reasoning outside the content.
	explicit bool
}

// NewReassembler returns an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{builders: make(map[int]*toolCallBuilder)}
}

func (r *Reassembler) emit(text string, reasoning bool) {
	if text == "" {
		return
	}
	if reasoning {
		r.reasoning.WriteString(text)
	} else {
		r.content.WriteString(text)
	}
	if r.OnDelta != nil {
		r.OnDelta(text, reasoning)
	}
}

// Add folds one chunk.
func (r *Reassembler) Add(c StreamChunk) {
	if c.DeltaReasoning != "" {
		r.explicit = true
		r.emit(c.DeltaReasoning, true)
	}
	if c.DeltaContent != "" {
		// Providers that report reasoning explicitly do not also embed it in
		// tags, so stop parsing once explicit reasoning has been seen.
		if r.explicit && !r.parser.Inside() {
			for _, s := range r.parser.Flush() {
				r.emit(s.Text, s.Reasoning)
			}
			r.emit(c.DeltaContent, false)
		} else {
			for _, s := range r.parser.Feed(c.DeltaContent) {
				r.emit(s.Text, s.Reasoning)
			}
		}
	}
	if tc := c.DeltaToolCall; tc != nil {
		b, ok := r.builders[tc.Index]
		if !ok {
			b = &toolCallBuilder{}
			r.builders[tc.Index] = b
		}
		if b.id == "" {
			b.id = tc.ID
		}
		if b.name == "" {
			b.name = tc.Name
		}
		b.args.WriteString(tc.ArgumentsDelta)
	}
	if c.FinishReason != "" {
		r.finish = c.FinishReason
	}
}

// Message finalizes the accumulated state. Tool calls are ordered by index;
// a call without a name or with arguments that are not a JSON object is
// dropped, and a missing id becomes "call_<index>".
func (r *Reassembler) Message() session.Message {
	for _, s := range r.parser.Flush() {
		r.emit(s.Text, s.Reasoning)
	}
	msg := session.Message{
		Role:             session.RoleAssistant,
		Content:          r.content.String(),
		ReasoningContent: r.reasoning.String(),
	}

	indices := make([]int, 0, len(r.builders))
	for i := range r.builders {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	for _, i := range indices {
		b := r.builders[i]
		if b.name == "" {
			continue
		}
		raw := b.args.String()
		if raw == "" {
			raw = "{}"
		}
		var args map[string]any
		if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
			continue
		}
		id := b.id
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		msg.ToolCalls = append(msg.ToolCalls, session.ToolCall{ID: id, Name: b.name, Arguments: args})
	}
	return msg
}

// FinishReason returns the last finish reason seen. When none was sent it
// is inferred from the presence of tool calls.
func (r *Reassembler) FinishReason(msg session.Message) FinishReason {
	if r.finish != "" {
		return r.finish
	}
	if msg.HasToolCalls() {
		return FinishToolUse
	}
	return FinishStop
}

// Reassemble drains seq into a message. A stream error is returned as is;
// the partial message is discarded.
func Reassemble(seq iter.Seq2[StreamChunk, error], onDelta func(string, bool)) (*Response, error) {
	r := NewReassembler()
	r.OnDelta = onDelta
	for chunk, err := range seq {
		if err != nil {
			return nil, err
		}
		r.Add(chunk)
	}
	msg := r.Message()
	return &Response{Message: msg, FinishReason: r.FinishReason(msg)}, nil
}
