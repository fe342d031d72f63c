package llm

import (
	"context"
	"iter"

	"github.com/m4xw311/tandem/session"
	"github.com/m4xw311/tandem/tools"
)

// FinishReason is the normalized reason a model stopped generating.
type FinishReason string

const (
	FinishStop    FinishReason = "stop"
	FinishToolUse FinishReason = "tool_use"
	FinishLength  FinishReason = "length"
	FinishError   FinishReason = "error"
)

// Usage reports token counts when the provider supplies them.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Response is a complete, normalized model reply.
type Response struct {
	Message      session.Message
	FinishReason FinishReason
	Usage        *Usage
}

// PartialToolCall is one streamed fragment of a tool call. All fragments of
// the same call share Index.
type PartialToolCall struct {
	Index          int
	ID             string
	Name           string
	ArgumentsDelta string
}

// StreamChunk is one streamed increment. Any combination of fields may be
// set.
type StreamChunk struct {
	DeltaContent   string
	DeltaReasoning string
	DeltaToolCall  *PartialToolCall
	FinishReason   FinishReason
}

// Client is the interface every provider adapter implements.
//
// Neither method mutates history or tools. Reassembling the chunks of
// Stream yields a message equivalent to what Generate returns for the same
// input.
type Client interface {
	Generate(ctx context.Context, history []session.Message, tools []tools.Tool) (*Response, error)
	// Stream returns a finite lazy sequence. Breaking out of the range loop
	// releases the underlying connection.
	Stream(ctx context.Context, history []session.Message, tools []tools.Tool) (iter.Seq2[StreamChunk, error], error)
}

// Named is implemented by clients that report a provider name for logs and
// metrics.
type Named interface {
	Provider() string
}

// ProviderName returns c's provider name, or "unknown".
func ProviderName(c Client) string {
	if n, ok := c.(Named); ok {
		return n.Provider()
	}
	return "unknown"
}
