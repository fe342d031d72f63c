package llm

import (
	"context"
	"encoding/json"
	"iter"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m4xw311/tandem/errors"
	"github.com/m4xw311/tandem/session"
	"github.com/m4xw311/tandem/tools"
)

const defaultAnthropicModel = "claude-3-5-sonnet-20240620"

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	client *anthropic.Client
	opts   Options
}

// NewAnthropicClient requires the ANTHROPIC_API_KEY environment variable.
func NewAnthropicClient(opts Options) (*AnthropicClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, MissingKeyError("anthropic", "ANTHROPIC_API_KEY")
	}
	if opts.Model == "" {
		opts.Model = defaultAnthropicModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := anthropic.NewClient(reqOpts...)
	return &AnthropicClient{client: &client, opts: opts}, nil
}

func (a *AnthropicClient) Provider() string { return "anthropic" }

func (a *AnthropicClient) params(history []session.Message, ts []tools.Tool) anthropic.MessageNewParams {
	messages, systemPrompt := convertMessagesToAnthropic(history)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.opts.Model),
		MaxTokens: a.opts.MaxTokens,
		Messages:  messages,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if a.opts.Temperature > 0 {
		params.Temperature = anthropic.Float(a.opts.Temperature)
	}
	for _, tp := range convertToolsToAnthropic(ts) {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &tp})
	}
	return params
}

// Generate sends a message request and normalizes the reply.
func (a *AnthropicClient) Generate(ctx context.Context, history []session.Message, ts []tools.Tool) (*Response, error) {
	resp, err := a.client.Messages.New(ctx, a.params(history, ts))
	if err != nil {
		return nil, a.mapError(err)
	}
	return processAnthropicResponse(resp)
}

// Stream maps server-sent events to chunks. The content block index is used
// as the tool call index.
func (a *AnthropicClient) Stream(ctx context.Context, history []session.Message, ts []tools.Tool) (iter.Seq2[StreamChunk, error], error) {
	stream := a.client.Messages.NewStreaming(ctx, a.params(history, ts))
	hasFirst := stream.Next()
	if !hasFirst {
		if err := stream.Err(); err != nil {
			stream.Close()
			return nil, a.mapError(err)
		}
	}
	return func(yield func(StreamChunk, error) bool) {
		defer stream.Close()
		for ok := hasFirst; ok; ok = stream.Next() {
			chunk, emit := anthropicEventChunk(stream.Current())
			if emit && !yield(chunk, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield(StreamChunk{}, a.mapError(err))
		}
	}, nil
}

func anthropicEventChunk(event anthropic.MessageStreamEventUnion) (StreamChunk, bool) {
	switch ev := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		if ev.ContentBlock.Type == "tool_use" {
			return StreamChunk{DeltaToolCall: &PartialToolCall{
				Index: int(ev.Index),
				ID:    ev.ContentBlock.ID,
				Name:  ev.ContentBlock.Name,
			}}, true
		}
	case anthropic.ContentBlockDeltaEvent:
		switch ev.Delta.Type {
		case "text_delta":
			return StreamChunk{DeltaContent: ev.Delta.Text}, true
		case "thinking_delta":
			return StreamChunk{DeltaReasoning: ev.Delta.Thinking}, true
		case "input_json_delta":
			return StreamChunk{DeltaToolCall: &PartialToolCall{
				Index:          int(ev.Index),
				ArgumentsDelta: ev.Delta.PartialJSON,
			}}, true
		}
	case anthropic.MessageDeltaEvent:
		if ev.Delta.StopReason != "" {
			return StreamChunk{FinishReason: mapAnthropicStop(string(ev.Delta.StopReason))}, true
		}
	}
	return StreamChunk{}, false
}

func (a *AnthropicClient) mapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		var retryAfter time.Duration
		if apiErr.Response != nil {
			retryAfter = ParseRetryAfter(apiErr.Response.Header.Get("Retry-After"), time.Now())
		}
		status := apiErr.StatusCode
		// 529 is Anthropic's "overloaded".
		if status == 529 {
			status = 503
		}
		return ErrorFromStatus("anthropic", status, "request rejected", retryAfter, err)
	}
	return ErrorFromTransport("anthropic", err)
}

func mapAnthropicStop(reason string) FinishReason {
	switch reason {
	case "tool_use":
		return FinishToolUse
	case "max_tokens":
		return FinishLength
	default:
		return FinishStop
	}
}

// convertMessagesToAnthropic converts our internal message format to
// Anthropic's. Consecutive tool results are merged into one user turn
// because the API requires every tool_use of a turn to be answered in the
// next user message.
func convertMessagesToAnthropic(messages []session.Message) ([]anthropic.MessageParam, string) {
	var out []anthropic.MessageParam
	var systemPrompt string
	lastWasTool := false

	for _, msg := range messages {
		isTool := msg.Role == session.RoleTool
		switch msg.Role {
		case session.RoleSystem:
			systemPrompt = msg.Content
		case session.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case session.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfText: &anthropic.TextBlockParam{Text: msg.Content},
				})
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Name,
						Input: args,
					}})
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.MessageParam{Role: anthropic.MessageParamRoleAssistant, Content: blocks})
			}
		case session.RoleTool:
			block := anthropic.ContentBlockParamUnion{
				OfToolResult: &anthropic.ToolResultBlockParam{
					ToolUseID: msg.ToolCallID,
					Content: []anthropic.ToolResultBlockParamContentUnion{{
						OfText: &anthropic.TextBlockParam{Text: msg.Content},
					}},
				},
			}
			if lastWasTool && len(out) > 0 {
				out[len(out)-1].Content = append(out[len(out)-1].Content, block)
			} else {
				out = append(out, anthropic.MessageParam{
					Role:    anthropic.MessageParamRoleUser,
					Content: []anthropic.ContentBlockParamUnion{block},
				})
			}
		}
		lastWasTool = isTool
	}
	return out, systemPrompt
}

// convertToolsToAnthropic converts tool declarations to Anthropic's format.
func convertToolsToAnthropic(ts []tools.Tool) []anthropic.ToolParam {
	if len(ts) == 0 {
		return nil
	}
	out := make([]anthropic.ToolParam, 0, len(ts))
	for _, t := range ts {
		props, required := splitSchema(schemaOf(t))
		out = append(out, anthropic.ToolParam{
			Name:        t.Name(),
			Description: anthropic.String(t.Description()),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: props,
				Required:   required,
			},
		})
	}
	return out
}

// splitSchema pulls the properties and required list out of a JSON-Schema
// object.
func splitSchema(schema map[string]any) (map[string]any, []string) {
	props, _ := schema["properties"].(map[string]any)
	if props == nil {
		props = map[string]any{}
	}
	var required []string
	switch r := schema["required"].(type) {
	case []string:
		required = r
	case []any:
		for _, v := range r {
			if s, ok := v.(string); ok {
				required = append(required, s)
			}
		}
	}
	return props, required
}

// processAnthropicResponse converts an Anthropic reply into a Response.
func processAnthropicResponse(resp *anthropic.Message) (*Response, error) {
	msg := session.Message{Role: session.RoleAssistant}
	for _, content := range resp.Content {
		switch c := content.AsAny().(type) {
		case anthropic.TextBlock:
			msg.Content += c.Text
		case anthropic.ThinkingBlock:
			msg.ReasoningContent += c.Thinking
		case anthropic.ToolUseBlock:
			args := map[string]any{}
			if len(c.Input) > 0 {
				if err := json.Unmarshal(c.Input, &args); err != nil {
					return nil, invalidResponse("anthropic", "failed to unmarshal tool call input", err)
				}
			}
			msg.ToolCalls = append(msg.ToolCalls, session.ToolCall{ID: c.ID, Name: c.Name, Arguments: args})
		}
	}
	return &Response{
		Message:      msg,
		FinishReason: mapAnthropicStop(string(resp.StopReason)),
		Usage:        &Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
	}, nil
}
