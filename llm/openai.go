package llm

import (
	"context"
	"encoding/json"
	"iter"
	"os"
	"time"

	"github.com/m4xw311/tandem/errors"
	"github.com/m4xw311/tandem/session"
	"github.com/m4xw311/tandem/tools"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// Options are the request settings shared by every adapter.
type Options struct {
	Model       string
	BaseURL     string
	MaxTokens   int64
	Temperature float64
}

// OpenAICompatClient speaks the OpenAI Chat Completions wire format. OpenAI
// itself and every vendor exposing a compatible endpoint use it; they only
// differ by base URL, key and default model.
type OpenAICompatClient struct {
	client   *openai.Client
	provider string
	opts     Options
}

// NewOpenAICompatClient creates a client for an OpenAI-compatible endpoint.
// The SDK's own retries are disabled; WithRetry owns that concern.
func NewOpenAICompatClient(provider, apiKey string, opts Options) *OpenAICompatClient {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	c := openai.NewClient(reqOpts...)
	// The &c is required, do not replace and just use c
	return &OpenAICompatClient{client: &c, provider: provider, opts: opts}
}

type compatVendor struct {
	provider string
	keyEnv   string
	baseURL  string
	model    string
}

var (
	vendorOpenAI   = compatVendor{provider: "openai", keyEnv: "OPENAI_API_KEY", model: "gpt-4o"}
	vendorTogether = compatVendor{provider: "together", keyEnv: "TOGETHER_API_KEY", baseURL: "https://api.together.xyz/v1", model: "meta-llama/Llama-3.3-70B-Instruct-Turbo"}
	vendorGroq     = compatVendor{provider: "groq", keyEnv: "GROQ_API_KEY", baseURL: "https://api.groq.com/openai/v1", model: "llama-3.3-70b-versatile"}
	vendorDeepSeek = compatVendor{provider: "deepseek", keyEnv: "DEEPSEEK_API_KEY", baseURL: "https://api.deepseek.com/v1", model: "deepseek-chat"}
	vendorOllama   = compatVendor{provider: "ollama", baseURL: "http://localhost:11434/v1", model: "llama3.2"}
)

func (v compatVendor) build(opts Options) (*OpenAICompatClient, error) {
	apiKey := "ollama"
	if v.keyEnv != "" {
		apiKey = os.Getenv(v.keyEnv)
		if apiKey == "" {
			return nil, MissingKeyError(v.provider, v.keyEnv)
		}
	}
	if opts.Model == "" {
		opts.Model = v.model
	}
	if opts.BaseURL == "" {
		opts.BaseURL = v.baseURL
	}
	return NewOpenAICompatClient(v.provider, apiKey, opts), nil
}

// NewOpenAIClient requires OPENAI_API_KEY and honours OPENAI_BASE_URL.
func NewOpenAIClient(opts Options) (*OpenAICompatClient, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}
	return vendorOpenAI.build(opts)
}

// NewTogetherClient requires TOGETHER_API_KEY.
func NewTogetherClient(opts Options) (*OpenAICompatClient, error) { return vendorTogether.build(opts) }

// NewGroqClient requires GROQ_API_KEY.
func NewGroqClient(opts Options) (*OpenAICompatClient, error) { return vendorGroq.build(opts) }

// NewDeepSeekClient requires DEEPSEEK_API_KEY.
func NewDeepSeekClient(opts Options) (*OpenAICompatClient, error) { return vendorDeepSeek.build(opts) }

// NewOllamaClient talks to a local Ollama server and needs no key.
func NewOllamaClient(opts Options) (*OpenAICompatClient, error) { return vendorOllama.build(opts) }

func (o *OpenAICompatClient) Provider() string { return o.provider }

func (o *OpenAICompatClient) params(history []session.Message, ts []tools.Tool) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.opts.Model),
		Messages: convertMessagesToOpenAI(history),
		Tools:    convertToolsToOpenAI(ts),
	}
	if o.opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(o.opts.MaxTokens)
	}
	if o.opts.Temperature > 0 {
		params.Temperature = openai.Float(o.opts.Temperature)
	}
	return params
}

// Generate sends a chat request and normalizes the reply.
func (o *OpenAICompatClient) Generate(ctx context.Context, history []session.Message, ts []tools.Tool) (*Response, error) {
	resp, err := o.client.Chat.Completions.New(ctx, o.params(history, ts))
	if err != nil {
		return nil, o.mapError(err)
	}
	return o.parseResponse(resp)
}

// Stream opens a streaming request. The first chunk is fetched eagerly so
// that connection and status errors surface here, where they can be
// retried, rather than inside the sequence.
func (o *OpenAICompatClient) Stream(ctx context.Context, history []session.Message, ts []tools.Tool) (iter.Seq2[StreamChunk, error], error) {
	stream := o.client.Chat.Completions.NewStreaming(ctx, o.params(history, ts))
	hasFirst := stream.Next()
	if !hasFirst {
		if err := stream.Err(); err != nil {
			stream.Close()
			return nil, o.mapError(err)
		}
	}
	return func(yield func(StreamChunk, error) bool) {
		defer stream.Close()
		for ok := hasFirst; ok; ok = stream.Next() {
			for _, c := range parseOpenAIChunk(stream.Current()) {
				if !yield(c, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield(StreamChunk{}, o.mapError(err))
		}
	}, nil
}

func (o *OpenAICompatClient) mapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		var retryAfter time.Duration
		if apiErr.Response != nil {
			retryAfter = ParseRetryAfter(apiErr.Response.Header.Get("Retry-After"), time.Now())
		}
		return ErrorFromStatus(o.provider, apiErr.StatusCode, "request rejected", retryAfter, err)
	}
	return ErrorFromTransport(o.provider, err)
}

// reasoningFields covers both names vendors use for exposed reasoning.
type reasoningFields struct {
	ReasoningContent string `json:"reasoning_content"`
	Reasoning        string `json:"reasoning"`
}

func readReasoning(raw string) string {
	if raw == "" {
		return ""
	}
	var f reasoningFields
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return ""
	}
	if f.Reasoning != "" {
		return f.Reasoning
	}
	return f.ReasoningContent
}

func mapOpenAIFinish(reason string) FinishReason {
	switch reason {
	case "tool_calls", "function_call":
		return FinishToolUse
	case "length":
		return FinishLength
	default:
		return FinishStop
	}
}

func (o *OpenAICompatClient) parseResponse(resp *openai.ChatCompletion) (*Response, error) {
	if len(resp.Choices) == 0 {
		return nil, invalidResponse(o.provider, "response contained no choices", nil)
	}
	choice := resp.Choices[0]
	msg := session.Message{Role: session.RoleAssistant, Content: choice.Message.Content}
	msg.ReasoningContent = readReasoning(choice.Message.RawJSON())
	if msg.ReasoningContent == "" {
		msg.Content, msg.ReasoningContent = SplitThink(msg.Content)
	}

	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, invalidResponse(o.provider, "failed to unmarshal function call arguments", err)
			}
		}
		msg.ToolCalls = append(msg.ToolCalls, session.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}

	out := &Response{Message: msg, FinishReason: mapOpenAIFinish(string(choice.FinishReason))}
	if resp.Usage.TotalTokens > 0 {
		out.Usage = &Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
	}
	return out, nil
}

// parseOpenAIChunk turns one SSE chunk into stream chunks, one per tool
// call fragment.
func parseOpenAIChunk(chunk openai.ChatCompletionChunk) []StreamChunk {
	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]
	first := StreamChunk{
		DeltaContent:   choice.Delta.Content,
		DeltaReasoning: readReasoning(choice.Delta.RawJSON()),
	}
	if choice.FinishReason != "" {
		first.FinishReason = mapOpenAIFinish(string(choice.FinishReason))
	}
	out := []StreamChunk{first}
	for i, tc := range choice.Delta.ToolCalls {
		p := &PartialToolCall{
			Index:          int(tc.Index),
			ID:             tc.ID,
			Name:           tc.Function.Name,
			ArgumentsDelta: tc.Function.Arguments,
		}
		if i == 0 {
			out[0].DeltaToolCall = p
			continue
		}
		out = append(out, StreamChunk{DeltaToolCall: p})
	}
	return out
}

// convertMessagesToOpenAI converts our internal message format to OpenAI's.
func convertMessagesToOpenAI(messages []session.Message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case session.RoleAssistant:
			// Built as a param directly: ChatCompletionMessage.ToParam reads
			// tool calls back from raw response JSON, which is empty here.
			var assistant openai.ChatCompletionAssistantMessageParam
			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				argsBytes, err := json.Marshal(tc.Arguments)
				if err != nil || tc.Arguments == nil {
					argsBytes = []byte("{}")
				}
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: string(argsBytes),
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case session.RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

// convertToolsToOpenAI converts tool declarations to function tools.
func convertToolsToOpenAI(ts []tools.Tool) []openai.ChatCompletionToolUnionParam {
	if len(ts) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(ts))
	for _, t := range ts {
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name(),
			Description: openai.String(t.Description()),
			Parameters:  openai.FunctionParameters(schemaOf(t)),
		}))
	}
	return out
}

// schemaOf returns t's parameter schema, defaulting to an empty object.
func schemaOf(t tools.Tool) map[string]any {
	if p := t.Parameters(); p != nil {
		return p
	}
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
