package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/m4xw311/tandem/errors"
	"github.com/m4xw311/tandem/session"
	"github.com/m4xw311/tandem/tools"
)

const defaultBedrockModel = "anthropic.claude-3-5-sonnet-20240620-v1:0"

// bedrockInvoker is the part of the Bedrock runtime client the adapter
// uses, narrowed so tests can substitute it.
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockClient calls Anthropic models hosted on AWS Bedrock.
type BedrockClient struct {
	client bedrockInvoker
	opts   Options
	region string
}

// NewBedrockClient loads AWS credentials from the default chain.
func NewBedrockClient(ctx context.Context, opts Options) (*BedrockClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}
	region := cfg.Region
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	cfg.Region = region

	var clientOpts []func(*bedrockruntime.Options)
	if endpoint := os.Getenv("BEDROCK_ENDPOINT_URL"); endpoint != "" {
		clientOpts = append(clientOpts, func(o *bedrockruntime.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if opts.Model == "" {
		opts.Model = defaultBedrockModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	return &BedrockClient{
		client: bedrockruntime.NewFromConfig(cfg, clientOpts...),
		opts:   opts,
		region: region,
	}, nil
}

func (b *BedrockClient) Provider() string { return "bedrock" }

// Generate invokes the model with an Anthropic Messages body.
func (b *BedrockClient) Generate(ctx context.Context, history []session.Message, ts []tools.Tool) (*Response, error) {
	messages, systemPrompt := convertMessagesToAnthropicFormat(history)
	body, err := createAnthropicRequest(messages, systemPrompt, ts, b.opts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Anthropic request")
	}
	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.opts.Model),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, mapBedrockError(err)
	}
	return processBedrockResponse(resp.Body)
}

// Stream replays the complete response; the invoke-with-stream API is not
// used.
func (b *BedrockClient) Stream(ctx context.Context, history []session.Message, ts []tools.Tool) (iter.Seq2[StreamChunk, error], error) {
	resp, err := b.Generate(ctx, history, ts)
	if err != nil {
		return nil, err
	}
	return ChunksFromResponse(resp), nil
}

func mapBedrockError(err error) error {
	pe := ProviderError{Provider: "bedrock", Cause: err}
	var throttled *types.ThrottlingException
	var denied *types.AccessDeniedException
	var unavailable *types.ServiceUnavailableException
	var internal *types.InternalServerException
	var timeout *types.ModelTimeoutException
	switch {
	case errors.As(err, &throttled):
		pe.Message = "rate limit exceeded"
		return &RateLimitError{ProviderError: pe}
	case errors.As(err, &denied):
		pe.Message = "authentication failed"
		return &AuthenticationError{pe}
	case errors.As(err, &unavailable), errors.As(err, &internal), errors.As(err, &timeout):
		pe.Message = "API unavailable"
		return &ProviderUnavailableError{pe}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "UnrecognizedClientException", "ExpiredTokenException", "InvalidSignatureException":
			pe.Message = "authentication failed"
			return &AuthenticationError{pe}
		}
		pe.Message = "request rejected"
		return &InvalidResponseError{pe}
	}
	return ErrorFromTransport("bedrock", err)
}

// convertMessagesToAnthropicFormat converts our internal messages to the
// Anthropic Messages JSON shape Bedrock expects.
func convertMessagesToAnthropicFormat(messages []session.Message) ([]map[string]interface{}, string) {
	var out []map[string]interface{}
	var systemPrompt string
	lastWasTool := false

	for _, msg := range messages {
		isTool := msg.Role == session.RoleTool
		switch msg.Role {
		case session.RoleSystem:
			systemPrompt = msg.Content
		case session.RoleUser:
			out = append(out, map[string]interface{}{
				"role":    "user",
				"content": []map[string]interface{}{{"type": "text", "text": msg.Content}},
			})
		case session.RoleAssistant:
			var blocks []map[string]interface{}
			if msg.Content != "" {
				blocks = append(blocks, map[string]interface{}{"type": "text", "text": msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, map[string]interface{}{
					"type":  "tool_use",
					"id":    tc.ID,
					"name":  tc.Name,
					"input": nonNilArgs(tc.Arguments),
				})
			}
			if len(blocks) > 0 {
				out = append(out, map[string]interface{}{"role": "assistant", "content": blocks})
			}
		case session.RoleTool:
			block := map[string]interface{}{
				"type":        "tool_result",
				"tool_use_id": msg.ToolCallID,
				"content":     msg.Content,
			}
			if lastWasTool && len(out) > 0 {
				last := out[len(out)-1]
				last["content"] = append(last["content"].([]map[string]interface{}), block)
			} else {
				out = append(out, map[string]interface{}{
					"role":    "user",
					"content": []map[string]interface{}{block},
				})
			}
		}
		lastWasTool = isTool
	}
	return out, systemPrompt
}

// createAnthropicRequest creates the request body for Anthropic models on
// Bedrock.
func createAnthropicRequest(messages []map[string]interface{}, systemPrompt string, availableTools []tools.Tool, opts Options) ([]byte, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	request := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        maxTokens,
		"messages":          messages,
	}
	if systemPrompt != "" {
		request["system"] = systemPrompt
	}
	if opts.Temperature > 0 {
		request["temperature"] = opts.Temperature
	}
	if len(availableTools) > 0 {
		var decls []map[string]interface{}
		for _, tool := range availableTools {
			decls = append(decls, map[string]interface{}{
				"name":         tool.Name(),
				"description":  tool.Description(),
				"input_schema": schemaOf(tool),
			})
		}
		request["tools"] = decls
	}
	return json.Marshal(request)
}

type bedrockBlock struct {
	Type     string         `json:"type"`
	Text     string         `json:"text"`
	Thinking string         `json:"thinking"`
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Input    map[string]any `json:"input"`
}

type bedrockResponse struct {
	Content    []bedrockBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      *struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
	Error any `json:"error"`
}

// processBedrockResponse converts a Bedrock response body into a Response.
func processBedrockResponse(body []byte) (*Response, error) {
	var resp bedrockResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, invalidResponse("bedrock", "failed to unmarshal response", err)
	}
	if resp.Error != nil {
		return nil, invalidResponse("bedrock", fmt.Sprintf("API error: %v", resp.Error), nil)
	}

	msg := session.Message{Role: session.RoleAssistant}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			msg.Content += block.Text
		case "thinking":
			msg.ReasoningContent += block.Thinking
		case "tool_use":
			if block.Name == "" {
				continue
			}
			id := block.ID
			if id == "" {
				id = fmt.Sprintf("call_%d_%s", len(msg.ToolCalls), block.Name)
			}
			msg.ToolCalls = append(msg.ToolCalls, session.ToolCall{ID: id, Name: block.Name, Arguments: nonNilArgs(block.Input)})
		}
	}
	out := &Response{Message: msg, FinishReason: mapAnthropicStop(resp.StopReason)}
	if resp.Usage != nil {
		out.Usage = &Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens}
	}
	return out, nil
}
