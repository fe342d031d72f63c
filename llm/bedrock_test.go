package llm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/m4xw311/tandem/session"
	"github.com/m4xw311/tandem/tools"
)

// MockTool is a simple mock tool for testing
type MockTool struct {
	name        string
	description string
}

func (m *MockTool) Name() string        { return m.name }
func (m *MockTool) Description() string { return m.description }
func (m *MockTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"path": map[string]any{"type": "string"}},
		"required":   []string{"path"},
	}
}
func (m *MockTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	return "mock result", nil
}

type fakeInvoker struct {
	body  []byte
	err   error
	input *bedrockruntime.InvokeModelInput
}

func (f *fakeInvoker) InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: f.body}, nil
}

func TestConvertMessagesToAnthropicFormat(t *testing.T) {
	messages := []session.Message{
		session.SystemMessage("be brief"),
		session.UserMessage("Hello, world!"),
		{Role: session.RoleAssistant, Content: "Checking.", ToolCalls: []session.ToolCall{
			{ID: "call_1", Name: "test_tool", Arguments: map[string]any{"param1": "value1"}},
			{ID: "call_2", Name: "test_tool"},
		}},
		session.ToolResult("call_1", "test_tool", "one"),
		session.ToolResult("call_2", "test_tool", "two"),
	}

	result, system := convertMessagesToAnthropicFormat(messages)
	if system != "be brief" {
		t.Errorf("system = %q", system)
	}
	if len(result) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(result))
	}
	if result[0]["role"] != "user" || result[1]["role"] != "assistant" || result[2]["role"] != "user" {
		t.Errorf("unexpected roles: %v %v %v", result[0]["role"], result[1]["role"], result[2]["role"])
	}
	if blocks := result[1]["content"].([]map[string]interface{}); len(blocks) != 3 {
		t.Errorf("assistant blocks = %d, want text plus two tool_use", len(blocks))
	}
	results := result[2]["content"].([]map[string]interface{})
	if len(results) != 2 || results[1]["tool_use_id"] != "call_2" {
		t.Errorf("tool results not merged: %v", results)
	}
}

func TestCreateAnthropicRequest(t *testing.T) {
	messages := []map[string]interface{}{
		{"role": "user", "content": []map[string]interface{}{{"type": "text", "text": "Hello!"}}},
	}
	ts := []tools.Tool{&MockTool{name: "test_tool", description: "A test tool"}}

	body, err := createAnthropicRequest(messages, "sys", ts, Options{MaxTokens: 100})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatal(err)
	}
	if req["anthropic_version"] != "bedrock-2023-05-31" || req["max_tokens"] != 100.0 || req["system"] != "sys" {
		t.Errorf("unexpected request: %v", req)
	}
	decls := req["tools"].([]any)
	schema := decls[0].(map[string]any)["input_schema"].(map[string]any)
	if schema["required"].([]any)[0] != "path" {
		t.Errorf("schema not forwarded: %v", schema)
	}
}

func TestBedrockGenerate(t *testing.T) {
	inv := &fakeInvoker{body: []byte(`{
		"content": [
			{"type": "thinking", "thinking": "hmm"},
			{"type": "text", "text": "Reading."},
			{"type": "tool_use", "id": "tu_1", "name": "read_file", "input": {"path": "a"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 10, "output_tokens": 5}
	}`)}
	b := &BedrockClient{client: inv, opts: Options{Model: "m"}}

	resp, err := b.Generate(context.Background(), []session.Message{session.UserMessage("hi")}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if *inv.input.ModelId != "m" {
		t.Errorf("model id = %q", *inv.input.ModelId)
	}
	m := resp.Message
	if m.Content != "Reading." || m.ReasoningContent != "hmm" || len(m.ToolCalls) != 1 || m.ToolCalls[0].ID != "tu_1" {
		t.Fatalf("message = %+v", m)
	}
	if resp.FinishReason != FinishToolUse || resp.Usage.InputTokens != 10 {
		t.Errorf("finish/usage = %q %+v", resp.FinishReason, resp.Usage)
	}

	seq, err := b.Stream(context.Background(), []session.Message{session.UserMessage("hi")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	streamed, err := Reassemble(seq, nil)
	if err != nil {
		t.Fatal(err)
	}
	if streamed.Message.ToolCalls[0].Arguments["path"] != "a" || streamed.Message.Content != "Reading." {
		t.Fatalf("streamed = %+v", streamed.Message)
	}
}

func TestBedrockErrorMapping(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
		auth      bool
	}{
		{&types.ThrottlingException{}, true, false},
		{&types.ServiceUnavailableException{}, true, false},
		{&types.ModelTimeoutException{}, true, false},
		{&types.AccessDeniedException{}, false, true},
		{&types.ValidationException{}, false, false},
	}
	for _, tt := range tests {
		b := &BedrockClient{client: &fakeInvoker{err: tt.err}}
		_, err := b.Generate(context.Background(), []session.Message{session.UserMessage("hi")}, nil)
		if IsRetryable(err) != tt.retryable || IsAuthentication(err) != tt.auth {
			t.Errorf("%T mapped to %v", tt.err, err)
		}
	}
}

func TestProcessBedrockResponseErrors(t *testing.T) {
	if _, err := processBedrockResponse([]byte("not json")); err == nil {
		t.Error("expected error for bad body")
	}
	if _, err := processBedrockResponse([]byte(`{"error":"boom"}`)); err == nil {
		t.Error("expected error for error body")
	}
}
