package llm

import (
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/m4xw311/tandem/session"
	"github.com/m4xw311/tandem/tools"
	"google.golang.org/api/googleapi"
)

func TestSplitSchema(t *testing.T) {
	props, req := splitSchema(map[string]any{
		"type":       "object",
		"properties": map[string]any{"a": map[string]any{"type": "number"}},
		"required":   []any{"a"},
	})
	if len(props) != 1 || len(req) != 1 || req[0] != "a" {
		t.Fatalf("splitSchema = %v, %v", props, req)
	}
	props, req = splitSchema(map[string]any{})
	if props == nil || req != nil {
		t.Fatalf("empty schema = %v, %v", props, req)
	}
}

func TestToGeminiSchema(t *testing.T) {
	s := toGeminiSchema((&tools.CalculatorTool{}).Parameters())
	if s.Type != genai.TypeObject {
		t.Fatalf("type = %v", s.Type)
	}
	op := s.Properties["op"]
	if op == nil || op.Type != genai.TypeString || len(op.Enum) != 4 {
		t.Fatalf("op schema = %+v", op)
	}
	if s.Properties["a"].Type != genai.TypeNumber || len(s.Required) != 3 {
		t.Fatalf("schema = %+v", s)
	}
}

func TestConvertMessagesToGemini(t *testing.T) {
	contents, system := convertMessagesToGemini([]session.Message{
		session.SystemMessage("sys"),
		session.UserMessage("hi"),
		{Role: session.RoleAssistant, ToolCalls: []session.ToolCall{
			{ID: "call_0_a", Name: "a", Arguments: map[string]any{"x": 1.0}},
			{ID: "call_1_b", Name: "b"},
		}},
		session.ToolResult("call_0_a", "a", "ra"),
		session.ToolResult("call_1_b", "b", "rb"),
	})
	if system != "sys" || len(contents) != 3 {
		t.Fatalf("system=%q contents=%d", system, len(contents))
	}
	if contents[1].Role != "model" || len(contents[1].Parts) != 2 {
		t.Errorf("model turn = %+v", contents[1])
	}
	last := contents[2]
	if last.Role != "user" || len(last.Parts) != 2 {
		t.Fatalf("function responses not merged: %+v", last)
	}
	if fr, ok := last.Parts[1].(genai.FunctionResponse); !ok || fr.Name != "b" || fr.Response["result"] != "rb" {
		t.Errorf("function response = %+v", last.Parts[1])
	}
}

func TestProcessGeminiResponse(t *testing.T) {
	resp, err := processGeminiResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []genai.Part{
				genai.Text("ok"),
				genai.FunctionCall{Name: "calc", Args: map[string]any{"a": 1.0}},
			}},
			FinishReason: genai.FinishReasonStop,
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Message.Content != "ok" || resp.Message.ToolCalls[0].ID != "call_0_calc" || resp.FinishReason != FinishToolUse {
		t.Fatalf("response = %+v", resp)
	}
	if _, err := processGeminiResponse(&genai.GenerateContentResponse{}); err == nil {
		t.Fatal("expected error for empty response")
	}
}

func TestMapGeminiError(t *testing.T) {
	if err := mapGeminiError(&googleapi.Error{Code: 429}); !IsRetryable(err) {
		t.Errorf("429 not retryable: %v", err)
	}
	if err := mapGeminiError(&googleapi.Error{Code: 403}); !IsAuthentication(err) {
		t.Errorf("403 not auth: %v", err)
	}
}

func TestMapFinishReasons(t *testing.T) {
	if mapOpenAIFinish("tool_calls") != FinishToolUse || mapOpenAIFinish("length") != FinishLength || mapOpenAIFinish("weird") != FinishStop {
		t.Error("openai finish mapping")
	}
	if mapAnthropicStop("tool_use") != FinishToolUse || mapAnthropicStop("max_tokens") != FinishLength || mapAnthropicStop("end_turn") != FinishStop {
		t.Error("anthropic stop mapping")
	}
}

func TestReadReasoning(t *testing.T) {
	if got := readReasoning(`{"content":"x","reasoning_content":"deep"}`); got != "deep" {
		t.Errorf("reasoning_content = %q", got)
	}
	if got := readReasoning(`{"reasoning":"r","reasoning_content":"rc"}`); got != "r" {
		t.Errorf("reasoning preferred = %q", got)
	}
	if got := readReasoning(""); got != "" {
		t.Errorf("empty = %q", got)
	}
}

func TestFormatSystemPrompt(t *testing.T) {
	ts := []tools.Tool{&tools.CalculatorTool{}}
	got := FormatSystemPrompt("Tools:\n{tool_descriptions}", ts)
	if got != "Tools:\n- calculator: Perform basic arithmetic on two numbers." {
		t.Fatalf("FormatSystemPrompt = %q", got)
	}
	if FormatSystemPrompt("plain", ts) != "plain" {
		t.Fatal("prompt without placeholder changed")
	}
}

func TestDetectProvider(t *testing.T) {
	for _, env := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GOOGLE_API_KEY", "GEMINI_API_KEY", "TOGETHER_API_KEY"} {
		t.Setenv(env, "")
	}
	if got := DetectProvider(); got != "" {
		t.Fatalf("DetectProvider with no keys = %q", got)
	}
	t.Setenv("TOGETHER_API_KEY", "k")
	t.Setenv("GEMINI_API_KEY", "k")
	if got := DetectProvider(); got != "google" {
		t.Fatalf("DetectProvider = %q, want google", got)
	}
}
