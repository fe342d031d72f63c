package llm

import (
	"context"
	"reflect"
	"testing"

	"github.com/m4xw311/tandem/session"
)

func TestStreamMatchesGenerate(t *testing.T) {
	responses := []*Response{
		{Message: session.Message{Role: session.RoleAssistant, Content: "The answer is 5."}, FinishReason: FinishStop},
		{Message: session.Message{
			Role:             session.RoleAssistant,
			Content:          "Let me check.",
			ReasoningContent: "need files",
			ToolCalls: []session.ToolCall{
				{ID: "a", Name: "read_file", Arguments: map[string]any{"path": "x.go"}},
				{ID: "b", Name: "calculator", Arguments: map[string]any{"op": "add", "a": 2.0, "b": 3.0}},
				{ID: "c", Name: "list_directory", Arguments: map[string]any{}},
			},
		}, FinishReason: FinishToolUse},
	}
	for _, want := range responses {
		client := NewScriptedClient(Step{Response: want}, Step{Response: want})
		history := []session.Message{session.UserMessage("go")}

		gen, err := client.Generate(context.Background(), history, nil)
		if err != nil {
			t.Fatal(err)
		}
		seq, err := client.Stream(context.Background(), history, nil)
		if err != nil {
			t.Fatal(err)
		}
		streamed, err := Reassemble(seq, nil)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(gen.Message, streamed.Message) {
			t.Fatalf("stream/generate mismatch:\n generate %+v\n stream   %+v", gen.Message, streamed.Message)
		}
		if gen.FinishReason != streamed.FinishReason {
			t.Fatalf("finish mismatch: %q vs %q", gen.FinishReason, streamed.FinishReason)
		}
	}
}

func TestScriptedClientRecordsAndEchoes(t *testing.T) {
	c := NewScriptedClient()
	history := []session.Message{session.SystemMessage("sys"), session.UserMessage("hello")}
	resp, err := c.Generate(context.Background(), history, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Message.Content != "I am a scripted client. You said: 'hello'." {
		t.Fatalf("echo = %q", resp.Message.Content)
	}
	calls := c.Calls()
	if len(calls) != 1 || calls[0].Method != "generate" || len(calls[0].History) != 2 {
		t.Fatalf("recorded calls = %+v", calls)
	}
	history[1].Content = "mutated"
	if c.Calls()[0].History[1].Content != "hello" {
		t.Fatal("recorded history aliases caller slice")
	}
}
