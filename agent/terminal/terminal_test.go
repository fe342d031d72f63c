package terminal

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/m4xw311/tandem/agent"
	"github.com/m4xw311/tandem/llm"
	"github.com/m4xw311/tandem/session"
	"github.com/m4xw311/tandem/tools"
)

func newTerminal(t *testing.T, input string, steps []llm.Step, opts ...Option) (*Terminal, *bytes.Buffer) {
	t.Helper()
	registry := tools.NewRegistry(nil)
	registry.Register(&tools.AskUserTool{})
	registry.Register(&tools.CalculatorTool{})
	a := agent.New(llm.NewScriptedClient(steps...), registry)

	var out bytes.Buffer
	opts = append([]Option{WithIO(strings.NewReader(input), &out)}, opts...)
	return New(a, opts...), &out
}

func TestParseVerbosity(t *testing.T) {
	tests := []struct {
		in      string
		want    Verbosity
		wantErr bool
	}{
		{"", VerbosityNone, false},
		{"none", VerbosityNone, false},
		{"INFO", VerbosityInfo, false},
		{"all", VerbosityAll, false},
		{"loud", VerbosityNone, true},
	}
	for _, tt := range tests {
		got, err := ParseVerbosity(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseVerbosity(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestTerminalConversation(t *testing.T) {
	steps := []llm.Step{
		llm.CallTools(session.ToolCall{ID: "c1", Name: "ask_user", Arguments: map[string]any{"question": "Which numbers?"}}),
		llm.CallTools(session.ToolCall{ID: "c2", Name: "calculator", Arguments: map[string]any{"op": "add", "a": 2, "b": 3}}),
		llm.Reply("The answer is 5."),
	}
	term, out := newTerminal(t, "2 and 3\n/quit\n", steps, WithVerbosity(VerbosityAll))

	if err := term.Run(context.Background(), "add some numbers"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"[Question] Which numbers?",
		"Tool `calculator` output: 5",
		"Tandem: The answer is 5.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestTerminalSavesTranscript(t *testing.T) {
	store := session.NewStore(t.TempDir())
	tr := store.Create("demo")
	term, _ := newTerminal(t, "hello\n", nil, WithTranscript(store, tr))

	if err := term.Run(context.Background(), ""); err != nil {
		t.Fatalf("Run: %v", err)
	}
	loaded, err := store.Load("demo")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	msgs, err := loaded.Messages()
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Content != "I am a scripted client. You said: 'hello'." {
		t.Fatalf("saved history = %+v", msgs)
	}
}

func TestTerminalReportsProviderErrors(t *testing.T) {
	steps := []llm.Step{
		llm.Fail(llm.ErrorFromStatus("openai", 401, "", 0, nil)),
		llm.Fail(llm.ErrorFromStatus("openai", 429, "", 2*time.Second, nil)),
		llm.Reply("back"),
	}
	term, out := newTerminal(t, "two\nthree\n", steps)
	if err := term.Run(context.Background(), "one"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"Authentication with openai failed: authentication failed. Check your API key.",
		"Rate limited by openai. Try again in 2s.",
		"Tandem: back",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{llm.ErrorFromStatus("anthropic", 503, "", 0, nil), "anthropic is unavailable right now. Try again later."},
		{llm.ErrorFromStatus("groq", 429, "", 0, nil), "Rate limited by groq. Try again shortly."},
		{context.Canceled, "Error: context canceled"},
	}
	for _, tt := range tests {
		if got := Describe(tt.err); got != tt.want {
			t.Errorf("Describe(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
