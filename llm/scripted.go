package llm

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/m4xw311/tandem/session"
	"github.com/m4xw311/tandem/tools"
)

// Step is one scripted provider turn: a response or an error.
type Step struct {
	Response *Response
	Err      error
	// StreamErr, when set, is yielded after the response's chunks instead
	// of the finish chunk.
	StreamErr error
}

// Reply builds a content-only step.
func Reply(content string) Step {
	return Step{Response: &Response{
		Message:      session.Message{Role: session.RoleAssistant, Content: content},
		FinishReason: FinishStop,
	}}
}

// CallTools builds a step whose assistant message requests calls.
func CallTools(calls ...session.ToolCall) Step {
	return Step{Response: &Response{
		Message:      session.Message{Role: session.RoleAssistant, ToolCalls: calls},
		FinishReason: FinishToolUse,
	}}
}

// Fail builds a step that returns err.
func Fail(err error) Step { return Step{Err: err} }

// Call records one request seen by a ScriptedClient.
type Call struct {
	Method    string
	History   []session.Message
	ToolNames []string
}

// ScriptedClient replays a fixed sequence of steps. When the script runs
// out it echoes the last user message, which keeps the CLI usable without
// credentials.
type ScriptedClient struct {
	mu    sync.Mutex
	steps []Step
	calls []Call
}

// NewScriptedClient returns a client that will play steps in order.
func NewScriptedClient(steps ...Step) *ScriptedClient {
	return &ScriptedClient{steps: steps}
}

func (s *ScriptedClient) Provider() string { return "scripted" }

// Push appends steps to the script.
func (s *ScriptedClient) Push(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, steps...)
}

// Calls returns a copy of the recorded requests.
func (s *ScriptedClient) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Remaining reports how many steps are still queued.
func (s *ScriptedClient) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

func (s *ScriptedClient) next(method string, history []session.Message, ts []tools.Tool) Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := make([]session.Message, len(history))
	copy(h, history)
	names := make([]string, 0, len(ts))
	for _, t := range ts {
		names = append(names, t.Name())
	}
	s.calls = append(s.calls, Call{Method: method, History: h, ToolNames: names})

	if len(s.steps) == 0 {
		return Reply(echo(history))
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step
}

func echo(history []session.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == session.RoleUser {
			return fmt.Sprintf("I am a scripted client. You said: '%s'.", history[i].Content)
		}
	}
	return "I am a scripted client."
}

func (s *ScriptedClient) Generate(ctx context.Context, history []session.Message, ts []tools.Tool) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	step := s.next("generate", history, ts)
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

func (s *ScriptedClient) Stream(ctx context.Context, history []session.Message, ts []tools.Tool) (iter.Seq2[StreamChunk, error], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	step := s.next("stream", history, ts)
	if step.Err != nil {
		return nil, step.Err
	}
	if step.StreamErr == nil {
		return ChunksFromResponse(step.Response), nil
	}
	return func(yield func(StreamChunk, error) bool) {
		for c, err := range ChunksFromResponse(step.Response) {
			if c.FinishReason != "" {
				break
			}
			if !yield(c, err) {
				return
			}
		}
		yield(StreamChunk{}, step.StreamErr)
	}, nil
}
