package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/m4xw311/tandem/errors"
	"github.com/m4xw311/tandem/llm"
	"github.com/m4xw311/tandem/session"
	"github.com/m4xw311/tandem/telemetry"
	"github.com/m4xw311/tandem/tools"
)

// DefaultMaxIterations bounds the provider calls of a single turn.
const DefaultMaxIterations = 50

// Agent drives the generate / execute-tools loop for one conversation.
// It is not safe for concurrent use; hosts serving several callers keep
// one Agent per session.
type Agent struct {
	client        llm.Client
	registry      *tools.ToolRegistry
	memory        *Memory
	gate          *Gate
	systemPrompt  string
	stream        bool
	maxIterations int
	observer      Observer
	logger        *slog.Logger
	metrics       *telemetry.Metrics
}

// Option configures an Agent.
type Option func(*Agent)

// WithSystemPrompt sets the system message. A {tool_descriptions}
// placeholder is replaced with the registered tools.
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) { a.systemPrompt = prompt }
}

// WithAutoApprove maps an operation category to glob patterns whose
// matching calls skip confirmation.
func WithAutoApprove(patterns map[string][]string) Option {
	return func(a *Agent) { a.gate.AutoApprove = patterns }
}

// WithStreaming requests replies through the provider's streaming API.
func WithStreaming(stream bool) Option {
	return func(a *Agent) { a.stream = stream }
}

// WithMaxIterations caps model calls per turn. Values below 1 keep the default.
func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// WithMode selects whether guarded tools ask for confirmation.
func WithMode(mode Mode) Option {
	return func(a *Agent) { a.gate.Mode = mode }
}

// WithLogger sets the logger; nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics records tool calls and pauses on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// WithObserver installs the event callbacks.
func WithObserver(o Observer) Option {
	return func(a *Agent) { a.observer = o }
}

// New creates an agent. A nil registry means no tools.
func New(client llm.Client, registry *tools.ToolRegistry, opts ...Option) *Agent {
	a := &Agent{
		client:        client,
		memory:        NewMemory(),
		gate:          &Gate{Mode: ModePrompt},
		maxIterations: DefaultMaxIterations,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if registry == nil {
		registry = tools.NewRegistry(a.logger)
	}
	a.registry = registry

	a.gate.Registry = registry
	a.gate.Observer = a.observer
	a.gate.Logger = a.logger
	a.gate.Metrics = a.metrics

	if a.systemPrompt != "" {
		a.systemPrompt = llm.FormatSystemPrompt(a.systemPrompt, registry.Tools())
		a.memory.Add(session.SystemMessage(a.systemPrompt))
	}
	return a
}

// SetObserver replaces the event callbacks, e.g. once a front end that
// was built around the agent is ready to display them.
func (a *Agent) SetObserver(o Observer) {
	a.observer = o
	a.gate.Observer = o
}

// Streaming reports whether replies are streamed.
func (a *Agent) Streaming() bool { return a.stream }

// Memory exposes the conversation state, e.g. for persistence.
func (a *Agent) Memory() *Memory { return a.memory }

// Tools returns the tools offered to the model.
func (a *Agent) Tools() []tools.Tool { return a.registry.Tools() }

// History exports the conversation as plain records.
func (a *Agent) History() []session.Record { return a.memory.Export() }

// Import replaces the conversation with exported records. The agent's
// system prompt is put back in front when the records do not start with
// one.
func (a *Agent) Import(records []session.Record) error {
	if err := a.memory.Import(records); err != nil {
		return err
	}
	msgs := a.memory.Messages()
	if a.systemPrompt != "" && (len(msgs) == 0 || msgs[0].Role != session.RoleSystem) {
		a.memory.Clear(false)
		a.memory.Add(session.SystemMessage(a.systemPrompt))
		for _, m := range msgs {
			a.memory.Add(m)
		}
	}
	return nil
}

// Clear drops the conversation, keeping the system prompt.
func (a *Agent) Clear() { a.memory.Clear(true) }

// Run starts a new user turn. An outstanding pause is abandoned first.
//
// The returned error is non-nil only for authentication failures; other
// provider failures come back as a Failed result.
func (a *Agent) Run(ctx context.Context, text string) (RunResult, error) {
	if a.memory.HasPending() {
		a.logger.Info("abandoning pending pause for new message")
	}
	a.memory.CleanupPendingState()
	a.memory.Add(session.UserMessage(text))
	return a.loop(ctx)
}

// Resume answers a pending interrupt and continues the turn. Without a
// matching pending interrupt it returns an error and leaves Memory as it
// was.
func (a *Agent) Resume(ctx context.Context, toolCallID, answer string) (RunResult, error) {
	pending := a.memory.PendingInterrupt()
	if pending == nil {
		return RunResult{}, ErrNoPendingInterrupt
	}
	if pending.ToolCallID != toolCallID {
		return RunResult{}, &IDMismatchError{Expected: pending.ToolCallID, Got: toolCallID}
	}
	a.memory.TakeInterrupt()

	call := session.ToolCall{ID: pending.ToolCallID, Name: pending.ToolName}
	a.gate.record(a.memory, call, answer)

	if res, paused := a.runBatch(ctx, pending.Remaining); paused {
		return res, nil
	}
	return a.loop(ctx)
}

// ResumeConfirmation approves or denies the pending call and continues the
// turn. A denied call is never executed; an approved one runs exactly
// once.
func (a *Agent) ResumeConfirmation(ctx context.Context, toolCallID string, confirmed bool) (RunResult, error) {
	pending := a.memory.PendingConfirmation()
	if pending == nil {
		return RunResult{}, ErrNoPendingConfirmation
	}
	if pending.ToolCallID != toolCallID {
		return RunResult{}, &IDMismatchError{Expected: pending.ToolCallID, Got: toolCallID}
	}
	a.memory.TakeConfirmation()

	call := session.ToolCall{ID: pending.ToolCallID, Name: pending.ToolName, Arguments: pending.Arguments}
	if confirmed {
		entry, ok := a.registry.Lookup(call.Name)
		if !ok {
			a.gate.record(a.memory, call, fmt.Sprintf("Tool '%s' not found", call.Name))
		} else {
			result, interrupt := a.gate.Execute(ctx, entry, call)
			if interrupt != nil {
				a.metrics.RecordPause(ctx, "interrupt")
				info := InterruptInfo{
					ToolName:   call.Name,
					ToolCallID: call.ID,
					Question:   interrupt.Question,
					Context:    interrupt.Context,
				}
				a.memory.SetPendingInterrupt(PendingInterrupt{InterruptInfo: info, Remaining: pending.Remaining})
				return Interrupted(info), nil
			}
			a.gate.record(a.memory, call, result)
		}
	} else {
		a.logger.Info("tool call denied", "tool", call.Name, "tool_call_id", call.ID)
		a.gate.record(a.memory, call, fmt.Sprintf(
			"Operation cancelled by user: %s was not executed. Do not retry this operation - inform the user that it was cancelled.",
			call.Name))
	}

	if res, paused := a.runBatch(ctx, pending.Remaining); paused {
		return res, nil
	}
	return a.loop(ctx)
}

// runBatch sends calls through the gate and stores a pause in Memory.
func (a *Agent) runBatch(ctx context.Context, calls []session.ToolCall) (RunResult, bool) {
	out := a.gate.Run(ctx, calls, a.memory)
	switch out.Kind {
	case PauseForInput:
		a.memory.SetPendingInterrupt(PendingInterrupt{InterruptInfo: *out.Interrupt, Remaining: out.Remaining})
		return Interrupted(*out.Interrupt), true
	case PauseForConfirmation:
		a.memory.SetPendingConfirmation(PendingConfirmation{ConfirmationInfo: *out.Confirmation, Remaining: out.Remaining})
		return AwaitingConfirmation(*out.Confirmation), true
	}
	return RunResult{}, false
}

func (a *Agent) loop(ctx context.Context) (RunResult, error) {
	for i := 0; i < a.maxIterations; i++ {
		msg, err := a.generate(ctx)
		if err != nil {
			if llm.IsAuthentication(err) {
				return RunResult{}, err
			}
			a.logger.Error("provider call failed", "provider", llm.ProviderName(a.client), "error", err)
			return Failed(err), nil
		}
		a.memory.Add(msg)
		a.observer.assistantMessage(msg)

		if !msg.HasToolCalls() {
			a.logger.Debug("turn completed", "state", StateCompleted)
			return Completed(msg.Content), nil
		}
		if res, paused := a.runBatch(ctx, msg.ToolCalls); paused {
			a.logger.Debug("turn paused", "state", res.State)
			return res, nil
		}
	}
	return Failed(errors.New("maximum iterations (%d) reached without a final answer", a.maxIterations)), nil
}

func (a *Agent) generate(ctx context.Context) (session.Message, error) {
	history := a.memory.Messages()
	ts := a.registry.Tools()
	if !a.stream {
		resp, err := a.client.Generate(ctx, history, ts)
		if err != nil {
			return session.Message{}, err
		}
		return resp.Message, nil
	}
	seq, err := a.client.Stream(ctx, history, ts)
	if err != nil {
		return session.Message{}, err
	}
	resp, err := llm.Reassemble(seq, a.observer.OnDelta)
	if err != nil {
		return session.Message{}, err
	}
	return resp.Message, nil
}
