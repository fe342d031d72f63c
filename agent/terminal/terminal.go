package terminal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/m4xw311/tandem/agent"
	"github.com/m4xw311/tandem/errors"
	"github.com/m4xw311/tandem/llm"
	"github.com/m4xw311/tandem/session"
)

// Verbosity controls how much tool activity is printed.
type Verbosity int

const (
	VerbosityNone Verbosity = iota
	VerbosityInfo
	VerbosityAll
)

// ParseVerbosity maps "none", "info" and "all" to a Verbosity.
func ParseVerbosity(s string) (Verbosity, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return VerbosityNone, nil
	case "info":
		return VerbosityInfo, nil
	case "all":
		return VerbosityAll, nil
	}
	return VerbosityNone, errors.New("invalid tool verbosity '%s', must be one of none, info, all", s)
}

// Terminal handles the terminal/CLI interaction mode for the agent
type Terminal struct {
	agent      *agent.Agent
	prompter   *agent.LinePrompter
	out        io.Writer
	verbosity  Verbosity
	store      *session.Store
	transcript *session.Transcript
	logger     *slog.Logger

	streamed bool
}

// Option configures a Terminal.
type Option func(*Terminal)

// WithIO replaces stdin and stdout.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(t *Terminal) {
		t.prompter = &agent.LinePrompter{In: bufio.NewReader(in), Out: out}
		t.out = out
	}
}

func WithVerbosity(v Verbosity) Option {
	return func(t *Terminal) { t.verbosity = v }
}

// WithTranscript saves the conversation into tr through store after every
// turn.
func WithTranscript(store *session.Store, tr *session.Transcript) Option {
	return func(t *Terminal) {
		t.store = store
		t.transcript = tr
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Terminal) { t.logger = logger }
}

// New creates a terminal around a. It installs its own observer on a.
func New(a *agent.Agent, opts ...Option) *Terminal {
	t := &Terminal{
		agent:    a,
		prompter: agent.NewStdinPrompter(),
		out:      os.Stdout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	a.SetObserver(t.observer())
	return t
}

// Run starts the interactive terminal session. It returns when the input
// ends or the user types /quit.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	if initialPrompt != "" {
		if err := t.processTurn(ctx, initialPrompt); err != nil {
			return err
		}
	}

	for {
		fmt.Fprint(t.out, "You: ")
		line, err := t.prompter.In.ReadString('\n')
		if err != nil && line == "" {
			if err == io.EOF {
				fmt.Fprintln(t.out)
				return nil
			}
			return err
		}
		input := strings.TrimSpace(line)
		switch input {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/clear":
			t.agent.Clear()
			t.save()
			fmt.Fprintln(t.out, "History cleared.")
			continue
		case "/history":
			data, _ := json.MarshalIndent(t.agent.History(), "", "  ")
			fmt.Fprintln(t.out, string(data))
			continue
		}
		if err := t.processTurn(ctx, input); err != nil {
			return err
		}
	}
}

// processTurn runs one user message, answering pauses until the turn
// completes. Provider failures are printed and do not end the session.
func (t *Terminal) processTurn(ctx context.Context, input string) error {
	t.streamed = false
	res, err := t.agent.Run(ctx, input)
	defer t.save()

	for {
		if err != nil {
			fmt.Fprintln(t.out, Describe(err))
			return nil
		}
		switch res.State {
		case agent.StateCompleted:
			if t.streamed {
				fmt.Fprintln(t.out)
			} else {
				fmt.Fprintf(t.out, "Tandem: %s\n", res.Content)
			}
			return nil
		case agent.StateError:
			fmt.Fprintln(t.out, Describe(res.Err))
			return nil
		case agent.StateInterrupted:
			answer, perr := t.prompter.Ask(ctx, res.Interrupt.Question)
			if perr != nil {
				// leave the question pending; the next message abandons it
				return nil
			}
			t.streamed = false
			res, err = t.agent.Resume(ctx, res.Interrupt.ToolCallID, answer)
		case agent.StateAwaitingConfirmation:
			ok, perr := t.prompter.Confirm(ctx, res.Confirmation.Message)
			if perr != nil {
				return nil
			}
			t.streamed = false
			res, err = t.agent.ResumeConfirmation(ctx, res.Confirmation.ToolCallID, ok)
		}
	}
}

func (t *Terminal) observer() agent.Observer {
	return agent.Observer{
		OnAssistantMessage: func(msg session.Message) {
			if msg.HasToolCalls() && msg.Content != "" && !t.streamed {
				fmt.Fprintf(t.out, "Tandem: %s\n", msg.Content)
			}
			if t.streamed && msg.HasToolCalls() {
				fmt.Fprintln(t.out)
				t.streamed = false
			}
		},
		OnDelta: func(text string, reasoning bool) {
			if reasoning {
				if t.verbosity == VerbosityAll {
					fmt.Fprint(t.out, text)
				}
				return
			}
			if !t.streamed {
				fmt.Fprint(t.out, "Tandem: ")
				t.streamed = true
			}
			fmt.Fprint(t.out, text)
		},
		OnToolCall: func(call session.ToolCall) {
			switch t.verbosity {
			case VerbosityAll:
				fmt.Fprintf(t.out, "Tandem wants to call tool `%s` with args: %v\n", call.Name, call.Arguments)
			case VerbosityInfo:
				fmt.Fprintf(t.out, "Tandem wants to call tool `%s`\n", call.Name)
			}
		},
		OnToolResult: func(call session.ToolCall, result string) {
			if t.verbosity == VerbosityAll {
				fmt.Fprintf(t.out, "Tool `%s` output: %s\n", call.Name, result)
			}
		},
	}
}

func (t *Terminal) save() {
	if t.store == nil || t.transcript == nil {
		return
	}
	t.transcript.History = t.agent.History()
	if err := t.store.Save(t.transcript); err != nil {
		t.logger.Warn("failed to save session", "session", t.transcript.Name, "error", err)
	}
}

// Describe renders provider failures as one readable line.
func Describe(err error) string {
	var auth *llm.AuthenticationError
	var rate *llm.RateLimitError
	var down *llm.ProviderUnavailableError
	switch {
	case errors.As(err, &auth):
		return fmt.Sprintf("Authentication with %s failed: %s. Check your API key.", auth.Provider, auth.Message)
	case errors.As(err, &rate):
		if rate.RetryAfter > 0 {
			return fmt.Sprintf("Rate limited by %s. Try again in %s.", rate.Provider, rate.RetryAfter)
		}
		return fmt.Sprintf("Rate limited by %s. Try again shortly.", rate.Provider)
	case errors.As(err, &down):
		return fmt.Sprintf("%s is unavailable right now. Try again later.", down.Provider)
	}
	return fmt.Sprintf("Error: %v", err)
}
