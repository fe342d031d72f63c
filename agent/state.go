package agent

import (
	"encoding/json"
	"fmt"

	"github.com/m4xw311/tandem/errors"
	"github.com/m4xw311/tandem/session"
)

// State is the outcome of one Run, Resume or ResumeConfirmation call.
type State string

const (
	StateCompleted            State = "completed"
	StateInterrupted          State = "interrupted"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateError                State = "error"
)

// InterruptInfo describes a tool that paused to ask the user something.
type InterruptInfo struct {
	ToolName   string         `json:"tool_name"`
	ToolCallID string         `json:"tool_call_id"`
	Question   string         `json:"question"`
	Context    map[string]any `json:"context,omitempty"`
}

// ConfirmationInfo describes a dangerous call waiting for permission.
type ConfirmationInfo struct {
	ToolName   string         `json:"tool_name"`
	ToolCallID string         `json:"tool_call_id"`
	Message    string         `json:"message"`
	Operation  string         `json:"operation"`
	Arguments  map[string]any `json:"arguments"`
}

// RunResult carries exactly one payload, selected by State. Build it with
// Completed, Interrupted, AwaitingConfirmation or Failed.
type RunResult struct {
	State        State
	Content      string
	Interrupt    *InterruptInfo
	Confirmation *ConfirmationInfo
	Err          error
}

func Completed(content string) RunResult {
	return RunResult{State: StateCompleted, Content: content}
}

func Interrupted(info InterruptInfo) RunResult {
	return RunResult{State: StateInterrupted, Interrupt: &info}
}

func AwaitingConfirmation(info ConfirmationInfo) RunResult {
	return RunResult{State: StateAwaitingConfirmation, Confirmation: &info}
}

func Failed(err error) RunResult {
	return RunResult{State: StateError, Err: err}
}

// Paused reports whether the result is waiting on the user.
func (r RunResult) Paused() bool {
	return r.State == StateInterrupted || r.State == StateAwaitingConfirmation
}

func (r RunResult) String() string {
	switch r.State {
	case StateCompleted:
		return r.Content
	case StateInterrupted:
		return fmt.Sprintf("interrupted by %s: %s", r.Interrupt.ToolName, r.Interrupt.Question)
	case StateAwaitingConfirmation:
		return fmt.Sprintf("awaiting confirmation for %s: %s", r.Confirmation.ToolName, r.Confirmation.Message)
	default:
		return fmt.Sprintf("error: %v", r.Err)
	}
}

type runResultJSON struct {
	State        State             `json:"state"`
	Content      string            `json:"content,omitempty"`
	Interrupt    *InterruptInfo    `json:"interrupt,omitempty"`
	Confirmation *ConfirmationInfo `json:"confirmation,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// MarshalJSON renders the error as its message.
func (r RunResult) MarshalJSON() ([]byte, error) {
	out := runResultJSON{
		State:        r.State,
		Content:      r.Content,
		Interrupt:    r.Interrupt,
		Confirmation: r.Confirmation,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

var (
	// ErrNoPendingInterrupt is returned by Resume when nothing is waiting
	// for an answer.
	ErrNoPendingInterrupt = errors.Sentinel("no pending interrupt to resume")
	// ErrNoPendingConfirmation is returned by ResumeConfirmation when no
	// call is waiting for permission.
	ErrNoPendingConfirmation = errors.Sentinel("no pending confirmation to resume")
)

// IDMismatchError is returned when a resume names a different tool call
// than the one pending.
type IDMismatchError struct {
	Expected string
	Got      string
}

func (e *IDMismatchError) Error() string {
	return fmt.Sprintf("tool call ID mismatch: expected '%s', got '%s'", e.Expected, e.Got)
}

// PendingInterrupt is the interrupt held in Memory together with the calls
// of the same batch that have not run yet.
type PendingInterrupt struct {
	InterruptInfo
	Remaining []session.ToolCall
}

// PendingConfirmation is the confirmation counterpart of PendingInterrupt.
type PendingConfirmation struct {
	ConfirmationInfo
	Remaining []session.ToolCall
}
