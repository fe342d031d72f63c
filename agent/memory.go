package agent

import (
	"slices"

	"github.com/m4xw311/tandem/session"
)

const (
	confirmationAbandoned = "Operation abandoned: user sent a new message before confirming."
	interruptAbandoned    = "Question abandoned: user sent a new message before responding."
	remainingAbandoned    = "Skipped: user sent a new message before this call ran."
)

// Memory is the conversation log of one agent plus its single pending
// pause. It is not safe for concurrent use.
type Memory struct {
	history      []session.Message
	interrupt    *PendingInterrupt
	confirmation *PendingConfirmation
}

// NewMemory returns an empty Memory.
func NewMemory() *Memory {
	return &Memory{}
}

// Add appends a message.
func (m *Memory) Add(msg session.Message) {
	m.history = append(m.history, msg)
}

// AddToolResult appends a Tool-role result for the given call.
func (m *Memory) AddToolResult(toolCallID, name, content string) {
	m.Add(session.ToolResult(toolCallID, name, content))
}

// Messages returns a copy of the log.
func (m *Memory) Messages() []session.Message {
	return slices.Clone(m.history)
}

func (m *Memory) Len() int { return len(m.history) }

// Clear empties the log and drops any pending pause. With keepSystem a
// leading System message survives.
func (m *Memory) Clear(keepSystem bool) {
	var kept []session.Message
	if keepSystem && len(m.history) > 0 && m.history[0].Role == session.RoleSystem {
		kept = append(kept, m.history[0])
	}
	m.history = kept
	m.interrupt = nil
	m.confirmation = nil
}

// SetPendingInterrupt records an interrupt. Any pending confirmation is
// replaced.
func (m *Memory) SetPendingInterrupt(p PendingInterrupt) {
	p.Remaining = slices.Clone(p.Remaining)
	m.interrupt = &p
	m.confirmation = nil
}

// SetPendingConfirmation records a confirmation. Any pending interrupt is
// replaced.
func (m *Memory) SetPendingConfirmation(p PendingConfirmation) {
	p.Remaining = slices.Clone(p.Remaining)
	m.confirmation = &p
	m.interrupt = nil
}

// PendingInterrupt returns the pending interrupt, or nil.
func (m *Memory) PendingInterrupt() *PendingInterrupt { return m.interrupt }

// PendingConfirmation returns the pending confirmation, or nil.
func (m *Memory) PendingConfirmation() *PendingConfirmation { return m.confirmation }

// TakeInterrupt clears and returns the pending interrupt.
func (m *Memory) TakeInterrupt() *PendingInterrupt {
	p := m.interrupt
	m.interrupt = nil
	return p
}

// TakeConfirmation clears and returns the pending confirmation.
func (m *Memory) TakeConfirmation() *PendingConfirmation {
	p := m.confirmation
	m.confirmation = nil
	return p
}

func (m *Memory) HasPending() bool {
	return m.interrupt != nil || m.confirmation != nil
}

// CleanupPendingState answers an outstanding pause before a new user turn.
// The paused call gets the abandonment text and every call still queued
// behind it gets a skip notice, so no tool call is left without a result.
func (m *Memory) CleanupPendingState() {
	var remaining []session.ToolCall
	if c := m.TakeConfirmation(); c != nil {
		m.AddToolResult(c.ToolCallID, c.ToolName, confirmationAbandoned)
		remaining = c.Remaining
	}
	if i := m.TakeInterrupt(); i != nil {
		m.AddToolResult(i.ToolCallID, i.ToolName, interruptAbandoned)
		remaining = i.Remaining
	}
	for _, call := range remaining {
		m.AddToolResult(call.ID, call.Name, remainingAbandoned)
	}
}

// Export projects the log into plain records.
func (m *Memory) Export() []session.Record {
	return session.ExportHistory(m.history)
}

// Import replaces the log with records previously produced by Export. On
// error the Memory is left unchanged.
func (m *Memory) Import(records []session.Record) error {
	messages, err := session.ImportHistory(records)
	if err != nil {
		return err
	}
	m.history = messages
	m.interrupt = nil
	m.confirmation = nil
	return nil
}
