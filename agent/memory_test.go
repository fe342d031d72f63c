package agent

import (
	"testing"

	"github.com/m4xw311/tandem/session"
)

func TestMemoryPendingSlot(t *testing.T) {
	m := NewMemory()
	if m.HasPending() {
		t.Fatalf("new memory has a pending pause")
	}

	remaining := []session.ToolCall{{ID: "c3", Name: "x"}}
	m.SetPendingInterrupt(PendingInterrupt{InterruptInfo: InterruptInfo{ToolCallID: "c2"}, Remaining: remaining})
	remaining[0].ID = "changed"
	if got := m.PendingInterrupt().Remaining[0].ID; got != "c3" {
		t.Fatalf("remaining aliased caller slice: %s", got)
	}

	m.SetPendingConfirmation(PendingConfirmation{ConfirmationInfo: ConfirmationInfo{ToolCallID: "c5"}})
	if m.PendingInterrupt() != nil {
		t.Fatalf("setting a confirmation kept the interrupt")
	}
	if c := m.TakeConfirmation(); c == nil || c.ToolCallID != "c5" {
		t.Fatalf("TakeConfirmation = %+v", c)
	}
	if m.HasPending() || m.TakeConfirmation() != nil {
		t.Fatalf("slot not cleared")
	}
}

func TestMemoryClear(t *testing.T) {
	tests := []struct {
		name       string
		first      session.Message
		keepSystem bool
		want       int
	}{
		{name: "keep system", first: session.SystemMessage("sys"), keepSystem: true, want: 1},
		{name: "drop system", first: session.SystemMessage("sys"), keepSystem: false, want: 0},
		{name: "no system to keep", first: session.UserMessage("hi"), keepSystem: true, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMemory()
			m.Add(tt.first)
			m.Add(session.UserMessage("more"))
			m.SetPendingInterrupt(PendingInterrupt{InterruptInfo: InterruptInfo{ToolCallID: "c1"}})
			m.Clear(tt.keepSystem)
			if m.Len() != tt.want {
				t.Fatalf("Len = %d, want %d", m.Len(), tt.want)
			}
			if m.HasPending() {
				t.Fatalf("Clear kept the pending pause")
			}
		})
	}
}

func TestMemoryMessagesIsACopy(t *testing.T) {
	m := NewMemory()
	m.Add(session.UserMessage("original"))
	msgs := m.Messages()
	msgs[0].Content = "changed"
	if m.Messages()[0].Content != "original" {
		t.Fatalf("Messages exposed internal storage")
	}
}

func TestMemoryCleanupWithoutPause(t *testing.T) {
	m := NewMemory()
	m.Add(session.UserMessage("hi"))
	m.CleanupPendingState()
	if m.Len() != 1 {
		t.Fatalf("cleanup without a pause appended %d messages", m.Len()-1)
	}
}

func TestMemoryImport(t *testing.T) {
	m := NewMemory()
	m.Add(session.UserMessage("keep me"))

	bad := []session.Record{{"role": "user", "content": "ok"}, {"role": "robot"}}
	if err := m.Import(bad); err == nil {
		t.Fatalf("Import accepted an unknown role")
	}
	if m.Len() != 1 || m.Messages()[0].Content != "keep me" {
		t.Fatalf("failed Import changed memory")
	}

	if err := m.Import([]session.Record{{"role": "tool", "content": "x"}}); err == nil {
		t.Fatalf("Import accepted a tool record without id and name")
	}

	src := NewMemory()
	src.Add(session.SystemMessage("sys"))
	src.Add(session.Message{Role: session.RoleAssistant, ToolCalls: []session.ToolCall{{ID: "c1", Name: "calculator", Arguments: map[string]any{"op": "add"}}}})
	src.AddToolResult("c1", "calculator", "5")
	if err := m.Import(src.Export()); err != nil {
		t.Fatalf("Import: %v", err)
	}
	got := m.Messages()
	if len(got) != 3 || got[1].ToolCalls[0].Arguments["op"] != "add" || got[2].ToolCallID != "c1" {
		t.Fatalf("imported = %+v", got)
	}
}

func TestMemoryCleanupAnswersEveryQueuedCall(t *testing.T) {
	queued := []session.ToolCall{{ID: "c3", Name: "read_file"}, {ID: "c4", Name: "calculator"}}
	tests := []struct {
		name  string
		pause func(m *Memory)
		first string
	}{
		{
			name: "confirmation",
			pause: func(m *Memory) {
				m.SetPendingConfirmation(PendingConfirmation{
					ConfirmationInfo: ConfirmationInfo{ToolCallID: "c2", ToolName: "write_file"},
					Remaining:        queued,
				})
			},
			first: "Operation abandoned: user sent a new message before confirming.",
		},
		{
			name: "interrupt",
			pause: func(m *Memory) {
				m.SetPendingInterrupt(PendingInterrupt{
					InterruptInfo: InterruptInfo{ToolCallID: "c2", ToolName: "ask_user"},
					Remaining:     queued,
				})
			},
			first: "Question abandoned: user sent a new message before responding.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMemory()
			tt.pause(m)
			m.CleanupPendingState()
			msgs := m.Messages()
			if len(msgs) != 3 || m.HasPending() {
				t.Fatalf("cleanup left %d messages, pending %v", len(msgs), m.HasPending())
			}
			want := []struct{ id, content string }{
				{"c2", tt.first},
				{"c3", "Skipped: user sent a new message before this call ran."},
				{"c4", "Skipped: user sent a new message before this call ran."},
			}
			for i, w := range want {
				if msgs[i].Role != session.RoleTool || msgs[i].ToolCallID != w.id || msgs[i].Content != w.content {
					t.Errorf("message %d = %+v, want result %q for %s", i, msgs[i], w.content, w.id)
				}
			}
		})
	}
}
