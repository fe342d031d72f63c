package session

import (
	"encoding/json"
	"reflect"
	"testing"
)

func sampleHistory() []Message {
	return []Message{
		SystemMessage("be helpful"),
		UserMessage("add 2 and 3"),
		{
			Role:             RoleAssistant,
			ReasoningContent: "use the calculator",
			ToolCalls: []ToolCall{
				{ID: "call_1", Name: "calculator", Arguments: map[string]any{"op": "add", "a": 2.0, "b": 3.0}},
			},
		},
		ToolResult("call_1", "calculator", "5"),
		{Role: RoleAssistant, Content: "The answer is 5."},
	}
}

func TestExportOnlyCarriesPresentFields(t *testing.T) {
	records := ExportHistory(sampleHistory())
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}
	if _, ok := records[1]["tool_calls"]; ok {
		t.Error("user record should not carry tool_calls")
	}
	if _, ok := records[2]["content"]; ok {
		t.Error("assistant tool-call record should not carry empty content")
	}
	if records[3]["tool_call_id"] != "call_1" || records[3]["name"] != "calculator" {
		t.Errorf("tool record lost correlation: %v", records[3])
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	original := sampleHistory()

	direct, err := ImportHistory(ExportHistory(original))
	if err != nil {
		t.Fatalf("ImportHistory: %v", err)
	}
	if !reflect.DeepEqual(direct, original) {
		t.Fatalf("direct round trip mismatch:\n got %#v\nwant %#v", direct, original)
	}

	// Through JSON, as a persisted transcript would be.
	data, err := json.Marshal(ExportHistory(original))
	if err != nil {
		t.Fatal(err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatal(err)
	}
	viaJSON, err := ImportHistory(records)
	if err != nil {
		t.Fatalf("ImportHistory via JSON: %v", err)
	}
	if !reflect.DeepEqual(viaJSON, original) {
		t.Fatalf("JSON round trip mismatch:\n got %#v\nwant %#v", viaJSON, original)
	}
}

func TestImportRejectsBadRecords(t *testing.T) {
	cases := []struct {
		name   string
		record Record
	}{
		{"unknown role", Record{"role": "robot"}},
		{"tool without id", Record{"role": "tool", "name": "calculator", "content": "5"}},
		{"tool without name", Record{"role": "tool", "tool_call_id": "x", "content": "5"}},
		{"nameless call", Record{"role": "assistant", "tool_calls": []any{map[string]any{"id": "a"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ImportHistory([]Record{tc.record}); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}
