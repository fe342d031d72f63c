package tools

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

var datasetIDPattern = regexp.MustCompile(`dataset_id=(\w+)`)

type datasetHarness struct {
	t     *testing.T
	root  string
	reg   *DatasetRegistry
	tools map[string]Tool
}

func newDatasetHarness(t *testing.T) *datasetHarness {
	t.Helper()
	root := t.TempDir()
	h := &datasetHarness{t: t, root: root, reg: NewDatasetRegistry(), tools: make(map[string]Tool)}
	for _, tool := range DatasetTools(h.reg, newGuard(t, root, []string{"secret/**"}, nil)) {
		h.tools[tool.Name()] = tool
	}
	return h
}

func (h *datasetHarness) file(name, content string) string {
	h.t.Helper()
	p := filepath.Join(h.root, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		h.t.Fatal(err)
	}
	return p
}

func (h *datasetHarness) call(name string, args map[string]any) string {
	h.t.Helper()
	tool, ok := h.tools[name]
	if !ok {
		h.t.Fatalf("no tool %s", name)
	}
	got, err := tool.Execute(context.Background(), args)
	if err != nil {
		h.t.Fatalf("%s(%v): %v", name, args, err)
	}
	return got
}

// created returns the dataset id announced in a tool result.
func (h *datasetHarness) created(result string) string {
	h.t.Helper()
	m := datasetIDPattern.FindStringSubmatch(result)
	if m == nil {
		h.t.Fatalf("no dataset id in %q", result)
	}
	return m[1]
}

const weatherCSV = "city,temp,note\nOslo,3,cold\nRome,18,\nOslo,5,NA\nLima,\"1,200\",x\n"

func TestDatasetWorkflow(t *testing.T) {
	h := newDatasetHarness(t)
	loaded := h.call("load_dataset", map[string]any{"path": h.file("weather.csv", weatherCSV)})
	if !strings.HasPrefix(loaded, "Loaded dataset 'weather.csv' as dataset_id=") || !strings.HasSuffix(loaded, "(4 rows, 3 columns).") {
		t.Fatalf("load = %q", loaded)
	}
	id := h.created(loaded)

	tests := []struct {
		tool string
		args map[string]any
		want string
	}{
		{"dataset_head", map[string]any{"dataset_id": id, "n": 2.0},
			"| city | temp | note |\n| --- | --- | --- |\n| Oslo | 3 | cold |\n| Rome | 18 |  |"},
		{"dataset_tail", map[string]any{"dataset_id": id, "n": 1.0},
			"| city | temp | note |\n| --- | --- | --- |\n| Lima | 1,200 | x |"},
		{"dataset_head", map[string]any{"dataset_id": id, "n": 0.0},
			"| city | temp | note |\n| --- | --- | --- |"},
		{"dataset_value_counts", map[string]any{"dataset_id": id, "column": "city"},
			"| value | count |\n| --- | --- |\n| Oslo | 2 |\n| Rome | 1 |\n| Lima | 1 |"},
		{"dataset_value_counts", map[string]any{"dataset_id": id, "column": "note", "include_missing": false, "top_n": 1.0},
			"| value | count |\n| --- | --- |\n| cold | 1 |"},
		{"dataset_value_counts", map[string]any{"dataset_id": id, "column": "nope"},
			"Error: Unknown column 'nope'. Available: city, temp, note"},
		{"dataset_select_columns", map[string]any{"dataset_id": id, "columns": []any{"city", "nope"}},
			"Error: Unknown columns: nope"},
		{"dataset_groupby_agg", map[string]any{"dataset_id": id, "group_by": []any{"city"}, "agg": "mean"},
			"Error: value_column is required unless agg='count'."},
		{"dataset_head", map[string]any{"dataset_id": "zzz"},
			"Error: Unknown dataset_id 'zzz'."},
	}
	for _, tt := range tests {
		if got := h.call(tt.tool, tt.args); got != tt.want {
			t.Errorf("%s(%v) =\n%s\nwant\n%s", tt.tool, tt.args, got, tt.want)
		}
	}

	info := h.call("dataset_info", map[string]any{"dataset_id": id})
	for _, want := range []string{"rows: 4", "- city: type=text, missing=0", "- temp: type=numeric, missing=0", "- note: type=text, missing=2"} {
		if !strings.Contains(info, want) {
			t.Errorf("info missing %q:\n%s", want, info)
		}
	}

	describe := h.call("dataset_describe", map[string]any{"dataset_id": id, "columns": []any{"temp"}})
	if !strings.Contains(describe, "| temp | 4 | 306.5 |") || !strings.HasSuffix(describe, "| 3 | 4.5 | 11.5 | 313.5 | 1200 |") {
		t.Errorf("describe =\n%s", describe)
	}

	filtered := h.call("dataset_filter", map[string]any{
		"dataset_id": id,
		"conditions": []any{
			map[string]any{"column": "temp", "op": ">", "value": 4.0},
			map[string]any{"column": "city", "op": "!=", "value": "Rome"},
		},
	})
	if !strings.HasSuffix(filtered, "with 2 rows (from 4).") {
		t.Fatalf("filter = %q", filtered)
	}
	got := h.call("dataset_head", map[string]any{"dataset_id": h.created(filtered)})
	if got != "| city | temp | note |\n| --- | --- | --- |\n| Oslo | 5 |  |\n| Lima | 1,200 | x |" {
		t.Errorf("filtered head =\n%s", got)
	}

	sorted := h.call("dataset_sort", map[string]any{"dataset_id": id, "by": []any{"temp"}, "ascending": false})
	got = h.call("dataset_head", map[string]any{"dataset_id": h.created(sorted), "n": 2.0})
	if got != "| city | temp | note |\n| --- | --- | --- |\n| Lima | 1,200 | x |\n| Rome | 18 |  |" {
		t.Errorf("sorted head =\n%s", got)
	}

	grouped := h.call("dataset_groupby_agg", map[string]any{"dataset_id": id, "group_by": []any{"city"}, "agg": "sum", "value_column": "temp"})
	got = h.call("dataset_head", map[string]any{"dataset_id": h.created(grouped)})
	if got != "| city | sum(temp) |\n| --- | --- |\n| Oslo | 8 |\n| Rome | 18 |\n| Lima | 1200 |" {
		t.Errorf("grouped head =\n%s", got)
	}

	if got := h.call("dataset_head", map[string]any{"dataset_id": id, "n": 2.0}); !strings.Contains(got, "| Oslo | 3 | cold |") {
		t.Errorf("source dataset changed by derived operations:\n%s", got)
	}

	list := h.call("list_datasets", map[string]any{})
	if lines := strings.Split(list, "\n"); len(lines) != 4 || !strings.HasPrefix(lines[0], "- "+id+": weather.csv (4 rows, 3 cols)") {
		t.Errorf("list =\n%s", list)
	}
	if got := h.call("remove_dataset", map[string]any{"dataset_id": id}); got != "Removed dataset 'weather.csv' (dataset_id="+id+")." {
		t.Errorf("remove = %q", got)
	}
	if got := h.call("clear_datasets", map[string]any{}); got != "Cleared 3 dataset(s)." {
		t.Errorf("clear = %q", got)
	}
	if got := h.call("list_datasets", map[string]any{}); got != "No datasets loaded." {
		t.Errorf("list after clear = %q", got)
	}
}

func TestLoadDatasetFormats(t *testing.T) {
	h := newDatasetHarness(t)
	tests := []struct {
		name    string
		file    string
		content string
		args    map[string]any
		head    string
	}{
		{
			name:    "json under data key keeps key order",
			file:    "d.json",
			content: `{"meta": 1, "data": [{"b": 1, "a": "x"}, {"a": "y", "c": null}, 5]}`,
			head:    "| b | a | c |\n| --- | --- | --- |\n| 1 | x |  |\n|  | y |  |",
		},
		{
			name:    "json scalar",
			file:    "s.json",
			content: `42`,
			head:    "| value |\n| --- |\n| 42 |",
		},
		{
			name:    "jsonl skips bad lines",
			file:    "l.jsonl",
			content: "{\"a\": 1.50}\nnot json\n\n7\n",
			head:    "| a | value |\n| --- | --- |\n| 1.50 |  |\n|  | 7 |",
		},
		{
			name:    "csv delimiter and max rows",
			file:    "t.txt",
			content: "x;y\n1;2\n3;4\n",
			args:    map[string]any{"format": "csv", "delimiter": ";", "max_rows": 1.0},
			head:    "| x | y |\n| --- | --- |\n| 1 | 2 |",
		},
		{
			name:    "latin-1 csv",
			file:    "l1.csv",
			content: "name\nJos\xe9\n",
			args:    map[string]any{"encoding": "latin1"},
			head:    "| name |\n| --- |\n| José |",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := map[string]any{"path": h.file(tt.file, tt.content)}
			for k, v := range tt.args {
				args[k] = v
			}
			id := h.created(h.call("load_dataset", args))
			if got := h.call("dataset_head", map[string]any{"dataset_id": id}); got != tt.head {
				t.Fatalf("head =\n%s\nwant\n%s", got, tt.head)
			}
		})
	}

	if got := h.call("load_dataset", map[string]any{"path": h.file("x.xlsx", "")}); got != "Error: Unsupported format 'auto'. Supported: csv, json, jsonl." {
		t.Errorf("xlsx load = %q", got)
	}
	if got := h.call("load_dataset", map[string]any{"path": filepath.Join(h.root, "..", "out.csv")}); !strings.HasPrefix(got, "Security error: Path traversal blocked") {
		t.Errorf("outside load = %q", got)
	}
	if got := h.call("load_dataset", map[string]any{"path": h.file("bad.json", "{")}); !strings.HasPrefix(got, "Error: Failed to load dataset:") {
		t.Errorf("bad json load = %q", got)
	}
}

func TestExportDataset(t *testing.T) {
	h := newDatasetHarness(t)
	id := h.created(h.call("load_dataset", map[string]any{"path": h.file("w.csv", weatherCSV)}))
	export := h.tools["export_dataset"].(*ExportDatasetTool)

	out := filepath.Join(h.root, "out", "w.jsonl")
	args := map[string]any{"dataset_id": id, "path": out, "format": "jsonl"}
	if msg := export.ConfirmationMessage(args); msg != "Export dataset '"+id+"' to '"+out+"' as jsonl" {
		t.Errorf("confirmation message = %q", msg)
	}
	if got := h.call("export_dataset", args); got != "Exported dataset_id="+id+" to "+out+" (jsonl)." {
		t.Fatalf("export = %q", got)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	first, _, _ := strings.Cut(string(data), "\n")
	if first != `{"city": "Oslo", "temp": "3", "note": "cold"}` {
		t.Errorf("first jsonl line = %q", first)
	}

	if got := h.call("export_dataset", args); !strings.HasPrefix(got, "Error: Output file already exists") {
		t.Errorf("second export = %q", got)
	}

	csvOut := filepath.Join(h.root, "w2.csv")
	h.call("export_dataset", map[string]any{"dataset_id": id, "path": csvOut, "format": "csv"})
	reloaded := h.created(h.call("load_dataset", map[string]any{"path": csvOut}))
	before := h.call("dataset_head", map[string]any{"dataset_id": id})
	if after := h.call("dataset_head", map[string]any{"dataset_id": reloaded}); after != before {
		t.Errorf("csv round trip changed rows:\n%s\nwant\n%s", after, before)
	}

	tests := []struct {
		args map[string]any
		want string
	}{
		{map[string]any{"dataset_id": id, "path": filepath.Join(h.root, "secret", "x.csv"), "format": "csv"}, "hidden"},
		{map[string]any{"dataset_id": id, "path": filepath.Join(h.root, "x.xlsx"), "format": "xlsx"}, "Unsupported format 'xlsx'"},
		{map[string]any{"dataset_id": "zzz", "path": "x.csv", "format": "csv"}, "Unknown dataset_id"},
	}
	for _, tt := range tests {
		if got := h.call("export_dataset", tt.args); !strings.Contains(got, tt.want) {
			t.Errorf("export(%v) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestPercentile(t *testing.T) {
	xs := []float64{3, 5, 18, 1200}
	tests := []struct {
		p, want float64
	}{
		{0, 3}, {0.25, 4.5}, {0.5, 11.5}, {0.75, 313.5}, {1, 1200},
	}
	for _, tt := range tests {
		if got := percentile(xs, tt.p); got != tt.want {
			t.Errorf("percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
	if got := percentile([]float64{7}, 0.9); got != 7 {
		t.Errorf("single value percentile = %v", got)
	}
}
