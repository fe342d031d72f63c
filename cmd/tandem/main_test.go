package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/m4xw311/tandem/agent"
	"github.com/m4xw311/tandem/session"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("LLM_PROVIDER", "scripted")
	t.Setenv("TANDEM_LOG_LEVEL", "error")
	t.Chdir(dir)
	return dir
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    agent.Mode
		wantErr bool
	}{
		{"", agent.ModePrompt, false},
		{"prompt", agent.ModePrompt, false},
		{"auto", agent.ModeAuto, false},
		{"yolo", "", true},
	}
	for _, tt := range tests {
		got, err := parseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("parseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("parseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"-m", "auto", "-t", "readonly", "-rpc", "list", "files"}, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if opts.mode != "auto" || opts.toolset != "readonly" || !opts.rpc {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if opts.prompt != "list files" {
		t.Fatalf("prompt = %q", opts.prompt)
	}

	if _, err := parseFlags([]string{"-nope"}, io.Discard); err == nil {
		t.Fatal("expected an error for an unknown flag")
	}
}

func TestDefaultSessionName(t *testing.T) {
	dir := isolate(t)
	now := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	want := filepath.Base(dir) + "_2024-03-05_14-07-09"
	if got := defaultSessionName(now); got != want {
		t.Fatalf("defaultSessionName = %q, want %q", got, want)
	}
}

func TestRunRejectsInvalidMode(t *testing.T) {
	isolate(t)
	var stderr bytes.Buffer
	code := run(context.Background(), []string{"-m", "yolo"}, strings.NewReader(""), io.Discard, &stderr)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "invalid mode 'yolo'") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunTerminalSavesTranscript(t *testing.T) {
	dir := isolate(t)
	var stdout, stderr bytes.Buffer
	in := strings.NewReader("/quit\n")
	code := run(context.Background(), []string{"-s", "demo", "hello"}, in, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Tandem: I am a scripted client. You said: 'hello'.") {
		t.Fatalf("stdout = %q", stdout.String())
	}

	store := session.NewStore(filepath.Join(dir, session.DefaultDir))
	tr, err := store.Load("demo")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tr.Mode != "prompt" || tr.Toolset != "default" {
		t.Fatalf("transcript mode/toolset = %q/%q", tr.Mode, tr.Toolset)
	}
	if len(tr.History) != 3 {
		t.Fatalf("history has %d records, want 3 (system, user, assistant)", len(tr.History))
	}

	// resuming keeps the conversation
	stdout.Reset()
	code = run(context.Background(), []string{"-r", "demo"}, strings.NewReader("/history\n/quit\n"), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("resume exit code = %d, stderr = %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Resuming session: demo") || !strings.Contains(stdout.String(), "hello") {
		t.Fatalf("resume stdout = %q", stdout.String())
	}
}

func TestRunRPC(t *testing.T) {
	isolate(t)
	in := strings.NewReader(strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","id":2,"method":"session/new","params":{}}`,
	}, "\n") + "\n")
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-rpc"}, in, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr.String())
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines on stdout: %q", len(lines), stdout.String())
	}
	var resp struct {
		ID     int `json:"id"`
		Result struct {
			SessionID string `json:"sessionId"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(lines[1]), &resp); err != nil {
		t.Fatalf("decode %q: %v", lines[1], err)
	}
	if resp.ID != 2 || resp.Result.SessionID == "" {
		t.Fatalf("unexpected session/new response: %s", lines[1])
	}
}

func TestRunWorkerModeNeedsWorkers(t *testing.T) {
	isolate(t)
	var stderr bytes.Buffer
	code := run(context.Background(), []string{"-worker"}, strings.NewReader(""), io.Discard, &stderr)
	if code != 1 || !strings.Contains(stderr.String(), "-worker requires") {
		t.Fatalf("code = %d, stderr = %q", code, stderr.String())
	}
}

func TestRunWorkerMode(t *testing.T) {
	dir := isolate(t)
	cfg := `workers:
  - name: researcher
    description: Looks things up
    toolset: default
`
	if err := os.MkdirAll(filepath.Join(dir, ".tandem"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".tandem", "config.yaml"), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-worker", "-s", "sup", "hi"}, strings.NewReader(""), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "You said: 'hi'") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}
