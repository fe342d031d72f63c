package tools

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestCodeValidator(t *testing.T) {
	v := NewCodeValidator()
	tests := []struct {
		name string
		code string
		want string // substring of the rejection, "" when accepted
	}{
		{"allowed import", "import math\nprint(math.pi)", ""},
		{"submodule of allowed", "import collections.abc", ""},
		{"blocked import", "import os", "Import of 'os' is blocked for security"},
		{"blocked from import", "from subprocess import run", "Import of 'subprocess' is blocked"},
		{"blocked dotted", "from os.path import join", "Import of 'os.path' is blocked"},
		{"second alias", "import math, sys as s", "Import of 'sys' is blocked"},
		{"after semicolon", "x = 1; import socket", "Import of 'socket' is blocked"},
		{"not allowed", "import numpy as np", "Import of 'numpy' is not in the allowed list"},
		{"blocked builtin", "print(eval('1+1'))", "Function 'eval' is blocked for security"},
		{"dunder import", "m = __import__('os')", "Function '__import__' is blocked"},
		{"open with spaces", "f = open ('x')", "Function 'open' is blocked"},
		{"method named like builtin", "obj.eval(1)", ""},
		{"identifier suffix", "my_open(1)", ""},
		{"inside string", "print('import os; eval(1)')", ""},
		{"inside triple string", "s = \"\"\"\nimport os\n\"\"\"\nprint(s)", ""},
		{"inside comment", "# import os\nprint(1)", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.code)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate(%q) = %v, want nil", tt.code, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate(%q) = %v, want %q", tt.code, err, tt.want)
			}
		})
	}
}

func TestPythonREPLRejectsBeforeRunning(t *testing.T) {
	tool := NewPythonREPLTool("definitely-not-python-xyz", time.Second)
	got, err := tool.Execute(context.Background(), map[string]any{"code": "import shutil"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "Security error: Import of 'shutil' is blocked for security" {
		t.Fatalf("result = %q", got)
	}
	got, _ = tool.Execute(context.Background(), map[string]any{"code": "print(1)"})
	if got != "Error: Python interpreter not found: definitely-not-python-xyz" {
		t.Fatalf("missing interpreter result = %q", got)
	}
	if msg := tool.ConfirmationMessage(map[string]any{"code": "print(1)"}); msg != "Execute Python code (8 characters)" {
		t.Errorf("confirmation message = %q", msg)
	}
	if _, err := tool.Execute(context.Background(), map[string]any{}); err == nil {
		t.Error("expected validation error without code")
	}
}

func TestPythonREPLRuns(t *testing.T) {
	python, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not installed")
	}
	tool := NewPythonREPLTool(python, 10*time.Second)
	tests := []struct {
		name string
		code string
		want string
	}{
		{"prints", "import math\nprint(math.sqrt(16))", "4.0\n"},
		{"classes", "class P:\n    x = 2\nprint(P.x * 3)", "6\n"},
		{"silent", "x = 1", "(No output)"},
		{"runtime error", "print('a')\n1/0", "a\nError: ZeroDivisionError: division by zero"},
		{"dynamic import", "import importlib", "Security error: Import of 'importlib' is blocked for security"},
		{"getattr escape", "f = globals", "Error: NameError: name 'globals' is not defined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tool.Execute(context.Background(), map[string]any{"code": tt.code})
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("result = %q, want %q", got, tt.want)
			}
		})
	}
}
