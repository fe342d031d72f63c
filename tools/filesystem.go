package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/m4xw311/tandem/errors"
)

// fileError renders the failures a file tool reports back to the model
// instead of failing the call.
func fileError(action, path string, err error) string {
	var traversal *PathTraversalError
	switch {
	case errors.As(err, &traversal):
		return fmt.Sprintf("Security error: %v", err)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Sprintf("Error: %s not found: %s", map[string]string{"list": "Directory", "read": "File"}[action], path)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Sprintf("Error: Permission denied: %s", path)
	}
	switch action {
	case "list":
		return fmt.Sprintf("Error listing directory %s: %v", path, err)
	case "read":
		return fmt.Sprintf("Error reading file %s: %v", path, err)
	default:
		return fmt.Sprintf("Error writing to file %s: %v", path, err)
	}
}

// ReadFileTool implements the tool for reading a file.
type ReadFileTool struct {
	guard *PathGuard
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read the contents of a file." }
func (t *ReadFileTool) Parameters() map[string]any {
	return objectSchema([]string{"path"}, map[string]any{
		"path": stringProp("The path to the file to read."),
	})
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, ok := StringArg(args, "path")
	if !ok {
		return "", &ValidationError{Tool: t.Name(), Problems: []string{"missing or invalid 'path' argument"}}
	}
	resolved, err := t.guard.Resolve(path)
	if err != nil {
		return fileError("read", path, err), nil
	}
	if t.guard.Hidden(path) {
		return fmt.Sprintf("Error: access denied: path '%s' is hidden", path), nil
	}
	content, err := os.ReadFile(resolved)
	if err != nil {
		return fileError("read", path, err), nil
	}
	if !utf8.Valid(content) {
		return fmt.Sprintf("Error: File is not a text file: %s", path), nil
	}
	return string(content), nil
}

// WriteFileTool implements the tool for writing to a file. Writes need
// confirmation unless auto-approved under the "write" operation.
type WriteFileTool struct {
	guard *PathGuard
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Write content to a file. Creates the file if it doesn't exist, overwrites if it does."
}
func (t *WriteFileTool) Parameters() map[string]any {
	return objectSchema([]string{"path", "content"}, map[string]any{
		"path":    stringProp("The path to the file to write."),
		"content": stringProp("The content to write to the file."),
	})
}

func (t *WriteFileTool) ConfirmationSpec() ConfirmationSpec {
	return ConfirmationSpec{Operation: "write", CheckArg: "path"}
}

func (t *WriteFileTool) ConfirmationMessage(args map[string]any) string {
	path, _ := StringArg(args, "path")
	content, _ := StringArg(args, "content")
	return fmt.Sprintf("Write %d characters to '%s'", utf8.RuneCountInString(content), path)
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, pathOk := StringArg(args, "path")
	content, contentOk := StringArg(args, "content")
	if !pathOk || !contentOk {
		return "", &ValidationError{Tool: t.Name(), Problems: []string{"missing or invalid 'path' or 'content' arguments"}}
	}
	resolved, err := t.guard.Resolve(path)
	if err != nil {
		return fileError("write", path, err), nil
	}
	if t.guard.Hidden(path) {
		return fmt.Sprintf("Error: access denied: path '%s' is hidden", path), nil
	}
	if t.guard.ReadOnly(path) {
		return fmt.Sprintf("Error: access denied: path '%s' is read-only", path), nil
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fileError("write", path, err), nil
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return fileError("write", path, err), nil
	}
	return fmt.Sprintf("Successfully wrote %d characters to %s", utf8.RuneCountInString(content), path), nil
}

// ListDirectoryTool lists one directory level. Hidden entries are omitted
// and directories carry a trailing slash.
type ListDirectoryTool struct {
	guard *PathGuard
}

func (t *ListDirectoryTool) Name() string { return "list_directory" }
func (t *ListDirectoryTool) Description() string {
	return "List the contents of a directory. Returns a list of file and directory names."
}
func (t *ListDirectoryTool) Parameters() map[string]any {
	return objectSchema(nil, map[string]any{
		"path": map[string]any{
			"type":        "string",
			"description": "The directory path to list. Defaults to current directory.",
			"default":     ".",
		},
	})
}

func (t *ListDirectoryTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, _ := StringArg(args, "path")
	if path == "" {
		path = "."
	}
	resolved, err := t.guard.Resolve(path)
	if err != nil {
		return fileError("list", path, err), nil
	}
	if t.guard.Hidden(path) {
		return fmt.Sprintf("Error: access denied: path '%s' is hidden", path), nil
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return fileError("list", path, err), nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if t.guard.Hidden(filepath.Join(path, e.Name())) {
			continue
		}
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return "(empty directory)", nil
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}
