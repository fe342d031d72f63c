package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/m4xw311/tandem/errors"
)

// RunCommandTool runs a single command without a shell. Every run needs
// confirmation unless the command line is auto-approved under "execute".
type RunCommandTool struct {
	policy *CommandPolicy
}

func (t *RunCommandTool) Name() string { return "run_command" }
func (t *RunCommandTool) Description() string {
	desc := "Execute a shell command. Some dangerous commands are blocked for security. " +
		"Commands with shell operators (;, &&, |, etc.) are not supported."
	if len(t.policy.allowed) == 0 {
		return desc
	}
	var b strings.Builder
	b.WriteString(desc)
	b.WriteString("\nAllowed command patterns:\n")
	for _, re := range t.policy.allowed {
		fmt.Fprintf(&b, "- %s\n", re.String())
	}
	return b.String()
}
func (t *RunCommandTool) Parameters() map[string]any {
	return objectSchema([]string{"command"}, map[string]any{
		"command": stringProp("The command to execute (without shell operators)."),
	})
}

func (t *RunCommandTool) ConfirmationSpec() ConfirmationSpec {
	return ConfirmationSpec{Operation: "execute", CheckArg: "command"}
}

func (t *RunCommandTool) ConfirmationMessage(args map[string]any) string {
	command, _ := StringArg(args, "command")
	return fmt.Sprintf("Execute command: '%s'", command)
}

func (t *RunCommandTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	command, ok := StringArg(args, "command")
	if !ok {
		return "", &ValidationError{Tool: t.Name(), Problems: []string{"missing or invalid 'command' argument"}}
	}
	parts, err := t.policy.Check(command)
	if err != nil {
		return fmt.Sprintf("Security error: %v", err), nil
	}

	stdout, stderr, code := t.run(ctx, parts)
	output := stdout
	if stderr != "" {
		output += "\nError Output:\n" + stderr
	}
	if code != 0 {
		output += fmt.Sprintf("\n(Exit code: %d)", code)
	}
	if strings.TrimSpace(output) == "" {
		return "(No output)", nil
	}
	return output, nil
}

func (t *RunCommandTool) run(ctx context.Context, parts []string) (string, string, int) {
	ctx, cancel := context.WithTimeout(ctx, t.policy.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil {
		return stdout.String(), stderr.String(), 0
	}
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Sprintf("Command timed out after %s", t.policy.Timeout), -1
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.String(), stderr.String(), exitErr.ExitCode()
	}
	if errors.Is(err, exec.ErrNotFound) {
		return "", fmt.Sprintf("Command not found: %s", parts[0]), 127
	}
	return "", fmt.Sprintf("Permission denied: %s", parts[0]), 126
}
