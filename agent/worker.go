package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/m4xw311/tandem/errors"
	"github.com/m4xw311/tandem/llm"
	"github.com/m4xw311/tandem/session"
	"github.com/m4xw311/tandem/tools"
)

// Prompter asks a human on behalf of an interactive worker.
type Prompter interface {
	Ask(ctx context.Context, question string) (string, error)
	Confirm(ctx context.Context, message string) (bool, error)
}

// LinePrompter reads answers line by line from In and writes prompts to
// Out.
type LinePrompter struct {
	In  *bufio.Reader
	Out io.Writer
}

// NewStdinPrompter prompts on the process terminal.
func NewStdinPrompter() *LinePrompter {
	return &LinePrompter{In: bufio.NewReader(os.Stdin), Out: os.Stdout}
}

func (p *LinePrompter) readLine() (string, error) {
	line, err := p.In.ReadString('\n')
	if err != nil && (line == "" || err != io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (p *LinePrompter) Ask(ctx context.Context, question string) (string, error) {
	fmt.Fprintf(p.Out, "\n[Question] %s\nYour answer: ", question)
	return p.readLine()
}

func (p *LinePrompter) Confirm(ctx context.Context, message string) (bool, error) {
	fmt.Fprintf(p.Out, "\n[Confirmation] %s\nProceed? [y/N]: ", message)
	answer, err := p.readLine()
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes", nil
}

// Worker is a specialised agent the supervisor delegates to. Its history
// persists across tasks until Clear is called.
type Worker struct {
	Name        string
	Description string
	// Interactive workers answer their own pauses through Prompter.
	// Otherwise a pause ends the task with a placeholder result.
	Interactive bool
	Prompter    Prompter

	agent *Agent
}

// NewWorker wraps agent as a named worker.
func NewWorker(name, description string, agent *Agent) *Worker {
	return &Worker{Name: name, Description: description, agent: agent}
}

// Agent returns the worker's underlying agent.
func (w *Worker) Agent() *Agent { return w.agent }

// Execute runs task to the end and returns the worker's final text. Only
// authentication failures are returned as errors.
func (w *Worker) Execute(ctx context.Context, task string) (string, error) {
	res, err := w.agent.Run(ctx, task)
	for {
		if err != nil {
			return "", err
		}
		switch res.State {
		case StateCompleted:
			if res.Content == "" {
				return "Task completed with no output.", nil
			}
			return res.Content, nil
		case StateError:
			return fmt.Sprintf("Error: %v", res.Err), nil
		case StateInterrupted:
			if !w.Interactive {
				return fmt.Sprintf("Worker interrupted: %s", res.Interrupt.Question), nil
			}
			answer, perr := w.prompter().Ask(ctx, res.Interrupt.Question)
			if perr != nil {
				return "Worker interrupted: user cancelled input.", nil
			}
			res, err = w.agent.Resume(ctx, res.Interrupt.ToolCallID, answer)
		case StateAwaitingConfirmation:
			if !w.Interactive {
				return fmt.Sprintf("Worker needs confirmation: %s", res.Confirmation.Message), nil
			}
			ok, perr := w.prompter().Confirm(ctx, res.Confirmation.Message)
			if perr != nil {
				ok = false
			}
			res, err = w.agent.ResumeConfirmation(ctx, res.Confirmation.ToolCallID, ok)
		default:
			return "", errors.New("unexpected agent state %q", res.State)
		}
	}
}

// ExecuteWithContext runs task with background information placed ahead
// of it.
func (w *Worker) ExecuteWithContext(ctx context.Context, task, background string) (string, error) {
	if background != "" {
		task = background + "\n\n" + task
	}
	return w.Execute(ctx, task)
}

// History exports the worker's conversation.
func (w *Worker) History() []session.Record { return w.agent.History() }

// Clear resets the worker's conversation.
func (w *Worker) Clear() { w.agent.Clear() }

func (w *Worker) prompter() Prompter {
	if w.Prompter == nil {
		w.Prompter = NewStdinPrompter()
	}
	return w.Prompter
}

// DelegateTaskTool hands a task to one of a fixed set of workers.
type DelegateTaskTool struct {
	workers []*Worker
}

// NewDelegateTaskTool offers workers to the model in the given order.
func NewDelegateTaskTool(workers []*Worker) *DelegateTaskTool {
	return &DelegateTaskTool{workers: workers}
}

func (t *DelegateTaskTool) Name() string { return "delegate_task" }

func (t *DelegateTaskTool) Description() string {
	var b strings.Builder
	b.WriteString("Delegate a task to a specialized worker agent. ")
	b.WriteString("Use this tool to assign work to the most appropriate worker.\n\nAvailable workers:")
	for _, w := range t.workers {
		fmt.Fprintf(&b, "\n  - %s: %s", w.Name, w.Description)
	}
	return b.String()
}

func (t *DelegateTaskTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"worker": map[string]any{
				"type":        "string",
				"enum":        t.names(),
				"description": "The name of the worker to assign the task to.",
			},
			"task": map[string]any{
				"type":        "string",
				"description": "A clear, specific task description for the worker. Include all necessary context and requirements.",
			},
			"context": map[string]any{
				"type":        "string",
				"description": "Optional additional context or background information that might help the worker complete the task.",
			},
		},
		"required": []string{"worker", "task"},
	}
}

func (t *DelegateTaskTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	name, _ := tools.StringArg(args, "worker")
	task, ok := tools.StringArg(args, "task")
	if !ok || task == "" {
		return "", &tools.ValidationError{Tool: t.Name(), Problems: []string{"'task' must be a non-empty string"}}
	}
	background, _ := tools.StringArg(args, "context")

	w := t.lookup(name)
	if w == nil {
		return fmt.Sprintf("Error: Unknown worker '%s'. Available workers: %s", name, strings.Join(t.names(), ", ")), nil
	}
	result, err := w.ExecuteWithContext(ctx, task, background)
	if err != nil {
		return fmt.Sprintf("Error: Worker '%s' failed with: %v", name, err), nil
	}
	return fmt.Sprintf("[%s] %s", name, result), nil
}

func (t *DelegateTaskTool) names() []string {
	names := make([]string, 0, len(t.workers))
	for _, w := range t.workers {
		names = append(names, w.Name)
	}
	return names
}

func (t *DelegateTaskTool) lookup(name string) *Worker {
	for _, w := range t.workers {
		if w.Name == name {
			return w
		}
	}
	return nil
}

// SynthesizeResultsTool formats the supervisor's combined answer.
type SynthesizeResultsTool struct{}

func (t *SynthesizeResultsTool) Name() string { return "synthesize_results" }

func (t *SynthesizeResultsTool) Description() string {
	return "Synthesize and combine results from multiple workers into a coherent final response. " +
		"Use this after gathering results from different workers to create a unified answer for the user."
}

func (t *SynthesizeResultsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary":    map[string]any{"type": "string", "description": "A concise summary of all worker results."},
			"details":    map[string]any{"type": "string", "description": "Detailed synthesis of the work done."},
			"next_steps": map[string]any{"type": "string", "description": "Optional suggested next steps or follow-up actions."},
		},
		"required": []string{"summary", "details"},
	}
}

func (t *SynthesizeResultsTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	summary, _ := tools.StringArg(args, "summary")
	details, _ := tools.StringArg(args, "details")
	out := fmt.Sprintf("## Summary\n%s\n\n## Details\n%s", summary, details)
	if next, _ := tools.StringArg(args, "next_steps"); next != "" {
		out += "\n\n## Next Steps\n" + next
	}
	return out, nil
}

// SupervisorPrompt is the default system prompt for a supervisor agent;
// FormatSupervisorPrompt fills in the worker list.
const SupervisorPrompt = `You are a supervisor agent coordinating a team of specialized workers.

You are running in a local directory with real filesystem access. When users ask about
"this project" or "this codebase", they mean the current working directory. Your workers have
tools to read files, list directories, and run commands; they should use them.

Your role is to:
1. Analyze the user's request and break it into subtasks if needed
2. Delegate tasks to the most appropriate workers using the delegate_task tool
3. Coordinate between workers when tasks have dependencies
4. Synthesize results from workers into a coherent final response

Available workers and their specializations:
{worker_descriptions}

Your job is to orchestrate, not to do the work yourself.`

// FormatSupervisorPrompt replaces {worker_descriptions} in prompt.
func FormatSupervisorPrompt(prompt string, workers []*Worker) string {
	lines := make([]string, 0, len(workers))
	for _, w := range workers {
		lines = append(lines, fmt.Sprintf("- %s: %s", w.Name, w.Description))
	}
	return strings.ReplaceAll(prompt, "{worker_descriptions}", strings.Join(lines, "\n"))
}

// NewSupervisor builds an agent whose only tools are delegate_task and
// synthesize_results over workers.
func NewSupervisor(client llm.Client, workers []*Worker, opts ...Option) *Agent {
	registry := tools.NewRegistry(nil)
	registry.Register(NewDelegateTaskTool(workers))
	registry.Register(&SynthesizeResultsTool{})
	opts = append([]Option{WithSystemPrompt(FormatSupervisorPrompt(SupervisorPrompt, workers))}, opts...)
	return New(client, registry, opts...)
}
