package tools

import (
	"context"
)

// AskUserTool lets the model ask the user a question. It never answers
// itself: Execute always returns an *InterruptRequest and the answer
// arrives later as the tool result.
type AskUserTool struct{}

func (t *AskUserTool) Name() string { return "ask_user" }
func (t *AskUserTool) Description() string {
	return "Ask the user for clarification or additional information. " +
		"Use this tool when you need more details to complete a task, " +
		"when the user's request is ambiguous, or when you want to confirm " +
		"an action before proceeding."
}
func (t *AskUserTool) Parameters() map[string]any {
	return objectSchema([]string{"question"}, map[string]any{
		"question": stringProp("The question to ask the user. Be clear and specific."),
	})
}

func (t *AskUserTool) CanInterrupt() bool { return true }

func (t *AskUserTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	question, _ := StringArg(args, "question")
	return "", &InterruptRequest{Question: question}
}
