package tools

import (
	"context"
	"fmt"
	"strconv"
)

// CalculatorTool does basic arithmetic. It is side-effect free and handy for
// exercising the tool loop without touching the filesystem.
type CalculatorTool struct{}

func (t *CalculatorTool) Name() string        { return "calculator" }
func (t *CalculatorTool) Description() string { return "Perform basic arithmetic on two numbers." }
func (t *CalculatorTool) Parameters() map[string]any {
	return objectSchema([]string{"op", "a", "b"}, map[string]any{
		"op": map[string]any{
			"type": "string",
			"enum": []string{"add", "subtract", "multiply", "divide"},
		},
		"a": map[string]any{"type": "number"},
		"b": map[string]any{"type": "number"},
	})
}

func (t *CalculatorTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	op, _ := StringArg(args, "op")
	a, err := NumberArg(args, "a")
	if err != nil {
		return "", err
	}
	b, err := NumberArg(args, "b")
	if err != nil {
		return "", err
	}
	var v float64
	switch op {
	case "add":
		v = a + b
	case "subtract":
		v = a - b
	case "multiply":
		v = a * b
	case "divide":
		if b == 0 {
			return "Error: division by zero", nil
		}
		v = a / b
	default:
		return "", fmt.Errorf("unknown operation '%s'", op)
	}
	return strconv.FormatFloat(v, 'f', -1, 64), nil
}
