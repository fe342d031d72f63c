package tools

import (
	"context"
	"fmt"
	"strconv"
)

type callIDKey struct{}

// WithCallID attaches the id of the tool call being executed to ctx.
// Interrupt-capable tools read it back with CallID.
func WithCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callIDKey{}, id)
}

// CallID returns the tool call id attached by WithCallID, or "".
func CallID(ctx context.Context) string {
	id, _ := ctx.Value(callIDKey{}).(string)
	return id
}

// StringArg returns args[key] when it is a string. A missing or non-string
// value yields "" and false.
func StringArg(args map[string]any, key string) (string, bool) {
	s, ok := args[key].(string)
	return s, ok
}

// NumberArg accepts the numeric shapes a decoded JSON payload can carry.
func NumberArg(args map[string]any, key string) (float64, error) {
	switch v := args[key].(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("argument '%s' is not a number: %q", key, v)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("missing argument '%s'", key)
	default:
		return 0, fmt.Errorf("argument '%s' is not a number: %v", key, v)
	}
}

func objectSchema(required []string, props map[string]any) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

// IntArg reads an integral argument, returning def when it is absent.
func IntArg(args map[string]any, key string, def int) (int, error) {
	if v, ok := args[key]; !ok || v == nil {
		return def, nil
	}
	f, err := NumberArg(args, key)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// BoolArg reads a boolean argument, returning def when it is absent or not a
// boolean.
func BoolArg(args map[string]any, key string, def bool) bool {
	b, ok := args[key].(bool)
	if !ok {
		return def
	}
	return b
}

// StringListArg reads an array of strings. Non-string items fail the read.
func StringListArg(args map[string]any, key string) ([]string, bool) {
	switch v := args[key].(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

func intProp(desc string, def int) map[string]any {
	return map[string]any{"type": "integer", "description": desc, "default": def}
}

func stringListProp(desc string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
}
