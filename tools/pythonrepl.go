package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/m4xw311/tandem/errors"
)

// BlockedModules may never be imported by python_repl code.
var BlockedModules = []string{
	"os", "subprocess", "shutil", "pathlib",
	"socket", "http", "urllib", "requests", "httpx", "aiohttp",
	"pickle", "marshal", "shelve",
	"ctypes", "cffi", "mmap",
	"importlib", "imp",
	"platform", "sys",
	"multiprocessing", "threading", "concurrent",
}

// AllowedModules is the complete set of importable top-level modules.
var AllowedModules = []string{
	"math", "json", "re", "datetime", "time",
	"random", "collections", "itertools", "functools",
	"decimal", "fractions", "statistics",
	"string", "textwrap",
	"copy", "pprint",
	"dataclasses", "typing",
	"operator",
}

// BlockedBuiltins may not be called by name.
var BlockedBuiltins = []string{
	"exec", "eval", "compile",
	"open", "file",
	"input",
	"__import__",
	"globals", "locals", "vars",
	"getattr", "setattr", "delattr",
	"memoryview", "bytearray",
	"breakpoint",
}

var (
	importLine     = regexp.MustCompile(`^\s*import\s+(.+)$`)
	fromImportLine = regexp.MustCompile(`^\s*from\s+([\w.]+)\s+import\b`)
	builtinCall    = regexp.MustCompile(`(^|[^\w.])(` + strings.Join(BlockedBuiltins, "|") + `)\s*\(`)
	stringLiteral  = regexp.MustCompile(`'''[\s\S]*?'''|"""[\s\S]*?"""|'(?:\\.|[^'\\\n])*'|"(?:\\.|[^"\\\n])*"`)
)

// CodeValidator rejects Python source that imports modules outside the
// allow-list or calls a blocked builtin. It is a first gate only; the
// interpreter prelude enforces the same lists at run time.
type CodeValidator struct {
	blocked  map[string]bool
	allowed  map[string]bool
	builtins map[string]bool
}

// NewCodeValidator builds a validator over the package lists.
func NewCodeValidator() *CodeValidator {
	set := func(names []string) map[string]bool {
		m := make(map[string]bool, len(names))
		for _, n := range names {
			m[n] = true
		}
		return m
	}
	return &CodeValidator{blocked: set(BlockedModules), allowed: set(AllowedModules), builtins: set(BlockedBuiltins)}
}

// Validate returns a *CodeRejectedError for the first violation in code.
func (v *CodeValidator) Validate(code string) error {
	stripped := stringLiteral.ReplaceAllStringFunc(code, func(lit string) string {
		return `""` + strings.Repeat("\n", strings.Count(lit, "\n"))
	})
	for _, line := range strings.Split(stripped, "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		for _, stmt := range strings.Split(line, ";") {
			if m := fromImportLine.FindStringSubmatch(stmt); m != nil {
				if err := v.checkImport(m[1]); err != nil {
					return err
				}
				continue
			}
			if m := importLine.FindStringSubmatch(stmt); m != nil {
				for _, alias := range strings.Split(m[1], ",") {
					name, _, _ := strings.Cut(strings.TrimSpace(alias), " ")
					if err := v.checkImport(strings.Trim(name, "()")); err != nil {
						return err
					}
				}
			}
		}
		for _, m := range builtinCall.FindAllStringSubmatch(line, -1) {
			if v.builtins[m[2]] {
				return &CodeRejectedError{Reason: fmt.Sprintf("Function '%s' is blocked for security", m[2])}
			}
		}
	}
	return nil
}

func (v *CodeValidator) checkImport(module string) error {
	base, _, _ := strings.Cut(module, ".")
	if v.blocked[base] {
		return &CodeRejectedError{Reason: fmt.Sprintf("Import of '%s' is blocked for security", module)}
	}
	if !v.allowed[base] {
		allowed := append([]string(nil), AllowedModules...)
		sort.Strings(allowed)
		return &CodeRejectedError{Reason: fmt.Sprintf("Import of '%s' is not in the allowed list. Allowed: %s", module, strings.Join(allowed, ", "))}
	}
	return nil
}

// CodeRejectedError is returned by CodeValidator.Validate.
type CodeRejectedError struct {
	Reason string
}

func (e *CodeRejectedError) Error() string { return e.Reason }

// pythonPrelude runs the snippet read from stdin with a reduced builtins
// table and an import hook limited to argv[2]. argv[1] lists the builtins
// to remove.
const pythonPrelude = `import builtins, sys
_blocked = set(sys.argv[1].split(","))
_allowed = set(sys.argv[2].split(","))
_src = sys.stdin.read()
def _import(name, *args, **kwargs):
    if name.split(".")[0] not in _allowed:
        raise ImportError("Import of '%s' is not allowed" % name)
    return builtins.__import__(name, *args, **kwargs)
_ns = {n: getattr(builtins, n) for n in dir(builtins) if not n.startswith("_") and n not in _blocked}
_ns["__import__"] = _import
_ns["__build_class__"] = builtins.__build_class__
try:
    exec(compile(_src, "<repl>", "exec"), {"__builtins__": _ns, "__name__": "__repl__"})
except Exception as e:
    print("%s: %s" % (type(e).__name__, e), file=sys.stderr)
    sys.exit(1)
`

// PythonREPLTool runs Python snippets in a separate interpreter process.
// Every snippet starts from a fresh namespace. Runs need confirmation unless
// auto-approved under "execute".
type PythonREPLTool struct {
	interpreter string
	timeout     time.Duration
	validator   *CodeValidator
}

// NewPythonREPLTool returns a tool that runs code with interpreter. A zero
// timeout means one minute.
func NewPythonREPLTool(interpreter string, timeout time.Duration) *PythonREPLTool {
	if interpreter == "" {
		interpreter = "python3"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &PythonREPLTool{interpreter: interpreter, timeout: timeout, validator: NewCodeValidator()}
}

func (t *PythonREPLTool) Name() string { return "python_repl" }
func (t *PythonREPLTool) Description() string {
	allowed := append([]string(nil), AllowedModules...)
	sort.Strings(allowed)
	return "Execute Python code in a sandboxed environment and return what it prints. " +
		"Some dangerous operations are blocked for security. Variables do not persist between calls. " +
		"Allowed imports: " + strings.Join(allowed, ", ")
}
func (t *PythonREPLTool) Parameters() map[string]any {
	return objectSchema([]string{"code"}, map[string]any{
		"code": stringProp("The Python code to execute."),
	})
}

func (t *PythonREPLTool) ConfirmationSpec() ConfirmationSpec {
	return ConfirmationSpec{Operation: "execute", CheckArg: "code"}
}

func (t *PythonREPLTool) ConfirmationMessage(args map[string]any) string {
	code, _ := StringArg(args, "code")
	return fmt.Sprintf("Execute Python code (%d characters)", len([]rune(code)))
}

func (t *PythonREPLTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	code, ok := StringArg(args, "code")
	if !ok {
		return "", &ValidationError{Tool: t.Name(), Problems: []string{"missing or invalid 'code' argument"}}
	}
	if err := t.validator.Validate(code); err != nil {
		return fmt.Sprintf("Security error: %v", err), nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.interpreter, "-I", "-c", pythonPrelude,
		strings.Join(BlockedBuiltins, ","), strings.Join(AllowedModules, ","))
	cmd.Stdin = strings.NewReader(code)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	switch {
	case err == nil:
	case ctx.Err() == context.DeadlineExceeded:
		return fmt.Sprintf("Error: execution timed out after %s", t.timeout), nil
	case errors.Is(err, exec.ErrNotFound):
		return fmt.Sprintf("Error: Python interpreter not found: %s", t.interpreter), nil
	default:
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return stdout.String() + "Error: " + msg, nil
	}
	if stdout.Len() == 0 {
		return "(No output)", nil
	}
	return stdout.String(), nil
}
