package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/tandem/config"
	"github.com/m4xw311/tandem/errors"
	"github.com/m4xw311/tandem/tools/mcp"
)

// Tool defines the interface for any action the agent can take.
type Tool interface {
	Name() string
	Description() string
	// Parameters is a JSON-Schema object describing the arguments.
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// Interrupter is implemented by tools whose Execute may return an
// *InterruptRequest.
type Interrupter interface {
	CanInterrupt() bool
}

// ConfirmationSpec describes how a dangerous tool is gated.
type ConfirmationSpec struct {
	// Operation is the auto-approve category, e.g. "write" or "execute".
	Operation string
	// CheckArg names the argument matched against auto-approve patterns.
	// Empty means "path".
	CheckArg string
}

// Confirmer is implemented by tools that need user permission to run.
type Confirmer interface {
	ConfirmationSpec() ConfirmationSpec
	// ConfirmationMessage describes the pending effect. An empty string
	// selects the generic message.
	ConfirmationMessage(args map[string]any) string
}

// Capabilities is the optional metadata of a tool, computed once when it is
// registered.
type Capabilities struct {
	Interrupt    bool
	Confirmation *ConfirmationSpec
}

// CapabilitiesOf inspects the optional interfaces t implements.
func CapabilitiesOf(t Tool) Capabilities {
	var caps Capabilities
	if i, ok := t.(Interrupter); ok {
		caps.Interrupt = i.CanInterrupt()
	}
	if c, ok := t.(Confirmer); ok {
		spec := c.ConfirmationSpec()
		if spec.CheckArg == "" {
			spec.CheckArg = "path"
		}
		caps.Confirmation = &spec
	}
	return caps
}

// ConfirmationMessage returns the tool's description of a pending call,
// falling back to a generic one.
func ConfirmationMessage(t Tool, args map[string]any) string {
	if c, ok := t.(Confirmer); ok {
		if msg := c.ConfirmationMessage(args); msg != "" {
			return msg
		}
	}
	return fmt.Sprintf("Execute %s with args: %v", t.Name(), args)
}

// Entry is a registered tool with its capabilities.
type Entry struct {
	Tool Tool
	Caps Capabilities
}

// ToolRegistry holds all available tools.
type ToolRegistry struct {
	tools      map[string]Entry
	order      []string
	mcpClients map[string]*mcp.MCPClient
	logger     *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *ToolRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolRegistry{
		tools:      make(map[string]Entry),
		mcpClients: make(map[string]*mcp.MCPClient),
		logger:     logger,
	}
}

// NewToolRegistry returns a registry holding the built-in tools configured
// from cfg.
func NewToolRegistry(cfg *config.Config, logger *slog.Logger) (*ToolRegistry, error) {
	r := NewRegistry(logger)

	guard, err := NewPathGuard(cfg.FilesystemAccess)
	if err != nil {
		return nil, err
	}
	policy, err := NewCommandPolicy(cfg.AllowedCommands, cfg.BlockedCommands, cfg.CommandTimeout)
	if err != nil {
		return nil, err
	}

	r.Register(&ReadFileTool{guard: guard})
	r.Register(&WriteFileTool{guard: guard})
	r.Register(&ListDirectoryTool{guard: guard})
	r.Register(&RunCommandTool{policy: policy})
	r.Register(&AskUserTool{})
	r.Register(&CalculatorTool{})
	r.Register(NewPythonREPLTool(cfg.Python, cfg.CommandTimeout))
	r.Register(NewSearchWebTool(cfg.TavilyAPIKey, "", nil))
	for _, t := range DatasetTools(NewDatasetRegistry(), guard) {
		r.Register(t)
	}
	return r, nil
}

// Register adds t, replacing any tool with the same name.
func (r *ToolRegistry) Register(t Tool) {
	name := t.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = Entry{Tool: t, Caps: CapabilitiesOf(t)}
}

// Lookup returns the entry for name.
func (r *ToolRegistry) Lookup(name string) (Entry, bool) {
	e, ok := r.tools[name]
	return e, ok
}

// GetTool returns the tool registered under name.
func (r *ToolRegistry) GetTool(name string) (Tool, error) {
	e, ok := r.tools[name]
	if !ok {
		return nil, errors.Wrapf(ErrToolNotFound, "%s", name)
	}
	return e.Tool, nil
}

// Tools returns every registered tool in registration order.
func (r *ToolRegistry) Tools() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Tool)
	}
	return out
}

// Len reports the number of registered tools.
func (r *ToolRegistry) Len() int { return len(r.tools) }

// Subset returns a new registry holding only the named tools, preserving
// the order of names. Entries of the form "<server>.<pattern>" select MCP
// tools from that server by glob, e.g. "gopls.*".
func (r *ToolRegistry) Subset(names []string) (*ToolRegistry, error) {
	sub := NewRegistry(r.logger)
	for _, name := range names {
		if server, pattern, ok := strings.Cut(name, "."); ok {
			if client, exists := r.mcpClients[server]; exists {
				matched := 0
				for _, t := range client.Tools() {
					if ok, _ := doublestar.Match(pattern, t.Name()); ok {
						sub.Register(t)
						matched++
					}
				}
				if matched == 0 {
					r.logger.Warn("toolset pattern matched no MCP tools", "server", server, "pattern", pattern)
				}
				continue
			}
		}
		e, ok := r.tools[name]
		if !ok {
			return nil, fmt.Errorf("tool '%s' is not registered", name)
		}
		sub.Register(e.Tool)
	}
	return sub, nil
}

// GetActiveTools returns a registry for the given toolset.
func (r *ToolRegistry) GetActiveTools(ts *config.Toolset) (*ToolRegistry, error) {
	sub, err := r.Subset(ts.Tools)
	if err != nil {
		return nil, errors.Wrapf(err, "toolset '%s'", ts.Name)
	}
	return sub, nil
}

// ConnectMCP starts each configured MCP server and registers its tools.
func (r *ToolRegistry) ConnectMCP(ctx context.Context, servers []config.MCPServer) error {
	for _, s := range servers {
		client, err := mcp.NewMCPClient(ctx, s.Name, s.Command, s.Args, r.logger)
		if err != nil {
			return err
		}
		r.mcpClients[s.Name] = client
		for _, t := range client.Tools() {
			r.Register(t)
		}
	}
	return nil
}

// Close stops every MCP server started by ConnectMCP.
func (r *ToolRegistry) Close() error {
	names := make([]string, 0, len(r.mcpClients))
	for name := range r.mcpClients {
		names = append(names, name)
	}
	sort.Strings(names)
	var first error
	for _, name := range names {
		if err := r.mcpClients[name].Stop(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
