package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/m4xw311/tandem/agent"
	"github.com/m4xw311/tandem/agent/rpc"
	"github.com/m4xw311/tandem/agent/terminal"
	"github.com/m4xw311/tandem/config"
	"github.com/m4xw311/tandem/errors"
	"github.com/m4xw311/tandem/llm"
	"github.com/m4xw311/tandem/session"
	"github.com/m4xw311/tandem/telemetry"
	"github.com/m4xw311/tandem/tools"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	mode          string
	session       string
	toolset       string
	resume        string
	toolVerbosity string
	rpc           bool
	trace         bool
	worker        bool
	prompt        string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("tandem", flag.ContinueOnError)
	fs.SetOutput(stderr)
	o := &options{}
	fs.StringVar(&o.mode, "m", "", "Execution mode: 'auto' or 'prompt'")
	fs.StringVar(&o.session, "s", "", "Session name to create or use")
	fs.StringVar(&o.toolset, "t", "", "Toolset to use (defaults to 'default')")
	fs.StringVar(&o.resume, "r", "", "Resume a session by name")
	fs.StringVar(&o.toolVerbosity, "tool-verbosity", "", "Tool verbosity level: 'none', 'info', or 'all'")
	fs.BoolVar(&o.rpc, "rpc", false, "Serve JSON-RPC over stdio instead of the interactive terminal")
	fs.BoolVar(&o.trace, "trace", false, "Write a debug trace to tandem.trace")
	fs.BoolVar(&o.worker, "worker", false, "Run as a supervisor delegating to the configured workers")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	o.prompt = strings.Join(fs.Args(), " ")
	return o, nil
}

func parseMode(s string) (agent.Mode, error) {
	switch s {
	case "", "prompt":
		return agent.ModePrompt, nil
	case "auto":
		return agent.ModeAuto, nil
	}
	return "", errors.New("invalid mode '%s'. Must be 'auto' or 'prompt'", s)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return 2
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "Error loading configuration: %+v\n", err)
		return 1
	}

	logger := telemetry.NewLogger(cfg.LogLevel, stderr)
	if opts.rpc {
		// stdout carries protocol frames only
		logger = telemetry.Discard()
	}
	if opts.trace {
		traceLogger, closer, err := telemetry.OpenTrace("tandem.trace")
		if err != nil {
			fmt.Fprintf(stderr, "Error opening trace file: %v\n", err)
			return 1
		}
		defer closer.Close()
		logger = traceLogger
	}
	slog.SetDefault(logger)

	app, err := newApp(ctx, cfg, opts, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error initializing agent: %+v\n", err)
		return 1
	}
	defer app.close()

	if opts.rpc {
		server := rpc.NewServer(app.newAgent,
			rpc.WithStore(session.NewStore("")),
			rpc.WithIdleTimeout(cfg.SessionTimeout),
			rpc.WithLogger(logger),
			rpc.WithMetrics(app.metrics),
		)
		if err := server.Serve(ctx, stdin, stdout); err != nil {
			fmt.Fprintf(stderr, "RPC server failed: %+v\n", err)
			return 1
		}
		return 0
	}

	if err := runTerminal(ctx, app, opts, stdin, stdout); err != nil {
		fmt.Fprintf(stderr, "Agent stopped with an error: %+v\n", err)
		return 1
	}
	return 0
}

// app holds what every agent of this process shares.
type app struct {
	cfg      *config.Config
	opts     *options
	mode     agent.Mode
	client   llm.Client
	registry *tools.ToolRegistry
	active   *tools.ToolRegistry
	workers  []*agent.Worker
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

func newApp(ctx context.Context, cfg *config.Config, opts *options, logger *slog.Logger) (*app, error) {
	mode, err := parseMode(opts.mode)
	if err != nil {
		return nil, err
	}
	metrics := telemetry.Default()

	client, err := llm.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	client = llm.WithRetry(client, llm.PolicyFromConfig(cfg.Retry), logger, metrics)

	registry, err := tools.NewToolRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := registry.ConnectMCP(ctx, cfg.AdditionalMCPServers); err != nil {
		registry.Close()
		return nil, errors.Wrapf(err, "failed to start MCP servers")
	}

	a := &app{
		cfg:      cfg,
		opts:     opts,
		mode:     mode,
		client:   client,
		registry: registry,
		logger:   logger,
		metrics:  metrics,
	}
	if a.active, err = a.toolset(opts.toolset); err != nil {
		a.close()
		return nil, err
	}
	if opts.worker {
		if a.workers, err = a.buildWorkers(); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) close() {
	if err := a.registry.Close(); err != nil {
		a.logger.Warn("failed to stop MCP servers", "error", err)
	}
}

func (a *app) toolset(name string) (*tools.ToolRegistry, error) {
	ts, err := a.cfg.GetToolset(name)
	if err != nil {
		return nil, err
	}
	return a.registry.GetActiveTools(ts)
}

func (a *app) agentOptions(obs agent.Observer) []agent.Option {
	return []agent.Option{
		agent.WithMode(a.mode),
		agent.WithAutoApprove(a.cfg.AutoApprove),
		agent.WithStreaming(a.cfg.Stream),
		agent.WithMaxIterations(a.cfg.MaxIterations),
		agent.WithLogger(a.logger),
		agent.WithMetrics(a.metrics),
		agent.WithObserver(obs),
	}
}

// newAgent builds the agent for one conversation: a supervisor in worker
// mode, otherwise a single agent over the active toolset.
func (a *app) newAgent(ctx context.Context, obs agent.Observer) (*agent.Agent, error) {
	opts := a.agentOptions(obs)
	if a.opts.worker {
		return agent.NewSupervisor(a.client, a.workers, opts...), nil
	}
	opts = append(opts, agent.WithSystemPrompt(a.cfg.SystemPrompt))
	return agent.New(a.client, a.active, opts...), nil
}

func (a *app) buildWorkers() ([]*agent.Worker, error) {
	if len(a.cfg.Workers) == 0 {
		return nil, errors.New("-worker requires at least one entry under 'workers' in the configuration")
	}
	workers := make([]*agent.Worker, 0, len(a.cfg.Workers))
	for _, wc := range a.cfg.Workers {
		registry, err := a.toolset(wc.Toolset)
		if err != nil {
			return nil, errors.Wrapf(err, "worker '%s'", wc.Name)
		}
		prompt := wc.SystemPrompt
		if prompt == "" {
			prompt = a.cfg.SystemPrompt
		}
		opts := append(a.agentOptions(agent.Observer{}), agent.WithSystemPrompt(prompt),
			agent.WithLogger(a.logger.With("worker", wc.Name)))
		w := agent.NewWorker(wc.Name, wc.Description, agent.New(a.client, registry, opts...))
		w.Interactive = wc.Interactive
		workers = append(workers, w)
	}
	return workers, nil
}

func runTerminal(ctx context.Context, a *app, opts *options, stdin io.Reader, stdout io.Writer) error {
	store := session.NewStore("")
	var tr *session.Transcript
	if opts.resume != "" {
		loaded, err := store.Load(opts.resume)
		if err != nil {
			return errors.Wrapf(err, "error resuming session '%s'", opts.resume)
		}
		tr = loaded
		fmt.Fprintf(stdout, "Resuming session: %s\n", tr.Name)
	} else {
		name := opts.session
		if name == "" {
			name = defaultSessionName(time.Now())
		}
		tr = store.Create(name)
		fmt.Fprintf(stdout, "Starting new session: %s\n", name)
	}
	if opts.mode != "" || tr.Mode == "" {
		tr.Mode = string(a.mode)
	}
	if opts.toolset != "" || tr.Toolset == "" {
		tr.Toolset = opts.toolset
		if tr.Toolset == "" {
			tr.Toolset = "default"
		}
	}
	if opts.resume != "" && opts.mode == "" {
		mode, err := parseMode(tr.Mode)
		if err != nil {
			return err
		}
		a.mode = mode
	}
	if opts.resume != "" && opts.toolset == "" {
		active, err := a.toolset(tr.Toolset)
		if err != nil {
			return err
		}
		a.active = active
	}

	ag, err := a.newAgent(ctx, agent.Observer{})
	if err != nil {
		return err
	}
	if len(tr.History) > 0 {
		if err := ag.Import(tr.History); err != nil {
			return errors.Wrapf(err, "session '%s' has an unreadable history", tr.Name)
		}
	}

	verbosity, err := terminal.ParseVerbosity(opts.toolVerbosity)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, "Tandem is ready. Type your prompt.")
	term := terminal.New(ag,
		terminal.WithIO(stdin, stdout),
		terminal.WithVerbosity(verbosity),
		terminal.WithTranscript(store, tr),
		terminal.WithLogger(a.logger),
	)
	return term.Run(ctx, opts.prompt)
}

func defaultSessionName(now time.Time) string {
	wd, err := os.Getwd()
	if err != nil {
		wd = "tandem"
	}
	return fmt.Sprintf("%s_%s", filepath.Base(wd), now.Format("2006-01-02_15-04-05"))
}
