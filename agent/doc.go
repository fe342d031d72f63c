// Package agent runs the conversation loop between a language model and a
// set of tools.
//
// An Agent sends its Memory to an llm.Client, appends the reply, and runs
// any requested tool calls through a Gate. The loop repeats until the model
// answers without tool calls, or until a tool needs the user:
//
//   - an interrupt-capable tool (ask_user) asks a question; the turn ends
//     with StateInterrupted and continues with Resume;
//   - a tool that requires confirmation (write_file, run_command) is about
//     to run in ModePrompt without a matching auto-approve pattern; the turn
//     ends with StateAwaitingConfirmation and continues with
//     ResumeConfirmation.
//
// Memory holds at most one pending pause together with the calls of the
// same batch that have not run yet. Starting a new turn with Run while a
// pause is outstanding answers the paused call with an abandonment notice,
// so the model never sees a tool call without a result.
//
// # Usage
//
//	registry, err := tools.NewToolRegistry(cfg, logger)
//	if err != nil {
//	    // handle error
//	}
//	a := agent.New(client, registry,
//	    agent.WithSystemPrompt(cfg.SystemPrompt),
//	    agent.WithAutoApprove(cfg.AutoApprove),
//	    agent.WithObserver(agent.Observer{
//	        OnToolCall: func(call session.ToolCall) { /* show progress */ },
//	    }),
//	)
//	res, err := a.Run(ctx, "add 2 and 3")
//	for err == nil && res.Paused() {
//	    switch res.State {
//	    case agent.StateInterrupted:
//	        res, err = a.Resume(ctx, res.Interrupt.ToolCallID, askUser(res.Interrupt.Question))
//	    case agent.StateAwaitingConfirmation:
//	        res, err = a.ResumeConfirmation(ctx, res.Confirmation.ToolCallID, confirm(res.Confirmation.Message))
//	    }
//	}
//
// # Multi-agent
//
// A Worker wraps an Agent under a name and description. DelegateTaskTool
// lets a supervisor agent hand tasks to workers and SynthesizeResultsTool
// formats the combined answer; NewSupervisor wires both.
//
// # Subpackages
//
// agent/terminal provides the interactive command line. agent/rpc serves
// agents over newline-delimited JSON-RPC for editors and the WebSocket
// bridge.
package agent
