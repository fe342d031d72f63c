// Package terminal implements the interactive command-line mode.
//
// The user types messages at a "You: " prompt. When the agent pauses, the
// terminal asks the question or the confirmation inline and resumes the
// agent with the answer, so a single line of input may drive several
// agent steps. Provider failures such as a rejected API key or a rate
// limit are printed as one line and the session continues.
//
// Commands: /quit and /exit end the session, /clear drops the history
// (keeping the system prompt), /history prints the exported records.
//
// With a transcript configured the conversation is saved after every
// turn, which is what -r uses to resume a session later.
//
// # Verbosity Levels
//
//   - None: No tool execution information is displayed
//   - Info: Tool names are displayed when called
//   - All: Tool names, arguments, results and streamed reasoning are displayed
package terminal
