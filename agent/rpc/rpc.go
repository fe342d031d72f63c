// Package rpc serves agents over newline-delimited JSON-RPC 2.0.
//
// Every session owns its own agent, created by a Factory, so one process
// can hold several independent conversations. Requests for the same
// session are serialized. A session that has not been used for the idle
// timeout is dropped the next time any request arrives.
//
// Methods:
//   - initialize
//   - session/new returns {"sessionId"}
//   - session/load {"sessionId"} restores a saved transcript and replays it
//   - session/prompt {"sessionId","prompt"} returns a run result
//   - session/answer {"sessionId","toolCallId","answer"} resumes an interrupt
//   - session/confirm {"sessionId","toolCallId","confirmed"} resumes a confirmation
//   - session/history {"sessionId"} returns the exported records
//   - session/close {"sessionId"}
//
// While a turn runs the server emits session/update notifications of kind
// agent_message_chunk, tool_call and tool_result. Nothing else is written
// to the output stream; diagnostics go to the logger.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m4xw311/tandem/agent"
	"github.com/m4xw311/tandem/errors"
	"github.com/m4xw311/tandem/llm"
	"github.com/m4xw311/tandem/session"
	"github.com/m4xw311/tandem/telemetry"
)

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	// CodeAuthentication reports rejected or missing provider credentials.
	CodeAuthentication = -32001
)

// DefaultIdleTimeout is how long an unused session survives.
const DefaultIdleTimeout = time.Hour

// Factory builds the agent for a new session. The observer must be
// installed on the agent so that the session's notifications are sent.
type Factory func(ctx context.Context, obs agent.Observer) (*agent.Agent, error)

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Data)
	}
	return e.Message
}

func invalidParams(format string, a ...any) *Error {
	return &Error{Code: CodeInvalidParams, Message: "Invalid params", Data: fmt.Sprintf(format, a...)}
}

type sessionEntry struct {
	mu       sync.Mutex
	id       string
	agent    *agent.Agent
	lastUsed time.Time
}

// Server holds the live sessions. Handle is safe for concurrent use.
type Server struct {
	factory Factory
	store   *session.Store
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics *telemetry.Metrics

	mu       sync.Mutex
	sessions map[string]*sessionEntry

	writeMu sync.Mutex
	out     *bufio.Writer
}

// Option configures a Server.
type Option func(*Server)

// WithStore persists every session as a transcript after each turn and
// enables session/load.
func WithStore(store *session.Store) Option {
	return func(s *Server) { s.store = store }
}

func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer returns a server that creates agents with factory.
func NewServer(factory Factory, opts ...Option) *Server {
	s := &Server{
		factory:  factory,
		timeout:  DefaultIdleTimeout,
		now:      time.Now,
		logger:   slog.Default(),
		sessions: make(map[string]*sessionEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve reads requests from in until EOF and writes responses and
// notifications to out. Requests are handled in arrival order.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.writeMu.Lock()
	s.out = bufio.NewWriter(out)
	s.writeMu.Unlock()

	reader := bufio.NewReader(in)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			s.serveLine(ctx, line)
		}
		if err != nil {
			if err == io.EOF {
				s.logger.Debug("rpc input closed")
				return nil
			}
			return errors.Wrapf(err, "rpc read error")
		}
	}
}

func (s *Server) serveLine(ctx context.Context, line []byte) {
	line = trimSpace(line)
	if len(line) == 0 {
		return
	}
	var req jsonrpcRequest
	if err := json.Unmarshal(line, &req); err != nil {
		s.logger.Warn("rpc parse error", "error", err)
		s.write(jsonrpcResponse{JSONRPC: "2.0", Error: &Error{Code: CodeParseError, Message: "Parse error"}})
		return
	}
	s.logger.Debug("rpc request", "method", req.Method, "id", req.ID)

	result, rerr := s.Handle(ctx, req.Method, req.Params)
	if req.ID == nil {
		// notifications get no response
		return
	}
	resp := jsonrpcResponse{JSONRPC: "2.0", ID: req.ID}
	if rerr != nil {
		resp.Error = rerr
	} else {
		if result == nil {
			result = json.RawMessage("null")
		}
		resp.Result = result
	}
	s.write(resp)
}

// Handle dispatches one method call.
func (s *Server) Handle(ctx context.Context, method string, params json.RawMessage) (any, *Error) {
	s.sweep(ctx)
	switch method {
	case "initialize":
		return s.handleInitialize(), nil
	case "session/new":
		return s.handleNew(ctx)
	case "session/load":
		return s.handleLoad(ctx, params)
	case "session/prompt":
		return s.handlePrompt(ctx, params)
	case "session/answer":
		return s.handleAnswer(ctx, params)
	case "session/confirm":
		return s.handleConfirm(ctx, params)
	case "session/history":
		return s.handleHistory(params)
	case "session/close":
		return s.handleClose(ctx, params)
	}
	return nil, &Error{Code: CodeMethodNotFound, Message: "Method not found", Data: method}
}

func (s *Server) handleInitialize() any {
	return map[string]any{
		"protocolVersion": 1,
		"agentCapabilities": map[string]any{
			"loadSession": s.store != nil,
			"promptCapabilities": map[string]bool{
				"audio":           false,
				"embeddedContext": false,
				"image":           false,
			},
			"pauses": []string{string(agent.StateInterrupted), string(agent.StateAwaitingConfirmation)},
		},
		"authMethods": []any{},
	}
}

func (s *Server) handleNew(ctx context.Context) (any, *Error) {
	entry, err := s.newEntry(ctx, uuid.NewString())
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: "Internal error", Data: err.Error()}
	}
	s.register(ctx, entry)
	return map[string]any{"sessionId": entry.id}, nil
}

func (s *Server) handleLoad(ctx context.Context, params json.RawMessage) (any, *Error) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if s.store == nil {
		return nil, invalidParams("session persistence is disabled")
	}
	if err := session.ValidName(p.SessionID); err != nil {
		return nil, invalidParams("invalid sessionId: %v", err)
	}
	tr, err := s.store.Load(p.SessionID)
	if err != nil {
		return nil, invalidParams("session not found: %v", err)
	}
	entry, err := s.newEntry(ctx, p.SessionID)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: "Internal error", Data: err.Error()}
	}
	if err := entry.agent.Import(tr.History); err != nil {
		return nil, invalidParams("corrupt transcript: %v", err)
	}
	s.register(ctx, entry)
	s.replay(entry.id, entry.agent.Memory().Messages())
	return nil, nil
}

// promptParams accepts the prompt either as a string or as content blocks.
type promptParams struct {
	SessionID string          `json:"sessionId"`
	Prompt    json.RawMessage `json:"prompt"`
}

func (p promptParams) text() (string, error) {
	var s string
	if err := json.Unmarshal(p.Prompt, &s); err == nil {
		return s, nil
	}
	var blocks []contentBlock
	if err := json.Unmarshal(p.Prompt, &blocks); err != nil {
		return "", errors.New("prompt must be a string or a list of content blocks")
	}
	return extractUserText(blocks), nil
}

func (s *Server) handlePrompt(ctx context.Context, params json.RawMessage) (any, *Error) {
	var p promptParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	text, err := p.text()
	if err != nil {
		return nil, invalidParams("%v", err)
	}
	if text == "" {
		return nil, invalidParams("empty prompt")
	}
	return s.withSession(p.SessionID, func(e *sessionEntry) (agent.RunResult, error) {
		return e.agent.Run(ctx, text)
	})
}

func (s *Server) handleAnswer(ctx context.Context, params json.RawMessage) (any, *Error) {
	var p struct {
		SessionID  string `json:"sessionId"`
		ToolCallID string `json:"toolCallId"`
		Answer     string `json:"answer"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return s.withSession(p.SessionID, func(e *sessionEntry) (agent.RunResult, error) {
		return e.agent.Resume(ctx, p.ToolCallID, p.Answer)
	})
}

func (s *Server) handleConfirm(ctx context.Context, params json.RawMessage) (any, *Error) {
	var p struct {
		SessionID  string `json:"sessionId"`
		ToolCallID string `json:"toolCallId"`
		Confirmed  bool   `json:"confirmed"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return s.withSession(p.SessionID, func(e *sessionEntry) (agent.RunResult, error) {
		return e.agent.ResumeConfirmation(ctx, p.ToolCallID, p.Confirmed)
	})
}

func (s *Server) handleHistory(params json.RawMessage) (any, *Error) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	e, ok := s.lookup(p.SessionID)
	if !ok {
		return nil, invalidParams("unknown sessionId")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return map[string]any{"history": e.agent.History()}, nil
}

func (s *Server) handleClose(ctx context.Context, params json.RawMessage) (any, *Error) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	s.mu.Lock()
	_, ok := s.sessions[p.SessionID]
	delete(s.sessions, p.SessionID)
	s.mu.Unlock()
	if !ok {
		return nil, invalidParams("unknown sessionId")
	}
	s.metrics.SessionClosed(ctx)
	s.logger.Info("session closed", "session", p.SessionID)
	return nil, nil
}

// withSession runs fn under the session lock and maps its outcome onto a
// response.
func (s *Server) withSession(id string, fn func(e *sessionEntry) (agent.RunResult, error)) (any, *Error) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, invalidParams("unknown sessionId")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := fn(e)
	s.save(e)
	if err != nil {
		return nil, toRPCError(err)
	}
	s.logger.Debug("turn finished", "session", id, "state", res.State)
	return res, nil
}

func toRPCError(err error) *Error {
	var mismatch *agent.IDMismatchError
	switch {
	case llm.IsAuthentication(err):
		return &Error{Code: CodeAuthentication, Message: "Authentication failed", Data: err.Error()}
	case errors.Is(err, agent.ErrNoPendingInterrupt), errors.Is(err, agent.ErrNoPendingConfirmation), errors.As(err, &mismatch):
		return &Error{Code: CodeInvalidParams, Message: "Invalid params", Data: err.Error()}
	}
	return &Error{Code: CodeInternalError, Message: "Internal error", Data: err.Error()}
}

// newEntry builds an agent for id without making it reachable.
func (s *Server) newEntry(ctx context.Context, id string) (*sessionEntry, error) {
	var a *agent.Agent
	obs := s.observer(id, func() bool { return a != nil && a.Streaming() })
	a, err := s.factory(ctx, obs)
	if err != nil {
		return nil, err
	}
	return &sessionEntry{id: id, agent: a, lastUsed: s.now()}, nil
}

// register makes e live, closing any entry it replaces.
func (s *Server) register(ctx context.Context, e *sessionEntry) {
	s.mu.Lock()
	_, replaced := s.sessions[e.id]
	s.sessions[e.id] = e
	s.mu.Unlock()
	if replaced {
		s.metrics.SessionClosed(ctx)
		s.logger.Info("session replaced", "session", e.id)
	}
	s.metrics.SessionOpened(ctx)
	s.logger.Info("session opened", "session", e.id)
}

func (s *Server) lookup(id string) (*sessionEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if ok {
		e.lastUsed = s.now()
	}
	return e, ok
}

// sweep drops sessions idle for longer than the timeout.
func (s *Server) sweep(ctx context.Context) {
	cutoff := s.now().Add(-s.timeout)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.sessions {
		if e.lastUsed.Before(cutoff) {
			delete(s.sessions, id)
			s.metrics.SessionClosed(ctx)
			s.logger.Info("session expired", "session", id)
		}
	}
}

func (s *Server) save(e *sessionEntry) {
	if s.store == nil {
		return
	}
	tr := s.store.Create(e.id)
	tr.History = e.agent.History()
	if err := s.store.Save(tr); err != nil {
		s.logger.Warn("failed to save session", "session", e.id, "error", err)
	}
}

func decode(params json.RawMessage, v any) *Error {
	if len(params) == 0 {
		return invalidParams("missing params")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return invalidParams("%v", err)
	}
	return nil
}

func trimSpace(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r' || b[len(b)-1] == ' ') {
		b = b[:len(b)-1]
	}
	return b
}
