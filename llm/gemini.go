package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"os"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"github.com/m4xw311/tandem/errors"
	"github.com/m4xw311/tandem/session"
	"github.com/m4xw311/tandem/tools"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiClient is a client for the Google Gemini API.
type GeminiClient struct {
	client *genai.Client
	opts   Options
}

// NewGeminiClient requires GOOGLE_API_KEY or GEMINI_API_KEY.
func NewGeminiClient(ctx context.Context, opts Options) (*GeminiClient, error) {
	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, MissingKeyError("google", "GOOGLE_API_KEY")
	}
	if opts.Model == "" {
		opts.Model = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}
	return &GeminiClient{client: client, opts: opts}, nil
}

func (g *GeminiClient) Provider() string { return "google" }

// Close releases the underlying connection.
func (g *GeminiClient) Close() error { return g.client.Close() }

// chat builds a fresh chat per request; GenerativeModel carries the tool
// list and is not safe to share between differently-tooled calls.
func (g *GeminiClient) chat(history []session.Message, ts []tools.Tool) (*genai.ChatSession, []genai.Part, error) {
	contents, systemPrompt := convertMessagesToGemini(history)
	if len(contents) == 0 {
		return nil, nil, invalidResponse("google", "no messages to send", nil)
	}
	model := g.client.GenerativeModel(g.opts.Model)
	if systemPrompt != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}
	model.Tools = convertToolsToGemini(ts)
	if g.opts.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(g.opts.MaxTokens))
	}
	if g.opts.Temperature > 0 {
		model.SetTemperature(float32(g.opts.Temperature))
	}
	cs := model.StartChat()
	cs.History = contents[:len(contents)-1]
	return cs, contents[len(contents)-1].Parts, nil
}

// Generate sends the conversation and normalizes the reply.
func (g *GeminiClient) Generate(ctx context.Context, history []session.Message, ts []tools.Tool) (*Response, error) {
	cs, parts, err := g.chat(history, ts)
	if err != nil {
		return nil, err
	}
	resp, err := cs.SendMessage(ctx, parts...)
	if err != nil {
		return nil, mapGeminiError(err)
	}
	return processGeminiResponse(resp)
}

// Stream yields text as it arrives. Function calls arrive whole and are
// emitted as a single fragment each.
func (g *GeminiClient) Stream(ctx context.Context, history []session.Message, ts []tools.Tool) (iter.Seq2[StreamChunk, error], error) {
	cs, parts, err := g.chat(history, ts)
	if err != nil {
		return nil, err
	}
	it := cs.SendMessageStream(ctx, parts...)
	first, err := it.Next()
	if err != nil && err != iterator.Done {
		return nil, mapGeminiError(err)
	}
	return func(yield func(StreamChunk, error) bool) {
		callIndex := 0
		sawCall := false
		var finish FinishReason
		for resp := first; resp != nil; {
			for _, c := range geminiChunks(resp, &callIndex) {
				if c.DeltaToolCall != nil {
					sawCall = true
				}
				if c.FinishReason != "" {
					finish = c.FinishReason
					continue
				}
				if !yield(c, nil) {
					return
				}
			}
			next, err := it.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				yield(StreamChunk{}, mapGeminiError(err))
				return
			}
			resp = next
		}
		if sawCall {
			finish = FinishToolUse
		}
		if finish == "" {
			finish = FinishStop
		}
		yield(StreamChunk{FinishReason: finish}, nil)
	}, nil
}

func geminiChunks(resp *genai.GenerateContentResponse, callIndex *int) []StreamChunk {
	if len(resp.Candidates) == 0 {
		return nil
	}
	cand := resp.Candidates[0]
	var out []StreamChunk
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			switch v := part.(type) {
			case genai.Text:
				if v != "" {
					out = append(out, StreamChunk{DeltaContent: string(v)})
				}
			case genai.FunctionCall:
				args, err := json.Marshal(nonNilArgs(v.Args))
				if err != nil {
					continue
				}
				out = append(out, StreamChunk{DeltaToolCall: &PartialToolCall{
					Index:          *callIndex,
					ID:             geminiCallID(*callIndex, v.Name),
					Name:           v.Name,
					ArgumentsDelta: string(args),
				}})
				*callIndex++
			}
		}
	}
	if f := mapGeminiFinish(cand.FinishReason); f != "" {
		out = append(out, StreamChunk{FinishReason: f})
	}
	return out
}

func geminiCallID(index int, name string) string {
	return fmt.Sprintf("call_%d_%s", index, name)
}

func nonNilArgs(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}

func mapGeminiFinish(r genai.FinishReason) FinishReason {
	switch r {
	case genai.FinishReasonUnspecified:
		return ""
	case genai.FinishReasonMaxTokens:
		return FinishLength
	case genai.FinishReasonStop:
		return FinishStop
	default:
		return FinishError
	}
}

func mapGeminiError(err error) error {
	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		if code := apiErr.HTTPCode(); code > 0 {
			return ErrorFromStatus("google", code, "request rejected", 0, err)
		}
		if st := apiErr.GRPCStatus(); st != nil {
			return ErrorFromStatus("google", grpcToHTTP(st.Code()), "request rejected", 0, err)
		}
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return ErrorFromStatus("google", gErr.Code, "request rejected", 0, err)
	}
	return ErrorFromTransport("google", err)
}

func grpcToHTTP(c codes.Code) int {
	switch c {
	case codes.Unauthenticated:
		return 401
	case codes.PermissionDenied:
		return 403
	case codes.ResourceExhausted:
		return 429
	case codes.Unavailable, codes.DeadlineExceeded, codes.Internal:
		return 503
	default:
		return 400
	}
}

// convertMessagesToGemini converts our internal message format to Gemini's.
// The assistant role is "model"; function responses travel in a user turn
// and consecutive ones share it.
func convertMessagesToGemini(messages []session.Message) ([]*genai.Content, string) {
	var out []*genai.Content
	var systemPrompt string
	lastWasTool := false
	for _, msg := range messages {
		isTool := msg.Role == session.RoleTool
		switch msg.Role {
		case session.RoleSystem:
			systemPrompt = msg.Content
		case session.RoleAssistant:
			c := &genai.Content{Role: "model"}
			if msg.Content != "" {
				c.Parts = append(c.Parts, genai.Text(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				c.Parts = append(c.Parts, genai.FunctionCall{Name: tc.Name, Args: nonNilArgs(tc.Arguments)})
			}
			if len(c.Parts) > 0 {
				out = append(out, c)
			}
		case session.RoleTool:
			part := genai.FunctionResponse{
				Name:     msg.Name,
				Response: map[string]any{"result": msg.Content},
			}
			if lastWasTool && len(out) > 0 {
				out[len(out)-1].Parts = append(out[len(out)-1].Parts, part)
			} else {
				out = append(out, &genai.Content{Role: "user", Parts: []genai.Part{part}})
			}
		default:
			out = append(out, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(msg.Content)}})
		}
		lastWasTool = isTool
	}
	return out, systemPrompt
}

// convertToolsToGemini converts tool declarations to FunctionDeclarations.
func convertToolsToGemini(ts []tools.Tool) []*genai.Tool {
	if len(ts) == 0 {
		return nil
	}
	var decls []*genai.FunctionDeclaration
	for _, t := range ts {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  toGeminiSchema(schemaOf(t)),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// toGeminiSchema converts a JSON-Schema map to genai.Schema. Unknown
// keywords are ignored.
func toGeminiSchema(m map[string]any) *genai.Schema {
	s := &genai.Schema{}
	switch m["type"] {
	case "string":
		s.Type = genai.TypeString
	case "number":
		s.Type = genai.TypeNumber
	case "integer":
		s.Type = genai.TypeInteger
	case "boolean":
		s.Type = genai.TypeBoolean
	case "array":
		s.Type = genai.TypeArray
	default:
		s.Type = genai.TypeObject
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	switch e := m["enum"].(type) {
	case []string:
		s.Enum = e
	case []any:
		for _, v := range e {
			if str, ok := v.(string); ok {
				s.Enum = append(s.Enum, str)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = toGeminiSchema(items)
	}
	if s.Type == genai.TypeObject {
		props, required := splitSchema(m)
		if len(props) > 0 {
			s.Properties = make(map[string]*genai.Schema, len(props))
			for name, p := range props {
				if pm, ok := p.(map[string]any); ok {
					s.Properties[name] = toGeminiSchema(pm)
				}
			}
		}
		s.Required = required
	}
	return s
}

// processGeminiResponse converts a Gemini reply into a Response.
func processGeminiResponse(resp *genai.GenerateContentResponse) (*Response, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, invalidResponse("google", "received an empty response", nil)
	}
	cand := resp.Candidates[0]
	msg := session.Message{Role: session.RoleAssistant}
	for _, part := range cand.Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			msg.Content += string(v)
		case genai.FunctionCall:
			msg.ToolCalls = append(msg.ToolCalls, session.ToolCall{
				ID:        geminiCallID(len(msg.ToolCalls), v.Name),
				Name:      v.Name,
				Arguments: nonNilArgs(v.Args),
			})
		}
	}
	finish := mapGeminiFinish(cand.FinishReason)
	if msg.HasToolCalls() {
		finish = FinishToolUse
	}
	if finish == "" {
		finish = FinishStop
	}
	out := &Response{Message: msg, FinishReason: finish}
	if resp.UsageMetadata != nil {
		out.Usage = &Usage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}
