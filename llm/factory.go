package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/m4xw311/tandem/config"
	"github.com/m4xw311/tandem/tools"
)

// providerKeys is the auto-detection order used when no provider is
// configured.
var providerKeys = []struct {
	provider string
	envs     []string
}{
	{"anthropic", []string{"ANTHROPIC_API_KEY"}},
	{"openai", []string{"OPENAI_API_KEY"}},
	{"google", []string{"GOOGLE_API_KEY", "GEMINI_API_KEY"}},
	{"together", []string{"TOGETHER_API_KEY"}},
}

// DetectProvider returns the first provider whose key is present in the
// environment, or "".
func DetectProvider() string {
	for _, pk := range providerKeys {
		for _, env := range pk.envs {
			if os.Getenv(env) != "" {
				return pk.provider
			}
		}
	}
	return ""
}

// NewClient builds the adapter selected by cfg.LLMClient, falling back to
// key detection. The result is not wrapped with WithRetry.
func NewClient(ctx context.Context, cfg *config.Config) (Client, error) {
	provider := strings.ToLower(cfg.LLMClient)
	if provider == "" {
		provider = DetectProvider()
	}
	opts := Options{
		Model:       cfg.Model,
		BaseURL:     cfg.BaseURL,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}
	switch provider {
	case "anthropic":
		return NewAnthropicClient(opts)
	case "openai":
		return NewOpenAIClient(opts)
	case "together":
		return NewTogetherClient(opts)
	case "groq":
		return NewGroqClient(opts)
	case "deepseek":
		return NewDeepSeekClient(opts)
	case "ollama":
		return NewOllamaClient(opts)
	case "google", "gemini":
		return NewGeminiClient(ctx, opts)
	case "bedrock":
		return NewBedrockClient(ctx, opts)
	case "scripted", "mock":
		return NewScriptedClient(), nil
	case "":
		return nil, fmt.Errorf("no LLM provider configured and no API key found; set 'llm' in config or one of ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY, TOGETHER_API_KEY")
	default:
		return nil, fmt.Errorf("unsupported LLM client '%s'", cfg.LLMClient)
	}
}

// FormatSystemPrompt fills a {tool_descriptions} placeholder in prompt with
// one "- name: description" line per tool. Prompts without the placeholder
// are returned unchanged.
func FormatSystemPrompt(prompt string, ts []tools.Tool) string {
	const placeholder = "{tool_descriptions}"
	if !strings.Contains(prompt, placeholder) {
		return prompt
	}
	lines := make([]string, 0, len(ts))
	for _, t := range ts {
		lines = append(lines, fmt.Sprintf("- %s: %s", t.Name(), t.Description()))
	}
	return strings.ReplaceAll(prompt, placeholder, strings.Join(lines, "\n"))
}
