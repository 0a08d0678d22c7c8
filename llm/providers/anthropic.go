// Package providers implements the vendor adapters behind llm.Provider.
// Each adapter registers itself at init time; importing this package for
// side effects makes every provider available by name.
package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/lodevel/procstudio/llm"
)

const anthropicVersion = "2023-06-01"

// defaultAnthropicMaxTokens applies when the endpoint does not set one;
// the messages API requires the field.
const defaultAnthropicMaxTokens = 4096

func init() {
	llm.RegisterProvider(&AnthropicProvider{})
}

// AnthropicProvider speaks the Anthropic messages API. The system prompt
// travels as a top-level field, not a message.
type AnthropicProvider struct{}

func (a *AnthropicProvider) Name() string { return "anthropic" }

func (a *AnthropicProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return strings.TrimSuffix(baseURL, "/") + "/v1/messages"
}

func (a *AnthropicProvider) SetHeaders(req *http.Request) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		req.Header.Set("x-api-key", key)
	}
	req.Header.Set("anthropic-version", anthropicVersion)
}

func (a *AnthropicProvider) BuildRequestBody(model string, messages []llm.Message, temperature *float64, maxTokens int) ([]byte, error) {
	type wireMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	var system string
	var rest []wireMessage
	for _, m := range messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		rest = append(rest, wireMessage{Role: m.Role, Content: m.Content})
	}

	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	return json.Marshal(struct {
		Model       string        `json:"model"`
		MaxTokens   int           `json:"max_tokens"`
		Messages    []wireMessage `json:"messages"`
		System      string        `json:"system,omitempty"`
		Temperature *float64      `json:"temperature,omitempty"`
	}{
		Model:       model,
		MaxTokens:   maxTokens,
		Messages:    rest,
		System:      system,
		Temperature: temperature,
	})
}

func (a *AnthropicProvider) ParseResponse(body []byte, _ string) (*llm.Response, error) {
	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Model      string `json:"model"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse anthropic response: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &llm.Response{
		Content: text.String(),
		Model:   resp.Model,
		Usage: llm.TokenUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		FinishReason: resp.StopReason,
	}, nil
}
