package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/lodevel/procstudio/llm"
)

func init() {
	llm.RegisterProvider(&OllamaProvider{})
}

// OllamaProvider talks to a local Ollama daemon through its
// OpenAI-compatible endpoint. System prompts stay regular messages in this
// format, so no message rewriting is needed.
type OllamaProvider struct{}

func (o *OllamaProvider) Name() string { return "ollama" }

func (o *OllamaProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}
	return baseURL + "/chat/completions"
}

// SetHeaders adds a bearer token when one is configured. Local daemons
// need none; proxies fronting the same API often do.
func (o *OllamaProvider) SetHeaders(req *http.Request) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
}

func (o *OllamaProvider) BuildRequestBody(model string, messages []llm.Message, temperature *float64, maxTokens int) ([]byte, error) {
	return buildOpenAIBody(model, messages, temperature, maxTokens)
}

func (o *OllamaProvider) ParseResponse(body []byte, model string) (*llm.Response, error) {
	return parseOpenAIResponse(body, model)
}

// buildOpenAIBody serializes a request in the OpenAI chat-completions
// shape, shared by every provider that speaks it. Optional fields are
// omitted entirely when unset so endpoint defaults stay in force.
func buildOpenAIBody(model string, messages []llm.Message, temperature *float64, maxTokens int) ([]byte, error) {
	req := map[string]any{
		"model":    model,
		"messages": messages,
	}
	if temperature != nil {
		req["temperature"] = *temperature
	}
	if maxTokens > 0 {
		req["max_tokens"] = maxTokens
	}
	return json.Marshal(req)
}

func parseOpenAIResponse(body []byte, model string) (*llm.Response, error) {
	var resp struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse chat completion response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion response has no choices")
	}

	if resp.Model != "" {
		model = resp.Model
	}
	return &llm.Response{
		Content: resp.Choices[0].Message.Content,
		Model:   model,
		Usage: llm.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		FinishReason: resp.Choices[0].FinishReason,
	}, nil
}
