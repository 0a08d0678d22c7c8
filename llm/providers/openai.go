package providers

import (
	"net/http"
	"os"
	"strings"

	"github.com/lodevel/procstudio/llm"
)

func init() {
	llm.RegisterProvider(&OpenAIProvider{})
}

// OpenAIProvider targets the hosted OpenAI API or any compatible gateway
// (OpenRouter). The wire format is the shared chat-completions shape.
type OpenAIProvider struct{}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}
	return baseURL + "/chat/completions"
}

func (p *OpenAIProvider) SetHeaders(req *http.Request) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	// OpenRouter attribution headers, ignored by openai.com.
	if site := os.Getenv("OPENROUTER_SITE_URL"); site != "" {
		req.Header.Set("HTTP-Referer", site)
	}
	if title := os.Getenv("OPENROUTER_APP_NAME"); title != "" {
		req.Header.Set("X-Title", title)
	}
}

func (p *OpenAIProvider) BuildRequestBody(model string, messages []llm.Message, temperature *float64, maxTokens int) ([]byte, error) {
	return buildOpenAIBody(model, messages, temperature, maxTokens)
}

func (p *OpenAIProvider) ParseResponse(body []byte, model string) (*llm.Response, error) {
	return parseOpenAIResponse(body, model)
}
