// Package llm sends completion requests to whichever model endpoint the
// registry resolves for a capability, retrying transient failures and
// walking the fallback chain before giving up. Providers translate the
// neutral request shape to each vendor's wire format.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/lodevel/procstudio/model"
)

// maxResponseSize caps how much of a reply body is read.
const maxResponseSize = 10 * 1024 * 1024

// Message is one chat message on the wire.
type Message struct {
	Role    string `json:"role"` // system, user, or assistant
	Content string `json:"content"`
}

// Request is a capability-addressed completion request. The registry picks
// the concrete model.
type Request struct {
	// Capability names what kind of work this is ("structuring",
	// "coding", ...); it is resolved to endpoints via the registry.
	Capability string

	Messages []Message

	// Temperature of nil leaves the endpoint default in place.
	Temperature *float64

	// MaxTokens of 0 leaves the endpoint default in place.
	MaxTokens int
}

// TokenUsage is the token accounting reported by the provider.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a completed reply.
type Response struct {
	// RequestID correlates this reply with its stored call record.
	RequestID string

	Content string

	// Model is the model that actually answered, which may differ from
	// the preferred one when fallbacks were used.
	Model string

	Usage TokenUsage

	FinishReason string
}

// Client resolves capabilities to endpoints and completes requests with
// retry and fallback. Safe for concurrent use.
type Client struct {
	registry    *model.Registry
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *slog.Logger

	// callStore, when set, persists every call for audit.
	callStore *CallStore
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetryConfig replaces the default retry policy.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(client *Client) {
		client.retryConfig = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// WithCallStore enables call recording.
func WithCallStore(store *CallStore) ClientOption {
	return func(client *Client) {
		client.callStore = store
	}
}

// NewClient creates a client over the given registry.
func NewClient(registry *model.Registry, opts ...ClientOption) *Client {
	c := &Client{
		registry:    registry,
		retryConfig: DefaultRetryConfig(),
		// Model replies are slow; the default timeout is generous and
		// usually overridden from config.
		httpClient: &http.Client{Timeout: 180 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete resolves the request's capability and works through the
// endpoint chain until one answers. Transient failures are retried per
// endpoint; a fatal failure stops the whole chain.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Capability == "" {
		return nil, fmt.Errorf("capability is required")
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}

	capVal := model.ParseCapability(req.Capability)
	if capVal == "" {
		capVal = model.CapabilityFast
	}
	chain := c.registry.FallbackChain(capVal)
	if len(chain) == 0 {
		return nil, fmt.Errorf("no models configured for capability %s", req.Capability)
	}

	call := &callState{
		requestID: uuid.New().String(),
		turn:      GetTurnContext(ctx),
		startedAt: time.Now(),
	}

	var lastErr error
	for _, modelName := range chain {
		endpoint := c.registry.GetEndpoint(modelName)
		if endpoint == nil {
			c.logger.Debug("No endpoint for model, skipping", "model", modelName)
			continue
		}

		resp, attempts, err := c.completeWithRetry(ctx, endpoint, req)
		call.retries += attempts - 1

		if err == nil {
			resp.RequestID = call.requestID
			c.recordCall(ctx, call.record(req, endpoint.Provider, resp, nil))
			return resp, nil
		}

		call.fallbacksUsed = append(call.fallbacksUsed, modelName)
		lastErr = err
		c.logger.Warn("Endpoint failed",
			"model", modelName,
			"provider", endpoint.Provider,
			"error", err)

		if IsFatal(err) {
			rec := call.record(req, endpoint.Provider, nil, err)
			rec.Model = modelName
			c.recordCall(ctx, rec)
			return nil, err
		}
	}

	err := fmt.Errorf("all endpoints failed for capability %s: %w", req.Capability, lastErr)
	c.recordCall(ctx, call.record(req, "", nil, err))
	return nil, err
}

// callState accumulates audit data across fallbacks within one Complete.
type callState struct {
	requestID     string
	turn          TurnContext
	startedAt     time.Time
	retries       int
	fallbacksUsed []string
}

func (s *callState) record(req Request, provider string, resp *Response, callErr error) *CallRecord {
	rec := &CallRecord{
		RequestID:     s.requestID,
		SessionID:     s.turn.SessionID,
		TurnID:        s.turn.TurnID,
		Capability:    req.Capability,
		Provider:      provider,
		Messages:      req.Messages,
		StartedAt:     s.startedAt,
		CompletedAt:   time.Now(),
		DurationMs:    time.Since(s.startedAt).Milliseconds(),
		Retries:       s.retries,
		FallbacksUsed: s.fallbacksUsed,
	}
	if resp != nil {
		rec.Model = resp.Model
		rec.Response = resp.Content
		rec.PromptTokens = resp.Usage.PromptTokens
		rec.CompletionTokens = resp.Usage.CompletionTokens
		rec.TotalTokens = resp.Usage.TotalTokens
		rec.FinishReason = resp.FinishReason
	}
	if callErr != nil {
		rec.Error = callErr.Error()
	}
	return rec
}

// recordCall persists a call record when recording is enabled. Store
// failures are logged and otherwise ignored; auditing never breaks a call.
func (c *Client) recordCall(ctx context.Context, record *CallRecord) {
	if c.callStore == nil {
		return
	}
	if err := c.callStore.Store(ctx, record); err != nil {
		c.logger.Warn("Failed to record LLM call",
			"request_id", record.RequestID,
			"session_id", record.SessionID,
			"error", err)
	}
}

// completeWithRetry sends to one endpoint until it succeeds, fails
// fatally, or attempts run out. Returns how many attempts were made.
func (c *Client) completeWithRetry(ctx context.Context, ep *model.EndpointConfig, req Request) (*Response, int, error) {
	var lastErr error

	for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
		resp, err := c.send(ctx, ep, req)
		if err == nil {
			return resp, attempt, nil
		}
		lastErr = err

		if IsFatal(err) {
			return nil, attempt, err
		}
		if attempt == c.retryConfig.MaxAttempts {
			break
		}

		backoff := c.backoffFor(attempt)
		c.logger.Debug("Request failed, retrying",
			"attempt", attempt,
			"backoff", backoff,
			"error", err)
		select {
		case <-ctx.Done():
			return nil, attempt, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, c.retryConfig.MaxAttempts, lastErr
}

// backoffFor grows the base delay exponentially with the attempt number,
// capped at MaxBackoff, with +/-25% jitter so concurrent clients do not
// retry in lockstep.
func (c *Client) backoffFor(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.retryConfig.BackoffMultiplier
	}

	backoff := time.Duration(float64(c.retryConfig.BackoffBase) * multiplier)
	if backoff > c.retryConfig.MaxBackoff {
		backoff = c.retryConfig.MaxBackoff
	}

	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

// send performs one HTTP round trip through the endpoint's provider.
func (c *Client) send(ctx context.Context, ep *model.EndpointConfig, req Request) (*Response, error) {
	provider := GetProvider(ep.Provider)
	if provider == nil {
		return nil, NewFatalError(fmt.Errorf("unknown provider: %s", ep.Provider))
	}

	url := provider.BuildURL(ep.URL)
	body, err := provider.BuildRequestBody(ep.Model, req.Messages, req.Temperature, req.MaxTokens)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	c.logger.Debug("Sending LLM request",
		"provider", ep.Provider,
		"model", ep.Model,
		"url", url,
		"messages", len(req.Messages))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	provider.SetHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyStatus(httpResp.StatusCode, respBody)
	}

	return provider.ParseResponse(respBody, ep.Model)
}

// classifyStatus maps a non-200 status to transient or fatal. Rate limits
// and server errors are worth retrying; auth and request-shape problems
// are not, and unknown statuses are treated like them.
func classifyStatus(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}
	err := fmt.Errorf("LLM API error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests, statusCode >= 500:
		return NewTransientError(err)
	default:
		return NewFatalError(err)
	}
}
