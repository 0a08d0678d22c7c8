package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/lodevel/procstudio/contract"
	"github.com/lodevel/procstudio/llm"
	"github.com/lodevel/procstudio/model"
	"github.com/lodevel/procstudio/prompt"
)

// Backend dispatches a built prompt and returns the raw model reply.
// Send is the turn's only suspension point; implementations must honor
// context cancellation.
type Backend interface {
	Send(ctx context.Context, req prompt.Request) (string, error)
}

// TransportError wraps a backend failure. The turn consumed nothing and can
// be retried as-is.
type TransportError struct {
	err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("backend transport: %v", e.err)
}

func (e *TransportError) Unwrap() error {
	return e.err
}

// IsTransport returns true if the error is a backend transport failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// CapabilityForTask maps a task type to the model capability that serves it.
func CapabilityForTask(task contract.TaskType) model.Capability {
	switch task {
	case contract.TaskDeriveJSONFromText, contract.TaskDeriveJSONFromCode:
		return model.CapabilityStructuring
	case contract.TaskGenerateCodeFromJSON:
		return model.CapabilityCoding
	case contract.TaskRenderTextFromJSON:
		return model.CapabilityWriting
	case contract.TaskReviewText, contract.TaskReviewJSON,
		contract.TaskReviewCode, contract.TaskReviewTextVsJSON,
		contract.TaskReviewCodeVsJSON:
		return model.CapabilityReviewing
	default:
		return model.CapabilityFast
	}
}

// LLMBackend adapts the llm.Client to the Backend interface.
type LLMBackend struct {
	client *llm.Client

	// Temperature for all requests. nil uses endpoint defaults.
	Temperature *float64

	// MaxTokens caps response length. 0 uses endpoint defaults.
	MaxTokens int
}

// NewLLMBackend creates a backend over the given client.
func NewLLMBackend(client *llm.Client) *LLMBackend {
	return &LLMBackend{client: client}
}

// Send converts the prompt request to a completion call.
func (b *LLMBackend) Send(ctx context.Context, req prompt.Request) (string, error) {
	messages := make([]llm.Message, 0, len(req.History)+2)
	messages = append(messages, llm.Message{Role: "system", Content: req.System})
	for _, m := range req.History {
		messages = append(messages, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: req.User})

	resp, err := b.client.Complete(ctx, llm.Request{
		Capability:  string(CapabilityForTask(req.Task)),
		Messages:    messages,
		Temperature: b.Temperature,
		MaxTokens:   b.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
