package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// BucketCalls is the NATS KV bucket holding LLM call records.
const BucketCalls = "PROCSTUDIO_LLM_CALLS"

// CallRecord represents a single LLM API call with full context for auditing.
type CallRecord struct {
	// RequestID uniquely identifies this LLM call.
	RequestID string `json:"request_id"`

	// SessionID is the conversation session that initiated this call (if any).
	SessionID string `json:"session_id,omitempty"`

	// TurnID identifies the turn within the session (if any).
	TurnID string `json:"turn_id,omitempty"`

	// Capability is the semantic capability requested (structuring, coding, etc.).
	Capability string `json:"capability"`

	// Model is the actual model that was used for this call.
	Model string `json:"model"`

	// Provider is the LLM provider (anthropic, ollama, openai, etc.).
	Provider string `json:"provider"`

	// Messages is the input message history sent to the LLM.
	Messages []Message `json:"messages"`

	// Response is the generated content from the LLM.
	Response string `json:"response"`

	// PromptTokens is the number of input/prompt tokens consumed.
	PromptTokens int `json:"prompt_tokens"`

	// CompletionTokens is the number of output/completion tokens generated.
	CompletionTokens int `json:"completion_tokens"`

	// TotalTokens is the total tokens consumed (prompt + completion).
	TotalTokens int `json:"total_tokens"`

	// FinishReason indicates why generation stopped (stop, length, etc.).
	FinishReason string `json:"finish_reason"`

	// StartedAt is when the LLM call began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the LLM call finished.
	CompletedAt time.Time `json:"completed_at"`

	// DurationMs is the call duration in milliseconds.
	DurationMs int64 `json:"duration_ms"`

	// Error contains any error message if the call failed.
	Error string `json:"error,omitempty"`

	// Retries is the number of retry attempts made.
	Retries int `json:"retries"`

	// FallbacksUsed lists models tried before success (if fallback was needed).
	FallbacksUsed []string `json:"fallbacks_used,omitempty"`
}

// CallStore persists LLM call records in NATS KV.
type CallStore struct {
	kv     jetstream.KeyValue
	logger *slog.Logger
}

// CallStoreOption configures a CallStore.
type CallStoreOption func(*CallStore)

// WithStoreLogger sets the logger for the LLM call store.
func WithStoreLogger(logger *slog.Logger) CallStoreOption {
	return func(s *CallStore) {
		s.logger = logger
	}
}

// NewCallStore creates a new LLM call store, creating the KV bucket if needed.
func NewCallStore(ctx context.Context, js jetstream.JetStream, opts ...CallStoreOption) (*CallStore, error) {
	if js == nil {
		return nil, fmt.Errorf("JetStream context required")
	}

	kv, err := js.KeyValue(ctx, BucketCalls)
	if err != nil {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      BucketCalls,
			Description: "LLM call audit records",
			History:     1,
		})
		if err != nil {
			return nil, fmt.Errorf("create call bucket: %w", err)
		}
	}

	s := &CallStore{
		kv:     kv,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Store persists an LLM call record.
func (s *CallStore) Store(ctx context.Context, record *CallRecord) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if record.RequestID == "" {
		return fmt.Errorf("request_id is required")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal call record: %w", err)
	}

	if _, err := s.kv.Put(ctx, record.RequestID, data); err != nil {
		return fmt.Errorf("store call record: %w", err)
	}

	s.logger.Debug("Stored LLM call record",
		"request_id", record.RequestID,
		"session_id", record.SessionID,
		"capability", record.Capability)

	return nil
}

// Get retrieves a call record by request ID.
func (s *CallStore) Get(ctx context.Context, requestID string) (*CallRecord, error) {
	entry, err := s.kv.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("call record %s not found", requestID)
		}
		return nil, fmt.Errorf("get call record: %w", err)
	}

	var record CallRecord
	if err := json.Unmarshal(entry.Value(), &record); err != nil {
		return nil, fmt.Errorf("unmarshal call record: %w", err)
	}

	return &record, nil
}

// ListForSession returns all call records for a session, oldest first.
func (s *CallStore) ListForSession(ctx context.Context, sessionID string) ([]*CallRecord, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list call keys: %w", err)
	}

	records := make([]*CallRecord, 0, len(keys))
	for _, key := range keys {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			continue // Skip entries that fail to load
		}
		var record CallRecord
		if err := json.Unmarshal(entry.Value(), &record); err != nil {
			continue
		}
		if record.SessionID == sessionID {
			records = append(records, &record)
		}
	}

	SortByStartTime(records)
	return records, nil
}

// SortByStartTime sorts records chronologically by StartedAt.
func SortByStartTime(records []*CallRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
}

// TurnContext holds turn correlation information carried through context.
type TurnContext struct {
	SessionID string
	TurnID    string
}

// turnContextKey is the context key for turn information.
type turnContextKey struct{}

// WithTurnContext adds turn correlation information to a context.
func WithTurnContext(ctx context.Context, tc TurnContext) context.Context {
	return context.WithValue(ctx, turnContextKey{}, tc)
}

// GetTurnContext extracts turn correlation information from a context.
func GetTurnContext(ctx context.Context) TurnContext {
	if tc, ok := ctx.Value(turnContextKey{}).(TurnContext); ok {
		return tc
	}
	return TurnContext{}
}
