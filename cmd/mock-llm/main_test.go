package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture %s: %v", name, err)
	}
}

func TestLoadFixtures_BaseAndNumbered(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "mock-reviewing.1.md", "first")
	writeFixture(t, dir, "mock-reviewing.2.md", "second")
	writeFixture(t, dir, "mock-reviewing.md", "fallback")
	writeFixture(t, dir, "mock-coding.md", "code reply")
	writeFixture(t, dir, "notes.yaml", "ignored")

	fixtures, err := loadFixtures(dir)
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}

	seq := fixtures["mock-reviewing"]
	want := []string{"first", "second", "fallback"}
	if len(seq) != len(want) {
		t.Fatalf("sequence length = %d, want %d", len(seq), len(want))
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Errorf("seq[%d] = %q, want %q", i, seq[i], want[i])
		}
	}
	if len(fixtures["mock-coding"]) != 1 {
		t.Errorf("mock-coding sequence length = %d, want 1", len(fixtures["mock-coding"]))
	}
	if _, ok := fixtures["notes"]; ok {
		t.Error("non-fixture extension should be ignored")
	}
}

func TestLoadFixtures_EmptyDir(t *testing.T) {
	if _, err := loadFixtures(t.TempDir()); err == nil {
		t.Fatal("expected error for empty fixture dir")
	}
}

func TestReplyFor_SequentialThenRepeat(t *testing.T) {
	r := newReplyFor(map[string][]string{
		"mock-reviewing": {"first", "second", "fallback"},
	})

	for i, want := range []string{"first", "second", "fallback", "fallback"} {
		got, ok := r.next("mock-reviewing", "", nil)
		if !ok {
			t.Fatalf("call %d: no fixture", i+1)
		}
		if got != want {
			t.Errorf("call %d = %q, want %q", i+1, got, want)
		}
	}

	total, byModel := r.stats()
	if total != 4 || byModel["mock-reviewing"] != 4 {
		t.Errorf("stats = (%d, %v), want 4 calls", total, byModel)
	}
}

func TestReplyFor_PrefixFallbackAndMiss(t *testing.T) {
	r := newReplyFor(map[string][]string{"structuring": {"reply"}})

	if got, ok := r.next("mock-structuring", "", nil); !ok || got != "reply" {
		t.Errorf("prefix-stripped lookup = (%q, %v), want (reply, true)", got, ok)
	}
	if _, ok := r.next("unknown-model", "", nil); ok {
		t.Error("expected miss for unknown model")
	}
}

func newTestServer(fixtures map[string][]string) *server {
	return &server{
		replies: newReplyFor(fixtures),
		logger:  slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
	}
}

func TestHandleChatCompletions(t *testing.T) {
	s := newTestServer(map[string][]string{"mock-writing": {"Here is the draft."}})

	body := `{"model":"mock-writing","messages":[{"role":"user","content":"draft it"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleChatCompletions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Choices []struct {
			Message      wireMessage `json:"message"`
			FinishReason string      `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "Here is the draft." {
		t.Errorf("unexpected choices: %+v", resp.Choices)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Errorf("finish_reason = %q, want stop", resp.Choices[0].FinishReason)
	}
}

func TestHandleChatCompletions_UnknownModel(t *testing.T) {
	s := newTestServer(map[string][]string{"mock-writing": {"x"}})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"nope","messages":[]}`))
	rec := httptest.NewRecorder()
	s.handleChatCompletions(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleAnthropicMessages(t *testing.T) {
	s := newTestServer(map[string][]string{"mock-structuring": {"Structured."}})

	body := `{"model":"mock-structuring","system":"You structure procedures.","messages":[{"role":"user","content":"go"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleAnthropicMessages(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Content) != 1 || resp.Content[0].Text != "Structured." {
		t.Errorf("unexpected content: %+v", resp.Content)
	}
	if resp.StopReason != "end_turn" {
		t.Errorf("stop_reason = %q, want end_turn", resp.StopReason)
	}

	// The system prompt is captured for /requests assertions.
	captured := s.replies.requests("mock-structuring", 1)
	reqs := captured["mock-structuring"]
	if len(reqs) != 1 || reqs[0].System != "You structure procedures." {
		t.Errorf("captured = %+v, want system prompt recorded", reqs)
	}
}

func TestHandleRequests_Filters(t *testing.T) {
	s := newTestServer(map[string][]string{"a": {"1"}, "b": {"2"}})
	_, _ = s.replies.next("a", "", []wireMessage{{Role: "user", Content: "first"}})
	_, _ = s.replies.next("a", "", []wireMessage{{Role: "user", Content: "second"}})
	_, _ = s.replies.next("b", "", nil)

	req := httptest.NewRequest(http.MethodGet, "/requests?model=a&call=2", nil)
	rec := httptest.NewRecorder()
	s.handleRequests(rec, req)

	var resp struct {
		ByModel map[string][]capturedRequest `json:"requests_by_model"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.ByModel) != 1 {
		t.Fatalf("models in response = %d, want 1", len(resp.ByModel))
	}
	reqs := resp.ByModel["a"]
	if len(reqs) != 1 || reqs[0].CallIndex != 2 || reqs[0].Messages[0].Content != "second" {
		t.Errorf("filtered requests = %+v", reqs)
	}
}
