// Package main implements a mock LLM server for end-to-end testing of the
// co-authoring workflow. It serves canned reply envelopes (narrative plus a
// fenced proposal JSON block) from fixture files, routing by the "model"
// field of the request, on both the OpenAI-compatible and the Anthropic
// messages endpoint. This removes the need for a real model during workflow
// wiring tests, making them fast, deterministic, and offline-capable.
//
// Usage:
//
//	mock-llm -fixtures /path/to/fixtures -port 11434
//
// Fixture files are named by model: "mock-structuring.md" is returned
// verbatim as the assistant text for model "mock-structuring". Fixtures may
// be .md, .txt, or .json.
//
// Sequential fixtures: numbered files ("mock-reviewing.1.md",
// "mock-reviewing.2.md") are served in order, one per call to that model,
// with the unnumbered base file repeating after the sequence is exhausted.
// This supports testing rejection, revision, and re-proposal loops.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// replyFor tracks per-model fixture sequences and call counts.
type replyFor struct {
	mu       sync.Mutex
	fixtures map[string][]string // model name, ordered fixture contents
	calls    map[string]int
	total    int

	// captured keeps the messages of every request per model, for test
	// assertions about prompt composition (dirty-only resends, rules
	// injection, history growth).
	captured map[string][]capturedRequest
}

type capturedRequest struct {
	Model     string        `json:"model"`
	System    string        `json:"system,omitempty"`
	Messages  []wireMessage `json:"messages"`
	CallIndex int           `json:"call_index"`
	Timestamp int64         `json:"timestamp"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func newReplyFor(fixtures map[string][]string) *replyFor {
	return &replyFor{
		fixtures: fixtures,
		calls:    make(map[string]int),
		captured: make(map[string][]capturedRequest),
	}
}

// next resolves the reply text for one call to model, recording the call.
// The bool reports whether any fixture exists for the model.
func (r *replyFor) next(model, system string, messages []wireMessage) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seq, ok := r.fixtures[model]
	if !ok {
		seq, ok = r.fixtures[strings.TrimPrefix(model, "mock-")]
	}
	if !ok {
		return "", false
	}

	idx := r.calls[model]
	r.calls[model] = idx + 1
	r.total++
	r.captured[model] = append(r.captured[model], capturedRequest{
		Model:     model,
		System:    system,
		Messages:  messages,
		CallIndex: idx + 1,
		Timestamp: time.Now().UnixMilli(),
	})

	if idx >= len(seq) {
		idx = len(seq) - 1
	}
	return seq[idx], true
}

func (r *replyFor) stats() (int, map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byModel := make(map[string]int, len(r.calls))
	for m, n := range r.calls {
		byModel[m] = n
	}
	return r.total, byModel
}

func (r *replyFor) requests(modelFilter string, callFilter int) map[string][]capturedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]capturedRequest)
	for model, reqs := range r.captured {
		if modelFilter != "" && model != modelFilter {
			continue
		}
		for _, req := range reqs {
			if callFilter > 0 && req.CallIndex != callFilter {
				continue
			}
			out[model] = append(out[model], req)
		}
	}
	return out
}

func main() {
	fixtureDir := flag.String("fixtures", "", "directory containing fixture reply files")
	port := flag.Int("port", 11434, "port to listen on")
	flag.Parse()

	if envDir := os.Getenv("MOCK_LLM_FIXTURES"); envDir != "" && *fixtureDir == "" {
		*fixtureDir = envDir
	}
	if *fixtureDir == "" {
		*fixtureDir = "fixtures"
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	fixtures, err := loadFixtures(*fixtureDir)
	if err != nil {
		logger.Error("Failed to load fixtures", "dir", *fixtureDir, "error", err)
		os.Exit(1)
	}
	for model, seq := range fixtures {
		logger.Info("Fixture loaded", "model", model, "replies", len(seq))
	}

	s := &server{replies: newReplyFor(fixtures), logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/v1/messages", s.handleAnthropicMessages)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/requests", s.handleRequests)

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("Mock LLM server listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

type server struct {
	replies *replyFor
	logger  *slog.Logger
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleChatCompletions serves the OpenAI-compatible endpoint used by the
// ollama and openai providers.
func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Model    string        `json:"model"`
		Messages []wireMessage `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	content, ok := s.replies.next(req.Model, "", req.Messages)
	if !ok {
		s.logger.Warn("No fixture for model", "model", req.Model)
		http.Error(w, fmt.Sprintf("no fixture for model %q", req.Model), http.StatusNotFound)
		return
	}
	s.logger.Info("Serving reply", "endpoint", "chat/completions", "model", req.Model, "bytes", len(content))

	writeJSON(w, map[string]any{
		"id":      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   req.Model,
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       wireMessage{Role: "assistant", Content: content},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{
			"prompt_tokens":     len(content) / 4,
			"completion_tokens": len(content) / 4,
			"total_tokens":      len(content) / 2,
		},
	})
}

// handleAnthropicMessages serves the Anthropic messages endpoint. The
// system prompt arrives as a top-level field rather than a message.
func (s *server) handleAnthropicMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Model    string        `json:"model"`
		System   string        `json:"system"`
		Messages []wireMessage `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	content, ok := s.replies.next(req.Model, req.System, req.Messages)
	if !ok {
		s.logger.Warn("No fixture for model", "model", req.Model)
		http.Error(w, fmt.Sprintf("no fixture for model %q", req.Model), http.StatusNotFound)
		return
	}
	s.logger.Info("Serving reply", "endpoint", "messages", "model", req.Model, "bytes", len(content))

	writeJSON(w, map[string]any{
		"id":    fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		"type":  "message",
		"role":  "assistant",
		"model": req.Model,
		"content": []map[string]string{
			{"type": "text", "text": content},
		},
		"stop_reason": "end_turn",
		"usage": map[string]int{
			"input_tokens":  len(content) / 4,
			"output_tokens": len(content) / 4,
		},
	})
}

// handleStats returns call counts for test assertions.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	total, byModel := s.replies.stats()
	writeJSON(w, map[string]any{
		"total_calls":    total,
		"calls_by_model": byModel,
	})
}

// handleRequests returns captured requests, optionally filtered by ?model=
// and 1-indexed ?call=.
func (s *server) handleRequests(w http.ResponseWriter, r *http.Request) {
	call := 0
	if v := r.URL.Query().Get("call"); v != "" {
		call, _ = strconv.Atoi(v)
	}
	writeJSON(w, map[string]any{
		"requests_by_model": s.replies.requests(r.URL.Query().Get("model"), call),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// numberedFileRe matches files like "mock-reviewing.1.md".
var numberedFileRe = regexp.MustCompile(`^(.+)\.(\d+)\.(md|txt|json)$`)

var fixtureExts = map[string]bool{".md": true, ".txt": true, ".json": true}

// loadFixtures reads fixture files from dir and returns model name to
// ordered reply sequence. Numbered files come first in numeric order, then
// the base file as the repeating fallback.
func loadFixtures(dir string) (map[string][]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	base := make(map[string]string)
	numbered := make(map[string]map[int]string)

	for _, entry := range entries {
		if entry.IsDir() || !fixtureExts[filepath.Ext(entry.Name())] {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		content := string(data)

		if m := numberedFileRe.FindStringSubmatch(entry.Name()); m != nil {
			model := m[1]
			idx, _ := strconv.Atoi(m[2])
			if numbered[model] == nil {
				numbered[model] = make(map[int]string)
			}
			numbered[model][idx] = content
			continue
		}
		model := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		base[model] = content
	}

	fixtures := make(map[string][]string)
	models := make(map[string]bool)
	for m := range base {
		models[m] = true
	}
	for m := range numbered {
		models[m] = true
	}

	for model := range models {
		var seq []string
		if byIdx, ok := numbered[model]; ok {
			indices := make([]int, 0, len(byIdx))
			for idx := range byIdx {
				indices = append(indices, idx)
			}
			sort.Ints(indices)
			for _, idx := range indices {
				seq = append(seq, byIdx[idx])
			}
		}
		if b, ok := base[model]; ok {
			seq = append(seq, b)
		}
		fixtures[model] = seq
	}

	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no fixture files found in %s", dir)
	}
	return fixtures, nil
}
