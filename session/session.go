// Package session holds per-conversation state: the append-only message
// history, open questions and decisions accumulated across turns, and the
// turn state machine that admits at most one in-flight request per session.
// Sessions are isolated from each other even when they share an artifact
// store.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lodevel/procstudio/contract"
)

// ErrSessionBusy is returned when a turn is started while another request
// for the same session is in flight. Concurrent turns are rejected, never
// queued.
var ErrSessionBusy = errors.New("session has a request in flight")

// Role tags a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry in a session's history.
type Message struct {
	Role      Role
	Content   string
	Timestamp time.Time
}

// State is the turn state of a session.
type State string

const (
	StateEmpty            State = "empty"
	StateAwaitingResponse State = "awaiting_response"
	StateResolved         State = "resolved"
	StateErrored          State = "errored"
)

// Question is an open or resolved question raised by the model.
type Question struct {
	ID        string
	Text      string
	WhyNeeded string

	// Answer is empty while the question is open.
	Answer string
}

// Decision records a choice made during authoring.
type Decision struct {
	ID       string
	Decision string
	Why      string
}

// Session is the conversation state for one tab-scoped task type.
// All methods are safe for concurrent use.
type Session struct {
	id   string
	task contract.TaskType

	mu        sync.Mutex
	state     State
	prevState State
	messages  []Message
	turnCount int

	intent      string
	assumptions []string
	decisions   []Decision
	open        []Question
	resolved    []Question
}

// New creates an empty session for the given task type. If id is empty a
// new UUID is assigned.
func New(id string, task contract.TaskType) *Session {
	if id == "" {
		id = uuid.New().String()
	}
	return &Session{id: id, task: task, state: StateEmpty, prevState: StateEmpty}
}

// ID returns the session identifier used for dirty-state scoping.
func (s *Session) ID() string { return s.id }

// Task returns the session's task type.
func (s *Session) Task() contract.TaskType { return s.task }

// State returns the current turn state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TurnCount returns the number of completed round-trips.
func (s *Session) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnCount
}

// Begin transitions into AWAITING_RESPONSE. It fails with ErrSessionBusy if
// a request is already in flight.
func (s *Session) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateAwaitingResponse {
		return ErrSessionBusy
	}
	s.prevState = s.state
	s.state = StateAwaitingResponse
	return nil
}

// Resolve marks the in-flight turn as delivered (a Proposal came back,
// valid or carrying a parse error) and counts the round-trip.
func (s *Session) Resolve() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAwaitingResponse {
		return fmt.Errorf("resolve: session in state %s", s.state)
	}
	s.state = StateResolved
	s.turnCount++
	return nil
}

// Fail marks the in-flight turn as failed at the transport level.
func (s *Session) Fail() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAwaitingResponse {
		return fmt.Errorf("fail: session in state %s", s.state)
	}
	s.state = StateErrored
	return nil
}

// Abort restores the state that preceded Begin, as if the turn never
// happened. Used for cancellation before the reply is delivered.
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateAwaitingResponse {
		s.state = s.prevState
	}
}

// AppendUserMessage appends a user message. Messages are append-only.
func (s *Session) AppendUserMessage(text string) {
	s.append(RoleUser, text)
}

// AppendAssistantMessage appends the assistant narrative (or raw reply when
// no narrative could be extracted).
func (s *Session) AppendAssistantMessage(text string) {
	s.append(RoleAssistant, text)
}

// AppendSystemMessage appends a system message, typically the per-turn
// accept/reject summary.
func (s *Session) AppendSystemMessage(text string) {
	s.append(RoleSystem, text)
}

func (s *Session) append(role Role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, Message{Role: role, Content: text, Timestamp: time.Now()})
}

// ContextForPrompt returns a copy of the full message history. Truncation to
// a token budget is the caller's concern.
func (s *Session) ContextForPrompt() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// SetIntent updates the recorded user intent.
func (s *Session) SetIntent(intent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if intent != "" {
		s.intent = intent
	}
}

// AddAssumptions appends model assumptions, skipping duplicates.
func (s *Session) AddAssumptions(assumptions []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range assumptions {
		if a == "" || containsString(s.assumptions, a) {
			continue
		}
		s.assumptions = append(s.assumptions, a)
	}
}

// AddDecision records a decision, deduplicated by ID.
func (s *Session) AddDecision(d Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	for _, existing := range s.decisions {
		if existing.ID == d.ID {
			return
		}
	}
	s.decisions = append(s.decisions, d)
}

// RecordOpenQuestions merges new questions into the open set, deduplicated
// by normalized text. Questions without an ID get one assigned.
func (s *Session) RecordOpenQuestions(questions []Question) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, q := range questions {
		norm := normalizeQuestion(q.Text)
		if norm == "" {
			continue
		}
		dup := false
		for _, existing := range s.open {
			if normalizeQuestion(existing.Text) == norm {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		if q.ID == "" {
			q.ID = uuid.New().String()
		}
		s.open = append(s.open, q)
	}
}

// ResolveQuestion records an answer for one open question and moves it to
// the resolved set. Unknown IDs are ignored.
func (s *Session) ResolveQuestion(id, answer string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, q := range s.open {
		if q.ID == id {
			q.Answer = answer
			s.resolved = append(s.resolved, q)
			s.open = append(s.open[:i], s.open[i+1:]...)
			return true
		}
	}
	return false
}

// OpenQuestions returns a copy of the open question set.
func (s *Session) OpenQuestions() []Question {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Question, len(s.open))
	copy(out, s.open)
	return out
}

// Summary returns a compact session context block for prompts: intent,
// assumptions, decisions, and open questions.
func (s *Session) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	if s.intent != "" {
		fmt.Fprintf(&b, "Intent: %s\n", s.intent)
	}
	if len(s.assumptions) > 0 {
		b.WriteString("Assumptions:\n")
		for _, a := range s.assumptions {
			fmt.Fprintf(&b, "  - %s\n", a)
		}
	}
	if len(s.decisions) > 0 {
		b.WriteString("Decisions:\n")
		for _, d := range s.decisions {
			fmt.Fprintf(&b, "  - %s\n", d.Decision)
		}
	}
	if len(s.open) > 0 {
		b.WriteString("Open questions:\n")
		for _, q := range s.open {
			fmt.Fprintf(&b, "  - [%s] %s\n", q.ID, q.Text)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Reset clears all session state back to empty. The only way messages are
// ever removed.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateEmpty
	s.prevState = StateEmpty
	s.messages = nil
	s.turnCount = 0
	s.intent = ""
	s.assumptions = nil
	s.decisions = nil
	s.open = nil
	s.resolved = nil
}

func normalizeQuestion(text string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(text), "?")
	return strings.Join(strings.Fields(strings.ToLower(trimmed)), " ")
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
