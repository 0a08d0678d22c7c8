package session

import (
	"errors"
	"strings"
	"testing"

	"github.com/lodevel/procstudio/contract"
)

func TestStateMachine(t *testing.T) {
	s := New("tab-a", contract.TaskDeriveJSONFromText)

	if s.State() != StateEmpty {
		t.Fatalf("state = %s, want empty", s.State())
	}
	if err := s.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := s.Begin(); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("second Begin = %v, want ErrSessionBusy", err)
	}
	if err := s.Resolve(); err != nil {
		t.Fatal(err)
	}
	if s.TurnCount() != 1 {
		t.Errorf("turn count = %d, want 1", s.TurnCount())
	}

	// Next turn can fail at the transport level and then be retried.
	if err := s.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := s.Fail(); err != nil {
		t.Fatal(err)
	}
	if s.State() != StateErrored {
		t.Errorf("state = %s, want errored", s.State())
	}
	if s.TurnCount() != 1 {
		t.Errorf("failed turn must not count, got %d", s.TurnCount())
	}
	if err := s.Begin(); err != nil {
		t.Fatal(err)
	}
}

func TestAbortRestoresPriorState(t *testing.T) {
	s := New("tab-a", contract.TaskAdHocChat)
	_ = s.Begin()
	_ = s.Resolve()

	_ = s.Begin()
	s.Abort()
	if s.State() != StateResolved {
		t.Errorf("state = %s, want resolved after abort", s.State())
	}

	// Abort outside an in-flight turn is a no-op.
	s.Abort()
	if s.State() != StateResolved {
		t.Errorf("state = %s", s.State())
	}
}

func TestResolveRequiresInFlightTurn(t *testing.T) {
	s := New("tab-a", contract.TaskAdHocChat)
	if err := s.Resolve(); err == nil {
		t.Error("Resolve without Begin should fail")
	}
	if err := s.Fail(); err == nil {
		t.Error("Fail without Begin should fail")
	}
}

func TestMessagesAreAppendOnlyAndCopied(t *testing.T) {
	s := New("tab-a", contract.TaskAdHocChat)
	s.AppendUserMessage("hello")
	s.AppendAssistantMessage("hi")
	s.AppendSystemMessage("turn 1: nothing proposed")

	ctx := s.ContextForPrompt()
	if len(ctx) != 3 {
		t.Fatalf("history length = %d", len(ctx))
	}
	if ctx[0].Role != RoleUser || ctx[1].Role != RoleAssistant || ctx[2].Role != RoleSystem {
		t.Errorf("roles = %v %v %v", ctx[0].Role, ctx[1].Role, ctx[2].Role)
	}

	// Mutating the returned slice does not touch session state.
	ctx[0].Content = "tampered"
	if s.ContextForPrompt()[0].Content != "hello" {
		t.Error("history copy leaked internal state")
	}
}

func TestOpenQuestionDedupeAndResolve(t *testing.T) {
	s := New("tab-a", contract.TaskReviewJSON)
	s.RecordOpenQuestions([]Question{
		{ID: "q1", Text: "Which voltage rail is under test?"},
		{Text: "which voltage RAIL is under test"},
		{ID: "q2", Text: "Is the fixture calibrated?"},
		{Text: "   "},
	})

	open := s.OpenQuestions()
	if len(open) != 2 {
		t.Fatalf("open questions = %d, want 2 (deduplicated)", len(open))
	}

	if !s.ResolveQuestion("q1", "the 3.3V rail") {
		t.Fatal("q1 should resolve")
	}
	if s.ResolveQuestion("q1", "again") {
		t.Error("resolving twice should be a no-op")
	}
	if len(s.OpenQuestions()) != 1 {
		t.Errorf("open after resolve = %d", len(s.OpenQuestions()))
	}
}

func TestSummary(t *testing.T) {
	s := New("tab-a", contract.TaskReviewJSON)
	if s.Summary() != "" {
		t.Errorf("empty session summary = %q", s.Summary())
	}

	s.SetIntent("author a thermal cycling test")
	s.AddAssumptions([]string{"chamber supports -40C", "chamber supports -40C"})
	s.AddDecision(Decision{ID: "d1", Decision: "use 5 cycles"})
	s.RecordOpenQuestions([]Question{{ID: "q1", Text: "Soak time per extreme?"}})

	sum := s.Summary()
	for _, want := range []string{
		"Intent: author a thermal cycling test",
		"chamber supports -40C",
		"use 5 cycles",
		"[q1] Soak time per extreme?",
	} {
		if !contains(sum, want) {
			t.Errorf("summary missing %q:\n%s", want, sum)
		}
	}
}

func TestResetClearsEverything(t *testing.T) {
	s := New("tab-a", contract.TaskAdHocChat)
	s.AppendUserMessage("hello")
	_ = s.Begin()
	_ = s.Resolve()
	s.RecordOpenQuestions([]Question{{Text: "anything?"}})

	s.Reset()
	if s.State() != StateEmpty || s.TurnCount() != 0 {
		t.Errorf("state = %s, turns = %d", s.State(), s.TurnCount())
	}
	if len(s.ContextForPrompt()) != 0 || len(s.OpenQuestions()) != 0 {
		t.Error("reset left residual state")
	}
}

func TestManagerLazyCreation(t *testing.T) {
	m := NewManager()
	a := m.Get("text_json", contract.TaskDeriveJSONFromText)
	b := m.Get("text_json", contract.TaskReviewJSON)
	if a != b {
		t.Error("same tab must return the same session")
	}
	if a.Task() != contract.TaskDeriveJSONFromText {
		t.Errorf("task = %s, existing session task must not change", a.Task())
	}

	other := m.Get("json_code", contract.TaskGenerateCodeFromJSON)
	if other == a {
		t.Error("different tabs must get isolated sessions")
	}

	closed := m.Close("text_json")
	if closed != a {
		t.Error("Close should return the removed session")
	}
	if m.Close("text_json") != nil {
		t.Error("closing twice should return nil")
	}
}

func contains(s, sub string) bool {
	return strings.Contains(s, sub)
}
