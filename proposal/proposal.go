// Package proposal turns free-form model replies into typed, schema-checked
// proposals. Parsing is a pure function: identical raw text and task type
// always produce an identical Proposal. A malformed reply is a normal
// outcome carried as a ParseError value, never a control-flow exception,
// and narrative text and questions are extracted even from replies whose
// structured block is missing or invalid.
package proposal

import (
	"fmt"

	"github.com/lodevel/procstudio/artifact"
	"github.com/lodevel/procstudio/contract"
)

// ParseError describes why a reply failed extraction or schema validation,
// with enough detail to show the user and support an explicit retry.
type ParseError struct {
	// Diagnosis is a human-readable description of the failure.
	Diagnosis string

	// Fragment is the offending portion of the reply, when one was located.
	Fragment string
}

func (e *ParseError) Error() string {
	if e.Fragment == "" {
		return e.Diagnosis
	}
	return fmt.Sprintf("%s (near %q)", e.Diagnosis, truncate(e.Fragment, 80))
}

// QuestionDelta is a question the model raised in a reply.
type QuestionDelta struct {
	ID        string `json:"id"`
	Question  string `json:"question"`
	WhyNeeded string `json:"why_needed,omitempty"`
}

// ResolvedDelta marks a previously open question as answered.
type ResolvedDelta struct {
	ID     string `json:"id"`
	Answer string `json:"answer"`
}

// DecisionDelta records a decision the model asserts was made.
type DecisionDelta struct {
	ID       string `json:"id"`
	Decision string `json:"decision"`
	Why      string `json:"why,omitempty"`
}

// SessionDelta is the session-state update carried in a reply.
type SessionDelta struct {
	Intent            string          `json:"intent,omitempty"`
	OpenQuestions     []QuestionDelta `json:"open_questions,omitempty"`
	ResolvedQuestions []ResolvedDelta `json:"resolved_questions,omitempty"`
	DecisionsAdded    []DecisionDelta `json:"decisions_added,omitempty"`
}

// ValidationIssue is one problem the model reported about an artifact.
type ValidationIssue struct {
	Severity     string `json:"severity"`
	Code         string `json:"code"`
	Message      string `json:"message"`
	Location     string `json:"location,omitempty"`
	SuggestedFix string `json:"suggested_fix,omitempty"`
}

// Proposal is the parsed result of one model reply for one task type.
// It is transient: created per turn, consumed by the apply workflow, then
// discarded with only a system message recording the outcome.
type Proposal struct {
	Task contract.TaskType

	// Raw is the unmodified reply text, retained for display and retry.
	Raw string

	// Narrative is the assistant's prose for the user: the structured
	// assistant_message when the reply decoded, otherwise the text outside
	// any structured block.
	Narrative string

	// Contents maps each proposed kind to its full replacement content,
	// in the canonical serialization for that kind. Only kinds allowed by
	// the task's contract ever appear.
	Contents map[artifact.Kind]string

	// Questions are questions posed in this reply, from the structured
	// delta and from question-marker lines in the narrative.
	Questions []QuestionDelta

	// StrictMode echoes the mode the model believed it was operating in.
	StrictMode bool

	// ValidationStatus is "pass", "warn", or "fail" for review tasks.
	ValidationStatus string
	Issues           []ValidationIssue
	Assumptions      []string

	Delta SessionDelta

	// Err is set when extraction or schema validation failed. A Proposal
	// with Err carries no Contents but may still carry Narrative and
	// Questions.
	Err *ParseError
}

// Valid reports whether the reply conformed to the task's schema.
func (p *Proposal) Valid() bool {
	return p.Err == nil
}

// HasContents reports whether any artifact change was proposed.
func (p *Proposal) HasContents() bool {
	return len(p.Contents) > 0
}

// ProposedKinds returns the proposed kinds in canonical artifact order, so
// downstream iteration is deterministic.
func (p *Proposal) ProposedKinds() []artifact.Kind {
	var kinds []artifact.Kind
	for _, k := range artifact.Kinds() {
		if _, ok := p.Contents[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
