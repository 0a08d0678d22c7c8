package proposal

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/lodevel/procstudio/artifact"
	"github.com/lodevel/procstudio/contract"
)

// envelopeKeys are the top-level keys a well-formed reply may carry.
var envelopeKeys = map[string]bool{
	"type":              true,
	"task":              true,
	"strict_mode":       true,
	"assistant_message": true,
	"validation":        true,
	"proposals":         true,
	"session_delta":     true,
}

// envelope mirrors the reply schema in the output format description.
type envelope struct {
	Type             string                     `json:"type"`
	Task             string                     `json:"task"`
	StrictMode       bool                       `json:"strict_mode"`
	AssistantMessage string                     `json:"assistant_message"`
	Validation       *validationEnvelope        `json:"validation"`
	Proposals        map[string]json.RawMessage `json:"proposals"`
	SessionDelta     *SessionDelta              `json:"session_delta"`
}

type validationEnvelope struct {
	Status      string            `json:"status"`
	Issues      []ValidationIssue `json:"issues"`
	Assumptions []string          `json:"assumptions"`
}

type proposalEnvelope struct {
	Mode    string          `json:"mode"`
	Content json.RawMessage `json:"content"`
}

// Parse decodes a raw model reply into a Proposal for the expected task.
// It never returns an error: extraction or validation failures yield a
// Proposal carrying a ParseError, with narrative and questions still
// extracted so a malformed reply remains useful to the user.
func Parse(raw string, task contract.TaskType, table *contract.Table) Proposal {
	p := Proposal{Task: task, Raw: raw}

	block := extractJSONBlock(raw)
	if block == "" {
		p.Narrative = narrativeText(raw)
		p.Err = &ParseError{Diagnosis: "no JSON object found in reply"}
		p.Questions = questionsFromNarrative(p.Narrative)
		return p
	}

	// Unexpected-key check needs the raw key set, not just typed decoding.
	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(block), &keys); err != nil {
		p.Narrative = narrativeText(raw)
		p.Err = &ParseError{Diagnosis: fmt.Sprintf("invalid JSON: %v", err), Fragment: block}
		p.Questions = questionsFromNarrative(p.Narrative)
		return p
	}
	for key := range keys {
		if !envelopeKeys[key] {
			p.Narrative = narrativeText(raw)
			p.Err = &ParseError{Diagnosis: fmt.Sprintf("unexpected top-level key %q", key), Fragment: block}
			p.Questions = questionsFromNarrative(p.Narrative)
			return p
		}
	}

	var env envelope
	if err := json.Unmarshal([]byte(block), &env); err != nil {
		p.Narrative = narrativeText(raw)
		p.Err = &ParseError{Diagnosis: fmt.Sprintf("malformed reply envelope: %v", err), Fragment: block}
		p.Questions = questionsFromNarrative(p.Narrative)
		return p
	}

	p.Narrative = env.AssistantMessage
	if p.Narrative == "" {
		p.Narrative = narrativeText(raw)
	}
	p.StrictMode = env.StrictMode
	if env.Validation != nil {
		p.ValidationStatus = env.Validation.Status
		p.Issues = env.Validation.Issues
		p.Assumptions = env.Validation.Assumptions
	}
	if env.SessionDelta != nil {
		p.Delta = *env.SessionDelta
	}
	p.Questions = mergeQuestions(p.Delta.OpenQuestions, questionsFromNarrative(p.Narrative))

	if env.Task != "" && env.Task != string(task) {
		p.Err = &ParseError{
			Diagnosis: fmt.Sprintf("reply is for task %q, expected %q", env.Task, task),
			Fragment:  block,
		}
		return p
	}

	contents, perr := decodeProposals(env.Proposals, table.Get(task))
	if perr != nil {
		p.Err = perr
		return p
	}
	p.Contents = contents
	return p
}

// decodeProposals validates each proposed kind against the task contract
// and the kind-specific content shape.
func decodeProposals(raw map[string]json.RawMessage, c contract.Contract) (map[artifact.Kind]string, *ParseError) {
	if len(raw) == 0 {
		return nil, nil
	}

	// Deterministic validation order regardless of map iteration.
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	contents := make(map[artifact.Kind]string)
	for _, name := range names {
		kind := artifact.Kind(name)
		if !kind.Valid() {
			return nil, &ParseError{Diagnosis: fmt.Sprintf("proposal for unknown artifact kind %q", name)}
		}
		if !c.AllowsProposal(kind) {
			return nil, &ParseError{
				Diagnosis: fmt.Sprintf("proposal for %s is not allowed for task %s", kind, c.Task),
			}
		}

		var pe proposalEnvelope
		if err := json.Unmarshal(raw[name], &pe); err != nil {
			return nil, &ParseError{
				Diagnosis: fmt.Sprintf("proposal %s: %v", kind, err),
				Fragment:  string(raw[name]),
			}
		}
		// A null mode or null content means the model declined the kind.
		if pe.Mode == "" || isNullRaw(pe.Content) {
			continue
		}
		if pe.Mode != "replace" && pe.Mode != "create" {
			return nil, &ParseError{
				Diagnosis: fmt.Sprintf("proposal %s: unsupported mode %q", kind, pe.Mode),
			}
		}

		content, perr := decodeContent(kind, pe.Content)
		if perr != nil {
			return nil, perr
		}
		contents[kind] = content
	}
	if len(contents) == 0 {
		return nil, nil
	}
	return contents, nil
}

// decodeContent checks the kind-specific shape and returns the canonical
// string serialization of the content.
func decodeContent(kind artifact.Kind, raw json.RawMessage) (string, *ParseError) {
	switch kind {
	case artifact.KindProcedureJSON:
		return decodeProcedureJSON(raw)
	default:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", &ParseError{
				Diagnosis: fmt.Sprintf("proposal %s: content must be a string", kind),
				Fragment:  string(raw),
			}
		}
		if strings.TrimSpace(s) == "" {
			return "", &ParseError{Diagnosis: fmt.Sprintf("proposal %s: content is empty", kind)}
		}
		return s, nil
	}
}

// procedureDoc is the required shape of proposed procedure JSON.
type procedureDoc struct {
	Name  string          `json:"name"`
	Steps []procedureStep `json:"steps"`
}

type procedureStep struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

func decodeProcedureJSON(raw json.RawMessage) (string, *ParseError) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", &ParseError{
			Diagnosis: "proposal procedure_json: content must be an object",
			Fragment:  string(raw),
		}
	}
	if _, ok := probe["name"]; !ok {
		return "", &ParseError{Diagnosis: "proposal procedure_json: missing field 'name'"}
	}
	stepsRaw, ok := probe["steps"]
	if !ok {
		return "", &ParseError{Diagnosis: "proposal procedure_json: missing field 'steps'"}
	}

	var steps []map[string]json.RawMessage
	if err := json.Unmarshal(stepsRaw, &steps); err != nil {
		return "", &ParseError{
			Diagnosis: "proposal procedure_json: 'steps' must be an ordered list of step objects",
			Fragment:  string(stepsRaw),
		}
	}
	var doc procedureDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", &ParseError{Diagnosis: fmt.Sprintf("proposal procedure_json: %v", err), Fragment: string(raw)}
	}
	for i, step := range doc.Steps {
		if step.ID == "" {
			return "", &ParseError{Diagnosis: fmt.Sprintf("proposal procedure_json: step %d missing 'id'", i+1)}
		}
		if step.Description == "" {
			return "", &ParseError{
				Diagnosis: fmt.Sprintf("proposal procedure_json: step %q missing 'description'", step.ID),
			}
		}
	}

	content, err := CanonicalJSON(raw)
	if err != nil {
		return "", &ParseError{Diagnosis: fmt.Sprintf("proposal procedure_json: %v", err)}
	}
	return content, nil
}

// CanonicalJSON re-serializes a JSON document into the canonical form used
// for stored procedure_json content: two-space indentation with object keys
// sorted. Identical documents always canonicalize to identical bytes, which
// keeps Parse deterministic.
func CanonicalJSON(raw []byte) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// questionsFromNarrative lifts question-marker lines into question deltas.
// IDs are derived from position so repeated parsing stays deterministic.
func questionsFromNarrative(text string) []QuestionDelta {
	lines := questionLines(text)
	out := make([]QuestionDelta, 0, len(lines))
	for i, line := range lines {
		out = append(out, QuestionDelta{
			ID:       fmt.Sprintf("nq-%d", i+1),
			Question: line,
		})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// mergeQuestions combines structured and narrative questions, dropping
// narrative duplicates of structured ones.
func mergeQuestions(structured, narrative []QuestionDelta) []QuestionDelta {
	if len(structured) == 0 && len(narrative) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(structured))
	out := make([]QuestionDelta, 0, len(structured)+len(narrative))
	for _, q := range structured {
		seen[normalizeQuestionText(q.Question)] = true
		out = append(out, q)
	}
	for _, q := range narrative {
		if seen[normalizeQuestionText(q.Question)] {
			continue
		}
		out = append(out, q)
	}
	return out
}

func isNullRaw(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}

func normalizeQuestionText(s string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(s), "?")
	return strings.Join(strings.Fields(strings.ToLower(trimmed)), " ")
}
