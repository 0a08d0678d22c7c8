package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Link connects a procedure step to its code block in the test file.
type Link struct {
	StepID      string `json:"step_id"`
	StepNumber  int    `json:"step_number"`
	Description string `json:"description"`
	StartLine   int    `json:"start_line"`
	EndLine     int    `json:"end_line"`
}

// Map is the derived traceability artifact content.
type Map struct {
	Procedure    string `json:"procedure,omitempty"`
	Links        []Link `json:"links"`
	MissingSteps []int  `json:"missing_steps,omitempty"`
	ExtraSteps   []int  `json:"extra_steps,omitempty"`
}

// HasIssues reports whether any step lacks a code block or vice versa.
func (m *Map) HasIssues() bool {
	return len(m.MissingSteps) > 0 || len(m.ExtraSteps) > 0
}

// Summary renders a human-readable mapping overview.
func (m *Map) Summary() string {
	if len(m.Links) == 0 && !m.HasIssues() {
		return "No step markers found in code."
	}

	var b strings.Builder
	b.WriteString("Step mapping:\n")
	for _, link := range m.Links {
		fmt.Fprintf(&b, "  step %d (%s): lines %d-%d\n",
			link.StepNumber, link.StepID, link.StartLine, link.EndLine)
	}
	if len(m.MissingSteps) > 0 {
		fmt.Fprintf(&b, "  missing markers for steps: %v\n", m.MissingSteps)
	}
	if len(m.ExtraSteps) > 0 {
		fmt.Fprintf(&b, "  markers without procedure steps: %v\n", m.ExtraSteps)
	}
	return strings.TrimRight(b.String(), "\n")
}

// procedureDoc is the subset of the procedure JSON the mapper needs.
type procedureDoc struct {
	Name  string `json:"name"`
	Steps []struct {
		ID          string `json:"id"`
		Description string `json:"description"`
	} `json:"steps"`
}

// Mapper builds traceability maps from procedure JSON and test code.
type Mapper struct {
	markers *MarkerParser
}

// NewMapper creates a traceability mapper.
func NewMapper() *Mapper {
	return &Mapper{markers: NewMarkerParser()}
}

// Build computes the traceability map. Steps are numbered positionally
// starting at 1, matching the "# Step N" convention in the test code.
func (t *Mapper) Build(ctx context.Context, procedureJSON, testCode string) (*Map, error) {
	result := &Map{Links: []Link{}}

	var doc procedureDoc
	if strings.TrimSpace(procedureJSON) != "" {
		if err := json.Unmarshal([]byte(procedureJSON), &doc); err != nil {
			return nil, fmt.Errorf("parse procedure json: %w", err)
		}
	}
	result.Procedure = doc.Name

	blocks, err := t.markers.Parse(ctx, testCode)
	if err != nil {
		return nil, err
	}

	byNumber := make(map[int]StepBlock, len(blocks))
	for _, b := range blocks {
		if _, seen := byNumber[b.StepNumber]; !seen {
			byNumber[b.StepNumber] = b
		}
	}

	expected := make(map[int]struct{}, len(doc.Steps))
	for i, step := range doc.Steps {
		num := i + 1
		expected[num] = struct{}{}

		block, ok := byNumber[num]
		if !ok {
			result.MissingSteps = append(result.MissingSteps, num)
			continue
		}
		result.Links = append(result.Links, Link{
			StepID:      step.ID,
			StepNumber:  num,
			Description: step.Description,
			StartLine:   block.StartLine,
			EndLine:     block.EndLine,
		})
	}

	seen := make(map[int]struct{})
	for _, b := range blocks {
		if _, ok := expected[b.StepNumber]; ok {
			continue
		}
		if _, dup := seen[b.StepNumber]; dup {
			continue
		}
		seen[b.StepNumber] = struct{}{}
		result.ExtraSteps = append(result.ExtraSteps, b.StepNumber)
	}

	return result, nil
}

// Recompute builds the map and serializes it as the traceability artifact
// content. The output is deterministic for identical inputs.
func (t *Mapper) Recompute(ctx context.Context, procedureJSON, testCode string) (string, error) {
	m, err := t.Build(ctx, procedureJSON, testCode)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal traceability map: %w", err)
	}
	return string(data), nil
}
