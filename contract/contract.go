// Package contract defines the enumerable task-type table shared by the
// prompt builder and the response parser: which artifact kinds each task
// consumes as input, which kinds it may propose, and the instruction and
// output-shape text sent to the model. The table ships with defaults and can
// be overridden from YAML configuration.
package contract

import (
	"github.com/lodevel/procstudio/artifact"
)

// TaskType identifies one authoring or review task.
type TaskType string

const (
	TaskDeriveJSONFromText   TaskType = "derive_json_from_text"
	TaskDeriveJSONFromCode   TaskType = "derive_json_from_code"
	TaskGenerateCodeFromJSON TaskType = "generate_code_from_json"
	TaskRenderTextFromJSON   TaskType = "render_text_from_json"
	TaskReviewText           TaskType = "review_text_procedure"
	TaskReviewJSON           TaskType = "review_json"
	TaskReviewCode           TaskType = "review_code"
	TaskReviewTextVsJSON     TaskType = "review_text_vs_json"
	TaskReviewCodeVsJSON     TaskType = "review_code_vs_json"
	TaskAdHocChat            TaskType = "ad_hoc_chat"
)

// TaskTypes lists every known task type.
func TaskTypes() []TaskType {
	return []TaskType{
		TaskDeriveJSONFromText,
		TaskDeriveJSONFromCode,
		TaskGenerateCodeFromJSON,
		TaskRenderTextFromJSON,
		TaskReviewText,
		TaskReviewJSON,
		TaskReviewCode,
		TaskReviewTextVsJSON,
		TaskReviewCodeVsJSON,
		TaskAdHocChat,
	}
}

// ParseTaskType returns the task type for s, or "" if unknown.
func ParseTaskType(s string) TaskType {
	for _, t := range TaskTypes() {
		if string(t) == s {
			return t
		}
	}
	return ""
}

// Contract describes one task's input and output surface.
type Contract struct {
	Task TaskType

	// InputKinds are the artifacts included in the prompt snapshot.
	InputKinds []artifact.Kind

	// ProposalKinds are the artifact kinds the model may propose for this
	// task. A proposal for any other kind fails schema validation.
	ProposalKinds []artifact.Kind

	// Instruction is the task instruction sent to the model.
	Instruction string
}

// AllowsProposal reports whether kind is an allowed proposal target.
func (c Contract) AllowsProposal(kind artifact.Kind) bool {
	for _, k := range c.ProposalKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Table is the full task-type configuration.
type Table struct {
	contracts    map[TaskType]Contract
	outputFormat string
}

// Get returns the contract for task. Unknown tasks fall back to the ad-hoc
// chat contract, which accepts every input kind and proposal target.
func (t *Table) Get(task TaskType) Contract {
	if c, ok := t.contracts[task]; ok {
		return c
	}
	return t.contracts[TaskAdHocChat]
}

// Known reports whether task is present in the table.
func (t *Table) Known(task TaskType) bool {
	_, ok := t.contracts[task]
	return ok
}

// OutputFormat returns the response-format description shared by all tasks.
func (t *Table) OutputFormat() string {
	return t.outputFormat
}
