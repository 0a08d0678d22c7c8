package contract

import (
	"github.com/lodevel/procstudio/artifact"
)

// Default task instructions. Each review task names only the proposal kinds
// it is allowed to produce, which keeps model output inside the task's
// contract and the parser's schema.
const (
	instructionDeriveJSONFromText = `Convert the natural-language procedure text into structured procedure JSON.
Extract and structure:
- Procedure name and description
- Equipment requirements
- Step-by-step procedure, one step object per step, each with "id" and "description"
- Expected results and pass/fail criteria

Only propose procedure_json for this task.`

	instructionDeriveJSONFromCode = `Analyze the provided test code and derive structured procedure JSON describing it.
Extract:
- Test name and description
- Equipment requirements
- Steps (from "# Step N" markers, or inferred from code structure)
- Expected results

Only propose procedure_json for this task.`

	instructionGenerateCodeFromJSON = `Generate test code implementing the procedure described in the JSON.
Requirements:
- Include a "# Step N" marker comment for each step
- Follow the equipment and measurement specifications
- Handle errors appropriately

Only propose test_code for this task.`

	instructionRenderTextFromJSON = `Render the procedure JSON as a clear, human-readable procedure document.
Format as markdown with a title and description, an equipment list, numbered
steps with explicit instructions, and expected results.

Only propose procedure_text for this task.`

	instructionReviewText = `Review the procedure text for correctness and completeness.
Identify ambiguous or unclear steps, missing equipment specifications,
missing measurement parameters, and rule violations if rules are provided.
Report problems in validation.issues with severity, code, message, location,
and suggested_fix. If you find problems, include a corrected procedure_text
proposal. You may ask clarifying questions.

Only propose procedure_text for this task.`

	instructionReviewJSON = `Review the procedure JSON for correctness and completeness.
Identify missing required fields, incomplete step descriptions, equipment
specification problems, and rule violations if rules are provided.
Report problems in validation.issues. If you find problems, include a
corrected procedure_json proposal. You may ask clarifying questions.

Only propose procedure_json for this task.`

	instructionReviewCode = `Review the test code for correctness and rule compliance.
Identify missing or incorrect step markers, equipment handling problems,
measurement structure problems, error handling gaps, and rule violations.
Report problems in validation.issues. If you find problems, include a
corrected test_code proposal. You may ask clarifying questions.

Only propose test_code for this task.`

	instructionReviewTextVsJSON = `Check coherence between the procedure text and the procedure JSON.
Identify step count mismatches, step content or intent mismatches, equipment
list differences, and expected result differences.
Report problems in validation.issues. If you find problems, include
corrected procedure_text and/or procedure_json proposals.`

	instructionReviewCodeVsJSON = `Check coherence between the procedure JSON and the test code.
Identify steps in the JSON without corresponding code, code without
corresponding JSON steps, equipment mismatches, and measurement or
expectation mismatches.
Report problems in validation.issues. If you find problems, include
corrected procedure_json and/or test_code proposals.`

	instructionAdHocChat = `Respond to the user's question or request about procedure authoring.
If the user asks for a change to an artifact, include a proposal for it.
If the user asks a question, answer it without proposing changes.`
)

// defaultOutputFormat describes the reply envelope every task must produce.
// The parser validates replies against this shape.
const defaultOutputFormat = "## Required Response Format\n\n" +
	"You MUST respond with a single valid JSON object following this schema:\n\n" +
	"```json\n" + `{
  "type": "llm_turn",
  "task": "<task_name>",
  "strict_mode": true,
  "assistant_message": "Human-readable message for the user.",
  "validation": {
    "status": "pass|warn|fail",
    "issues": [
      {
        "severity": "error|warning",
        "code": "ISSUE_CODE",
        "message": "description of the problem",
        "location": "where in the artifact",
        "suggested_fix": "how to fix it"
      }
    ],
    "assumptions": ["any assumptions made"]
  },
  "proposals": {
    "procedure_json": {"mode": "replace", "content": { "name": "...", "steps": [] }},
    "test_code": {"mode": "replace", "content": "full test code as a string"},
    "procedure_text": {"mode": "replace", "content": "full markdown text"}
  },
  "session_delta": {
    "intent": "updated intent if changed",
    "open_questions": [{"id": "q1", "question": "...", "why_needed": "..."}],
    "resolved_questions": [{"id": "q1", "answer": "..."}],
    "decisions_added": [{"id": "d1", "decision": "...", "why": "..."}]
  }
}` + "\n```\n\n" +
	`Rules:
- Always include "assistant_message" with a helpful message.
- Include only proposal kinds allowed for the task; omit the rest entirely.
- For review tasks, report problems in validation.issues AND include proposals with the fixes.
- Proposed procedure_json content must be an object with "name" and "steps"; every step needs "id" and "description".
- UTF-8 only.`

// Defaults returns the built-in task table.
func Defaults() *Table {
	textJSON := []artifact.Kind{artifact.KindProcedureText, artifact.KindProcedureJSON}
	jsonCode := []artifact.Kind{artifact.KindProcedureJSON, artifact.KindTestCode}

	contracts := map[TaskType]Contract{
		TaskDeriveJSONFromText: {
			Task:          TaskDeriveJSONFromText,
			InputKinds:    textJSON,
			ProposalKinds: []artifact.Kind{artifact.KindProcedureJSON},
			Instruction:   instructionDeriveJSONFromText,
		},
		TaskDeriveJSONFromCode: {
			Task:          TaskDeriveJSONFromCode,
			InputKinds:    jsonCode,
			ProposalKinds: []artifact.Kind{artifact.KindProcedureJSON},
			Instruction:   instructionDeriveJSONFromCode,
		},
		TaskGenerateCodeFromJSON: {
			Task:          TaskGenerateCodeFromJSON,
			InputKinds:    jsonCode,
			ProposalKinds: []artifact.Kind{artifact.KindTestCode},
			Instruction:   instructionGenerateCodeFromJSON,
		},
		TaskRenderTextFromJSON: {
			Task:          TaskRenderTextFromJSON,
			InputKinds:    textJSON,
			ProposalKinds: []artifact.Kind{artifact.KindProcedureText},
			Instruction:   instructionRenderTextFromJSON,
		},
		TaskReviewText: {
			Task:          TaskReviewText,
			InputKinds:    []artifact.Kind{artifact.KindProcedureText},
			ProposalKinds: []artifact.Kind{artifact.KindProcedureText},
			Instruction:   instructionReviewText,
		},
		TaskReviewJSON: {
			Task:          TaskReviewJSON,
			InputKinds:    []artifact.Kind{artifact.KindProcedureJSON},
			ProposalKinds: []artifact.Kind{artifact.KindProcedureJSON},
			Instruction:   instructionReviewJSON,
		},
		TaskReviewCode: {
			Task:          TaskReviewCode,
			InputKinds:    jsonCode,
			ProposalKinds: []artifact.Kind{artifact.KindTestCode},
			Instruction:   instructionReviewCode,
		},
		TaskReviewTextVsJSON: {
			Task:          TaskReviewTextVsJSON,
			InputKinds:    textJSON,
			ProposalKinds: textJSON,
			Instruction:   instructionReviewTextVsJSON,
		},
		TaskReviewCodeVsJSON: {
			Task:          TaskReviewCodeVsJSON,
			InputKinds:    jsonCode,
			ProposalKinds: jsonCode,
			Instruction:   instructionReviewCodeVsJSON,
		},
		TaskAdHocChat: {
			Task:          TaskAdHocChat,
			InputKinds:    artifact.InputKinds(),
			ProposalKinds: artifact.InputKinds(),
			Instruction:   instructionAdHocChat,
		},
	}

	return &Table{contracts: contracts, outputFormat: defaultOutputFormat}
}
