// Package prompt assembles the request sent to the LLM backend for one
// turn. Build is a pure function: it reads the session context and the
// artifact snapshot it is handed and never mutates either; clearing dirty
// state is the store's snapshot concern, performed exactly once per send by
// the caller.
package prompt

import (
	"fmt"
	"strings"

	"github.com/lodevel/procstudio/artifact"
	"github.com/lodevel/procstudio/contract"
	"github.com/lodevel/procstudio/session"
)

// Flags adjust model behavior for a turn. Neither flag ever bypasses the
// diff-gated apply step; Force only changes what the model is asked to do.
type Flags struct {
	// Strict tells the model it may refuse ambiguous input and ask
	// clarifying questions instead of proposing.
	Strict bool

	// Force tells the model it must produce a proposal even with
	// reservations, surfacing them as narrative and validation issues.
	Force bool
}

// Context is the session-derived input to Build, captured by the caller so
// Build itself stays free of side effects.
type Context struct {
	// Summary is the compact session context block (intent, assumptions,
	// decisions, open questions).
	Summary string

	// History is the session's prior message sequence.
	History []session.Message

	// Rules is authoring-rules content to embed, empty when the rules were
	// already sent and have not changed.
	Rules string
}

// Request is the fully built payload for one backend call.
type Request struct {
	Task  contract.TaskType
	Flags Flags

	// System carries the task instruction, mode, output schema, and task
	// contract: everything that frames the conversation.
	System string

	// History is the prior conversation, oldest first.
	History []session.Message

	// User is the composed user turn: session context, artifact snapshot,
	// and the user's message.
	User string

	// BaseVersions records the artifact versions this request was built
	// against; accepted proposals apply against these.
	BaseVersions map[artifact.Kind]int64
}

// Build constructs the request for one turn.
//
// Section order follows the fixed prompt layout: task instruction, mode,
// session context, rules, artifacts, user message, output format, task
// contract. Artifact content appears in full for kinds the snapshot carries
// and as a lightweight unchanged marker otherwise.
func Build(c contract.Contract, table *contract.Table, sctx Context, snap *artifact.Snapshot, userInput string, flags Flags) Request {
	var system strings.Builder

	fmt.Fprintf(&system, "# Task\n%s\n\n", c.Instruction)
	system.WriteString(modeSection(flags))
	system.WriteString("\n\n")
	system.WriteString(table.OutputFormat())
	system.WriteString("\n\n")
	system.WriteString(contractSection(c))

	var user strings.Builder
	if sctx.Summary != "" {
		fmt.Fprintf(&user, "# Session Context\n%s\n\n", sctx.Summary)
	}
	if sctx.Rules != "" {
		fmt.Fprintf(&user, "# Rules\n%s\n\n", sctx.Rules)
	}
	user.WriteString(artifactSection(c, snap))
	if userInput != "" {
		fmt.Fprintf(&user, "# User Message\n%s\n", userInput)
	}

	history := make([]session.Message, len(sctx.History))
	copy(history, sctx.History)

	baseVersions := make(map[artifact.Kind]int64, len(snap.BaseVersions))
	for k, v := range snap.BaseVersions {
		baseVersions[k] = v
	}

	return Request{
		Task:         c.Task,
		Flags:        flags,
		System:       strings.TrimRight(system.String(), "\n"),
		History:      history,
		User:         strings.TrimRight(user.String(), "\n"),
		BaseVersions: baseVersions,
	}
}

func modeSection(flags Flags) string {
	if flags.Force {
		return "## Mode: FORCE\n\n" +
			"You MUST produce a proposal even if the input is ambiguous or " +
			"insufficient. Surface every reservation in assistant_message and " +
			"document every assumption in validation.assumptions."
	}
	if flags.Strict {
		return "## Mode: STRICT\n\n" +
			"You may refuse to propose if the input is ambiguous or " +
			"insufficient. Ask clarifying questions instead, and follow the " +
			"response schema exactly: no extra keys, no proposal kinds outside " +
			"the task contract."
	}
	return "## Mode: STANDARD\n\n" +
		"Prefer producing a proposal; ask clarifying questions when the input " +
		"is genuinely ambiguous."
}

func contractSection(c contract.Contract) string {
	names := make([]string, len(c.ProposalKinds))
	for i, k := range c.ProposalKinds {
		names[i] = string(k)
	}
	return fmt.Sprintf("## Task Contract\n\nFor task %s you may propose only: %s. "+
		"Proposals for any other artifact make the response invalid.",
		c.Task, strings.Join(names, ", "))
}

// artifactSection renders the snapshot: full content for included kinds,
// unchanged markers for the rest, nothing for kinds with no content yet.
func artifactSection(c contract.Contract, snap *artifact.Snapshot) string {
	var b strings.Builder
	for _, k := range c.InputKinds {
		if content, ok := snap.Contents[k]; ok {
			if content == "" {
				fmt.Fprintf(&b, "# Current %s\n(not yet authored)\n\n", k.FileName())
				continue
			}
			fmt.Fprintf(&b, "# Current %s\n```%s\n%s\n```\n\n", k.FileName(), fenceLanguage(k), content)
			continue
		}
		for _, u := range snap.Unchanged {
			if u == k {
				fmt.Fprintf(&b, "# Current %s\n(unchanged since last turn)\n\n", k.FileName())
				break
			}
		}
	}
	return b.String()
}

func fenceLanguage(k artifact.Kind) string {
	switch k {
	case artifact.KindProcedureJSON, artifact.KindTraceability:
		return "json"
	case artifact.KindTestCode:
		return "python"
	default:
		return "markdown"
	}
}
