package prompt

import (
	"strings"
	"testing"

	"github.com/lodevel/procstudio/artifact"
	"github.com/lodevel/procstudio/contract"
	"github.com/lodevel/procstudio/session"
)

func buildFixture(t *testing.T) (*artifact.Store, *contract.Table) {
	t.Helper()
	store := artifact.NewStore()
	if err := store.SetContent(artifact.KindProcedureText, "Power on, then measure."); err != nil {
		t.Fatal(err)
	}
	if err := store.SetContent(artifact.KindProcedureJSON, `{"name":"t","steps":[]}`); err != nil {
		t.Fatal(err)
	}
	return store, contract.Defaults()
}

func TestBuildFirstTurnCarriesFullArtifacts(t *testing.T) {
	store, table := buildFixture(t)
	c := table.Get(contract.TaskDeriveJSONFromText)

	snap := store.SnapshotForSend("tab-a", c.InputKinds)
	req := Build(c, table, Context{}, snap, "procedure with 2 steps", Flags{Strict: true})

	if req.Task != contract.TaskDeriveJSONFromText {
		t.Errorf("task = %s", req.Task)
	}
	if len(req.History) != 0 {
		t.Errorf("first turn should carry no history, got %d messages", len(req.History))
	}
	if !strings.Contains(req.User, "Power on, then measure.") {
		t.Error("full procedure_text missing from first turn")
	}
	if strings.Contains(req.User, "unchanged since last turn") {
		t.Error("first turn must not carry unchanged markers")
	}
	if !strings.Contains(req.User, "# User Message\nprocedure with 2 steps") {
		t.Errorf("user message section missing:\n%s", req.User)
	}
	if !strings.Contains(req.System, "## Mode: STRICT") {
		t.Error("strict mode section missing")
	}
	if !strings.Contains(req.System, "Required Response Format") {
		t.Error("output format missing from system section")
	}
	if !strings.Contains(req.System, "you may propose only: procedure_json") {
		t.Errorf("task contract section missing:\n%s", req.System)
	}
	if req.BaseVersions[artifact.KindProcedureJSON] != 0 {
		t.Errorf("base versions = %v", req.BaseVersions)
	}
}

func TestBuildSubsequentTurnUsesUnchangedMarkers(t *testing.T) {
	store, table := buildFixture(t)
	c := table.Get(contract.TaskDeriveJSONFromText)

	store.SnapshotForSend("tab-a", c.InputKinds)
	_ = store.SetContent(artifact.KindProcedureText, "Power on, wait 5s, then measure.")

	snap := store.SnapshotForSend("tab-a", c.InputKinds)
	req := Build(c, table, Context{}, snap, "tighten step 2", Flags{})

	if !strings.Contains(req.User, "Power on, wait 5s, then measure.") {
		t.Error("dirty procedure_text should be sent in full")
	}
	if !strings.Contains(req.User, "# Current procedure.json\n(unchanged since last turn)") {
		t.Errorf("clean procedure_json should be an unchanged marker:\n%s", req.User)
	}
}

func TestBuildIncludesSessionContextAndRules(t *testing.T) {
	store, table := buildFixture(t)
	c := table.Get(contract.TaskReviewJSON)

	sess := session.New("tab-a", contract.TaskReviewJSON)
	sess.SetIntent("review before release")
	sess.AppendUserMessage("please review")
	sess.AppendAssistantMessage("one issue found")

	snap := store.SnapshotForSend(sess.ID(), c.InputKinds)
	req := Build(c, table, Context{
		Summary: sess.Summary(),
		History: sess.ContextForPrompt(),
		Rules:   "- every step needs a measurable expected result",
	}, snap, "second pass please", Flags{})

	if !strings.Contains(req.User, "# Session Context\nIntent: review before release") {
		t.Errorf("session context missing:\n%s", req.User)
	}
	if !strings.Contains(req.User, "# Rules\n- every step needs a measurable expected result") {
		t.Errorf("rules missing:\n%s", req.User)
	}
	if len(req.History) != 2 {
		t.Errorf("history = %d messages, want 2", len(req.History))
	}
}

func TestBuildForceMode(t *testing.T) {
	store, table := buildFixture(t)
	c := table.Get(contract.TaskDeriveJSONFromText)

	snap := store.SnapshotForSend("tab-a", c.InputKinds)
	req := Build(c, table, Context{}, snap, "go ahead", Flags{Force: true, Strict: true})

	// Force wins over strict in the instructions the model sees.
	if !strings.Contains(req.System, "## Mode: FORCE") {
		t.Errorf("force mode section missing:\n%s", req.System)
	}
	if strings.Contains(req.System, "## Mode: STRICT") {
		t.Error("strict section should be replaced by force")
	}
}

func TestBuildDoesNotMutateInputs(t *testing.T) {
	store, table := buildFixture(t)
	c := table.Get(contract.TaskDeriveJSONFromText)

	snap := store.SnapshotForSend("tab-a", c.InputKinds)
	history := []session.Message{{Role: session.RoleUser, Content: "hi"}}
	req := Build(c, table, Context{History: history}, snap, "msg", Flags{})

	req.History[0].Content = "tampered"
	if history[0].Content != "hi" {
		t.Error("Build must copy history, not alias it")
	}

	req.BaseVersions[artifact.KindProcedureText] = 99
	if snap.BaseVersions[artifact.KindProcedureText] == 99 {
		t.Error("Build must copy base versions, not alias them")
	}
}
