package artifact

import (
	"testing"
)

func TestSnapshotFirstSendIncludesEverything(t *testing.T) {
	s := NewStore()
	if err := s.SetContent(KindProcedureText, "power on the board"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetContent(KindProcedureJSON, `{"name":"t"}`); err != nil {
		t.Fatal(err)
	}

	snap := s.SnapshotForSend("tab-a", InputKinds())

	if !snap.FirstSend {
		t.Error("expected first send")
	}
	if len(snap.Unchanged) != 0 {
		t.Errorf("first send should omit nothing, got unchanged=%v", snap.Unchanged)
	}
	if got := snap.Contents[KindProcedureText]; got != "power on the board" {
		t.Errorf("procedure_text content = %q", got)
	}
	// Empty kinds are still part of the baseline on the first send.
	if _, ok := snap.Contents[KindTestCode]; !ok {
		t.Error("first send should include test_code even when empty")
	}
	if v := snap.BaseVersions[KindProcedureJSON]; v != 0 {
		t.Errorf("base version = %d, want 0", v)
	}
}

func TestSnapshotSubsequentSendOnlyDirty(t *testing.T) {
	s := NewStore()
	_ = s.SetContent(KindProcedureText, "v1")
	_ = s.SetContent(KindTestCode, "# test")

	first := s.SnapshotForSend("tab-a", InputKinds())
	if first.FirstSend != true {
		t.Fatal("expected first send")
	}

	// Nothing changed: everything is an unchanged marker.
	second := s.SnapshotForSend("tab-a", InputKinds())
	if second.FirstSend {
		t.Error("second snapshot must not be a first send")
	}
	if len(second.Contents) != 0 {
		t.Errorf("nothing changed, got full content for %v", second.Contents)
	}
	if len(second.Unchanged) != len(InputKinds()) {
		t.Errorf("unchanged = %v", second.Unchanged)
	}

	// One external edit: only that kind is resent.
	_ = s.SetContent(KindProcedureText, "v2")
	third := s.SnapshotForSend("tab-a", InputKinds())
	if len(third.Contents) != 1 {
		t.Fatalf("contents = %v, want only procedure_text", third.Contents)
	}
	if got := third.Contents[KindProcedureText]; got != "v2" {
		t.Errorf("content = %q, want v2", got)
	}
}

func TestSnapshotFullIgnoresSentMarkers(t *testing.T) {
	s := NewStore()
	_ = s.SetContent(KindProcedureText, "v1")
	_ = s.SetContent(KindTestCode, "# test")

	_ = s.SnapshotForSend("tab-a", InputKinds())

	// Nothing changed, but a full snapshot still carries every kind.
	full := s.SnapshotFull("tab-a", InputKinds())
	if full.FirstSend {
		t.Error("full snapshot after baseline must not be a first send")
	}
	if len(full.Unchanged) != 0 {
		t.Errorf("full snapshot should omit nothing, got unchanged=%v", full.Unchanged)
	}
	if got := full.Contents[KindProcedureText]; got != "v1" {
		t.Errorf("procedure_text content = %q, want v1", got)
	}

	// Sent markers stay consistent: the next regular snapshot is dirty-only.
	next := s.SnapshotForSend("tab-a", InputKinds())
	if len(next.Contents) != 0 {
		t.Errorf("nothing changed, got full content for %v", next.Contents)
	}
}

func TestSnapshotDirtyIsPerSession(t *testing.T) {
	s := NewStore()
	_ = s.SetContent(KindTestCode, "orig")

	// Both sessions establish their baselines.
	s.SnapshotForSend("tab-a", InputKinds())
	s.SnapshotForSend("tab-b", InputKinds())

	// Session A accepts a change to test_code.
	base := s.Get(KindTestCode).Version
	if _, err := s.Apply("tab-a", []Change{{Kind: KindTestCode, Content: "new", BaseVersion: base}}); err != nil {
		t.Fatal(err)
	}

	// A already has the new content in its own context.
	snapA := s.SnapshotForSend("tab-a", InputKinds())
	if _, ok := snapA.Contents[KindTestCode]; ok {
		t.Error("test_code should not be dirty for the applying session")
	}

	// B has not observed the change and must get full content.
	snapB := s.SnapshotForSend("tab-b", InputKinds())
	if got := snapB.Contents[KindTestCode]; got != "new" {
		t.Errorf("session B should see full test_code, got %q", got)
	}
}

func TestSnapshotRollback(t *testing.T) {
	s := NewStore()
	_ = s.SetContent(KindProcedureText, "v1")

	snap := s.SnapshotForSend("tab-a", InputKinds())
	snap.Rollback()
	snap.Rollback() // idempotent

	// The rolled-back send never happened: next snapshot is first again.
	again := s.SnapshotForSend("tab-a", InputKinds())
	if !again.FirstSend {
		t.Error("rollback of a first send should restore first-send state")
	}
	if got := again.Contents[KindProcedureText]; got != "v1" {
		t.Errorf("content = %q, want v1", got)
	}
}

func TestSnapshotRollbackAfterBaseline(t *testing.T) {
	s := NewStore()
	_ = s.SetContent(KindProcedureText, "v1")
	s.SnapshotForSend("tab-a", InputKinds())

	_ = s.SetContent(KindProcedureText, "v2")
	snap := s.SnapshotForSend("tab-a", InputKinds())
	if got := snap.Contents[KindProcedureText]; got != "v2" {
		t.Fatalf("content = %q", got)
	}
	snap.Rollback()

	// v2 was never actually sent, so it must still be dirty.
	if !s.Dirty("tab-a", KindProcedureText) {
		t.Error("procedure_text should be dirty again after rollback")
	}
}

func TestApplyIncrementsVersion(t *testing.T) {
	s := NewStore()
	base := s.Get(KindProcedureJSON).Version

	versions, err := s.Apply("tab-a", []Change{
		{Kind: KindProcedureJSON, Content: `{"name":"t","steps":[]}`, BaseVersion: base},
	})
	if err != nil {
		t.Fatal(err)
	}
	if versions[KindProcedureJSON] != base+1 {
		t.Errorf("version = %d, want %d", versions[KindProcedureJSON], base+1)
	}
	if got := s.Get(KindProcedureJSON).Content; got != `{"name":"t","steps":[]}` {
		t.Errorf("content = %q", got)
	}
}

func TestApplyConflictLeavesStoreUntouched(t *testing.T) {
	s := NewStore()
	_ = s.SetContent(KindProcedureText, "text")
	base := s.Get(KindTestCode).Version

	// Concurrent apply from another tab bumps test_code first.
	if _, err := s.Apply("tab-b", []Change{{Kind: KindTestCode, Content: "theirs", BaseVersion: base}}); err != nil {
		t.Fatal(err)
	}

	// A multi-kind apply with one stale base version must change nothing.
	_, err := s.Apply("tab-a", []Change{
		{Kind: KindProcedureText, Content: "mine", BaseVersion: s.Get(KindProcedureText).Version},
		{Kind: KindTestCode, Content: "mine", BaseVersion: base},
	})
	if !IsConflict(err) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
	if got := s.Get(KindProcedureText).Content; got != "text" {
		t.Errorf("procedure_text mutated on failed apply: %q", got)
	}
	if got := s.Get(KindTestCode).Content; got != "theirs" {
		t.Errorf("test_code mutated on failed apply: %q", got)
	}
}

func TestApplyRejectsDerivedTarget(t *testing.T) {
	s := NewStore()
	_, err := s.Apply("tab-a", []Change{{Kind: KindTraceability, Content: "{}", BaseVersion: 0}})
	if err == nil {
		t.Fatal("expected error applying to derived kind")
	}
}

func TestApplyDerivedBypassesConflictCheck(t *testing.T) {
	s := NewStore()
	v1, err := s.ApplyDerived(KindTraceability, `{"links":[]}`)
	if err != nil {
		t.Fatal(err)
	}
	v2, err := s.ApplyDerived(KindTraceability, `{"links":[{"step_id":"s1"}]}`)
	if err != nil {
		t.Fatal(err)
	}
	if v2 != v1+1 {
		t.Errorf("versions = %d, %d", v1, v2)
	}
	if _, err := s.ApplyDerived(KindTestCode, "x"); err == nil {
		t.Error("non-derived kind must be rejected")
	}
}

func TestKindForFileName(t *testing.T) {
	tests := []struct {
		name string
		want Kind
	}{
		{"procedure.json", KindProcedureJSON},
		{"test.py", KindTestCode},
		{"procedure_text.md", KindProcedureText},
		{"traceability.json", KindTraceability},
		{"notes.md", ""},
	}
	for _, tt := range tests {
		if got := KindForFileName(tt.name); got != tt.want {
			t.Errorf("KindForFileName(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
