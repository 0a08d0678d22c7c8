// Package artifact provides the canonical store for the four tracked
// artifacts of a procedure workspace: the natural-language procedure text,
// its structured JSON form, the generated test code, and the derived
// traceability map. The store owns versioning, per-session dirty tracking,
// and the optimistic-concurrency apply path that is the only way canonical
// content changes.
package artifact

// Kind identifies one of the tracked artifacts.
type Kind string

const (
	KindProcedureText Kind = "procedure_text"
	KindProcedureJSON Kind = "procedure_json"
	KindTestCode      Kind = "test_code"
	KindTraceability  Kind = "traceability"
)

// Kinds lists every artifact kind in canonical order.
func Kinds() []Kind {
	return []Kind{KindProcedureText, KindProcedureJSON, KindTestCode, KindTraceability}
}

// InputKinds lists the kinds that may be sent to the model as context.
// Traceability is derived output and is never part of a snapshot.
func InputKinds() []Kind {
	return []Kind{KindProcedureText, KindProcedureJSON, KindTestCode}
}

// Valid reports whether k names a known artifact kind.
func (k Kind) Valid() bool {
	switch k {
	case KindProcedureText, KindProcedureJSON, KindTestCode, KindTraceability:
		return true
	}
	return false
}

// Derived reports whether k is recomputed from other artifacts rather than
// authored. Derived kinds are exempt from version conflict checks and are
// never proposal targets.
func (k Kind) Derived() bool {
	return k == KindTraceability
}

// FileName returns the conventional on-disk file name for k.
func (k Kind) FileName() string {
	switch k {
	case KindProcedureText:
		return "procedure_text.md"
	case KindProcedureJSON:
		return "procedure.json"
	case KindTestCode:
		return "test.py"
	case KindTraceability:
		return "traceability.json"
	}
	return ""
}

// KindForFileName returns the kind whose conventional file name matches
// name, or "" if the name is not a tracked artifact file.
func KindForFileName(name string) Kind {
	for _, k := range Kinds() {
		if k.FileName() == name {
			return k
		}
	}
	return ""
}
