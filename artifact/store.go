package artifact

import (
	"fmt"
	"log/slog"
	"sync"
)

// Artifact is a point-in-time copy of one tracked artifact.
type Artifact struct {
	Kind    Kind
	Content string

	// Version is incremented only on an accepted apply.
	Version int64
}

// Change is one accepted proposal target to be applied to the store.
type Change struct {
	Kind    Kind
	Content string

	// BaseVersion is the version the proposal was computed against.
	BaseVersion int64
}

// entry is the canonical state of a single kind.
type entry struct {
	content string
	version int64

	// seq increments on every content change, including changes that do not
	// bump the version (initial load, external edits). Dirty state for a
	// session is derived by comparing seq against the session's sentSeq.
	seq uint64
}

// Store holds canonical artifact state shared across all sessions.
//
// Dirty tracking is per session: a kind is dirty relative to a session until
// that session has sent the current content to the backend. Mutation of
// canonical content happens only through Apply (accepted proposals),
// ApplyDerived (traceability recomputation), and SetContent (initial load or
// external edits).
type Store struct {
	mu      sync.RWMutex
	entries map[Kind]*entry

	// sentSeq[sessionID][kind] is the entry seq last included in full in an
	// outgoing request for that session. A missing session entry means the
	// session has never taken a snapshot (first turn: send everything).
	sentSeq map[string]map[Kind]uint64

	logger *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger used for store events.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates an empty store with all kinds at version 0.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		entries: make(map[Kind]*entry, len(Kinds())),
		sentSeq: make(map[string]map[Kind]uint64),
		logger:  slog.Default(),
	}
	for _, k := range Kinds() {
		s.entries[k] = &entry{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the current canonical state of kind. It never fails; an
// unwritten kind is returned as empty content at version 0.
func (s *Store) Get(kind Kind) Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := s.entries[kind]
	if e == nil {
		return Artifact{Kind: kind}
	}
	return Artifact{Kind: kind, Content: e.content, Version: e.version}
}

// SetContent replaces the content of kind outside the apply path (initial
// load from disk, external edit). The version does not change; the kind
// becomes dirty for every session.
func (s *Store) SetContent(kind Kind, content string) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[kind]
	if e.content == content {
		return nil
	}
	e.content = content
	e.seq++
	s.logger.Debug("artifact content set", "kind", kind, "seq", e.seq, "bytes", len(content))
	return nil
}

// MarkDirty forces kind to be considered changed for every session, without
// touching content or version.
func (s *Store) MarkDirty(kind Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[kind].seq++
	return nil
}

// Dirty reports whether kind has changed since sessionID last sent it.
// A session that has never snapshotted sees every non-empty kind as dirty.
func (s *Store) Dirty(sessionID string, kind Kind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := s.entries[kind]
	if e == nil {
		return false
	}
	sent, ok := s.sentSeq[sessionID]
	if !ok {
		return true
	}
	return e.seq > sent[kind]
}

// Apply atomically applies accepted changes on behalf of sessionID.
//
// Every change is validated before any mutation: a derived kind as a target
// or a base-version mismatch fails the whole call and leaves all content and
// versions untouched. On success each changed kind's version increments and
// the kind becomes dirty for every other session; the applying session is
// considered current, since the accepted content originated from its own
// turn.
func (s *Store) Apply(sessionID string, changes []Change) (map[Kind]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range changes {
		if !c.Kind.Valid() {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKind, c.Kind)
		}
		if c.Kind.Derived() {
			return nil, fmt.Errorf("artifact %s is derived and cannot be a proposal target", c.Kind)
		}
		e := s.entries[c.Kind]
		if e.version != c.BaseVersion {
			return nil, &ConflictError{Kind: c.Kind, BaseVersion: c.BaseVersion, Version: e.version}
		}
	}

	versions := make(map[Kind]int64, len(changes))
	for _, c := range changes {
		e := s.entries[c.Kind]
		e.content = c.Content
		e.version++
		e.seq++
		s.markSentLocked(sessionID, c.Kind, e.seq)
		versions[c.Kind] = e.version
		s.logger.Info("artifact applied", "kind", c.Kind, "version", e.version, "session", sessionID)
	}
	return versions, nil
}

// ApplyDerived overwrites a derived kind, bypassing the version conflict
// check. Derived artifacts are always recomputed from current canonical
// state, so the latest recomputation wins unconditionally.
func (s *Store) ApplyDerived(kind Kind, content string) (int64, error) {
	if !kind.Derived() {
		return 0, fmt.Errorf("artifact %s is not derived", kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[kind]
	e.content = content
	e.version++
	e.seq++
	s.logger.Debug("derived artifact rewritten", "kind", kind, "version", e.version)
	return e.version, nil
}

// ForgetSession drops dirty-tracking state for a closed session.
func (s *Store) ForgetSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sentSeq, sessionID)
}

func (s *Store) markSentLocked(sessionID string, kind Kind, seq uint64) {
	sent, ok := s.sentSeq[sessionID]
	if !ok {
		sent = make(map[Kind]uint64, len(Kinds()))
		s.sentSeq[sessionID] = sent
	}
	sent[kind] = seq
}
