package artifact

// Snapshot is the artifact context captured for one outgoing request.
//
// On a session's first send every requested kind is included in full to
// establish baseline context. On later sends only kinds dirty relative to
// that session are included in full; the rest appear in Unchanged so the
// prompt can carry a lightweight marker instead of repeating content.
//
// Taking a snapshot eagerly records the included kinds as sent for the
// session. Rollback undoes that recording, so a cancelled or failed dispatch
// leaves the store as if the snapshot was never taken.
type Snapshot struct {
	SessionID string
	FirstSend bool

	// Contents holds full content for each included kind.
	Contents map[Kind]string

	// Unchanged lists requested kinds omitted because the session has
	// already sent their current content.
	Unchanged []Kind

	// BaseVersions records the version of every requested kind at capture
	// time. Proposals produced from this snapshot apply against these.
	BaseVersions map[Kind]int64

	store      *Store
	prevSent   map[Kind]uint64
	hadSession bool
	rolledBack bool
}

// SnapshotForSend captures the artifact context sessionID should send for
// the requested kinds and records those kinds as sent. Call Rollback if the
// request is never dispatched. Derived kinds are never included.
func (s *Store) SnapshotForSend(sessionID string, kinds []Kind) *Snapshot {
	return s.snapshot(sessionID, kinds, false)
}

// SnapshotFull is SnapshotForSend with the sent markers ignored: every
// requested kind is included in full regardless of what the session has
// already seen. The markers are still recorded, so Rollback behaves the
// same as for a regular snapshot.
func (s *Store) SnapshotFull(sessionID string, kinds []Kind) *Snapshot {
	return s.snapshot(sessionID, kinds, true)
}

func (s *Store) snapshot(sessionID string, kinds []Kind, full bool) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	sent, hadSession := s.sentSeq[sessionID]

	snap := &Snapshot{
		SessionID:    sessionID,
		FirstSend:    !hadSession,
		Contents:     make(map[Kind]string),
		BaseVersions: make(map[Kind]int64),
		store:        s,
		prevSent:     make(map[Kind]uint64),
		hadSession:   hadSession,
	}

	for _, k := range kinds {
		if !k.Valid() || k.Derived() {
			continue
		}
		e := s.entries[k]
		snap.BaseVersions[k] = e.version

		dirty := full || !hadSession || e.seq > sent[k]
		if !dirty {
			snap.Unchanged = append(snap.Unchanged, k)
			continue
		}

		snap.Contents[k] = e.content
		if hadSession {
			snap.prevSent[k] = sent[k]
		}
		s.markSentLocked(sessionID, k, e.seq)
	}

	s.logger.Debug("snapshot taken",
		"session", sessionID,
		"first", snap.FirstSend,
		"full", len(snap.Contents),
		"unchanged", len(snap.Unchanged))
	return snap
}

// Rollback restores the session's sent markers to their pre-snapshot state.
// It is a no-op after the first call.
func (sn *Snapshot) Rollback() {
	if sn.rolledBack {
		return
	}
	sn.rolledBack = true

	sn.store.mu.Lock()
	defer sn.store.mu.Unlock()

	if !sn.hadSession {
		// The snapshot created this session's tracking state; remove it so
		// the next send is again treated as the first.
		delete(sn.store.sentSeq, sn.SessionID)
		return
	}
	sent := sn.store.sentSeq[sn.SessionID]
	if sent == nil {
		return
	}
	for k := range sn.Contents {
		sent[k] = sn.prevSent[k]
	}
}
