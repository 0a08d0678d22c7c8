package artifact

import (
	"errors"
	"fmt"
)

// ErrUnknownKind is returned for operations on an unrecognized artifact kind.
var ErrUnknownKind = errors.New("unknown artifact kind")

// ConflictError reports an optimistic-concurrency failure: the artifact was
// modified after the proposal's base version was captured. The caller must
// re-fetch and let the user re-decide; a conflict is never resolved silently.
type ConflictError struct {
	Kind        Kind
	BaseVersion int64
	Version     int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("artifact %s: version conflict: proposal based on v%d, store at v%d",
		e.Kind, e.BaseVersion, e.Version)
}

// IsConflict returns true if err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}
