package llm

import "errors"

// Errors crossing the provider boundary are classified as transient or
// fatal. The retry loop keeps going on transient failures (rate limits,
// 5xx, network) and gives up immediately on fatal ones (bad credentials,
// malformed requests). Unclassified errors are treated as fatal.

// TransientError marks a failure worth retrying.
type TransientError struct {
	err error
}

// NewTransientError wraps err as retryable.
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

func (e *TransientError) Error() string { return e.err.Error() }

func (e *TransientError) Unwrap() error { return e.err }

// FatalError marks a failure that retrying cannot fix.
type FatalError struct {
	err error
}

// NewFatalError wraps err as non-retryable.
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

func (e *FatalError) Error() string { return e.err.Error() }

func (e *FatalError) Unwrap() error { return e.err }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsFatal reports whether err should end the retry loop.
func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}
