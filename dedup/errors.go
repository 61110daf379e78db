package dedup

import (
	"errors"
	"fmt"
)

var (
	// ErrMergeConflict means another submission claimed the same merge key
	// while this one was running. The caller should retry the whole run.
	ErrMergeConflict = errors.New("merge key conflict")
	// ErrMergeFailed means a merge was rolled back. Nothing was moved.
	ErrMergeFailed = errors.New("merge failed")
	// ErrDuplicateKey is returned by a Store when the unique merge key index
	// rejects a write.
	ErrDuplicateKey = errors.New("duplicate merge key")
	// ErrMergeBlocked means two protected records share a merge key. Retrying
	// does not help; a reviewer has to correct one of them.
	ErrMergeBlocked = errors.New("merge blocked: both records are protected")
	// ErrRecordNotFound is returned when the surviving record does not exist.
	ErrRecordNotFound = errors.New("record not found")
)

// MergeError describes a failed claim or merge. Kind is ErrMergeConflict,
// ErrMergeBlocked or ErrMergeFailed; Err is the underlying cause.
type MergeError struct {
	Op          string
	MergeKey    string
	ExistingID  string
	DuplicateID string
	Kind        error
	Err         error
}

func (e *MergeError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.ExistingID != "" || e.DuplicateID != "" {
		msg += fmt.Sprintf(" (existing=%s duplicate=%s)", e.ExistingID, e.DuplicateID)
	}
	if e.MergeKey != "" {
		msg += fmt.Sprintf(" key=%q", e.MergeKey)
	}
	if e.Err != nil && e.Err != e.Kind {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MergeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsRetryable reports whether err is a merge conflict the caller may retry.
func (e *MergeError) IsRetryable() bool {
	return errors.Is(e.Kind, ErrMergeConflict)
}

// IsRetryable reports whether err, or anything it wraps, is a merge conflict.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrMergeConflict)
}
