// Package errors provides structured error types for the sync engine.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error by its semantic category. Kinds drive retry
// decisions and transport status mapping.
type Kind string

const (
	KindDuplicate        Kind = "duplicate"          // idempotency key already accepted
	KindVersionConflict  Kind = "version_conflict"   // optimistic commit lost a race; transient
	KindMissingMergeData Kind = "missing_merge_data" // merge/manual resolution without payload
	KindAlreadyResolved  Kind = "already_resolved"   // conflict resolved twice
	KindNotFound         Kind = "not_found"          // unknown id
	KindUnavailable      Kind = "unavailable"        // store/infrastructure failure
	KindValidation       Kind = "validation"         // malformed caller input
	KindInternal         Kind = "internal"           // unclassified engine failure
)

// Operation identifies the engine operation during which an error occurred.
type Operation string

const (
	OpEnqueue  Operation = "enqueue"
	OpDrain    Operation = "drain"
	OpClassify Operation = "classify"
	OpApply    Operation = "apply"
	OpResolve  Operation = "resolve"
	OpCommit   Operation = "commit"
	OpStatus   Operation = "status"
	OpPurge    Operation = "purge"
	OpClose    Operation = "close"
)

// SyncError is the structured error type used throughout the engine.
type SyncError struct {
	// Op is the engine operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "storage/sqlite", "processor")
	Component string

	// Kind categorizes the error
	Kind Kind

	// Whether the operation can be retried
	Retryable bool

	// Underlying error
	Err error

	// Metadata for additional context
	Metadata map[string]any
}

func (e *SyncError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s failed in %s", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s failed", e.Op)
	}

	if e.Kind != "" {
		msg += fmt.Sprintf(" [%s]", e.Kind)
	}

	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

type comp string

// Component tags a string as the component argument for E.
func Component(name string) any { return comp(name) }

// E builds a SyncError from an arbitrary mix of arguments. Recognized types:
// Operation, Component(...), Kind, error, string (wrapped as a message).
// Later arguments overwrite earlier ones of the same type.
func E(args ...any) *SyncError {
	e := &SyncError{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Operation:
			e.Op = a
		case comp:
			e.Component = string(a)
		case Kind:
			e.Kind = a
			e.Retryable = a == KindVersionConflict || a == KindUnavailable
		case error:
			e.Err = a
		case string:
			e.Err = errors.New(a)
		}
	}
	return e
}

// WithMeta attaches metadata to the error and returns it for chaining.
func (e *SyncError) WithMeta(key string, value any) *SyncError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

// IsKind reports whether err is (or wraps) a SyncError of the given kind.
func IsKind(err error, kind Kind) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or KindInternal if err is not a SyncError.
func KindOf(err error) Kind {
	var syncErr *SyncError
	if errors.As(err, &syncErr) && syncErr.Kind != "" {
		return syncErr.Kind
	}
	return KindInternal
}

// IsRetryable checks if an error is a retryable SyncError.
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}
