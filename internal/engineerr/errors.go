// Package engineerr provides the structured error taxonomy the sync engine
// classifies every storage-adapter and pipeline failure into. The Kind enum
// mirrors the error-kind table of the engine's design: each kind carries its
// own retry/propagation policy so callers never have to string-match error
// messages to decide what to do next.
package engineerr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a SyncError for dispatch by the syncer/deleter workers and
// the pipeline controller.
type Kind string

const (
	// KindNotFound means the source object disappeared mid-run, or the
	// target object being deleted/tagged no longer exists.
	KindNotFound Kind = "NOT_FOUND"

	// KindAccessDenied means the storage backend rejected the request for
	// permission reasons.
	KindAccessDenied Kind = "ACCESS_DENIED"

	// KindPreconditionFailed means a conditional request (e.g. delete
	// with --if-match) failed because the target changed underneath us.
	KindPreconditionFailed Kind = "PRECONDITION_FAILED"

	// KindCancelled is the sentinel unwind value produced when the
	// pipeline's cancellation token was observed set.
	KindCancelled Kind = "CANCELLED"

	// KindDirectoryTraversal means a key contained ".." and was rejected
	// on the local write side.
	KindDirectoryTraversal Kind = "DIRECTORY_TRAVERSAL"

	// KindForceRetryable means a transport/construction error not
	// produced by the remote service: safe to retry unconditionally.
	KindForceRetryable Kind = "FORCE_RETRYABLE"

	// KindChecksumMismatch means an ETag or additional-checksum
	// comparison failed after upload.
	KindChecksumMismatch Kind = "CHECKSUM_MISMATCH"

	// KindUnknownAlgorithm means a checksum algorithm name arrived from
	// external input (config or S3 metadata) that the engine doesn't
	// implement.
	KindUnknownAlgorithm Kind = "UNKNOWN_ALGORITHM"

	// KindOther is every error that isn't one of the above: it cancels
	// the pipeline and is recorded in the error queue.
	KindOther Kind = "OTHER"
)

// SyncError is the structured error type returned by storage adapters and
// pipeline stages. It carries enough context — key, version, the comparison
// values involved — that a warning logged from it is diagnosable without
// re-running anything.
type SyncError struct {
	Kind      Kind
	Op        string
	Key       string
	VersionID string
	Message   string
	Cause     error
	Timestamp time.Time

	// Context holds kind-specific diagnostic fields, e.g. "expected_etag"
	// / "actual_etag" for KindChecksumMismatch, or "precondition" for
	// KindPreconditionFailed.
	Context map[string]string
}

// New creates a SyncError of the given kind.
func New(kind Kind, op, key, message string) *SyncError {
	return &SyncError{
		Kind:      kind,
		Op:        op,
		Key:       key,
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]string),
	}
}

// Wrap creates a SyncError that preserves an underlying cause for
// errors.Unwrap / errors.As.
func Wrap(kind Kind, op, key string, cause error) *SyncError {
	return &SyncError{
		Kind:      kind,
		Op:        op,
		Key:       key,
		Message:   cause.Error(),
		Cause:     cause,
		Timestamp: time.Now(),
		Context:   make(map[string]string),
	}
}

// WithVersion stamps the version id onto the error and returns it for
// chaining.
func (e *SyncError) WithVersion(versionID string) *SyncError {
	e.VersionID = versionID
	return e
}

// WithContext attaches a diagnostic key/value pair and returns the error for
// chaining.
func (e *SyncError) WithContext(key, value string) *SyncError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.Op != "" && e.Key != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Op, e.Key, e.Kind, e.Message)
	}
	if e.Key != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Key, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a SyncError of the same Kind, so callers can
// write errors.Is(err, engineerr.New(engineerr.KindNotFound, "", "", "")).
func (e *SyncError) Is(target error) bool {
	var other *SyncError
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// Retryable reports whether the syncer's retry loop should re-attempt the
// operation that produced this error. Per the spec, only force-retryable
// (network/construction/timeout) errors are retried; everything else is
// classified as a terminal Warning or Error.
func (e *SyncError) Retryable() bool {
	return e.Kind == KindForceRetryable
}

// TerminatesObject reports whether this error kind ends processing for the
// object (as opposed to KindForceRetryable, which loops back for another
// attempt).
func (e *SyncError) TerminatesObject() bool {
	return e.Kind != KindForceRetryable
}

// CancelsPipeline reports whether this error kind should set the
// cancellation token and abort the whole run, as opposed to being recorded
// as a per-object warning that a successful run can still contain.
func (e *SyncError) CancelsPipeline() bool {
	switch e.Kind {
	case KindNotFound, KindAccessDenied, KindPreconditionFailed, KindChecksumMismatch, KindForceRetryable, KindCancelled:
		return false
	default:
		return true
	}
}

// KindOf returns the Kind of any error, classifying plain (non-SyncError)
// errors as KindOther so callers can always branch on the result.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindOther
}

// IsNotFound is a convenience predicate used throughout the storage adapters.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsCancelled is a convenience predicate used throughout the pipeline.
func IsCancelled(err error) bool { return KindOf(err) == KindCancelled }
