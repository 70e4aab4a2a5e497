// Package mwerr defines the error taxonomy shared by the registrar, ingestor
// and store. Errors carry a Kind so callers can classify them with errors.Is
// without string matching.
package mwerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error.
type Kind string

// Kind values.
const (
	KindInvalidUser         Kind = "INVALID_USER"
	KindInvalidMetric       Kind = "INVALID_METRIC"
	KindMetricRetired       Kind = "METRIC_RETIRED"
	KindSchemaMismatch      Kind = "SCHEMA_MISMATCH"
	KindFetchFailed         Kind = "FETCH_FAILED"
	KindTimeout             Kind = "TIMEOUT"
	KindStoreConflict       Kind = "STORE_CONFLICT"
	KindPartialBatchFailure Kind = "PARTIAL_BATCH_FAILURE"
	KindInternal            Kind = "INTERNAL"
)

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidUser    = &Error{Kind: KindInvalidUser}
	ErrInvalidMetric  = &Error{Kind: KindInvalidMetric}
	ErrMetricRetired  = &Error{Kind: KindMetricRetired}
	ErrSchemaMismatch = &Error{Kind: KindSchemaMismatch}
	ErrFetchFailed    = &Error{Kind: KindFetchFailed}
	ErrTimeout        = &Error{Kind: KindTimeout}
	ErrStoreConflict  = &Error{Kind: KindStoreConflict}
	ErrPartialBatch   = &Error{Kind: KindPartialBatchFailure}
)

// Error is a classified error with an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return strings.ToLower(string(e.Kind)) + ": " + e.Err.Error()
	default:
		return strings.ToLower(string(e.Kind))
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so sentinels compare by kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New returns a classified error with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of the outermost classified error in err's chain,
// or KindInternal when err is unclassified.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsValidation reports whether err is a caller input error.
func IsValidation(err error) bool {
	switch KindOf(err) {
	case KindInvalidUser, KindInvalidMetric, KindMetricRetired:
		return true
	}
	return false
}

// ItemError is one failed item inside a batch.
type ItemError struct {
	ID   int64
	Step int
	Err  error
}

// BatchError reports a batch where some items failed. It matches ErrPartialBatch.
type BatchError struct {
	Total  int
	Failed []ItemError
}

func (b *BatchError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "partial batch failure: %d of %d items failed", len(b.Failed), b.Total)
	for i, f := range b.Failed {
		if i == 3 {
			fmt.Fprintf(&sb, "; and %d more", len(b.Failed)-3)
			break
		}
		fmt.Fprintf(&sb, "; id %d step %d: %v", f.ID, f.Step, f.Err)
	}
	return sb.String()
}

// Is matches ErrPartialBatch.
func (b *BatchError) Is(target error) bool {
	var t *Error
	return errors.As(target, &t) && t.Kind == KindPartialBatchFailure
}
