package store

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel error kinds. Use [errors.Is] to test for them; every error
// returned by this package wraps exactly one of these via %w.
var (
	// ErrInvalidName reports a publicKey containing forbidden characters,
	// an empty publicKey, or a publicKey starting with "~".
	ErrInvalidName = errors.New("invalid name")

	// ErrDuplicateKey reports a publicKey collision within an entity set.
	// The message always contains the word "Duplicate".
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrNotFound reports a missing update/remove target or reload subject.
	ErrNotFound = errors.New("not found")

	// ErrSchemaUnknown reports an operation against an unregistered entity set.
	ErrSchemaUnknown = errors.New("schema unknown")

	// ErrIoError reports an underlying filesystem failure during stage or commit.
	ErrIoError = errors.New("io error")

	// ErrDecodeError reports a malformed on-disk document encountered during load.
	ErrDecodeError = errors.New("decode error")

	// ErrClosed reports an operation attempted on a stopped Provider.
	ErrClosed = errors.New("store closed")
)

// Error is the uniform error type returned by mutation and query APIs.
// It carries the entity set and publicKey the failure applies to, appended
// to the underlying message:
//
//	stage directory: permission denied (set=templates key=report)
//
// Use [errors.As] to recover the structured fields, [errors.Is] against the
// sentinels above to classify the failure.
type Error struct {
	Set string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}

	suffix := e.suffix()
	switch {
	case suffix == "":
		return cause
	case cause == "":
		return suffix
	default:
		return cause + " " + suffix
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

func (e *Error) suffix() string {
	var parts []string

	if e.Set != "" {
		parts = append(parts, "set="+e.Set)
	}

	if e.Key != "" {
		parts = append(parts, "key="+e.Key)
	}

	if len(parts) == 0 {
		return ""
	}

	return "(" + strings.Join(parts, " ") + ")"
}

// withContext attaches entity-set/publicKey context at API boundaries.
// If err already carries an *Error, missing fields are filled in, existing
// ones preserved.
func withContext(err error, set, key string) error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		if existing.Set == "" && set != "" {
			existing.Set = set
		}

		if existing.Key == "" && key != "" {
			existing.Key = key
		}

		return existing
	}

	return &Error{Set: set, Key: key, Err: err}
}

// duplicateKeyError builds an [ErrDuplicateKey]-wrapping error whose message
// contains the word "Duplicate", as required by callers that grep for it.
func duplicateKeyError(key string) error {
	return withContext(
		fmt.Errorf("%w: Duplicate publicKey %q", ErrDuplicateKey, key),
		"", key,
	)
}
