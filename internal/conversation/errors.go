package conversation

import (
	"errors"
	"fmt"
)

// Kind classifies manager failures so callers can pick a user-facing reply
// without inspecting error text.
type Kind int

const (
	// KindStorage means the store was unreachable or no pooled connection
	// could be acquired in time.
	KindStorage Kind = iota + 1
	// KindProvider means the primary AI call failed; nothing was committed.
	KindProvider
	// KindCompaction means the summarizer failed; memory is untouched and the
	// turn may continue.
	KindCompaction
	// KindInvalidInput means the request was malformed.
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindStorage:
		return "storage"
	case KindProvider:
		return "provider"
	case KindCompaction:
		return "compaction"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// Error is returned by every Manager and Turn operation that fails.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or 0 when err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

func newError(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}
