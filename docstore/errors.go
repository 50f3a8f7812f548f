package docstore

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized = errors.New("operation not permitted")
	ErrInvalidated  = errors.New("document was modified since it was last read")
	ErrNotFound     = errors.New("document not found")

	ErrInvalidCollection = errors.New("invalid collection name")
	ErrInvalidDocument   = errors.New("invalid document")
)

// StoreError reports a failed round trip to the store. It aborts the whole
// request; no partial response is produced.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ConsistencyError signals a broken pipeline invariant, such as a store
// returning fewer results than writes submitted.
type ConsistencyError struct {
	Detail string
}

func (e *ConsistencyError) Error() string {
	return "internal consistency failure: " + e.Detail
}

func consistencyErrorf(format string, args ...any) error {
	return &ConsistencyError{Detail: fmt.Sprintf(format, args...)}
}

// Error codes reported to clients next to per-document errors.
const (
	CodeUnauthorized = "unauthorized"
	CodeInvalidated  = "invalidated"
	CodeInternal     = "internal"
)

// ErrorCode maps an error to its wire tag.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrInvalidated):
		return CodeInvalidated
	default:
		return CodeInternal
	}
}

func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
