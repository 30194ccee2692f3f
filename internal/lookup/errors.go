package lookup

import (
	"errors"
	"fmt"
)

// Sentinel errors for lookup operations.
var (
	ErrMissingBarcode = errors.New("lookup: missing barcode")
	ErrInvalidBarcode = errors.New("lookup: invalid barcode")
	ErrNotFound       = errors.New("lookup: product not found")
	ErrBadRequest     = errors.New("lookup: bad request")
	ErrRateLimited    = errors.New("lookup: rate limited by server")
	ErrServer         = errors.New("lookup: server error")
)

// Error wraps an underlying error with operation context.
type Error struct {
	Op      string // Operation: "resolve"
	Barcode string // Canonical barcode when known, raw input otherwise
	Err     error
}

func (e *Error) Error() string {
	if e.Barcode != "" {
		return fmt.Sprintf("lookup %s [%s]: %v", e.Op, e.Barcode, e.Err)
	}
	return fmt.Sprintf("lookup %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapError(op, barcode string, err error) error {
	return &Error{Op: op, Barcode: barcode, Err: err}
}

// serverMessageError carries the server's explanation next to a sentinel.
type serverMessageError struct {
	sentinel error
	message  string
}

func (e *serverMessageError) Error() string {
	if e.message == "" {
		return e.sentinel.Error()
	}
	return fmt.Sprintf("%v: %s", e.sentinel, e.message)
}

func (e *serverMessageError) Unwrap() error {
	return e.sentinel
}

// ServerMessage returns the message the server attached to a failed lookup, if any.
func ServerMessage(err error) string {
	var sm *serverMessageError
	if errors.As(err, &sm) {
		return sm.message
	}
	return ""
}
