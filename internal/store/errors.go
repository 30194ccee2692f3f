package store

import (
	"fmt"

	domainerrors "github.com/purescanapp/purescan-server/internal/errors"
)

// Error is a store error carrying a domain error code.
type Error struct {
	Err     error // Underlying error (optional)
	Message string
	Code    domainerrors.Code
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches copies made by WithCause against their sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code && t.Message == e.Message
}

// HTTPStatus returns the HTTP status code associated with this error.
func (e *Error) HTTPStatus() int { return e.Code.HTTPStatus() }

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Err: err}
}

// Sentinel errors. The entity-specific ones wrap the generic ones, so
// errors.Is(ErrProductNotFound, ErrNotFound) holds.
var (
	ErrNotFound      = &Error{Code: domainerrors.CodeNotFound, Message: "resource not found"}
	ErrAlreadyExists = &Error{Code: domainerrors.CodeAlreadyExists, Message: "resource already exists"}
	ErrInvalidInput  = &Error{Code: domainerrors.CodeValidation, Message: "invalid input"}

	ErrProductNotFound    = &Error{Code: domainerrors.CodeNotFound, Message: "product not found", Err: ErrNotFound}
	ErrProductExists      = &Error{Code: domainerrors.CodeAlreadyExists, Message: "product already exists", Err: ErrAlreadyExists}
	ErrIngredientNotFound = &Error{Code: domainerrors.CodeNotFound, Message: "ingredient not found", Err: ErrNotFound}
	ErrIngredientExists   = &Error{Code: domainerrors.CodeAlreadyExists, Message: "ingredient already exists", Err: ErrAlreadyExists}
	ErrInvalidCursor      = &Error{Code: domainerrors.CodeValidation, Message: "invalid cursor", Err: ErrInvalidInput}
)
