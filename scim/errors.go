package scim

import (
	"errors"
	"fmt"
	"net/http"
)

// SCIM error types as defined in RFC 7644
const (
	ScimTypeInvalidFilter = "invalidFilter"
	ScimTypeInvalidSyntax = "invalidSyntax"
	ScimTypeInvalidValue  = "invalidValue"
	ScimTypeNoTarget      = "noTarget"
	ScimTypeUniqueness    = "uniqueness"
)

// Error is a typed SCIM error carrying the HTTP status it maps to and
// the optional scimType discriminator for the error JSON body.
type Error struct {
	Status   int
	Detail   string
	ScimType string
}

// Error implements the error interface
func (e *Error) Error() string {
	return e.Detail
}

// ErrorResponse is the SCIM error JSON body (RFC 7644 section 3.12).
type ErrorResponse struct {
	Schemas  []string `json:"schemas"`
	Status   string   `json:"status"`
	Detail   string   `json:"detail,omitempty"`
	ScimType string   `json:"scimType,omitempty"`
}

// Response renders the error as its SCIM error JSON body.
func (e *Error) Response() ErrorResponse {
	return ErrorResponse{
		Schemas:  []string{SchemaError},
		Status:   fmt.Sprintf("%d", e.Status),
		Detail:   e.Detail,
		ScimType: e.ScimType,
	}
}

// NewError creates a new SCIM error
func NewError(status int, detail, scimType string) *Error {
	return &Error{
		Status:   status,
		Detail:   detail,
		ScimType: scimType,
	}
}

// Error constructors, one per error kind the engine emits.
var (
	ErrInvalidFilter = func(detail string) *Error {
		return NewError(http.StatusBadRequest, detail, ScimTypeInvalidFilter)
	}

	ErrInvalidSyntax = func(detail string) *Error {
		return NewError(http.StatusBadRequest, detail, ScimTypeInvalidSyntax)
	}

	ErrInvalidValue = func(detail string) *Error {
		return NewError(http.StatusBadRequest, detail, ScimTypeInvalidValue)
	}

	ErrNoTarget = func(detail string) *Error {
		return NewError(http.StatusBadRequest, detail, ScimTypeNoTarget)
	}

	ErrUniqueness = func(detail string) *Error {
		return NewError(http.StatusConflict, detail, ScimTypeUniqueness)
	}

	ErrConflict = func(detail string) *Error {
		return NewError(http.StatusConflict, detail, ScimTypeUniqueness)
	}

	ErrNotFound = func(resourceType, id string) *Error {
		return NewError(http.StatusNotFound, fmt.Sprintf("%s %s not found", resourceType, id), "")
	}

	ErrNotImplemented = func(feature string) *Error {
		return NewError(http.StatusNotImplemented, fmt.Sprintf("%s not implemented", feature), "")
	}

	ErrInternalServer = func(detail string) *Error {
		return NewError(http.StatusInternalServerError, detail, "")
	}
)

// AsError converts any error to a *Error. Typed errors pass through
// unchanged; everything else becomes a 500 with the given context.
func AsError(err error, context string) *Error {
	var scimErr *Error
	if errors.As(err, &scimErr) {
		return scimErr
	}
	return ErrInternalServer(fmt.Sprintf("%s: %v", context, err))
}
