// Package apperr is the error taxonomy shared by services and handlers.
// Callers branch on Kind or Code, never on message text.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindInvalidID
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
)

type Code string

const (
	CodeValidation         Code = "ValidationError"
	CodeMissingField       Code = "MissingField"
	CodeInvalidDate        Code = "InvalidDate"
	CodeEmailTaken         Code = "EmailTaken"
	CodeInvalidID          Code = "InvalidId"
	CodeUnauthorized       Code = "Unauthorized"
	CodeInvalidToken       Code = "InvalidToken"
	CodeTokenExpired       Code = "TokenExpired"
	CodeInvalidCredentials Code = "InvalidCredentials"
	CodeForbidden          Code = "Forbidden"
	CodeNotFound           Code = "NotFound"
	CodeAlreadyJoined      Code = "AlreadyJoined"
	CodeEventFull          Code = "EventFull"
	CodeEventPast          Code = "EventPast"
	CodeNotAttending       Code = "NotAttending"
	CodeCreatorCannotLeave Code = "CreatorCannotLeave"
	CodeInternal           Code = "InternalError"
)

// Error carries a kind for HTTP mapping and a code for clients.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Fields  []string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps a kind onto a response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindInvalidID, KindConflict:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInvalidID:
		return "invalid_id"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidation, Message: message}
}

// ValidationFields reports a validation failure naming the offending fields.
func ValidationFields(message string, fields ...string) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidation, Message: message, Fields: fields}
}

func MissingField(fields ...string) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    CodeMissingField,
		Message: fmt.Sprintf("Missing required fields: %s", strings.Join(fields, ", ")),
		Fields:  fields,
	}
}

func InvalidDate(message string) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalidDate, Message: message}
}

func EmailTaken() *Error {
	return &Error{Kind: KindValidation, Code: CodeEmailTaken, Message: "User already exists"}
}

func InvalidID(message string) *Error {
	return &Error{Kind: KindInvalidID, Code: CodeInvalidID, Message: message}
}

func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Code: CodeUnauthorized, Message: message}
}

func InvalidToken(err error) *Error {
	return &Error{Kind: KindUnauthorized, Code: CodeInvalidToken, Message: "Not authorized, token failed", Err: err}
}

func TokenExpired() *Error {
	return &Error{Kind: KindUnauthorized, Code: CodeTokenExpired, Message: "Not authorized, token expired"}
}

func InvalidCredentials() *Error {
	return &Error{Kind: KindUnauthorized, Code: CodeInvalidCredentials, Message: "Invalid email or password"}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Code: CodeForbidden, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: message}
}

// Conflict is a request that is well formed but violates the event's current state.
func Conflict(code Code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: message, Err: err}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf reports KindInternal for errors outside the taxonomy.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

func CodeOf(err error) Code {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return CodeInternal
}

func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
