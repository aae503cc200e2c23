package core

import (
	"errors"
	"net/http"
)

// Code tags an Error and fixes its HTTP status.
type Code string

const (
	CodeOK                  Code = "OK"
	CodeTemporaryRedirect   Code = "TEMPORARY_REDIRECT"
	CodeBadRequest          Code = "BAD_REQUEST"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeNoSession           Code = "NO_SESSION"
	CodeNotFound            Code = "NOT_FOUND"
	CodeInvalidCSRFToken    Code = "INVALID_CSRF_TOKEN"
	CodeConfigError         Code = "CONFIG_ERROR"
	CodeInternalServerError Code = "INTERNAL_SERVER_ERROR"
)

var codeToStatus = map[Code]int{
	CodeOK:                  http.StatusOK,
	CodeTemporaryRedirect:   http.StatusFound,
	CodeBadRequest:          http.StatusBadRequest,
	CodeUnauthorized:        http.StatusUnauthorized,
	CodeNoSession:           http.StatusUnauthorized,
	CodeNotFound:            http.StatusNotFound,
	CodeInvalidCSRFToken:    http.StatusForbidden,
	CodeConfigError:         http.StatusInternalServerError,
	CodeInternalServerError: http.StatusInternalServerError,
}

// Status returns the HTTP status for the code. Unknown codes map to 500.
func (c Code) Status() int {
	if status, ok := codeToStatus[c]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Error is the typed error every expected failure is reported with.
type Error struct {
	Code    Code
	Message string

	// cause is kept for logging and errors.Is; it never reaches the client.
	cause error
}

func NewError(code Code, message string) *Error {
	if code == "" {
		code = CodeConfigError
	}
	if message == "" {
		message = "An error occurred"
	}
	return &Error{Code: code, Message: message}
}

// WrapError attaches cause to a new Error.
func WrapError(code Code, message string, cause error) *Error {
	e := NewError(code, message)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) Status() int {
	return e.Code.Status()
}

// AsError returns err as an *Error. Anything else becomes an
// INTERNAL_SERVER_ERROR with a generic message.
func AsError(err error) *Error {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr
	}
	return WrapError(CodeInternalServerError, "An unexpected error occurred", err)
}

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code Code) bool {
	var authErr *Error
	return errors.As(err, &authErr) && authErr.Code == code
}

// Adapter errors
var (
	ErrAccountExists = errors.New("account already exists") // uniqueness violation on (provider, provider_account_id)
	ErrUserNotFound  = errors.New("user not found")
)

// Config errors (server-side configuration)
var (
	ErrAdapterRequired          = errors.New("no adapter was provided")
	ErrProvidersRequired        = errors.New("no providers were provided")
	ErrDuplicateProvider        = errors.New("duplicate provider (type, id)")
	ErrIronPasswordRequired     = errors.New("no iron password was provided")
	ErrIronPasswordTooShort     = errors.New("iron password must be at least 32 characters")
	ErrEncryptionSecretRequired = errors.New("no encryption secret was provided")
	ErrCSRFSecretRequired       = errors.New("no csrf secret was provided")
	ErrInvalidURL               = errors.New("the url must start with http or https")
	ErrInvalidProviderConfig    = errors.New("provider config is missing required info")
)

// configError reports a configuration problem to the client without detail.
func configError(cause error) *Error {
	return WrapError(CodeConfigError, "Invalid config", cause)
}
