package tokenauth

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies an AuthError
type ErrorCode string

const (
	CodeValidation         ErrorCode = "validation_error"
	CodeDuplicateEmail     ErrorCode = "duplicate_email"
	CodeInvalidCredentials ErrorCode = "invalid_credentials"
	CodeInvalidToken       ErrorCode = "invalid_token"
	CodeExpiredToken       ErrorCode = "expired_token"
	CodeUnauthorized       ErrorCode = "unauthorized"
	CodeForbidden          ErrorCode = "forbidden"
	CodeNotFound           ErrorCode = "not_found"
	CodeTokenNotFound      ErrorCode = "token_not_found"
	CodeUpstream           ErrorCode = "upstream_error"
)

// AuthError is the error type returned by every flow in this package.
// Two AuthErrors match under errors.Is when their codes match.
type AuthError struct {
	Code    ErrorCode
	Message string
	Field   string // offending request field, for validation errors
	Err     error  // underlying cause, if any
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Code == e.Code
}

// NewAuthError creates an AuthError with the given code and message
func NewAuthError(code ErrorCode, message string) *AuthError {
	return &AuthError{Code: code, Message: message}
}

// ValidationError creates a validation AuthError for a request field
func ValidationError(field, message string) *AuthError {
	return &AuthError{Code: CodeValidation, Message: message, Field: field}
}

// Wrap returns a copy of e carrying err as its cause
func (e *AuthError) Wrap(err error) *AuthError {
	out := *e
	out.Err = err
	return &out
}

var (
	ErrValidation         = NewAuthError(CodeValidation, "Validation failed")
	ErrDuplicateEmail     = NewAuthError(CodeDuplicateEmail, "Email already exists")
	ErrInvalidCredentials = NewAuthError(CodeInvalidCredentials, "Incorrect email or password")
	ErrInvalidToken       = NewAuthError(CodeInvalidToken, "Invalid token")
	ErrExpiredToken       = NewAuthError(CodeExpiredToken, "Reset token is expired")
	ErrUnauthorized       = NewAuthError(CodeUnauthorized, "Unauthorized")
	ErrForbidden          = NewAuthError(CodeForbidden, "Forbidden")
	ErrUserNotFound       = NewAuthError(CodeNotFound, "User not found")
	ErrTokenNotFound      = NewAuthError(CodeTokenNotFound, "Token not found")
	ErrUpstream           = NewAuthError(CodeUpstream, "Identity provider error")
)

// StatusCode maps an error to the HTTP status the API responds with
func StatusCode(err error) int {
	var ae *AuthError
	if !errors.As(err, &ae) {
		return http.StatusInternalServerError
	}
	switch ae.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeDuplicateEmail:
		return http.StatusConflict
	case CodeInvalidCredentials, CodeInvalidToken, CodeExpiredToken, CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound, CodeTokenNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
