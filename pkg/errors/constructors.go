package errors

import (
	"errors"
	"fmt"
)

// New returns an *Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf is New with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches err as the cause of a new *Error. It returns nil for a nil err.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// MissingCredentials reports a request with no Authorization header.
func MissingCredentials() *Error {
	return New(CodeAuthenticationMissing, "authorization header is missing")
}

// MalformedHeader reports an Authorization header that is not a single
// bearer credential.
func MalformedHeader(reason string) *Error {
	return Newf(CodeAuthenticationMalformed, "invalid authorization header: %s", reason)
}

// TokenInvalid reports a bearer token rejected by a trust source.
func TokenInvalid(cause error, message string) *Error {
	return &Error{Code: CodeAuthenticationInvalid, Message: message, Cause: cause}
}

// StaleCredentials reports a token issued before the user's latest global
// logout.
func StaleCredentials() *Error {
	return New(CodeAuthenticationStale, "credentials must be refreshed")
}

// InvalidUser reports an identity that is not permitted to authenticate.
func InvalidUser(message string) *Error {
	return New(CodeAuthorizationInvalidUser, message)
}

// NotFoundf returns a not-found error with a formatted message.
func NotFoundf(format string, args ...any) *Error {
	return Newf(CodeNotFound, format, args...)
}

// AlreadyExists reports a uniqueness violation on the named resource.
func AlreadyExists(cause error, message string) *Error {
	return &Error{Code: CodeConflictAlreadyExists, Message: message, Cause: cause}
}

// Validationf returns a validation error with a formatted message.
func Validationf(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

// Internal returns a generic internal error.
func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// FromError returns err as an *Error, wrapping foreign errors as internal.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, CodeInternal, "an unexpected error occurred")
}
