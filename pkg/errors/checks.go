package errors

import (
	"errors"
)

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the code of the first *Error in err's chain, or "".
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries code.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

func hasCategory(err error, category string) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == category
}

// IsValidation reports a VAL_xxx error.
func IsValidation(err error) bool { return hasCategory(err, "VAL") }

// IsAuthentication reports any AUTH_xxx error.
func IsAuthentication(err error) bool { return hasCategory(err, "AUTH") }

// IsAuthorization reports any AUTHZ_xxx error.
func IsAuthorization(err error) bool { return hasCategory(err, "AUTHZ") }

// IsNotFound reports any NF_xxx error.
func IsNotFound(err error) bool { return hasCategory(err, "NF") }

// IsConflict reports any CONF_xxx error.
func IsConflict(err error) bool { return hasCategory(err, "CONF") }

// IsInternal reports any INT_xxx error.
func IsInternal(err error) bool { return hasCategory(err, "INT") }

// IsUnavailable reports any UNAVAIL_xxx error.
func IsUnavailable(err error) bool { return hasCategory(err, "UNAVAIL") }

// IsTimeout reports any TIMEOUT_xxx error.
func IsTimeout(err error) bool { return hasCategory(err, "TIMEOUT") }

// IsMissingCredentials reports a request that carried no credential.
func IsMissingCredentials(err error) bool { return HasCode(err, CodeAuthenticationMissing) }

// IsMalformedHeader reports an unparseable Authorization header.
func IsMalformedHeader(err error) bool { return HasCode(err, CodeAuthenticationMalformed) }

// IsTokenInvalid reports a token that no trust source accepted.
func IsTokenInvalid(err error) bool { return HasCode(err, CodeAuthenticationInvalid) }

// IsStaleCredentials reports a token invalidated by a global logout.
func IsStaleCredentials(err error) bool { return HasCode(err, CodeAuthenticationStale) }

// IsInvalidUser reports a locked-out identity.
func IsInvalidUser(err error) bool { return HasCode(err, CodeAuthorizationInvalidUser) }

// IsRetryable reports timeout and unavailable errors, which may succeed on a
// later attempt.
func IsRetryable(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	switch e.Code.Category() {
	case "TIMEOUT", "UNAVAIL":
		return true
	default:
		return false
	}
}
