package errors

// Code is a machine-readable error code of the form CATEGORY_NNN. Codes are
// stable once assigned.
type Code string

// Categories and the HTTP status they map to:
//
//	VAL_xxx     400
//	AUTH_xxx    401
//	AUTHZ_xxx   403
//	NF_xxx      404
//	CONF_xxx    409
//	INT_xxx     500
//	UNAVAIL_xxx 503
//	TIMEOUT_xxx 504
const (
	CodeValidation         Code = "VAL_001"
	CodeValidationRequired Code = "VAL_002"
	CodeValidationFormat   Code = "VAL_003"
	CodeValidationRange    Code = "VAL_004"

	// CodeAuthentication is a general authentication failure.
	CodeAuthentication Code = "AUTH_001"
	// CodeAuthenticationExpired marks a token whose exp has passed.
	CodeAuthenticationExpired Code = "AUTH_002"
	// CodeAuthenticationInvalid marks a token that no trust source accepted.
	CodeAuthenticationInvalid Code = "AUTH_003"
	// CodeAuthenticationMissing marks a request without an Authorization header.
	CodeAuthenticationMissing Code = "AUTH_004"
	// CodeAuthenticationMalformed marks an Authorization header that is not a
	// single bearer credential.
	CodeAuthenticationMalformed Code = "AUTH_005"
	// CodeAuthenticationStale marks a valid token issued before the user's
	// latest global logout.
	CodeAuthenticationStale Code = "AUTH_006"

	CodeAuthorization       Code = "AUTHZ_001"
	CodeAuthorizationDenied Code = "AUTHZ_002"
	// CodeAuthorizationInvalidUser marks an identity that is locked out, for
	// example an installer whose dealer has been retired.
	CodeAuthorizationInvalidUser Code = "AUTHZ_004"

	CodeNotFound     Code = "NF_001"
	CodeNotFoundUser Code = "NF_002"

	CodeConflict Code = "CONF_001"
	// CodeConflictAlreadyExists is returned by stores on a uniqueness
	// violation. The reconciler retries its lookup when it sees this code.
	CodeConflictAlreadyExists Code = "CONF_002"

	CodeInternal              Code = "INT_001"
	CodeInternalDatabase      Code = "INT_002"
	CodeInternalConfiguration Code = "INT_003"

	CodeUnavailable           Code = "UNAVAIL_001"
	CodeUnavailableDependency Code = "UNAVAIL_002"

	CodeTimeout           Code = "TIMEOUT_001"
	CodeTimeoutDatabase   Code = "TIMEOUT_002"
	CodeTimeoutDependency Code = "TIMEOUT_003"
)

// String returns the code as a string.
func (c Code) String() string {
	return string(c)
}

// Category returns the prefix before the first underscore ("AUTH" for
// "AUTH_003"). A code without an underscore is its own category.
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
