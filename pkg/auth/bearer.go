package auth

import (
	"strings"

	sserr "github.com/firstech/identity-core/pkg/errors"
)

// HeaderAuthorization is the header (and gRPC metadata key) carrying the
// bearer credential.
const HeaderAuthorization = "authorization"

// ExtractBearerToken returns the token of a "Bearer <token>" header value.
//
// An empty or whitespace-only header fails with MissingCredentials. Anything
// that does not split into exactly two whitespace-separated fields with a
// case-insensitive "bearer" scheme fails with MalformedHeader. Embedded
// spaces in the token are rejected rather than trimmed.
func ExtractBearerToken(header string) (string, error) {
	parts := strings.Fields(header)
	if len(parts) == 0 {
		return "", sserr.MissingCredentials()
	}
	if !strings.EqualFold(parts[0], "bearer") {
		return "", sserr.MalformedHeader("must be a bearer token")
	}
	switch len(parts) {
	case 1:
		return "", sserr.MalformedHeader("no credentials provided")
	case 2:
		return parts[1], nil
	default:
		return "", sserr.MalformedHeader("credentials should not contain spaces")
	}
}
