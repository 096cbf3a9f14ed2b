// Package errors defines the error taxonomy shared by every identity-core
// package. All errors that cross a package boundary are *Error values carrying
// a stable, machine-readable Code so that transports (HTTP, gRPC) and callers
// can branch on the failure kind without string matching.
//
// # Failure kinds
//
// The request path distinguishes:
//
//   - MissingCredentials (AUTH_004): no Authorization header at all. The HTTP
//     middleware treats this as an anonymous request.
//   - MalformedHeader (AUTH_005): a header is present but is not a single
//     bearer credential.
//   - TokenInvalid (AUTH_003): no configured trust source accepted the token.
//   - StaleCredentials (AUTH_006): the token predates the user's last global
//     logout.
//   - InvalidUser (AUTHZ_004): the resolved identity is locked out.
//
// Collaborator failures (store, directory, key providers) use the INT,
// UNAVAIL and TIMEOUT categories.
//
// # Usage
//
//	if errors.IsMissingCredentials(err) {
//	    // continue anonymously
//	}
//
//	if e, ok := errors.AsError(err); ok {
//	    w.WriteHeader(e.HTTPStatus())
//	}
package errors
