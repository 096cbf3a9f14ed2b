// Package auth turns an inbound Authorization header into verified token
// claims.
//
// The pieces are:
//
//   - [ExtractBearerToken] parses the header into a single bearer token.
//   - [KeySetCache] resolves a key id to a public verification key, fetching
//     the identity provider's JSON Web Key Set lazily and falling back to
//     mirrors when the provider is unreachable.
//   - [InternalValidator], [DirectoryIDValidator] and
//     [DirectoryAccessValidator] each accept one kind of token and reject
//     everything else with a TokenInvalid error.
//   - [CompositeValidator] tries the configured validators in order and
//     returns the claims of the first one that accepts the token.
//
// Every failure returned from this package is a *errors.Error. Validator
// failures always carry errors.CodeAuthenticationInvalid so callers can treat
// the validators polymorphically.
//
// All types are safe for concurrent use once constructed.
package auth
