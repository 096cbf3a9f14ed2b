package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"

	sserr "github.com/firstech/identity-core/pkg/errors"
)

// InternalIssuer is the iss and aud value of tokens minted by trusted
// internal systems.
const InternalIssuer = "internal"

// maxTokenSize bounds the token length accepted before parsing.
const maxTokenSize = 8192

// TokenValidator accepts one kind of bearer token. Every rejection is a
// *errors.Error with code AUTH_003.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (Claims, error)
}

// Scheme names used in logs and span attributes.
const (
	SchemeInternal        = "internal"
	SchemeDirectoryID     = "directory_id"
	SchemeDirectoryAccess = "directory_access"
)

// KeyResolver resolves a kid to a verification key. [*KeySetCache] is the
// production implementation.
type KeyResolver interface {
	Key(ctx context.Context, kid string) (any, error)
}

// InternalValidator verifies HS256 tokens signed with a shared secret. Issuer
// and audience must both be "internal" and sub must be present. exp is
// checked when present; internal tokens are long-lived and may omit it.
type InternalValidator struct {
	secret Secret
	leeway time.Duration
}

// NewInternalValidator returns a validator for tokens signed with secret.
func NewInternalValidator(secret Secret, leeway time.Duration) *InternalValidator {
	return &InternalValidator{secret: secret, leeway: leeway}
}

// Validate verifies an HS256 token signed with the shared secret and
// returns its claims. Failures are TokenInvalid.
func (v *InternalValidator) Validate(ctx context.Context, token string) (Claims, error) {
	_, span := startSpan(ctx, "auth.InternalValidator.Validate")
	defer span.End()

	claims, err := parse(token, func(*jwt.Token) (any, error) {
		return []byte(v.secret.Value()), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(InternalIssuer),
		jwt.WithAudience(InternalIssuer),
		jwt.WithLeeway(v.leeway),
	)
	if err == nil {
		err = requireClaims(claims, ClaimSubject)
	}
	if err != nil {
		err = classifyError(SchemeInternal, err)
		finishSpan(span, err)
		return nil, err
	}
	return claims, nil
}

// DirectoryIDValidator verifies RS256 identity tokens issued by the external
// directory's user pool. The audience is not checked.
type DirectoryIDValidator struct {
	issuer string
	keys   KeyResolver
	leeway time.Duration
}

// DirectoryIDRequiredClaims are the claims an identity token must carry.
var DirectoryIDRequiredClaims = []string{
	ClaimSubject, ClaimIssuer, ClaimDirectoryUsername, ClaimEmail, ClaimPhoneNumber, ClaimIssuedAt,
}

// NewDirectoryIDValidator returns a validator for tokens whose iss equals
// issuer, verified with keys from keys.
func NewDirectoryIDValidator(issuer string, keys KeyResolver, leeway time.Duration) *DirectoryIDValidator {
	return &DirectoryIDValidator{issuer: issuer, keys: keys, leeway: leeway}
}

// Issuer returns the expected iss claim.
func (v *DirectoryIDValidator) Issuer() string { return v.issuer }

// Validate verifies an RS256 identity token from the directory issuer. The
// kid must resolve to a published key and the identity claims must be
// present; no audience is checked. Failures are TokenInvalid.
func (v *DirectoryIDValidator) Validate(ctx context.Context, token string) (Claims, error) {
	ctx, span := startSpan(ctx, "auth.DirectoryIDValidator.Validate")
	defer span.End()

	claims, err := v.verify(ctx, token)
	if err == nil {
		err = requireClaims(claims, DirectoryIDRequiredClaims...)
	}
	if err != nil {
		err = classifyError(SchemeDirectoryID, err)
		finishSpan(span, err)
		return nil, err
	}
	return claims, nil
}

// verify checks signature, issuer and time claims.
func (v *DirectoryIDValidator) verify(ctx context.Context, token string) (Claims, error) {
	return parse(token, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return v.keys.Key(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithLeeway(v.leeway),
	)
}

// DirectoryAccessValidator verifies OAuth access tokens from the same user
// pool as [DirectoryIDValidator] and additionally requires client_id to
// match the configured application client.
type DirectoryAccessValidator struct {
	id       *DirectoryIDValidator
	clientID string
}

// DirectoryAccessRequiredClaims are the claims an access token must carry.
var DirectoryAccessRequiredClaims = []string{ClaimSubject, ClaimIssuer, ClaimUsername}

// NewDirectoryAccessValidator returns a validator for access tokens issued
// to clientID.
func NewDirectoryAccessValidator(issuer, clientID string, keys KeyResolver, leeway time.Duration) *DirectoryAccessValidator {
	return &DirectoryAccessValidator{
		id:       NewDirectoryIDValidator(issuer, keys, leeway),
		clientID: clientID,
	}
}

// Validate verifies an RS256 access token from the directory issuer issued
// to the configured client id. Failures are TokenInvalid.
func (v *DirectoryAccessValidator) Validate(ctx context.Context, token string) (Claims, error) {
	ctx, span := startSpan(ctx, "auth.DirectoryAccessValidator.Validate")
	defer span.End()

	claims, err := v.id.verify(ctx, token)
	if err == nil {
		err = requireClaims(claims, DirectoryAccessRequiredClaims...)
	}
	if err == nil && claims.String(ClaimClientID) != v.clientID {
		err = sserr.TokenInvalid(nil, "auth: token was issued to a different client")
	}
	if err != nil {
		err = classifyError(SchemeDirectoryAccess, err)
		finishSpan(span, err)
		return nil, err
	}
	return claims, nil
}

func parse(token string, keyFunc jwt.Keyfunc, opts ...jwt.ParserOption) (Claims, error) {
	if token == "" {
		return nil, sserr.TokenInvalid(nil, "auth: token must not be empty")
	}
	if len(token) > maxTokenSize {
		return nil, sserr.TokenInvalid(nil, "auth: token exceeds maximum size")
	}

	mc := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(token, mc, keyFunc, opts...); err != nil {
		return nil, err
	}
	return Claims(mc), nil
}

func requireClaims(claims Claims, names ...string) error {
	if missing := claims.Missing(names...); len(missing) > 0 {
		return sserr.TokenInvalid(nil, "auth: token is missing required claims").
			WithDetail("missing", strings.Join(missing, ","))
	}
	return nil
}

// classifyError maps jwt and key resolution failures to TokenInvalid,
// keeping the original error as the cause.
func classifyError(scheme string, err error) *sserr.Error {
	if err == nil {
		return nil
	}

	var domain *sserr.Error
	if errors.As(err, &domain) {
		if domain.Code == sserr.CodeAuthenticationInvalid {
			return domain.WithDetail("scheme", scheme)
		}
		// Key source outages surface as TokenInvalid for this scheme only.
		return sserr.TokenInvalid(err, "auth: signing key unavailable").WithDetail("scheme", scheme)
	}

	msg := "auth: token validation failed"
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		msg = "auth: token has expired"
	case errors.Is(err, jwt.ErrTokenMalformed):
		msg = "auth: token is malformed"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		msg = "auth: token signature is invalid"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		msg = "auth: token is unverifiable"
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		msg = "auth: token is not yet valid"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		msg = "auth: token audience is invalid"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		msg = "auth: token issuer is invalid"
	case errors.Is(err, jwt.ErrTokenInvalidClaims):
		msg = "auth: token claims are invalid"
	}
	return sserr.TokenInvalid(err, msg).WithDetail("scheme", scheme)
}

// DirectoryIssuer builds the issuer URL of a user pool.
func DirectoryIssuer(host, region, poolID string) string {
	return fmt.Sprintf("https://%s/%s/%s", strings.TrimRight(host, "/"), region, poolID)
}

func schemeAttr(scheme string) attribute.KeyValue {
	return attribute.String("auth.scheme", scheme)
}
