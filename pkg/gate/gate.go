// Package gate authenticates inbound requests.
//
// A [Gate] takes the raw Authorization header, extracts the bearer token,
// validates it against the configured trust sources, resolves the claims to
// a local user and then applies two lockout checks on the user's directory
// profile:
//
//   - installers attached to a retired dealer fail with AUTHZ_004;
//   - tokens issued before the user's latest global logout fail with
//     AUTH_006 and must be refreshed.
//
// A valid token for an identity that neither the local store nor the
// directory knows yields a nil user and a nil error. Callers treat that as
// anonymous.
//
// [HTTPMiddleware], [UnaryServerInterceptor] and [StreamServerInterceptor]
// adapt the gate to net/http and gRPC and store the user in the request
// context; [UserFromContext] reads it back.
package gate

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/firstech/identity-core/pkg/auth"
	sserr "github.com/firstech/identity-core/pkg/errors"
	"github.com/firstech/identity-core/pkg/identity"
)

// Resolver maps credentials to a local user. [*identity.Reconciler]
// implements it.
type Resolver interface {
	Reconcile(ctx context.Context, creds identity.Credentials) (*identity.User, error)
}

// Gate authenticates bearer credentials.
type Gate struct {
	validator auth.TokenValidator
	resolver  Resolver
	logger    *slog.Logger
}

// Option configures a [Gate].
type Option func(*Gate)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// New returns a gate. validator is normally an [*auth.CompositeValidator].
func New(validator auth.TokenValidator, resolver Resolver, opts ...Option) *Gate {
	g := &Gate{
		validator: validator,
		resolver:  resolver,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authenticate resolves the Authorization header value to a user.
//
// Failures are *errors.Error values: AUTH_004 when no credentials are
// present, AUTH_005 for a malformed header, AUTH_003 when no trust source
// accepts the token, AUTHZ_004 and AUTH_006 for the lockout checks, and
// whatever the store or directory reported when resolution fails.
func (g *Gate) Authenticate(ctx context.Context, header string) (*identity.User, error) {
	ctx, span := startSpan(ctx, "gate.Authenticate")
	defer span.End()

	user, err := g.authenticate(ctx, header)
	if err != nil {
		span.SetAttributes(attribute.String("gate.error_code", string(sserr.GetCode(err))))
		if !sserr.IsMissingCredentials(err) {
			finishSpan(span, err)
		}
		return nil, err
	}
	if user != nil {
		span.SetAttributes(attribute.String("gate.user_id", user.ID.String()))
	}
	return user, nil
}

func (g *Gate) authenticate(ctx context.Context, header string) (*identity.User, error) {
	token, err := auth.ExtractBearerToken(header)
	if err != nil {
		return nil, err
	}

	claims, err := g.validator.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	creds := CredentialsFromClaims(claims)
	user, err := g.resolver.Reconcile(ctx, creds)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Profile == nil {
		return user, nil
	}

	if user.Profile.RetiredDealer() {
		g.logger.WarnContext(ctx, "gate: rejected installer of retired dealer",
			"user_id", user.ID.String(),
			"dealer_id", *user.Profile.DealerID,
		)
		return nil, sserr.InvalidUser("gate: installer belongs to a retired dealer")
	}
	if user.Profile.RevokedBefore(creds.IssuedTime()) {
		g.logger.InfoContext(ctx, "gate: rejected token issued before global logout",
			"user_id", user.ID.String(),
		)
		return nil, sserr.StaleCredentials()
	}
	return user, nil
}

// CredentialsFromClaims derives reconciliation input from validated claims.
// Internal tokens carry the email as their subject and have no directory
// subject. Directory tokens carry both; access tokens have no email.
func CredentialsFromClaims(c auth.Claims) identity.Credentials {
	creds := identity.Credentials{IssuedAt: c.IssuedAt()}
	if c.Issuer() == auth.InternalIssuer {
		creds.Email = c.Subject()
		return creds
	}
	creds.Email = c.Email()
	creds.Subject = c.Subject()
	return creds
}
