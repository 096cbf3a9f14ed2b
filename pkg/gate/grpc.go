package gate

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/firstech/identity-core/pkg/auth"
	sserr "github.com/firstech/identity-core/pkg/errors"
)

// UnaryServerInterceptor authenticates unary calls from the "authorization"
// metadata key. Calls without credentials continue anonymously.
func UnaryServerInterceptor(g *Gate) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		_ *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := authenticateGRPC(ctx, g)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming form of [UnaryServerInterceptor].
func StreamServerInterceptor(g *Gate) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		_ *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := authenticateGRPC(ss.Context(), g)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

// authenticateGRPC reads the first authorization metadata value and runs it
// through the gate. Missing credentials and unknown identities leave ctx
// anonymous; every other failure becomes a gRPC status.
func authenticateGRPC(ctx context.Context, g *Gate) (context.Context, error) {
	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(auth.HeaderAuthorization); len(vals) > 0 {
			header = vals[0]
		}
	}

	user, err := g.Authenticate(ctx, header)
	switch {
	case sserr.IsMissingCredentials(err):
		return ctx, nil
	case err != nil:
		g.logger.DebugContext(ctx, "gate: call rejected", "error", err)
		return ctx, StatusFromError(err)
	case user != nil:
		ctx = ContextWithUser(ctx, user)
	}
	return ctx, nil
}

// StatusFromError converts err to a gRPC status. Internal failures are
// reported without their message.
func StatusFromError(err error) error {
	e := sserr.FromError(err)
	var code codes.Code
	switch {
	case sserr.IsAuthentication(e):
		code = codes.Unauthenticated
	case sserr.IsAuthorization(e):
		code = codes.PermissionDenied
	case sserr.IsValidation(e):
		code = codes.InvalidArgument
	case sserr.IsNotFound(e):
		code = codes.NotFound
	case sserr.IsConflict(e):
		// Aborted tells the client the call may succeed if retried.
		code = codes.Aborted
	case sserr.IsUnavailable(e):
		code = codes.Unavailable
	case sserr.IsTimeout(e):
		code = codes.DeadlineExceeded
	default:
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, e.Message)
}

// wrappedServerStream overrides Context so handlers see the user.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the context carrying the authenticated user.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
