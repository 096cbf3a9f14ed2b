package gate

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/firstech/identity-core/pkg/auth"
	sserr "github.com/firstech/identity-core/pkg/errors"
)

// errorBody is the JSON error response.
type errorBody struct {
	Code    sserr.Code `json:"code"`
	Message string     `json:"message"`
	TraceID string     `json:"trace_id,omitempty"`
}

// HTTPMiddleware authenticates every request with g.
//
// Requests without credentials continue anonymously. Any other failure
// ends the request with a JSON error and the status of the error code.
// On success the user, which may be nil for an unknown identity, is stored
// in the request context.
func HTTPMiddleware(g *Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			user, err := g.Authenticate(ctx, r.Header.Get(auth.HeaderAuthorization))
			switch {
			case sserr.IsMissingCredentials(err):
				next.ServeHTTP(w, r)
				return
			case err != nil:
				g.logger.DebugContext(ctx, "gate: request rejected",
					"method", r.Method,
					"path", r.URL.Path,
					"error", err,
				)
				WriteError(w, r, err)
				return
			}
			if user != nil {
				ctx = ContextWithUser(ctx, user)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WriteError writes err as a JSON error response. Internal failures are
// reported without their message.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	e := sserr.FromError(err)
	status := e.HTTPStatus()

	body := errorBody{Code: e.Code, Message: e.Message}
	if status >= http.StatusInternalServerError {
		body.Message = http.StatusText(status)
	}
	if id, ok := TraceIDFromContext(r.Context()); ok {
		body.TraceID = id
	}

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="identity"`)
	}
	writeJSON(w, r, status, body)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.WarnContext(r.Context(), "gate: failed to write response",
			"error", err,
		)
	}
}
