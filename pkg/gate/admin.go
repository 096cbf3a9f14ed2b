package gate

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	sserr "github.com/firstech/identity-core/pkg/errors"
	"github.com/firstech/identity-core/pkg/identity"
)

// RefreshPath is where the gateway mounts [RefreshHandler].
const RefreshPath = "/admin/identity/refresh"

// Refresher forces a directory refresh. [*identity.Reconciler] implements
// it.
type Refresher interface {
	Refresh(ctx context.Context, email string) (*identity.User, error)
}

type refreshRequest struct {
	Email string `json:"email"`
}

// RequireStaff rejects anonymous requests with 401 and non-staff users with
// 403. It must run behind [HTTPMiddleware].
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		caller, ok := UserFromContext(req.Context())
		if !ok {
			WriteError(w, req, sserr.MissingCredentials())
			return
		}
		if !caller.IsStaff {
			WriteError(w, req, sserr.New(sserr.CodeAuthorizationDenied, "gate: staff access required"))
			return
		}
		next.ServeHTTP(w, req)
	})
}

// RefreshHandler serves POST {"email": "..."} and re-reads that user's
// directory record, linking it first if needed. It must run behind
// [HTTPMiddleware]; only staff users may call it.
func RefreshHandler(r Refresher) http.Handler {
	return RequireStaff(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSON(w, req, http.StatusMethodNotAllowed, errorBody{
				Code:    sserr.CodeValidation,
				Message: "gate: method not allowed",
			})
			return
		}
		caller := MustUserFromContext(req.Context())

		var body refreshRequest
		if err := json.NewDecoder(io.LimitReader(req.Body, 4096)).Decode(&body); err != nil {
			WriteError(w, req, sserr.Validationf("gate: invalid request body: %v", err))
			return
		}

		user, err := r.Refresh(req.Context(), body.Email)
		if err != nil {
			WriteError(w, req, err)
			return
		}
		slog.InfoContext(req.Context(), "gate: identity refreshed by staff",
			"caller_id", caller.ID.String(),
			"user_id", user.ID.String(),
		)
		writeJSON(w, req, http.StatusOK, user)
	}))
}
