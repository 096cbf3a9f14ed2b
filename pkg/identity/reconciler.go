package identity

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	sserr "github.com/firstech/identity-core/pkg/errors"
)

// Reconciler defaults.
const (
	DefaultRefreshInterval = time.Hour
	DefaultMaxAttempts     = 3
)

// Reconciler resolves [Credentials] to a local [User].
//
// Lookup goes by directory subject first, since it never changes, and by
// email second. A user without a profile is linked to the directory record
// for its email; an unknown email with a directory record gets a new user
// and profile. An existing profile is refreshed from the directory when the
// token email differs from the user's, when the token was issued after the
// last refresh, or when the last refresh is older than the refresh interval.
// A refresh writes only the fields that changed and always bumps
// RefreshedAt.
//
// Two requests for the same new identity can race to create it. The store
// rejects the loser with CONF_002. If the directory record is by then linked
// under its subject, the reconciler continues with that user; otherwise it
// runs the lookup again, up to MaxAttempts times, after which it fails with
// CONF_001.
type Reconciler struct {
	store           Store
	directory       Directory
	refreshInterval time.Duration
	maxAttempts     int
	logger          *slog.Logger
	now             func() time.Time
}

// Option configures a [Reconciler].
type Option func(*Reconciler)

// WithRefreshInterval bounds how stale a profile may get.
func WithRefreshInterval(d time.Duration) Option {
	return func(r *Reconciler) { r.refreshInterval = d }
}

// WithMaxAttempts sets how often a conflicting create is retried.
func WithMaxAttempts(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// NewReconciler returns a reconciler over store and directory.
func NewReconciler(store Store, directory Directory, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:           store,
		directory:       directory,
		refreshInterval: DefaultRefreshInterval,
		maxAttempts:     DefaultMaxAttempts,
		logger:          slog.Default(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile returns the user for creds. It returns (nil, nil) when neither
// the store nor the directory knows the identity.
func (r *Reconciler) Reconcile(ctx context.Context, creds Credentials) (*User, error) {
	ctx, span := startSpan(ctx, "identity.Reconciler.Reconcile")
	defer span.End()
	span.SetAttributes(
		attribute.Bool("identity.has_subject", creds.Subject != ""),
		attribute.Bool("identity.has_email", creds.Email != ""),
	)

	u, err := r.retry(ctx, func() (*User, error) {
		return r.reconcile(ctx, creds)
	})
	finishSpan(span, err)
	return u, err
}

// Refresh forces a directory refresh of the user with email, linking it
// first if it has no profile yet. It fails with NF_002 when neither the
// store nor the directory knows email.
func (r *Reconciler) Refresh(ctx context.Context, email string) (*User, error) {
	ctx, span := startSpan(ctx, "identity.Reconciler.Refresh")
	defer span.End()

	if email == "" {
		err := sserr.New(sserr.CodeValidationRequired, "identity: email is required")
		finishSpan(span, err)
		return nil, err
	}

	u, err := r.retry(ctx, func() (*User, error) {
		u, err := r.findByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if u != nil && u.Profile != nil {
			return r.refresh(ctx, u, email)
		}
		return r.link(ctx, u, email)
	})
	if err == nil && u == nil {
		err = sserr.New(sserr.CodeNotFoundUser, "identity: no user or directory record for email")
	}
	finishSpan(span, err)
	return u, err
}

func (r *Reconciler) retry(ctx context.Context, fn func() (*User, error)) (*User, error) {
	for attempt := 1; ; attempt++ {
		u, err := fn()
		if err == nil || !sserr.HasCode(err, sserr.CodeConflictAlreadyExists) {
			return u, err
		}
		if attempt >= r.maxAttempts {
			return nil, sserr.Wrap(err, sserr.CodeConflict, "identity: concurrent updates kept conflicting")
		}
		r.logger.DebugContext(ctx, "identity: lost create race, retrying lookup",
			"attempt", attempt,
			"error", err,
		)
	}
}

func (r *Reconciler) reconcile(ctx context.Context, creds Credentials) (*User, error) {
	var u *User
	if creds.Subject != "" {
		found, err := r.store.FindUserBySubject(ctx, creds.Subject)
		if err != nil && !sserr.IsNotFound(err) {
			return nil, err
		}
		u = found
	}
	if u == nil && creds.Email != "" {
		found, err := r.findByEmail(ctx, creds.Email)
		if err != nil {
			return nil, err
		}
		u = found
	}

	if u == nil || u.Profile == nil {
		return r.link(ctx, u, creds.Email)
	}
	if !r.needsRefresh(u, creds) {
		return u, nil
	}

	email := creds.Email
	if email == "" {
		email = u.Email
	}
	return r.refresh(ctx, u, email)
}

func (r *Reconciler) findByEmail(ctx context.Context, email string) (*User, error) {
	u, err := r.store.FindUserByEmail(ctx, email)
	if sserr.IsNotFound(err) {
		return nil, nil
	}
	return u, err
}

func (r *Reconciler) needsRefresh(u *User, creds Credentials) bool {
	refreshed := u.Profile.RefreshedAt
	switch {
	case creds.Email != "" && u.Email != creds.Email:
		return true
	case creds.IssuedTime().After(refreshed):
		return true
	case r.now().After(refreshed.Add(r.refreshInterval)):
		return true
	}
	return false
}

// link attaches a directory record to u, creating u when nil. Without an
// email or a directory record u is returned as is. A new user and its
// profile are created together, so a rejected link leaves nothing behind.
func (r *Reconciler) link(ctx context.Context, u *User, email string) (*User, error) {
	if email == "" {
		return u, nil
	}
	snap, err := r.directory.LookupByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return u, nil
	}

	if u == nil {
		u = NewUser(email, snap)
		p := NewProfile(uuid.Nil, snap, r.now())
		if err := r.store.CreateIdentity(ctx, u, p); err != nil {
			return r.linkConflict(ctx, snap, err)
		}
		u.Profile = p
		r.logger.InfoContext(ctx, "identity: created user from directory",
			"user_id", u.ID.String(),
			"external_user_id", snap.UserID,
		)
		return u, nil
	}

	p := NewProfile(u.ID, snap, r.now())
	if err := r.store.CreateProfile(ctx, p); err != nil {
		return r.linkConflict(ctx, snap, err)
	}
	u.Profile = p
	r.logger.InfoContext(ctx, "identity: linked directory profile",
		"user_id", u.ID.String(),
		"external_user_id", snap.UserID,
	)
	return u, nil
}

// linkConflict handles a link rejected by the store. When the directory
// record is already linked to a user under its subject, that user is the
// identity and is brought up to date from snap, which also moves it to the
// record's current email. Otherwise err is returned for the retry loop.
func (r *Reconciler) linkConflict(ctx context.Context, snap *Snapshot, err error) (*User, error) {
	if !sserr.HasCode(err, sserr.CodeConflictAlreadyExists) || snap.Subject == "" {
		return nil, err
	}
	owner, ferr := r.store.FindUserBySubject(ctx, snap.Subject)
	if sserr.IsNotFound(ferr) {
		return nil, err
	}
	if ferr != nil {
		return nil, ferr
	}
	r.logger.InfoContext(ctx, "identity: directory record already linked, following subject",
		"user_id", owner.ID.String(),
		"external_user_id", snap.UserID,
	)
	return r.apply(ctx, owner, snap)
}

// refresh re-reads the directory record for email and writes what changed.
// A missing record leaves the user untouched.
func (r *Reconciler) refresh(ctx context.Context, u *User, email string) (*User, error) {
	snap, err := r.directory.LookupByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		r.logger.WarnContext(ctx, "identity: directory has no record for linked user",
			"user_id", u.ID.String(),
		)
		return u, nil
	}
	return r.apply(ctx, u, snap)
}

// apply writes the fields of snap that differ from u and bumps RefreshedAt.
func (r *Reconciler) apply(ctx context.Context, u *User, snap *Snapshot) (*User, error) {
	ch := ApplySnapshot(u, snap)
	u.Profile.RefreshedAt = Truncate(r.now())

	if len(ch.User) > 0 {
		if err := r.store.UpdateUser(ctx, u, ch.User); err != nil {
			return nil, err
		}
	}
	if err := r.store.UpdateProfile(ctx, u.Profile, append(ch.Profile, FieldRefreshedAt)); err != nil {
		return nil, err
	}
	r.logger.DebugContext(ctx, "identity: refreshed profile",
		"user_id", u.ID.String(),
		"user_fields", ch.User,
		"profile_fields", ch.Profile,
	)
	return u, nil
}
