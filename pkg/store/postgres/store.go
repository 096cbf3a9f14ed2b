// Package postgres implements [identity.Store] on PostgreSQL.
//
// Uniqueness rules are enforced by the schema in migrations/: one email per
// user, one profile per user, and unique external user ids, non-empty
// subjects and non-null installer ids. Violations surface as CONF_002 so
// the reconciler can retry a lost creation race.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	sserr "github.com/firstech/identity-core/pkg/errors"
	"github.com/firstech/identity-core/pkg/identity"
)

// DB is the part of the postgres client the store uses.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	InTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// Store is safe for concurrent use.
type Store struct {
	db     DB
	logger *slog.Logger
	now    func() time.Time
}

var _ identity.Store = (*Store)(nil)

// Option configures a [Store].
type Option func(*Store)

// WithLogger sets the logger used for migrations.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the clock used for created_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a store over db, usually a *postgres.Client.
func New(db DB, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const selectUser = `SELECT u.id, u.email, u.first_name, u.last_name, u.is_staff, u.created_at,
       p.id, p.external_user_id, p.subject, p.phone_number, p.latest_global_logout,
       p.refreshed_at, p.installer_id, p.dealer_id, p.dealer_retired_at, p.company_owner
FROM users u
LEFT JOIN profiles p ON p.user_id = u.id`

// FindUserBySubject returns the user whose profile carries subject, with
// the profile loaded. An empty subject never matches.
func (s *Store) FindUserBySubject(ctx context.Context, subject string) (*identity.User, error) {
	if subject == "" {
		return nil, userNotFound(nil)
	}
	return s.findUser(ctx, selectUser+` WHERE p.subject = $1`, subject)
}

// FindUserByEmail returns the user with email and its profile, if any.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*identity.User, error) {
	return s.findUser(ctx, selectUser+` WHERE u.email = $1`, email)
}

// findUser scans one row of selectUser. The profile columns are NULL when
// the user has no profile, in which case Profile stays nil.
func (s *Store) findUser(ctx context.Context, sql string, arg string) (*identity.User, error) {
	var (
		u  identity.User
		pr struct {
			ID                 *uuid.UUID
			ExternalUserID     *int64
			Subject            *string
			PhoneNumber        *string
			LatestGlobalLogout *time.Time
			RefreshedAt        *time.Time
			InstallerID        *int64
			DealerID           *int64
			DealerRetiredAt    *time.Time
			CompanyOwner       *bool
		}
	)
	err := s.db.QueryRow(ctx, sql, arg).Scan(
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.IsStaff, &u.CreatedAt,
		&pr.ID, &pr.ExternalUserID, &pr.Subject, &pr.PhoneNumber, &pr.LatestGlobalLogout,
		&pr.RefreshedAt, &pr.InstallerID, &pr.DealerID, &pr.DealerRetiredAt, &pr.CompanyOwner,
	)
	if sserr.IsNotFound(err) {
		return nil, userNotFound(err)
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = identity.Truncate(u.CreatedAt)

	if pr.ID != nil {
		u.Profile = &identity.Profile{
			ID:                 *pr.ID,
			UserID:             u.ID,
			ExternalUserID:     deref(pr.ExternalUserID),
			Subject:            deref(pr.Subject),
			PhoneNumber:        deref(pr.PhoneNumber),
			LatestGlobalLogout: identity.NormalizeTime(pr.LatestGlobalLogout),
			RefreshedAt:        identity.Truncate(deref(pr.RefreshedAt)),
			InstallerID:        pr.InstallerID,
			DealerID:           pr.DealerID,
			DealerRetiredAt:    identity.NormalizeTime(pr.DealerRetiredAt),
			CompanyOwner:       pr.CompanyOwner,
		}
	}
	return &u, nil
}

// execer is satisfied by [DB] and by pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	sqlInsertUser = `INSERT INTO users (id, email, first_name, last_name, is_staff, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	sqlInsertProfile = `INSERT INTO profiles (id, user_id, external_user_id, subject, phone_number,
    latest_global_logout, refreshed_at, installer_id, dealer_id, dealer_retired_at, company_owner)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
)

// CreateUser inserts u, assigning ID and CreatedAt when zero. A taken email
// fails with CONF_002.
func (s *Store) CreateUser(ctx context.Context, u *identity.User) error {
	return s.insertUser(ctx, s.db, u)
}

// CreateIdentity inserts u and p in one transaction, so a uniqueness
// violation on the profile rolls back the user row as well.
func (s *Store) CreateIdentity(ctx context.Context, u *identity.User, p *identity.Profile) error {
	return s.db.InTx(ctx, func(tx pgx.Tx) error {
		if err := s.insertUser(ctx, tx, u); err != nil {
			return err
		}
		p.UserID = u.ID
		return insertProfile(ctx, tx, p)
	})
}

// CreateProfile inserts p for an existing user. It fails with CONF_002 on a
// uniqueness violation and NF_001 when the user row does not exist.
func (s *Store) CreateProfile(ctx context.Context, p *identity.Profile) error {
	err := insertProfile(ctx, s.db, p)
	// A foreign key violation means the user row is gone.
	if sserr.HasCode(err, sserr.CodeConflict) {
		return sserr.NotFoundf("store: user %s does not exist", p.UserID)
	}
	return err
}

// insertUser assigns ID and CreatedAt when zero and inserts u through db.
func (s *Store) insertUser(ctx context.Context, db execer, u *identity.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = identity.Truncate(s.now())
	}
	_, err := db.Exec(ctx, sqlInsertUser, u.ID, u.Email, u.FirstName, u.LastName, u.IsStaff, u.CreatedAt)
	return err
}

// insertProfile assigns ID when zero and inserts p through db.
func insertProfile(ctx context.Context, db execer, p *identity.Profile) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := db.Exec(ctx, sqlInsertProfile,
		p.ID, p.UserID, p.ExternalUserID, p.Subject, p.PhoneNumber,
		p.LatestGlobalLogout, p.RefreshedAt, p.InstallerID, p.DealerID, p.DealerRetiredAt, p.CompanyOwner)
	return err
}

// UpdateUser writes the named user fields. Unknown fields fail with VAL_001
// before anything is written.
func (s *Store) UpdateUser(ctx context.Context, u *identity.User, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	values := make([]any, 0, len(fields)+1)
	for _, f := range fields {
		switch f {
		case identity.FieldEmail:
			values = append(values, u.Email)
		case identity.FieldFirstName:
			values = append(values, u.FirstName)
		case identity.FieldLastName:
			values = append(values, u.LastName)
		case identity.FieldIsStaff:
			values = append(values, u.IsStaff)
		default:
			return sserr.Validationf("store: unknown user field %q", f)
		}
	}
	return s.update(ctx, "users", fields, values, u.ID, userNotFound(nil))
}

// UpdateProfile writes the named profile fields of the profile with p.ID.
func (s *Store) UpdateProfile(ctx context.Context, p *identity.Profile, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	values := make([]any, 0, len(fields)+1)
	for _, f := range fields {
		switch f {
		case identity.FieldExternalUserID:
			values = append(values, p.ExternalUserID)
		case identity.FieldSubject:
			values = append(values, p.Subject)
		case identity.FieldPhoneNumber:
			values = append(values, p.PhoneNumber)
		case identity.FieldLatestGlobalLogout:
			values = append(values, p.LatestGlobalLogout)
		case identity.FieldRefreshedAt:
			values = append(values, p.RefreshedAt)
		case identity.FieldInstallerID:
			values = append(values, p.InstallerID)
		case identity.FieldDealerID:
			values = append(values, p.DealerID)
		case identity.FieldDealerRetiredAt:
			values = append(values, p.DealerRetiredAt)
		case identity.FieldCompanyOwner:
			values = append(values, p.CompanyOwner)
		default:
			return sserr.Validationf("store: unknown profile field %q", f)
		}
	}
	return s.update(ctx, "profiles", fields, values, p.ID,
		sserr.NotFoundf("store: profile %s does not exist", p.ID))
}

// update writes the named columns. Column names come from the identity
// field constants checked by the callers, never from input.
func (s *Store) update(ctx context.Context, table string, fields []string, values []any, id uuid.UUID, notFound error) error {
	set := make([]string, len(fields))
	for i, f := range fields {
		set[i] = fmt.Sprintf("%s = $%d", f, i+1)
	}
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", table, strings.Join(set, ", "), len(fields)+1)

	tag, err := s.db.Exec(ctx, sql, append(values, id)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound
	}
	return nil
}

// userNotFound builds the NF_002 returned by the finders.
func userNotFound(cause error) *sserr.Error {
	return &sserr.Error{Code: sserr.CodeNotFoundUser, Message: "store: user not found", Cause: cause}
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
