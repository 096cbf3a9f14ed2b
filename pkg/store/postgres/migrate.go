package postgres

import (
	"context"
	"embed"
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"

	sserr "github.com/firstech/identity-core/pkg/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationsFS returns the embedded schema migrations, one file per
// version, applied in lexical order.
func MigrationsFS() fs.FS {
	return migrationsFS
}

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    text PRIMARY KEY,
    applied_at timestamptz NOT NULL DEFAULT now()
)`

// Migrate applies every embedded migration not yet recorded in
// schema_migrations. Each migration runs in its own transaction.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createMigrationsTable); err != nil {
		return err
	}

	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "store: list migrations")
	}
	slices.Sort(names)

	for _, name := range names {
		version := strings.TrimSuffix(path.Base(name), ".sql")
		body, err := migrationsFS.ReadFile(name)
		if err != nil {
			return sserr.Wrapf(err, sserr.CodeInternal, "store: read migration %s", version)
		}
		// The version row is inserted first so that concurrent replicas
		// serialize on its primary key; the one that inserts no row skips
		// the body.
		applied := false
		err = s.db.InTx(ctx, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, version)
			if err != nil || tag.RowsAffected() == 0 {
				return err
			}
			_, err = tx.Exec(ctx, string(body))
			applied = err == nil
			return err
		})
		if err != nil {
			return err
		}
		if applied {
			s.logger.Info("store: migration applied", "version", version)
		}
	}
	return nil
}
