package pgx

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lborres/ironauth/core"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Adapter struct {
	pool *pgxpool.Pool
}

var _ core.Adapter = (*Adapter)(nil)

func New(pool *pgxpool.Pool) *Adapter {
	return &Adapter{
		pool: pool,
	}
}

// Migrate applies the embedded schema migrations that have not run yet, one
// transaction per file.
func (a *Adapter) Migrate(ctx context.Context) error {
	if _, err := a.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS public.ironauth_migrations (version text PRIMARY KEY)`); err != nil {
		return fmt.Errorf("create ironauth_migrations: %w", err)
	}

	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)

	for _, name := range files {
		script, err := migrationsFS.ReadFile(name)
		if err != nil {
			return err
		}

		err = pgx.BeginFunc(ctx, a.pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `INSERT INTO public.ironauth_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, name)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return nil
			}
			_, err = tx.Exec(ctx, string(script))
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
	}
	return nil
}
