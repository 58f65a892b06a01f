package db

import (
	"cmp"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/justestif/moodtune/internal/logging"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	migrationMaxRetries = 3
	migrationBackoff    = 100 * time.Millisecond
)

var retryablePgErrorCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
}

// Migration is one embedded schema file.
type Migration struct {
	Version string
	SQL     string
}

// Migrations returns the embedded migrations in apply order.
func Migrations() ([]Migration, error) {
	return loadMigrations(migrationFS, "migrations")
}

func loadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	var out []Migration
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		contents, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		out = append(out, Migration{Version: entry.Name(), SQL: string(contents)})
	}
	slices.SortFunc(out, func(a, b Migration) int {
		return cmp.Compare(a.Version, b.Version)
	})
	return out, nil
}

// Migrate applies every embedded migration not yet recorded in
// schema_migrations. Each runs in its own serializable transaction.
func (db *DB) Migrate(ctx context.Context) error {
	migrations, err := Migrations()
	if err != nil {
		return err
	}

	if _, err := db.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		return fmt.Errorf("ensuring schema_migrations table: %w", err)
	}

	rows, err := db.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("fetching applied migrations: %w", err)
	}
	applied, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("scanning applied migrations: %w", err)
	}

	logger := logging.FromContext(ctx)
	for _, m := range pending(migrations, applied) {
		if err := db.applyWithRetry(ctx, m); err != nil {
			return err
		}
		logger.Info("applied migration", slog.String("version", m.Version))
	}
	return nil
}

func pending(all []Migration, applied []string) []Migration {
	var out []Migration
	for _, m := range all {
		if !slices.Contains(applied, m.Version) {
			out = append(out, m)
		}
	}
	return out
}

func (db *DB) applyWithRetry(ctx context.Context, m Migration) error {
	var lastErr error
	for attempt := range migrationMaxRetries {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(1<<(attempt-1)) * migrationBackoff):
			}
		}

		lastErr = pgx.BeginTxFunc(ctx, db.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.Version)
			return err
		})
		if lastErr == nil {
			return nil
		}
		if !shouldRetryMigration(lastErr) {
			break
		}
		logging.FromContext(ctx).Warn("transient migration error",
			slog.String("version", m.Version),
			slog.Int("attempt", attempt+1),
			slog.Any("error", lastErr),
		)
	}
	return fmt.Errorf("applying migration %s: %w", m.Version, lastErr)
}

func shouldRetryMigration(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	_, ok := retryablePgErrorCodes[pgErr.Code]
	return ok
}
