package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// MigrationTable records applied ledger migrations.
const MigrationTable = "schema_migrations"

// Migrate applies pending ledger migrations.
func (s *Store) Migrate(ctx context.Context) error {
	dialect := goose.DialectSQLite3
	if s.driver == DriverPostgres {
		dialect = goose.DialectPostgres
	}

	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(dialect, s.db, fsys,
		goose.WithTableName(MigrationTable),
		goose.WithSlog(s.logger),
	)
	if err != nil {
		return fmt.Errorf("migration setup: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}
	for _, r := range results {
		s.logger.Info("applied ledger migration", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// Version returns the current ledger schema version.
func (s *Store) Version(ctx context.Context) (int64, error) {
	dialect := goose.DialectSQLite3
	if s.driver == DriverPostgres {
		dialect = goose.DialectPostgres
	}
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return 0, err
	}
	provider, err := goose.NewProvider(dialect, s.db, fsys, goose.WithTableName(MigrationTable))
	if err != nil {
		return 0, err
	}
	return provider.GetDBVersion(ctx)
}
