package database

import (
	"embed"
	"errors"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	// pgx/v5 driver for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/samber/oops"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type migrateIface interface {
	Up() error
	Version() (version uint, dirty bool, err error)
	Close() (source error, database error)
}

// Migrator applies the embedded schema migrations.
type Migrator struct {
	m   migrateIface
	log *zap.Logger
}

// NewMigrator accepts a postgres:// or postgresql:// URL and rewrites it to the
// pgx5:// scheme expected by the migrate driver.
func NewMigrator(databaseURL string, log *zap.Logger) (*Migrator, error) {
	if log == nil {
		log = zap.NewNop()
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, oops.Code("MIGRATION_SOURCE_FAILED").With("operation", "create migration source").Wrap(err)
	}

	migrateURL := databaseURL
	if rest, found := strings.CutPrefix(databaseURL, "postgres://"); found {
		migrateURL = "pgx5://" + rest
	} else if rest, found := strings.CutPrefix(databaseURL, "postgresql://"); found {
		migrateURL = "pgx5://" + rest
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL)
	if err != nil {
		_ = source.Close()
		return nil, oops.Code("MIGRATION_INIT_FAILED").With("operation", "initialize migrator").Wrap(err)
	}

	return &Migrator{m: m, log: log}, nil
}

// Up applies all pending migrations. A dirty schema is reported instead of
// migrated over.
func (m *Migrator) Up() error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if dirty {
		return oops.Code("MIGRATION_DIRTY").With("version", version).Errorf("schema is dirty at version %d", version)
	}

	if err := m.m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.log.Debug("schema up to date", zap.Uint("version", version))
			return nil
		}
		return oops.Code("MIGRATION_UP_FAILED").Wrap(err)
	}

	current, _, err := m.Version()
	if err != nil {
		return err
	}
	m.log.Info("schema migrated", zap.Uint("from_version", version), zap.Uint("to_version", current))
	return nil
}

// Version returns 0 with dirty=false when nothing has been applied yet.
func (m *Migrator) Version() (version uint, dirty bool, err error) {
	version, dirty, err = m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, oops.Code("MIGRATION_VERSION_FAILED").Wrap(err)
	}
	return version, dirty, nil
}

func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	if srcErr != nil {
		return oops.Code("MIGRATION_CLOSE_FAILED").With("component", "source").Wrap(srcErr)
	}
	if dbErr != nil {
		return oops.Code("MIGRATION_CLOSE_FAILED").With("component", "database").Wrap(dbErr)
	}
	return nil
}
