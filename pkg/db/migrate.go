package db

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"run-route/pkg/config"
	"run-route/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// MigrateUp applies every pending migration found at the root of fsys.
// An already current schema is not an error.
func MigrateUp(cfg *config.Config, fsys fs.FS, log logger.Logger) error {
	m, err := newMigrate(cfg, fsys, log)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	log.WithFields(logger.LogFields{
		"version": version,
		"dirty":   dirty,
	}).Info("db_migrated", "Database schema is current")
	return nil
}

func newMigrate(cfg *config.Config, fsys fs.FS, log logger.Logger) (*migrate.Migrate, error) {
	src, err := iofs.New(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, cfg.MigrationURL())
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{log: log}
	return m, nil
}

// migrateLogger routes golang-migrate output into the service log.
type migrateLogger struct {
	log logger.Logger
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.log.Debug("db_migrate", strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLogger) Verbose() bool {
	return false
}
