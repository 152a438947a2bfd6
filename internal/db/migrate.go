package db

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog/log"
)

// Migrate applies every pending migration found in dir to the database at connString.
func Migrate(connString, dir string) error {
	m, err := migrate.New("file://"+dir, connString)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info().Msg("database schema is up to date")
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return reportVersion(m)
}

type versioner interface {
	Version() (version uint, dirty bool, err error)
}

// reportVersion logs the schema version after a successful Up. An unreadable version
// is only logged; a dirty one fails the migration.
func reportVersion(m versioner) error {
	version, dirty, err := m.Version()
	if err != nil {
		log.Warn().Err(err).Msg("applied database migrations but could not read the schema version")
		return nil
	}
	if dirty {
		return fmt.Errorf("database schema version %d is dirty after migrating", version)
	}

	log.Info().Uint("version", version).Msg("applied database migrations")
	return nil
}
