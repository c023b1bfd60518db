package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunMigrations brings the session, comment, chat and queue tables up to the
// schema embedded in the binary. Applied versions are skipped, so every
// command may call it on open. A database left dirty by an interrupted
// migration is reported as unavailable.
func RunMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return unavailable("create migration db driver", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return unavailable("run migrations", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return unavailable("read schema version", err)
	}
	if dirty {
		return unavailable("read schema version", fmt.Errorf("schema version %d is dirty", version))
	}
	slog.Debug("schema up to date", "version", version)

	return nil
}
