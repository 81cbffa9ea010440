package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrator is the subset of *migrate.Migrate used by the server and the migration tools.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Version() (version uint, dirty bool, err error)
}

// Source returns the embedded migration files as a golang-migrate source driver.
func Source() (source.Driver, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}
	return src, nil
}

// Overridden in tests so no real Postgres is needed.
var withPostgresInstance = func(db *sql.DB) (migratedb.Driver, error) {
	return postgres.WithInstance(db, &postgres.Config{})
}

// NewMigrator builds a migrator over the embedded migrations and an open handle.
func NewMigrator(db *sql.DB) (Migrator, error) {
	src, err := Source()
	if err != nil {
		return nil, err
	}
	driver, err := withPostgresInstance(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}

// RunMigrations applies all pending migrations. An up-to-date schema is not an error.
func RunMigrations(db *sql.DB) error {
	m, err := NewMigrator(db)
	if err != nil {
		return err
	}
	return Apply(m, "up", 0)
}

// Apply runs the migrator in the given direction. steps=0 means all the way.
func Apply(m Migrator, direction string, steps int) error {
	if err := apply(m, direction, steps); !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func apply(m Migrator, direction string, steps int) error {
	switch direction {
	case "up":
		if steps > 0 {
			return m.Steps(steps)
		}
		return m.Up()
	case "down":
		if steps > 0 {
			return m.Steps(-steps)
		}
		return m.Down()
	default:
		return fmt.Errorf("invalid direction: %s (must be 'up' or 'down')", direction)
	}
}

// Options drives Run. Force >= 0 sets the version outright; ForceDirty clears a dirty
// state at the current version. Either one skips the normal migration.
type Options struct {
	Direction  string
	Steps      int
	Force      int
	ForceDirty bool
}

// Run carries out o against m and returns a one-line summary for operators.
func Run(m Migrator, o Options) (string, error) {
	if o.ForceDirty {
		v, dirty, err := m.Version()
		if err != nil {
			return "", fmt.Errorf("failed to read migration version: %w", err)
		}
		if !dirty {
			return "Database is not dirty (no force needed)", nil
		}
		if err := m.Force(int(v)); err != nil {
			return "", fmt.Errorf("failed to force dirty version %d: %w", v, err)
		}
		return fmt.Sprintf("Forced dirty database to version %d", v), nil
	}
	if o.Force >= 0 {
		if err := m.Force(o.Force); err != nil {
			return "", fmt.Errorf("failed to force version %d: %w", o.Force, err)
		}
		return fmt.Sprintf("Forced database to version %d", o.Force), nil
	}

	err := apply(m, o.Direction, o.Steps)
	if errors.Is(err, migrate.ErrNoChange) {
		return "No migrations to apply", nil
	}
	if err != nil {
		return "", fmt.Errorf("migration failed: %w", err)
	}
	return fmt.Sprintf("Migration %s completed successfully", o.Direction), nil
}
