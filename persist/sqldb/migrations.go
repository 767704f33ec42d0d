package sqldb

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql
var sqliteFS embed.FS

//go:embed migrations/postgres/*.sql
var postgresFS embed.FS

type driverFactory func(*sql.DB) (database.Driver, error)

// applyMigrations applies all migrations found in the given migrationFS at
// the given path to the provided database using the given driver factory.
func applyMigrations(db *sql.DB, migrationFS fs.FS, path string, dbName string,
	newDriver driverFactory) error {

	sourceDriver, err := iofs.New(migrationFS, path)
	if err != nil {
		return fmt.Errorf("create source driver: %w", err)
	}

	driver, err := newDriver(db)
	if err != nil {
		return fmt.Errorf("create %s driver: %w", dbName, err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, dbName, driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}

	log.Debugf("%s schema at version %d (dirty=%v)", dbName, version,
		dirty)

	return nil
}

// upgrade brings the schema of db up to date for the dialect.
func (d Dialect) upgrade(db *sql.DB) error {
	switch d {
	case DialectSQLite:
		return applyMigrations(db, sqliteFS, "migrations/sqlite",
			"sqlite", func(db *sql.DB) (database.Driver, error) {
				return sqlite.WithInstance(db, &sqlite.Config{})
			},
		)

	case DialectPostgres:
		return applyMigrations(db, postgresFS, "migrations/postgres",
			"postgres", func(db *sql.DB) (database.Driver, error) {
				return postgres.WithInstance(
					db, &postgres.Config{},
				)
			},
		)

	default:
		return fmt.Errorf("unknown dialect %d", d)
	}
}
