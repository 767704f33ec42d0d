package sqldb

import (
	"database/sql"
	"fmt"

	// Register the pgx database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"

	// Register the modernc SQLite database/sql driver.
	_ "modernc.org/sqlite"
)

// sqliteDSN returns the connection string for the SQLite file at path.
func sqliteDSN(path string) string {
	// Enable foreign keys (required for proper constraint enforcement).
	dsn := path + "?_pragma=foreign_keys=on"

	// WAL allows multiple readers and reduces lock contention for
	// concurrent writers.
	dsn += "&_pragma=journal_mode=WAL"

	// Enable immediate transaction locking to avoid races.
	dsn += "&_txlock=immediate"

	// Retry acquiring locks for 5 seconds instead of immediately returning
	// SQLITE_BUSY.
	dsn += "&_pragma=busy_timeout=5000"

	return dsn
}

// OpenSQLite opens, or creates, the SQLite database at path and migrates
// it.
func OpenSQLite(path string) (*Store, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %v: %w", path, err)
	}

	store, err := New(db, DialectSQLite)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Infof("Opened sqlite store at %v", path)

	return store, nil
}

// OpenPostgres connects to the PostgreSQL database at dsn and migrates it.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	store, err := New(db, DialectPostgres)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Infof("Opened postgres store")

	return store, nil
}
