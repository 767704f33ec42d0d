package bwtest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/descwallet/persist"
	"github.com/btcsuite/descwallet/persist/kvdb"
	"github.com/btcsuite/descwallet/persist/sqldb"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcwait "github.com/testcontainers/testcontainers-go/wait"
)

var (
	// ErrUnknownDBBackend is returned when an unknown db backend is requested.
	ErrUnknownDBBackend = errors.New("unknown db backend")
)

const (
	dbNameKvdb     = "kvdb"
	dbNameSqlite   = "sqlite"
	dbNamePostgres = "postgres"

	// kvdbFilename is the bbolt wallet database filename.
	kvdbFilename = "wallet.db"

	// sqliteFilename is the SQLite wallet database filename.
	sqliteFilename = "wallet.sqlite"

	// pgInitTimeout bounds the postgres container start, image download
	// included.
	pgInitTimeout = 2 * time.Minute
)

// postgresServer is a postgres container shared by every store of a run.
// Each store gets its own database inside it.
type postgresServer struct {
	once      sync.Once
	container *postgres.PostgresContainer
	connStr   string
	err       error

	// numDBs names the databases.
	numDBs atomic.Uint32
}

// start runs the container on first use.
func (p *postgresServer) start(ctx context.Context) error {
	p.once.Do(func() {
		p.container, p.err = postgres.Run(ctx,
			"postgres:18-alpine",
			postgres.WithDatabase("postgres"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategyAndDeadline(
				pgInitTimeout, tcwait.ForListeningPort("5432/tcp"),
			),
		)
		if p.err != nil {
			return
		}

		p.connStr, p.err = p.container.ConnectionString(
			ctx, "sslmode=disable",
		)
	})

	return p.err
}

// newDatabase creates an empty database and returns its DSN.
func (p *postgresServer) newDatabase(ctx context.Context) (string, error) {
	if err := p.start(ctx); err != nil {
		return "", fmt.Errorf("start postgres: %w", err)
	}

	admin, err := sql.Open("pgx", p.connStr)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = admin.Close()
	}()

	name := fmt.Sprintf("wallet_%d", p.numDBs.Add(1))
	if _, err := admin.ExecContext(ctx, "CREATE DATABASE "+name); err != nil {
		return "", fmt.Errorf("create database %s: %w", name, err)
	}

	return strings.Replace(p.connStr, "/postgres?", "/"+name+"?", 1), nil
}

// terminate stops the container if it was started.
func (p *postgresServer) terminate(ctx context.Context) error {
	if p.container == nil {
		return nil
	}

	return p.container.Terminate(ctx)
}

// validateDBType checks the wallet store identifier given by test flags.
func validateDBType(dbType string) error {
	switch dbType {
	case dbNameKvdb, dbNameSqlite, dbNamePostgres:
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrUnknownDBBackend, dbType)
	}
}

// openStore opens an empty wallet store of dbType rooted at baseDir.
//
// The returned cleanup function closes the store.
func openStore(ctx context.Context, dbType, baseDir string,
	pg *postgresServer) (persist.Store, func() error, error) {

	switch dbType {
	case dbNameKvdb:
		store, err := kvdb.Open(
			filepath.Join(baseDir, kvdbFilename), defaultTestTimeout,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("open kvdb store: %w", err)
		}

		return store, store.Close, nil

	case dbNameSqlite:
		store, err := sqldb.OpenSQLite(
			filepath.Join(baseDir, sqliteFilename),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}

		return store, store.Close, nil

	case dbNamePostgres:
		dsn, err := pg.newDatabase(ctx)
		if err != nil {
			return nil, nil, err
		}

		store, err := sqldb.OpenPostgres(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}

		return store, store.Close, nil

	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownDBBackend, dbType)
	}
}
