package audit

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Driver selects which database/sql driver backs a Logger. Sqlite is the
// default single-process store; Postgres is for operators running the
// pipeline as more than one replica sharing one audit trail.
type Driver string

const (
	DriverSQLite   Driver = "sqlite3"
	DriverPostgres Driver = "postgres"
)

// Open opens dsn with driver and returns a ready-to-wrap *sql.DB. Callers
// pass the result to NewLogger.
func Open(driver Driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("audit: unsupported driver %q", driver)
	}

	db, err := sql.Open(string(driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: ping %s: %w", driver, err)
	}
	return db, nil
}
