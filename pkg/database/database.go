// Package database opens the anchor store and hides placeholder dialect
// differences between Postgres and the embedded SQLite used in lite mode.
package database

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver (lite mode)
)

// Driver identifies the SQL dialect in use.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// DB wraps sql.DB with the dialect it was opened with.
type DB struct {
	*sql.DB
	Driver Driver
}

// Open dials databaseURL. postgres:// and postgresql:// URLs use the
// Postgres driver; sqlite: URLs, :memory:, and bare file paths use the
// embedded SQLite driver.
func Open(databaseURL string) (*DB, error) {
	driver, dsn, err := parseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(string(driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", driver, err)
	}

	switch driver {
	case DriverPostgres:
		db.SetMaxOpenConns(15)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	case DriverSQLite:
		// Single connection: SQLite is single-writer, and an in-memory
		// database exists per connection.
		db.SetMaxOpenConns(1)
	}

	return &DB{DB: db, Driver: driver}, nil
}

func parseURL(databaseURL string) (Driver, string, error) {
	switch {
	case databaseURL == "":
		return "", "", fmt.Errorf("database: empty DATABASE_URL")
	case strings.HasPrefix(databaseURL, "postgres://"),
		strings.HasPrefix(databaseURL, "postgresql://"):
		return DriverPostgres, databaseURL, nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return DriverSQLite, strings.TrimPrefix(databaseURL, "sqlite://"), nil
	case strings.HasPrefix(databaseURL, "sqlite:"):
		return DriverSQLite, strings.TrimPrefix(databaseURL, "sqlite:"), nil
	case databaseURL == ":memory:", strings.HasSuffix(databaseURL, ".db"):
		return DriverSQLite, databaseURL, nil
	default:
		return "", "", fmt.Errorf("database: unrecognized DATABASE_URL %q", databaseURL)
	}
}

// Rebind converts ?-placeholders to the driver's native form. Postgres
// uses $1..$n; SQLite takes ? as is. Queries in this codebase never carry
// a literal question mark.
func (d *DB) Rebind(query string) string {
	return Rebind(d.Driver, query)
}

// Rebind is the driver-explicit form of DB.Rebind.
func Rebind(driver Driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
