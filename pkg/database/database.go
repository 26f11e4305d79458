// Package database persists the harness host's datasets: the tabular
// payloads that get replayed to visual instances as data views.  It
// speaks database/sql over swappable drivers so a laptop demo runs on
// an embedded file while a shared deployment can point at PostgreSQL.
package database

import (
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Database wraps the SQL connection together with the normalized driver
// name so statement builders can stay declarative.
type Database struct {
	DB          *sql.DB
	Driver      string
	idGenerator chan int64
}

// Config holds everything needed to open a store.
type Config struct {
	DBType    string // sqlite, genji, duckdb or pgx
	DBPath    string // file path for the embedded drivers
	DBHost    string // PostgreSQL host
	DBPort    int
	DBUser    string
	DBPass    string
	DBName    string
	PGSSLMode string
	Port      int // server port, used in default file naming
}

// normalizeDBType trims and lowercases driver names so the switch
// blocks below cannot miss a driver over incidental casing.
func normalizeDBType(dbType string) string {
	return strings.ToLower(strings.TrimSpace(dbType))
}

// startIDGenerator hands out sequence numbers over a channel.  A
// goroutine owning the counter replaces both a mutex and database
// round trips for something as small as an id.
func startIDGenerator(initial int64) chan int64 {
	ch := make(chan int64)
	go func(next int64) {
		for {
			ch <- next
			next++
		}
	}(initial)
	return ch
}

// NextID returns a process-unique sequence number.
func (d *Database) NextID() int64 { return <-d.idGenerator }

// NewDatabase opens the configured store and prepares the schema.
// Embedded drivers are forced into single-connection mode: they are
// files, and concurrent writers only buy lock contention.
func NewDatabase(cfg Config) (*Database, error) {
	driver := normalizeDBType(cfg.DBType)

	var dsn string
	switch driver {
	case "sqlite", "genji", "duckdb":
		dsn = cfg.DBPath
		if dsn == "" {
			dsn = fmt.Sprintf("geovisual-%d.%s", cfg.Port, driver)
		}
	case "pgx":
		host := cfg.DBHost
		if host == "" {
			host = "127.0.0.1"
		}
		port := cfg.DBPort
		if port <= 0 {
			port = 5432
		}
		sslMode := cfg.PGSSLMode
		if sslMode == "" {
			sslMode = "prefer"
		}
		dsn = fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s",
			cfg.DBUser, cfg.DBPass, net.JoinHostPort(host, strconv.Itoa(port)), cfg.DBName, sslMode)
	default:
		return nil, fmt.Errorf("unsupported db-type %q (want sqlite, genji, duckdb or pgx)", cfg.DBType)
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", driver, err)
	}

	switch driver {
	case "sqlite":
		sqlDB.SetMaxOpenConns(1)
		// WAL keeps readers unblocked during uploads; the busy
		// timeout covers the brief write locks that remain.
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL;",
			"PRAGMA busy_timeout=5000;",
			"PRAGMA synchronous=NORMAL;",
		} {
			if _, err := sqlDB.Exec(pragma); err != nil {
				return nil, fmt.Errorf("applying %s: %w", strings.TrimSpace(pragma), err)
			}
		}
	case "genji", "duckdb":
		sqlDB.SetMaxOpenConns(1)
	}

	d := &Database{DB: sqlDB, Driver: driver, idGenerator: startIDGenerator(1)}
	if err := d.initSchema(); err != nil {
		return nil, err
	}
	return d, nil
}

// Close releases the underlying connection.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}

// rebind converts ?-style placeholders to the $n form PostgreSQL
// expects.  Writing statements once with ? and rebinding keeps the
// dataset queries readable.
func (d *Database) rebind(query string) string {
	if d.Driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
