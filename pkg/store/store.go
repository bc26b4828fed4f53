// Package store is the gateway's durable state: intent contracts, the
// append-only audit log with its queryable decision rows, encrypted
// tool credentials, tenants and their keys and tokens, rate counters,
// the active policy preset, and agent memory. One Store serves the
// whole process; SQLite is the default engine and Postgres is used
// when the database URL says so.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Driver selects the SQL dialect.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Store wraps the database handle with the gateway schema.
type Store struct {
	db     *sql.DB
	driver Driver
	cipher *credentialCipher
	nowFn  func() time.Time
}

// Option configures a Store.
type Option func(*Store) error

// WithEncryptionKey enables AES-256-GCM encryption of credential data
// at rest. The key is the 32-byte master from which per-tenant subkeys
// are derived.
func WithEncryptionKey(key []byte) Option {
	return func(s *Store) error {
		if len(key) == 0 {
			return nil
		}
		c, err := newCredentialCipher(key)
		if err != nil {
			return err
		}
		s.cipher = c
		return nil
	}
}

// WithClock overrides the store's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) error {
		s.nowFn = now
		return nil
	}
}

// ResolveDSN maps the configured database URL to a driver and DSN.
// "postgres://..." selects Postgres; "sqlite:///path" selects SQLite at
// that path; anything else falls back to a SQLite file at fallbackPath.
func ResolveDSN(rawURL, fallbackPath string) (Driver, string) {
	raw := strings.TrimSpace(rawURL)
	switch {
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return DriverPostgres, raw
	case strings.HasPrefix(raw, "sqlite:///"):
		return DriverSQLite, strings.TrimPrefix(raw, "sqlite:///")
	}
	if fallbackPath == "" {
		fallbackPath = "edon_gateway.db"
	}
	return DriverSQLite, fallbackPath
}

// Open opens the database, applies the schema, and asserts the schema
// version. For SQLite the DSN is a file path; WAL and foreign keys are
// enabled through the connection string.
func Open(driver Driver, dsn string, opts ...Option) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: create database directory: %w", err)
			}
		}
		db, err = sql.Open("sqlite", sqliteDSN(dsn))
	case DriverPostgres:
		db, err = sql.Open("postgres", dsn)
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	s, err := New(db, driver, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle, applies the schema, and asserts the
// schema version.
func New(db *sql.DB, driver Driver, opts ...Option) (*Store, error) {
	s := &Store{
		db:     db,
		driver: driver,
		nowFn:  time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	ctx := context.Background()
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("store: migrate schema: %w", err)
	}
	if err := s.ensureSchemaVersion(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func sqliteDSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(10000)")
	return "file:" + path + "?" + q.Encode()
}

// rebind rewrites ? placeholders to $1..$n for Postgres. Queries are
// written in the SQLite form.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
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

func (s *Store) now() time.Time {
	return s.nowFn().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
