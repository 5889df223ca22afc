package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

//go:embed indexes.sql
var indexesSQL string

// Driver names accepted by Open.
const (
	DriverSQLite     = "sqlite3" // github.com/mattn/go-sqlite3
	DriverPureSQLite = "sqlite"  // modernc.org/sqlite
	DriverPostgres   = "pgx"     // github.com/jackc/pgx/v5/stdlib
)

// Tables lists every table created by the schema, parents first.
var Tables = []string{
	"PARTICIPANT",
	"PHENO_META",
	"PHENOTYPE",
	"CODE",
	"CODE_META",
	"DATA_META",
	"gp_provider",
	"gp_clinical",
	"gp_scripts",
	"INGEST_RUN",
	"INGEST_FILE",
}

// ErrExists is returned by Open when the target database already exists and
// Options.Replace is not set.
var ErrExists = errors.New("database already exists")

// Options controls how Open prepares the output database.
type Options struct {
	// Driver selects the database/sql driver. Empty means DriverSQLite.
	Driver string
	// CacheSize is passed to PRAGMA cache_size when non-zero (SQLite only).
	CacheSize int
	// Danger trades durability for speed: synchronous=OFF, journal_mode=MEMORY.
	Danger bool
	// Replace removes an existing database (SQLite) or drops the tables
	// (PostgreSQL) before the schema is applied.
	Replace bool
}

// Store is the relational sink for normalized phenotype data. It holds a
// single connection, so at most one transaction is open at a time.
type Store struct {
	db     *sql.DB
	driver string
	runID  string
}

// Open creates the output database at dsn and applies the schema.
//
// For the SQLite drivers dsn is a file path. An existing file is an error
// wrapping ErrExists unless opts.Replace is set, in which case the file and
// its journal companions are removed first. For PostgreSQL dsn is a
// connection string.
//
// SQLite connections are configured with:
//   - WAL journal and NORMAL synchronous mode (MEMORY / OFF with Danger)
//   - 5-second busy timeout
//   - Foreign key enforcement
func Open(ctx context.Context, dsn string, opts Options) (*Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	switch driver {
	case DriverSQLite, DriverPureSQLite:
		if err := prepareFile(dsn, opts.Replace); err != nil {
			return nil, err
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// One writer, one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, driver: driver}

	if s.sqlite() {
		if err := applyPragmas(ctx, db, opts); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	} else if opts.Replace {
		if err := s.dropTables(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Driver reports the database/sql driver in use.
func (s *Store) Driver() string {
	return s.driver
}

// CreateIndexes builds the secondary indexes. It is run once after all
// inputs are loaded so bulk inserts do not maintain them row by row.
func (s *Store) CreateIndexes(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, indexesSQL); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

// Count returns the number of rows in table.
func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	if !knownTable(table) {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// Counts returns the row count of every table, keyed by table name.
func (s *Store) Counts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(Tables))
	for _, table := range Tables {
		n, err := s.Count(ctx, table)
		if err != nil {
			return nil, err
		}
		counts[table] = n
	}
	return counts, nil
}

func (s *Store) sqlite() bool {
	return s.driver != DriverPostgres
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.sqlite() {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r != '?' {
			b.WriteRune(r)
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

func (s *Store) dropTables(ctx context.Context) error {
	for i := len(Tables) - 1; i >= 0; i-- {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+Tables[i]+" CASCADE"); err != nil {
			return fmt.Errorf("drop %s: %w", Tables[i], err)
		}
	}
	return nil
}

func knownTable(name string) bool {
	for _, t := range Tables {
		if t == name {
			return true
		}
	}
	return false
}

// prepareFile enforces the replace policy for file-backed databases.
func prepareFile(path string, replace bool) error {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat database: %w", err)
	}
	if !replace {
		return fmt.Errorf("%w: %s", ErrExists, path)
	}
	for _, p := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}

// applyPragmas sets SQLite connection configuration.
func applyPragmas(ctx context.Context, db *sql.DB, opts Options) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	if opts.Danger {
		pragmas[0] = "PRAGMA journal_mode = MEMORY"
		pragmas[1] = "PRAGMA synchronous = OFF"
	}
	if opts.CacheSize != 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA cache_size = %d", opts.CacheSize))
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
