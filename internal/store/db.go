package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lazypower/stepwise/internal/metrics"
)

// DB wraps a sql.DB connection to the stepwise SQLite database.
type DB struct {
	*sql.DB
	Path string

	now func() time.Time
}

// DefaultDBPath returns the default database path: ~/.stepwise/stepwise.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".stepwise", "stepwise.db"), nil
}

// Open opens (or creates) the SQLite database at the given path,
// configures pragmas, and runs migrations.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	source, err := fileDSN(path)
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open("sqlite", source)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	return setup(sqlDB, path)
}

// OpenMemory opens an in-memory SQLite database for testing.
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:?"+dsnQuery())
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// Every new connection to :memory: is a separate database.
	sqlDB.SetMaxOpenConns(1)

	return setup(sqlDB, ":memory:")
}

func setup(sqlDB *sql.DB, path string) (*DB, error) {
	db := &DB{DB: sqlDB, Path: path, now: time.Now}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := db.Init(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Init ensures the schema exists. It is idempotent and safe to call from
// several callers at once; Open already calls it.
func (db *DB) Init() error {
	if err := db.migrate(); err != nil {
		metrics.StoreErrors.WithLabelValues("init").Inc()
		return storageErr("migrate", err)
	}
	return nil
}

// Applied through the DSN so every pooled connection gets them.
// Transactions begin IMMEDIATE and wait on busy_timeout for the write lock.
var pragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
}

func dsnQuery() string {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	q.Set("_txlock", "immediate")
	return q.Encode()
}

// fileDSN returns a file: URI for path. The path is percent-encoded, so
// '?', '#' and '%' in directory or file names reach SQLite intact.
func fileDSN(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve db path: %w", err)
	}
	p := filepath.ToSlash(abs)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	u := url.URL{Scheme: "file", Path: p, RawQuery: dsnQuery()}
	return u.String(), nil
}
