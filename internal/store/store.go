package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/franz/speech-corpus/internal/util"
)

// Supported drivers
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Store is the metrics database
type Store struct {
	db      *sqlx.DB
	dialect *dialect
}

// OpenOptions selects the backend
type OpenOptions struct {
	Driver string // DriverSQLite (default) or DriverMySQL
	Path   string // SQLite database file
	DSN    string // MySQL data source name
}

// Open opens or creates a SQLite database at path
func Open(path string) (*Store, error) {
	return OpenWithOptions(context.Background(), &OpenOptions{Driver: DriverSQLite, Path: path})
}

// OpenWithOptions connects to the configured backend and applies pending
// migrations
func OpenWithOptions(ctx context.Context, opts *OpenOptions) (*Store, error) {
	if opts == nil {
		opts = &OpenOptions{}
	}

	var (
		db  *sqlx.DB
		d   *dialect
		err error
	)
	switch opts.Driver {
	case "", DriverSQLite:
		d = sqliteDialect
		db, err = openSQLite(opts.Path)
	case DriverMySQL:
		d = mysqlDialect
		db, err = openMySQL(ctx, opts.DSN)
	default:
		return nil, fmt.Errorf("%w: unknown database driver %q", util.ErrInvalidConfig, opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, dialect: d}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return s, nil
}

func openSQLite(path string) (*sqlx.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite database path is empty", util.ErrInvalidConfig)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sqlx.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return db, nil
}

func openMySQL(ctx context.Context, dsn string) (*sqlx.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: mysql dsn: %v", util.ErrInvalidConfig, err)
	}
	cfg.ParseTime = true
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	cfg.Params["charset"] = "utf8mb4"

	db, err := sqlx.Open(DriverMySQL, cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	err = util.Retry(ctx, util.ConnectRetryConfig(), func() error {
		return db.PingContext(ctx)
	}, "connect "+cfg.Addr)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to mysql at %s: %w", cfg.Addr, err)
	}
	return db, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying connection for custom queries
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Driver returns the backend driver name
func (s *Store) Driver() string {
	return s.dialect.name
}

// SQLiteVersion returns the version of the embedded SQLite
func SQLiteVersion() string {
	db, err := sql.Open(DriverSQLite, ":memory:")
	if err != nil {
		return ""
	}
	defer db.Close()

	var version string
	if err := db.QueryRow("SELECT sqlite_version()").Scan(&version); err != nil {
		return ""
	}
	return version
}

// CheckIntegrity runs the backend's consistency check
func (s *Store) CheckIntegrity(ctx context.Context) error {
	if s.dialect.name != DriverSQLite {
		return s.db.PingContext(ctx)
	}

	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// SchemaVersion returns the applied schema version
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	return s.getSchemaVersion(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	version, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range s.dialect.migrations {
		if m.version <= version {
			continue
		}
		err := s.Transaction(ctx, func(tx *sqlx.Tx) error {
			for _, stmt := range m.statements {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("failed to apply schema v%d: %w", m.version, err)
				}
			}
			_, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", m.version)
			return err
		})
		if err != nil {
			return err
		}
		util.DebugLog("Applied schema v%d (%s)", m.version, s.dialect.name)
	}
	return nil
}

func (s *Store) getSchemaVersion(ctx context.Context) (int, error) {
	var exists int
	if err := s.db.GetContext(ctx, &exists, s.dialect.tableExists, "schema_version"); err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, nil
	}

	var version int
	err := s.db.GetContext(ctx, &version, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
	return version, err
}

// Transaction runs fn in a transaction, rolling back when fn fails
func (s *Store) Transaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
