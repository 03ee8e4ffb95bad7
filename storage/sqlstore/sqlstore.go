package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/giantswarm/oauth-engine/instrumentation"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
	"github.com/giantswarm/oauth-engine/storage/sqlstore/migrations"
)

// Dialect selects the SQL database behind a Store.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// driverName returns the database/sql driver registered for the dialect.
func (d Dialect) driverName() (string, error) {
	switch d {
	case DialectPostgres:
		return "pgx", nil
	case DialectSQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unsupported SQL dialect %q", string(d))
	}
}

// sizeQueryTimeout bounds the COUNT queries behind the storage size gauges.
const sizeQueryTimeout = 2 * time.Second

// Store implements storage.Store on top of database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect

	mu      sync.RWMutex
	revoker storage.Revoker
	clock   security.Clock
	logger  *slog.Logger

	instrumentation atomic.Pointer[instrumentation.Instrumentation]
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.Store                      = (*Store)(nil)
	_ storage.Revoker                    = (*Store)(nil)
	_ storage.ExpiredRefreshTokenDeleter = (*Store)(nil)
)

// Open connects to the database and applies the embedded migrations.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	driver, err := dialect.driverName()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// A single connection serializes writers and avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", dialect, err)
	}

	s := &Store{
		db:      db,
		dialect: dialect,
		clock:   security.SystemClock,
		logger:  slog.Default(),
	}
	s.revoker = s

	if err := s.applyMigrations(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return s, nil
}

// OpenSQLite opens (creating if needed) an SQLite database file.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	return Open(ctx, DialectSQLite, SQLiteDSN(path))
}

// OpenPostgres connects to PostgreSQL using a pgx connection string.
func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	return Open(ctx, DialectPostgres, dsn)
}

// SQLiteDSN builds the modernc DSN for a database file with WAL, foreign
// keys and a busy timeout enabled.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Dialect returns the store's SQL dialect
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger != nil {
		s.logger = logger
	}
}

// SetClock replaces the time source used for expiries
func (s *Store) SetClock(clock security.Clock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = security.ClockOrDefault(clock)
}

// SetRevoker replaces the revoker invoked when a client is deleted.
// A nil revoker restores the store's own implementation.
func (s *Store) SetRevoker(r storage.Revoker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r == nil {
		r = s
	}
	s.revoker = r
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store. The
// size gauges run a COUNT query per table on every collection.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation.Store(inst)
	if inst == nil {
		return
	}

	err := inst.RegisterStorageSizeCallbacks(instrumentation.StorageSizes{
		Clients:       s.countCallback("clients"),
		AuthCodes:     s.countCallback("auth_codes"),
		AccessTokens:  s.countCallback("access_tokens"),
		RefreshTokens: s.countCallback("refresh_tokens"),
	})
	if err != nil {
		s.log().Warn("Failed to register storage size callbacks", "error", err)
	}
}

func (s *Store) countCallback(table string) instrumentation.StorageSizeCallback {
	query := "SELECT COUNT(*) FROM " + table
	return func() int64 {
		ctx, cancel := context.WithTimeout(context.Background(), sizeQueryTimeout)
		defer cancel()
		var n int64
		if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
			s.log().Debug("Failed to count records", "table", table, "error", err)
			return 0
		}
		return n
	}
}

func (s *Store) startOp(ctx context.Context, operation string) (context.Context, *instrumentation.StorageOp) {
	return instrumentation.StartStorageOp(ctx, s.instrumentation.Load(), string(s.dialect), operation)
}

func (s *Store) now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clock.Now()
}

func (s *Store) log() *slog.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

func (s *Store) currentRevoker() storage.Revoker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revoker
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// isUniqueViolation reports whether err is a unique or primary key
// constraint failure in either dialect.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func newID() string {
	return uuid.NewString()
}

// rollback aborts tx, keeping the original error.
func rollback(tx *sql.Tx, err error) error {
	if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
		return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
	}
	return err
}
