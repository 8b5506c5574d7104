package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/tsangwailam/mcclaw/internal/activity"
)

// Provider is the database backend behind a URL.
type Provider string

const (
	ProviderSQLite   Provider = "sqlite"
	ProviderPostgres Provider = "postgresql"
)

// ProviderFor picks the backend for a database URL. Anything that is not a
// postgres URL is treated as a sqlite file.
func ProviderFor(databaseURL string) Provider {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return ProviderPostgres
	}
	return ProviderSQLite
}

// SQLitePath extracts the file path from a sqlite URL such as
// "file:~/.mc/data/mclaw.db".
func SQLitePath(databaseURL string) string {
	path := strings.TrimPrefix(databaseURL, "file:")
	path, _, _ = strings.Cut(path, "?")
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, rest)
		}
	}
	return path
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore implements activity.Store on sqlite or postgres.
type SQLStore struct {
	db      *sql.DB
	q       querier
	inTx    bool
	dialect dialect
	logger  *slog.Logger
}

// Open connects to the database at databaseURL. The schema is not touched;
// call Migrate before first use.
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		db  *sql.DB
		err error
		d   dialect
	)
	switch ProviderFor(databaseURL) {
	case ProviderPostgres:
		d = postgresDialect
		db, err = sql.Open("pgx", databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	default:
		d = sqliteDialect
		db, err = openSQLite(ctx, SQLitePath(databaseURL))
		if err != nil {
			return nil, err
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", d.provider, err)
	}

	logger.Debug("Database opened", "provider", d.provider)
	return &SQLStore{db: db, q: db, dialect: d, logger: logger}, nil
}

func openSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serialises writers inside this process and keeps the
	// pragmas below in effect.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return db, nil
}

// Provider reports which backend the store talks to.
func (s *SQLStore) Provider() Provider {
	return s.dialect.provider
}

// Migrate creates the schema if it does not exist yet.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

// InTx runs fn inside a transaction. Calls nested in an existing
// transaction reuse it.
func (s *SQLStore) InTx(ctx context.Context, fn func(tx activity.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	const maxRetries = 3
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isBusy(err) {
			return err
		}
		s.logger.Debug("Database busy, retrying transaction", "attempt", attempt+1)
		time.Sleep(5 * time.Millisecond)
	}
	return fmt.Errorf("transaction failed after %d retries: %w", maxRetries, err)
}

func (s *SQLStore) runTx(ctx context.Context, fn func(tx activity.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	child := &SQLStore{db: s.db, q: tx, inTx: true, dialect: s.dialect, logger: s.logger}
	if err := fn(child); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("Failed to roll back transaction", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the connection pool. On sqlite the WAL is checkpointed first
// so the main database file is complete.
func (s *SQLStore) Close() error {
	if s.inTx || s.db == nil {
		return nil
	}
	if s.dialect.provider == ProviderSQLite {
		s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}
