// Package pg implements store.Store on PostgreSQL through database/sql and
// the pgx stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"eadash.io/internal/store"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var errNoDatabase = errors.New("database connection unavailable")

var _ store.Store = (*Store)(nil)

// querier is the part of *sql.DB and *sql.Tx the repositories need.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
}

// Open connects to the database described by dsn.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Kind() string { return "postgresql" }

func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errNoDatabase
	}
	return s.db.PingContext(ctx)
}

func (s *Store) Users() store.UserRepo     { return &userRepo{q: s.q()} }
func (s *Store) Audit() store.AuditRepo    { return &auditRepo{q: s.q()} }
func (s *Store) Records() store.RecordRepo { return &recordRepo{q: s.q()} }

func (s *Store) q() querier {
	if s.db == nil {
		return nil
	}
	return s.db
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if s.db == nil {
		return errNoDatabase
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&txRepos{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type txRepos struct {
	tx *sql.Tx
}

func (t *txRepos) Users() store.UserRepo     { return &userRepo{q: t.tx} }
func (t *txRepos) Audit() store.AuditRepo    { return &auditRepo{q: t.tx} }
func (t *txRepos) Records() store.RecordRepo { return &recordRepo{q: t.tx, locking: true} }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// ident quotes a table or column name.
func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
