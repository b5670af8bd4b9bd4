// Package store defines the persistence contract shared by the PostgreSQL and
// in-memory backends.
package store

import (
	"context"
	"time"

	"eadash.io/internal/model"
)

// Store is a handle on the relational state of the service. Reads issued
// through the repository accessors run outside any transaction; mutations go
// through InTx so that an entity change and its audit entry commit together.
type Store interface {
	Users() UserRepo
	Audit() AuditRepo
	Records() RecordRepo

	// InTx runs fn inside a single transaction. A non-nil error returned by fn
	// rolls back every write made through tx.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	Ping(ctx context.Context) error
	// Kind names the backend for health reporting.
	Kind() string
	Close() error
}

// Tx exposes the repositories bound to one open transaction.
type Tx interface {
	Users() UserRepo
	Audit() AuditRepo
	Records() RecordRepo
}

// UserRepo is the credential store.
type UserRepo interface {
	// Create inserts u and fills in its ID and CreatedAt. A duplicate email
	// yields errs.ErrConflict.
	Create(ctx context.Context, u *model.User) error
	Get(ctx context.Context, id int64) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	List(ctx context.Context) ([]model.User, error)
	Update(ctx context.Context, id int64, p model.UserPatch) (model.User, error)
	Delete(ctx context.Context, id int64) error
	TouchLogin(ctx context.Context, id int64, at time.Time) error
	Count(ctx context.Context) (int, error)
}

// AuditRepo is the append-only audit table.
type AuditRepo interface {
	// Append inserts e and fills in its ID.
	Append(ctx context.Context, e *model.AuditEntry) error
	// Query returns the number of matching entries and one page of them,
	// newest first.
	Query(ctx context.Context, f model.AuditFilter) (int, []model.AuditEntry, error)
}

// RecordRepo stores rows of every entity family described by a model.Schema.
type RecordRepo interface {
	// List returns rows ordered by id. Filters are equality matches on
	// filterable columns.
	List(ctx context.Context, s *model.Schema, filters map[string]any) ([]model.Record, error)
	Get(ctx context.Context, s *model.Schema, id string) (model.Record, error)
	// GetForUpdate loads a row and locks it until the transaction ends.
	GetForUpdate(ctx context.Context, s *model.Schema, id string) (model.Record, error)
	// Insert stores rec; a taken id yields errs.ErrConflict.
	Insert(ctx context.Context, s *model.Schema, rec model.Record) error
	// Update applies p to the row. On versioned families the version is
	// incremented by one; when expectVersion is positive the write only
	// happens if the stored version equals it, else errs.ErrVersionConflict.
	Update(ctx context.Context, s *model.Schema, id string, p model.Patch, expectVersion int) (model.Record, error)
	// Delete removes the row and every descendant row.
	Delete(ctx context.Context, s *model.Schema, id string) error
	IDs(ctx context.Context, s *model.Schema) ([]string, error)
	Count(ctx context.Context, s *model.Schema) (int, error)
	// Distribution counts rows per non-null value of a text column.
	Distribution(ctx context.Context, s *model.Schema, column string) (map[string]int, error)
	// Truncate removes all rows of the family.
	Truncate(ctx context.Context, s *model.Schema) error
}
