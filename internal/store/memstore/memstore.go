// Package memstore is an in-process implementation of store.Store. It backs
// the end-to-end tests and the "memory" database driver.
package memstore

import (
	"context"
	"sync"

	"eadash.io/internal/model"
	"eadash.io/internal/store"
)

// Store keeps all state behind one lock. Transactions work on a private copy
// of the state that replaces the shared one on commit, so a failed
// transaction leaves nothing behind.
type Store struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	users      map[int64]model.User
	nextUserID int64

	audit       []model.AuditEntry
	nextAuditID int64

	// tables maps family name to rows keyed by id.
	tables map[string]map[string]model.Record
}

// New returns an empty store.
func New() *Store {
	return &Store{state: newState()}
}

func newState() *state {
	return &state{
		users:  make(map[int64]model.User),
		tables: make(map[string]map[string]model.Record),
	}
}

func (s *state) clone() *state {
	c := &state{
		users:       make(map[int64]model.User, len(s.users)),
		nextUserID:  s.nextUserID,
		audit:       make([]model.AuditEntry, len(s.audit)),
		nextAuditID: s.nextAuditID,
		tables:      make(map[string]map[string]model.Record, len(s.tables)),
	}
	for id, u := range s.users {
		c.users[id] = u
	}
	copy(c.audit, s.audit)
	for name, rows := range s.tables {
		t := make(map[string]model.Record, len(rows))
		for id, rec := range rows {
			t[id] = rec
		}
		c.tables[name] = t
	}
	return c
}

func (s *state) table(name string) map[string]model.Record {
	t, ok := s.tables[name]
	if !ok {
		t = make(map[string]model.Record)
		s.tables[name] = t
	}
	return t
}

func (s *Store) Users() store.UserRepo     { return &userRepo{store: s} }
func (s *Store) Audit() store.AuditRepo    { return &auditRepo{store: s} }
func (s *Store) Records() store.RecordRepo { return &recordRepo{store: s} }

// InTx serialises transactions. fn must only use tx; calling the Store's own
// accessors from inside fn deadlocks.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.state.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Kind() string { return "memory" }

func (s *Store) Close() error { return nil }

type tx struct {
	st *state
}

func (t *tx) Users() store.UserRepo     { return &userRepo{tx: t.st} }
func (t *tx) Audit() store.AuditRepo    { return &auditRepo{tx: t.st} }
func (t *tx) Records() store.RecordRepo { return &recordRepo{tx: t.st} }

// acquire resolves the state a repository call works on. For reads outside a
// transaction it returns the committed state under the read lock; writes
// outside a transaction run as their own single-statement transaction.
func acquire(s *Store, txState *state, write bool) (*state, func(commit bool)) {
	if txState != nil {
		return txState, func(bool) {}
	}
	if !write {
		s.mu.RLock()
		return s.state, func(bool) { s.mu.RUnlock() }
	}
	s.mu.Lock()
	work := s.state.clone()
	return work, func(commit bool) {
		if commit {
			s.state = work
		}
		s.mu.Unlock()
	}
}
