// Package migrate applies the embedded goose migrations.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sync"

	"github.com/pressly/goose/v3"

	"eadash.io/migrations"
)

const defaultTable = "schema_migrations"

// goose keeps its settings in package state.
var gooseMu sync.Mutex

// Manager runs migrations against one database.
type Manager struct {
	db    *sql.DB
	fsys  fs.FS
	table string
}

// Option configures Manager.
type Option func(*Manager)

// WithTable overrides the version bookkeeping table.
func WithTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.table = name
		}
	}
}

// WithFS replaces the embedded migrations, mainly for tests.
func WithFS(fsys fs.FS) Option {
	return func(m *Manager) {
		if fsys != nil {
			m.fsys = fsys
		}
	}
}

// NewManager constructs a Manager.
func NewManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{db: db, fsys: migrations.FS, table: defaultTable}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) with(fn func() error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(m.fsys)
	goose.SetTableName(m.table)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return fn()
}

// Up applies all pending migrations.
func (m *Manager) Up(ctx context.Context) error {
	return m.with(func() error {
		return goose.UpContext(ctx, m.db, ".")
	})
}

// Down rolls back the most recent migration.
func (m *Manager) Down(ctx context.Context) error {
	return m.with(func() error {
		return goose.DownContext(ctx, m.db, ".")
	})
}

// Status lists every known migration with its state.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	var out []string
	err := m.with(func() error {
		current, err := goose.GetDBVersionContext(ctx, m.db)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		known, err := goose.CollectMigrations(".", 0, goose.MaxVersion)
		if err != nil {
			return fmt.Errorf("collect migrations: %w", err)
		}
		for _, mig := range known {
			state := "pending"
			if mig.Version <= current {
				state = "applied"
			}
			out = append(out, fmt.Sprintf("%05d %s %s", mig.Version, state, mig.Source))
		}
		return nil
	})
	return out, err
}

// Up applies pending migrations on db with the default settings.
func Up(ctx context.Context, db *sql.DB) error {
	return NewManager(db).Up(ctx)
}
