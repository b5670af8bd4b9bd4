package memstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"eadash.io/internal/errs"
	"eadash.io/internal/model"
)

type recordRepo struct {
	store *Store
	tx    *state
}

func (r *recordRepo) List(ctx context.Context, s *model.Schema, filters map[string]any) ([]model.Record, error) {
	st, done := acquire(r.store, r.tx, false)
	defer done(false)
	out := make([]model.Record, 0)
	for _, rec := range st.tables[s.Name] {
		if matches(rec, filters) {
			out = append(out, rec.Clone())
		}
	}
	sortRecords(s, out)
	return out, nil
}

func (r *recordRepo) Get(ctx context.Context, s *model.Schema, id string) (model.Record, error) {
	st, done := acquire(r.store, r.tx, false)
	defer done(false)
	rec, ok := st.tables[s.Name][id]
	if !ok {
		return model.Record{}, notFound(s, id)
	}
	return rec.Clone(), nil
}

// GetForUpdate needs no row lock: transactions are already serialised.
func (r *recordRepo) GetForUpdate(ctx context.Context, s *model.Schema, id string) (model.Record, error) {
	return r.Get(ctx, s, id)
}

func (r *recordRepo) Insert(ctx context.Context, s *model.Schema, rec model.Record) error {
	st, done := acquire(r.store, r.tx, true)
	t := st.table(s.Name)
	if _, taken := t[rec.ID]; taken {
		done(false)
		return fmt.Errorf("%w: %s %s already exists", errs.ErrConflict, s.Label, rec.ID)
	}
	if err := checkParent(st, s, rec.Fields); err != nil {
		done(false)
		return err
	}
	rec = rec.Clone()
	rec.NumericID = s.IDStrategy == model.IDSerial
	if !s.Versioned {
		rec.Version = 0
	}
	for _, col := range s.Columns {
		if _, ok := rec.Fields[col.Name]; !ok {
			rec.Fields[col.Name] = nil
		}
	}
	t[rec.ID] = rec
	done(true)
	return nil
}

func (r *recordRepo) Update(ctx context.Context, s *model.Schema, id string, p model.Patch, expectVersion int) (model.Record, error) {
	st, done := acquire(r.store, r.tx, true)
	t := st.table(s.Name)
	rec, ok := t[id]
	if !ok {
		done(false)
		return model.Record{}, notFound(s, id)
	}
	if s.Versioned && expectVersion > 0 && rec.Version != expectVersion {
		done(false)
		return model.Record{}, fmt.Errorf("%w: %s %s is at version %d", errs.ErrVersionConflict, s.Label, id, rec.Version)
	}
	rec = rec.Clone()
	p.Apply(rec.Fields)
	if s.Parent != nil && p.Has(s.Parent.Column) {
		if err := checkParent(st, s, rec.Fields); err != nil {
			done(false)
			return model.Record{}, err
		}
	}
	if s.Versioned {
		rec.Version++
	}
	t[id] = rec
	done(true)
	return rec.Clone(), nil
}

func (r *recordRepo) Delete(ctx context.Context, s *model.Schema, id string) error {
	st, done := acquire(r.store, r.tx, true)
	if _, ok := st.tables[s.Name][id]; !ok {
		done(false)
		return notFound(s, id)
	}
	cascade(st, s, id)
	done(true)
	return nil
}

func (r *recordRepo) IDs(ctx context.Context, s *model.Schema) ([]string, error) {
	st, done := acquire(r.store, r.tx, false)
	defer done(false)
	out := make([]string, 0, len(st.tables[s.Name]))
	for id := range st.tables[s.Name] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (r *recordRepo) Count(ctx context.Context, s *model.Schema) (int, error) {
	st, done := acquire(r.store, r.tx, false)
	defer done(false)
	return len(st.tables[s.Name]), nil
}

func (r *recordRepo) Distribution(ctx context.Context, s *model.Schema, column string) (map[string]int, error) {
	if col, ok := s.Column(column); !ok || col.Kind != model.KindText {
		return nil, fmt.Errorf("%w: cannot group %s by %s", errs.ErrInvalidInput, s.Name, column)
	}
	st, done := acquire(r.store, r.tx, false)
	defer done(false)
	out := make(map[string]int)
	for _, rec := range st.tables[s.Name] {
		if v, ok := rec.Fields[column].(string); ok {
			out[v]++
		}
	}
	return out, nil
}

func (r *recordRepo) Truncate(ctx context.Context, s *model.Schema) error {
	st, done := acquire(r.store, r.tx, true)
	for id := range st.tables[s.Name] {
		cascade(st, s, id)
	}
	done(true)
	return nil
}

// cascade removes a row and, depth first, every row referencing it.
func cascade(st *state, s *model.Schema, id string) {
	for _, child := range s.Children {
		for childID, rec := range st.tables[child.Name] {
			if ref, ok := model.KeyString(rec.Fields[child.Parent.Column]); ok && ref == id {
				cascade(st, child, childID)
			}
		}
	}
	delete(st.tables[s.Name], id)
}

func checkParent(st *state, s *model.Schema, fields map[string]any) error {
	if s.Parent == nil {
		return nil
	}
	ref, ok := model.KeyString(fields[s.Parent.Column])
	if !ok {
		return fmt.Errorf("%w: %s is required", errs.ErrInvalidInput, s.Parent.Column)
	}
	if _, exists := st.tables[s.Parent.Family][ref]; !exists {
		return fmt.Errorf("%w: %s %s does not reference an existing row", errs.ErrInvalidInput, s.Parent.Column, ref)
	}
	return nil
}

func matches(rec model.Record, filters map[string]any) bool {
	for col, want := range filters {
		if rec.Fields[col] != want {
			return false
		}
	}
	return true
}

func sortRecords(s *model.Schema, recs []model.Record) {
	if s.IDStrategy == model.IDSerial {
		sort.Slice(recs, func(i, j int) bool {
			a, _ := strconv.ParseInt(recs[i].ID, 10, 64)
			b, _ := strconv.ParseInt(recs[j].ID, 10, 64)
			return a < b
		})
		return
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
}

func notFound(s *model.Schema, id string) error {
	return fmt.Errorf("%w: %s %s", errs.ErrNotFound, s.Label, id)
}
