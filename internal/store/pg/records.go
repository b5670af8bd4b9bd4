package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"eadash.io/internal/errs"
	"eadash.io/internal/model"
)

type recordRepo struct {
	q querier
	// locking enables row locks; only meaningful inside a transaction.
	locking bool
}

func selectList(s *model.Schema) string {
	cols := []string{"id::text"}
	if s.Versioned {
		cols = append(cols, "version")
	}
	for _, c := range s.Columns {
		cols = append(cols, ident(c.Name))
	}
	return strings.Join(cols, ", ")
}

func scanRecord(s *model.Schema, row rowScanner) (model.Record, error) {
	rec := model.Record{
		NumericID: s.IDStrategy == model.IDSerial,
		Fields:    make(map[string]any, len(s.Columns)),
	}
	dest := []any{&rec.ID}
	if s.Versioned {
		dest = append(dest, &rec.Version)
	}
	holders := make([]any, len(s.Columns))
	for i, c := range s.Columns {
		switch c.Kind {
		case model.KindText:
			holders[i] = new(sql.NullString)
		case model.KindInt:
			holders[i] = new(sql.NullInt64)
		case model.KindFloat:
			holders[i] = new(sql.NullFloat64)
		case model.KindBool:
			holders[i] = new(sql.NullBool)
		case model.KindJSON:
			holders[i] = new([]byte)
		default:
			return model.Record{}, fmt.Errorf("column %s has unknown kind %d", c.Name, c.Kind)
		}
	}
	dest = append(dest, holders...)
	if err := row.Scan(dest...); err != nil {
		return model.Record{}, err
	}
	for i, c := range s.Columns {
		var v any
		switch h := holders[i].(type) {
		case *sql.NullString:
			if h.Valid {
				v = h.String
			}
		case *sql.NullInt64:
			if h.Valid {
				v = h.Int64
			}
		case *sql.NullFloat64:
			if h.Valid {
				v = h.Float64
			}
		case *sql.NullBool:
			if h.Valid {
				v = h.Bool
			}
		case *[]byte:
			if *h != nil {
				v = json.RawMessage(append([]byte(nil), (*h)...))
			}
		}
		rec.Fields[c.Name] = v
	}
	return rec, nil
}

// arg converts a field value to a query argument.
func arg(v any) any {
	if raw, ok := v.(json.RawMessage); ok {
		if raw == nil {
			return nil
		}
		return []byte(raw)
	}
	return v
}

// idArg converts a record id to the key type of the table.
func idArg(s *model.Schema, id string) (any, error) {
	if s.IDStrategy != model.IDSerial {
		return id, nil
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s id must be an integer", errs.ErrNotFound, s.Label)
	}
	return n, nil
}

func mapWriteError(s *model.Schema, id string, err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: %s %s already exists", errs.ErrConflict, s.Label, id)
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: %s references a missing row", errs.ErrInvalidInput, s.Label)
		}
	}
	return err
}

func notFound(s *model.Schema, id string) error {
	return fmt.Errorf("%w: %s %s", errs.ErrNotFound, s.Label, id)
}

func (r *recordRepo) List(ctx context.Context, s *model.Schema, filters map[string]any) ([]model.Record, error) {
	if r.q == nil {
		return nil, errNoDatabase
	}
	var (
		where []string
		args  []any
	)
	for _, c := range s.Columns {
		want, ok := filters[c.Name]
		if !ok {
			continue
		}
		args = append(args, want)
		where = append(where, fmt.Sprintf("%s = $%d", ident(c.Name), len(args)))
	}
	query := `select ` + selectList(s) + ` from ` + ident(s.Table)
	if len(where) > 0 {
		query += ` where ` + strings.Join(where, " and ")
	}
	query += ` order by id`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Record{}
	for rows.Next() {
		rec, err := scanRecord(s, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *recordRepo) Get(ctx context.Context, s *model.Schema, id string) (model.Record, error) {
	return r.get(ctx, s, id, false)
}

func (r *recordRepo) GetForUpdate(ctx context.Context, s *model.Schema, id string) (model.Record, error) {
	return r.get(ctx, s, id, r.locking)
}

func (r *recordRepo) get(ctx context.Context, s *model.Schema, id string, lock bool) (model.Record, error) {
	if r.q == nil {
		return model.Record{}, errNoDatabase
	}
	key, err := idArg(s, id)
	if err != nil {
		return model.Record{}, err
	}
	query := `select ` + selectList(s) + ` from ` + ident(s.Table) + ` where id = $1`
	if lock {
		query += ` for update`
	}
	rec, err := scanRecord(s, r.q.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Record{}, notFound(s, id)
	}
	return rec, err
}

func (r *recordRepo) Insert(ctx context.Context, s *model.Schema, rec model.Record) error {
	if r.q == nil {
		return errNoDatabase
	}
	key, err := idArg(s, rec.ID)
	if err != nil {
		return fmt.Errorf("%w: %s id must be an integer", errs.ErrInvalidInput, s.Label)
	}
	cols := []string{"id"}
	args := []any{key}
	if s.Versioned {
		version := rec.Version
		if version < 1 {
			version = 1
		}
		cols = append(cols, "version")
		args = append(args, version)
	}
	for _, c := range s.Columns {
		cols = append(cols, ident(c.Name))
		args = append(args, arg(rec.Fields[c.Name]))
	}
	marks := make([]string, len(args))
	for i := range marks {
		marks[i] = "$" + strconv.Itoa(i+1)
	}
	query := fmt.Sprintf(`insert into %s (%s) values (%s)`, ident(s.Table), strings.Join(cols, ", "), strings.Join(marks, ", "))
	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		return mapWriteError(s, rec.ID, err)
	}
	return nil
}

func (r *recordRepo) Update(ctx context.Context, s *model.Schema, id string, p model.Patch, expectVersion int) (model.Record, error) {
	if r.q == nil {
		return model.Record{}, errNoDatabase
	}
	key, err := idArg(s, id)
	if err != nil {
		return model.Record{}, err
	}
	var (
		sets []string
		args []any
	)
	for _, ch := range p.Changes() {
		if _, ok := s.Column(ch.Column); !ok {
			return model.Record{}, fmt.Errorf("%w: unknown column %s", errs.ErrInvalidInput, ch.Column)
		}
		args = append(args, arg(ch.Value))
		sets = append(sets, fmt.Sprintf("%s = $%d", ident(ch.Column), len(args)))
	}
	if s.Versioned {
		sets = append(sets, "version = version + 1")
	}
	if len(sets) == 0 {
		return r.GetForUpdate(ctx, s, id)
	}
	args = append(args, key)
	query := fmt.Sprintf(`update %s set %s where id = $%d`, ident(s.Table), strings.Join(sets, ", "), len(args))
	guarded := s.Versioned && expectVersion > 0
	if guarded {
		args = append(args, expectVersion)
		query += fmt.Sprintf(` and version = $%d`, len(args))
	}
	query += ` returning ` + selectList(s)

	rec, err := scanRecord(s, r.q.QueryRowContext(ctx, query, args...))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Record{}, mapWriteError(s, id, err)
	}
	if !guarded {
		return model.Record{}, notFound(s, id)
	}
	var current int
	err = r.q.QueryRowContext(ctx, `select version from `+ident(s.Table)+` where id = $1`, key).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Record{}, notFound(s, id)
	}
	if err != nil {
		return model.Record{}, err
	}
	return model.Record{}, fmt.Errorf("%w: %s %s is at version %d", errs.ErrVersionConflict, s.Label, id, current)
}

// Delete relies on the schema's cascading foreign keys for descendants.
func (r *recordRepo) Delete(ctx context.Context, s *model.Schema, id string) error {
	if r.q == nil {
		return errNoDatabase
	}
	key, err := idArg(s, id)
	if err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx, `delete from `+ident(s.Table)+` where id = $1`, key)
	if err != nil {
		return err
	}
	return expectOneRow(res, notFound(s, id))
}

func (r *recordRepo) IDs(ctx context.Context, s *model.Schema) ([]string, error) {
	if r.q == nil {
		return nil, errNoDatabase
	}
	rows, err := r.q.QueryContext(ctx, `select id::text from `+ident(s.Table)+` order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *recordRepo) Count(ctx context.Context, s *model.Schema) (int, error) {
	if r.q == nil {
		return 0, errNoDatabase
	}
	var n int
	if err := r.q.QueryRowContext(ctx, `select count(*) from `+ident(s.Table)).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *recordRepo) Distribution(ctx context.Context, s *model.Schema, column string) (map[string]int, error) {
	if col, ok := s.Column(column); !ok || col.Kind != model.KindText {
		return nil, fmt.Errorf("%w: cannot group %s by %s", errs.ErrInvalidInput, s.Name, column)
	}
	if r.q == nil {
		return nil, errNoDatabase
	}
	c := ident(column)
	rows, err := r.q.QueryContext(ctx, fmt.Sprintf(`select %s, count(*) from %s where %s is not null group by %s`, c, ident(s.Table), c, c))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var (
			value string
			n     int
		)
		if err := rows.Scan(&value, &n); err != nil {
			return nil, err
		}
		out[value] = n
	}
	return out, rows.Err()
}

func (r *recordRepo) Truncate(ctx context.Context, s *model.Schema) error {
	if r.q == nil {
		return errNoDatabase
	}
	_, err := r.q.ExecContext(ctx, `delete from `+ident(s.Table))
	return err
}
