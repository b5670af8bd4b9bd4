package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"eadash.io/internal/errs"
	"eadash.io/internal/model"
)

const userColumns = `id, email, name, password_hash, role, is_active, created_at, last_login`

type userRepo struct {
	q querier
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (model.User, error) {
	var (
		u         model.User
		role      string
		lastLogin sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &role, &u.Active, &u.CreatedAt, &lastLogin); err != nil {
		return model.User{}, err
	}
	parsed, err := model.ParseRole(role)
	if err != nil {
		return model.User{}, fmt.Errorf("user %d: %w", u.ID, err)
	}
	u.Role = parsed
	u.CreatedAt = u.CreatedAt.UTC()
	if lastLogin.Valid {
		t := lastLogin.Time.UTC()
		u.LastLogin = &t
	}
	return u, nil
}

func (r *userRepo) Create(ctx context.Context, u *model.User) error {
	if r.q == nil {
		return errNoDatabase
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	err := r.q.QueryRowContext(ctx, `
		insert into users (email, name, password_hash, role, is_active, created_at)
		values ($1, $2, $3, $4, $5, $6)
		returning id
	`, u.Email, u.Name, u.PasswordHash, u.Role.String(), u.Active, u.CreatedAt).Scan(&u.ID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: email %s already registered", errs.ErrConflict, u.Email)
		}
		return err
	}
	return nil
}

func (r *userRepo) Get(ctx context.Context, id int64) (model.User, error) {
	if r.q == nil {
		return model.User{}, errNoDatabase
	}
	u, err := scanUser(r.q.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, fmt.Errorf("%w: user %d", errs.ErrNotFound, id)
	}
	return u, err
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	if r.q == nil {
		return model.User{}, errNoDatabase
	}
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := scanUser(r.q.QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, fmt.Errorf("%w: user %s", errs.ErrNotFound, email)
	}
	return u, err
}

func (r *userRepo) List(ctx context.Context) ([]model.User, error) {
	if r.q == nil {
		return nil, errNoDatabase
	}
	rows, err := r.q.QueryContext(ctx, `select `+userColumns+` from users order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (r *userRepo) Update(ctx context.Context, id int64, p model.UserPatch) (model.User, error) {
	if r.q == nil {
		return model.User{}, errNoDatabase
	}
	if p.Empty() {
		return r.Get(ctx, id)
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	add := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, idx))
		args = append(args, value)
		idx++
	}
	if p.Email != nil {
		add("email", strings.ToLower(strings.TrimSpace(*p.Email)))
	}
	if p.Name != nil {
		add("name", *p.Name)
	}
	if p.PasswordHash != nil {
		add("password_hash", *p.PasswordHash)
	}
	if p.Role != nil {
		add("role", p.Role.String())
	}
	if p.Active != nil {
		add("is_active", *p.Active)
	}
	query := fmt.Sprintf(`update users set %s where id = $%d returning %s`, strings.Join(sets, ", "), idx, userColumns)
	args = append(args, id)
	u, err := scanUser(r.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, fmt.Errorf("%w: user %d", errs.ErrNotFound, id)
		}
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return model.User{}, fmt.Errorf("%w: email already registered", errs.ErrConflict)
		}
		return model.User{}, err
	}
	return u, nil
}

func (r *userRepo) Delete(ctx context.Context, id int64) error {
	if r.q == nil {
		return errNoDatabase
	}
	res, err := r.q.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res, fmt.Errorf("%w: user %d", errs.ErrNotFound, id))
}

func (r *userRepo) TouchLogin(ctx context.Context, id int64, at time.Time) error {
	if r.q == nil {
		return errNoDatabase
	}
	res, err := r.q.ExecContext(ctx, `update users set last_login = $1 where id = $2`, at.UTC(), id)
	if err != nil {
		return err
	}
	return expectOneRow(res, fmt.Errorf("%w: user %d", errs.ErrNotFound, id))
}

func (r *userRepo) Count(ctx context.Context) (int, error) {
	if r.q == nil {
		return 0, errNoDatabase
	}
	var n int
	if err := r.q.QueryRowContext(ctx, `select count(*) from users`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func expectOneRow(res sql.Result, notFound error) error {
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return notFound
	}
	return nil
}
