package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"eadash.io/internal/errs"
	"eadash.io/internal/model"
)

type userRepo struct {
	store *Store
	tx    *state
}

func (r *userRepo) Create(ctx context.Context, u *model.User) error {
	st, done := acquire(r.store, r.tx, true)
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if emailTaken(st, u.Email, 0) {
		done(false)
		return fmt.Errorf("%w: email %s already registered", errs.ErrConflict, u.Email)
	}
	st.nextUserID++
	u.ID = st.nextUserID
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	st.users[u.ID] = *u
	done(true)
	return nil
}

func (r *userRepo) Get(ctx context.Context, id int64) (model.User, error) {
	st, done := acquire(r.store, r.tx, false)
	defer done(false)
	u, ok := st.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("%w: user %d", errs.ErrNotFound, id)
	}
	return u, nil
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	st, done := acquire(r.store, r.tx, false)
	defer done(false)
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range st.users {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, fmt.Errorf("%w: user %s", errs.ErrNotFound, email)
}

func (r *userRepo) List(ctx context.Context) ([]model.User, error) {
	st, done := acquire(r.store, r.tx, false)
	defer done(false)
	out := make([]model.User, 0, len(st.users))
	for _, u := range st.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *userRepo) Update(ctx context.Context, id int64, p model.UserPatch) (model.User, error) {
	st, done := acquire(r.store, r.tx, true)
	u, ok := st.users[id]
	if !ok {
		done(false)
		return model.User{}, fmt.Errorf("%w: user %d", errs.ErrNotFound, id)
	}
	if p.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*p.Email))
		if emailTaken(st, email, id) {
			done(false)
			return model.User{}, fmt.Errorf("%w: email %s already registered", errs.ErrConflict, email)
		}
		p.Email = &email
	}
	if p.Empty() {
		done(false)
		return u, nil
	}
	p.Apply(&u)
	st.users[id] = u
	done(true)
	return u, nil
}

func (r *userRepo) Delete(ctx context.Context, id int64) error {
	st, done := acquire(r.store, r.tx, true)
	if _, ok := st.users[id]; !ok {
		done(false)
		return fmt.Errorf("%w: user %d", errs.ErrNotFound, id)
	}
	delete(st.users, id)
	done(true)
	return nil
}

func (r *userRepo) TouchLogin(ctx context.Context, id int64, at time.Time) error {
	st, done := acquire(r.store, r.tx, true)
	u, ok := st.users[id]
	if !ok {
		done(false)
		return fmt.Errorf("%w: user %d", errs.ErrNotFound, id)
	}
	at = at.UTC().Truncate(time.Microsecond)
	u.LastLogin = &at
	st.users[id] = u
	done(true)
	return nil
}

func (r *userRepo) Count(ctx context.Context) (int, error) {
	st, done := acquire(r.store, r.tx, false)
	defer done(false)
	return len(st.users), nil
}

func emailTaken(st *state, email string, except int64) bool {
	for id, u := range st.users {
		if id != except && u.Email == email {
			return true
		}
	}
	return false
}
