package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"eadash.io/internal/audit"
	"eadash.io/internal/config"
	"eadash.io/internal/errs"
	"eadash.io/internal/model"
	"eadash.io/internal/obs"
	"eadash.io/internal/store"
)

// UserEntityType tags audit entries about user accounts.
const UserEntityType = "user"

// TokenPair is the login response.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// NewUser is an admin request to create an account.
type NewUser struct {
	Email    string
	Name     string
	Password string
	Role     model.Role
	Active   bool
}

// UserChanges is an admin request to modify an account; nil fields stay.
type UserChanges struct {
	Email    *string
	Name     *string
	Password *string
	Role     *model.Role
	Active   *bool
}

// Accounts implements login, token refresh, self-service profile changes
// and user administration.
type Accounts struct {
	store  store.Store
	tokens *TokenService
	audit  *audit.Recorder
	now    func() time.Time
}

// NewAccounts constructs the account service.
func NewAccounts(st store.Store, tokens *TokenService, rec *audit.Recorder) *Accounts {
	return &Accounts{store: st, tokens: tokens, audit: rec, now: time.Now}
}

// Login exchanges credentials for a token pair and records the login time.
func (a *Accounts) Login(ctx context.Context, email, password string) (TokenPair, error) {
	user, err := a.store.Users().GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return TokenPair{}, err
	}
	if err != nil || !VerifyPassword(user.PasswordHash, password) {
		obs.AuthFailure("bad_credentials")
		return TokenPair{}, fmt.Errorf("%w: invalid email or password", errs.ErrUnauthenticated)
	}
	if !user.Active {
		obs.AuthFailure("disabled")
		return TokenPair{}, errs.ErrAccountDisabled
	}
	if err := a.store.Users().TouchLogin(ctx, user.ID, a.now()); err != nil {
		return TokenPair{}, err
	}
	access, _, err := a.tokens.IssueAccessToken(user.ID, user.Email, user.Role)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, _, err := a.tokens.IssueRefreshToken(user.ID, user.Email, user.Role)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(a.tokens.AccessTTL().Seconds()),
	}, nil
}

// Refresh exchanges a refresh token for a new access token carrying the
// user's current role.
func (a *Accounts) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, ok := a.tokens.Validate(refreshToken)
	if !ok || claims.Type != TokenRefresh {
		obs.AuthFailure("invalid_refresh")
		return TokenPair{}, fmt.Errorf("%w: invalid refresh token", errs.ErrUnauthenticated)
	}
	id, _ := claims.UserID()
	user, err := a.store.Users().Get(ctx, id)
	if errors.Is(err, errs.ErrNotFound) || (err == nil && !user.Active) {
		obs.AuthFailure("inactive_user")
		return TokenPair{}, fmt.Errorf("%w: user not found or inactive", errs.ErrUnauthenticated)
	}
	if err != nil {
		return TokenPair{}, err
	}
	access, _, err := a.tokens.IssueAccessToken(user.ID, user.Email, user.Role)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, TokenType: "bearer", ExpiresIn: int(a.tokens.AccessTTL().Seconds())}, nil
}

// UpdateProfile lets a user change their own name or password.
func (a *Accounts) UpdateProfile(ctx context.Context, user *model.User, name, password *string) (model.User, error) {
	changes := UserChanges{Name: name, Password: password}
	return a.update(ctx, user, user.ID, changes)
}

func (a *Accounts) ListUsers(ctx context.Context) ([]model.User, error) {
	return a.store.Users().List(ctx)
}

func (a *Accounts) GetUser(ctx context.Context, id int64) (model.User, error) {
	return a.store.Users().Get(ctx, id)
}

// CreateUser adds an account on behalf of actor.
func (a *Accounts) CreateUser(ctx context.Context, actor *model.User, nu NewUser) (model.User, error) {
	email := strings.ToLower(strings.TrimSpace(nu.Email))
	if !strings.Contains(email, "@") {
		return model.User{}, fmt.Errorf("%w: invalid email", errs.ErrInvalidInput)
	}
	if strings.TrimSpace(nu.Name) == "" {
		return model.User{}, fmt.Errorf("%w: name is required", errs.ErrInvalidInput)
	}
	if !nu.Role.Valid() {
		return model.User{}, fmt.Errorf("%w: invalid role", errs.ErrInvalidInput)
	}
	hash, err := HashPassword(nu.Password)
	if err != nil {
		return model.User{}, err
	}
	user := model.User{
		Email:        email,
		Name:         strings.TrimSpace(nu.Name),
		PasswordHash: hash,
		Role:         nu.Role,
		Active:       nu.Active,
		CreatedAt:    a.now().UTC().Truncate(time.Microsecond),
	}
	var entry model.AuditEntry
	err = a.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().Create(ctx, &user); err != nil {
			return err
		}
		var err error
		entry, err = a.audit.Record(ctx, tx, actor, model.ActionCreate, UserEntityType, strconv.FormatInt(user.ID, 10), "")
		return err
	})
	if err != nil {
		return model.User{}, err
	}
	a.audit.Committed(ctx, entry)
	return user, nil
}

// UpdateUser modifies an account on behalf of actor.
func (a *Accounts) UpdateUser(ctx context.Context, actor *model.User, id int64, ch UserChanges) (model.User, error) {
	return a.update(ctx, actor, id, ch)
}

func (a *Accounts) update(ctx context.Context, actor *model.User, id int64, ch UserChanges) (model.User, error) {
	var p model.UserPatch
	if ch.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*ch.Email))
		if !strings.Contains(email, "@") {
			return model.User{}, fmt.Errorf("%w: invalid email", errs.ErrInvalidInput)
		}
		p.Email = &email
	}
	if ch.Name != nil {
		name := strings.TrimSpace(*ch.Name)
		if name == "" {
			return model.User{}, fmt.Errorf("%w: name must not be empty", errs.ErrInvalidInput)
		}
		p.Name = &name
	}
	if ch.Password != nil {
		hash, err := HashPassword(*ch.Password)
		if err != nil {
			return model.User{}, err
		}
		p.PasswordHash = &hash
	}
	if ch.Role != nil {
		if !ch.Role.Valid() {
			return model.User{}, fmt.Errorf("%w: invalid role", errs.ErrInvalidInput)
		}
		p.Role = ch.Role
	}
	p.Active = ch.Active

	var (
		out   model.User
		entry model.AuditEntry
	)
	err := a.store.InTx(ctx, func(tx store.Tx) error {
		updated, err := tx.Users().Update(ctx, id, p)
		if err != nil {
			return err
		}
		if entry, err = a.audit.Record(ctx, tx, actor, model.ActionUpdate, UserEntityType, strconv.FormatInt(id, 10), ""); err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return model.User{}, err
	}
	a.audit.Committed(ctx, entry)
	return out, nil
}

// DeleteUser removes an account. Administrators cannot remove themselves.
func (a *Accounts) DeleteUser(ctx context.Context, actor *model.User, id int64) error {
	if actor != nil && actor.ID == id {
		return fmt.Errorf("%w: cannot delete yourself", errs.ErrInvalidInput)
	}
	var entry model.AuditEntry
	err := a.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().Delete(ctx, id); err != nil {
			return err
		}
		var err error
		entry, err = a.audit.Record(ctx, tx, actor, model.ActionDelete, UserEntityType, strconv.FormatInt(id, 10), "")
		return err
	})
	if err != nil {
		return err
	}
	a.audit.Committed(ctx, entry)
	return nil
}

// EnsureAdmin creates the bootstrap administrator unless an account with
// that email already exists.
func (a *Accounts) EnsureAdmin(ctx context.Context, cfg config.BootstrapConfig) (bool, error) {
	_, err := a.store.Users().GetByEmail(ctx, cfg.AdminEmail)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return false, err
	}
	_, err = a.CreateUser(ctx, nil, NewUser{
		Email:    cfg.AdminEmail,
		Name:     cfg.AdminName,
		Password: cfg.AdminPassword,
		Role:     model.RoleAdmin,
		Active:   true,
	})
	if errors.Is(err, errs.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("bootstrap admin: %w", err)
	}
	return true, nil
}
