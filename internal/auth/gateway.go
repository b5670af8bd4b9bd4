package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"eadash.io/internal/errs"
	"eadash.io/internal/model"
	"eadash.io/internal/obs"
)

// UserLookup is the part of the credential store the gateway reads.
type UserLookup interface {
	Get(ctx context.Context, id int64) (model.User, error)
}

// Gateway resolves bearer credentials to live, active users.
type Gateway struct {
	tokens *TokenService
	users  UserLookup
}

// NewGateway constructs a Gateway.
func NewGateway(tokens *TokenService, users UserLookup) *Gateway {
	return &Gateway{tokens: tokens, users: users}
}

// BearerToken extracts the credential from an Authorization header value.
// present is false when the header carries no bearer credential at all.
func BearerToken(header string) (token string, present bool) {
	header = strings.TrimSpace(header)
	scheme, rest, found := strings.Cut(header, " ")
	if !found {
		if strings.EqualFold(header, "bearer") {
			return "", true
		}
		return "", false
	}
	if !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// CurrentUser authenticates a request. Without a credential it returns
// (nil, nil) unless required is set. A credential must be a valid access
// token whose subject is an existing, active user.
func (g *Gateway) CurrentUser(ctx context.Context, token string, present, required bool) (*model.User, error) {
	if !present {
		if required {
			obs.AuthFailure("missing")
			return nil, errs.ErrUnauthenticated
		}
		return nil, nil
	}
	claims, ok := g.tokens.Validate(token)
	if !ok || claims.Type != TokenAccess {
		obs.AuthFailure("invalid_token")
		return nil, fmt.Errorf("%w: invalid or expired token", errs.ErrUnauthenticated)
	}
	id, _ := claims.UserID()
	user, err := g.users.Get(ctx, id)
	if errors.Is(err, errs.ErrNotFound) || (err == nil && !user.Active) {
		obs.AuthFailure("inactive_user")
		return nil, fmt.Errorf("%w: user not found or inactive", errs.ErrUnauthenticated)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// RequireRole passes user through when its role is in allowed.
func RequireRole(user *model.User, allowed model.RoleSet) (*model.User, error) {
	if user == nil {
		return nil, errs.ErrUnauthenticated
	}
	if !allowed.Contains(user.Role) {
		obs.AuthFailure("forbidden")
		return nil, errs.ErrForbidden
	}
	return user, nil
}
