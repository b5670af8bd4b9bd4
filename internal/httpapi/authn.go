package httpapi

import (
	"net/http"

	"eadash.io/internal/auth"
	"eadash.io/internal/model"
)

const authHeader = "Authorization"

// authed requires a bearer access token for an active user holding one of
// roles, and hands the resolved user to next through the request context.
func (a *API) authed(roles model.RoleSet, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, present := auth.BearerToken(r.Header.Get(authHeader))
		user, err := a.gateway.CurrentUser(r.Context(), token, present, true)
		if err == nil {
			user, err = auth.RequireRole(user, roles)
		}
		if err != nil {
			fail(w, r, err)
			return
		}
		next(w, r.WithContext(auth.ContextWithUser(r.Context(), *user)))
	}
}

// actor returns the user resolved by authed.
func actor(r *http.Request) *model.User {
	user, _ := auth.UserFromContext(r.Context())
	return user
}
