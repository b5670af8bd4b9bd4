package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"eadash.io/internal/auth"
	"eadash.io/internal/errs"
	"eadash.io/internal/model"
)

type createUserRequest struct {
	Email    string  `json:"email"`
	Name     string  `json:"name"`
	Password string  `json:"password"`
	Role     *string `json:"role"`
	Active   *bool   `json:"is_active"`
}

type updateUserRequest struct {
	Email    *string `json:"email"`
	Name     *string `json:"name"`
	Password *string `json:"password"`
	Role     *string `json:"role"`
	Active   *bool   `json:"is_active"`
}

func userID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: user %s", errs.ErrNotFound, r.PathValue("id"))
	}
	return id, nil
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.accounts.ListUsers(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	user, err := a.accounts.GetUser(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	nu := auth.NewUser{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
		Role:     model.RoleViewer,
		Active:   true,
	}
	if req.Role != nil {
		role, err := model.ParseRole(*req.Role)
		if err != nil {
			fail(w, r, err)
			return
		}
		nu.Role = role
	}
	if req.Active != nil {
		nu.Active = *req.Active
	}
	user, err := a.accounts.CreateUser(r.Context(), actor(r), nu)
	if err != nil {
		fail(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/admin/users/%d", user.ID))
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	ch := auth.UserChanges{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
		Active:   req.Active,
	}
	if req.Role != nil {
		role, err := model.ParseRole(*req.Role)
		if err != nil {
			fail(w, r, err)
			return
		}
		ch.Role = &role
	}
	user, err := a.accounts.UpdateUser(r.Context(), actor(r), id, ch)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := a.accounts.DeleteUser(r.Context(), actor(r), id); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(r, "limit")
	if err != nil {
		fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		fail(w, r, err)
		return
	}
	page, err := a.audit.Query(r.Context(), model.AuditFilter{
		EntityType: q.Get("entity_type"),
		Action:     model.AuditAction(q.Get("action")),
		UserEmail:  q.Get("user_email"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
