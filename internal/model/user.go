// Package model holds the entity types shared by the services and the storage backends.
package model

import (
	"fmt"
	"strings"
	"time"

	"eadash.io/internal/errs"
)

// Role is the closed set of access levels a user can hold.
type Role uint8

const (
	roleUnknown Role = iota
	RoleAdmin
	RoleEditor
	RoleViewer
)

var roleNames = map[Role]string{
	RoleAdmin:  "admin",
	RoleEditor: "editor",
	RoleViewer: "viewer",
}

// ParseRole converts the wire representation into a Role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return RoleAdmin, nil
	case "editor":
		return RoleEditor, nil
	case "viewer":
		return RoleViewer, nil
	}
	return roleUnknown, fmt.Errorf("%w: invalid role %q", errs.ErrInvalidInput, s)
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether r is one of the three defined roles.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("marshal role: invalid value %d", r)
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// RoleSet is an immutable set of roles used for gating.
type RoleSet uint8

// NewRoleSet builds a set from the given roles.
func NewRoleSet(roles ...Role) RoleSet {
	var s RoleSet
	for _, r := range roles {
		if r.Valid() {
			s |= 1 << r
		}
	}
	return s
}

// Contains reports set membership.
func (s RoleSet) Contains(r Role) bool {
	return r.Valid() && s&(1<<r) != 0
}

var (
	// ReadRoles admits any authenticated user.
	ReadRoles = NewRoleSet(RoleAdmin, RoleEditor, RoleViewer)
	// WriteRoles admits users allowed to create and update entities.
	WriteRoles = NewRoleSet(RoleAdmin, RoleEditor)
	// AdminRoles admits administrators only.
	AdminRoles = NewRoleSet(RoleAdmin)
)

// User is an identity record of the credential store.
type User struct {
	ID           int64      `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	Active       bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login"`
}

// UserPatch lists the user attributes to change; nil fields are left untouched.
type UserPatch struct {
	Email        *string
	Name         *string
	PasswordHash *string
	Role         *Role
	Active       *bool
}

// Empty reports whether the patch changes nothing.
func (p UserPatch) Empty() bool {
	return p.Email == nil && p.Name == nil && p.PasswordHash == nil && p.Role == nil && p.Active == nil
}

// Apply copies the patched attributes onto u.
func (p UserPatch) Apply(u *User) {
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.PasswordHash != nil {
		u.PasswordHash = *p.PasswordHash
	}
	if p.Role != nil {
		u.Role = *p.Role
	}
	if p.Active != nil {
		u.Active = *p.Active
	}
}
