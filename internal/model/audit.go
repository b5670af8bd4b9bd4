package model

import (
	"fmt"
	"strings"
	"time"

	"eadash.io/internal/errs"
)

// AuditAction is the kind of mutation an audit entry describes.
type AuditAction string

const (
	ActionCreate AuditAction = "CREATE"
	ActionUpdate AuditAction = "UPDATE"
	ActionDelete AuditAction = "DELETE"
)

// ParseAuditAction accepts the three mutation kinds, case-insensitively.
func ParseAuditAction(s string) (AuditAction, error) {
	switch a := AuditAction(strings.ToUpper(strings.TrimSpace(s))); a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return a, nil
	}
	return "", fmt.Errorf("%w: invalid action %q", errs.ErrInvalidInput, s)
}

// AuditEntry is an append-only record of a successful mutation.
type AuditEntry struct {
	ID         int64       `json:"id"`
	Timestamp  time.Time   `json:"timestamp"`
	UserID     *int64      `json:"userId"`
	UserEmail  *string     `json:"userEmail"`
	Action     AuditAction `json:"action"`
	EntityType string      `json:"entityType"`
	EntityID   *string     `json:"entityId"`
	Detail     *string     `json:"detail"`
}

// AuditFilter narrows an audit log query. Empty strings match everything.
type AuditFilter struct {
	EntityType string
	Action     AuditAction
	UserEmail  string
	Limit      int
	Offset     int
}
