package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"eadash.io/internal/model"
)

type auditRepo struct {
	q querier
}

func (r *auditRepo) Append(ctx context.Context, e *model.AuditEntry) error {
	if r.q == nil {
		return errNoDatabase
	}
	var (
		userID    sql.NullInt64
		userEmail sql.NullString
		entityID  sql.NullString
		detail    sql.NullString
	)
	if e.UserID != nil {
		userID = sql.NullInt64{Int64: *e.UserID, Valid: true}
	}
	if e.UserEmail != nil {
		userEmail = nullIfEmpty(*e.UserEmail)
	}
	if e.EntityID != nil {
		entityID = nullIfEmpty(*e.EntityID)
	}
	if e.Detail != nil {
		detail = nullIfEmpty(*e.Detail)
	}
	return r.q.QueryRowContext(ctx, `
		insert into audit_log (occurred_at, user_id, user_email, action, entity_type, entity_id, detail)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning id
	`, e.Timestamp.UTC(), userID, userEmail, string(e.Action), e.EntityType, entityID, detail).Scan(&e.ID)
}

func (r *auditRepo) Query(ctx context.Context, f model.AuditFilter) (int, []model.AuditEntry, error) {
	if r.q == nil {
		return 0, nil, errNoDatabase
	}
	var (
		where []string
		args  []any
	)
	if f.EntityType != "" {
		args = append(args, f.EntityType)
		where = append(where, fmt.Sprintf("entity_type = $%d", len(args)))
	}
	if f.Action != "" {
		args = append(args, string(f.Action))
		where = append(where, fmt.Sprintf("action = $%d", len(args)))
	}
	if f.UserEmail != "" {
		args = append(args, f.UserEmail)
		where = append(where, fmt.Sprintf("user_email = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " where " + strings.Join(where, " and ")
	}

	var total int
	if err := r.q.QueryRowContext(ctx, `select count(*) from audit_log`+clause, args...).Scan(&total); err != nil {
		return 0, nil, err
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`
		select id, occurred_at, user_id, user_email, action, entity_type, entity_id, detail
		from audit_log%s
		order by occurred_at desc, id desc
		limit $%d offset $%d
	`, clause, len(args)-1, len(args))
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	entries := []model.AuditEntry{}
	for rows.Next() {
		var (
			e         model.AuditEntry
			action    string
			userID    sql.NullInt64
			userEmail sql.NullString
			entityID  sql.NullString
			detail    sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &userID, &userEmail, &action, &e.EntityType, &entityID, &detail); err != nil {
			return 0, nil, err
		}
		e.Timestamp = e.Timestamp.UTC()
		e.Action = model.AuditAction(action)
		if userID.Valid {
			id := userID.Int64
			e.UserID = &id
		}
		e.UserEmail = stringPtr(userEmail)
		e.EntityID = stringPtr(entityID)
		e.Detail = stringPtr(detail)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, err
	}
	return total, entries, nil
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
