package memstore

import (
	"context"
	"sort"

	"eadash.io/internal/model"
)

type auditRepo struct {
	store *Store
	tx    *state
}

func (r *auditRepo) Append(ctx context.Context, e *model.AuditEntry) error {
	st, done := acquire(r.store, r.tx, true)
	st.nextAuditID++
	e.ID = st.nextAuditID
	st.audit = append(st.audit, *e)
	done(true)
	return nil
}

func (r *auditRepo) Query(ctx context.Context, f model.AuditFilter) (int, []model.AuditEntry, error) {
	st, done := acquire(r.store, r.tx, false)
	defer done(false)

	var matched []model.AuditEntry
	for _, e := range st.audit {
		if f.EntityType != "" && e.EntityType != f.EntityType {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.UserEmail != "" && (e.UserEmail == nil || *e.UserEmail != f.UserEmail) {
			continue
		}
		matched = append(matched, e)
	}
	// newest first; ties keep the later insert first
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	total := len(matched)
	if f.Offset >= total {
		return total, []model.AuditEntry{}, nil
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < end {
		end = f.Offset + f.Limit
	}
	page := make([]model.AuditEntry, end-f.Offset)
	copy(page, matched[f.Offset:end])
	return total, page, nil
}
