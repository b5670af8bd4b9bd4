// Package audit stages audit log entries inside the caller's transaction and
// serves the admin audit log query.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"eadash.io/internal/errs"
	"eadash.io/internal/model"
	"eadash.io/internal/obs"
	"eadash.io/internal/store"
)

const (
	DefaultLimit = 100
	MaxLimit     = 500
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context so that
// committed entries can be correlated with the access log.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Recorder writes audit entries. It never commits on its own: Record appends
// through the transaction handed in by the caller.
type Recorder struct {
	store store.Store
	now   func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the timestamp source.
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder builds a Recorder reading the audit log from st.
func NewRecorder(st store.Store, opts ...Option) *Recorder {
	r := &Recorder{store: st, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record stages one entry in tx. A nil actor leaves the user columns null.
// Empty entityID and detail are stored as null.
func (r *Recorder) Record(ctx context.Context, tx store.Tx, actor *model.User, action model.AuditAction, entityType, entityID, detail string) (model.AuditEntry, error) {
	entry := model.AuditEntry{
		Timestamp:  r.now().UTC().Truncate(time.Microsecond),
		Action:     action,
		EntityType: entityType,
		EntityID:   optional(entityID),
		Detail:     optional(detail),
	}
	if actor != nil {
		id, email := actor.ID, actor.Email
		entry.UserID = &id
		entry.UserEmail = &email
	}
	if err := tx.Audit().Append(ctx, &entry); err != nil {
		return model.AuditEntry{}, fmt.Errorf("append audit entry: %w", err)
	}
	return entry, nil
}

// Committed reports entries whose transaction has committed to the log and
// the metrics registry.
func (r *Recorder) Committed(ctx context.Context, entries ...model.AuditEntry) {
	logger := obs.Logger()
	for _, e := range entries {
		fields := []zap.Field{
			zap.String("type", "audit"),
			zap.Int64("audit_id", e.ID),
			zap.String("action", string(e.Action)),
			zap.String("entity_type", e.EntityType),
		}
		if e.EntityID != nil {
			fields = append(fields, zap.String("entity_id", *e.EntityID))
		}
		if e.UserID != nil {
			fields = append(fields, zap.Int64("user_id", *e.UserID))
		}
		if rid := requestIDFromContext(ctx); rid != "" {
			fields = append(fields, zap.String("request_id", rid))
		}
		logger.Info("audit_entry", fields...)
		obs.AuditRecorded(string(e.Action), e.EntityType)
	}
}

// Page is one window of the audit log.
type Page struct {
	Total   int                `json:"total"`
	Entries []model.AuditEntry `json:"entries"`
}

// Query returns entries matching f, newest first. A zero limit selects the
// default page size and limits above MaxLimit are capped.
func (r *Recorder) Query(ctx context.Context, f model.AuditFilter) (Page, error) {
	if f.Offset < 0 {
		return Page{}, fmt.Errorf("%w: offset must not be negative", errs.ErrInvalidInput)
	}
	switch {
	case f.Limit < 0:
		return Page{}, fmt.Errorf("%w: limit must not be negative", errs.ErrInvalidInput)
	case f.Limit == 0:
		f.Limit = DefaultLimit
	case f.Limit > MaxLimit:
		f.Limit = MaxLimit
	}
	if f.Action != "" {
		action, err := model.ParseAuditAction(string(f.Action))
		if err != nil {
			return Page{}, err
		}
		f.Action = action
	}
	f.EntityType = strings.TrimSpace(f.EntityType)
	f.UserEmail = strings.ToLower(strings.TrimSpace(f.UserEmail))

	total, entries, err := r.store.Audit().Query(ctx, f)
	if err != nil {
		return Page{}, fmt.Errorf("query audit log: %w", err)
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	return Page{Total: total, Entries: entries}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
