package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"eadash.io/internal/errs"
	"eadash.io/internal/model"
	"eadash.io/internal/obs"
	"eadash.io/internal/store"
	"eadash.io/internal/store/memstore"
)

func fixedClock(start time.Time) func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return start.Add(time.Duration(n) * time.Second)
	}
}

func TestRecordRollsBackWithTransaction(t *testing.T) {
	st := memstore.New()
	rec := NewRecorder(st)
	actor := &model.User{ID: 7, Email: "admin@example.com"}
	boom := errors.New("boom")

	err := st.InTx(context.Background(), func(tx store.Tx) error {
		if _, err := rec.Record(context.Background(), tx, actor, model.ActionCreate, "application", "APP-001", ""); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	page, err := rec.Query(context.Background(), model.AuditFilter{})
	require.NoError(t, err)
	require.Zero(t, page.Total)
	require.NotNil(t, page.Entries)
}

func TestRecordAttributesActor(t *testing.T) {
	st := memstore.New()
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	rec := NewRecorder(st, WithClock(func() time.Time { return at }))

	var entry model.AuditEntry
	err := st.InTx(context.Background(), func(tx store.Tx) error {
		var err error
		entry, err = rec.Record(context.Background(), tx, &model.User{ID: 3, Email: "ed@example.com"}, model.ActionUpdate, "vendor", "VND-002", "renamed")
		return err
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), entry.ID)
	require.Equal(t, at, entry.Timestamp)
	require.Equal(t, int64(3), *entry.UserID)
	require.Equal(t, "ed@example.com", *entry.UserEmail)
	require.Equal(t, "VND-002", *entry.EntityID)
	require.Equal(t, "renamed", *entry.Detail)

	err = st.InTx(context.Background(), func(tx store.Tx) error {
		entry, err = rec.Record(context.Background(), tx, nil, model.ActionUpdate, "database", "", "")
		return err
	})
	require.NoError(t, err)
	require.Nil(t, entry.UserID)
	require.Nil(t, entry.UserEmail)
	require.Nil(t, entry.EntityID)
	require.Nil(t, entry.Detail)
}

func TestQueryFiltersAndPaging(t *testing.T) {
	st := memstore.New()
	rec := NewRecorder(st, WithClock(fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))))
	admin := &model.User{ID: 1, Email: "admin@example.com"}
	editor := &model.User{ID: 2, Email: "editor@example.com"}

	err := st.InTx(context.Background(), func(tx store.Tx) error {
		for i := 1; i <= 6; i++ {
			actor := admin
			if i%2 == 0 {
				actor = editor
			}
			if _, err := rec.Record(context.Background(), tx, actor, model.ActionCreate, "application", fmt.Sprintf("APP-%03d", i), ""); err != nil {
				return err
			}
		}
		_, err := rec.Record(context.Background(), tx, admin, model.ActionDelete, "vendor", "VND-001", "")
		return err
	})
	require.NoError(t, err)

	page, err := rec.Query(context.Background(), model.AuditFilter{})
	require.NoError(t, err)
	require.Equal(t, 7, page.Total)
	require.Equal(t, model.ActionDelete, page.Entries[0].Action)
	for i := 1; i < len(page.Entries); i++ {
		require.False(t, page.Entries[i].Timestamp.After(page.Entries[i-1].Timestamp))
	}

	page, err = rec.Query(context.Background(), model.AuditFilter{EntityType: "application", UserEmail: "Editor@Example.com", Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Equal(t, 3, page.Total)
	require.Len(t, page.Entries, 2)
	require.Equal(t, "APP-004", *page.Entries[0].EntityID)
	require.Equal(t, "APP-002", *page.Entries[1].EntityID)

	page, err = rec.Query(context.Background(), model.AuditFilter{Action: "delete"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)

	page, err = rec.Query(context.Background(), model.AuditFilter{Offset: 50})
	require.NoError(t, err)
	require.Equal(t, 7, page.Total)
	require.Empty(t, page.Entries)
}

func TestQueryValidation(t *testing.T) {
	rec := NewRecorder(memstore.New())

	_, err := rec.Query(context.Background(), model.AuditFilter{Offset: -1})
	require.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = rec.Query(context.Background(), model.AuditFilter{Action: "PURGE"})
	require.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = rec.Query(context.Background(), model.AuditFilter{Limit: -5})
	require.ErrorIs(t, err, errs.ErrInvalidInput)
}

type capturingRepo struct {
	store.AuditRepo
	got model.AuditFilter
}

func (c *capturingRepo) Query(_ context.Context, f model.AuditFilter) (int, []model.AuditEntry, error) {
	c.got = f
	return 0, nil, nil
}

type capturingStore struct {
	store.Store
	repo *capturingRepo
}

func (c capturingStore) Audit() store.AuditRepo { return c.repo }

func TestQueryLimitDefaults(t *testing.T) {
	repo := &capturingRepo{}
	rec := NewRecorder(capturingStore{repo: repo})

	_, err := rec.Query(context.Background(), model.AuditFilter{})
	require.NoError(t, err)
	require.Equal(t, DefaultLimit, repo.got.Limit)

	_, err = rec.Query(context.Background(), model.AuditFilter{Limit: 10000})
	require.NoError(t, err)
	require.Equal(t, MaxLimit, repo.got.Limit)
}

func TestCommittedLogsEntries(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	restore := obs.SetLogger(zap.New(core))
	defer restore()

	rec := NewRecorder(memstore.New())
	id := "APP-001"
	userID := int64(9)
	ctx := WithRequestID(context.Background(), "req-123")
	rec.Committed(ctx, model.AuditEntry{ID: 4, Action: model.ActionCreate, EntityType: "application", EntityID: &id, UserID: &userID})

	entries := logs.FilterMessage("audit_entry").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "audit", fields["type"])
	require.Equal(t, "CREATE", fields["action"])
	require.Equal(t, "APP-001", fields["entity_id"])
	require.Equal(t, "req-123", fields["request_id"])
	require.Equal(t, int64(9), fields["user_id"])
}
