package records

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"eadash.io/internal/audit"
	"eadash.io/internal/errs"
	"eadash.io/internal/model"
	"eadash.io/internal/store/memstore"
)

type fixture struct {
	svc   *Service
	rec   *audit.Recorder
	actor *model.User
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := memstore.New()
	actor := &model.User{Email: "editor@example.com", Name: "Ed", Role: model.RoleEditor, Active: true}
	require.NoError(t, st.Users().Create(context.Background(), actor))
	rec := audit.NewRecorder(st)
	return fixture{svc: NewService(st, rec), rec: rec, actor: actor}
}

func (f fixture) schema(t *testing.T, name string) *model.Schema {
	t.Helper()
	s, ok := f.svc.Catalog().Lookup(name)
	require.True(t, ok, name)
	return s
}

func (f fixture) create(t *testing.T, family, body string) model.Record {
	t.Helper()
	s := f.schema(t, family)
	d, err := DecodeCreate(s, []byte(body))
	require.NoError(t, err)
	rec, err := f.svc.Create(context.Background(), f.actor, s, d)
	require.NoError(t, err)
	return rec
}

func (f fixture) auditLog(t *testing.T) []model.AuditEntry {
	t.Helper()
	page, err := f.rec.Query(context.Background(), model.AuditFilter{Limit: audit.MaxLimit})
	require.NoError(t, err)
	return page.Entries
}

func patch(t *testing.T, s *model.Schema, body string) model.Patch {
	t.Helper()
	p, err := DecodePatch(s, []byte(body))
	require.NoError(t, err)
	return p
}

func TestCreateAssignsPrefixedIDAndVersion(t *testing.T) {
	f := newFixture(t)

	first := f.create(t, FamilyApplications, `{"name":"CRM"}`)
	second := f.create(t, FamilyApplications, `{"name":"ERP"}`)

	require.Equal(t, "APP-001", first.ID)
	require.Equal(t, "APP-002", second.ID)
	require.Equal(t, 1, first.Version)

	entries := f.auditLog(t)
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.Equal(t, model.ActionCreate, e.Action)
		require.Equal(t, "application", e.EntityType)
		require.Equal(t, "editor@example.com", *e.UserEmail)
	}
}

func TestCreateSerialAndChildIDs(t *testing.T) {
	f := newFixture(t)

	dom := f.create(t, FamilyDomains, `{"name":"Sales"}`)
	require.Equal(t, "1", dom.ID)
	require.True(t, dom.NumericID)
	require.Zero(t, dom.Version)

	capRec := f.create(t, FamilyCapabilities, `{"name":"Lead management","domain_id":1}`)
	require.Regexp(t, `^1\.[0-9a-f]{4}$`, capRec.ID)

	sub := f.create(t, FamilySubCapabilities, `{"name":"Scoring","capability_id":"`+capRec.ID+`"}`)
	require.Regexp(t, `^1\.[0-9a-f]{4}\.[0-9a-f]{4}$`, sub.ID)
}

func TestCreateChildOfMissingParent(t *testing.T) {
	f := newFixture(t)
	s := f.schema(t, FamilyCapabilities)
	d, err := DecodeCreate(s, []byte(`{"name":"Orphan","domain_id":99}`))
	require.NoError(t, err)

	_, err = f.svc.Create(context.Background(), f.actor, s, d)
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.Empty(t, f.auditLog(t))
}

func TestRoundTripAndPartialUpdate(t *testing.T) {
	f := newFixture(t)
	s := f.schema(t, FamilyApplications)
	created := f.create(t, FamilyApplications, `{"name":"CRM","vendor":"Acme","cost_per_year":1200.5,"technology":["go","postgres"]}`)

	got, err := f.svc.Get(context.Background(), s, created.ID)
	require.NoError(t, err)
	require.Equal(t, "CRM", got.Fields["name"])
	require.Equal(t, "Acme", got.Fields["vendor"])
	require.Equal(t, 1200.5, got.Fields["cost_per_year"])
	require.JSONEq(t, `["go","postgres"]`, string(got.Fields["technology"].(json.RawMessage)))

	updated, err := f.svc.Update(context.Background(), f.actor, s, created.ID, patch(t, s, `{"name":"CRM 2"}`), Precondition{})
	require.NoError(t, err)
	require.Equal(t, "CRM 2", updated.Fields["name"])
	require.Equal(t, "Acme", updated.Fields["vendor"])

	cleared, err := f.svc.Update(context.Background(), f.actor, s, created.ID, patch(t, s, `{"vendor":null}`), Precondition{})
	require.NoError(t, err)
	require.Nil(t, cleared.Fields["vendor"])
	require.Equal(t, "CRM 2", cleared.Fields["name"])
}

func TestVersionIncrementsOncePerUpdate(t *testing.T) {
	f := newFixture(t)
	s := f.schema(t, FamilyDataObjects)
	created := f.create(t, FamilyDataObjects, `{"name":"Customer"}`)

	const updates = 5
	var last model.Record
	for i := 0; i < updates; i++ {
		var err error
		last, err = f.svc.Update(context.Background(), f.actor, s, created.ID, patch(t, s, `{"owner":"team"}`), Precondition{})
		require.NoError(t, err)
	}
	require.Equal(t, 1+updates, last.Version)
}

func TestConditionalUpdateConflict(t *testing.T) {
	f := newFixture(t)
	s := f.schema(t, FamilyApplications)
	created := f.create(t, FamilyApplications, `{"name":"X"}`)

	updated, err := f.svc.Update(context.Background(), f.actor, s, created.ID, patch(t, s, `{"name":"Y"}`), Precondition{Version: 1, Set: true})
	require.NoError(t, err)
	require.Equal(t, 2, updated.Version)

	_, err = f.svc.Update(context.Background(), f.actor, s, created.ID, patch(t, s, `{"name":"Z"}`), Precondition{Version: 1, Set: true})
	require.ErrorIs(t, err, errs.ErrVersionConflict)

	got, err := f.svc.Get(context.Background(), s, created.ID)
	require.NoError(t, err)
	require.Equal(t, "Y", got.Fields["name"])
	require.Equal(t, 2, got.Version)

	entries := f.auditLog(t)
	require.Len(t, entries, 2, "a rejected update must not be audited")
	require.Equal(t, model.ActionUpdate, entries[0].Action)
}

func TestUnversionedFamilyIgnoresPrecondition(t *testing.T) {
	f := newFixture(t)
	s := f.schema(t, FamilyVendors)
	created := f.create(t, FamilyVendors, `{"name":"Acme"}`)
	require.Equal(t, "VND-001", created.ID)

	updated, err := f.svc.Update(context.Background(), f.actor, s, created.ID, patch(t, s, `{"status":"active"}`), Precondition{Version: 42, Set: true})
	require.NoError(t, err)
	require.Zero(t, updated.Version)
	require.Equal(t, "active", updated.Fields["status"])
}

func TestUpdateMissingRow(t *testing.T) {
	f := newFixture(t)
	s := f.schema(t, FamilyApplications)

	_, err := f.svc.Update(context.Background(), f.actor, s, "APP-404", patch(t, s, `{"name":"Y"}`), Precondition{Version: 1, Set: true})
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.Empty(t, f.auditLog(t))
}

func TestDeleteCascadesAndAuditsOnce(t *testing.T) {
	f := newFixture(t)
	domains := f.schema(t, FamilyDomains)
	f.create(t, FamilyDomains, `{"name":"Sales"}`)
	capRec := f.create(t, FamilyCapabilities, `{"name":"Leads","domain_id":1}`)
	f.create(t, FamilySubCapabilities, `{"name":"Scoring","capability_id":"`+capRec.ID+`"}`)

	got, err := f.svc.Get(context.Background(), domains, "1")
	require.NoError(t, err)
	caps := got.Fields[FamilyCapabilities].([]model.Record)
	require.Len(t, caps, 1)
	require.Len(t, caps[0].Fields[FamilySubCapabilities].([]model.Record), 1)

	require.NoError(t, f.svc.Delete(context.Background(), f.actor, domains, "1"))

	left, err := f.svc.List(context.Background(), f.schema(t, FamilyCapabilities), nil)
	require.NoError(t, err)
	require.Empty(t, left)
	subs, err := f.svc.List(context.Background(), f.schema(t, FamilySubCapabilities), nil)
	require.NoError(t, err)
	require.Empty(t, subs)

	entries := f.auditLog(t)
	require.Equal(t, model.ActionDelete, entries[0].Action)
	require.Equal(t, "domain", entries[0].EntityType)
	require.Equal(t, "1", *entries[0].EntityID)
	deletes := 0
	for _, e := range entries {
		if e.Action == model.ActionDelete {
			deletes++
		}
	}
	require.Equal(t, 1, deletes)

	err = f.svc.Delete(context.Background(), f.actor, domains, "1")
	require.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestListFilters(t *testing.T) {
	f := newFixture(t)
	s := f.schema(t, FamilyApplications)
	f.create(t, FamilyApplications, `{"name":"A","category":"core"}`)
	f.create(t, FamilyApplications, `{"name":"B","category":"support"}`)
	f.create(t, FamilyApplications, `{"name":"C","category":"core"}`)

	filters, err := ParseFilters(s, map[string][]string{"category": {"core"}, "name": {"B"}})
	require.NoError(t, err)
	recs, err := f.svc.List(context.Background(), s, filters)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "APP-001", recs[0].ID)
	require.Equal(t, "APP-003", recs[1].ID)
}

func TestSeedExportRoundTrip(t *testing.T) {
	f := newFixture(t)
	doc := `{
		"domains": [{"id": 1, "name": "Sales"}],
		"capabilities": [{"id": "1.1", "domain_id": 1, "name": "Leads"}],
		"applications": [{"id": "APP-007", "name": "CRM", "version": 3, "time_quadrant": "Invest"}],
		"vendors": [{"name": "Acme"}]
	}`
	counts, err := f.svc.Seed(context.Background(), f.actor, []byte(doc))
	require.NoError(t, err)
	require.Equal(t, 1, counts[FamilyApplications])
	require.Equal(t, 0, counts[FamilyProjects])

	exported, err := f.svc.Export(context.Background())
	require.NoError(t, err)
	require.Len(t, exported[FamilyApplications], 1)
	require.Equal(t, 3, exported[FamilyApplications][0].Version)
	require.Equal(t, "VND-001", exported[FamilyVendors][0].ID)

	data, err := json.Marshal(exported)
	require.NoError(t, err)
	again, err := f.svc.Seed(context.Background(), f.actor, data)
	require.NoError(t, err)
	require.Equal(t, counts, again)

	reexported, err := f.svc.Export(context.Background())
	require.NoError(t, err)
	redata, err := json.Marshal(reexported)
	require.NoError(t, err)
	require.JSONEq(t, string(data), string(redata))

	entries := f.auditLog(t)
	require.Len(t, entries, 2)
	require.Equal(t, SeedEntityType, entries[0].EntityType)
	require.Equal(t, model.ActionUpdate, entries[0].Action)
	require.Nil(t, entries[0].EntityID)
}

func TestSeedIsAtomic(t *testing.T) {
	f := newFixture(t)
	f.create(t, FamilyApplications, `{"name":"Keep me"}`)

	_, err := f.svc.Seed(context.Background(), f.actor, []byte(`{"applications":[{"name":"ok"},{"vendor":"no name"}]}`))
	require.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = f.svc.Seed(context.Background(), f.actor, []byte(`{"capabilities":[{"name":"orphan","domain_id":5}]}`))
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = f.svc.Seed(context.Background(), f.actor, []byte(`{"gadgets":[]}`))
	require.ErrorIs(t, err, errs.ErrInvalidInput)

	recs, err := f.svc.List(context.Background(), f.schema(t, FamilyApplications), nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "Keep me", recs[0].Fields["name"])
	require.Len(t, f.auditLog(t), 1)
}

func TestSummaryAndDistribution(t *testing.T) {
	f := newFixture(t)
	empty, err := f.svc.Empty(context.Background())
	require.NoError(t, err)
	require.True(t, empty)

	f.create(t, FamilyApplications, `{"name":"A","time_quadrant":"Invest"}`)
	f.create(t, FamilyApplications, `{"name":"B","time_quadrant":"Invest"}`)
	f.create(t, FamilyApplications, `{"name":"C","time_quadrant":"Tolerate"}`)
	f.create(t, FamilyApplications, `{"name":"D"}`)
	f.create(t, FamilyDomains, `{"name":"Sales"}`)

	summary, err := f.svc.Summary(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, summary[FamilyApplications])
	require.Equal(t, 1, summary[FamilyDomains])
	require.Equal(t, 0, summary[FamilyVendors])

	dist, err := f.svc.Distribution(context.Background(), "time_quadrant")
	require.NoError(t, err)
	require.Equal(t, map[string]int{"Invest": 2, "Tolerate": 1}, dist)

	_, err = f.svc.Distribution(context.Background(), "name")
	require.ErrorIs(t, err, errs.ErrInvalidInput)

	f.create(t, FamilyCompliance, `{"regulation":"GDPR","status":"compliant"}`)
	f.create(t, FamilyCompliance, `{"regulation":"DORA","status":"in_progress"}`)
	f.create(t, FamilyCompliance, `{"regulation":"NIS2","status":"compliant"}`)
	f.create(t, FamilyCompliance, `{"regulation":"SOX"}`)

	status, err := f.svc.ComplianceStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[string]int{"compliant": 2, "in_progress": 1}, status)
}
