package records

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"eadash.io/internal/errs"
	"eadash.io/internal/model"
	"eadash.io/internal/store"
)

// SeedEntityType tags the audit entry written for a reseed.
const SeedEntityType = "database"

// DistributionFields are the application columns the dashboard groups by.
var DistributionFields = []string{"time_quadrant", "category", "criticality", "lifecycle_status"}

// Dataset is the export document: rows per family, without nesting.
type Dataset map[string][]model.Record

// Export returns every row of every family.
func (s *Service) Export(ctx context.Context) (Dataset, error) {
	repo := s.store.Records()
	out := make(Dataset, len(s.catalog.ordered))
	for _, schema := range s.catalog.ordered {
		recs, err := repo.List(ctx, schema, nil)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", schema.Name, err)
		}
		out[schema.Name] = recs
	}
	return out, nil
}

type seedFamily struct {
	schema *model.Schema
	drafts []Draft
}

// decodeSeed validates a whole seed document before anything is written.
func (s *Service) decodeSeed(body []byte) ([]seedFamily, error) {
	var doc map[string][]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: seed document must map family names to arrays of objects", errs.ErrInvalidInput)
	}
	for name := range doc {
		if _, ok := s.catalog.Lookup(name); !ok {
			return nil, fmt.Errorf("%w: unknown family %q", errs.ErrInvalidInput, name)
		}
	}
	families := make([]seedFamily, 0, len(s.catalog.ordered))
	for _, schema := range s.catalog.ordered {
		fam := seedFamily{schema: schema}
		for i, raw := range doc[schema.Name] {
			obj, err := decodeObject(raw)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", schema.Name, i, err)
			}
			d, err := draftFromObject(schema, obj, true)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", schema.Name, i, err)
			}
			fam.drafts = append(fam.drafts, d)
		}
		families = append(families, fam)
	}
	return families, nil
}

// Seed replaces the content of every family with the document in body. The
// replacement is atomic and audited as a single UPDATE of the database.
func (s *Service) Seed(ctx context.Context, actor *model.User, body []byte) (map[string]int, error) {
	families, err := s.decodeSeed(body)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(families))
	var entry model.AuditEntry
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		repo := tx.Records()
		for i := len(s.catalog.ordered) - 1; i >= 0; i-- {
			if err := repo.Truncate(ctx, s.catalog.ordered[i]); err != nil {
				return err
			}
		}
		parts := make([]string, 0, len(families))
		for _, fam := range families {
			for i, d := range fam.drafts {
				if err := s.checkParent(ctx, repo, fam.schema, d.Fields); err != nil {
					return fmt.Errorf("%s[%d]: %w", fam.schema.Name, i, err)
				}
				id := d.ID
				if id == "" {
					next, err := s.nextID(ctx, repo, fam.schema, d.Fields)
					if err != nil {
						return err
					}
					id = next
				}
				rec := model.Record{ID: id, NumericID: fam.schema.IDStrategy == model.IDSerial, Fields: d.Fields}
				if fam.schema.Versioned {
					rec.Version = max(d.Version, 1)
				}
				if err := repo.Insert(ctx, fam.schema, rec); err != nil {
					return fmt.Errorf("%s[%d]: %w", fam.schema.Name, i, err)
				}
			}
			counts[fam.schema.Name] = len(fam.drafts)
			parts = append(parts, fmt.Sprintf("%s=%d", fam.schema.Name, len(fam.drafts)))
		}
		var err error
		entry, err = s.audit.Record(ctx, tx, actor, model.ActionUpdate, SeedEntityType, "", "reseed: "+strings.Join(parts, ", "))
		return err
	})
	if err != nil {
		return nil, err
	}
	s.audit.Committed(ctx, entry)
	return counts, nil
}

// Empty reports whether no family holds any row.
func (s *Service) Empty(ctx context.Context) (bool, error) {
	counts, err := s.Summary(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range counts {
		if n > 0 {
			return false, nil
		}
	}
	return true, nil
}

// Summary counts the rows of every family.
func (s *Service) Summary(ctx context.Context) (map[string]int, error) {
	repo := s.store.Records()
	out := make(map[string]int, len(s.catalog.ordered))
	for _, schema := range s.catalog.ordered {
		n, err := repo.Count(ctx, schema)
		if err != nil {
			return nil, err
		}
		out[schema.Name] = n
	}
	return out, nil
}

// Distribution counts applications per value of one of DistributionFields.
func (s *Service) Distribution(ctx context.Context, field string) (map[string]int, error) {
	allowed := false
	for _, f := range DistributionFields {
		if f == field {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: cannot group applications by %q", errs.ErrInvalidInput, field)
	}
	return s.groupBy(ctx, FamilyApplications, field)
}

// ComplianceStatus counts compliance assessments per status.
func (s *Service) ComplianceStatus(ctx context.Context) (map[string]int, error) {
	return s.groupBy(ctx, FamilyCompliance, "status")
}

func (s *Service) groupBy(ctx context.Context, family, field string) (map[string]int, error) {
	schema, ok := s.catalog.Lookup(family)
	if !ok {
		return nil, fmt.Errorf("%w: %s are not served", errs.ErrNotFound, family)
	}
	return s.store.Records().Distribution(ctx, schema, field)
}
