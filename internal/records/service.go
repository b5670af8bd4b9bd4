package records

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"eadash.io/internal/audit"
	"eadash.io/internal/errs"
	"eadash.io/internal/model"
	"eadash.io/internal/obs"
	"eadash.io/internal/store"
)

const childIDAttempts = 8

// Service is the versioned entity store: generic CRUD over every family of
// the catalog, each mutation committed together with its audit entry.
type Service struct {
	store   store.Store
	audit   *audit.Recorder
	catalog *Catalog
}

// Option configures Service.
type Option func(*Service)

// WithCatalog replaces the default family catalog.
func WithCatalog(c *Catalog) Option {
	return func(s *Service) {
		if c != nil {
			s.catalog = c
		}
	}
}

// NewService constructs a Service.
func NewService(st store.Store, rec *audit.Recorder, opts ...Option) *Service {
	s := &Service{store: st, audit: rec, catalog: DefaultCatalog()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the families served.
func (s *Service) Catalog() *Catalog { return s.catalog }

// List returns the rows of a family matching filters. Rows of hierarchical
// families carry their descendants.
func (s *Service) List(ctx context.Context, schema *model.Schema, filters map[string]any) ([]model.Record, error) {
	repo := s.store.Records()
	recs, err := repo.List(ctx, schema, filters)
	if err != nil {
		return nil, err
	}
	if err := s.expand(ctx, repo, schema, recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// Get returns one row with its descendants.
func (s *Service) Get(ctx context.Context, schema *model.Schema, id string) (model.Record, error) {
	repo := s.store.Records()
	rec, err := repo.Get(ctx, schema, id)
	if err != nil {
		return model.Record{}, err
	}
	recs := []model.Record{rec}
	if err := s.expand(ctx, repo, schema, recs); err != nil {
		return model.Record{}, err
	}
	return recs[0], nil
}

// expand nests child rows under each parent, keyed by the child family name.
func (s *Service) expand(ctx context.Context, repo store.RecordRepo, schema *model.Schema, recs []model.Record) error {
	if len(recs) == 0 {
		return nil
	}
	for _, child := range schema.Children {
		var filters map[string]any
		if len(recs) == 1 {
			ref, err := parentRef(schema, recs[0].ID)
			if err != nil {
				return err
			}
			filters = map[string]any{child.Parent.Column: ref}
		}
		kids, err := repo.List(ctx, child, filters)
		if err != nil {
			return err
		}
		if err := s.expand(ctx, repo, child, kids); err != nil {
			return err
		}
		byParent := make(map[string][]model.Record)
		for _, k := range kids {
			if ref, ok := model.KeyString(k.Fields[child.Parent.Column]); ok {
				byParent[ref] = append(byParent[ref], k)
			}
		}
		for i := range recs {
			nested := byParent[recs[i].ID]
			if nested == nil {
				nested = []model.Record{}
			}
			recs[i].Fields[child.Name] = nested
		}
	}
	return nil
}

// parentRef converts a parent id into the value type of the child's
// reference column.
func parentRef(parent *model.Schema, id string) (any, error) {
	if parent.IDStrategy == model.IDSerial {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s id %q is not numeric: %w", parent.Label, id, err)
		}
		return n, nil
	}
	return id, nil
}

// Create stores a new row with version 1 and audits it.
func (s *Service) Create(ctx context.Context, actor *model.User, schema *model.Schema, d Draft) (model.Record, error) {
	var (
		out   model.Record
		entry model.AuditEntry
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		repo := tx.Records()
		if err := s.checkParent(ctx, repo, schema, d.Fields); err != nil {
			return err
		}
		id := d.ID
		if id == "" {
			next, err := s.nextID(ctx, repo, schema, d.Fields)
			if err != nil {
				return err
			}
			id = next
		}
		rec := model.Record{
			ID:        id,
			NumericID: schema.IDStrategy == model.IDSerial,
			Fields:    d.Fields,
		}
		if schema.Versioned {
			rec.Version = 1
		}
		if err := repo.Insert(ctx, schema, rec); err != nil {
			return err
		}
		var err error
		if entry, err = s.audit.Record(ctx, tx, actor, model.ActionCreate, schema.EntityType, id, ""); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return model.Record{}, err
	}
	s.audit.Committed(ctx, entry)
	return out, nil
}

// Update applies p to a row. With a precondition on a versioned family the
// stored version must match exactly, otherwise errs.ErrVersionConflict is
// returned and nothing is written. Without one the update always wins.
func (s *Service) Update(ctx context.Context, actor *model.User, schema *model.Schema, id string, p model.Patch, pre Precondition) (model.Record, error) {
	var (
		out   model.Record
		entry model.AuditEntry
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		repo := tx.Records()
		current, err := repo.GetForUpdate(ctx, schema, id)
		if err != nil {
			return err
		}
		expect := 0
		if schema.Versioned && pre.Set {
			if current.Version != pre.Version {
				return fmt.Errorf("%w: %s %s is at version %d, not %d", errs.ErrVersionConflict, schema.Label, id, current.Version, pre.Version)
			}
			expect = pre.Version
		}
		if schema.Parent != nil && p.Has(schema.Parent.Column) {
			fields := current.Clone().Fields
			p.Apply(fields)
			if err := s.checkParent(ctx, repo, schema, fields); err != nil {
				return err
			}
		}
		updated, err := repo.Update(ctx, schema, id, p, expect)
		if err != nil {
			return err
		}
		if entry, err = s.audit.Record(ctx, tx, actor, model.ActionUpdate, schema.EntityType, id, ""); err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		if errors.Is(err, errs.ErrVersionConflict) {
			obs.OptimisticConflict(schema.EntityType)
		}
		return model.Record{}, err
	}
	s.audit.Committed(ctx, entry)
	return out, nil
}

// Delete removes a row and its descendants. Only the row itself is audited.
func (s *Service) Delete(ctx context.Context, actor *model.User, schema *model.Schema, id string) error {
	var entry model.AuditEntry
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.Records().Delete(ctx, schema, id); err != nil {
			return err
		}
		var err error
		entry, err = s.audit.Record(ctx, tx, actor, model.ActionDelete, schema.EntityType, id, "")
		return err
	})
	if err != nil {
		return err
	}
	s.audit.Committed(ctx, entry)
	return nil
}

func (s *Service) checkParent(ctx context.Context, repo store.RecordRepo, schema *model.Schema, fields map[string]any) error {
	if schema.Parent == nil {
		return nil
	}
	parent, ok := s.catalog.Lookup(schema.Parent.Family)
	if !ok {
		return fmt.Errorf("family %s has no parent %s in the catalog", schema.Name, schema.Parent.Family)
	}
	ref, ok := model.KeyString(fields[schema.Parent.Column])
	if !ok {
		return fmt.Errorf("%w: %s is required", errs.ErrInvalidInput, schema.Parent.Column)
	}
	if _, err := repo.Get(ctx, parent, ref); err != nil {
		return err
	}
	return nil
}

// nextID assigns an identifier following the family's strategy.
func (s *Service) nextID(ctx context.Context, repo store.RecordRepo, schema *model.Schema, fields map[string]any) (string, error) {
	existing, err := repo.IDs(ctx, schema)
	if err != nil {
		return "", err
	}
	switch schema.IDStrategy {
	case model.IDPrefixed:
		return nextPrefixed(schema.Prefix, existing), nil
	case model.IDSerial:
		return nextSerial(existing), nil
	case model.IDChild:
		ref, ok := model.KeyString(fields[schema.Parent.Column])
		if !ok {
			return "", fmt.Errorf("%w: %s is required", errs.ErrInvalidInput, schema.Parent.Column)
		}
		taken := make(map[string]struct{}, len(existing))
		for _, id := range existing {
			taken[id] = struct{}{}
		}
		for i := 0; i < childIDAttempts; i++ {
			id := ref + "." + strings.ReplaceAll(uuid.NewString(), "-", "")[:4]
			if _, dup := taken[id]; !dup {
				return id, nil
			}
		}
		return "", fmt.Errorf("%w: no free identifier under %s", errs.ErrConflict, ref)
	}
	return "", fmt.Errorf("family %s has no id strategy", schema.Name)
}

// nextPrefixed returns PREFIX-NNN with one more than the highest number in use.
func nextPrefixed(prefix string, existing []string) string {
	highest := 0
	head := prefix + "-"
	for _, id := range existing {
		if !strings.HasPrefix(id, head) {
			continue
		}
		if n, err := strconv.Atoi(id[len(head):]); err == nil && n > highest {
			highest = n
		}
	}
	return fmt.Sprintf("%s-%03d", prefix, highest+1)
}

func nextSerial(existing []string) string {
	var highest int64
	for _, id := range existing {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil && n > highest {
			highest = n
		}
	}
	return strconv.FormatInt(highest+1, 10)
}
