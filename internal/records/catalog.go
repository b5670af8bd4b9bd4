// Package records implements generic, audited CRUD over the entity families of
// the architecture repository, with optimistic locking for versioned families.
package records

import (
	"fmt"

	"eadash.io/internal/model"
)

// Family names. They double as the keys of the seed/export document.
const (
	FamilyDomains         = "domains"
	FamilyCapabilities    = "capabilities"
	FamilySubCapabilities = "sub_capabilities"
	FamilyApplications    = "applications"
	FamilyDataObjects     = "data_objects"
	FamilyDemands         = "demands"
	FamilyIntegrations    = "integrations"
	FamilyLegalEntities   = "legal_entities"
	FamilyKPIs            = "kpis"
	FamilyProcesses       = "processes"
	FamilyProjects        = "projects"
	FamilyVendors         = "vendors"
	FamilyCompliance      = "compliance_assessments"
)

func text(name string) model.Column  { return model.Column{Name: name, Kind: model.KindText} }
func num(name string) model.Column   { return model.Column{Name: name, Kind: model.KindFloat} }
func whole(name string) model.Column { return model.Column{Name: name, Kind: model.KindInt} }
func flag(name string) model.Column  { return model.Column{Name: name, Kind: model.KindBool} }
func doc(name string) model.Column   { return model.Column{Name: name, Kind: model.KindJSON} }

func required(c model.Column) model.Column {
	c.Required = true
	return c
}

func filterable(c model.Column) model.Column {
	c.Filter = true
	return c
}

// Catalog is the ordered set of entity families. Parents always precede their
// children, which is also the order seeding inserts them in.
type Catalog struct {
	ordered []*model.Schema
	byName  map[string]*model.Schema
}

// NewCatalog indexes schemas and links every child family to its parent.
func NewCatalog(schemas ...*model.Schema) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]*model.Schema, len(schemas))}
	for _, s := range schemas {
		if _, dup := c.byName[s.Name]; dup {
			return nil, fmt.Errorf("duplicate family %q", s.Name)
		}
		if s.IDStrategy == model.IDPrefixed && s.Prefix == "" {
			return nil, fmt.Errorf("family %q: prefixed ids need a prefix", s.Name)
		}
		if s.Parent != nil {
			parent, ok := c.byName[s.Parent.Family]
			if !ok {
				return nil, fmt.Errorf("family %q: parent %q must be declared first", s.Name, s.Parent.Family)
			}
			if _, ok := s.Column(s.Parent.Column); !ok {
				return nil, fmt.Errorf("family %q: missing parent column %q", s.Name, s.Parent.Column)
			}
			parent.Children = append(parent.Children, s)
		} else if s.IDStrategy == model.IDChild {
			return nil, fmt.Errorf("family %q: child ids need a parent", s.Name)
		}
		c.byName[s.Name] = s
		c.ordered = append(c.ordered, s)
	}
	return c, nil
}

// Lookup returns the family with the given name.
func (c *Catalog) Lookup(name string) (*model.Schema, bool) {
	s, ok := c.byName[name]
	return s, ok
}

// All returns the families, parents first.
func (c *Catalog) All() []*model.Schema {
	out := make([]*model.Schema, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// DefaultCatalog describes the families served by the API.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(defaultSchemas()...)
	if err != nil {
		panic(err)
	}
	return c
}

func defaultSchemas() []*model.Schema {
	return []*model.Schema{
		{
			Name: FamilyDomains, Path: "domains", Table: "domains",
			EntityType: "domain", Label: "Domain", IDStrategy: model.IDSerial,
			Columns: []model.Column{
				required(text("name")), text("color"), text("icon"), text("description"),
				text("domain_owner"), text("strategic_focus"), text("vision"), doc("kpis"),
			},
		},
		{
			Name: FamilyCapabilities, Path: "capabilities", Table: "capabilities",
			EntityType: "capability", Label: "Capability", IDStrategy: model.IDChild,
			Parent: &model.Parent{Family: FamilyDomains, Column: "domain_id"},
			Columns: []model.Column{
				required(filterable(whole("domain_id"))), required(text("name")),
				whole("maturity"), whole("target_maturity"), text("criticality"),
			},
		},
		{
			Name: FamilySubCapabilities, Path: "sub-capabilities", Table: "sub_capabilities",
			EntityType: "sub_capability", Label: "Sub-capability", IDStrategy: model.IDChild,
			Parent: &model.Parent{Family: FamilyCapabilities, Column: "capability_id"},
			Columns: []model.Column{
				required(filterable(text("capability_id"))), required(text("name")),
			},
		},
		{
			Name: FamilyApplications, Path: "applications", Table: "applications",
			EntityType: "application", Label: "Application", IDStrategy: model.IDPrefixed, Prefix: "APP",
			Versioned: true,
			Columns: []model.Column{
				required(text("name")), text("vendor"), filterable(text("category")), text("type"),
				filterable(text("criticality")), filterable(text("time_quadrant")),
				text("business_owner"), text("it_owner"), num("cost_per_year"), whole("user_count"),
				text("go_live_date"), text("description"), doc("scores"),
				text("risk_probability"), text("risk_impact"), filterable(text("lifecycle_status")),
				doc("technology"), doc("entities"), text("end_of_support_date"), text("end_of_life_date"),
				num("license_cost"), num("operations_cost"), num("integration_cost"), num("personnel_cost"),
				doc("regulations"), text("data_classification"),
			},
		},
		{
			Name: FamilyDataObjects, Path: "data-objects", Table: "data_objects",
			EntityType: "data_object", Label: "Data object", IDStrategy: model.IDPrefixed, Prefix: "DO",
			Versioned: true,
			Columns: []model.Column{
				required(text("name")), text("description"), filterable(text("classification")),
				text("owner"), text("steward"), doc("source_app_ids"), doc("consuming_app_ids"),
				whole("quality_score"), text("retention_period"), flag("personal_data"), text("format"),
				whole("domain"),
			},
		},
		{
			Name: FamilyDemands, Path: "demands", Table: "demands",
			EntityType: "demand", Label: "Demand", IDStrategy: model.IDPrefixed, Prefix: "DEM",
			Columns: []model.Column{
				required(text("title")), text("description"), filterable(text("category")),
				filterable(text("status")), filterable(text("priority")), text("requested_by"),
				text("request_date"), num("estimated_budget"), whole("primary_domain"),
				doc("related_domains"), doc("related_apps"), doc("related_vendors"), text("business_case"),
				flag("is_ai_use_case"), text("ai_risk_category"), text("ai_description"),
				flag("checklist_security"), flag("checklist_legal"), flag("checklist_architecture"),
			},
		},
		{
			Name: FamilyIntegrations, Path: "integrations", Table: "integrations",
			EntityType: "integration", Label: "Integration", IDStrategy: model.IDPrefixed, Prefix: "INT",
			Columns: []model.Column{
				filterable(text("source_app_id")), filterable(text("target_app_id")),
				text("interface_type"), text("protocol"), text("description"), text("data_objects"),
				text("frequency"), text("direction"), filterable(text("status")),
			},
		},
		{
			Name: FamilyLegalEntities, Path: "entities", Table: "legal_entities",
			EntityType: "legal_entity", Label: "Legal entity", IDStrategy: model.IDPrefixed, Prefix: "ENT",
			Columns: []model.Column{
				required(text("name")), text("short_name"), text("description"),
				filterable(text("country")), text("city"), text("region"), text("parent_entity"),
			},
		},
		{
			Name: FamilyKPIs, Path: "kpis", Table: "management_kpis",
			EntityType: "kpi", Label: "KPI", IDStrategy: model.IDPrefixed, Prefix: "KPI",
			Columns: []model.Column{
				required(text("name")), text("description"), num("target"), num("current"),
				text("unit"), filterable(text("trend")), filterable(text("category")),
			},
		},
		{
			Name: FamilyProcesses, Path: "processes", Table: "e2e_processes",
			EntityType: "process", Label: "Process", IDStrategy: model.IDPrefixed, Prefix: "PRC",
			Columns: []model.Column{
				required(text("name")), text("owner"), text("description"), doc("domains"),
				filterable(text("status")), doc("kpis"),
			},
		},
		{
			Name: FamilyProjects, Path: "projects", Table: "projects",
			EntityType: "project", Label: "Project", IDStrategy: model.IDPrefixed, Prefix: "PRJ",
			Columns: []model.Column{
				required(text("name")), whole("primary_domain"), doc("secondary_domains"),
				doc("capabilities"), doc("affected_apps"), filterable(text("category")), num("budget"),
				text("start"), text("end"), filterable(text("status")), text("status_text"),
				text("sponsor"), text("project_lead"), text("strategic_contribution"),
				text("time_reference"), doc("e2e_processes"), doc("media_break_refs"), text("conformity"),
			},
		},
		{
			Name: FamilyVendors, Path: "vendors", Table: "vendors",
			EntityType: "vendor", Label: "Vendor", IDStrategy: model.IDPrefixed, Prefix: "VND",
			Columns: []model.Column{
				required(text("name")), filterable(text("category")), text("vendor_type"),
				filterable(text("status")), text("criticality"), text("service_level"),
				num("contract_value"), text("contract_end"), text("contact_person"),
				text("vendor_manager"), text("website"), whole("rating"), text("description"),
			},
		},
		{
			Name: FamilyCompliance, Path: "compliance", Table: "compliance_assessments",
			EntityType: "compliance_assessment", Label: "Compliance assessment", IDStrategy: model.IDPrefixed, Prefix: "CA",
			Columns: []model.Column{
				filterable(text("app_id")), filterable(text("regulation")), filterable(text("status")),
				text("assessed_by"), text("assessed_date"), text("notes"), text("workflow_status"),
				text("deadline"), doc("audit_trail"),
			},
		},
	}
}
