package model

import (
	"encoding/json"
	"strconv"
)

// Kind is the storage type of a record column.
type Kind uint8

const (
	KindText Kind = iota + 1
	KindInt
	KindFloat
	KindBool
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInt:
		return "integer"
	case KindFloat:
		return "number"
	case KindBool:
		return "boolean"
	case KindJSON:
		return "json"
	}
	return "unknown"
}

// Column describes one attribute of an entity family.
type Column struct {
	Name     string
	Kind     Kind
	Required bool
	// Filter marks the column as usable as an equality query parameter on list.
	Filter bool
}

// IDStrategy decides how identifiers are assigned on create.
type IDStrategy uint8

const (
	// IDPrefixed assigns "<PREFIX>-NNN" with the next free number.
	IDPrefixed IDStrategy = iota + 1
	// IDSerial assigns the next integer.
	IDSerial
	// IDChild assigns "<parent id>.<4 hex chars>".
	IDChild
)

// Parent links a child family to the family it belongs to.
type Parent struct {
	Family string
	Column string
}

// Schema describes an entity family: its table, identifiers and columns.
type Schema struct {
	Name       string // family key, also the export document key
	Path       string // URL segment
	Table      string
	EntityType string // audit tag
	Label      string // human name used in error details
	IDStrategy IDStrategy
	Prefix     string
	Parent     *Parent
	Versioned  bool
	Columns    []Column

	// Children is filled in by the catalog; hierarchical deletes cascade along it.
	Children []*Schema
}

// Column returns the named column.
func (s *Schema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Record is one row of an entity family.
type Record struct {
	ID string
	// NumericID makes the identifier encode as a JSON number.
	NumericID bool
	// Version is zero for families without optimistic locking.
	Version int
	Fields  map[string]any
}

// MarshalJSON flattens the record into a single object.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		out[k] = v
	}
	if r.NumericID {
		n, err := strconv.ParseInt(r.ID, 10, 64)
		if err != nil {
			return nil, err
		}
		out["id"] = n
	} else {
		out["id"] = r.ID
	}
	if r.Version > 0 {
		out["version"] = r.Version
	}
	return json.Marshal(out)
}

// Clone returns a copy whose field map can be modified independently.
func (r Record) Clone() Record {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	r.Fields = fields
	return r
}

// KeyString renders a reference column value in the form record ids use.
func KeyString(v any) (string, bool) {
	switch k := v.(type) {
	case string:
		return k, k != ""
	case int64:
		return strconv.FormatInt(k, 10), true
	case int:
		return strconv.Itoa(k), true
	}
	return "", false
}

// Change is one entry of a Patch. A nil Value clears the column.
type Change struct {
	Column string
	Value  any
}

// Patch is an explicit partial update: columns absent from it stay untouched,
// columns present with a nil value are cleared.
type Patch struct {
	changes []Change
}

// Set records a new value for column.
func (p *Patch) Set(column string, value any) {
	p.put(Change{Column: column, Value: value})
}

// Clear records that column must become null.
func (p *Patch) Clear(column string) {
	p.put(Change{Column: column})
}

func (p *Patch) put(c Change) {
	for i := range p.changes {
		if p.changes[i].Column == c.Column {
			p.changes[i] = c
			return
		}
	}
	p.changes = append(p.changes, c)
}

// Changes returns the recorded changes in insertion order.
func (p Patch) Changes() []Change {
	out := make([]Change, len(p.changes))
	copy(out, p.changes)
	return out
}

// Has reports whether the patch touches column.
func (p Patch) Has(column string) bool {
	for _, c := range p.changes {
		if c.Column == column {
			return true
		}
	}
	return false
}

// Len is the number of touched columns.
func (p Patch) Len() int { return len(p.changes) }

// Apply writes the changes onto fields.
func (p Patch) Apply(fields map[string]any) {
	for _, c := range p.changes {
		fields[c.Column] = c.Value
	}
}
