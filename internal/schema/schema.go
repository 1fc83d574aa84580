// Package schema declares the registry entities as thin data shapes: their
// columns, filterable fields, references, code sequences and ownership paths.
// No per-domain business rules live here.
package schema

import (
	"fmt"
	"sort"

	"agrireg/internal/filter"
	"agrireg/internal/model"
	"agrireg/internal/resolve"
)

// Column is a writable domain column. Ref names the collection whose uuid the
// column holds, if any.
type Column struct {
	Name     string
	Required bool
	Ref      string
}

// Sequence issues the entity's human-readable code into Column on create.
type Sequence struct {
	Name     string
	Template string
	Column   string
}

// Owner locates the company that owns a record. Column holds a company uuid
// directly, or, when Via is set, the uuid of a Via record whose ViaColumn
// holds the company uuid.
type Owner struct {
	Column    string
	Via       string
	ViaColumn string
}

// Entity describes one registry collection.
type Entity struct {
	Name       string
	Collection string
	Columns    []Column
	Filters    filter.Schema
	References []resolve.Reference
	Sequence   *Sequence
	Owner      Owner
	// Scopes maps a scope kind to the column it narrows.
	Scopes map[string]string
}

func (e *Entity) column(name string) (Column, bool) {
	for _, c := range e.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// CheckFields validates input for a create (partial == false) or an update.
// Unknown and generated columns are rejected; on create every required
// column must be present and non-empty, on update a present required column
// may not be emptied.
func (e *Entity) CheckFields(fields map[string]any, partial bool) error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		col, ok := e.column(name)
		if !ok {
			if e.Sequence != nil && name == e.Sequence.Column {
				return &model.ValidationError{Field: name, Reason: "is generated and cannot be written"}
			}
			return &model.ValidationError{Field: name, Reason: "is not a field of " + e.Name}
		}
		if col.Required && blank(fields[name]) {
			return &model.ValidationError{Field: name, Reason: "is required"}
		}
	}

	if partial {
		return nil
	}
	for _, col := range e.Columns {
		if _, ok := fields[col.Name]; col.Required && !ok {
			return &model.ValidationError{Field: col.Name, Reason: "is required"}
		}
	}
	return nil
}

func blank(v any) bool {
	switch v := v.(type) {
	case nil:
		return true
	case string:
		return v == ""
	}
	return false
}

// RefColumns returns the columns holding foreign uuids.
func (e *Entity) RefColumns() []Column {
	var refs []Column
	for _, c := range e.Columns {
		if c.Ref != "" {
			refs = append(refs, c)
		}
	}
	return refs
}

// ScopeColumn returns the column narrowed by a scope of the given kind.
func (e *Entity) ScopeColumn(kind string) (string, error) {
	col, ok := e.Scopes[kind]
	if !ok {
		return "", &model.ValidationError{Field: "scope", Reason: fmt.Sprintf("%s cannot be scoped by %s", e.Name, kind)}
	}
	return col, nil
}

// Catalog holds the known entities by name.
type Catalog map[string]*Entity

// NewCatalog indexes entities by name.
func NewCatalog(entities ...*Entity) Catalog {
	c := make(Catalog, len(entities))
	for _, e := range entities {
		c[e.Name] = e
	}
	return c
}

// Entity returns the entity called name.
func (c Catalog) Entity(name string) (*Entity, error) {
	e, ok := c[name]
	if !ok {
		return nil, &model.ValidationError{Field: "entity", Reason: fmt.Sprintf("unknown entity %q", name)}
	}
	return e, nil
}

// ByCollection returns the entity stored in collection.
func (c Catalog) ByCollection(collection string) (*Entity, bool) {
	for _, e := range c {
		if e.Collection == collection {
			return e, true
		}
	}
	return nil, false
}

// Names returns the entity names in sorted order.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
