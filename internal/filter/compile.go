package filter

import (
	"context"
	"fmt"
	"sort"
)

// Clause is a single {field, value} constraint supplied by a caller.
type Clause struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// Lookup finds the uuids of records in another collection matching a predicate.
// Implementations apply the soft-delete gate themselves.
type Lookup interface {
	MatchUUIDs(ctx context.Context, collection string, pred Predicate) ([]string, error)
}

// Compiler turns clauses into a single predicate.
//
// Clauses are AND-combined. Clauses naming unknown fields, and clauses with an
// empty value, are dropped rather than rejected so clients and schemas can
// drift independently.
type Compiler struct {
	lookup Lookup
}

// NewCompiler creates a Compiler. lookup serves indirect fields and may be nil
// when no schema uses them.
func NewCompiler(lookup Lookup) *Compiler {
	return &Compiler{lookup: lookup}
}

// Compile builds the predicate for clauses against schema.
// An indirect clause whose sub-query matches nothing yields None, never an
// unfiltered predicate.
func (c *Compiler) Compile(ctx context.Context, schema Schema, clauses []Clause) (Predicate, error) {
	var preds []Predicate

	for _, cl := range clauses {
		f, ok := schema[cl.Field]
		if !ok || cl.Value == "" {
			continue
		}

		if !f.Indirect() {
			preds = append(preds, matchPredicate(f.Column, f.Match, cl.Value))
			continue
		}

		if c.lookup == nil {
			return nil, fmt.Errorf("filter %q needs a lookup on %s", cl.Field, f.Collection)
		}
		ids, err := c.lookup.MatchUUIDs(ctx, f.Collection, matchPredicate(f.Column, f.Match, cl.Value))
		if err != nil {
			return nil, fmt.Errorf("resolving filter %q on %s: %w", cl.Field, f.Collection, err)
		}
		if len(ids) == 0 {
			return None{}, nil
		}

		sorted := append([]string(nil), ids...)
		sort.Strings(sorted)
		preds = append(preds, In{Column: f.ForeignKey, Values: sorted})
	}

	return All(preds...), nil
}
