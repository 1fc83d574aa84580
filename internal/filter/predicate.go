package filter

// Predicate is a backing-store-neutral read condition.
//
// This is a sealed interface: only types in this package implement it, so
// backends can switch over it exhaustively.
//
// Predicate types:
//   - Contains:   column contains value (case-insensitive)
//   - StartsWith: column starts with value (case-insensitive)
//   - Equals:     column = value
//   - In:         column is one of values (no values matches nothing)
//   - IsNull:     column is unset
//   - And:        all predicates hold (empty is always true)
//   - None:       matches nothing
type Predicate interface {
	predicateNode()
}

type Contains struct {
	Column string
	Value  string
}

type StartsWith struct {
	Column string
	Value  string
}

type Equals struct {
	Column string
	Value  any
}

type In struct {
	Column string
	Values []string
}

type IsNull struct {
	Column string
}

type And struct {
	Predicates []Predicate
}

type None struct{}

func (Contains) predicateNode()   {}
func (StartsWith) predicateNode() {}
func (Equals) predicateNode()     {}
func (In) predicateNode()         {}
func (IsNull) predicateNode()     {}
func (And) predicateNode()        {}
func (None) predicateNode()       {}

// All combines predicates with AND, dropping nils and flattening nested Ands.
// A None anywhere makes the whole conjunction None.
func All(preds ...Predicate) Predicate {
	var flat []Predicate
	for _, p := range preds {
		switch v := p.(type) {
		case nil:
			continue
		case None, *None:
			return None{}
		case And:
			inner := All(v.Predicates...)
			if _, ok := inner.(None); ok {
				return None{}
			}
			flat = append(flat, inner.(And).Predicates...)
		default:
			flat = append(flat, p)
		}
	}
	return And{Predicates: flat}
}

// matchPredicate builds the predicate for one match mode on one column.
func matchPredicate(column string, m Match, value string) Predicate {
	switch m {
	case MatchStartsWith:
		return StartsWith{Column: column, Value: value}
	case MatchEquals:
		return Equals{Column: column, Value: value}
	default:
		return Contains{Column: column, Value: value}
	}
}
