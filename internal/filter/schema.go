package filter

// Match is how a clause value is compared with a column.
type Match string

const (
	MatchContains   Match = "contains"
	MatchStartsWith Match = "startsWith"
	MatchEquals     Match = "equals"
)

// Field maps one client-facing filter name onto the backing store.
//
// A direct field compares Column on the primary entity. An indirect field
// compares Column on Collection, then narrows the primary entity to records
// whose ForeignKey holds one of the matched uuids.
type Field struct {
	Column     string
	Match      Match
	Collection string
	ForeignKey string
}

// Indirect reports whether the field lives on another collection.
func (f Field) Indirect() bool {
	return f.Collection != ""
}

// Direct declares a field compared on the primary entity.
func Direct(column string, m Match) Field {
	return Field{Column: column, Match: m}
}

// Via declares a field compared on another collection and joined back
// through foreignKey.
func Via(collection, column string, m Match, foreignKey string) Field {
	return Field{Column: column, Match: m, Collection: collection, ForeignKey: foreignKey}
}

// Schema maps recognized filter names to fields for one entity.
type Schema map[string]Field
