// Package querysql renders filter predicates as parameterized SQL.
//
// Values are never interpolated: every value becomes a placeholder argument.
// Column names come from entity schemas and are checked against a strict
// identifier pattern before use.
package querysql

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"agrireg/internal/filter"
)

// Dialect selects placeholder syntax and case-insensitive matching.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	default:
		return "sqlite"
	}
}

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Ident validates a table or column name.
func Ident(name string) (string, error) {
	if !identPattern.MatchString(name) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	return name, nil
}

// Builder accumulates placeholder arguments across fragments of one statement.
type Builder struct {
	dialect Dialect
	args    []any
}

// NewBuilder creates a Builder for the dialect.
func NewBuilder(d Dialect) *Builder {
	return &Builder{dialect: d}
}

// Arg records v and returns its placeholder.
func (b *Builder) Arg(v any) string {
	b.args = append(b.args, v)
	if b.dialect == Postgres {
		return "$" + strconv.Itoa(len(b.args))
	}
	return "?"
}

// Args returns the arguments recorded so far, in placeholder order.
func (b *Builder) Args() []any {
	return b.args
}

// Where renders p as a WHERE clause fragment.
func (b *Builder) Where(p filter.Predicate) (string, error) {
	if p == nil {
		return "1 = 1", nil
	}

	switch pred := p.(type) {
	case filter.And:
		return b.and(pred)
	case filter.None:
		return "1 = 0", nil
	case filter.IsNull:
		col, err := Ident(pred.Column)
		if err != nil {
			return "", err
		}
		return col + " IS NULL", nil
	case filter.Equals:
		col, err := Ident(pred.Column)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s = %s", col, b.Arg(pred.Value)), nil
	case filter.Contains:
		col, err := Ident(pred.Column)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s '%%' || %s || '%%' ESCAPE '\\'", col, b.like(), b.textArg(escapeLike(pred.Value))), nil
	case filter.StartsWith:
		col, err := Ident(pred.Column)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %s || '%%' ESCAPE '\\'", col, b.like(), b.textArg(escapeLike(pred.Value))), nil
	case filter.In:
		return b.in(pred)
	default:
		return "", fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (b *Builder) and(and filter.And) (string, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil // vacuous truth
	}

	parts := make([]string, 0, len(and.Predicates))
	for _, p := range and.Predicates {
		sql, err := b.Where(p)
		if err != nil {
			return "", err
		}
		if _, nested := p.(filter.And); nested && len(and.Predicates) > 1 {
			sql = "(" + sql + ")"
		}
		parts = append(parts, sql)
	}
	return strings.Join(parts, " AND "), nil
}

func (b *Builder) in(in filter.In) (string, error) {
	col, err := Ident(in.Column)
	if err != nil {
		return "", err
	}
	if len(in.Values) == 0 {
		return "1 = 0", nil
	}

	placeholders := make([]string, len(in.Values))
	for i, v := range in.Values {
		placeholders[i] = b.Arg(v)
	}
	return fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", ")), nil
}

// textArg is Arg with an explicit text type where the server cannot infer
// one from a concatenation.
func (b *Builder) textArg(v string) string {
	if b.dialect == Postgres {
		return b.Arg(v) + "::text"
	}
	return b.Arg(v)
}

func (b *Builder) like() string {
	if b.dialect == Postgres {
		return "ILIKE"
	}
	return "LIKE"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes LIKE wildcards in a user value match literally.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// Compile renders p as a standalone WHERE fragment with its arguments.
func Compile(d Dialect, p filter.Predicate) (string, []any, error) {
	b := NewBuilder(d)
	sql, err := b.Where(p)
	if err != nil {
		return "", nil, err
	}
	return sql, b.Args(), nil
}
