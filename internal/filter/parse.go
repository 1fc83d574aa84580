package filter

import (
	"fmt"
	"strings"

	"github.com/valyala/fastjson"

	"agrireg/internal/model"
)

var parserPool fastjson.ParserPool

// ParseError reports a filter specification that is not a JSON array.
// It matches model.ErrFilterParse with errors.Is.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("filter specification malformed: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == model.ErrFilterParse }

// Parse decodes a serialized array of {field, value} objects.
//
// An empty specification means no filters. Elements that are not objects or
// carry no string field are skipped. Numeric and boolean values are accepted
// in their JSON text form; null is treated as empty.
func Parse(raw string) ([]Clause, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.Parse(raw)
	if err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}
	items, err := v.Array()
	if err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}

	clauses := make([]Clause, 0, len(items))
	for _, item := range items {
		if item.Type() != fastjson.TypeObject {
			continue
		}
		field := item.Get("field")
		if field == nil || field.Type() != fastjson.TypeString {
			continue
		}
		clauses = append(clauses, Clause{
			Field: string(field.GetStringBytes()),
			Value: valueString(item.Get("value")),
		})
	}
	return clauses, nil
}

func valueString(v *fastjson.Value) string {
	if v == nil {
		return ""
	}
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber, fastjson.TypeTrue, fastjson.TypeFalse:
		return v.String()
	default:
		return ""
	}
}
