package filter

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

// stubLookup answers MatchUUIDs from a fixed table and records each call.
type stubLookup struct {
	results map[string][]string // collection -> uuids
	calls   []string
	err     error
}

func (l *stubLookup) MatchUUIDs(_ context.Context, collection string, _ Predicate) ([]string, error) {
	l.calls = append(l.calls, collection)
	if l.err != nil {
		return nil, l.err
	}
	return l.results[collection], nil
}

var farmSchema = Schema{
	"name":        Direct("name", MatchContains),
	"farmCode":    Direct("farm_code", MatchStartsWith),
	"status":      Direct("status", MatchEquals),
	"companyName": Via("companies", "name", MatchContains, "company_uuid"),
}

func TestCompiler_Compile(t *testing.T) {
	lookup := &stubLookup{results: map[string][]string{"companies": {"c-2", "c-1"}}}
	c := NewCompiler(lookup)

	got, err := c.Compile(context.Background(), farmSchema, []Clause{
		{Field: "name", Value: "North"},
		{Field: "farmCode", Value: "FARM-0"},
		{Field: "status", Value: "active"},
		{Field: "companyName", Value: "Acme"},
	})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	want := And{Predicates: []Predicate{
		Contains{Column: "name", Value: "North"},
		StartsWith{Column: "farm_code", Value: "FARM-0"},
		Equals{Column: "status", Value: "active"},
		In{Column: "company_uuid", Values: []string{"c-1", "c-2"}},
	}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Compile() = %#v, want %#v", got, want)
	}
	if len(lookup.calls) != 1 || lookup.calls[0] != "companies" {
		t.Errorf("lookup calls = %v, want [companies]", lookup.calls)
	}
}

func TestCompiler_DropsUnknownAndEmpty(t *testing.T) {
	c := NewCompiler(nil)

	got, err := c.Compile(context.Background(), farmSchema, []Clause{
		{Field: "doesNotExist", Value: "x"},
		{Field: "name", Value: ""},
		{Field: "district", Value: "Valley"},
	})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if !reflect.DeepEqual(got, And{}) {
		t.Errorf("Compile() = %#v, want empty And", got)
	}
}

func TestCompiler_IndirectZeroMatch(t *testing.T) {
	lookup := &stubLookup{results: map[string][]string{}}
	c := NewCompiler(lookup)

	got, err := c.Compile(context.Background(), farmSchema, []Clause{
		{Field: "companyName", Value: "Nobody Ltd"},
		{Field: "name", Value: "North"},
	})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if _, ok := got.(None); !ok {
		t.Errorf("Compile() = %#v, want None", got)
	}
}

func TestCompiler_Deterministic(t *testing.T) {
	lookup := &stubLookup{results: map[string][]string{"companies": {"c-9", "c-3", "c-5"}}}
	c := NewCompiler(lookup)
	clauses := []Clause{
		{Field: "companyName", Value: "Acme"},
		{Field: "name", Value: "North"},
	}

	first, err := c.Compile(context.Background(), farmSchema, clauses)
	if err != nil {
		t.Fatalf("first Compile() error = %v", err)
	}
	lookup.results["companies"] = []string{"c-5", "c-9", "c-3"}
	second, err := c.Compile(context.Background(), farmSchema, clauses)
	if err != nil {
		t.Fatalf("second Compile() error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Compile() not deterministic:\n first = %#v\nsecond = %#v", first, second)
	}
}

func TestCompiler_Errors(t *testing.T) {
	t.Run("indirect without lookup", func(t *testing.T) {
		c := NewCompiler(nil)
		_, err := c.Compile(context.Background(), farmSchema, []Clause{{Field: "companyName", Value: "Acme"}})
		if err == nil {
			t.Error("Compile() expected error without lookup")
		}
	})

	t.Run("lookup failure propagates", func(t *testing.T) {
		boom := errors.New("boom")
		c := NewCompiler(&stubLookup{err: boom})
		_, err := c.Compile(context.Background(), farmSchema, []Clause{{Field: "companyName", Value: "Acme"}})
		if !errors.Is(err, boom) {
			t.Errorf("Compile() error = %v, want %v", err, boom)
		}
	})
}

func TestAll(t *testing.T) {
	a := Contains{Column: "a", Value: "1"}
	b := IsNull{Column: "deleted_at"}

	tests := []struct {
		name  string
		preds []Predicate
		want  Predicate
	}{
		{name: "nothing", preds: nil, want: And{}},
		{name: "drops nil", preds: []Predicate{nil, a}, want: And{Predicates: []Predicate{a}}},
		{name: "flattens", preds: []Predicate{b, And{Predicates: []Predicate{a}}}, want: And{Predicates: []Predicate{b, a}}},
		{name: "none wins", preds: []Predicate{a, None{}}, want: None{}},
		{name: "nested none wins", preds: []Predicate{a, And{Predicates: []Predicate{None{}}}}, want: None{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := All(tt.preds...); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("All() = %#v, want %#v", got, tt.want)
			}
		})
	}
}
