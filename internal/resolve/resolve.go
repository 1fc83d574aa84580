// Package resolve enriches a page of records with denormalized fields from the
// collections they reference.
//
// Each distinct foreign collection is fetched once per page with the
// deduplicated set of referenced uuids, never once per record. The fetched
// records are indexed by uuid for the duration of the request only.
package resolve

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"agrireg/internal/model"
)

// Row is the output shape of one record. The internal id is never included.
type Row map[string]any

// Projection copies the foreign column From onto the output field To.
type Projection struct {
	From string
	To   string
}

// Reference declares that Field holds the uuid of a record in Collection.
type Reference struct {
	Field      string
	Collection string
	Copy       []Projection
}

// Fetcher batch-loads records of one collection by uuid.
// Uuids with no alive record are simply absent from the result.
type Fetcher interface {
	FetchByUUIDs(ctx context.Context, collection string, uuids []string) ([]model.Record, error)
}

// Index maps uuid to record for one collection.
type Index map[string]*model.Record

// NewIndex builds an Index over records.
func NewIndex(records []model.Record) Index {
	idx := make(Index, len(records))
	for i := range records {
		idx[records[i].UUID] = &records[i]
	}
	return idx
}

// BaseRow is the output shape of a record before enrichment.
func BaseRow(r *model.Record) Row {
	row := make(Row, len(r.Fields)+3)
	for k, v := range r.Fields {
		row[k] = v
	}
	row["uuid"] = r.UUID
	row["createdAt"] = r.CreatedAt.UTC().Format(time.RFC3339)
	row["updatedAt"] = r.UpdatedAt.UTC().Format(time.RFC3339)
	return row
}

// Resolve returns one Row per record with every reference's projections
// applied. A reference that points to a missing record yields "" for each of
// its projected fields rather than an error.
func Resolve(ctx context.Context, f Fetcher, records []model.Record, refs []Reference) ([]Row, error) {
	indexes, err := fetchAll(ctx, f, records, refs)
	if err != nil {
		return nil, err
	}

	rows := make([]Row, len(records))
	for i := range records {
		row := BaseRow(&records[i])
		for _, ref := range refs {
			foreign := indexes[ref.Collection][records[i].String(ref.Field)]
			for _, p := range ref.Copy {
				if foreign == nil {
					row[p.To] = ""
					continue
				}
				row[p.To] = foreign.String(p.From)
			}
		}
		rows[i] = row
	}
	return rows, nil
}

// wanted collects the deduplicated uuids referenced per collection.
func wanted(records []model.Record, refs []Reference) map[string][]string {
	sets := make(map[string]map[string]struct{})
	for _, ref := range refs {
		if sets[ref.Collection] == nil {
			sets[ref.Collection] = make(map[string]struct{})
		}
		for i := range records {
			if id := records[i].String(ref.Field); id != "" {
				sets[ref.Collection][id] = struct{}{}
			}
		}
	}

	out := make(map[string][]string, len(sets))
	for collection, set := range sets {
		if len(set) == 0 {
			continue
		}
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out[collection] = ids
	}
	return out
}

// fetchAll issues one fetch per collection concurrently and joins them.
func fetchAll(ctx context.Context, f Fetcher, records []model.Record, refs []Reference) (map[string]Index, error) {
	want := wanted(records, refs)
	indexes := make(map[string]Index, len(want))
	if len(want) == 0 {
		return indexes, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for collection, ids := range want {
		g.Go(func() error {
			found, err := f.FetchByUUIDs(gctx, collection, ids)
			if err != nil {
				return fmt.Errorf("fetching %s references: %w", collection, err)
			}
			idx := NewIndex(found)
			mu.Lock()
			indexes[collection] = idx
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return indexes, nil
}
