package registry

import (
	"context"
	"time"

	"agrireg/internal/filter"
	"agrireg/internal/model"
	"agrireg/internal/resolve"
)

// Store is the backing store the service reads and writes. It applies no
// visibility rules of its own; FindByUUID in particular returns deleted
// records.
type Store interface {
	Find(ctx context.Context, collection string, where filter.Predicate, offset, limit int) ([]model.Record, error)
	Count(ctx context.Context, collection string, where filter.Predicate) (int64, error)
	FindByUUID(ctx context.Context, collection, uuid string) (*model.Record, error)
	FetchByUUIDs(ctx context.Context, collection string, uuids []string, where filter.Predicate) ([]model.Record, error)
	MatchUUIDs(ctx context.Context, collection string, where filter.Predicate) ([]string, error)
	Insert(ctx context.Context, collection string, rec *model.Record) error
	Update(ctx context.Context, collection, uuid string, fields map[string]any, at time.Time) error
	SoftDelete(ctx context.Context, collection, uuid string, at time.Time, actor model.ActorSnapshot) error
}

// Alive is the soft-delete gate predicate.
func Alive() filter.Predicate {
	return filter.IsNull{Column: "deleted_at"}
}

// gate performs every read the service issues, ANDing each predicate with
// Alive. Nothing outside this file reads the store directly.
type gate struct {
	store Store
}

var (
	_ resolve.Fetcher = gate{}
	_ filter.Lookup   = gate{}
)

func (g gate) Find(ctx context.Context, collection string, where filter.Predicate, offset, limit int) ([]model.Record, error) {
	return g.store.Find(ctx, collection, filter.All(Alive(), where), offset, limit)
}

func (g gate) Count(ctx context.Context, collection string, where filter.Predicate) (int64, error) {
	return g.store.Count(ctx, collection, filter.All(Alive(), where))
}

func (g gate) FetchByUUIDs(ctx context.Context, collection string, uuids []string) ([]model.Record, error) {
	return g.store.FetchByUUIDs(ctx, collection, uuids, Alive())
}

func (g gate) MatchUUIDs(ctx context.Context, collection string, pred filter.Predicate) ([]string, error) {
	return g.store.MatchUUIDs(ctx, collection, filter.All(Alive(), pred))
}

// One returns the single alive record with uuid that also satisfies where.
func (g gate) One(ctx context.Context, collection, uuid string, where filter.Predicate) (*model.Record, error) {
	if uuid == "" {
		return nil, model.NotFound(collection, uuid)
	}
	found, err := g.Find(ctx, collection, filter.All(filter.Equals{Column: "uuid", Value: uuid}, where), 0, 1)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, model.NotFound(collection, uuid)
	}
	return &found[0], nil
}
