package registry

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"agrireg/internal/filter"
	"agrireg/internal/model"
	"agrireg/internal/schema"
	"agrireg/internal/session"
)

// OwnerVisibility narrows reads for owner actors to records reachable from
// the companies they are registered against. Other roles see everything and
// get a nil predicate. An owner with no companies sees nothing.
//
// The result is ANDed with the compiled filter, never substituted for it.
func OwnerVisibility(ctx context.Context, lookup filter.Lookup, ent *schema.Entity, actor session.Actor) (filter.Predicate, error) {
	if actor.Role != session.RoleOwner {
		return nil, nil
	}
	companies := slices.Clone(actor.CompanyUUIDs)
	if len(companies) == 0 {
		return filter.None{}, nil
	}
	sort.Strings(companies)

	owner := ent.Owner
	if owner.Column == "" {
		return filter.None{}, nil
	}
	if owner.Via == "" {
		return filter.In{Column: owner.Column, Values: companies}, nil
	}

	ids, err := lookup.MatchUUIDs(ctx, owner.Via, filter.In{Column: owner.ViaColumn, Values: companies})
	if err != nil {
		return nil, fmt.Errorf("resolving %s ownership through %s: %w", ent.Name, owner.Via, err)
	}
	if len(ids) == 0 {
		return filter.None{}, nil
	}
	sort.Strings(ids)
	return filter.In{Column: owner.Column, Values: ids}, nil
}

// checkOwnership rejects writes by an owner that would leave the record
// outside the owner's visibility. fields is the full post-write field set.
func (s *Service) checkOwnership(ctx context.Context, ent *schema.Entity, actor session.Actor, fields map[string]any) error {
	if actor.Role != session.RoleOwner {
		return nil
	}
	owner := ent.Owner
	if owner.Column == "uuid" || owner.Column == "" {
		return &model.ValidationError{Field: "role", Reason: fmt.Sprintf("owners cannot create or change %s records", ent.Name)}
	}

	company, _ := fields[owner.Column].(string)
	if owner.Via != "" {
		via, err := s.reads.One(ctx, owner.Via, company, nil)
		if err != nil {
			return err
		}
		company = via.String(owner.ViaColumn)
	}
	if !slices.Contains(actor.CompanyUUIDs, company) {
		return fmt.Errorf("%s is outside the actor's companies: %w", owner.Column, model.ErrReferenceNotFound)
	}
	return nil
}
