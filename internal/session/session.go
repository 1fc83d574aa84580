// Package session carries the already-authenticated actor through a request.
// Issuing sessions is the job of an external identity service; this package
// only asserts that one is present.
package session

import (
	"context"
	"fmt"

	"agrireg/internal/model"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleStaff Role = "staff"
	RoleOwner Role = "owner"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleStaff, RoleOwner:
		return true
	}
	return false
}

// Actor is the authenticated principal of a request. CompanyUUIDs lists the
// companies an owner is registered against and is ignored for other roles.
type Actor struct {
	UUID         string   `json:"uuid"`
	Name         string   `json:"name"`
	Role         Role     `json:"role"`
	CompanyUUIDs []string `json:"companyUuids,omitempty"`
}

func (a Actor) Validate() error {
	if a.UUID == "" {
		return fmt.Errorf("actor has no uuid: %w", model.ErrSessionInvalid)
	}
	if !a.Role.Valid() {
		return fmt.Errorf("actor role %q: %w", a.Role, model.ErrSessionInvalid)
	}
	return nil
}

// Snapshot is the form of the actor recorded in audit entries and deletion
// markers.
func (a Actor) Snapshot() model.ActorSnapshot {
	return model.ActorSnapshot{UUID: a.UUID, Name: a.Name, Role: string(a.Role)}
}

// Provider returns the actor of the current request or ErrSessionInvalid.
type Provider interface {
	Actor(ctx context.Context) (Actor, error)
}

type contextKey struct{}

// WithActor returns a context carrying actor.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, actor)
}

// ContextProvider reads the actor placed on the context by WithActor.
type ContextProvider struct{}

func (ContextProvider) Actor(ctx context.Context) (Actor, error) {
	actor, ok := ctx.Value(contextKey{}).(Actor)
	if !ok {
		return Actor{}, fmt.Errorf("no actor on request: %w", model.ErrSessionInvalid)
	}
	if err := actor.Validate(); err != nil {
		return Actor{}, err
	}
	return actor, nil
}

// StaticProvider always returns the same actor. Used by the CLI.
type StaticProvider struct {
	Value Actor
}

func (p StaticProvider) Actor(context.Context) (Actor, error) {
	if err := p.Value.Validate(); err != nil {
		return Actor{}, err
	}
	return p.Value, nil
}
