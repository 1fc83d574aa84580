// Package registry is the service layer of the query API. Every operation
// asserts the session, reads only through the soft-delete gate, audits every
// mutation and hands results back as signed envelopes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"golang.org/x/sync/errgroup"

	"agrireg/internal/audit"
	"agrireg/internal/envelope"
	"agrireg/internal/filter"
	"agrireg/internal/model"
	"agrireg/internal/page"
	"agrireg/internal/resolve"
	"agrireg/internal/schema"
	"agrireg/internal/sequence"
	"agrireg/internal/session"
)

// ListRequest selects one page of an entity. Filters is the raw filter
// specification; ScopeToken, when set, is a token from MintScope.
type ListRequest struct {
	Page       page.Request
	Filters    string
	ScopeToken string
}

// ListResponse carries the signed ListResult.
type ListResponse struct {
	Token string
}

// Service coordinates the store, codec, sequence generator and audit sink to
// serve the registry operations.
type Service struct {
	store     Store
	reads     gate
	catalog   schema.Catalog
	codec     *envelope.Codec
	generator *sequence.Generator
	sink      audit.Sink
	sessions  session.Provider
	compiler  *filter.Compiler
	observer  Observer
	logger    Logger
	clock     Clock
	idgen     IDGenerator
}

// Option customizes a Service.
type Option func(*Service)

func WithCatalog(c schema.Catalog) Option  { return func(s *Service) { s.catalog = c } }
func WithObserver(o Observer) Option       { return func(s *Service) { s.observer = o } }
func WithLogger(l Logger) Option           { return func(s *Service) { s.logger = l } }
func WithClock(c Clock) Option             { return func(s *Service) { s.clock = c } }
func WithIDGenerator(g IDGenerator) Option { return func(s *Service) { s.idgen = g } }

// NewService creates a Service over the default entity catalog.
func NewService(store Store, codec *envelope.Codec, generator *sequence.Generator, sink audit.Sink, sessions session.Provider, opts ...Option) *Service {
	s := &Service{
		store:     store,
		reads:     gate{store: store},
		catalog:   schema.Default(),
		codec:     codec,
		generator: generator,
		sink:      sink,
		sessions:  sessions,
		observer:  NopObserver{},
		logger:    NewNopLogger(),
		clock:     RealClock{},
		idgen:     UUIDGenerator{},
	}
	s.compiler = filter.NewCompiler(s.reads)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the entities the service serves.
func (s *Service) Catalog() schema.Catalog {
	return s.catalog
}

// List returns a signed page of alive, visible records matching the filters,
// enriched with their references, plus page metadata.
//
// A malformed filter specification degrades to no filter; the result then
// carries a warning and the failure is logged and counted.
func (s *Service) List(ctx context.Context, entity string, req ListRequest) (resp ListResponse, err error) {
	defer s.observe("list", entity, time.Now(), &err)

	actor, ent, err := s.begin(ctx, entity)
	if err != nil {
		return ListResponse{}, err
	}
	if err := req.Page.Validate(); err != nil {
		return ListResponse{}, err
	}

	var warnings []string
	clauses, err := filter.Parse(req.Filters)
	if err != nil {
		s.logger.Warn("malformed filter specification ignored", "entity", entity, "error", err)
		s.observer.FilterParseFailed()
		warnings = append(warnings, "filter specification ignored: "+err.Error())
		clauses = nil
	}

	where, err := s.readPredicate(ctx, ent, actor, req.ScopeToken, clauses)
	if err != nil {
		return ListResponse{}, err
	}

	var (
		records []model.Record
		total   int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		records, err = s.reads.Find(gctx, ent.Collection, where, req.Page.Offset(), req.Page.Limit())
		if err != nil {
			return fmt.Errorf("reading %s page: %w", ent.Name, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		total, err = s.reads.Count(gctx, ent.Collection, where)
		if err != nil {
			return fmt.Errorf("counting %s: %w", ent.Name, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return ListResponse{}, err
	}

	rows, err := resolve.Resolve(ctx, s.reads, records, ent.References)
	if err != nil {
		return ListResponse{}, err
	}
	if rows == nil {
		rows = []resolve.Row{}
	}

	token, err := s.codec.Sign(envelope.KindList, ListResult{
		Entity:   ent.Name,
		Rows:     rows,
		Page:     page.NewMeta(req.Page, total),
		Warnings: warnings,
	})
	if err != nil {
		return ListResponse{}, err
	}
	return ListResponse{Token: token}, nil
}

// readPredicate ANDs visibility, scope and compiled filters. The gate adds
// the soft-delete condition when the predicate is used.
func (s *Service) readPredicate(ctx context.Context, ent *schema.Entity, actor session.Actor, scopeToken string, clauses []filter.Clause) (filter.Predicate, error) {
	visible, err := OwnerVisibility(ctx, s.reads, ent, actor)
	if err != nil {
		return nil, err
	}

	var scoped filter.Predicate
	if scopeToken != "" {
		scoped, err = s.scopePredicate(ctx, ent, actor, scopeToken)
		if err != nil {
			return nil, err
		}
	}

	compiled, err := s.compiler.Compile(ctx, ent.Filters, clauses)
	if err != nil {
		return nil, err
	}
	return filter.All(visible, scoped, compiled), nil
}

func (s *Service) scopePredicate(ctx context.Context, ent *schema.Entity, actor session.Actor, token string) (filter.Predicate, error) {
	scope, err := DecodeScope(s.codec, token)
	if err != nil {
		return nil, err
	}
	column, err := ent.ScopeColumn(scope.Kind)
	if err != nil {
		return nil, err
	}
	target, err := s.catalog.Entity(scope.Kind)
	if err != nil {
		return nil, err
	}
	if _, err := s.visibleRecord(ctx, target, actor, scope.UUID); err != nil {
		return nil, fmt.Errorf("scope %s: %w", scope.Kind, err)
	}
	return filter.Equals{Column: column, Value: scope.UUID}, nil
}

// Get returns a signed record token for one alive, visible record.
func (s *Service) Get(ctx context.Context, entity, uuid string) (token string, err error) {
	defer s.observe("get", entity, time.Now(), &err)

	actor, ent, err := s.begin(ctx, entity)
	if err != nil {
		return "", err
	}
	rec, err := s.visibleRecord(ctx, ent, actor, uuid)
	if err != nil {
		return "", err
	}
	return s.signRecord(ctx, ent, rec)
}

// Create validates fields, issues the entity's code, inserts the record and
// audits it. Required references must point to alive records.
//
// A code consumed by a create that then fails is not reissued.
func (s *Service) Create(ctx context.Context, entity string, fields map[string]any) (token string, err error) {
	defer s.observe("create", entity, time.Now(), &err)

	actor, ent, err := s.begin(ctx, entity)
	if err != nil {
		return "", err
	}
	if err := ent.CheckFields(fields, false); err != nil {
		return "", err
	}
	if err := s.checkReferences(ctx, ent, actor, fields); err != nil {
		return "", err
	}
	if err := s.checkOwnership(ctx, ent, actor, fields); err != nil {
		return "", err
	}

	rec := &model.Record{
		UUID:   s.idgen.New(),
		Fields: maps.Clone(fields),
	}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}

	if seq := ent.Sequence; seq != nil {
		code, err := s.generator.Next(ctx, seq.Name, seq.Template)
		if err != nil {
			return "", err
		}
		s.observer.SequenceIssued(seq.Name)
		rec.Fields[seq.Column] = code
	}

	now := s.clock.Now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now
	if err := s.store.Insert(ctx, ent.Collection, rec); err != nil {
		return "", err
	}
	stored, err := s.store.FindByUUID(ctx, ent.Collection, rec.UUID)
	if err != nil {
		return "", fmt.Errorf("reloading %s: %w", ent.Name, err)
	}

	s.logger.Info("record created", "entity", ent.Name, "uuid", stored.UUID, "actor", actor.UUID)
	s.appendAudit(ctx, model.AuditCreate, ent, stored, actor)
	return s.signRecord(ctx, ent, stored)
}

// Update overwrites the given mutable fields of an alive, visible record.
// The identity and the generated code cannot change.
func (s *Service) Update(ctx context.Context, entity, uuid string, fields map[string]any) (token string, err error) {
	defer s.observe("update", entity, time.Now(), &err)

	actor, ent, err := s.begin(ctx, entity)
	if err != nil {
		return "", err
	}
	if len(fields) == 0 {
		return "", &model.ValidationError{Reason: "no fields to update"}
	}
	if err := ent.CheckFields(fields, true); err != nil {
		return "", err
	}

	existing, err := s.visibleRecord(ctx, ent, actor, uuid)
	if err != nil {
		return "", err
	}
	if err := s.checkReferences(ctx, ent, actor, fields); err != nil {
		return "", err
	}
	merged := maps.Clone(existing.Fields)
	maps.Copy(merged, fields)
	if err := s.checkOwnership(ctx, ent, actor, merged); err != nil {
		return "", err
	}

	if err := s.store.Update(ctx, ent.Collection, uuid, fields, s.clock.Now()); err != nil {
		return "", err
	}
	rec, err := s.store.FindByUUID(ctx, ent.Collection, uuid)
	if err != nil {
		return "", fmt.Errorf("reloading %s: %w", ent.Name, err)
	}

	s.logger.Info("record updated", "entity", ent.Name, "uuid", uuid, "actor", actor.UUID)
	s.appendAudit(ctx, model.AuditUpdate, ent, rec, actor)
	return s.signRecord(ctx, ent, rec)
}

// Delete soft-deletes an alive, visible record. The record stays in the
// store and disappears from every gated read.
func (s *Service) Delete(ctx context.Context, entity, uuid string) (token string, err error) {
	defer s.observe("delete", entity, time.Now(), &err)

	actor, ent, err := s.begin(ctx, entity)
	if err != nil {
		return "", err
	}
	if _, err := s.visibleRecord(ctx, ent, actor, uuid); err != nil {
		return "", err
	}
	if actor.Role == session.RoleOwner && (ent.Owner.Column == "uuid" || ent.Owner.Column == "") {
		return "", &model.ValidationError{Field: "role", Reason: fmt.Sprintf("owners cannot delete %s records", ent.Name)}
	}

	if err := s.store.SoftDelete(ctx, ent.Collection, uuid, s.clock.Now(), actor.Snapshot()); err != nil {
		return "", err
	}
	rec, err := s.store.FindByUUID(ctx, ent.Collection, uuid)
	if err != nil {
		return "", fmt.Errorf("reloading %s: %w", ent.Name, err)
	}

	s.logger.Info("record deleted", "entity", ent.Name, "uuid", uuid, "actor", actor.UUID)
	s.appendAudit(ctx, model.AuditDelete, ent, rec, actor)

	row := resolve.BaseRow(rec)
	row["deletedAt"] = rec.DeletedAt.UTC().Format(time.RFC3339)
	return s.codec.Sign(envelope.KindRecord, RecordResult{Entity: ent.Name, Row: row})
}

// MintScope signs a scope token for an alive record the actor can see.
func (s *Service) MintScope(ctx context.Context, kind, uuid string) (token string, err error) {
	defer s.observe("scope", kind, time.Now(), &err)

	actor, err := s.sessions.Actor(ctx)
	if err != nil {
		return "", err
	}
	if _, ok := schema.ScopeCollections[kind]; !ok {
		return "", &model.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown scope kind %q", kind)}
	}
	ent, err := s.catalog.Entity(kind)
	if err != nil {
		return "", err
	}
	if _, err := s.visibleRecord(ctx, ent, actor, uuid); err != nil {
		return "", err
	}
	return s.codec.Sign(envelope.KindScope, ScopePayload{Kind: kind, UUID: uuid})
}

// begin asserts the session and resolves the entity.
func (s *Service) begin(ctx context.Context, entity string) (session.Actor, *schema.Entity, error) {
	actor, err := s.sessions.Actor(ctx)
	if err != nil {
		return session.Actor{}, nil, err
	}
	ent, err := s.catalog.Entity(entity)
	if err != nil {
		return session.Actor{}, nil, err
	}
	return actor, ent, nil
}

// visibleRecord loads one alive record the actor is allowed to see.
func (s *Service) visibleRecord(ctx context.Context, ent *schema.Entity, actor session.Actor, uuid string) (*model.Record, error) {
	visible, err := OwnerVisibility(ctx, s.reads, ent, actor)
	if err != nil {
		return nil, err
	}
	return s.reads.One(ctx, ent.Collection, uuid, visible)
}

// checkReferences requires every foreign uuid in fields to name an alive
// record in its collection that the actor can see.
func (s *Service) checkReferences(ctx context.Context, ent *schema.Entity, actor session.Actor, fields map[string]any) error {
	for _, col := range ent.RefColumns() {
		v, ok := fields[col.Name]
		if !ok || v == nil || v == "" {
			continue
		}
		id, ok := v.(string)
		if !ok {
			return &model.ValidationError{Field: col.Name, Reason: "must be a uuid string"}
		}
		var visible filter.Predicate
		if actor.Role == session.RoleOwner {
			target, ok := s.catalog.ByCollection(col.Ref)
			if !ok {
				return fmt.Errorf("%s: no entity stored in %s", col.Name, col.Ref)
			}
			var err error
			if visible, err = OwnerVisibility(ctx, s.reads, target, actor); err != nil {
				return err
			}
		}
		if _, err := s.reads.One(ctx, col.Ref, id, visible); err != nil {
			return fmt.Errorf("%s: %w", col.Name, err)
		}
	}
	return nil
}

func (s *Service) signRecord(ctx context.Context, ent *schema.Entity, rec *model.Record) (string, error) {
	rows, err := resolve.Resolve(ctx, s.reads, []model.Record{*rec}, ent.References)
	if err != nil {
		return "", err
	}
	return s.codec.Sign(envelope.KindRecord, RecordResult{Entity: ent.Name, Row: rows[0]})
}

// appendAudit records the post-mutation state. Failures are logged and
// counted but never returned; the mutation has already happened.
func (s *Service) appendAudit(ctx context.Context, typ model.AuditType, ent *schema.Entity, rec *model.Record, actor session.Actor) {
	entry := model.AuditEntry{
		UUID:       s.idgen.New(),
		Type:       typ,
		EntityName: ent.Name,
		EntityUUID: rec.UUID,
		Snapshot:   rec.Snapshot(),
		Actor:      actor.Snapshot(),
		Timestamp:  s.clock.Now().UTC(),
	}
	if err := s.sink.Append(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("audit append failed", "entity", ent.Name, "uuid", rec.UUID, "type", string(typ), "error", err)
		s.observer.AuditAppendFailed(ent.Name)
	}
}

func (s *Service) observe(op, entity string, start time.Time, err *error) {
	s.observer.OperationDone(op, entity, time.Since(start), *err)
	if *err != nil && !expected(*err) {
		s.logger.Error("operation failed", "op", op, "entity", entity, "error", *err)
	}
}

// expected reports whether err is one of the caller-facing outcomes rather
// than an internal failure.
func expected(err error) bool {
	for _, target := range []error{
		model.ErrSessionInvalid,
		model.ErrEnvelopeInvalid,
		model.ErrReferenceNotFound,
		model.ErrDuplicateSequenceCode,
		model.ErrValidation,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
