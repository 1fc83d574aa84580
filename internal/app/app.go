package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"agrireg/internal/audit"
	"agrireg/internal/config"
	"agrireg/internal/database"
	"agrireg/internal/encryption"
	"agrireg/internal/envelope"
	"agrireg/internal/metrics"
	"agrireg/internal/model"
	"agrireg/internal/registry"
	"agrireg/internal/sequence"
	"agrireg/internal/server"
	"agrireg/internal/session"
	"agrireg/internal/vault"
)

var (
	_ registry.Store         = (*database.Store)(nil)
	_ audit.Appender         = (*database.Store)(nil)
	_ sequence.CASCounter    = (*database.Counters)(nil)
	_ sequence.AtomicCounter = (*database.Store)(nil)
	_ registry.Observer      = (*metrics.Recorder)(nil)
)

// App is the application layer between the CLI and the registry service.
// It constructs all dependencies from config, exposes the registry
// operations, and releases everything on Close.
type App struct {
	cfg       *config.Config
	store     *database.Store
	codec     *envelope.Codec
	recorder  *metrics.Recorder
	vault     vault.Vault
	encryptor encryption.Encryptor
	archive   *audit.ArchiveSink
	service   *registry.Service
	auth      *session.TokenAuthenticator
	op        *Operation
	logger    *slog.Logger
	logFile   *os.File
}

// New creates a fully wired App from the given config.
// operation identifies the command being run (e.g. "Create", "Serve").
// sessions supplies the acting user: a StaticProvider for the CLI, a
// ContextProvider for the server. The caller must call Close when done.
func New(ctx context.Context, cfg *config.Config, operation string, sessions session.Provider) (*App, error) {
	op := NewOperation(operation, time.Now())
	logger, logFile, err := newLogger(cfg.LogDir, op.ID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a := &App{cfg: cfg, op: op, logger: logger, logFile: logFile, recorder: metrics.NewRecorder()}
	if err := a.wire(ctx, sessions); err != nil {
		a.release()
		return nil, err
	}
	logger.Debug("operation started", "operation", operation)
	return a, nil
}

func (a *App) wire(ctx context.Context, sessions session.Provider) error {
	store, err := OpenStore(ctx, a.cfg)
	if err != nil {
		return err
	}
	a.store = store

	if a.cfg.Database.Type == "memory" {
		if err := store.MigrateUp(); err != nil {
			return fmt.Errorf("migrating in-memory database: %w", err)
		}
	} else if err := store.CheckMigrations(); err != nil {
		return fmt.Errorf("database schema out of date: %w", err)
	}

	codec, generated, err := NewCodec(a.cfg.Envelope)
	if err != nil {
		return err
	}
	if generated {
		a.logger.Info("generated envelope secret", "path", a.cfg.Envelope.SecretPath)
	}
	a.codec = codec

	gen, err := newGenerator(a.cfg.Sequence, store, a.recorder)
	if err != nil {
		return err
	}

	sink := audit.MultiSink{audit.NewStoreSink(store)}
	if a.cfg.Audit.Archive {
		archive, err := a.newArchiveSink(ctx)
		if err != nil {
			return err
		}
		a.archive = archive
		sink = append(sink, archive)
	}

	a.service = registry.NewService(store, codec, gen, sink, sessions,
		registry.WithObserver(a.recorder),
		registry.WithLogger(&slogAdapter{l: a.logger}),
	)
	a.auth = session.NewTokenAuthenticator(codec)
	return nil
}

// OpenStore opens the configured database without checking its schema.
func OpenStore(ctx context.Context, cfg *config.Config) (*database.Store, error) {
	store, err := database.NewStoreFromConfig(ctx, cfg.Database, cfg.HostID)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}
	return store, nil
}

// NewCodec loads (or creates) the envelope secret and builds a codec.
// generated reports whether a new secret was written.
func NewCodec(cfg config.EnvelopeConfig) (codec *envelope.Codec, generated bool, err error) {
	secret, generated, err := envelope.LoadSecret(cfg.SecretPath)
	if err != nil {
		return nil, false, fmt.Errorf("loading envelope secret: %w", err)
	}
	ttl, err := cfg.TTLDuration()
	if err != nil {
		return nil, false, err
	}
	codec, err = envelope.NewCodec(secret, ttl, nil)
	if err != nil {
		return nil, false, fmt.Errorf("creating envelope codec: %w", err)
	}
	return codec, generated, nil
}

func newGenerator(cfg config.SequenceConfig, store *database.Store, recorder *metrics.Recorder) (*sequence.Generator, error) {
	switch cfg.Strategy {
	case "", "atomic":
		return sequence.NewGenerator(store), nil
	case "optimistic":
		return sequence.NewGenerator(sequence.NewOptimisticCounter(store.Counters(), cfg.MaxAttempts, recorder.CASRetry)), nil
	default:
		return nil, fmt.Errorf("unknown sequence strategy: %s", cfg.Strategy)
	}
}

func (a *App) newArchiveSink(ctx context.Context) (*audit.ArchiveSink, error) {
	v, enc, err := a.archiveBackends(ctx)
	if err != nil {
		return nil, err
	}
	spool, err := audit.NewSpoolFromConfig(a.cfg.Audit.Spool)
	if err != nil {
		return nil, fmt.Errorf("creating audit spool: %w", err)
	}
	archive, err := audit.NewArchiveSink(spool, v, enc, a.cfg.HostID, a.cfg.Audit.SegmentBytes)
	if err != nil {
		return nil, fmt.Errorf("creating audit archive: %w", err)
	}
	return archive, nil
}

// archiveBackends returns the audit vault and encryptor, building them on
// first use.
func (a *App) archiveBackends(ctx context.Context) (vault.Vault, encryption.Encryptor, error) {
	if a.vault == nil {
		v, err := vault.NewVaultFromConfig(ctx, a.cfg.Audit.Vault)
		if err != nil {
			return nil, nil, fmt.Errorf("creating vault: %w", err)
		}
		a.vault = v
	}
	if a.encryptor == nil {
		enc, err := encryption.NewEncryptorFromConfig(a.cfg.Encryption)
		if err != nil {
			return nil, nil, fmt.Errorf("creating encryptor: %w", err)
		}
		a.encryptor = enc
	}
	return a.vault, a.encryptor, nil
}

// Codec returns the codec result tokens are signed with.
func (a *App) Codec() *envelope.Codec { return a.codec }

// Recorder returns the metrics recorder observing the service.
func (a *App) Recorder() *metrics.Recorder { return a.recorder }

// List returns a signed page of entity records.
func (a *App) List(ctx context.Context, entity string, req registry.ListRequest) (string, error) {
	resp, err := a.service.List(ctx, entity, req)
	if err := a.op.Record(err); err != nil {
		return "", err
	}
	return resp.Token, nil
}

func (a *App) Get(ctx context.Context, entity, uuid string) (string, error) {
	token, err := a.service.Get(ctx, entity, uuid)
	return token, a.op.Record(err)
}

func (a *App) Create(ctx context.Context, entity string, fields map[string]any) (string, error) {
	token, err := a.service.Create(ctx, entity, fields)
	return token, a.op.Record(err)
}

func (a *App) Update(ctx context.Context, entity, uuid string, fields map[string]any) (string, error) {
	token, err := a.service.Update(ctx, entity, uuid, fields)
	return token, a.op.Record(err)
}

func (a *App) Delete(ctx context.Context, entity, uuid string) (string, error) {
	token, err := a.service.Delete(ctx, entity, uuid)
	return token, a.op.Record(err)
}

// MintScope returns a scoping token for the given company or farm.
func (a *App) MintScope(ctx context.Context, kind, uuid string) (string, error) {
	token, err := a.service.MintScope(ctx, kind, uuid)
	return token, a.op.Record(err)
}

// IssueSession signs actor as a bearer session token for the HTTP API.
func (a *App) IssueSession(actor session.Actor) (string, error) {
	token, err := a.auth.Issue(actor)
	return token, a.op.Record(err)
}

// VerifyToken checks token against every envelope kind and returns the
// envelope of the kind it was signed as.
func (a *App) VerifyToken(token string) (envelope.Envelope[json.RawMessage], error) {
	var errs []error
	for _, kind := range []envelope.Kind{envelope.KindList, envelope.KindRecord, envelope.KindScope, envelope.KindSession} {
		env, err := a.codec.VerifyRaw(token, kind)
		if err == nil {
			return env, nil
		}
		errs = append(errs, err)
	}
	return envelope.Envelope[json.RawMessage]{}, a.op.Record(errs[0])
}

// AuditSegments lists this host's archived audit segment keys.
func (a *App) AuditSegments(ctx context.Context) ([]string, error) {
	v, _, err := a.archiveBackends(ctx)
	if err != nil {
		return nil, a.op.Record(err)
	}
	keys, err := audit.ListSegments(ctx, v, a.cfg.HostID)
	return keys, a.op.Record(err)
}

// FetchAudit unlocks the archive key with passphrase and decodes the
// entries of one segment.
func (a *App) FetchAudit(ctx context.Context, passphrase, key string) ([]model.AuditEntry, error) {
	v, enc, err := a.archiveBackends(ctx)
	if err != nil {
		return nil, a.op.Record(err)
	}
	dc, err := enc.Unlock(passphrase)
	if err != nil {
		return nil, a.op.Record(fmt.Errorf("unlocking archive key: %w", err))
	}
	entries, err := audit.ReadSegment(ctx, v, dc, key)
	return entries, a.op.Record(err)
}

// FlushAudit ships buffered audit entries to the vault. A no-op when
// archiving is disabled.
func (a *App) FlushAudit(ctx context.Context) error {
	if a.archive == nil {
		return nil
	}
	return a.op.Record(a.archive.Flush(ctx))
}

// Handler returns the HTTP API. The service must have been built with a
// session.ContextProvider.
func (a *App) Handler() http.Handler {
	return server.New(a.service, a.auth,
		server.WithMetrics(a.recorder.Handler()),
		server.WithLogger(&slogAdapter{l: a.logger}),
	).Routes()
}

// Serve runs the HTTP API on the configured address until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return a.op.Record(fmt.Errorf("serving: %w", err))
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return a.op.Record(fmt.Errorf("shutting down: %w", err))
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return a.op.Record(err)
	}
	return nil
}

// Close flushes the audit archive and closes all resources.
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	if a.archive != nil {
		if err := a.archive.Close(ctx); err != nil {
			firstErr = fmt.Errorf("flushing audit archive: %w", err)
			a.op.Record(firstErr)
		}
	}
	a.logger.Info("operation finished", "operation", a.op.Name, "status", a.op.Status,
		"elapsed", a.op.Elapsed(time.Now()).Truncate(time.Millisecond))
	if err := a.release(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (a *App) release() error {
	var firstErr error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// ActorFromConfig builds the CLI actor.
func ActorFromConfig(cfg config.ActorConfig) session.Actor {
	return session.Actor{
		UUID:         cfg.UUID,
		Name:         cfg.Name,
		Role:         session.Role(cfg.Role),
		CompanyUUIDs: cfg.CompanyUUIDs,
	}
}

// InitKeys creates the archive key pair protected by passphrase and the
// envelope secret if it does not exist yet. It returns the archive public key
// when the encryptor exposes one.
func InitKeys(cfg *config.Config, passphrase string) (string, error) {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return "", fmt.Errorf("creating encryptor: %w", err)
	}
	if err := enc.Setup(passphrase); err != nil {
		return "", fmt.Errorf("creating archive keys: %w", err)
	}
	if _, _, err := NewCodec(cfg.Envelope); err != nil {
		return "", err
	}
	if pk, ok := enc.(interface{ PublicKey() (string, error) }); ok {
		return pk.PublicKey()
	}
	return "", nil
}
