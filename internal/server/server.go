// Package server exposes the registry over HTTP. Every successful response
// carries a signed envelope token; clients verify and unwrap it themselves.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"agrireg/internal/model"
	"agrireg/internal/page"
	"agrireg/internal/registry"
	"agrireg/internal/session"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 1 << 20

// Server routes HTTP requests to a registry.Service.
type Server struct {
	svc     *registry.Service
	auth    *session.TokenAuthenticator
	metrics http.Handler
	logger  registry.Logger
}

type Option func(*Server)

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

func WithLogger(l registry.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates a Server. The service must read its actor from the request
// context (session.ContextProvider); the bearer middleware places it there.
func New(svc *registry.Service, auth *session.TokenAuthenticator, opts ...Option) *Server {
	s := &Server{svc: svc, auth: auth, logger: registry.NewNopLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(limitBody)
		r.Post("/scopes", s.handleScope)
		r.Get("/{entity}", s.handleList)
		r.Post("/{entity}", s.handleCreate)
		r.Get("/{entity}/{uuid}", s.handleGet)
		r.Patch("/{entity}/{uuid}", s.handleUpdate)
		r.Delete("/{entity}/{uuid}", s.handleDelete)
	})
	return r
}

// authenticate turns the bearer token into the request's actor.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		actor, err := s.auth.Authenticate(strings.TrimSpace(token))
		if err != nil {
			s.fail(w, r, err, false)
			return
		}
		next.ServeHTTP(w, r.WithContext(session.WithActor(r.Context(), actor)))
	})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

type tokenResponse struct {
	Token string `json:"token"`
}

type scopeRequest struct {
	Kind string `json:"kind"`
	UUID string `json:"uuid"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := registry.ListRequest{
		Page:       page.Request{Size: 25},
		Filters:    q.Get("filters"),
		ScopeToken: q.Get("scope"),
	}
	for key, dst := range map[string]*int{"pageIndex": &req.Page.Index, "pageSize": &req.Page.Size} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.fail(w, r, &model.ValidationError{Field: key, Reason: "must be an integer"}, true)
			return
		}
		*dst = n
	}

	resp, err := s.svc.List(r.Context(), chi.URLParam(r, "entity"), req)
	if err != nil {
		s.fail(w, r, err, true)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: resp.Token})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	token, err := s.svc.Get(r.Context(), chi.URLParam(r, "entity"), chi.URLParam(r, "uuid"))
	if err != nil {
		s.fail(w, r, err, true)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	fields, ok := s.decodeFields(w, r)
	if !ok {
		return
	}
	token, err := s.svc.Create(r.Context(), chi.URLParam(r, "entity"), fields)
	if err != nil {
		s.fail(w, r, err, false)
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse{Token: token})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	fields, ok := s.decodeFields(w, r)
	if !ok {
		return
	}
	token, err := s.svc.Update(r.Context(), chi.URLParam(r, "entity"), chi.URLParam(r, "uuid"), fields)
	if err != nil {
		s.fail(w, r, err, false)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	token, err := s.svc.Delete(r.Context(), chi.URLParam(r, "entity"), chi.URLParam(r, "uuid"))
	if err != nil {
		s.fail(w, r, err, false)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

func (s *Server) handleScope(w http.ResponseWriter, r *http.Request) {
	var req scopeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, r, &model.ValidationError{Field: "body", Reason: "must be a JSON object with kind and uuid"}, false)
		return
	}
	token, err := s.svc.MintScope(r.Context(), req.Kind, req.UUID)
	if err != nil {
		s.fail(w, r, err, false)
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse{Token: token})
}

func (s *Server) decodeFields(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil || fields == nil {
		s.fail(w, r, &model.ValidationError{Field: "body", Reason: "must be a JSON object of fields"}, false)
		return nil, false
	}
	return fields, true
}

// fail writes the error response for err. Unexpected read failures are
// presented as a generic retryable message; mutations report the reason.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, read bool) {
	status, msg := classify(err, read)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "error", err)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func classify(err error, read bool) (int, string) {
	switch {
	case errors.Is(err, model.ErrSessionInvalid):
		return http.StatusUnauthorized, "session is missing or invalid"
	case errors.Is(err, model.ErrEnvelopeInvalid):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, model.ErrValidation):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, model.ErrReferenceNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, model.ErrDuplicateSequenceCode):
		return http.StatusConflict, err.Error()
	}
	if read {
		return http.StatusServiceUnavailable, "the registry is temporarily unavailable, please retry"
	}
	return http.StatusInternalServerError, err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
