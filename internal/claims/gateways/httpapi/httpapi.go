// Package httpapi exposes the resolver over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/haukened/handlegate/internal/claims/common/log"
	"github.com/haukened/handlegate/internal/claims/domain"
)

const (
	maxBodyBytes   = 4 << 10
	requestTimeout = 10 * time.Second
)

// Resolver is the service surface the handlers depend on.
type Resolver interface {
	Check(ctx context.Context, raw string) domain.Verdict
	Policy() domain.UncertainPolicy
	Claim(ctx context.Context, req domain.ClaimRequest) (domain.Claim, error)
	Touch(ctx context.Context, raw string) error
}

// Readiness returns nil once warm-up has completed and the backends answer.
type Readiness interface {
	Ready(ctx context.Context) error
}

type Options struct {
	Resolver  Resolver
	Readiness Readiness
	Metrics   http.Handler
	Logger    log.Logger
}

type Handler struct {
	resolver  Resolver
	readiness Readiness
	metrics   http.Handler
	logger    log.Logger
}

func New(opts Options) *Handler {
	h := &Handler{
		resolver:  opts.Resolver,
		readiness: opts.Readiness,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
	if h.logger == nil {
		h.logger = log.NewNoopLogger()
	}
	return h
}

// Routes builds the chi router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyz)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/v1/identifiers", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Post("/", h.handleClaim)
		r.Get("/{identifier}/availability", h.handleAvailability)
		r.Post("/{identifier}/activity", h.handleActivity)
	})
	return r
}

type availabilityResponse struct {
	Identifier string `json:"identifier"`
	Available  bool   `json:"available"`
}

type claimRequest struct {
	Identifier string `json:"identifier"`
	Owner      string `json:"owner"`
}

type claimResponse struct {
	ID         string    `json:"id"`
	Identifier string    `json:"identifier"`
	Display    string    `json:"display"`
	Owner      string    `json:"owner,omitempty"`
	ClaimedAt  time.Time `json:"claimed_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "identifier")
	v := h.resolver.Check(r.Context(), raw)
	if errors.Is(v.Err, domain.ErrInvalidIdentifier) {
		h.writeError(w, r, v.Err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{
		Identifier: raw,
		Available:  v.Available(h.resolver.Policy()),
	})
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.logger.Debug(map[string]any{"error": err, "request_id": middleware.GetReqID(r.Context())}, "malformed claim request")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	c, err := h.resolver.Claim(r.Context(), domain.ClaimRequest{Identifier: req.Identifier, Owner: req.Owner})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, claimResponse{
		ID:         c.ID.String(),
		Identifier: c.Identifier,
		Display:    c.Display,
		Owner:      c.Owner,
		ClaimedAt:  c.ClaimedAt,
	})
}

func (h *Handler) handleActivity(w http.ResponseWriter, r *http.Request) {
	if err := h.resolver.Touch(r.Context(), chi.URLParam(r, "identifier")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if h.readiness == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	if err := h.readiness.Ready(r.Context()); err != nil {
		h.logger.Warn(map[string]any{"error": err}, "readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "reason": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writeError maps domain errors to status codes. Internal details never
// reach the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidIdentifier):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: domain.ErrInvalidIdentifier.Error()})
	case errors.Is(err, domain.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: domain.ErrConflict.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: domain.ErrNotFound.Error()})
	default:
		h.logger.Error(map[string]any{"error": err, "request_id": middleware.GetReqID(r.Context())}, "request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
