package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"vface/internal/matcher"
	"vface/internal/platform/middleware"
	"vface/internal/registry"
	"vface/internal/transport/http/shared"
	domainerrors "vface/pkg/domain-errors"
)

// RegistryService defines the identity operations the HTTP layer needs.
type RegistryService interface {
	Register(ctx context.Context, in registry.RegisterInput) (*registry.Record, error)
	Check(ctx context.Context, fp string, includeVector bool) (*registry.CheckResult, error)
	Revoke(ctx context.Context, signatureHex string, cmd registry.RevokeCommand) error
	ListByOwner(ctx context.Context, ownerKey string) ([]string, error)
	Search(ctx context.Context, vector []float64, threshold float64, topK int) ([]matcher.Match, error)
	RotateKeys(ctx context.Context) (*registry.RotationReport, error)
}

// RegistryHandler handles identity and admin endpoints.
type RegistryHandler struct {
	registry RegistryService
	logger   *slog.Logger
}

// NewRegistryHandler creates a new RegistryHandler.
func NewRegistryHandler(service RegistryService, logger *slog.Logger) *RegistryHandler {
	return &RegistryHandler{registry: service, logger: logger}
}

type registerRequest struct {
	Fingerprint string            `json:"fingerprint,omitempty"`
	OwnerKey    string            `json:"ownerKey"`
	Vector      []float64         `json:"vector,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (h *RegistryHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeValidation, "invalid request body"))
		return
	}

	record, err := h.registry.Register(ctx, registry.RegisterInput{
		Fingerprint: req.Fingerprint,
		OwnerKey:    req.OwnerKey,
		Vector:      req.Vector,
		Metadata:    req.Metadata,
	})
	if err != nil {
		h.logRejected(ctx, "register", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, record)
}

type checkResponse struct {
	Exists    bool              `json:"exists"`
	OwnerKey  string            `json:"ownerKey,omitempty"`
	CreatedAt *time.Time        `json:"createdAt,omitempty"`
	Revoked   bool              `json:"revoked,omitempty"`
	RevokedAt *time.Time        `json:"revokedAt,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Vector    []float64         `json:"vector,omitempty"`
}

func (h *RegistryHandler) handleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fp := chi.URLParam(r, "fingerprint")
	includeVector := r.URL.Query().Get("include_vector") == "true"

	result, err := h.registry.Check(ctx, fp, includeVector)
	if err != nil {
		h.logRejected(ctx, "check", err)
		shared.WriteError(w, err)
		return
	}

	resp := checkResponse{Exists: result.Exists}
	if result.Exists {
		resp.OwnerKey = result.OwnerKey
		resp.CreatedAt = &result.CreatedAt
		resp.Revoked = result.Revoked
		resp.RevokedAt = result.RevokedAt
		resp.Metadata = result.Metadata
		resp.Vector = result.Vector
	}
	shared.WriteJSON(w, http.StatusOK, resp)
}

type revokeRequest struct {
	Signature string                 `json:"signature"`
	Command   registry.RevokeCommand `json:"command"`
}

func (h *RegistryHandler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeValidation, "invalid request body"))
		return
	}

	if err := h.registry.Revoke(ctx, req.Signature, req.Command); err != nil {
		h.logRejected(ctx, "revoke", err)
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type searchRequest struct {
	Vector    []float64 `json:"vector"`
	Threshold float64   `json:"threshold,omitempty"`
	TopK      int       `json:"top_k,omitempty"`
}

type searchResponse struct {
	Matched      bool            `json:"matched"`
	Matches      []matcher.Match `json:"matches"`
	SearchTimeMs float64         `json:"search_time_ms"`
}

func (h *RegistryHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeValidation, "invalid request body"))
		return
	}

	start := time.Now()
	matches, err := h.registry.Search(ctx, req.Vector, req.Threshold, req.TopK)
	if err != nil {
		h.logRejected(ctx, "search", err)
		shared.WriteError(w, err)
		return
	}
	if matches == nil {
		matches = []matcher.Match{}
	}
	shared.WriteJSON(w, http.StatusOK, searchResponse{
		Matched:      len(matches) > 0,
		Matches:      matches,
		SearchTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
	})
}

func (h *RegistryHandler) handleListByOwner(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerKey := chi.URLParam(r, "ownerKey")

	fingerprints, err := h.registry.ListByOwner(ctx, ownerKey)
	if err != nil {
		h.logRejected(ctx, "list_by_owner", err)
		shared.WriteError(w, err)
		return
	}
	if fingerprints == nil {
		fingerprints = []string{}
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"ownerKey":     ownerKey,
		"fingerprints": fingerprints,
	})
}

func (h *RegistryHandler) handleRotateKeys(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	report, err := h.registry.RotateKeys(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "key rotation failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, report)
}

func (h *RegistryHandler) logRejected(ctx context.Context, operation string, err error) {
	attrs := []any{
		"request_id", middleware.GetRequestID(ctx),
		"operation", operation,
		"error", err.Error(),
	}
	switch domainerrors.CodeOf(err) {
	case domainerrors.CodeUnavailable, domainerrors.CodeInternal:
		h.logger.ErrorContext(ctx, "registry operation failed", attrs...)
	default:
		h.logger.WarnContext(ctx, "registry operation rejected", attrs...)
	}
}
