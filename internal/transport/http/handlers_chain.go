package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"vface/internal/chain"
	"vface/internal/platform/middleware"
	"vface/internal/transport/http/shared"
	domainerrors "vface/pkg/domain-errors"
)

// ChainService defines the read-side chain operations.
type ChainService interface {
	RootInfo(ctx context.Context) (*chain.Root, error)
	Entry(ctx context.Context, index int64) (*chain.Entry, error)
	Verify(ctx context.Context, from, to int64) (*chain.VerifyResult, error)
	ExportSnapshot(ctx context.Context) (*chain.Snapshot, error)
}

// ChainHandler handles chain inspection endpoints.
type ChainHandler struct {
	chain  ChainService
	logger *slog.Logger
}

// NewChainHandler creates a new ChainHandler.
func NewChainHandler(service ChainService, logger *slog.Logger) *ChainHandler {
	return &ChainHandler{chain: service, logger: logger}
}

func (h *ChainHandler) handleRoot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	root, err := h.chain.RootInfo(ctx)
	if err != nil {
		h.logFailure(ctx, "root", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, root)
}

func (h *ChainHandler) handleEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	index, err := strconv.ParseInt(chi.URLParam(r, "index"), 10, 64)
	if err != nil || index < 1 {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeValidation, "index must be a positive integer"))
		return
	}

	entry, err := h.chain.Entry(ctx, index)
	if err != nil {
		h.logFailure(ctx, "entry", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, entry)
}

func (h *ChainHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	from, err := parseIndexParam(r, "from")
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	to, err := parseIndexParam(r, "to")
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	result, err := h.chain.Verify(ctx, from, to)
	if err != nil {
		h.logFailure(ctx, "verify", err)
		shared.WriteError(w, err)
		return
	}
	if !result.Valid {
		h.logger.WarnContext(ctx, "chain verification found a broken entry",
			"request_id", middleware.GetRequestID(ctx),
			"broken_at", result.BrokenAt,
		)
	}
	shared.WriteJSON(w, http.StatusOK, result)
}

func (h *ChainHandler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	snapshot, err := h.chain.ExportSnapshot(ctx)
	if err != nil {
		h.logFailure(ctx, "snapshot", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, snapshot)
}

func (h *ChainHandler) logFailure(ctx context.Context, operation string, err error) {
	h.logger.ErrorContext(ctx, "chain operation failed",
		"request_id", middleware.GetRequestID(ctx),
		"operation", operation,
		"error", err.Error(),
	)
}

func parseIndexParam(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 1 {
		return 0, domainerrors.Newf(domainerrors.CodeValidation, "%s must be a positive integer", name)
	}
	return value, nil
}
