package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"vface/internal/consent"
	"vface/internal/platform/middleware"
	"vface/internal/transport/http/shared"
	domainerrors "vface/pkg/domain-errors"
)

// ConsentService defines the consent handshake operations.
type ConsentService interface {
	Request(ctx context.Context, in consent.RequestInput) (*consent.PendingRequest, error)
	Approve(ctx context.Context, requestID, fp string) (string, *consent.PendingRequest, error)
	Verify(ctx context.Context, token string) (*consent.VerifyResult, error)
}

// ConsentHandler handles the consent endpoints.
type ConsentHandler struct {
	consent ConsentService
	logger  *slog.Logger
}

// NewConsentHandler creates a new ConsentHandler.
func NewConsentHandler(service ConsentService, logger *slog.Logger) *ConsentHandler {
	return &ConsentHandler{consent: service, logger: logger}
}

type consentRequestBody struct {
	Fingerprint     string   `json:"fingerprint"`
	CompanyID       string   `json:"companyId"`
	Scope           []string `json:"scope"`
	DurationSeconds int64    `json:"durationSeconds,omitempty"`
}

func (h *ConsentHandler) handleRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req consentRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeValidation, "invalid request body"))
		return
	}

	request, err := h.consent.Request(ctx, consent.RequestInput{
		Fingerprint: req.Fingerprint,
		CompanyID:   req.CompanyID,
		Scope:       req.Scope,
		Duration:    time.Duration(req.DurationSeconds) * time.Second,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "consent request rejected",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, request)
}

type consentApproveBody struct {
	RequestID   string `json:"requestId"`
	Fingerprint string `json:"fingerprint"`
}

type consentApproveResponse struct {
	Token   string                  `json:"token"`
	Request *consent.PendingRequest `json:"request"`
}

func (h *ConsentHandler) handleApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req consentApproveBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeValidation, "invalid request body"))
		return
	}

	token, request, err := h.consent.Approve(ctx, req.RequestID, req.Fingerprint)
	if err != nil {
		h.logger.WarnContext(ctx, "consent approval rejected",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, consentApproveResponse{Token: token, Request: request})
}

type consentVerifyBody struct {
	Token string `json:"token"`
}

func (h *ConsentHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req consentVerifyBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, domainerrors.New(domainerrors.CodeValidation, "invalid request body"))
		return
	}

	verdict, err := h.consent.Verify(ctx, req.Token)
	if err != nil {
		h.logger.ErrorContext(ctx, "consent verification failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, verdict)
}
