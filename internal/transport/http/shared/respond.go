// Package shared centralizes JSON response writing so every handler produces
// the same envelopes and the same domain-error translation.
package shared

import (
	"encoding/json"
	"errors"
	"net/http"

	domainerrors "vface/pkg/domain-errors"
)

var statusByCode = map[domainerrors.Code]int{
	domainerrors.CodeValidation:  http.StatusBadRequest,
	domainerrors.CodeConflict:    http.StatusConflict,
	domainerrors.CodeNotFound:    http.StatusNotFound,
	domainerrors.CodeNotOwner:    http.StatusForbidden,
	domainerrors.CodeReplay:      http.StatusConflict,
	domainerrors.CodeIntegrity:   http.StatusInternalServerError,
	domainerrors.CodeUnavailable: http.StatusServiceUnavailable,
	domainerrors.CodeInternal:    http.StatusInternalServerError,
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a domain error into the JSON error envelope. Metadata
// fields (match_fingerprint, similarity, broken_at) flatten into the envelope
// alongside error and message. Errors outside the taxonomy become opaque 500s.
func WriteError(w http.ResponseWriter, err error) {
	code := domainerrors.CodeInternal
	message := "internal server error"
	var meta map[string]any

	var derr *domainerrors.Error
	if errors.As(err, &derr) {
		code = derr.Code
		message = derr.Message
		meta = derr.Meta
	}

	envelope := make(map[string]any, len(meta)+2)
	for k, v := range meta {
		envelope[k] = v
	}
	envelope["error"] = code
	envelope["message"] = message

	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	WriteJSON(w, status, envelope)
}
