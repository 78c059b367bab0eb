package httptransport

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"vface/internal/consent"
	domainerrors "vface/pkg/domain-errors"
)

//go:generate mockgen -source=handlers_consent.go -destination=mocks/consent-mocks.go -package=mocks ConsentService

func TestConsentHandler_Request_HappyPath(t *testing.T) {
	ctrl := gomock.NewController(t)
	router, _, consentMock, _ := testRouter(t, ctrl, "")

	consentMock.EXPECT().
		Request(gomock.Any(), consent.RequestInput{
			Fingerprint: testFingerprint,
			CompanyID:   "acme-corp",
			Scope:       []string{"name"},
			Duration:    3600 * time.Second,
		}).
		Return(&consent.PendingRequest{
			ID:          "req-1",
			Fingerprint: testFingerprint,
			CompanyID:   "acme-corp",
			Scope:       []string{"name"},
			Status:      consent.StatusPending,
		}, nil).
		Times(1)

	w := doJSON(t, router, "POST", "/consent/request", map[string]any{
		"fingerprint":     testFingerprint,
		"companyId":       "acme-corp",
		"scope":           []string{"name"},
		"durationSeconds": 3600,
	}, nil)

	assert.Equal(t, http.StatusCreated, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "req-1", body["requestId"])
	assert.Equal(t, "pending", body["status"])
}

func TestConsentHandler_Request_UnknownIdentity(t *testing.T) {
	ctrl := gomock.NewController(t)
	router, _, consentMock, _ := testRouter(t, ctrl, "")

	consentMock.EXPECT().
		Request(gomock.Any(), gomock.Any()).
		Return(nil, domainerrors.New(domainerrors.CodeNotFound, "fingerprint is not registered")).
		Times(1)

	w := doJSON(t, router, "POST", "/consent/request", map[string]any{
		"fingerprint": testFingerprint,
		"companyId":   "acme-corp",
		"scope":       []string{"name"},
	}, nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decodeBody(t, w)["error"])
}

func TestConsentHandler_Approve(t *testing.T) {
	t.Run("returns the minted token", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		router, _, consentMock, _ := testRouter(t, ctrl, "")

		approvedAt := time.Now().UTC()
		consentMock.EXPECT().
			Approve(gomock.Any(), "req-1", testFingerprint).
			Return("signed.jwt.token", &consent.PendingRequest{
				ID:         "req-1",
				Status:     consent.StatusApproved,
				ApprovedAt: &approvedAt,
			}, nil).
			Times(1)

		w := doJSON(t, router, "POST", "/consent/approve", map[string]any{
			"requestId":   "req-1",
			"fingerprint": testFingerprint,
		}, nil)

		assert.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "signed.jwt.token", body["token"])
		request := body["request"].(map[string]any)
		assert.Equal(t, "approved", request["status"])
	})

	t.Run("double approval conflicts", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		router, _, consentMock, _ := testRouter(t, ctrl, "")

		consentMock.EXPECT().
			Approve(gomock.Any(), "req-1", testFingerprint).
			Return("", nil, domainerrors.New(domainerrors.CodeConflict, "consent request already approved")).
			Times(1)

		w := doJSON(t, router, "POST", "/consent/approve", map[string]any{
			"requestId":   "req-1",
			"fingerprint": testFingerprint,
		}, nil)

		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestConsentHandler_Verify(t *testing.T) {
	cases := []struct {
		name    string
		verdict *consent.VerifyResult
	}{
		{"valid", &consent.VerifyResult{Valid: true, Fingerprint: testFingerprint, Scope: []string{"name"}}},
		{"revoked identity", &consent.VerifyResult{Valid: false, Reason: consent.ReasonIdentityRevoked}},
		{"registry outage", &consent.VerifyResult{Valid: false, Reason: consent.ReasonRegistryUnavailable}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			router, _, consentMock, _ := testRouter(t, ctrl, "")

			consentMock.EXPECT().
				Verify(gomock.Any(), "some.jwt.token").
				Return(tc.verdict, nil).
				Times(1)

			w := doJSON(t, router, "POST", "/consent/verify", map[string]any{
				"token": "some.jwt.token",
			}, nil)

			// The verdict is the payload; invalid tokens are still a 200.
			require.Equal(t, http.StatusOK, w.Code)
			body := decodeBody(t, w)
			assert.Equal(t, tc.verdict.Valid, body["valid"])
			if !tc.verdict.Valid {
				assert.Equal(t, tc.verdict.Reason, body["reason"])
			}
		})
	}
}
