// Package consent issues and verifies scoped, time-boxed consent tokens. A
// token is only ever minted through the request/approve handshake, and every
// verification re-checks the registry so a revoked identity invalidates all
// of its outstanding tokens immediately.
package consent

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Request statuses. A request flips pending -> approved exactly once.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
)

// PendingRequest is a company's ask for access to one identity's data.
type PendingRequest struct {
	ID          string        `json:"requestId"`
	Fingerprint string        `json:"fingerprint"`
	CompanyID   string        `json:"companyId"`
	Scope       []string      `json:"scope"`
	Duration    time.Duration `json:"-"`
	Status      string        `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	ApprovedAt  *time.Time    `json:"approvedAt,omitempty"`
}

// Claims is the consent token payload. Subject carries the identity owner's
// key, Audience the company the consent was granted to.
type Claims struct {
	Fingerprint string   `json:"fingerprint"`
	Scope       []string `json:"scope"`
	jwt.RegisteredClaims
}

// Verification reasons surfaced to callers. Any infrastructure failure during
// verification resolves to a denial, never an implicit approval.
const (
	ReasonInvalidSignature    = "invalid_signature"
	ReasonTokenExpired        = "token_expired"
	ReasonIdentityNotFound    = "identity_not_found"
	ReasonIdentityRevoked     = "identity_revoked"
	ReasonRegistryUnavailable = "registry_unavailable"
)

// VerifyResult is the verification verdict. Reason is empty when Valid.
type VerifyResult struct {
	Valid       bool      `json:"valid"`
	Reason      string    `json:"reason,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	CompanyID   string    `json:"companyId,omitempty"`
	Scope       []string  `json:"scope,omitempty"`
	OwnerKey    string    `json:"ownerKey,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt,omitempty"`
}
