package consent

import (
	"context"
	"time"
)

// Store persists consent requests. Implementations return
// pkg/platform/sentinel errors; the service translates them.
type Store interface {
	Create(ctx context.Context, request *PendingRequest) error
	Get(ctx context.Context, id string) (*PendingRequest, error)
	// Approve flips a pending request to approved. Returns
	// sentinel.ErrNotFound for unknown ids and sentinel.ErrInvalidState when
	// the request was already approved.
	Approve(ctx context.Context, id string, at time.Time) error
}
