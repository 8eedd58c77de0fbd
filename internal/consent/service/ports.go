package service

import (
	"context"
	"time"

	"consent-manager/internal/consent/models"
)

// Store persists consent requests and artefacts. Status changes go through the
// compare-and-set methods, which return sentinel.ErrConflict when the row is
// no longer in the expected state.
type Store interface {
	CreateRequest(ctx context.Context, req *models.ConsentRequest) error
	FindRequest(ctx context.Context, id string) (*models.ConsentRequest, error)
	UpdateRequestStatus(ctx context.Context, id string, from, to models.Status, at time.Time) error

	CreateArtefacts(ctx context.Context, artefacts []*models.ConsentArtefact) error
	FindArtefact(ctx context.Context, id string) (*models.ConsentArtefact, error)
	ListArtefactsByRequest(ctx context.Context, requestID string) ([]*models.ConsentArtefact, error)
	UpdateArtefactStatus(ctx context.Context, id string, from, to models.Status, at time.Time) error

	// ListRequestsCreatedBefore pages requests in status created before cutoff,
	// ordered by (created_at, id) after the cursor.
	ListRequestsCreatedBefore(ctx context.Context, status models.Status, cutoff time.Time, after models.Cursor, limit int) ([]*models.ConsentRequest, error)
	// ListArtefactsExpiringBefore pages artefacts in status whose expiry is
	// before cutoff, ordered by (expires_at, id) after the cursor.
	ListArtefactsExpiringBefore(ctx context.Context, status models.Status, cutoff time.Time, after models.Cursor, limit int) ([]*models.ConsentArtefact, error)
}

// Signer produces the opaque artefact signature.
type Signer interface {
	Sign(ctx context.Context, artefact *models.ConsentArtefact) (string, error)
}

// Notifier fans lifecycle events out to the affected parties.
type Notifier interface {
	NotifyConsentRequest(ctx context.Context, req *models.ConsentRequest) error
	NotifyConsentStatus(ctx context.Context, change models.StatusChange) error
}

// AutoApprovalPolicy decides whether a new request may be granted without the
// patient's explicit approval.
type AutoApprovalPolicy interface {
	Allows(ctx context.Context, req *models.ConsentRequest) bool
}
