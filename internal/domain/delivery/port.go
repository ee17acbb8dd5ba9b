package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// WebhookQueue is the durable webhook delivery queue. ClaimBatch must be
// atomic with respect to concurrent workers: a claimed row moves to
// "sending" with attempts incremented, and no two claimers may receive
// the same row in one pass.
type WebhookQueue interface {
	Enqueue(ctx context.Context, d *WebhookDelivery) error
	ClaimBatch(ctx context.Context, limit int) ([]*WebhookDelivery, error)
	MarkSuccess(ctx context.Context, id uuid.UUID, httpStatus int, body string) error
	// MarkFailure reverts the row to pending for a later pass, or marks it
	// failed when terminal. nextAttemptAt gates the next claim.
	MarkFailure(ctx context.Context, id uuid.UUID, httpStatus *int, lastError string, terminal bool, nextAttemptAt time.Time) error
	Cancel(ctx context.Context, id uuid.UUID) error
}

// EmailQueue mirrors WebhookQueue for the email channel. Claims are
// ordered by priority (descending) then age.
type EmailQueue interface {
	Enqueue(ctx context.Context, d *EmailDelivery) error
	ClaimBatch(ctx context.Context, limit int) ([]*EmailDelivery, error)
	MarkSuccess(ctx context.Context, id uuid.UUID) error
	MarkFailure(ctx context.Context, id uuid.UUID, lastError string, terminal bool) error
	Cancel(ctx context.Context, id uuid.UUID) error
}
