package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/farmflow/notify/internal/domain/delivery"
	"github.com/farmflow/notify/internal/domain/webhook"
)

var _ delivery.WebhookQueue = (*WebhookDeliveryRepo)(nil)

// defaultClaimTTL bounds how long a 'sending' claim stays honored. It
// must sit comfortably above the longest per-registration timeout so a
// slow-but-alive worker is never raced by a reclaimer.
const defaultClaimTTL = 5 * time.Minute

type WebhookDeliveryRepo struct {
	db       *DB
	claimTTL time.Duration
}

func NewWebhookDeliveryRepo(db *DB) *WebhookDeliveryRepo {
	return &WebhookDeliveryRepo{db: db, claimTTL: defaultClaimTTL}
}

func (r *WebhookDeliveryRepo) WithClaimTTL(ttl time.Duration) *WebhookDeliveryRepo {
	if ttl > 0 {
		r.claimTTL = ttl
	}
	return r
}

const (
	qWebhookDeliveryInsert = `
INSERT INTO webhook_deliveries
  (id, registration_id, event, payload, status, attempts, max_attempts, next_attempt_at)
VALUES ($1, $2, $3, $4, 'pending', 0, $5, now())
RETURNING created_at;`

	// Claim is the load-bearing step: SKIP LOCKED guarantees a row goes to
	// exactly one worker instance per pass, even with horizontally scaled
	// workers. The claim also performs the attempt increment so the
	// post-increment count travels with the row.
	//
	// A 'sending' row whose claim is older than the TTL belongs to a
	// worker that died mid-flight: it is claimed again if attempts remain,
	// or swept to failed if the interrupted attempt was its last.
	qWebhookDeliveryClaim = `
WITH swept AS (
   UPDATE webhook_deliveries
   SET status = 'failed', last_error = 'claim expired', updated_at = now()
   WHERE status = 'sending'
     AND updated_at < now() - make_interval(secs => $2)
     AND attempts >= max_attempts
), cand AS (
   SELECT d.id
   FROM webhook_deliveries d
   JOIN webhook_registrations r ON r.id = d.registration_id
   WHERE ((d.status IN ('pending', 'retrying') AND d.next_attempt_at <= now())
          OR (d.status = 'sending' AND d.updated_at < now() - make_interval(secs => $2)))
     AND d.attempts < d.max_attempts
     AND r.active
   ORDER BY d.created_at
   LIMIT $1
   FOR UPDATE OF d SKIP LOCKED
), upd AS (
   UPDATE webhook_deliveries d
   SET status = 'sending', attempts = d.attempts + 1, updated_at = now()
   FROM cand
   WHERE d.id = cand.id
   RETURNING d.id, d.registration_id, d.event, d.payload, d.status, d.attempts,
             d.max_attempts, d.next_attempt_at, d.response_status, d.response_body,
             d.last_error, d.created_at, d.delivered_at
)
SELECT u.id, u.registration_id, u.event, u.payload, u.status, u.attempts,
       u.max_attempts, u.next_attempt_at, u.response_status, u.response_body,
       u.last_error, u.created_at, u.delivered_at,
       r.id, r.name, r.url, r.secret, r.events, r.active, r.headers,
       r.timeout_seconds, r.max_attempts, r.retry_delay_seconds, r.created_at, r.updated_at
FROM upd u
JOIN webhook_registrations r ON r.id = u.registration_id
ORDER BY u.created_at;`

	qWebhookDeliverySuccess = `
UPDATE webhook_deliveries
SET status = 'success', response_status = $2, response_body = $3, delivered_at = now(), updated_at = now()
WHERE id = $1 AND status = 'sending';`

	qWebhookDeliveryFailure = `
UPDATE webhook_deliveries
SET status = $2, response_status = $3, response_body = NULL, last_error = $4, next_attempt_at = $5, updated_at = now()
WHERE id = $1 AND status = 'sending';`

	qWebhookDeliveryCancel = `
UPDATE webhook_deliveries
SET status = 'cancelled'
WHERE id = $1 AND status = 'pending';`
)

func (r *WebhookDeliveryRepo) Enqueue(ctx context.Context, d *delivery.WebhookDelivery) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.Status = delivery.StatusPending

	eq := r.db.execQueryer(ctx)
	if err := eq.QueryRow(ctx, qWebhookDeliveryInsert,
		d.ID, d.RegistrationID, d.Event, d.Payload, d.MaxAttempts,
	).Scan(&d.CreatedAt); err != nil {
		return fmt.Errorf("enqueue webhook delivery: %w", mapPgError(err))
	}
	return nil
}

func (r *WebhookDeliveryRepo) ClaimBatch(ctx context.Context, limit int) ([]*delivery.WebhookDelivery, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qWebhookDeliveryClaim, limit, r.claimTTL.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claim webhook deliveries: %w", err)
	}
	defer rows.Close()

	var out []*delivery.WebhookDelivery
	for rows.Next() {
		var d delivery.WebhookDelivery
		var reg webhook.Registration
		if err := rows.Scan(
			&d.ID, &d.RegistrationID, &d.Event, &d.Payload, &d.Status, &d.Attempts,
			&d.MaxAttempts, &d.NextAttemptAt, &d.ResponseStatus, &d.ResponseBody,
			&d.LastError, &d.CreatedAt, &d.DeliveredAt,
			&reg.ID, &reg.Name, &reg.URL, &reg.Secret, &reg.Events, &reg.Active, &reg.Headers,
			&reg.TimeoutSeconds, &reg.MaxAttempts, &reg.RetryDelaySeconds, &reg.CreatedAt, &reg.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan claimed webhook delivery: %w", err)
		}
		d.Registration = &reg
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (r *WebhookDeliveryRepo) MarkSuccess(ctx context.Context, id uuid.UUID, httpStatus int, body string) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.Pool.Exec(ctx, qWebhookDeliverySuccess, id, httpStatus, body); err != nil {
		return fmt.Errorf("mark webhook delivery success: %w", err)
	}
	return nil
}

func (r *WebhookDeliveryRepo) MarkFailure(ctx context.Context, id uuid.UUID, httpStatus *int, lastError string, terminal bool, nextAttemptAt time.Time) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	status := delivery.StatusPending
	if terminal {
		status = delivery.StatusFailed
	}
	if _, err := r.db.Pool.Exec(ctx, qWebhookDeliveryFailure, id, status, httpStatus, lastError, nextAttemptAt); err != nil {
		return fmt.Errorf("mark webhook delivery failure: %w", err)
	}
	return nil
}

func (r *WebhookDeliveryRepo) Cancel(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.Pool.Exec(ctx, qWebhookDeliveryCancel, id)
	if err != nil {
		return fmt.Errorf("cancel webhook delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return delivery.ErrNotCancellable
	}
	return nil
}
