package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/farmflow/notify/internal/domain/delivery"
)

var _ delivery.EmailQueue = (*EmailDeliveryRepo)(nil)

type EmailDeliveryRepo struct {
	db       *DB
	claimTTL time.Duration
}

func NewEmailDeliveryRepo(db *DB) *EmailDeliveryRepo {
	return &EmailDeliveryRepo{db: db, claimTTL: defaultClaimTTL}
}

func (r *EmailDeliveryRepo) WithClaimTTL(ttl time.Duration) *EmailDeliveryRepo {
	if ttl > 0 {
		r.claimTTL = ttl
	}
	return r
}

const (
	qEmailDeliveryInsert = `
INSERT INTO email_deliveries
  (id, to_addr, cc, bcc, template_key, template_vars, subject, html_body, text_body,
   priority, status, attempts, max_attempts)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'pending', 0, $11)
RETURNING created_at;`

	// Highest priority first, oldest first inside a priority band. Same
	// SKIP LOCKED discipline and stale-claim reclaim as the webhook queue.
	qEmailDeliveryClaim = `
WITH swept AS (
   UPDATE email_deliveries
   SET status = 'failed', last_error = 'claim expired', updated_at = now()
   WHERE status = 'sending'
     AND updated_at < now() - make_interval(secs => $2)
     AND attempts >= max_attempts
), cand AS (
   SELECT id
   FROM email_deliveries
   WHERE (status IN ('pending', 'retrying')
          OR (status = 'sending' AND updated_at < now() - make_interval(secs => $2)))
     AND attempts < max_attempts
   ORDER BY priority DESC, created_at
   LIMIT $1
   FOR UPDATE SKIP LOCKED
), upd AS (
   UPDATE email_deliveries e
   SET status = 'sending', attempts = e.attempts + 1, updated_at = now()
   FROM cand
   WHERE e.id = cand.id
   RETURNING e.id, e.to_addr, e.cc, e.bcc, e.template_key, e.template_vars,
             e.subject, e.html_body, e.text_body, e.priority, e.status,
             e.attempts, e.max_attempts, e.last_error, e.created_at, e.delivered_at
)
SELECT id, to_addr, cc, bcc, template_key, template_vars, subject, html_body,
       text_body, priority, status, attempts, max_attempts, last_error,
       created_at, delivered_at
FROM upd
ORDER BY priority DESC, created_at;`

	qEmailDeliverySuccess = `
UPDATE email_deliveries
SET status = 'success', delivered_at = now(), updated_at = now()
WHERE id = $1 AND status = 'sending';`

	qEmailDeliveryFailure = `
UPDATE email_deliveries
SET status = $2, last_error = $3, updated_at = now()
WHERE id = $1 AND status = 'sending';`

	qEmailDeliveryCancel = `
UPDATE email_deliveries
SET status = 'cancelled'
WHERE id = $1 AND status = 'pending';`
)

func (r *EmailDeliveryRepo) Enqueue(ctx context.Context, d *delivery.EmailDelivery) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.Status = delivery.StatusPending

	var key *string
	if d.TemplateKey != "" {
		key = &d.TemplateKey
	}
	eq := r.db.execQueryer(ctx)
	if err := eq.QueryRow(ctx, qEmailDeliveryInsert,
		d.ID, d.To, d.CC, d.BCC, key, d.TemplateVars,
		d.Subject, d.HTMLBody, d.TextBody, d.Priority, d.MaxAttempts,
	).Scan(&d.CreatedAt); err != nil {
		return fmt.Errorf("enqueue email delivery: %w", err)
	}
	return nil
}

func (r *EmailDeliveryRepo) ClaimBatch(ctx context.Context, limit int) ([]*delivery.EmailDelivery, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qEmailDeliveryClaim, limit, r.claimTTL.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claim email deliveries: %w", err)
	}
	defer rows.Close()

	var out []*delivery.EmailDelivery
	for rows.Next() {
		var d delivery.EmailDelivery
		var key *string
		if err := rows.Scan(
			&d.ID, &d.To, &d.CC, &d.BCC, &key, &d.TemplateVars,
			&d.Subject, &d.HTMLBody, &d.TextBody, &d.Priority, &d.Status,
			&d.Attempts, &d.MaxAttempts, &d.LastError, &d.CreatedAt, &d.DeliveredAt,
		); err != nil {
			return nil, fmt.Errorf("scan claimed email delivery: %w", err)
		}
		if key != nil {
			d.TemplateKey = *key
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (r *EmailDeliveryRepo) MarkSuccess(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.Pool.Exec(ctx, qEmailDeliverySuccess, id); err != nil {
		return fmt.Errorf("mark email delivery success: %w", err)
	}
	return nil
}

func (r *EmailDeliveryRepo) MarkFailure(ctx context.Context, id uuid.UUID, lastError string, terminal bool) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	status := delivery.StatusPending
	if terminal {
		status = delivery.StatusFailed
	}
	if _, err := r.db.Pool.Exec(ctx, qEmailDeliveryFailure, id, status, lastError); err != nil {
		return fmt.Errorf("mark email delivery failure: %w", err)
	}
	return nil
}

func (r *EmailDeliveryRepo) Cancel(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.Pool.Exec(ctx, qEmailDeliveryCancel, id)
	if err != nil {
		return fmt.Errorf("cancel email delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return delivery.ErrNotCancellable
	}
	return nil
}
