package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/farmflow/notify/internal/domain/webhook"
)

var _ webhook.Repo = (*WebhookRepo)(nil)

type WebhookRepo struct{ db *DB }

func NewWebhookRepo(db *DB) *WebhookRepo { return &WebhookRepo{db: db} }

const (
	qWebhookCols = `id, name, url, secret, events, active, headers,
timeout_seconds, max_attempts, retry_delay_seconds, created_at, updated_at`

	qWebhookInsert = `
INSERT INTO webhook_registrations
  (id, name, url, secret, events, active, headers, timeout_seconds, max_attempts, retry_delay_seconds)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING created_at, updated_at;`

	qWebhookByID = `
SELECT ` + qWebhookCols + `
FROM webhook_registrations
WHERE id = $1;`

	qWebhookList = `
SELECT ` + qWebhookCols + `
FROM webhook_registrations
ORDER BY created_at;`

	qWebhookActiveByEvent = `
SELECT ` + qWebhookCols + `
FROM webhook_registrations
WHERE active AND $1 = ANY(events)
ORDER BY created_at;`

	qWebhookUpdate = `
UPDATE webhook_registrations
SET name = $2, url = $3, secret = $4, events = $5, active = $6, headers = $7,
    timeout_seconds = $8, max_attempts = $9, retry_delay_seconds = $10, updated_at = now()
WHERE id = $1;`

	qWebhookDeactivate = `
UPDATE webhook_registrations SET active = false, updated_at = now() WHERE id = $1;`

	qWebhookDelete = `
DELETE FROM webhook_registrations WHERE id = $1;`
)

func (r *WebhookRepo) Create(ctx context.Context, w *webhook.Registration) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	eq := r.db.execQueryer(ctx)
	if err := eq.QueryRow(ctx, qWebhookInsert,
		w.ID, w.Name, w.URL, w.Secret, w.Events, w.Active, w.Headers,
		w.TimeoutSeconds, w.MaxAttempts, w.RetryDelaySeconds,
	).Scan(&w.CreatedAt, &w.UpdatedAt); err != nil {
		return fmt.Errorf("insert webhook registration: %w", mapPgError(err))
	}
	return nil
}

func (r *WebhookRepo) GetByID(ctx context.Context, id uuid.UUID) (*webhook.Registration, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	row := r.db.Pool.QueryRow(ctx, qWebhookByID, id)
	w, err := scanRegistration(row)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return w, nil
}

func (r *WebhookRepo) List(ctx context.Context) ([]*webhook.Registration, error) {
	return r.query(ctx, qWebhookList)
}

func (r *WebhookRepo) ListActiveByEvent(ctx context.Context, event string) ([]*webhook.Registration, error) {
	return r.query(ctx, qWebhookActiveByEvent, event)
}

func (r *WebhookRepo) query(ctx context.Context, sql string, args ...any) ([]*webhook.Registration, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query webhook registrations: %w", err)
	}
	defer rows.Close()

	var out []*webhook.Registration
	for rows.Next() {
		w, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook registration: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *WebhookRepo) Update(ctx context.Context, w *webhook.Registration) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qWebhookUpdate,
		w.ID, w.Name, w.URL, w.Secret, w.Events, w.Active, w.Headers,
		w.TimeoutSeconds, w.MaxAttempts, w.RetryDelaySeconds,
	)
	if err != nil {
		return fmt.Errorf("update webhook registration: %w", mapPgError(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *WebhookRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qWebhookDeactivate, id)
	if err != nil {
		return fmt.Errorf("deactivate webhook registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *WebhookRepo) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qWebhookDelete, id)
	if err != nil {
		return fmt.Errorf("delete webhook registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRegistration(row pgx.Row) (*webhook.Registration, error) {
	var w webhook.Registration
	if err := row.Scan(
		&w.ID, &w.Name, &w.URL, &w.Secret, &w.Events, &w.Active, &w.Headers,
		&w.TimeoutSeconds, &w.MaxAttempts, &w.RetryDelaySeconds, &w.CreatedAt, &w.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &w, nil
}
