package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/farmflow/notify/internal/domain/sendlog"
)

var _ sendlog.Repo = (*SendLogRepo)(nil)

type SendLogRepo struct{ db *DB }

func NewSendLogRepo(db *DB) *SendLogRepo { return &SendLogRepo{db: db} }

const (
	qSendLogInsert = `
INSERT INTO email_send_log (delivery_id, to_addr, subject, ok, error, sent_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
RETURNING id, sent_at;`

	qSendLogByDelivery = `
SELECT id, delivery_id, to_addr, subject, ok, error, sent_at
FROM email_send_log
WHERE delivery_id = $1
ORDER BY sent_at;`
)

func (r *SendLogRepo) Append(ctx context.Context, e *sendlog.Entry) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if err := r.db.Pool.QueryRow(ctx, qSendLogInsert,
		e.DeliveryID, e.To, e.Subject, e.OK, e.Error, nullTime(e.SentAt),
	).Scan(&e.ID, &e.SentAt); err != nil {
		return fmt.Errorf("append send log: %w", err)
	}
	return nil
}

func (r *SendLogRepo) ListByDelivery(ctx context.Context, deliveryID uuid.UUID) ([]*sendlog.Entry, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qSendLogByDelivery, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("query send log: %w", err)
	}
	defer rows.Close()

	var out []*sendlog.Entry
	for rows.Next() {
		var e sendlog.Entry
		if err := rows.Scan(&e.ID, &e.DeliveryID, &e.To, &e.Subject, &e.OK, &e.Error, &e.SentAt); err != nil {
			return nil, fmt.Errorf("scan send log: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
