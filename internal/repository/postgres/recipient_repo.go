package postgres

import (
	"context"
	"fmt"

	"github.com/farmflow/notify/internal/domain/event"
)

var _ event.RecipientSource = (*RecipientRepo)(nil)

// RecipientRepo reads the per-notification-type recipient lists the
// admin screens maintain.
type RecipientRepo struct{ db *DB }

func NewRecipientRepo(db *DB) *RecipientRepo { return &RecipientRepo{db: db} }

const qRecipientsByEvent = `
SELECT address
FROM notification_recipients
WHERE event = $1
ORDER BY address;`

func (r *RecipientRepo) ListByEvent(ctx context.Context, ev string) ([]string, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qRecipientsByEvent, ev)
	if err != nil {
		return nil, fmt.Errorf("query recipients: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}
