package postgres

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/farmflow/notify/internal/domain/template"
)

var _ domain.Repo = (*TemplateRepo)(nil)

type TemplateRepo struct{ db *DB }

func NewTemplateRepo(db *DB) *TemplateRepo { return &TemplateRepo{db: db} }

const (
	qTemplateByKey = `
SELECT key, subject, html_body, text_body, active
FROM email_templates
WHERE key = $1;`

	qTemplateList = `
SELECT key, subject, html_body, text_body, active
FROM email_templates
ORDER BY key;`
)

func (r *TemplateRepo) GetByKey(ctx context.Context, key string) (*domain.Template, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var t domain.Template
	err := r.db.Pool.QueryRow(ctx, qTemplateByKey, key).Scan(
		&t.Key, &t.Subject, &t.HTMLBody, &t.TextBody, &t.Active,
	)
	if err != nil {
		if errors.Is(mapNoRows(err), ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query template: %w", err)
	}
	return &t, nil
}

func (r *TemplateRepo) List(ctx context.Context) ([]*domain.Template, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qTemplateList)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var out []*domain.Template
	for rows.Next() {
		var t domain.Template
		if err := rows.Scan(&t.Key, &t.Subject, &t.HTMLBody, &t.TextBody, &t.Active); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
