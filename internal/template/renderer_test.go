package template

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/farmflow/notify/internal/domain/template"
)

type fakeRepo struct {
	templates map[string]*domain.Template
	loads     int
}

func (f *fakeRepo) GetByKey(_ context.Context, key string) (*domain.Template, error) {
	f.loads++
	return f.templates[key], nil
}

func (f *fakeRepo) List(_ context.Context) ([]*domain.Template, error) { return nil, nil }

func TestRenderSubstitutesVars(t *testing.T) {
	repo := &fakeRepo{templates: map[string]*domain.Template{
		"low_stock_alert": {
			Key:      "low_stock_alert",
			Subject:  "Low stock: {{.item}}",
			HTMLBody: "<p>Only {{.quantity}} units of {{.item}} left.</p>",
			TextBody: "Only {{.quantity}} units of {{.item}} left.",
			Active:   true,
		},
	}}
	s := NewStore(repo)

	out, err := s.Render(context.Background(), "low_stock_alert", map[string]any{
		"item": "feed pellets", "quantity": 12,
	})
	require.NoError(t, err)
	assert.Equal(t, "Low stock: feed pellets", out.Subject)
	assert.Contains(t, out.HTMLBody, "Only 12 units of feed pellets left.")
	assert.Contains(t, out.TextBody, "Only 12 units")
}

func TestRenderUnknownKey(t *testing.T) {
	s := NewStore(&fakeRepo{templates: map[string]*domain.Template{}})
	_, err := s.Render(context.Background(), "nope", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestRenderInactiveTemplate(t *testing.T) {
	repo := &fakeRepo{templates: map[string]*domain.Template{
		"old": {Key: "old", Subject: "x", Active: false},
	}}
	s := NewStore(repo)
	_, err := s.Render(context.Background(), "old", nil)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestRenderCachesParsedTemplates(t *testing.T) {
	repo := &fakeRepo{templates: map[string]*domain.Template{
		"ticket_created": {Key: "ticket_created", Subject: "Ticket {{.id}}", Active: true},
	}}
	s := NewStore(repo)

	for i := 0; i < 3; i++ {
		_, err := s.Render(context.Background(), "ticket_created", map[string]any{"id": i})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, repo.loads)

	s.Invalidate("ticket_created")
	_, err := s.Render(context.Background(), "ticket_created", map[string]any{"id": 9})
	require.NoError(t, err)
	assert.Equal(t, 2, repo.loads)
}

func TestRenderHTMLEscapes(t *testing.T) {
	repo := &fakeRepo{templates: map[string]*domain.Template{
		"ticket_created": {Key: "ticket_created", Subject: "t", HTMLBody: "<b>{{.title}}</b>", Active: true},
	}}
	s := NewStore(repo)
	out, err := s.Render(context.Background(), "ticket_created", map[string]any{"title": "<script>"})
	require.NoError(t, err)
	assert.NotContains(t, out.HTMLBody, "<script>")
}
