package event

import "context"

// RecipientSource resolves the configured email recipients for a
// notification type.
type RecipientSource interface {
	ListByEvent(ctx context.Context, event string) ([]string, error)
}
