package sendlog

import (
	"context"

	"github.com/google/uuid"
)

type Repo interface {
	Append(ctx context.Context, e *Entry) error
	ListByDelivery(ctx context.Context, deliveryID uuid.UUID) ([]*Entry, error)
}
