package webhook

import (
	"context"

	"github.com/google/uuid"
)

type Repo interface {
	Create(ctx context.Context, r *Registration) error
	GetByID(ctx context.Context, id uuid.UUID) (*Registration, error)
	List(ctx context.Context) ([]*Registration, error)
	ListActiveByEvent(ctx context.Context, event string) ([]*Registration, error)
	Update(ctx context.Context, r *Registration) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	// Delete removes the registration and, by cascade, its delivery history.
	Delete(ctx context.Context, id uuid.UUID) error
}
