package reviewqueue

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *ReviewAlert) error
	GetByID(ctx context.Context, id uuid.UUID) (*ReviewAlert, error)
	Update(ctx context.Context, a *ReviewAlert) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*ReviewAlert, int, error)
}
