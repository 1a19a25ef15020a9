package patient

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Patient, int, error)
	Update(ctx context.Context, id uuid.UUID, changes Changes) (*Patient, error)
	Archive(ctx context.Context, id uuid.UUID) error
}
