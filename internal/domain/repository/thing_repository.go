package repository

import (
	"context"

	"github.com/sangkips/idempotency-api/internal/domain/entity"
	"github.com/sangkips/idempotency-api/pkg/pagination"
)

// ThingRepository defines the interface for thing data operations
type ThingRepository interface {
	Create(ctx context.Context, thing *entity.Thing) error
	// GetByID returns nil, nil when the thing does not exist
	GetByID(ctx context.Context, id uint64) (*entity.Thing, error)
	Update(ctx context.Context, thing *entity.Thing) error
	List(ctx context.Context, params *pagination.PaginationParams) ([]entity.Thing, int64, error)
	// AddTags relates the named tags to the thing, creating missing tags
	AddTags(ctx context.Context, thingID uint64, names []string) error
}
