package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sangkips/idempotency-api/internal/domain/entity"
	domainRepo "github.com/sangkips/idempotency-api/internal/domain/repository"
	"github.com/sangkips/idempotency-api/pkg/apperror"
	"github.com/sangkips/idempotency-api/pkg/pagination"
)

// memoryThingRepository is an in-memory ThingRepository. It is safe for concurrent use.
type memoryThingRepository struct {
	mu     sync.RWMutex
	nextID uint64
	things map[uint64]entity.Thing
	tags   map[string]entity.Tag
}

// NewMemoryThingRepository creates an in-memory thing repository
func NewMemoryThingRepository() domainRepo.ThingRepository {
	return &memoryThingRepository{
		things: make(map[uint64]entity.Thing),
		tags:   make(map[string]entity.Tag),
	}
}

func (r *memoryThingRepository) Create(ctx context.Context, thing *entity.Thing) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	now := time.Now().UTC()
	thing.ID = r.nextID
	thing.CreatedAt = now
	thing.UpdatedAt = now
	r.things[thing.ID] = *thing
	return nil
}

func (r *memoryThingRepository) GetByID(ctx context.Context, id uint64) (*entity.Thing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	thing, ok := r.things[id]
	if !ok {
		return nil, nil
	}
	thing.Tags = append([]entity.Tag(nil), thing.Tags...)
	return &thing, nil
}

func (r *memoryThingRepository) Update(ctx context.Context, thing *entity.Thing) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.things[thing.ID]
	if !ok {
		return apperror.ErrNotFound
	}
	thing.UpdatedAt = time.Now().UTC()
	thing.Tags = existing.Tags
	r.things[thing.ID] = *thing
	return nil
}

func (r *memoryThingRepository) List(ctx context.Context, params *pagination.PaginationParams) ([]entity.Thing, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	params.Validate()
	all := make([]entity.Thing, 0, len(r.things))
	for _, t := range r.things {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	total := int64(len(all))
	start := params.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + params.PerPage
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (r *memoryThingRepository) AddTags(ctx context.Context, thingID uint64, names []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	thing, ok := r.things[thingID]
	if !ok {
		return apperror.ErrNotFound
	}
	for _, name := range names {
		tag, ok := r.tags[name]
		if !ok {
			tag = entity.Tag{ID: uint64(len(r.tags) + 1), Name: name}
			r.tags[name] = tag
		}
		if !hasTag(thing.Tags, tag.ID) {
			thing.Tags = append(thing.Tags, tag)
		}
	}
	r.things[thingID] = thing
	return nil
}

func hasTag(tags []entity.Tag, id uint64) bool {
	for _, t := range tags {
		if t.ID == id {
			return true
		}
	}
	return false
}
