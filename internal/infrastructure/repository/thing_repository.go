package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sangkips/idempotency-api/internal/domain/entity"
	domainRepo "github.com/sangkips/idempotency-api/internal/domain/repository"
	"github.com/sangkips/idempotency-api/pkg/pagination"
)

type thingRepository struct {
	db *gorm.DB
}

// NewThingRepository creates a new thing repository
func NewThingRepository(db *gorm.DB) domainRepo.ThingRepository {
	return &thingRepository{db: db}
}

func (r *thingRepository) Create(ctx context.Context, thing *entity.Thing) error {
	return r.db.WithContext(ctx).Create(thing).Error
}

func (r *thingRepository) GetByID(ctx context.Context, id uint64) (*entity.Thing, error) {
	var thing entity.Thing
	err := r.db.WithContext(ctx).Preload("Tags").First(&thing, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &thing, err
}

func (r *thingRepository) Update(ctx context.Context, thing *entity.Thing) error {
	return r.db.WithContext(ctx).Omit("Tags").Save(thing).Error
}

func (r *thingRepository) List(ctx context.Context, params *pagination.PaginationParams) ([]entity.Thing, int64, error) {
	var things []entity.Thing
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Thing{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	params.Validate()
	err := query.Preload("Tags").
		Offset(params.Offset()).Limit(params.PerPage).
		Order("id ASC").
		Find(&things).Error

	return things, total, err
}

func (r *thingRepository) AddTags(ctx context.Context, thingID uint64, names []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		thing := entity.Thing{ID: thingID}
		tags := make([]entity.Tag, 0, len(names))
		for _, name := range names {
			tag := entity.Tag{Name: name}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoUpdates: clause.AssignmentColumns([]string{"name"}),
			}).Create(&tag).Error; err != nil {
				return err
			}
			tags = append(tags, tag)
		}
		return tx.Model(&thing).Association("Tags").Append(tags)
	})
}
