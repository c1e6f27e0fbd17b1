package service

import (
	"context"
	"errors"
	"strings"

	"github.com/sangkips/idempotency-api/internal/domain/entity"
	"github.com/sangkips/idempotency-api/internal/domain/repository"
	"github.com/sangkips/idempotency-api/pkg/apperror"
	"github.com/sangkips/idempotency-api/pkg/pagination"
)

const maxTitleLength = 255

// ThingService handles thing-related operations
type ThingService struct {
	thingRepo repository.ThingRepository
}

// NewThingService creates a new thing service
func NewThingService(thingRepo repository.ThingRepository) *ThingService {
	return &ThingService{thingRepo: thingRepo}
}

// CreateThingInput represents the create thing input
type CreateThingInput struct {
	Title       string
	Description *string
}

// CreateThing validates and stores a new thing
func (s *ThingService) CreateThing(ctx context.Context, input *CreateThingInput) (*entity.Thing, error) {
	title := strings.TrimSpace(input.Title)
	if err := validateTitle(title); err != nil {
		return nil, err
	}

	thing := &entity.Thing{
		Title:       title,
		Description: input.Description,
	}
	if err := s.thingRepo.Create(ctx, thing); err != nil {
		return nil, err
	}
	return thing, nil
}

// GetThing retrieves a thing by ID
func (s *ThingService) GetThing(ctx context.Context, id uint64) (*entity.Thing, error) {
	thing, err := s.thingRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if thing == nil {
		return nil, apperror.NewNotFoundError("Thing")
	}
	return thing, nil
}

// ListThings returns one page of things
func (s *ThingService) ListThings(ctx context.Context, params *pagination.PaginationParams) (*pagination.PaginatedResult[entity.Thing], error) {
	params.Validate()
	things, total, err := s.thingRepo.List(ctx, params)
	if err != nil {
		return nil, err
	}

	pag := pagination.NewPagination(params.Page, params.PerPage, total)
	return pagination.NewPaginatedResult(things, pag), nil
}

// UpdateThingInput represents the update thing input. Nil fields are left unchanged.
type UpdateThingInput struct {
	ID          uint64
	Title       *string
	Description *string
}

// UpdateThing applies a partial update
func (s *ThingService) UpdateThing(ctx context.Context, input *UpdateThingInput) (*entity.Thing, error) {
	thing, err := s.GetThing(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if err := validateTitle(title); err != nil {
			return nil, err
		}
		thing.Title = title
	}
	if input.Description != nil {
		thing.Description = input.Description
	}

	if err := s.thingRepo.Update(ctx, thing); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NewNotFoundError("Thing")
		}
		return nil, err
	}
	return thing, nil
}

// AddTags relates tags to a thing and returns the updated thing
func (s *ThingService) AddTags(ctx context.Context, id uint64, names []string) (*entity.Thing, error) {
	cleaned := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			return nil, apperror.NewUnprocessableError("Validation failed",
				apperror.FieldError{Field: "name", Message: "Tag name must not be blank"})
		}
		if !seen[n] {
			seen[n] = true
			cleaned = append(cleaned, n)
		}
	}

	if err := s.thingRepo.AddTags(ctx, id, cleaned); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NewNotFoundError("Thing")
		}
		return nil, err
	}
	return s.GetThing(ctx, id)
}

func validateTitle(title string) error {
	switch {
	case title == "":
		return apperror.NewUnprocessableError("Validation failed",
			apperror.FieldError{Field: "title", Message: "Title must not be blank"})
	case len(title) > maxTitleLength:
		return apperror.NewUnprocessableError("Validation failed",
			apperror.FieldError{Field: "title", Message: "Title must be at most 255 characters"})
	}
	return nil
}
