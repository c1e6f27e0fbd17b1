package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sangkips/idempotency-api/internal/application/service"
	"github.com/sangkips/idempotency-api/internal/domain/entity"
	"github.com/sangkips/idempotency-api/internal/presentation/http/dto/request"
	"github.com/sangkips/idempotency-api/internal/presentation/http/dto/response"
	"github.com/sangkips/idempotency-api/pkg/apperror"
	"github.com/sangkips/idempotency-api/pkg/pagination"
)

// ThingHandler handles thing-related HTTP requests
type ThingHandler struct {
	thingService *service.ThingService
	basePath     string
}

// NewThingHandler creates a new thing handler. basePath prefixes resource links, e.g. "/api/v1".
func NewThingHandler(thingService *service.ThingService, basePath string) *ThingHandler {
	return &ThingHandler{thingService: thingService, basePath: basePath}
}

func (h *ThingHandler) resource(t *entity.Thing) response.Resource {
	return response.NewThingResource(h.basePath, t)
}

// List handles listing things
func (h *ThingHandler) List(c *gin.Context) {
	params := pagination.FromQuery(c.Request.URL.Query())

	result, err := h.thingService.ListThings(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithPagination(c, h.basePath+"/things", result, h.resource)
}

// Get handles fetching a single thing
func (h *ThingHandler) Get(c *gin.Context) {
	id, err := ParseIDParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}

	thing, err := h.thingService.GetThing(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, h.resource(thing))
}

// Create handles creating a thing
func (h *ThingHandler) Create(c *gin.Context) {
	var doc request.ThingDocument
	if err := c.ShouldBindJSON(&doc); err != nil {
		response.Error(c, bindError(err))
		return
	}
	if doc.Data.ID != "" {
		response.Error(c, apperror.NewAppError(http.StatusForbidden, "Client-generated ids are not supported"))
		return
	}

	input := &service.CreateThingInput{Description: doc.Data.Attributes.Description}
	if doc.Data.Attributes.Title != nil {
		input.Title = *doc.Data.Attributes.Title
	}

	thing, err := h.thingService.CreateThing(c.Request.Context(), input)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, response.ThingPath(h.basePath, thing.ID), h.resource(thing))
}

// Update handles partially updating a thing
func (h *ThingHandler) Update(c *gin.Context) {
	id, err := ParseIDParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}

	var doc request.ThingDocument
	if err := c.ShouldBindJSON(&doc); err != nil {
		response.Error(c, bindError(err))
		return
	}
	if doc.Data.ID != strconv.FormatUint(id, 10) {
		response.Error(c, apperror.NewConflictError("Resource id does not match the request URL"))
		return
	}

	thing, err := h.thingService.UpdateThing(c.Request.Context(), &service.UpdateThingInput{
		ID:          id,
		Title:       doc.Data.Attributes.Title,
		Description: doc.Data.Attributes.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, h.resource(thing))
}

// AddTags handles relating tags to a thing
func (h *ThingHandler) AddTags(c *gin.Context) {
	id, err := ParseIDParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}

	var req request.TagsRelationshipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}

	thing, err := h.thingService.AddTags(c.Request.Context(), id, req.TagNames())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, h.resource(thing))
}
