package response

import (
	"strconv"
	"time"

	"github.com/sangkips/idempotency-api/internal/domain/entity"
)

// Resource is a JSON:API resource object
type Resource struct {
	Type          string                  `json:"type"`
	ID            string                  `json:"id"`
	Attributes    interface{}             `json:"attributes,omitempty"`
	Relationships map[string]Relationship `json:"relationships,omitempty"`
	Links         map[string]string       `json:"links,omitempty"`
}

// ResourceIdentifier identifies a related resource
type ResourceIdentifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Relationship is a to-many relationship
type Relationship struct {
	Data []ResourceIdentifier `json:"data"`
}

// ThingAttributes is the attribute set rendered for a thing
type ThingAttributes struct {
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ThingPath is the canonical path of a thing
func ThingPath(basePath string, id uint64) string {
	return basePath + "/things/" + strconv.FormatUint(id, 10)
}

// NewThingResource converts a thing entity to its resource object
func NewThingResource(basePath string, t *entity.Thing) Resource {
	tags := make([]ResourceIdentifier, 0, len(t.Tags))
	for _, tag := range t.Tags {
		tags = append(tags, ResourceIdentifier{Type: "tags", ID: tag.Name})
	}
	return Resource{
		Type: "things",
		ID:   strconv.FormatUint(t.ID, 10),
		Attributes: ThingAttributes{
			Title:       t.Title,
			Description: t.Description,
			CreatedAt:   t.CreatedAt,
			UpdatedAt:   t.UpdatedAt,
		},
		Relationships: map[string]Relationship{"tags": {Data: tags}},
		Links:         map[string]string{"self": ThingPath(basePath, t.ID)},
	}
}
