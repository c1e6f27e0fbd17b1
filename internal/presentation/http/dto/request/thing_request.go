package request

// ThingAttributes are the writable attributes of a thing. Nil fields are left unchanged on update.
type ThingAttributes struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

// ThingResource is the primary data of a thing write document
type ThingResource struct {
	Type       string          `json:"type" binding:"required,eq=things"`
	ID         string          `json:"id"`
	Attributes ThingAttributes `json:"attributes"`
}

// ThingDocument represents a create or update thing request
type ThingDocument struct {
	Data ThingResource `json:"data"`
}

// ResourceIdentifier points at a related resource
type ResourceIdentifier struct {
	Type string `json:"type" binding:"required,eq=tags"`
	ID   string `json:"id" binding:"required"`
}

// TagsRelationshipRequest adds tags to a thing; tag ids are tag names
type TagsRelationshipRequest struct {
	Data []ResourceIdentifier `json:"data" binding:"required,min=1,dive"`
}

// TagNames returns the ids of the referenced tags
func (r *TagsRelationshipRequest) TagNames() []string {
	names := make([]string, 0, len(r.Data))
	for _, d := range r.Data {
		names = append(names, d.ID)
	}
	return names
}
