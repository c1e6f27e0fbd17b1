package response

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sangkips/idempotency-api/pkg/apperror"
	"github.com/sangkips/idempotency-api/pkg/pagination"
)

// ContentType is the JSON:API media type used for every document this service writes
const ContentType = "application/vnd.api+json"

// Document is a JSON:API top-level data document
type Document struct {
	Data  interface{}       `json:"data"`
	Links map[string]string `json:"links,omitempty"`
	Meta  *Meta             `json:"meta,omitempty"`
}

// Meta contains metadata about the response
type Meta struct {
	Timestamp  string                 `json:"timestamp"`
	RequestID  string                 `json:"request_id"`
	Pagination *pagination.Pagination `json:"pagination,omitempty"`
}

// ErrorSource names the part of the request an error refers to
type ErrorSource struct {
	Header  string `json:"header,omitempty"`
	Pointer string `json:"pointer,omitempty"`
}

// ErrorObject is a single JSON:API error
type ErrorObject struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Title  string       `json:"title"`
	Detail string       `json:"detail,omitempty"`
	Source *ErrorSource `json:"source,omitempty"`
}

// ErrorDocument is a JSON:API top-level error document
type ErrorDocument struct {
	Errors []ErrorObject `json:"errors"`
}

// newMeta creates metadata for the response
func newMeta(c *gin.Context) *Meta {
	requestID := c.GetString("request_id")
	if requestID == "" {
		requestID = c.GetHeader("X-Request-ID")
	}
	if requestID == "" {
		requestID = uuid.New().String()
	}
	return &Meta{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: requestID,
	}
}

// write marshals v and sends it with the JSON:API content type
func write(c *gin.Context, statusCode int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		_ = c.Error(err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(statusCode, ContentType, body)
}

// Success sends a data document
func Success(c *gin.Context, statusCode int, data interface{}) {
	write(c, statusCode, Document{Data: data, Meta: newMeta(c)})
}

// SuccessWithPagination sends a collection document with pagination links relative to base
func SuccessWithPagination[T any](c *gin.Context, base string, result *pagination.PaginatedResult[T], toResource func(*T) Resource) {
	data := make([]Resource, 0, len(result.Items))
	for i := range result.Items {
		data = append(data, toResource(&result.Items[i]))
	}
	meta := newMeta(c)
	meta.Pagination = result.Pagination
	write(c, http.StatusOK, Document{
		Data:  data,
		Links: result.Pagination.Links(base),
		Meta:  meta,
	})
}

// Created sends a 201 Created response with a Location header
func Created(c *gin.Context, location string, data interface{}) {
	if location != "" {
		c.Header("Location", location)
	}
	Success(c, http.StatusCreated, data)
}

// OK sends a 200 OK response
func OK(c *gin.Context, data interface{}) {
	Success(c, http.StatusOK, data)
}

// NoContent sends a 204 No Content response
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error document built from err. Field errors become one
// error object each, pointing at the offending attribute.
func Error(c *gin.Context, err error) {
	appErr := apperror.GetAppError(err)
	if appErr.Code >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	write(c, appErr.Code, NewErrorDocument(appErr))
}

// NewErrorDocument converts an AppError into an error document
func NewErrorDocument(appErr *apperror.AppError) ErrorDocument {
	status := strconv.Itoa(appErr.Code)
	title := appErr.Title
	if title == "" {
		title = http.StatusText(appErr.Code)
	}

	if len(appErr.Errors) > 0 {
		objs := make([]ErrorObject, 0, len(appErr.Errors))
		for _, fe := range appErr.Errors {
			objs = append(objs, ErrorObject{
				ID:     uuid.New().String(),
				Status: status,
				Title:  title,
				Detail: fe.Message,
				Source: &ErrorSource{Pointer: "/data/attributes/" + fe.Field},
			})
		}
		return ErrorDocument{Errors: objs}
	}

	obj := ErrorObject{
		ID:     uuid.New().String(),
		Status: status,
		Title:  title,
		Detail: appErr.Message,
	}
	if appErr.Header != "" {
		obj.Source = &ErrorSource{Header: appErr.Header}
	}
	return ErrorDocument{Errors: []ErrorObject{obj}}
}

// AbortWithError sends a single-error document and stops the handler chain
func AbortWithError(c *gin.Context, appErr *apperror.AppError) {
	write(c, appErr.Code, NewErrorDocument(appErr))
	c.Abort()
}

// NotFound sends a 404 Not Found response
func NotFound(c *gin.Context, message string) {
	write(c, http.StatusNotFound, NewErrorDocument(apperror.NewAppError(http.StatusNotFound, message)))
}

// BadRequest sends a 400 Bad Request response
func BadRequest(c *gin.Context, message string) {
	write(c, http.StatusBadRequest, NewErrorDocument(apperror.NewBadRequestError(message)))
}
