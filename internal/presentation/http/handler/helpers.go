package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sangkips/idempotency-api/pkg/apperror"
)

// GetRequestID extracts the request ID set by the logger middleware
func GetRequestID(c *gin.Context) string {
	return c.GetString("request_id")
}

// ParseIDParam reads a positive integer path parameter
func ParseIDParam(c *gin.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, apperror.NewBadRequestError("Invalid " + name)
	}
	return id, nil
}

// bindError turns a request decoding failure into a 400
func bindError(err error) *apperror.AppError {
	return apperror.NewBadRequestError("Invalid request document: " + err.Error()).Wrap(err)
}
