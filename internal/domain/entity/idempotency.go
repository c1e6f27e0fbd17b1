package entity

import "time"

// IdempotencyKeyHeader is the request and response header carrying the idempotency key
const IdempotencyKeyHeader = "Idempotency-Key"

// CachedResponse is the response recorded for an idempotency key. It is
// written once, when the first request for the key completes, and replayed
// verbatim for every retry with the same fingerprint.
type CachedResponse struct {
	RequestFingerprint string `json:"request_fingerprint"`
	StatusCode         int    `json:"status_code"`
	LocationHeader     string `json:"location_header,omitempty"`
	ContentTypeHeader  string `json:"content_type_header,omitempty"`
	Body               string `json:"body,omitempty"`
}

// IdempotencyRecord stores processed requests so retries can be replayed
type IdempotencyRecord struct {
	Key                string     `gorm:"primaryKey;size:255"`        // The idempotency key from the client, unquoted
	RequestFingerprint string     `gorm:"size:64;not null"`           // Digest of request URL and body
	ResponseStatusCode int        `gorm:"not null;default:0"`         // HTTP status code of original response
	ResponseLocation   *string    `gorm:"size:2048"`                  // Location header of original response
	ResponseType       *string    `gorm:"size:255"`                   // Content-Type header of original response
	ResponseBody       *string    `gorm:"type:text"`                  // Response body (cached)
	CreatedAt          time.Time  `gorm:"not null"`
	CompletedAt        *time.Time `gorm:"index"`
	ExpiresAt          time.Time  `gorm:"not null;index"` // Records expire after the configured TTL
}

// TableName returns the table name for IdempotencyRecord
func (IdempotencyRecord) TableName() string {
	return "idempotency_records"
}

// IsExpired checks if the record has expired
func (r *IdempotencyRecord) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Response converts a completed record into its cached response
func (r *IdempotencyRecord) Response() *CachedResponse {
	return &CachedResponse{
		RequestFingerprint: r.RequestFingerprint,
		StatusCode:         r.ResponseStatusCode,
		LocationHeader:     deref(r.ResponseLocation),
		ContentTypeHeader:  deref(r.ResponseType),
		Body:               deref(r.ResponseBody),
	}
}

// SetResponse copies resp into the record's response columns
func (r *IdempotencyRecord) SetResponse(resp *CachedResponse) {
	r.ResponseStatusCode = resp.StatusCode
	r.ResponseLocation = optional(resp.LocationHeader)
	r.ResponseType = optional(resp.ContentTypeHeader)
	r.ResponseBody = optional(resp.Body)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
