package middleware

import (
	"net/http"
	"strings"

	"github.com/sangkips/idempotency-api/internal/domain/entity"
)

// KeyState classifies the Idempotency-Key header of a request
type KeyState int

const (
	KeyAbsent KeyState = iota
	KeyMalformed
	KeyValid
)

func (s KeyState) String() string {
	switch s {
	case KeyAbsent:
		return "absent"
	case KeyMalformed:
		return "malformed"
	case KeyValid:
		return "valid"
	default:
		return "unknown"
	}
}

// KeyResult is the outcome of parsing an Idempotency-Key header. Key is set only when State is KeyValid.
type KeyResult struct {
	State KeyState
	Key   string
}

// ParseIdempotencyKey validates a raw header value. A valid value is a
// non-empty token wrapped in double quotes; the key is the text between them.
func ParseIdempotencyKey(raw string, present bool) KeyResult {
	if !present {
		return KeyResult{State: KeyAbsent}
	}
	if len(raw) < 2 || !strings.HasPrefix(raw, `"`) || !strings.HasSuffix(raw, `"`) {
		return KeyResult{State: KeyMalformed}
	}
	key := raw[1 : len(raw)-1]
	if key == "" {
		return KeyResult{State: KeyMalformed}
	}
	return KeyResult{State: KeyValid, Key: key}
}

// readIdempotencyKey parses the first Idempotency-Key header of r
func readIdempotencyKey(r *http.Request) KeyResult {
	values := r.Header.Values(entity.IdempotencyKeyHeader)
	if len(values) == 0 {
		return ParseIdempotencyKey("", false)
	}
	return ParseIdempotencyKey(values[0], true)
}

// quoteKey renders a key the way clients send it
func quoteKey(key string) string {
	return `"` + key + `"`
}
