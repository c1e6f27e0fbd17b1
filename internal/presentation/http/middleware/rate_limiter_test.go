package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestClientRateLimiter_LimitsWritesPerClient(t *testing.T) {
	rl := NewClientRateLimiter(RateLimiterConfig{RequestsPerSecond: 0.001, BurstSize: 2})

	r := gin.New()
	r.Use(rl.Middleware())
	r.POST("/things", func(c *gin.Context) { c.Status(http.StatusCreated) })
	r.GET("/things", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(method, ip string) int {
		req := httptest.NewRequest(method, "/things", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusCreated, do(http.MethodPost, "10.0.0.1"))
	assert.Equal(t, http.StatusCreated, do(http.MethodPost, "10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, do(http.MethodPost, "10.0.0.1"))
	assert.Equal(t, http.StatusCreated, do(http.MethodPost, "10.0.0.2"), "other clients are unaffected")
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "10.0.0.1"), "reads are not limited")
}

func TestClientRateLimiter_Cleanup(t *testing.T) {
	rl := NewClientRateLimiter(RateLimiterConfig{EntryTTL: time.Minute})
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }

	rl.getLimiter("a")
	now = now.Add(2 * time.Minute)
	rl.getLimiter("b")
	rl.cleanup()

	assert.Equal(t, 1, rl.Stats()["active_clients"])
}

func TestClientRateLimiter_RunStops(t *testing.T) {
	rl := NewClientRateLimiter(RateLimiterConfig{CleanupInterval: time.Millisecond})
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		rl.Run(stop)
		close(done)
	}()
	close(stop)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after stop")
	}
}
