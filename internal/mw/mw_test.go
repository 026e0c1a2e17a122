package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func get(r *gin.Engine, path string, header map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestCache_ServesRepeatedGets(t *testing.T) {
	store := cache.New(time.Minute, time.Minute)
	calls := 0

	r := gin.New()
	r.GET("/config", Cache(store, time.Minute), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"calls": calls})
	})

	first := get(r, "/config", nil)
	assert.Equal(t, "MISS", first.Header().Get(CacheHeader))
	assert.JSONEq(t, `{"calls":1}`, first.Body.String())

	second := get(r, "/config", nil)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get(CacheHeader))
	assert.Equal(t, "application/json; charset=utf-8", second.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"calls":1}`, second.Body.String())
	assert.Equal(t, 1, calls)

	store.Flush()
	third := get(r, "/config", nil)
	assert.JSONEq(t, `{"calls":2}`, third.Body.String())

	bypass := get(r, "/config", map[string]string{"Cache-Control": "no-cache"})
	assert.JSONEq(t, `{"calls":3}`, bypass.Body.String())
}

func TestCache_SkipsErrors(t *testing.T) {
	store := cache.New(time.Minute, time.Minute)
	calls := 0

	r := gin.New()
	r.GET("/broken", Cache(store, time.Minute), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusInternalServerError, gin.H{"success": false})
	})

	get(r, "/broken", nil)
	get(r, "/broken", nil)
	assert.Equal(t, 2, calls)
	assert.Zero(t, store.ItemCount())
}

func TestRateLimiter_RejectsBurstOverflow(t *testing.T) {
	r := gin.New()
	r.Use(RateLimiter(rate.Limit(1), 2))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	assert.Equal(t, http.StatusNoContent, get(r, "/ping", nil).Code)
	assert.Equal(t, http.StatusNoContent, get(r, "/ping", nil).Code)

	w := get(r, "/ping", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"success":false,"error":"Too many requests"}`, w.Body.String())
}

func TestIPRateLimiter_PerIP(t *testing.T) {
	l := NewIPRateLimiter(rate.Limit(1), 1)
	assert.Same(t, l.GetLimiter("10.0.0.1"), l.GetLimiter("10.0.0.1"))
	assert.NotSame(t, l.GetLimiter("10.0.0.1"), l.GetLimiter("10.0.0.2"))
	assert.True(t, l.GetLimiter("10.0.0.2").Allow())
}
