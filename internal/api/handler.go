package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"harvester-telemetry-backend/internal/store"
)

// DeviceSubscriber is notified when a device is registered through the API.
type DeviceSubscriber interface {
	SubscribeDevice(deviceID int64) error
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store      store.Store
	cache      *cache.Cache
	subscriber DeviceSubscriber
	log        zerolog.Logger
}

// NewHandler creates a new API handler. cache and subscriber may be nil.
func NewHandler(s store.Store, c *cache.Cache, sub DeviceSubscriber, log zerolog.Logger) *Handler {
	return &Handler{
		store:      s,
		cache:      c,
		subscriber: sub,
		log:        log,
	}
}

// response is the envelope of every /api reply.
type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, response{Success: true, Data: data})
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, response{Success: false, Error: msg})
}

func (h *Handler) internalError(c *gin.Context, err error, msg string) {
	h.log.Error().Err(err).Str("path", c.FullPath()).Msg(msg)
	fail(c, http.StatusInternalServerError, msg)
}
