package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"harvester-telemetry-backend/config"
	"harvester-telemetry-backend/internal/mw"
	"harvester-telemetry-backend/internal/store"
)

// NewRouter creates and configures a new Gin router. subscriber may be nil.
func NewRouter(s store.Store, cfg config.ServerConfig, subscriber DeviceSubscriber, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.RequestLogger(log))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(ttl, 2*ttl)
	caching := mw.Cache(cacheStore, ttl)

	handler := NewHandler(s, cacheStore, subscriber, log)

	r.GET("/health", handler.GetHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst))
	{
		api.GET("/config", caching, handler.GetConfig)
		api.POST("/config", handler.PostConfig)

		api.GET("/data", handler.GetData)
		api.GET("/series", handler.GetSeries)

		api.GET("/devices", handler.ListDevices)
		api.POST("/devices", handler.CreateDevice)
		api.GET("/devices/:id", handler.GetDevice)
		api.PUT("/devices/:id", handler.UpdateDevice)
		api.DELETE("/devices/:id", handler.DeleteDevice)
		api.GET("/devices/:id/realtime", handler.GetRealtime)
		api.GET("/devices/:id/history", handler.GetDeviceHistory)
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	c.AllowHeaders = append(c.AllowHeaders, "Authorization", "Cache-Control")
	if len(origins) == 0 {
		c.AllowAllOrigins = true
		return c
	}
	for _, o := range origins {
		if o == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = origins
	return c
}
