package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/thereayou/wizard-rooms/internal/handlers"
	"github.com/thereayou/wizard-rooms/internal/middleware"
	"github.com/thereayou/wizard-rooms/pkg/auth"
)

type Endpoints struct {
	WS      *handlers.WebSocketHandler
	Rooms   *handlers.RoomHandler
	Events  *handlers.EventHandler
	Health  *handlers.HealthHandler
	Metrics http.Handler

	IngestAuth *auth.JWTManager
	Redis      *redis.Client
	RedisKeys  string
	RateLimit  int
	Logger     *logrus.Logger
}

func APIEndpoints(r *gin.Engine, e Endpoints) {
	r.GET("/ws", e.WS.HandleWebSocket)
	r.GET("/health", e.Health.Health)
	r.GET("/exists", e.Rooms.Exists)
	r.GET("/metrics", gin.WrapH(e.Metrics))

	ingest := []gin.HandlerFunc{middleware.IngestAuth(e.IngestAuth)}
	if e.Redis != nil && e.RateLimit > 0 {
		ingest = append(ingest, middleware.RateLimit(e.Redis, e.RedisKeys, e.RateLimit, time.Minute, e.Logger))
	}
	ingest = append(ingest, e.Events.PostEvent)
	r.POST("/event", ingest...)

	// API endpoints
	api := r.Group("/api")
	{
		api.GET("/rooms/:code", e.Rooms.GetRoom)
		api.GET("/rooms/:code/messages", e.Rooms.GetRoomMessages)
		api.GET("/archive/:code", e.Rooms.GetArchive)
	}
}
