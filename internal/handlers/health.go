package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thereayou/wizard-rooms/internal/services"
	ws "github.com/thereayou/wizard-rooms/internal/websocket"
)

// StoreStatus сообщает, работает ли хранилище на резервной памяти
type StoreStatus interface {
	Degraded() bool
}

type HealthHandler struct {
	hub      *ws.Hub
	presence *services.Presence
	store    StoreStatus
	backend  string
}

// NewHealthHandler; store может быть nil для чисто in-memory конфигурации
func NewHealthHandler(hub *ws.Hub, presence *services.Presence, store StoreStatus, backend string) *HealthHandler {
	return &HealthHandler{hub: hub, presence: presence, store: store, backend: backend}
}

// Health - liveness probe. Деградация хранилища не делает сервис неживым.
func (h *HealthHandler) Health(c *gin.Context) {
	degraded := h.store != nil && h.store.Degraded()
	status := "ok"
	if degraded {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      status,
		"store":       h.backend,
		"connections": h.hub.ClientCount(),
		"activeUsers": h.presence.ActiveUserCount(),
	})
}
