package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	ws "github.com/thereayou/wizard-rooms/internal/websocket"
)

// WebSocketHandler управляет WebSocket соединениями
type WebSocketHandler struct {
	hub            *ws.Hub
	messageHandler *MessageHandler
	upgrader       websocket.Upgrader
	log            *logrus.Entry
}

// NewWebSocketHandler создает новый WebSocket handler. Пустой allowedOrigins разрешает любой origin.
func NewWebSocketHandler(hub *ws.Hub, messageHandler *MessageHandler, allowedOrigins []string, log *logrus.Logger) *WebSocketHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &WebSocketHandler{
		hub:            hub,
		messageHandler: messageHandler,
		log:            log.WithField("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
	}
}

// HandleWebSocket обрабатывает WebSocket соединения
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Debug("upgrade failed")
		return
	}

	client := ws.NewClient(h.hub, conn)
	h.hub.Register(client)
	h.log.WithField("conn_id", client.ID).Debug("connection opened")

	go client.WritePump()
	go client.ReadPump(h.messageHandler)
}
