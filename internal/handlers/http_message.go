package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/thereayou/wizard-rooms/internal/handlers/dto"
	"github.com/thereayou/wizard-rooms/internal/middleware"
	"github.com/thereayou/wizard-rooms/internal/services"
)

// EventHandler принимает события от внешних продюсеров через HTTP
type EventHandler struct {
	rooms *services.RoomService
	log   *logrus.Entry
}

func NewEventHandler(rooms *services.RoomService, log *logrus.Logger) *EventHandler {
	return &EventHandler{rooms: rooms, log: log.WithField("component", "ingest")}
}

// PostEvent добавляет событие в комнату и рассылает его участникам
func (h *EventHandler) PostEvent(c *gin.Context) {
	var req dto.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	in := services.IngestRequest{
		RoomCode: req.RoomCode,
		Type:     req.Type,
		UserName: req.UserName,
		Message:  req.Message,
	}
	if req.Event != nil {
		in.Draw = &services.DrawInput{
			Type:   req.Event.Type,
			Points: req.Event.Points,
			Color:  req.Event.Color,
			DrawID: req.Event.DrawID,
		}
	}

	if err := h.rooms.Ingest(c.Request.Context(), in); err != nil {
		status := httpStatus(err)
		entry := h.log.WithError(err).WithFields(logrus.Fields{
			"room":     req.RoomCode,
			"type":     req.Type,
			"producer": c.GetString(middleware.ProducerKey),
		})
		if status >= http.StatusInternalServerError {
			entry.Error("ingest failed")
		} else {
			entry.Info("ingest rejected")
		}
		c.JSON(status, gin.H{"error": userError(err)})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}
