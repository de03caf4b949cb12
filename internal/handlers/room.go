package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/thereayou/wizard-rooms/internal/handlers/dto"
	"github.com/thereayou/wizard-rooms/internal/models"
	"github.com/thereayou/wizard-rooms/internal/services"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100

	// RoomPasswordHeader несет пароль комнаты для HTTP чтения
	RoomPasswordHeader = "X-Room-Password"
)

// ArchiveReader читает стенограммы удаленных комнат
type ArchiveReader interface {
	ListArchives(ctx context.Context, code string, limit int) ([]models.ArchivedRoom, error)
}

type RoomHandler struct {
	rooms    *services.RoomService
	archives ArchiveReader
	log      *logrus.Entry
}

// NewRoomHandler создает handler комнат; archives может быть nil, если архив выключен
func NewRoomHandler(rooms *services.RoomService, archives ArchiveReader, log *logrus.Logger) *RoomHandler {
	return &RoomHandler{rooms: rooms, archives: archives, log: log.WithField("component", "rooms_http")}
}

// Exists отвечает, существует ли комната с кодом из ?room=
func (h *RoomHandler) Exists(c *gin.Context) {
	code := c.Query("room")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room is required"})
		return
	}

	ok, err := h.rooms.Exists(c.Request.Context(), code)
	if err != nil {
		h.fail(c, err, code)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exists": ok, "roomCode": models.NormalizeCode(code)})
}

// GetRoom возвращает снимок комнаты
func (h *RoomHandler) GetRoom(c *gin.Context) {
	code := c.Param("code")

	if err := h.rooms.Authorize(c.Request.Context(), code, c.GetHeader(RoomPasswordHeader)); err != nil {
		h.fail(c, err, code)
		return
	}

	snap, err := h.rooms.Snapshot(c.Request.Context(), code)
	if err != nil {
		h.fail(c, err, code)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetRoomMessages получает историю сообщений комнаты
func (h *RoomHandler) GetRoomMessages(c *gin.Context) {
	code := c.Param("code")

	if err := h.rooms.Authorize(c.Request.Context(), code, c.GetHeader(RoomPasswordHeader)); err != nil {
		h.fail(c, err, code)
		return
	}

	// Параметры пагинации
	limit := defaultPageSize
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxPageSize {
			limit = parsed
		}
	}

	messages, hasMore, err := h.rooms.ChatPage(c.Request.Context(), code, limit, c.Query("before"))
	if err != nil {
		h.fail(c, err, code)
		return
	}

	c.JSON(http.StatusOK, dto.MessagesResponse{Messages: messages, HasMore: hasMore})
}

// GetArchive возвращает архивные стенограммы комнаты
func (h *RoomHandler) GetArchive(c *gin.Context) {
	if h.archives == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive is disabled"})
		return
	}

	code := c.Param("code")
	archives, err := h.archives.ListArchives(c.Request.Context(), code, 0)
	if err != nil {
		h.log.WithError(err).WithField("room", code).Error("failed to list archives")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get archive"})
		return
	}

	// архивы с паролем отдаются только при совпадающем пароле
	password := c.GetHeader(RoomPasswordHeader)
	visible := archives[:0]
	for _, a := range archives {
		if services.CheckPassword(a.PasswordHash, password) == nil {
			visible = append(visible, a)
		}
	}
	if len(visible) == 0 && len(archives) > 0 {
		h.fail(c, services.ErrWrongPassword, code)
		return
	}
	archives = visible

	c.JSON(http.StatusOK, gin.H{"roomCode": models.NormalizeCode(code), "archives": archives})
}

func (h *RoomHandler) fail(c *gin.Context, err error, code string) {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).WithField("room", code).Error("request failed")
	}
	c.JSON(status, gin.H{"error": userError(err)})
}
