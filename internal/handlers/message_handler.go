package handlers

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/thereayou/wizard-rooms/internal/handlers/dto"
	"github.com/thereayou/wizard-rooms/internal/metrics"
	"github.com/thereayou/wizard-rooms/internal/models"
	"github.com/thereayou/wizard-rooms/internal/services"
	"github.com/thereayou/wizard-rooms/internal/websocket"
)

// MessageHandler - адаптер WebSocket: разбирает кадры и вызывает RoomService
type MessageHandler struct {
	rooms   *services.RoomService
	metrics *metrics.Metrics
	log     *logrus.Entry
}

func NewMessageHandler(rooms *services.RoomService, m *metrics.Metrics, log *logrus.Logger) *MessageHandler {
	return &MessageHandler{
		rooms:   rooms,
		metrics: m,
		log:     log.WithField("component", "ws_handler"),
	}
}

func (h *MessageHandler) HandleMessage(client *websocket.Client, raw []byte) {
	logCtx := h.log.WithField("conn_id", client.ID)

	cmd, err := dto.Decode(raw)
	if err != nil {
		h.metrics.Malformed()
		logCtx.WithError(err).Warn("dropping inbound frame")
		client.Reply(models.NewEvent(models.EventError, "", models.ErrorPayload{Error: userError(err)}))
		return
	}

	ctx := context.Background()
	code := models.NormalizeCode(cmd.RoomCode())

	switch cmd.Kind {
	case dto.CmdPing:
		client.Reply(models.NewEvent(models.EventPong, "", nil))
		return

	case dto.CmdJoinRoom:
		_, err = h.rooms.CreateOrJoin(ctx, client.ID, services.JoinRequest{
			RoomCode:  cmd.Join.RoomCode,
			UserName:  cmd.Join.UserName,
			CreateNew: cmd.Join.CreateNew,
			Password:  cmd.Join.Password,
			Token:     cmd.Join.Token,
		})

	case dto.CmdLeave:
		err = h.rooms.LeaveConnection(ctx, client.ID, code)

	case dto.CmdChat:
		_, err = h.rooms.SendChat(ctx, client.ID, code, cmd.Chat.Message)

	case dto.CmdDraw:
		ev := cmd.Draw.Event
		_, err = h.rooms.Draw(ctx, client.ID, code, services.DrawInput{
			Type:   ev.Type,
			Points: ev.Points,
			Color:  ev.Color,
			DrawID: ev.DrawID,
		})
	}

	if err != nil {
		entry := logCtx.WithError(err).WithFields(logrus.Fields{"room": code, "command": cmd.Kind})
		if isClientError(err) {
			entry.Info("command rejected")
		} else {
			entry.Error("command failed")
		}
		client.Reply(models.NewEvent(models.EventError, code, models.ErrorPayload{Error: userError(err)}))
	}
}

// HandleDisconnect - транспортная ошибка или закрытие: участник становится неактивным
func (h *MessageHandler) HandleDisconnect(client *websocket.Client) {
	h.rooms.DisconnectTransport(context.Background(), client.ID)
}
