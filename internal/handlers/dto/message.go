package dto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/thereayou/wizard-rooms/internal/models"
)

// ErrMalformedMessage - кадр не разобран или не проходит проверку формы
var ErrMalformedMessage = errors.New("malformed message")

// CommandKind - имя входящей команды
type CommandKind string

const (
	CmdJoinRoom CommandKind = "joinRoom"
	CmdLeave    CommandKind = "leaveRoom"
	CmdChat     CommandKind = "sendChatMessage"
	CmdDraw     CommandKind = "draw"
	CmdPing     CommandKind = "ping"
)

type JoinRoomPayload struct {
	RoomCode  string `json:"roomCode"`
	UserName  string `json:"userName"`
	CreateNew bool   `json:"createNew"`
	Password  string `json:"password,omitempty"`
	Token     string `json:"token,omitempty"`
}

type LeaveRoomPayload struct {
	RoomCode string `json:"roomCode"`
}

type ChatPayload struct {
	RoomCode string `json:"roomCode"`
	Message  string `json:"message"`
}

// DrawEventPayload - штрих или очистка, как их присылает клиент
type DrawEventPayload struct {
	Type   models.DrawType `json:"type"`
	Points []models.Point  `json:"points"`
	Color  string          `json:"color,omitempty"`
	DrawID string          `json:"drawId,omitempty"`
}

type DrawPayload struct {
	RoomCode string            `json:"roomCode"`
	Event    *DrawEventPayload `json:"event"`
}

// Command - разобранный входящий кадр; заполнено ровно одно поле по Kind
type Command struct {
	Kind  CommandKind
	Join  *JoinRoomPayload
	Leave *LeaveRoomPayload
	Chat  *ChatPayload
	Draw  *DrawPayload
}

// RoomCode возвращает код комнаты, к которой относится команда
func (c *Command) RoomCode() string {
	switch {
	case c.Join != nil:
		return c.Join.RoomCode
	case c.Leave != nil:
		return c.Leave.RoomCode
	case c.Chat != nil:
		return c.Chat.RoomCode
	case c.Draw != nil:
		return c.Draw.RoomCode
	}
	return ""
}

// Decode разбирает кадр в двух вариантах протокола:
//
//	{"type": "joinRoom", "roomCode": "...", ...}
//	{"event": "joinRoom", "data": {"roomCode": "...", ...}}
//
// Во втором варианте без data поля команды читаются с верхнего уровня.
func Decode(raw []byte) (*Command, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	name, body, err := discriminator(envelope, raw)
	if err != nil {
		return nil, err
	}

	cmd := &Command{Kind: CommandKind(name)}
	switch cmd.Kind {
	case CmdJoinRoom:
		cmd.Join = &JoinRoomPayload{}
		err = decodeBody(body, cmd.Join)
		if err == nil && strings.TrimSpace(cmd.Join.UserName) == "" {
			err = missing("userName")
		}
		if err == nil && strings.TrimSpace(cmd.Join.RoomCode) == "" && !cmd.Join.CreateNew {
			err = missing("roomCode")
		}
	case CmdLeave:
		cmd.Leave = &LeaveRoomPayload{}
		err = decodeBody(body, cmd.Leave)
		if err == nil && strings.TrimSpace(cmd.Leave.RoomCode) == "" {
			err = missing("roomCode")
		}
	case CmdChat:
		cmd.Chat = &ChatPayload{}
		err = decodeBody(body, cmd.Chat)
		if err == nil && strings.TrimSpace(cmd.Chat.RoomCode) == "" {
			err = missing("roomCode")
		}
	case CmdDraw:
		cmd.Draw = &DrawPayload{}
		err = decodeBody(body, cmd.Draw)
		if err == nil && strings.TrimSpace(cmd.Draw.RoomCode) == "" {
			err = missing("roomCode")
		}
		if err == nil && cmd.Draw.Event == nil {
			err = missing("event")
		}
		if err == nil && !cmd.Draw.Event.Type.Valid() {
			err = fmt.Errorf("%w: unknown draw type %q", ErrMalformedMessage, cmd.Draw.Event.Type)
		}
	case CmdPing:
	default:
		return nil, fmt.Errorf("%w: unknown command %q", ErrMalformedMessage, name)
	}
	if err != nil {
		return nil, err
	}
	return cmd, nil
}

func discriminator(envelope map[string]json.RawMessage, raw []byte) (string, []byte, error) {
	var name string
	if t, ok := envelope["type"]; ok && json.Unmarshal(t, &name) == nil && name != "" {
		return name, raw, nil
	}
	// в варианте с "event" поле может быть и объектом штриха, тогда это не имя
	if e, ok := envelope["event"]; ok && json.Unmarshal(e, &name) == nil && name != "" {
		if data, ok := envelope["data"]; ok && string(data) != "null" {
			return name, data, nil
		}
		return name, raw, nil
	}
	return "", nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
}

func decodeBody(body []byte, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return nil
}

func missing(field string) error {
	return fmt.Errorf("%w: %s is required", ErrMalformedMessage, field)
}
