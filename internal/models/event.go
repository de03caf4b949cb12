package models

import "time"

// EventType определяет типы исходящих событий
type EventType string

const (
	EventRoomJoined        EventType = "roomJoined"
	EventParticipantJoined EventType = "participantJoined"
	EventParticipantLeft   EventType = "participantLeft"
	EventHostChanged       EventType = "hostChanged"
	EventRoomClosed        EventType = "roomClosed"
	EventChatMessage       EventType = "newChatMessage"
	EventDraw              EventType = "drawEvent"
	EventActiveUsers       EventType = "active_users"
	EventNotice            EventType = "notice"
	EventError             EventType = "error"
	EventPong              EventType = "pong"
)

// Event - доменное событие, которое рассылается подключениям комнаты
type Event struct {
	Type      EventType   `json:"type"`
	RoomCode  string      `json:"roomCode,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewEvent(t EventType, roomCode string, data interface{}) Event {
	return Event{Type: t, RoomCode: roomCode, Data: data, Timestamp: time.Now()}
}

type Snapshot struct {
	RoomCode     string        `json:"roomCode"`
	HostID       string        `json:"hostId"`
	Participants []Participant `json:"participants"`
	ChatMessages []ChatMessage `json:"chatMessages"`
	DrawEvents   []DrawEvent   `json:"drawEvents"`
}

type JoinedPayload struct {
	Snapshot
	UserID string `json:"userId"`
	Token  string `json:"token,omitempty"`
}

type ParticipantPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type HostChangedPayload struct {
	HostID   string `json:"hostId"`
	HostName string `json:"hostName"`
}

type ActiveUsersPayload struct {
	Count int `json:"count"`
}

type NoticePayload struct {
	Message string `json:"message"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}
