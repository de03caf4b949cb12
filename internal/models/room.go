package models

import (
	"strings"
	"time"
)

type RoomState string

const (
	RoomActive  RoomState = "active"
	RoomClosing RoomState = "closing"
)

type Room struct {
	Code      string    `json:"code"`
	HostID    string    `json:"hostId"`
	CreatedAt time.Time `json:"createdAt"`
	State     RoomState `json:"state"`

	// Закрытие по таймеру: генерация отличает актуальный таймер от устаревшего
	ClosingGeneration int64      `json:"closingGeneration"`
	ClosingSince      *time.Time `json:"closingSince,omitempty"`

	PasswordHash string `json:"passwordHash,omitempty"`

	Participants []Participant `json:"participants"`
	ChatMessages []ChatMessage `json:"chatMessages"`
	DrawEvents   []DrawEvent   `json:"drawEvents"`
}

// NormalizeCode приводит код комнаты к каноническому виду (коды регистронезависимы)
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (r *Room) Participant(userID string) *Participant {
	for i := range r.Participants {
		if r.Participants[i].UserID == userID {
			return &r.Participants[i]
		}
	}
	return nil
}

// ParticipantByName ищет участника по отображаемому имени без учета регистра
func (r *Room) ParticipantByName(name string) *Participant {
	for i := range r.Participants {
		if strings.EqualFold(r.Participants[i].UserName, name) {
			return &r.Participants[i]
		}
	}
	return nil
}

func (r *Room) ActiveCount() int {
	n := 0
	for _, p := range r.Participants {
		if p.Active {
			n++
		}
	}
	return n
}

// NextHost возвращает самого раннего активного участника, кроме exclude
func (r *Room) NextHost(exclude string) *Participant {
	var next *Participant
	for i := range r.Participants {
		p := &r.Participants[i]
		if !p.Active || p.UserID == exclude {
			continue
		}
		if next == nil || p.JoinedAt.Before(next.JoinedAt) {
			next = p
		}
	}
	return next
}

// SetHost снимает флаг хоста со всех и выставляет его userID
func (r *Room) SetHost(userID string) {
	r.HostID = userID
	for i := range r.Participants {
		r.Participants[i].IsHost = r.Participants[i].UserID == userID
	}
}

// ReplayDrawEvents возвращает события рисования после последней очистки.
// Сама очистка остается в логе как маркер.
func (r *Room) ReplayDrawEvents() []DrawEvent {
	start := 0
	for i := len(r.DrawEvents) - 1; i >= 0; i-- {
		if r.DrawEvents[i].Type == DrawClear {
			start = i
			break
		}
	}
	out := make([]DrawEvent, len(r.DrawEvents)-start)
	copy(out, r.DrawEvents[start:])
	return out
}

// RecentChat возвращает последние limit сообщений (limit <= 0 - все)
func (r *Room) RecentChat(limit int) []ChatMessage {
	msgs := r.ChatMessages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]ChatMessage, len(msgs))
	copy(out, msgs)
	return out
}

// Clone делает глубокую копию, чтобы хранилище не делило срезы с вызывающим кодом
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	if r.ClosingSince != nil {
		t := *r.ClosingSince
		c.ClosingSince = &t
	}
	c.Participants = append([]Participant(nil), r.Participants...)
	c.ChatMessages = append([]ChatMessage(nil), r.ChatMessages...)
	c.DrawEvents = make([]DrawEvent, len(r.DrawEvents))
	for i, ev := range r.DrawEvents {
		ev.Points = append([]Point(nil), ev.Points...)
		c.DrawEvents[i] = ev
	}
	return &c
}
