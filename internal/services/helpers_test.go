package services

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/thereayou/wizard-rooms/internal/models"
	"github.com/thereayou/wizard-rooms/internal/store"
)

type sent struct {
	kind   string // room | conn | all
	target string
	except string
	event  models.Event
}

// recordingHub запоминает все вызовы Broadcaster по порядку
type recordingHub struct {
	mu     sync.Mutex
	subs   map[string]map[string]bool // room -> conns
	events []sent
}

func newRecordingHub() *recordingHub {
	return &recordingHub{subs: make(map[string]map[string]bool)}
}

func (h *recordingHub) Subscribe(connID, roomCode string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[roomCode] == nil {
		h.subs[roomCode] = make(map[string]bool)
	}
	h.subs[roomCode][connID] = true
}

func (h *recordingHub) Unsubscribe(connID, roomCode string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[roomCode], connID)
}

func (h *recordingHub) Broadcast(roomCode string, event models.Event, except string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, sent{kind: "room", target: roomCode, except: except, event: event})
}

func (h *recordingHub) SendTo(connID string, event models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, sent{kind: "conn", target: connID, event: event})
}

func (h *recordingHub) BroadcastAll(event models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, sent{kind: "all", event: event})
}

// received возвращает события, которые увидело бы соединение connID
func (h *recordingHub) received(connID string) []models.Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []models.Event
	for _, s := range h.events {
		switch s.kind {
		case "conn":
			if s.target == connID {
				out = append(out, s.event)
			}
		case "room":
			if h.subs[s.target][connID] && s.except != connID {
				out = append(out, s.event)
			}
		case "all":
			out = append(out, s.event)
		}
	}
	return out
}

func (h *recordingHub) count(t models.EventType) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, s := range h.events {
		if s.event.Type == t {
			n++
		}
	}
	return n
}

func (h *recordingHub) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = nil
}

func types(events []models.Event) []models.EventType {
	out := make([]models.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

type scheduled struct {
	code       string
	generation int64
	delay      time.Duration
}

// manualScheduler ничего не запускает сам; тест вызывает ExpireRoom явно
type manualScheduler struct {
	mu        sync.Mutex
	scheduled []scheduled
	cancelled []string
}

func (m *manualScheduler) Schedule(_ context.Context, code string, generation int64, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduled = append(m.scheduled, scheduled{code: code, generation: generation, delay: delay})
	return nil
}

func (m *manualScheduler) Cancel(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, code)
}

func (m *manualScheduler) last() scheduled {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scheduled[len(m.scheduled)-1]
}

type fakeTokens struct{}

func (fakeTokens) IssueRoomToken(userID, roomCode string) (string, error) {
	return userID + "|" + roomCode, nil
}

func (fakeTokens) VerifyRoomToken(token string) (string, string, error) {
	for i := 0; i < len(token); i++ {
		if token[i] == '|' {
			return token[:i], token[i+1:], nil
		}
	}
	return "", "", ErrInvalidPayload
}

type fixture struct {
	svc       *RoomService
	hub       *recordingHub
	store     *store.MemoryStore
	presence  *Presence
	scheduler *manualScheduler
}

func newFixture() *fixture {
	log := logrus.New()
	log.SetOutput(io.Discard)

	f := &fixture{
		hub:       newRecordingHub(),
		store:     store.NewMemoryStore(),
		presence:  NewPresence(),
		scheduler: &manualScheduler{},
	}
	f.presence.OnChange = func(n int) {
		f.hub.BroadcastAll(models.NewEvent(models.EventActiveUsers, "", models.ActiveUsersPayload{Count: n}))
	}
	f.svc = NewRoomService(f.store, f.hub, f.presence, RoomOptions{
		Scheduler:   f.scheduler,
		Tokens:      fakeTokens{},
		Logger:      log,
		CloseGrace:  30 * time.Second,
		ChatHistory: 50,
	})
	return f
}

func (f *fixture) room(code string) *models.Room {
	r, err := f.store.Get(context.Background(), code)
	if err != nil {
		return nil
	}
	return r
}
