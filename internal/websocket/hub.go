package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/thereayou/wizard-rooms/internal/metrics"
	"github.com/thereayou/wizard-rooms/internal/models"
)

const commandBuffer = 1024

// Relay публикует рассылки комнаты для других экземпляров сервера
type Relay interface {
	Publish(ctx context.Context, roomCode string, payload []byte) error
}

// Hub владеет всеми соединениями процесса. Любое изменение и любая отправка
// проходят через одну горутину Run, поэтому порядок доставки в комнату
// совпадает с порядком вызовов.
type Hub struct {
	clients map[string]*Client
	rooms   map[string]map[string]*Client

	commands chan func()

	relayMu sync.RWMutex
	relay   Relay

	metrics *metrics.Metrics
	log     *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHub(log *logrus.Logger, m *metrics.Metrics) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:  make(map[string]*Client),
		rooms:    make(map[string]map[string]*Client),
		commands: make(chan func(), commandBuffer),
		metrics:  m,
		log:      log.WithField("component", "hub"),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// SetRelay включает репликацию рассылок между экземплярами
func (h *Hub) SetRelay(r Relay) {
	h.relayMu.Lock()
	h.relay = r
	h.relayMu.Unlock()
}

// Run запускает hub
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			for id, client := range h.clients {
				close(client.Send)
				delete(h.clients, id)
			}
			return
		case cmd := <-h.commands:
			cmd()
		}
	}
}

// Stop останавливает hub и закрывает очереди клиентов
func (h *Hub) Stop() {
	h.cancel()
	<-h.done
}

func (h *Hub) enqueue(cmd func()) bool {
	select {
	case h.commands <- cmd:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// call выполняет fn в горутине hub и ждет результата
func (h *Hub) call(fn func()) error {
	done := make(chan struct{})
	if !h.enqueue(func() {
		fn()
		close(done)
	}) {
		return ErrHubStopped
	}
	select {
	case <-done:
		return nil
	case <-h.ctx.Done():
		return ErrHubStopped
	}
}

// Register регистрирует нового клиента
func (h *Hub) Register(client *Client) {
	h.enqueue(func() { h.registerClient(client) })
}

// Unregister отменяет регистрацию клиента
func (h *Hub) Unregister(client *Client) {
	h.enqueue(func() { h.unregisterClient(client) })
}

func (h *Hub) Subscribe(connID, roomCode string) {
	h.enqueue(func() {
		client, ok := h.clients[connID]
		if !ok {
			h.log.WithField("conn_id", connID).Debug("subscribe for unknown connection")
			return
		}
		if _, ok := h.rooms[roomCode]; !ok {
			h.rooms[roomCode] = make(map[string]*Client)
		}
		h.rooms[roomCode][connID] = client
		client.rooms[roomCode] = true
	})
}

func (h *Hub) Unsubscribe(connID, roomCode string) {
	h.enqueue(func() {
		if client, ok := h.clients[connID]; ok {
			h.removeFromRoomUnsafe(client, roomCode)
		}
	})
}

// Broadcast рассылает событие подключениям комнаты, кроме exceptConnID
func (h *Hub) Broadcast(roomCode string, event models.Event, exceptConnID string) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.WithError(err).WithField("type", event.Type).Error("failed to encode event")
		return
	}
	h.enqueue(func() { h.broadcastToRoomExcept(roomCode, data, exceptConnID) })

	h.relayMu.RLock()
	relay := h.relay
	h.relayMu.RUnlock()
	if relay != nil {
		if err := relay.Publish(h.ctx, roomCode, data); err != nil {
			h.log.WithError(err).WithField("room", roomCode).Warn("relay publish failed")
		}
	}
}

// DeliverRemote доставляет рассылку, пришедшую от другого экземпляра
func (h *Hub) DeliverRemote(roomCode string, data []byte) {
	h.enqueue(func() { h.broadcastToRoomExcept(roomCode, data, "") })
}

func (h *Hub) SendTo(connID string, event models.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.WithError(err).WithField("type", event.Type).Error("failed to encode event")
		return
	}
	h.enqueue(func() {
		client, ok := h.clients[connID]
		if !ok {
			h.log.WithError(ErrUnknownConnection).WithField("conn_id", connID).Debug("dropping direct event")
			return
		}
		h.deliver(client, data)
	})
}

func (h *Hub) BroadcastAll(event models.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.WithError(err).WithField("type", event.Type).Error("failed to encode event")
		return
	}
	h.enqueue(func() {
		for _, client := range h.clients {
			h.deliver(client, data)
		}
	})
}

// ClientCount возвращает число зарегистрированных соединений
func (h *Hub) ClientCount() int {
	n := 0
	_ = h.call(func() { n = len(h.clients) })
	return n
}

// RoomSize возвращает число соединений, подписанных на комнату
func (h *Hub) RoomSize(roomCode string) int {
	n := 0
	_ = h.call(func() { n = len(h.rooms[roomCode]) })
	return n
}

func (h *Hub) registerClient(client *Client) {
	h.clients[client.ID] = client
	h.log.WithField("conn_id", client.ID).Debug("client registered")
}

func (h *Hub) unregisterClient(client *Client) {
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	for roomCode := range client.rooms {
		h.removeFromRoomUnsafe(client, roomCode)
	}
	delete(h.clients, client.ID)
	close(client.Send)

	h.log.WithField("conn_id", client.ID).Debug("client unregistered")
}

func (h *Hub) removeFromRoomUnsafe(client *Client, roomCode string) {
	room, ok := h.rooms[roomCode]
	if !ok {
		return
	}
	delete(room, client.ID)
	delete(client.rooms, roomCode)
	if len(room) == 0 {
		delete(h.rooms, roomCode)
	}
}

func (h *Hub) broadcastToRoomExcept(roomCode string, data []byte, excludeID string) {
	for id, client := range h.rooms[roomCode] {
		if id != excludeID {
			h.deliver(client, data)
		}
	}
}

// deliver не блокируется: при полной очереди кадр теряется
func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.Send <- data:
	default:
		h.metrics.Dropped()
		h.log.WithError(ErrClientQueueFull).WithField("conn_id", client.ID).Warn("frame dropped")
	}
}
