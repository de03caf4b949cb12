package websocket

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/thereayou/wizard-rooms/internal/models"
)

const (
	// Время ожидания записи
	writeWait = 10 * time.Second

	// Время ожидания pong от клиента
	pongWait = 60 * time.Second

	// Интервал отправки ping
	pingPeriod = (pongWait * 9) / 10

	// Максимальный размер сообщения
	maxMessageSize = 512 * 1024 // 512KB

	sendQueueSize = 256
)

// MessageHandler разбирает входящие кадры. HandleDisconnect вызывается
// один раз, когда чтение из соединения прекратилось.
type MessageHandler interface {
	HandleMessage(client *Client, raw []byte)
	HandleDisconnect(client *Client)
}

type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	Hub  *Hub

	// комнаты, на которые подписан клиент; меняются только горутиной hub
	rooms map[string]bool
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		ID:    uuid.New().String(),
		Conn:  conn,
		Send:  make(chan []byte, sendQueueSize),
		Hub:   hub,
		rooms: make(map[string]bool),
	}
}

// Reply отправляет событие только этому соединению
func (c *Client) Reply(event models.Event) {
	c.Hub.SendTo(c.ID, event)
}

// ReadPump читает сообщения от клиента
func (c *Client) ReadPump(handler MessageHandler) {
	defer func() {
		handler.HandleDisconnect(c)
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.Hub.log.WithError(err).WithField("conn_id", c.ID).Warn("websocket read failed")
			}
			return
		}
		handler.HandleMessage(c, data)
	}
}

// WritePump отправляет сообщения клиенту
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	log := c.Hub.log.WithField("conn_id", c.ID)

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub закрыл канал
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.WithError(err).Debug("websocket write failed")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.WithFields(logrus.Fields{"error": err}).Debug("ping failed")
				return
			}
		}
	}
}
