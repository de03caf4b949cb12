package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const relayChannelPrefix = "rooms:"

type relayFrame struct {
	Origin  string          `json:"origin"`
	Room    string          `json:"room"`
	Payload json.RawMessage `json:"payload"`
}

// RedisRelay реплицирует рассылки комнат между экземплярами через Redis pub/sub.
// Экземпляр пропускает собственные публикации по origin.
type RedisRelay struct {
	rdb        *redis.Client
	instanceID string
	log        *logrus.Entry
}

func NewRedisRelay(rdb *redis.Client, instanceID string, log *logrus.Logger) *RedisRelay {
	return &RedisRelay{
		rdb:        rdb,
		instanceID: instanceID,
		log:        log.WithFields(logrus.Fields{"component": "relay", "instance": instanceID}),
	}
}

func (r *RedisRelay) Publish(ctx context.Context, roomCode string, payload []byte) error {
	raw, err := json.Marshal(relayFrame{Origin: r.instanceID, Room: roomCode, Payload: payload})
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, relayChannelPrefix+roomCode, raw).Err()
}

// Start подписывается на все каналы комнат и передает чужие рассылки в hub.
// Возвращается после подтверждения подписки; чтение идет до отмены ctx.
func (r *RedisRelay) Start(ctx context.Context, hub *Hub) error {
	pubsub := r.rdb.PSubscribe(ctx, relayChannelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("relay subscribe: %w", err)
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.handle(hub, msg)
			}
		}
	}()
	return nil
}

func (r *RedisRelay) handle(hub *Hub, msg *redis.Message) {
	var frame relayFrame
	if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
		r.log.WithError(err).WithField("channel", msg.Channel).Warn("bad relay frame")
		return
	}
	if frame.Origin == r.instanceID {
		return
	}
	room := frame.Room
	if room == "" {
		room = strings.TrimPrefix(msg.Channel, relayChannelPrefix)
	}
	hub.DeliverRemote(room, frame.Payload)
}
