package worker

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const TypeRoomExpire = "room:expire"

type RoomExpirePayload struct {
	RoomCode   string `json:"roomCode"`
	Generation int64  `json:"generation"`
}

// NewRoomExpireTask создает отложенную задачу удаления комнаты
func NewRoomExpireTask(roomCode string, generation int64) (*asynq.Task, error) {
	payload, err := json.Marshal(RoomExpirePayload{RoomCode: roomCode, Generation: generation})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRoomExpire, payload), nil
}

// expireTaskID уникален для пары (комната, генерация): повторная постановка
// той же генерации отклоняется брокером
func expireTaskID(roomCode string, generation int64) string {
	return fmt.Sprintf("%s:%s:%d", TypeRoomExpire, roomCode, generation)
}
