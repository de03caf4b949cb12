package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Expirer - получатель задачи room:expire
type Expirer interface {
	ExpireRoom(ctx context.Context, roomCode string, generation int64) error
}

// RoomExpireHandler обрабатывает задачи удаления комнат
type RoomExpireHandler struct {
	rooms Expirer
	log   *logrus.Entry
}

func NewRoomExpireHandler(rooms Expirer, log *logrus.Logger) *RoomExpireHandler {
	return &RoomExpireHandler{rooms: rooms, log: log.WithField("component", "worker")}
}

// ProcessTask реализует asynq.Handler
func (h *RoomExpireHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	logCtx := h.log.WithFields(logrus.Fields{"task_id": taskID, "task_type": t.Type()})

	var payload RoomExpirePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logCtx.WithError(err).Error("failed to unmarshal task payload")
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.RoomCode == "" {
		return fmt.Errorf("empty room code: %w", asynq.SkipRetry)
	}

	if err := h.rooms.ExpireRoom(ctx, payload.RoomCode, payload.Generation); err != nil {
		logCtx.WithError(err).WithField("room", payload.RoomCode).Error("room expiry failed")
		return err
	}
	return nil
}

// Server оборачивает asynq.Server
type Server struct {
	server  *asynq.Server
	handler *RoomExpireHandler
	log     *logrus.Entry
}

func NewServer(redisOpt asynq.RedisClientOpt, rooms Expirer, logger *logrus.Logger) *Server {
	logEntry := logger.WithField("component", "worker_server")

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 4,
		Queues:      map[string]int{queueName: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retryCount, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logEntry.WithFields(logrus.Fields{
				"task_type": task.Type(),
				"retries":   retryCount,
				"max_retry": maxRetry,
			}).WithError(err).Error("task failed")
		}),
	})

	return &Server{
		server:  server,
		handler: NewRoomExpireHandler(rooms, logger),
		log:     logEntry,
	}
}

// Start запускает обработку задач и сразу возвращается; остановка через Shutdown
func (s *Server) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeRoomExpire, s.handler.ProcessTask)

	if err := s.server.Start(mux); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	s.log.Info("worker server started")
	return nil
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
	s.log.Info("worker server shut down")
}
