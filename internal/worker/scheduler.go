package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

const queueName = "default"

// TaskScheduler планирует удаление комнат через asynq. Задача переживает
// рестарт процесса и выполняется любым экземпляром с запущенным Server.
type TaskScheduler struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	log       *logrus.Entry

	mu      sync.Mutex
	pending map[string]string // roomCode -> taskID
}

func NewTaskScheduler(redisOpt asynq.RedisClientOpt, log *logrus.Logger) *TaskScheduler {
	return &TaskScheduler{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		log:       log.WithField("component", "task_scheduler"),
		pending:   make(map[string]string),
	}
}

func (s *TaskScheduler) Schedule(ctx context.Context, roomCode string, generation int64, delay time.Duration) error {
	task, err := NewRoomExpireTask(roomCode, generation)
	if err != nil {
		return err
	}

	s.Cancel(roomCode)

	id := expireTaskID(roomCode, generation)
	_, err = s.client.EnqueueContext(ctx, task,
		asynq.TaskID(id),
		asynq.ProcessIn(delay),
		asynq.Queue(queueName),
		asynq.MaxRetry(3),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("enqueue %s: %w", id, err)
	}

	s.mu.Lock()
	s.pending[roomCode] = id
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"room": roomCode, "task_id": id, "delay": delay}).Debug("room expiry enqueued")
	return nil
}

// Cancel удаляет запланированную задачу, если она еще не началась.
// Пропущенная отмена безопасна: обработчик сверяет генерацию.
func (s *TaskScheduler) Cancel(roomCode string) {
	s.mu.Lock()
	id, ok := s.pending[roomCode]
	delete(s.pending, roomCode)
	s.mu.Unlock()

	if !ok {
		return
	}
	if err := s.inspector.DeleteTask(queueName, id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
		s.log.WithError(err).WithField("task_id", id).Debug("could not delete expiry task")
	}
}

func (s *TaskScheduler) Close() error {
	if err := s.inspector.Close(); err != nil {
		s.log.WithError(err).Warn("inspector close failed")
	}
	return s.client.Close()
}
