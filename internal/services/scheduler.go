package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Scheduler откладывает удаление комнаты на grace-период
type Scheduler interface {
	Schedule(ctx context.Context, roomCode string, generation int64, delay time.Duration) error
	Cancel(roomCode string)
}

type ExpireFunc func(ctx context.Context, roomCode string, generation int64) error

// TimerScheduler держит не больше одного таймера на комнату:
// повторный Schedule заменяет предыдущий таймер.
type TimerScheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	expire ExpireFunc
	log    *logrus.Entry
}

func NewTimerScheduler(expire ExpireFunc, log *logrus.Logger) *TimerScheduler {
	return &TimerScheduler{
		timers: make(map[string]*time.Timer),
		expire: expire,
		log:    log.WithField("component", "scheduler"),
	}
}

func (s *TimerScheduler) Schedule(_ context.Context, roomCode string, generation int64, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[roomCode]; ok {
		t.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.timers[roomCode] == t {
			delete(s.timers, roomCode)
		}
		s.mu.Unlock()

		if err := s.expire(context.Background(), roomCode, generation); err != nil {
			s.log.WithError(err).WithField("room", roomCode).Error("room expiry failed")
		}
	})
	s.timers[roomCode] = t
	return nil
}

func (s *TimerScheduler) Cancel(roomCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[roomCode]; ok {
		t.Stop()
		delete(s.timers, roomCode)
	}
}

// Pending возвращает число запланированных удалений
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop отменяет все таймеры
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for code, t := range s.timers {
		t.Stop()
		delete(s.timers, code)
	}
}
