package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/thereayou/wizard-rooms/internal/config"
	"github.com/thereayou/wizard-rooms/internal/database"
	"github.com/thereayou/wizard-rooms/internal/handlers"
	"github.com/thereayou/wizard-rooms/internal/metrics"
	"github.com/thereayou/wizard-rooms/internal/middleware"
	"github.com/thereayou/wizard-rooms/internal/models"
	"github.com/thereayou/wizard-rooms/internal/services"
	"github.com/thereayou/wizard-rooms/internal/store"
	ws "github.com/thereayou/wizard-rooms/internal/websocket"
	"github.com/thereayou/wizard-rooms/internal/worker"
	"github.com/thereayou/wizard-rooms/pkg/auth"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	cfg  config.Config
	log  *logrus.Logger
	http *http.Server

	Hub      *ws.Hub
	Rooms    *services.RoomService
	Presence *services.Presence
	Metrics  *metrics.Metrics

	redis     *redis.Client
	db        *database.Database
	tasks     *worker.TaskScheduler
	worker    *worker.Server
	relayStop context.CancelFunc
}

func NewServer(cfg config.Config, log *logrus.Logger) (*Server, error) {
	s := &Server{cfg: cfg, log: log}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.Metrics = metrics.New(reg)

	s.Hub = ws.NewHub(log, s.Metrics)
	s.Presence = services.NewPresence()
	s.Presence.OnChange = func(n int) {
		s.Metrics.SetActiveUsers(n)
		s.Hub.BroadcastAll(models.NewEvent(models.EventActiveUsers, "", models.ActiveUsersPayload{Count: n}))
	}

	roomStore, storeStatus, backend, err := s.openStore()
	if err != nil {
		return nil, err
	}

	var archiver services.Archiver
	var archives handlers.ArchiveReader
	if cfg.DatabaseURL != "" {
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Warn("transcript archive disabled")
		} else {
			s.db = db
			archiver, archives = db, db
			log.Info("postgres connected, transcript archive enabled")
		}
	}

	opts := services.RoomOptions{
		Tokens:      auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL),
		Archiver:    archiver,
		Metrics:     s.Metrics,
		Logger:      log,
		CloseGrace:  cfg.CloseGrace,
		ChatHistory: cfg.ChatHistory,
	}

	var redisOpt asynq.RedisClientOpt
	if s.redis != nil {
		o := s.redis.Options()
		redisOpt = asynq.RedisClientOpt{Addr: o.Addr, Username: o.Username, Password: o.Password, DB: o.DB, TLSConfig: o.TLSConfig}
		s.tasks = worker.NewTaskScheduler(redisOpt, log)
		opts.Scheduler = s.tasks
	}

	s.Rooms = services.NewRoomService(roomStore, s.Hub, s.Presence, opts)

	if s.redis != nil {
		s.worker = worker.NewServer(redisOpt, s.Rooms, log)
	}

	if s.redis != nil && cfg.RelayEnabled {
		ctx, cancel := context.WithCancel(context.Background())
		relay := ws.NewRedisRelay(s.redis, cfg.InstanceID, log)
		if err := relay.Start(ctx, s.Hub); err != nil {
			cancel()
			log.WithError(err).Warn("cross-instance relay disabled")
		} else {
			s.Hub.SetRelay(relay)
			s.relayStop = cancel
			log.WithField("instance", cfg.InstanceID).Info("cross-instance relay enabled")
		}
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(log))

	var ingestAuth *auth.JWTManager
	if cfg.IngestSecret != "" {
		ingestAuth = auth.NewJWTManager(cfg.IngestSecret, cfg.TokenTTL)
	}

	APIEndpoints(router, Endpoints{
		WS:         handlers.NewWebSocketHandler(s.Hub, handlers.NewMessageHandler(s.Rooms, s.Metrics, log), cfg.CORSOrigins, log),
		Rooms:      handlers.NewRoomHandler(s.Rooms, archives, log),
		Events:     handlers.NewEventHandler(s.Rooms, log),
		Health:     handlers.NewHealthHandler(s.Hub, s.Presence, storeStatus, backend),
		Metrics:    s.Metrics.Handler(),
		IngestAuth: ingestAuth,
		Redis:      s.redis,
		RedisKeys:  cfg.RedisKeyPrefix,
		RateLimit:  cfg.IngestRateLimit,
		Logger:     log,
	})

	s.http = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           corsHandler(cfg.CORSOrigins).Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// openStore выбирает хранилище: Redis с резервной памятью или только память
func (s *Server) openStore() (store.RoomStore, handlers.StoreStatus, string, error) {
	if s.cfg.RedisURL == "" {
		s.log.Info("REDIS_URL not set, rooms are kept in memory")
		return store.NewMemoryStore(), nil, "memory", nil
	}

	opts, err := redis.ParseURL(s.cfg.RedisURL)
	if err != nil {
		return nil, nil, "", fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	s.redis = redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		s.log.WithError(err).Warn("redis unreachable at startup, serving from memory until it recovers")
	}

	fallback := store.NewFallbackStore(store.NewRedisStore(s.redis, s.cfg.RedisKeyPrefix, s.cfg.RoomTTL), s.log)
	fallback.OnFallback = s.Metrics.StoreFallback
	return fallback, fallback, "redis", nil
}

func corsHandler(origins []string) *cors.Cors {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", handlers.RoomPasswordHeader},
		MaxAge:         600,
	})
}

// Run блокируется, пока HTTP сервер не остановлен
func (s *Server) Run() error {
	go s.Hub.Run()
	if s.worker != nil {
		if err := s.worker.Start(); err != nil {
			s.log.WithError(err).Warn("room expiry worker not running, closures wait for redis")
		}
	}

	s.log.WithField("port", s.cfg.Port).Info("server starting")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		s.log.WithError(err).Warn("http shutdown")
	}
	if s.worker != nil {
		s.worker.Shutdown()
	}
	if s.relayStop != nil {
		s.relayStop()
	}
	if s.tasks != nil {
		if err := s.tasks.Close(); err != nil {
			s.log.WithError(err).Warn("task scheduler close")
		}
	} else if t, ok := s.Rooms.Scheduler().(*services.TimerScheduler); ok {
		t.Stop()
	}
	s.Hub.Stop()
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	s.log.Info("server stopped")
}
