package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// devJWTSecret подставляется, когда JWT_SECRET не задан; в production запрещен
const devJWTSecret = "dev-secret-change-me"

// ErrInsecureJWTSecret - production запущен без собственного JWT_SECRET
var ErrInsecureJWTSecret = errors.New("JWT_SECRET must be set in production")

type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Пустой RedisURL - комнаты в памяти, закрытие по локальным таймерам
	RedisURL       string
	RedisKeyPrefix string
	RoomTTL        time.Duration
	RelayEnabled   bool
	InstanceID     string

	// Пустой DatabaseURL отключает архив стенограмм
	DatabaseURL string

	JWTSecret    string
	TokenTTL     time.Duration
	IngestSecret string

	// Лимит POST /event на IP за минуту; работает только с Redis
	IngestRateLimit int

	CloseGrace  time.Duration
	ChatHistory int
	CORSOrigins []string
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// UsesDevJWTSecret - JWT_SECRET не задан и токены подписываются запасным ключом
func (c Config) UsesDevJWTSecret() bool {
	return c.JWTSecret == "" || c.JWTSecret == devJWTSecret
}

// Validate проверяет настройки, без которых сервер нельзя запускать
func (c Config) Validate() error {
	if c.IsProduction() && c.UsesDevJWTSecret() {
		return ErrInsecureJWTSecret
	}
	return nil
}

// Load читает .env.local или .env, затем переменные окружения
func Load() Config {
	if err := godotenv.Load(".env.local"); err != nil {
		if err := godotenv.Load(); err != nil {
			logrus.Debug(".env not found, using environment variables")
		}
	}
	return FromEnv()
}

// FromEnv собирает конфигурацию только из окружения
func FromEnv() Config {
	return Config{
		Port:            getEnv("PORT", "8080"),
		Env:             getEnv("APP_ENV", "development"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		RedisURL:        os.Getenv("REDIS_URL"),
		RedisKeyPrefix:  os.Getenv("REDIS_KEY_PREFIX"),
		RoomTTL:         getDuration("ROOM_TTL", 24*time.Hour),
		RelayEnabled:    getBool("RELAY_ENABLED", false),
		InstanceID:      getEnv("INSTANCE_ID", uuid.New().String()),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		JWTSecret:       getEnv("JWT_SECRET", devJWTSecret),
		TokenTTL:        getDuration("TOKEN_TTL", 24*time.Hour),
		IngestSecret:    os.Getenv("INGEST_SECRET"),
		IngestRateLimit: getInt("INGEST_RATE_LIMIT", 120),
		CloseGrace:      getDuration("CLOSE_GRACE", 30*time.Second),
		ChatHistory:     getInt("CHAT_HISTORY", 50),
		CORSOrigins:     splitCSV(os.Getenv("CORS_ORIGINS")),
	}
}

// NewLogger настраивает logrus: JSON в production, текст в остальных окружениях
func NewLogger(cfg Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if cfg.IsProduction() {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("value", cfg.LogLevel).Warn("unknown LOG_LEVEL, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		logrus.WithFields(logrus.Fields{"key": key, "value": v}).Warn("invalid duration, using default")
		return def
	}
	return d
}

func getInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		logrus.WithFields(logrus.Fields{"key": key, "value": v}).Warn("invalid integer, using default")
		return def
	}
	return i
}

func getBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logrus.WithFields(logrus.Fields{"key": key, "value": v}).Warn("invalid boolean, using default")
		return def
	}
	return b
}

func splitCSV(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
