package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RateLimit ограничивает число запросов с одного IP в фиксированном окне window.
// Окно открывается первым запросом и не продлевается последующими.
// Счетчик живет в Redis; при ошибке Redis запрос пропускается.
func RateLimit(redisClient *redis.Client, keyPrefix string, maxRequests int, window time.Duration, log *logrus.Logger) gin.HandlerFunc {
	if redisClient == nil {
		panic("Redis client cannot be nil for RateLimit middleware")
	}
	if maxRequests <= 0 || window <= 0 {
		panic("RateLimit needs positive maxRequests and window")
	}

	entry := log.WithField("component", "ratelimit")

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := keyPrefix + "ratelimit:" + c.ClientIP()

		pipe := redisClient.Pipeline()
		incrCmd := pipe.Incr(ctx, key)
		ttlCmd := pipe.TTL(ctx, key)
		if _, err := pipe.Exec(ctx); err != nil {
			entry.WithError(err).Warn("rate limit check skipped")
			c.Next()
			return
		}

		count := incrCmd.Val()
		// TTL < 0: ключ без срока (новое окно или прошлый EXPIRE не дошел)
		if count == 1 || ttlCmd.Val() < 0 {
			if err := redisClient.Expire(ctx, key, window).Err(); err != nil {
				entry.WithError(err).WithField("key", key).Warn("failed to set rate limit window")
			}
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		if count > int64(maxRequests) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			c.Abort()
			return
		}
		c.Next()
	}
}
