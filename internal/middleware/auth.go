package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thereayou/wizard-rooms/pkg/auth"
)

// ProducerKey - subject токена внешнего продюсера в gin.Context
const ProducerKey = "producer"

// IngestAuth проверяет bearer JWT продюсера. При nil-менеджере пропускает всех.
func IngestAuth(jwtManager *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if jwtManager == nil {
			c.Next()
			return
		}

		token, err := auth.ExtractTokenFromHeader(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
			c.Abort()
			return
		}

		claims, err := jwtManager.Verify(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set(ProducerKey, claims.Subject)
		c.Next()
	}
}
