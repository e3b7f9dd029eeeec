package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"novel-reader/internal/models"
)

// ContextKeyClaims — ключ, под которым проверенные claims лежат в контексте Gin.
const ContextKeyClaims = "authClaims"

// TokenVerifier определяет функцию, которая проверяет строку токена и
// возвращает claims. Ошибки: models.ErrTokenInvalid, models.ErrTokenExpired,
// models.ErrTokenMalformed.
type TokenVerifier func(ctx context.Context, tokenString string) (*models.Claims, error)

// Auth создаёт Gin middleware для проверки JWT. Извлекает bearer-токен,
// верифицирует его и кладёт claims в контекст запроса.
func Auth(verifier TokenVerifier, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.With(zap.String("path", c.Request.URL.Path))

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			log.Warn("Authorization header missing")
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized: Missing token"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			log.Warn("Malformed Authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized: Malformed token header"})
			return
		}

		claims, err := verifier(c.Request.Context(), parts[1])
		if err != nil {
			status := http.StatusUnauthorized
			msg := "Unauthorized: Invalid token"
			switch {
			case errors.Is(err, models.ErrTokenExpired):
				msg = "Unauthorized: Token expired"
			case errors.Is(err, models.ErrTokenMalformed), errors.Is(err, models.ErrTokenInvalid):
				// одно сообщение для обоих случаев, детали только в логе
			default:
				log.Error("Unexpected token verification error", zap.Error(err))
				status = http.StatusInternalServerError
				msg = "Internal server error during token verification"
			}
			c.AbortWithStatusJSON(status, models.ErrorResponse{Error: msg})
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// ClaimsFromContext достаёт проверенные claims из контекста Gin.
func ClaimsFromContext(c *gin.Context) (*models.Claims, bool) {
	val, ok := c.Get(ContextKeyClaims)
	if !ok {
		return nil, false
	}
	claims, ok := val.(*models.Claims)
	return claims, ok
}
