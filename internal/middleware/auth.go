// Package middleware - gin middleware: логирование запросов и аутентификация владельца.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"storyteller-server/internal/model"

	"firebase.google.com/go/v4/auth"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const ownerIDKey = "owner_id"

// TokenVerifier проверяет bearer токен и возвращает id владельца.
// Ошибки: model.ErrTokenInvalid, model.ErrTokenExpired, model.ErrTokenMalformed.
type TokenVerifier func(ctx context.Context, token string) (string, error)

// Claims - клеймы JWT. id владельца берется из user_id, иначе из sub.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier проверяет HMAC-подписанные токены.
func JWTVerifier(secret []byte) TokenVerifier {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{
		jwt.SigningMethodHS256.Alg(),
		jwt.SigningMethodHS384.Alg(),
		jwt.SigningMethodHS512.Alg(),
	}))
	return func(_ context.Context, tokenString string) (string, error) {
		claims := &Claims{}
		token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
			return secret, nil
		})
		if err != nil {
			switch {
			case errors.Is(err, jwt.ErrTokenExpired):
				return "", model.ErrTokenExpired
			case errors.Is(err, jwt.ErrTokenMalformed):
				return "", model.ErrTokenMalformed
			default:
				return "", fmt.Errorf("%w: %v", model.ErrTokenInvalid, err)
			}
		}
		if !token.Valid {
			return "", model.ErrTokenInvalid
		}
		owner := claims.UserID
		if owner == "" {
			owner = claims.Subject
		}
		if owner == "" {
			return "", fmt.Errorf("%w: owner id missing", model.ErrTokenInvalid)
		}
		return owner, nil
	}
}

// IDTokenVerifier - часть *auth.Client, нужная для проверки Firebase ID токенов.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// FirebaseVerifier проверяет Firebase ID токены; владелец - UID.
func FirebaseVerifier(client IDTokenVerifier) TokenVerifier {
	return func(ctx context.Context, tokenString string) (string, error) {
		token, err := client.VerifyIDToken(ctx, tokenString)
		if err != nil {
			if auth.IsIDTokenExpired(err) {
				return "", model.ErrTokenExpired
			}
			return "", fmt.Errorf("%w: %v", model.ErrTokenInvalid, err)
		}
		if token.UID == "" {
			return "", fmt.Errorf("%w: uid missing", model.ErrTokenInvalid)
		}
		return token.UID, nil
	}
}

// Auth требует bearer токен и кладет id владельца в контекст gin.
// Для websocket допускается параметр access_token: браузер не задает заголовки при апгрейде.
func Auth(verifier TokenVerifier, logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("AuthMiddleware")
	return func(c *gin.Context) {
		tokenString, err := bearerToken(c)
		if err != nil {
			log.Warn("Missing or malformed authorization", zap.String("path", c.Request.URL.Path), zap.Error(err))
			abortUnauthorized(c, "Unauthorized: "+err.Error())
			return
		}

		owner, err := verifier(c.Request.Context(), tokenString)
		if err != nil {
			switch {
			case errors.Is(err, model.ErrTokenExpired):
				abortUnauthorized(c, "Unauthorized: Token expired")
			case errors.Is(err, model.ErrTokenInvalid), errors.Is(err, model.ErrTokenMalformed):
				abortUnauthorized(c, "Unauthorized: Invalid token")
			default:
				log.Error("Unexpected token verification error", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error during token verification"})
				return
			}
			log.Warn("Token verification failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
			return
		}

		c.Set(ownerIDKey, owner)
		log.Debug("Owner authorized", zap.String("ownerID", owner))
		c.Next()
	}
}

// OwnerID возвращает id аутентифицированного владельца или "".
func OwnerID(c *gin.Context) string {
	return c.GetString(ownerIDKey)
}

// SetOwnerID - для тестов обработчиков без проверки токена.
func SetOwnerID(c *gin.Context, owner string) {
	c.Set(ownerIDKey, owner)
}

func bearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
			if token := c.Query("access_token"); token != "" {
				return token, nil
			}
		}
		return "", errors.New("missing token")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", errors.New("malformed token header")
	}
	return parts[1], nil
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}
