package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yourname/sleepstreak/internal"
	"github.com/yourname/sleepstreak/internal/config"
	"github.com/yourname/sleepstreak/internal/response"
	"github.com/yourname/sleepstreak/internal/storage"
)

// NewProvider picks the provider for cfg.AuthMode.
func NewProvider(ctx context.Context, cfg *config.Config, users storage.UserRepository, logger internal.Logger) (Provider, error) {
	switch cfg.AuthMode {
	case "local":
		return NewLocalAuthProvider(cfg.AuthToken, users, logger), nil
	case "firebase":
		if cfg.FirebaseProjectID == "" {
			return nil, errors.New("auth: FIREBASE_PROJECT_ID is required for firebase auth")
		}
		return NewRemoteAuthProvider(NewFirebaseVerifier(ctx, cfg.FirebaseProjectID), users, logger), nil
	default:
		return nil, errors.New("auth: unknown mode " + cfg.AuthMode)
	}
}

func AuthMiddleware(provider Provider, logger internal.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if strings.HasPrefix(header, "Bearer ") {
			token := strings.TrimPrefix(header, "Bearer ")
			token = strings.TrimSpace(token)
			user, err := provider.Authenticate(c.Request.Context(), token)
			if err == nil {
				c.Set("user", user)
				c.Next()
				return
			}
			if !errors.Is(err, ErrInvalidToken) {
				logger.Errorf("[request_id=%s] auth lookup failed: %v", c.GetString("request_id"), err)
				c.AbortWithStatusJSON(internal.StatusFor(err), response.NewAppError(internal.StatusFor(err), "Authentication unavailable"))
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.Unauthorized("Unauthorized"))
	}
}
